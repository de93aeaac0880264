package tasks

// Phase is the coarse progress view exposed to older consumers that
// predate the status machine. It is a pure projection of Task; nothing
// in the engine transitions phases directly.
type Phase string

const (
	PhasePending      Phase = "pending"
	PhaseActive       Phase = "active"
	PhaseBlocked      Phase = "blocked"
	PhaseNeedsConfirm Phase = "needs-confirm"
	PhaseReassigning  Phase = "reassigning"
	PhaseFinalizing   Phase = "finalizing"
	PhaseFailed       Phase = "failed"
	PhaseDone         Phase = "done"
)

// LegacyPhase projects a task onto the legacy phase vocabulary.
func LegacyPhase(t Task) Phase {
	switch t.Status {
	case StatusCompleted:
		return PhaseDone
	case StatusFailed:
		return PhaseFailed
	case StatusBlocked:
		return PhaseBlocked
	case StatusPaused:
		return PhaseNeedsConfirm
	case StatusQueued:
		return PhaseReassigning
	case StatusRunning:
		if t.Result != "" {
			// Output recorded but completion bookkeeping still pending.
			return PhaseFinalizing
		}
		return PhaseActive
	case StatusAssigned:
		return PhaseActive
	default:
		return PhasePending
	}
}
