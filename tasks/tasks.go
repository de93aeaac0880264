package tasks

import (
	"errors"
	"time"

	"github.com/vinayprograms/dispatchkit/labels"
)

// Common errors.
var (
	// ErrTaskNotFound indicates the requested task does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTerminalTask indicates the task is completed or failed and
	// accepts no further transitions.
	ErrTerminalTask = errors.New("task is terminal")

	// ErrInvalidTask indicates the task is invalid (missing required fields).
	ErrInvalidTask = errors.New("invalid task")

	// ErrInvalidAgentID indicates the agent ID is invalid.
	ErrInvalidAgentID = errors.New("invalid agent ID")

	// ErrTaskNotRunnable indicates the task is not in the assigned state
	// and may not begin execution.
	ErrTaskNotRunnable = errors.New("task is not runnable")

	// ErrStoreClosed indicates the underlying repository has been closed.
	ErrStoreClosed = errors.New("repository closed")
)

// Status represents the current state of a task.
type Status string

const (
	// StatusPending indicates the task is waiting for an agent.
	StatusPending Status = "pending"

	// StatusBlocked indicates the task has an incomplete dependency.
	StatusBlocked Status = "blocked"

	// StatusAssigned indicates an agent holds the claim and the task is
	// run-ready.
	StatusAssigned Status = "assigned"

	// StatusQueued indicates the task holds a claim but lost its running
	// slot to a concurrency ceiling or a retry backoff.
	StatusQueued Status = "queued"

	// StatusRunning indicates the owning agent started execution.
	StatusRunning Status = "running"

	// StatusPaused indicates the task was suspended by a caller.
	StatusPaused Status = "paused"

	// StatusCompleted indicates the task finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the task failed permanently.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders claim-holding states for the concurrency sweep.
// Assigned candidates keep their slot ahead of queued ones.
func (s Status) rank() int {
	switch s {
	case StatusAssigned:
		return 0
	case StatusQueued:
		return 1
	default:
		return 2
	}
}

// Task represents a unit of work scheduled against a session.
type Task struct {
	// ID is the unique identifier for the task.
	// Generated automatically on creation if empty.
	ID string

	// SessionID is the session this task belongs to.
	SessionID string

	// Title is a short human-readable name. Synthesized from Intent or
	// Description when absent.
	Title string

	// Intent is the caller-declared purpose (e.g. "review", "implement").
	Intent string

	// Description is the full instruction text.
	Description string

	// Scope is a free-form resource scope. Scopes in the configured
	// serialized set admit at most one running task at a time.
	Scope string

	// Priority orders tasks within a scheduling pass.
	Priority labels.Priority

	// Labels is the prefixed-string metadata channel (role:, capability:,
	// tool:, assist_agent:, agent_exclude:, ...).
	Labels []string

	// Status is the current lifecycle state.
	Status Status

	// AssignedTo is the agent holding the claim, empty if unclaimed.
	// At most one agent owns a task at a time.
	AssignedTo string

	// ParentTaskID groups sibling tasks for the parallel-siblings ceiling.
	ParentTaskID string

	// Dependencies lists task IDs that must complete first. The set forms
	// a DAG; self-references are filtered on write, cycles are the
	// caller's responsibility.
	Dependencies []string

	// RunAfter gates re-attempts after a timeout recovery.
	RunAfter *time.Time

	// RetryCount is the number of timeout recoveries so far.
	RetryCount int

	// MaxRetries caps timeout recoveries. Zero means the configured
	// default.
	MaxRetries int

	// TimeoutSeconds is the per-task run deadline. Zero means the
	// configured default.
	TimeoutSeconds int

	// LastStartedAt is when the task last entered execution.
	LastStartedAt *time.Time

	// CreatedAt is when the task was created.
	CreatedAt time.Time

	// UpdatedAt is when the task was last mutated.
	UpdatedAt time.Time

	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time

	// Result is the output recorded on completion.
	Result string

	// FailureReason explains a failed or blocked-by-failure state.
	FailureReason string
}

// Clone creates a deep copy of the task.
func (t *Task) Clone() *Task {
	clone := *t

	if t.Labels != nil {
		clone.Labels = make([]string, len(t.Labels))
		copy(clone.Labels, t.Labels)
	}
	if t.Dependencies != nil {
		clone.Dependencies = make([]string, len(t.Dependencies))
		copy(clone.Dependencies, t.Dependencies)
	}
	if t.RunAfter != nil {
		at := *t.RunAfter
		clone.RunAfter = &at
	}
	if t.LastStartedAt != nil {
		at := *t.LastStartedAt
		clone.LastStartedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		clone.CompletedAt = &at
	}

	return &clone
}

// Timeout returns the task's run deadline, falling back to def when the
// task carries none.
func (t *Task) Timeout(def time.Duration) time.Duration {
	if t.TimeoutSeconds > 0 {
		return time.Duration(t.TimeoutSeconds) * time.Second
	}
	return def
}

// DependsOn reports whether id is a direct dependency of the task.
func (t *Task) DependsOn(id string) bool {
	for _, dep := range t.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}
