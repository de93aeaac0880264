package scheduler

import (
	"time"

	"github.com/vinayprograms/dispatchkit/bus"
)

// EventType tags a scheduler event.
type EventType string

const (
	// EventQueued reports a task left waiting for a future pass.
	EventQueued EventType = "queued"

	// EventAssigned reports a successful claim.
	EventAssigned EventType = "assigned"

	// EventReassigned reports a claim released for rescheduling.
	EventReassigned EventType = "reassigned"

	// EventSkipped reports one candidate rejected during an attempt loop.
	EventSkipped EventType = "skipped"

	// EventAgentOffline reports an agent dropping out of the pool.
	EventAgentOffline EventType = "agent_offline"

	// EventAssistRequired reports a task needing a missing specialization.
	EventAssistRequired EventType = "assist_required"

	// EventHumanRequired reports a task needing human takeover.
	EventHumanRequired EventType = "human_required"
)

// Reason codes carried by events.
const (
	ReasonAssistTargetUnavailable = "assist_target_unavailable"
	ReasonNoAvailableAgent        = "no_available_agent"
	ReasonNoAgentReady            = "no_agent_ready"
	ReasonAgentUnavailable        = "agent_unavailable"
	ReasonClaimFailed             = "claim_failed"
	ReasonAgentOffline            = "agent_offline"
)

// Event is one scheduling outcome, published on the sched.events
// subject and handed to the configured sink.
type Event struct {
	Type      EventType         `json:"type"`
	TaskID    string            `json:"task_id,omitempty"`
	AgentID   string            `json:"agent_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	At        time.Time         `json:"at"`
}

// EventSink receives scheduler events. Implementations must not block.
type EventSink interface {
	Emit(event Event)
}

// BusSink publishes events as JSON on the scheduler events subject.
type BusSink struct {
	bus bus.FeedBus
}

// NewBusSink creates a sink over the given bus.
func NewBusSink(b bus.FeedBus) *BusSink {
	return &BusSink{bus: b}
}

// Emit publishes the event, dropping it if the bus refuses.
func (s *BusSink) Emit(event Event) {
	_ = bus.PublishJSON(s.bus, bus.SubjectSchedulerEvents, event)
}

// CollectorSink records events in memory for tests.
type CollectorSink struct {
	events []Event
}

// NewCollectorSink creates an empty collector.
func NewCollectorSink() *CollectorSink {
	return &CollectorSink{}
}

// Emit appends the event.
func (s *CollectorSink) Emit(event Event) {
	s.events = append(s.events, event)
}

// Events returns the recorded events in emission order.
func (s *CollectorSink) Events() []Event {
	return s.events
}
