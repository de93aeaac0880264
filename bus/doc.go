// Package bus provides the feed fabric connecting the scheduling components.
//
// # Overview
//
// The scheduling core publishes three feeds: task snapshots, backlog
// summaries and scheduler events. Components never share a global emitter;
// each receives a FeedBus at construction, so tests can wire an isolated
// in-memory bus.
//
// # Available Implementations
//
//   - NATSBus: production messaging over NATS for multi-process deployments
//   - MemoryBus: in-memory implementation for testing and single-process use
//
// # Subjects
//
// Feeds ride on hierarchical subjects:
//
//	tasks.changed.<session>   full task snapshot list after every mutation
//	tasks.backlog.<session>   per-session aggregate counts
//	sched.events              scheduler decision events
//
// Delivery is non-blocking: a subscriber that falls behind loses messages
// rather than stalling the publisher. Feed consumers must treat every
// message as a full snapshot, never as a delta.
//
// # Usage
//
//	b := bus.NewMemoryBus(bus.DefaultConfig())
//	sub, _ := b.Subscribe(bus.SubjectTaskChanged("session-1"))
//	for msg := range sub.Messages() {
//	    var snap tasks.Snapshot
//	    bus.Decode(msg, &snap)
//	}
package bus
