package tasks

import (
	"time"

	"github.com/vinayprograms/dispatchkit/bus"
)

// Snapshot is the full task list for one session, published on the
// session's tasks.changed subject after every mutation. Consumers
// rebuild their working state from it rather than applying deltas.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	Tasks     []Task    `json:"tasks"`
	At        time.Time `json:"at"`
}

// Backlog is the per-session aggregate published on the tasks.backlog
// subject alongside every snapshot.
type Backlog struct {
	SessionID string    `json:"session_id"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Running   int       `json:"running"`
	Blocked   int       `json:"blocked"`
	Pending   int       `json:"pending"`
	At        time.Time `json:"at"`
}

// buildSnapshot assembles the feed payloads from a session's tasks.
func buildSnapshot(sessionID string, list []*Task, at time.Time) (Snapshot, Backlog) {
	snap := Snapshot{SessionID: sessionID, At: at}
	backlog := Backlog{SessionID: sessionID, At: at}

	for _, t := range list {
		snap.Tasks = append(snap.Tasks, *t.Clone())
		backlog.Total++
		switch t.Status {
		case StatusCompleted:
			backlog.Completed++
		case StatusRunning:
			backlog.Running++
		case StatusBlocked:
			backlog.Blocked++
		case StatusPending:
			backlog.Pending++
		}
	}
	return snap, backlog
}

// publishSession pushes the snapshot and backlog feeds for a session.
// Feed errors are reported to the caller's logger, never to the mutation
// path; a full snapshot follows on the next mutation anyway.
func publishSession(b bus.FeedBus, sessionID string, list []*Task, at time.Time) error {
	snap, backlog := buildSnapshot(sessionID, list, at)
	if err := bus.PublishJSON(b, bus.SubjectTaskChanged(sessionID), snap); err != nil {
		return err
	}
	return bus.PublishJSON(b, bus.SubjectBacklog(sessionID), backlog)
}
