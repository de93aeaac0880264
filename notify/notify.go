package notify

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed = errors.New("notify closed")
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a human-facing message about a scheduling outcome.
type Notification struct {
	// SessionID scopes the notification to a session.
	SessionID string

	// Level is the severity.
	Level Level

	// Title is a short summary line.
	Title string

	// Message is the full text.
	Message string

	// Metadata carries structured context (task id, reason codes, ...).
	Metadata map[string]string

	// CreatedAt is when the notification was produced.
	CreatedAt time.Time
}

// Sink delivers notifications to a human-facing channel.
type Sink interface {
	// Send delivers a notification. Implementations must not block
	// scheduling; slow channels should buffer or drop.
	Send(ctx context.Context, n Notification) error
}

// ApprovalStatus is the lifecycle state of a takeover approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalGranted  ApprovalStatus = "granted"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is a human takeover request for a stuck task.
type Approval struct {
	// ID uniquely identifies the approval.
	ID string

	// TaskID is the task the takeover concerns.
	TaskID string

	// SessionID scopes the approval.
	SessionID string

	// Reason explains why the takeover was requested.
	Reason string

	// RequestedBy identifies the requesting component or agent.
	RequestedBy string

	// ApproverID is the human expected to decide, if known.
	ApproverID string

	// Status is the current lifecycle state.
	Status ApprovalStatus

	// CreatedAt is when the request was made.
	CreatedAt time.Time
}

// ApprovalFilter selects approvals. Zero fields match everything.
type ApprovalFilter struct {
	TaskID string
	Status ApprovalStatus
}

// TakeoverRequest carries the context for requesting a task takeover.
type TakeoverRequest struct {
	Reason      string
	RequestedBy string
	ApproverID  string
}

// Gateway manages human takeover approvals.
type Gateway interface {
	// RequestTakeover files a takeover approval for a task.
	// Returns the created approval, or nil if the gateway declined
	// to create one (e.g. governance disabled).
	RequestTakeover(ctx context.Context, taskID, sessionID string, req TakeoverRequest) (*Approval, error)

	// All returns approvals matching the filter.
	All(ctx context.Context, filter ApprovalFilter) ([]Approval, error)
}

// HasPending reports whether a pending approval already exists for the task.
// Used to keep takeover requests idempotent under repeated engine failures.
func HasPending(ctx context.Context, g Gateway, taskID string) (bool, error) {
	approvals, err := g.All(ctx, ApprovalFilter{TaskID: taskID, Status: ApprovalPending})
	if err != nil {
		return false, err
	}
	return len(approvals) > 0, nil
}
