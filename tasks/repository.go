package tasks

import (
	"context"
	"time"

	"github.com/vinayprograms/dispatchkit/labels"
)

// Filter selects tasks in Query. Zero fields match everything.
type Filter struct {
	// SessionID restricts to one session.
	SessionID string

	// Statuses restricts to the listed states.
	Statuses []Status

	// AssignedTo restricts to one agent's claims.
	AssignedTo string

	// ParentTaskID restricts to children of one parent.
	ParentTaskID string
}

// Matches reports whether the task satisfies the filter.
func (f Filter) Matches(t *Task) bool {
	if f.SessionID != "" && t.SessionID != f.SessionID {
		return false
	}
	if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
		return false
	}
	if f.ParentTaskID != "" && t.ParentTaskID != f.ParentTaskID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Patch is a partial task update. Nil fields are left unchanged.
type Patch struct {
	Title         *string
	Description   *string
	Priority      *labels.Priority
	Labels        *[]string
	Status        *Status
	AssignedTo    *string
	Dependencies  *[]string
	RetryCount    *int
	Result        *string
	FailureReason *string

	// RunAfter replaces the re-attempt gate when set; ClearRunAfter
	// removes it.
	RunAfter      *time.Time
	ClearRunAfter bool

	// LastStartedAt replaces the execution start stamp when set.
	LastStartedAt *time.Time

	// CompletedAt replaces the terminal stamp when set.
	CompletedAt *time.Time
}

// apply mutates t in place with the patch fields. UpdatedAt is stamped
// by the repository, not here.
func (p Patch) apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Labels != nil {
		t.Labels = append([]string(nil), (*p.Labels)...)
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.AssignedTo != nil {
		t.AssignedTo = *p.AssignedTo
	}
	if p.Dependencies != nil {
		t.Dependencies = append([]string(nil), (*p.Dependencies)...)
	}
	if p.RetryCount != nil {
		t.RetryCount = *p.RetryCount
	}
	if p.Result != nil {
		t.Result = *p.Result
	}
	if p.FailureReason != nil {
		t.FailureReason = *p.FailureReason
	}
	if p.ClearRunAfter {
		t.RunAfter = nil
	} else if p.RunAfter != nil {
		at := *p.RunAfter
		t.RunAfter = &at
	}
	if p.LastStartedAt != nil {
		at := *p.LastStartedAt
		t.LastStartedAt = &at
	}
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		t.CompletedAt = &at
	}
}

// Repository is the durable store of task records.
type Repository interface {
	// Create persists a new task. Returns ErrInvalidTask if the ID is
	// empty and an error if the ID already exists.
	Create(ctx context.Context, task *Task) error

	// Get retrieves a task by ID.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id string) (*Task, error)

	// Query returns all tasks matching the filter, ordered by CreatedAt
	// ascending then ID.
	Query(ctx context.Context, filter Filter) ([]*Task, error)

	// Update applies a partial patch to the task and returns the updated
	// record. Returns ErrTaskNotFound if the task does not exist.
	Update(ctx context.Context, id string, patch Patch) (*Task, error)

	// WithTransaction runs fn against a transactional view of the
	// repository. Reads and writes inside fn are atomic with respect to
	// every other caller; an error from fn rolls the writes back.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error

	// Close releases resources held by the repository.
	Close() error
}
