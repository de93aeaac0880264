package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySink collects notifications in memory. Useful for tests and
// single-process deployments.
type MemorySink struct {
	mu     sync.Mutex
	sent   []Notification
	closed bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Send records the notification.
func (s *MemorySink) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.sent = append(s.sent, n)
	return nil
}

// All returns a copy of every recorded notification.
func (s *MemorySink) All() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Notification, len(s.sent))
	copy(out, s.sent)
	return out
}

// Close stops the sink. Further sends fail with ErrClosed.
func (s *MemorySink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// MemoryGateway stores takeover approvals in memory.
type MemoryGateway struct {
	mu        sync.Mutex
	approvals map[string]Approval
	now       func() time.Time
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		approvals: make(map[string]Approval),
		now:       time.Now,
	}
}

// RequestTakeover files a pending approval for the task. If a pending
// approval already exists for the same task, it is returned unchanged
// rather than duplicated.
func (g *MemoryGateway) RequestTakeover(ctx context.Context, taskID, sessionID string, req TakeoverRequest) (*Approval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, a := range g.approvals {
		if a.TaskID == taskID && a.Status == ApprovalPending {
			existing := a
			return &existing, nil
		}
	}

	a := Approval{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		SessionID:   sessionID,
		Reason:      req.Reason,
		RequestedBy: req.RequestedBy,
		ApproverID:  req.ApproverID,
		Status:      ApprovalPending,
		CreatedAt:   g.now().UTC(),
	}
	g.approvals[a.ID] = a
	return &a, nil
}

// All returns approvals matching the filter, unordered.
func (g *MemoryGateway) All(ctx context.Context, filter ApprovalFilter) ([]Approval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var out []Approval
	for _, a := range g.approvals {
		if filter.TaskID != "" && a.TaskID != filter.TaskID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Resolve sets an approval's status. Returns false if the approval
// does not exist.
func (g *MemoryGateway) Resolve(id string, status ApprovalStatus) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.approvals[id]
	if !ok {
		return false
	}
	a.Status = status
	g.approvals[id] = a
	return true
}
