package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryRepository is an in-memory Repository for tests and
// single-process deployments. All access is serialized through one
// mutex, so WithTransaction is a true atomic read-modify-write.
type MemoryRepository struct {
	mu     sync.Mutex
	store  map[string]*Task
	closed atomic.Bool
	now    func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		store: make(map[string]*Task),
		now:   time.Now,
	}
}

// Create persists a new task.
func (r *MemoryRepository) Create(ctx context.Context, task *Task) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.create(task)
}

// Get retrieves a task by ID.
func (r *MemoryRepository) Get(ctx context.Context, id string) (*Task, error) {
	if r.closed.Load() {
		return nil, ErrStoreClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

// Query returns all tasks matching the filter.
func (r *MemoryRepository) Query(ctx context.Context, filter Filter) ([]*Task, error) {
	if r.closed.Load() {
		return nil, ErrStoreClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.query(filter)
}

// Update applies a partial patch to the task.
func (r *MemoryRepository) Update(ctx context.Context, id string, patch Patch) (*Task, error) {
	if r.closed.Load() {
		return nil, ErrStoreClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.update(id, patch)
}

// WithTransaction runs fn while holding the store lock. Writes are
// applied to a staging copy and committed only when fn succeeds.
func (r *MemoryRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	staged := make(map[string]*Task, len(r.store))
	for id, t := range r.store {
		staged[id] = t.Clone()
	}

	tx := &memoryTx{repo: r, staged: staged}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.store = staged
	return nil
}

// Close releases the repository. Further calls fail with ErrStoreClosed.
func (r *MemoryRepository) Close() error {
	r.closed.Store(true)
	return nil
}

// Unlocked internals shared by the repository and its transactions.

func (r *MemoryRepository) create(task *Task) error {
	if task.ID == "" {
		return ErrInvalidTask
	}
	if _, exists := r.store[task.ID]; exists {
		return fmt.Errorf("task %s: %w", task.ID, ErrInvalidTask)
	}

	clone := task.Clone()
	now := r.now()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	r.store[clone.ID] = clone

	*task = *clone.Clone()
	return nil
}

func (r *MemoryRepository) get(id string) (*Task, error) {
	t, ok := r.store[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (r *MemoryRepository) query(filter Filter) ([]*Task, error) {
	var out []*Task
	for _, t := range r.store {
		if filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out, nil
}

func (r *MemoryRepository) update(id string, patch Patch) (*Task, error) {
	t, ok := r.store[id]
	if !ok {
		return nil, ErrTaskNotFound
	}

	patch.apply(t)
	t.UpdatedAt = r.now()
	return t.Clone(), nil
}

// memoryTx is the transactional view handed to WithTransaction callbacks.
// It operates on the staging copy while the parent lock is held.
type memoryTx struct {
	repo   *MemoryRepository
	staged map[string]*Task
}

func (tx *memoryTx) Create(ctx context.Context, task *Task) error {
	if task.ID == "" {
		return ErrInvalidTask
	}
	if _, exists := tx.staged[task.ID]; exists {
		return fmt.Errorf("task %s: %w", task.ID, ErrInvalidTask)
	}

	clone := task.Clone()
	now := tx.repo.now()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	tx.staged[clone.ID] = clone

	*task = *clone.Clone()
	return nil
}

func (tx *memoryTx) Get(ctx context.Context, id string) (*Task, error) {
	t, ok := tx.staged[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (tx *memoryTx) Query(ctx context.Context, filter Filter) ([]*Task, error) {
	var out []*Task
	for _, t := range tx.staged {
		if filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out, nil
}

func (tx *memoryTx) Update(ctx context.Context, id string, patch Patch) (*Task, error) {
	t, ok := tx.staged[id]
	if !ok {
		return nil, ErrTaskNotFound
	}

	patch.apply(t)
	t.UpdatedAt = tx.repo.now()
	return t.Clone(), nil
}

// WithTransaction inside a transaction reuses the same staging view.
func (tx *memoryTx) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	return fn(ctx, tx)
}

func (tx *memoryTx) Close() error {
	return nil
}

// sortTasks orders by CreatedAt ascending, breaking ties by ID so query
// results are deterministic.
func sortTasks(out []*Task) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}
