package registry

import (
	"sync"
	"time"
)

// MemoryDirectory is an in-memory implementation of Directory.
// Suitable for testing and single-process deployments.
type MemoryDirectory struct {
	mu       sync.RWMutex
	agents   map[string]Agent
	watchers []chan Event
	closed   bool

	now func() time.Time // test hook
}

// NewMemoryDirectory creates a new in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		agents: make(map[string]Agent),
		now:    time.Now,
	}
}

// All returns a snapshot of every agent record.
func (d *MemoryDirectory) All() ([]Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}

	out := make([]Agent, 0, len(d.agents))
	for _, a := range d.agents {
		out = append(out, *a.Clone())
	}
	return out, nil
}

// Get retrieves a specific agent by ID.
func (d *MemoryDirectory) Get(id string) (*Agent, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}

	a, exists := d.agents[id]
	if !exists {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// Put adds or replaces an agent record.
func (d *MemoryDirectory) Put(agent Agent) error {
	if err := ValidateAgent(agent); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	now := d.now()
	if agent.StatusUpdatedAt.IsZero() {
		agent.StatusUpdatedAt = now
	}
	if agent.LastHeartbeatAt.IsZero() {
		agent.LastHeartbeatAt = now
	}

	_, exists := d.agents[agent.ID]
	d.agents[agent.ID] = *agent.Clone()

	eventType := EventAdded
	if exists {
		eventType = EventUpdated
	}
	d.notifyWatchers(Event{Type: eventType, Agent: agent})

	return nil
}

// Remove deletes an agent record.
func (d *MemoryDirectory) Remove(id string) error {
	if id == "" {
		return ErrInvalidID
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	agent, exists := d.agents[id]
	if !exists {
		return ErrNotFound
	}

	delete(d.agents, id)
	d.notifyWatchers(Event{Type: EventRemoved, Agent: agent})

	return nil
}

// SetStatus updates an agent's live status.
func (d *MemoryDirectory) SetStatus(id string, status Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	agent, exists := d.agents[id]
	if !exists {
		return ErrNotFound
	}

	if agent.Status == status {
		return nil
	}

	agent.Status = status
	agent.StatusUpdatedAt = d.now()
	d.agents[id] = agent
	d.notifyWatchers(Event{Type: EventUpdated, Agent: agent})

	return nil
}

// Heartbeat records that the agent reported in.
func (d *MemoryDirectory) Heartbeat(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	agent, exists := d.agents[id]
	if !exists {
		return ErrNotFound
	}

	now := d.now()
	agent.LastHeartbeatAt = now
	if agent.Status == StatusOffline {
		agent.Status = StatusOnline
		agent.StatusUpdatedAt = now
	}
	d.agents[id] = agent
	d.notifyWatchers(Event{Type: EventUpdated, Agent: agent})

	return nil
}

// Watch returns a channel of directory events.
func (d *MemoryDirectory) Watch() (<-chan Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 64)
	d.watchers = append(d.watchers, ch)
	return ch, nil
}

// Close shuts down the directory and closes all watcher channels.
func (d *MemoryDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	for _, ch := range d.watchers {
		close(ch)
	}
	d.watchers = nil

	return nil
}

// notifyWatchers sends an event to all watchers without blocking.
// Callers must hold d.mu.
func (d *MemoryDirectory) notifyWatchers(event Event) {
	for _, ch := range d.watchers {
		select {
		case ch <- event:
		default:
			// Watcher is slow, drop the event.
		}
	}
}
