package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/dispatchkit/bus"
	"github.com/vinayprograms/dispatchkit/config"
	schederrors "github.com/vinayprograms/dispatchkit/errors"
	"github.com/vinayprograms/dispatchkit/logging"
	"github.com/vinayprograms/dispatchkit/metrics"
	"github.com/vinayprograms/dispatchkit/registry"
	"github.com/vinayprograms/dispatchkit/tasks"
)

// Common errors.
var (
	ErrPoolClosed    = errors.New("engine pool closed")
	ErrAgentDisabled = errors.New("agent is disabled")
	ErrNoRuntime     = errors.New("agent has no usable runtime config")
)

// handle tracks one live engine and its pending eviction, if any.
type handle struct {
	engine    Engine
	evict     *time.Timer
	idleSince time.Time
}

// Pool lazily starts one engine per agent and evicts idle ones.
type Pool struct {
	dir      registry.Directory
	cfg      config.Config
	log      *logging.Logger
	met      *metrics.Metrics
	breakers *BreakerRegistry
	retry    RetryConfig

	mu       sync.Mutex
	starters map[string]Starter
	engines  map[string]*handle
	closed   bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithStarter registers an engine starter for a runtime provider name.
func WithStarter(provider string, starter Starter) PoolOption {
	return func(p *Pool) {
		p.starters[strings.ToLower(provider)] = starter
	}
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(log *logging.Logger) PoolOption {
	return func(p *Pool) {
		p.log = log.WithComponent("engine")
	}
}

// WithPoolMetrics enables Prometheus instrumentation.
func WithPoolMetrics(m *metrics.Metrics) PoolOption {
	return func(p *Pool) {
		p.met = m
	}
}

// WithRetryConfig overrides the start retry policy.
func WithRetryConfig(rc RetryConfig) PoolOption {
	return func(p *Pool) {
		p.retry = rc
	}
}

// NewPool creates an engine pool over the agent directory.
func NewPool(dir registry.Directory, cfg config.Config, opts ...PoolOption) *Pool {
	p := &Pool{
		dir:      dir,
		cfg:      cfg,
		log:      logging.New().WithComponent("engine"),
		retry:    DefaultRetryConfig(),
		starters: make(map[string]Starter),
		engines:  make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.breakers = NewBreakerRegistry(p.log)
	return p
}

// Ensure returns the agent's engine, starting one on first use. A
// pending eviction is canceled. On start failure the agent is marked
// offline in the directory and the error returned.
func (p *Pool) Ensure(ctx context.Context, agent registry.Agent) (Engine, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if h, ok := p.engines[agent.ID]; ok {
		p.cancelEvictionLocked(h)
		p.mu.Unlock()
		return h.engine, nil
	}

	if !agent.Enabled {
		p.mu.Unlock()
		return nil, ErrAgentDisabled
	}
	if !agent.Runtime.Usable() {
		p.mu.Unlock()
		return nil, ErrNoRuntime
	}
	starter, ok := p.starters[strings.ToLower(agent.Runtime.Provider)]
	if !ok {
		p.mu.Unlock()
		return nil, schederrors.Newf(schederrors.ErrCodeEngineStart,
			"no starter registered for provider %q", agent.Runtime.Provider)
	}
	cb := p.breakers.Get(agent.ID)
	retry := p.retry
	p.mu.Unlock()

	eng, err := startWithResilience(ctx, starter, agent, cb, retry)
	if err != nil {
		if serr := p.dir.SetStatus(agent.ID, registry.StatusOffline); serr != nil {
			p.log.Warn("offline mark failed", map[string]interface{}{
				"agent_id": agent.ID,
				"error":    serr.Error(),
			})
		}
		return nil, schederrors.AgentUnavailable(agent.ID, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		eng.Stop()
		return nil, ErrPoolClosed
	}
	// A concurrent Ensure may have won the start race.
	if h, ok := p.engines[agent.ID]; ok {
		p.cancelEvictionLocked(h)
		p.mu.Unlock()
		eng.Stop()
		return h.engine, nil
	}
	p.engines[agent.ID] = &handle{engine: eng}
	p.mu.Unlock()

	p.met.EngineStarted()
	p.log.EngineStarted(agent.ID)
	return eng, nil
}

// EnsureEngine warms the agent's engine without handing it out.
func (p *Pool) EnsureEngine(ctx context.Context, agent registry.Agent) error {
	_, err := p.Ensure(ctx, agent)
	return err
}

// Release arms the idle eviction timer for the agent's engine. The
// engine stays usable until the timer fires; a later Ensure cancels it.
func (p *Pool) Release(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	h, ok := p.engines[agentID]
	if !ok {
		return
	}
	p.armEvictionLocked(agentID, h)
}

// Listen consumes task snapshots and keeps engines warm for agents
// with active or pending work, arming eviction for the rest.
func (p *Pool) Listen(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			var snap tasks.Snapshot
			if err := bus.Decode(msg, &snap); err != nil {
				p.log.Warn("undecodable task snapshot", map[string]interface{}{
					"subject": msg.Subject,
					"error":   err.Error(),
				})
				continue
			}
			p.reconcile(snap)
		}
	}
}

// reconcile adjusts eviction timers against one snapshot's workload.
func (p *Pool) reconcile(snap tasks.Snapshot) {
	active := make(map[string]struct{})
	for _, t := range snap.Tasks {
		if t.AssignedTo == "" {
			continue
		}
		switch t.Status {
		case tasks.StatusAssigned, tasks.StatusQueued, tasks.StatusRunning:
			active[t.AssignedTo] = struct{}{}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for id, h := range p.engines {
		if _, busy := active[id]; busy {
			p.cancelEvictionLocked(h)
		} else if h.evict == nil {
			p.armEvictionLocked(id, h)
		}
	}
}

// Dispose stops every engine and refuses further use.
func (p *Pool) Dispose() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	doomed := make([]*handle, 0, len(p.engines))
	for _, h := range p.engines {
		if h.evict != nil {
			h.evict.Stop()
		}
		doomed = append(doomed, h)
	}
	p.engines = make(map[string]*handle)
	p.mu.Unlock()

	for _, h := range doomed {
		h.engine.Stop()
		p.met.EngineStopped()
	}
}

// Size reports the number of live engines.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.engines)
}

func (p *Pool) armEvictionLocked(agentID string, h *handle) {
	if h.evict != nil {
		h.evict.Stop()
	}
	h.idleSince = time.Now()
	h.evict = time.AfterFunc(p.cfg.EngineIdleEviction, func() {
		p.evictIdle(agentID)
	})
}

func (p *Pool) cancelEvictionLocked(h *handle) {
	if h.evict != nil {
		h.evict.Stop()
		h.evict = nil
	}
}

func (p *Pool) evictIdle(agentID string) {
	p.mu.Lock()
	h, ok := p.engines[agentID]
	if !ok || p.closed || h.evict == nil {
		p.mu.Unlock()
		return
	}
	// A fire racing a re-arm sees a fresh idle stamp and stands down.
	if time.Since(h.idleSince) < p.cfg.EngineIdleEviction {
		p.mu.Unlock()
		return
	}
	delete(p.engines, agentID)
	idle := time.Since(h.idleSince)
	p.mu.Unlock()

	h.engine.Stop()
	p.met.EngineStopped()
	p.log.EngineEvicted(agentID, idle)
}
