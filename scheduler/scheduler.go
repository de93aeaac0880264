package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/dispatchkit/bus"
	"github.com/vinayprograms/dispatchkit/config"
	schederrors "github.com/vinayprograms/dispatchkit/errors"
	"github.com/vinayprograms/dispatchkit/labels"
	"github.com/vinayprograms/dispatchkit/logging"
	"github.com/vinayprograms/dispatchkit/metrics"
	"github.com/vinayprograms/dispatchkit/notify"
	"github.com/vinayprograms/dispatchkit/registry"
	"github.com/vinayprograms/dispatchkit/tasks"
)

// TaskAPI is the slice of the task service the scheduler drives.
type TaskAPI interface {
	ClaimForAgent(ctx context.Context, taskID, agentID string) (bool, error)
	ReleaseClaim(ctx context.Context, taskID, agentID string) error
	AddLabel(ctx context.Context, taskID, label string) error
	RemoveLabel(ctx context.Context, taskID, label string) error
}

// EngineProvider starts or reuses an execution engine for an agent.
// An error means the agent cannot execute anything this pass.
type EngineProvider interface {
	EnsureEngine(ctx context.Context, agent registry.Agent) error
}

// Scheduler matches pending tasks to agents on every task snapshot.
type Scheduler struct {
	tasksAPI  TaskAPI
	dir       registry.Directory
	engines   EngineProvider
	cfg       config.Config
	sink      EventSink
	notifier  notify.Sink
	approvals notify.Gateway
	log       *logging.Logger
	met       *metrics.Metrics
	now       func() time.Time

	mu        sync.Mutex
	cooldowns map[string]time.Time
	load      map[string]int
	lastSnap  map[string]tasks.Task
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithEventSink sets the sink for scheduler events.
func WithEventSink(sink EventSink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

// WithNotifier sends escalation notifications to the sink.
func WithNotifier(sink notify.Sink) Option {
	return func(s *Scheduler) {
		s.notifier = sink
	}
}

// WithApprovals requests human takeover approvals through the gateway.
func WithApprovals(gw notify.Gateway) Option {
	return func(s *Scheduler) {
		s.approvals = gw
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Scheduler) {
		s.log = log.WithComponent("scheduler")
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.met = m
	}
}

// WithClock sets a custom time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler over the given task service, agent directory
// and engine provider.
func New(tasksAPI TaskAPI, dir registry.Directory, engines EngineProvider, cfg config.Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		tasksAPI:  tasksAPI,
		dir:       dir,
		engines:   engines,
		cfg:       cfg,
		log:       logging.New().WithComponent("scheduler"),
		now:       time.Now,
		cooldowns: make(map[string]time.Time),
		load:      make(map[string]int),
		lastSnap:  make(map[string]tasks.Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen decodes task snapshots from the subscription and schedules
// each one until the context is canceled.
func (s *Scheduler) Listen(ctx context.Context, sub bus.Subscription) {
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
				s.log.Warn("undecodable task snapshot", map[string]interface{}{
					"subject": msg.Subject,
					"error":   err.Error(),
				})
				continue
			}
			s.OnSnapshot(ctx, snap)
		}
	}
}

// OnSnapshot runs one scheduling pass over the snapshot: rebuild the
// per-agent load, pick the pending unassigned executable tasks in
// priority order, and attempt an assignment for each task outside its
// cooldown window.
func (s *Scheduler) OnSnapshot(ctx context.Context, snap tasks.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.rebuildLoad(snap)

	byID := make(map[string]tasks.Task, len(snap.Tasks))
	for _, t := range snap.Tasks {
		byID[t.ID] = t
		if t.Status.IsTerminal() {
			delete(s.lastSnap, t.ID)
			delete(s.cooldowns, t.ID)
		} else {
			s.lastSnap[t.ID] = t
		}
	}

	// An elapsed cooldown no longer gates anything; dropping it here
	// keeps the map bounded by the tasks still inside their window.
	for id, next := range s.cooldowns {
		if !now.Before(next) {
			delete(s.cooldowns, id)
		}
	}

	var pending []tasks.Task
	for _, t := range snap.Tasks {
		if t.Status != tasks.StatusPending || t.AssignedTo != "" {
			continue
		}
		if !executable(t, byID) {
			continue
		}
		pending = append(pending, t)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Priority.Weight() > pending[j].Priority.Weight()
	})

	agents, err := s.dir.All()
	if err != nil {
		s.log.Error("agent directory unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	for _, t := range pending {
		if next, held := s.cooldowns[t.ID]; held && now.Before(next) {
			continue
		}
		s.cooldowns[t.ID] = now.Add(s.cfg.AssignmentCooldown)
		s.assign(ctx, t, agents)
	}
}

// OnAgentEvent reacts to directory changes. An agent going offline or
// leaving the pool has its non-running claims released so the tasks
// re-enter the pending pool.
func (s *Scheduler) OnAgentEvent(ctx context.Context, event registry.Event) {
	offline := event.Type == registry.EventRemoved ||
		(event.Type == registry.EventUpdated && event.Agent.Status == registry.StatusOffline)
	if !offline {
		return
	}

	s.mu.Lock()
	var held []tasks.Task
	for _, t := range s.lastSnap {
		if t.AssignedTo == event.Agent.ID &&
			(t.Status == tasks.StatusAssigned || t.Status == tasks.StatusQueued) {
			held = append(held, t)
		}
	}
	s.mu.Unlock()

	s.emit(Event{
		Type:    EventAgentOffline,
		AgentID: event.Agent.ID,
		Reason:  ReasonAgentOffline,
		Metadata: map[string]string{
			"error": schederrors.FromCode(schederrors.ErrCodeAgentOffline,
				schederrors.WithAgentID(event.Agent.ID)).Error(),
		},
	})

	for _, t := range held {
		if err := s.tasksAPI.ReleaseClaim(ctx, t.ID, event.Agent.ID); err != nil {
			s.log.Warn("release after agent offline failed", map[string]interface{}{
				"task_id":  t.ID,
				"agent_id": event.Agent.ID,
				"error":    err.Error(),
			})
			continue
		}
		s.emit(Event{
			Type:      EventReassigned,
			TaskID:    t.ID,
			AgentID:   event.Agent.ID,
			SessionID: t.SessionID,
			Reason:    ReasonAgentOffline,
		})
	}
}

// WatchAgents consumes the directory change feed until the context is
// canceled.
func (s *Scheduler) WatchAgents(ctx context.Context, events <-chan registry.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.OnAgentEvent(ctx, event)
		}
	}
}

// assign runs the candidate selection for one task. Called with the
// scheduler lock held.
func (s *Scheduler) assign(ctx context.Context, t tasks.Task, agents []registry.Agent) {
	parsed := labels.Parse(t.Labels)
	req := deriveRequirements(t, parsed)

	// Explicit target first.
	if parsed.AssistTarget != "" {
		if target, ok := findAgent(agents, parsed.AssistTarget); ok && s.baseEligible(target, parsed) {
			score, degraded := scoreAgent(target, req, s.load[target.ID])
			if s.attempt(ctx, t, candidate{agent: target, score: score, degraded: degraded, load: s.load[target.ID]}, parsed) {
				return
			}
			// The target failed. An engine failure wrote its
			// exclusion label inside attempt; a lost claim race did
			// not. Either way, keep it out of the general pass.
			parsed.Excluded.Add(target.ID)
		} else {
			s.emit(Event{
				Type:      EventQueued,
				TaskID:    t.ID,
				SessionID: t.SessionID,
				Reason:    ReasonAssistTargetUnavailable,
				Metadata:  map[string]string{"target": parsed.AssistTarget},
			})
		}
	}

	var cands []candidate
	for _, a := range agents {
		if !s.baseEligible(a, parsed) {
			continue
		}
		load := s.load[a.ID]
		score, degraded := scoreAgent(a, req, load)
		s.log.AgentScored(t.ID, a.ID, score, degraded)
		cands = append(cands, candidate{agent: a, score: score, degraded: degraded, load: load})
	}

	if len(cands) == 0 {
		s.escalateHuman(ctx, t, parsed)
		return
	}

	rankCandidates(cands)

	if req.specialized() && cands[0].degraded {
		// Every candidate misses the required specialization.
		s.escalateAssist(ctx, t, parsed, req)
		if s.cfg.RequireStrictMatch {
			s.emit(Event{
				Type:      EventQueued,
				TaskID:    t.ID,
				SessionID: t.SessionID,
				Reason:    ReasonNoAgentReady,
			})
			return
		}
	}

	for _, c := range cands {
		if s.attempt(ctx, t, c, parsed) {
			return
		}
	}

	s.emit(Event{
		Type:      EventQueued,
		TaskID:    t.ID,
		SessionID: t.SessionID,
		Reason:    ReasonNoAgentReady,
		Metadata: map[string]string{
			"error": schederrors.SchedulingExhausted(t.ID).Error(),
		},
	})
}

// attempt ensures an engine for the candidate and races for the claim.
// Returns true when the task was assigned.
func (s *Scheduler) attempt(ctx context.Context, t tasks.Task, c candidate, parsed labels.Parsed) bool {
	agent := c.agent

	if err := s.engines.EnsureEngine(ctx, agent); err != nil {
		// The agent cannot execute anything; exclude it for this task
		// and make sure a human hears about it.
		if lerr := s.tasksAPI.AddLabel(ctx, t.ID, labels.PrefixAgentExclude+agent.ID); lerr != nil {
			s.log.Warn("exclusion label failed", map[string]interface{}{
				"task_id": t.ID,
				"error":   lerr.Error(),
			})
		}
		s.requestTakeover(ctx, t, agent, err)
		meta := map[string]string{"error": err.Error()}
		if se := schederrors.AsSchedError(err); se != nil {
			meta["error_code"] = se.Code().String()
		}
		s.emit(Event{
			Type:      EventSkipped,
			TaskID:    t.ID,
			AgentID:   agent.ID,
			SessionID: t.SessionID,
			Reason:    ReasonAgentUnavailable,
			Metadata:  meta,
		})
		return false
	}

	claimed, err := s.tasksAPI.ClaimForAgent(ctx, t.ID, agent.ID)
	if err != nil {
		s.log.Error("claim attempt errored", map[string]interface{}{
			"task_id":  t.ID,
			"agent_id": agent.ID,
			"error":    err.Error(),
		})
		return false
	}
	if !claimed {
		s.met.ClaimConflict()
		s.emit(Event{
			Type:      EventSkipped,
			TaskID:    t.ID,
			AgentID:   agent.ID,
			SessionID: t.SessionID,
			Reason:    ReasonClaimFailed,
			Metadata: map[string]string{
				"error": schederrors.ClaimConflict(t.ID, agent.ID).Error(),
			},
		})
		return false
	}

	s.load[agent.ID]++
	if !c.degraded && parsed.AssistRequired {
		if err := s.tasksAPI.RemoveLabel(ctx, t.ID, labels.AssistRequired); err != nil {
			s.log.Warn("assist label cleanup failed", map[string]interface{}{
				"task_id": t.ID,
				"error":   err.Error(),
			})
		}
	}

	meta := map[string]string{}
	if c.degraded {
		meta["degraded"] = "true"
	}
	s.emit(Event{
		Type:      EventAssigned,
		TaskID:    t.ID,
		AgentID:   agent.ID,
		SessionID: t.SessionID,
		Metadata:  meta,
	})
	s.met.Assignment(c.degraded)
	return true
}

// escalateHuman labels the task human_required and notifies.
func (s *Scheduler) escalateHuman(ctx context.Context, t tasks.Task, parsed labels.Parsed) {
	s.emit(Event{
		Type:      EventQueued,
		TaskID:    t.ID,
		SessionID: t.SessionID,
		Reason:    ReasonNoAvailableAgent,
	})

	if parsed.HumanRequired {
		return
	}
	if err := s.tasksAPI.AddLabel(ctx, t.ID, labels.HumanRequired); err != nil {
		s.log.Warn("human_required label failed", map[string]interface{}{
			"task_id": t.ID,
			"error":   err.Error(),
		})
	}

	s.emit(Event{
		Type:      EventHumanRequired,
		TaskID:    t.ID,
		SessionID: t.SessionID,
		Reason:    ReasonNoAvailableAgent,
	})
	s.met.Escalation(string(EventHumanRequired))
	s.log.Escalation(t.ID, string(EventHumanRequired), ReasonNoAvailableAgent)
	s.notify(ctx, notify.Notification{
		SessionID: t.SessionID,
		Level:     notify.LevelWarning,
		Title:     "Task needs human attention",
		Message:   "no agent in the pool can take task " + quoteTitle(t),
		Metadata:  map[string]string{"task_id": t.ID},
	})
}

// escalateAssist labels the task assist_required and notifies, listing
// the missing capabilities and tools.
func (s *Scheduler) escalateAssist(ctx context.Context, t tasks.Task, parsed labels.Parsed, req requirements) {
	if parsed.AssistRequired {
		return
	}
	if err := s.tasksAPI.AddLabel(ctx, t.ID, labels.AssistRequired); err != nil {
		s.log.Warn("assist_required label failed", map[string]interface{}{
			"task_id": t.ID,
			"error":   err.Error(),
		})
	}

	missing := map[string]string{}
	if len(req.capabilities) > 0 {
		missing["requiredCapabilities"] = strings.Join(req.capabilities.Values(), ",")
	}
	if len(req.tools) > 0 {
		missing["requiredTools"] = strings.Join(req.tools.Values(), ",")
	}

	s.emit(Event{
		Type:      EventAssistRequired,
		TaskID:    t.ID,
		SessionID: t.SessionID,
		Metadata:  missing,
	})
	s.met.Escalation(string(EventAssistRequired))
	s.log.Escalation(t.ID, string(EventAssistRequired), "no specialized agent")
	s.notify(ctx, notify.Notification{
		SessionID: t.SessionID,
		Level:     notify.LevelWarning,
		Title:     "Task needs a specialist",
		Message:   "no agent offers the specialization required by task " + quoteTitle(t),
		Metadata:  mergeMeta(map[string]string{"task_id": t.ID}, missing),
	})
}

// requestTakeover files a human takeover approval for a task whose
// candidate engine failed to start, skipping when one is already
// pending.
func (s *Scheduler) requestTakeover(ctx context.Context, t tasks.Task, agent registry.Agent, cause error) {
	if s.approvals == nil {
		return
	}

	pending, err := notify.HasPending(ctx, s.approvals, t.ID)
	if err != nil {
		s.log.Warn("approval lookup failed", map[string]interface{}{
			"task_id": t.ID,
			"error":   err.Error(),
		})
		return
	}
	if pending {
		return
	}

	if _, err := s.approvals.RequestTakeover(ctx, t.ID, t.SessionID, notify.TakeoverRequest{
		Reason:      "engine start failed for agent " + agent.ID + ": " + cause.Error(),
		RequestedBy: "scheduler",
	}); err != nil {
		s.log.Warn("takeover request failed", map[string]interface{}{
			"task_id": t.ID,
			"error":   err.Error(),
		})
	}
}

// baseEligible is the hard filter ahead of scoring: enabled, not
// offline, has a usable runtime, has spare capacity, not excluded.
func (s *Scheduler) baseEligible(a registry.Agent, parsed labels.Parsed) bool {
	if !a.Enabled || a.Status == registry.StatusOffline {
		return false
	}
	if !a.Runtime.Usable() {
		return false
	}
	if s.load[a.ID] >= s.cfg.MaxConcurrentTasksPerAgent {
		return false
	}
	if parsed.Excluded.Has(a.ID) {
		return false
	}
	return true
}

// rebuildLoad recomputes per-agent load from the snapshot. Called with
// the scheduler lock held.
func (s *Scheduler) rebuildLoad(snap tasks.Snapshot) {
	for id := range s.load {
		delete(s.load, id)
	}
	for _, t := range snap.Tasks {
		if t.AssignedTo == "" {
			continue
		}
		if t.Status == tasks.StatusAssigned || t.Status == tasks.StatusRunning {
			s.load[t.AssignedTo]++
		}
	}
}

func (s *Scheduler) emit(event Event) {
	event.At = s.now()
	if s.sink != nil {
		s.sink.Emit(event)
	}
}

func (s *Scheduler) notify(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, n); err != nil {
		s.log.Warn("notification failed", map[string]interface{}{
			"title": n.Title,
			"error": err.Error(),
		})
	}
}

// executable reports whether every dependency visible in the snapshot
// is completed. Dependencies outside the snapshot no longer gate.
func executable(t tasks.Task, byID map[string]tasks.Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := byID[dep]
		if !ok {
			continue
		}
		if d.Status != tasks.StatusCompleted {
			return false
		}
	}
	return true
}

func findAgent(agents []registry.Agent, id string) (registry.Agent, bool) {
	for _, a := range agents {
		if a.ID == id {
			return a, true
		}
	}
	return registry.Agent{}, false
}

func quoteTitle(t tasks.Task) string {
	if t.Title != "" {
		return "\"" + t.Title + "\""
	}
	return t.ID
}

func mergeMeta(dst, src map[string]string) map[string]string {
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
