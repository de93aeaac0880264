package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/dispatchkit/bus"
	"github.com/vinayprograms/dispatchkit/config"
	schederrors "github.com/vinayprograms/dispatchkit/errors"
	"github.com/vinayprograms/dispatchkit/labels"
	"github.com/vinayprograms/dispatchkit/logging"
	"github.com/vinayprograms/dispatchkit/metrics"
	"github.com/vinayprograms/dispatchkit/notify"
)

// PolicyNotifier is told about every created task so an external policy
// enforcer can react. Errors are logged, never propagated; policy
// failures must not lose tasks.
type PolicyNotifier interface {
	TaskCreated(ctx context.Context, task *Task) error
}

// Service owns the task lifecycle. All status transitions go through
// its methods; the claim transaction is the single race-safety point.
type Service struct {
	repo   Repository
	cfg    config.Config
	feed   bus.FeedBus
	sink   notify.Sink
	policy PolicyNotifier
	log    *logging.Logger
	met    *metrics.Metrics
	now    func() time.Time
	newID  func() string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithFeed publishes task snapshots and backlog summaries on the bus.
func WithFeed(b bus.FeedBus) ServiceOption {
	return func(s *Service) {
		s.feed = b
	}
}

// WithNotifier sends timeout and recovery notifications to the sink.
func WithNotifier(sink notify.Sink) ServiceOption {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithPolicyNotifier registers the external policy hook.
func WithPolicyNotifier(p PolicyNotifier) ServiceOption {
	return func(s *Service) {
		s.policy = p
	}
}

// WithLogger sets the service logger.
func WithLogger(log *logging.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log.WithComponent("tasks")
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) {
		s.met = m
	}
}

// WithClock sets a custom time source for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator sets a custom ID generator function.
func WithIDGenerator(gen func() string) ServiceOption {
	return func(s *Service) {
		s.newID = gen
	}
}

// NewService creates a task service over the given repository.
func NewService(repo Repository, cfg config.Config, opts ...ServiceOption) *Service {
	s := &Service{
		repo:  repo,
		cfg:   cfg,
		log:   logging.New().WithComponent("tasks"),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create normalizes and persists a new task, computes its initial
// status, publishes the session feed and notifies the policy hook.
func (s *Service) Create(ctx context.Context, task Task) (*Task, error) {
	if task.SessionID == "" {
		return nil, fmt.Errorf("session ID required: %w", ErrInvalidTask)
	}

	if task.ID == "" {
		task.ID = s.newID()
	}
	task.Title = synthesizeTitle(task)
	task.Priority = labels.Normalize(task.Priority)
	if task.MaxRetries == 0 {
		task.MaxRetries = s.cfg.DefaultMaxRetries
	}
	if task.TimeoutSeconds == 0 {
		task.TimeoutSeconds = int(s.cfg.DefaultTaskTimeout / time.Second)
	}
	task.RetryCount = 0
	task.CompletedAt = nil
	task.Result = ""
	task.FailureReason = ""

	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		deps, err := resolveDependencies(ctx, tx, task.ID, task.Dependencies)
		if err != nil {
			return err
		}
		task.Dependencies = deps

		executable, err := depsSatisfied(ctx, tx, &task)
		if err != nil {
			return err
		}
		switch {
		case !executable:
			task.Status = StatusBlocked
		case task.AssignedTo != "":
			task.Status = StatusAssigned
		default:
			task.Status = StatusPending
		}

		return tx.Create(ctx, &task)
	})
	if err != nil {
		return nil, err
	}

	s.log.TaskTransition(task.ID, "", task.Status.String())
	if s.policy != nil {
		if perr := s.policy.TaskCreated(ctx, &task); perr != nil {
			s.log.Warn("policy notifier failed", map[string]interface{}{
				"task_id": task.ID,
				"error":   perr.Error(),
			})
		}
	}
	s.publish(ctx, task.SessionID)

	return task.Clone(), nil
}

// Get retrieves a task by ID.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	return s.repo.Get(ctx, id)
}

// Query returns all tasks matching the filter.
func (s *Service) Query(ctx context.Context, filter Filter) ([]*Task, error) {
	return s.repo.Query(ctx, filter)
}

// CanExecute reports whether every dependency of the task is completed.
// This is the single predicate gating assignment and execution.
func (s *Service) CanExecute(ctx context.Context, id string) (bool, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return depsSatisfied(ctx, s.repo, t)
}

// ClaimForAgent grants the agent exclusive execution rights over the
// task. It runs inside a repository transaction and re-reads the task,
// so two concurrent claims on the same task never both succeed. Returns
// false without error when the claim is lost or the task is not
// executable.
func (s *Service) ClaimForAgent(ctx context.Context, taskID, agentID string) (bool, error) {
	if agentID == "" {
		return false, schederrors.WrapWithCode(ErrInvalidAgentID,
			schederrors.ErrCodeInvalidInput, "agent ID required",
			schederrors.WithTaskID(taskID))
	}

	var (
		claimed bool
		session string
	)
	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		t, err := tx.Get(ctx, taskID)
		if err != nil {
			return err
		}
		session = t.SessionID

		if t.Status.IsTerminal() {
			return nil
		}
		if t.AssignedTo != "" && t.AssignedTo != agentID {
			return nil
		}
		if t.AssignedTo == agentID && (t.Status == StatusAssigned || t.Status == StatusRunning) {
			// Re-claim by the holder is idempotent.
			claimed = true
			return nil
		}

		executable, err := depsSatisfied(ctx, tx, t)
		if err != nil {
			return err
		}
		if !executable {
			return nil
		}

		status := StatusAssigned
		agent := agentID
		if _, err := tx.Update(ctx, taskID, Patch{
			Status:        &status,
			AssignedTo:    &agent,
			ClearRunAfter: true,
		}); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if claimed {
		s.log.TaskClaimed(taskID, agentID)
		s.publish(ctx, session)
	} else {
		s.log.ClaimLost(taskID, agentID)
	}
	return claimed, nil
}

// ReleaseClaim returns the task to the pending pool. No-ops when the
// agent does not hold the claim or the task is terminal.
func (s *Service) ReleaseClaim(ctx context.Context, taskID, agentID string) error {
	var (
		released bool
		session  string
	)
	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		t, err := tx.Get(ctx, taskID)
		if err != nil {
			return err
		}
		session = t.SessionID

		if t.AssignedTo != agentID || t.Status.IsTerminal() {
			return nil
		}

		status := StatusPending
		none := ""
		if _, err := tx.Update(ctx, taskID, Patch{
			Status:     &status,
			AssignedTo: &none,
		}); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		return err
	}

	if released {
		s.log.TaskTransition(taskID, StatusAssigned.String(), StatusPending.String())
		s.publish(ctx, session)
	}
	return nil
}

// Start records that the owning agent began execution, stamping the
// timeout clock. The agent must hold the claim and the task must be in
// assigned; a blocked or backoff-gated task never starts, regardless
// of who holds its claim.
func (s *Service) Start(ctx context.Context, taskID, agentID string) error {
	var session string
	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		t, err := tx.Get(ctx, taskID)
		if err != nil {
			return err
		}
		session = t.SessionID

		if t.Status.IsTerminal() {
			return terminalErr(taskID)
		}
		if t.AssignedTo != agentID {
			return schederrors.WrapWithCode(
				fmt.Errorf("task %s claimed by %q: %w", taskID, t.AssignedTo, ErrInvalidAgentID),
				schederrors.ErrCodeNotClaimed, "claim not held",
				schederrors.WithTaskID(taskID), schederrors.WithAgentID(agentID))
		}
		if t.Status == StatusRunning {
			return nil
		}
		if t.Status != StatusAssigned {
			code := schederrors.ErrCodeInvalidInput
			switch t.Status {
			case StatusBlocked:
				code = schederrors.ErrCodeDependencyUnsatisfied
			case StatusQueued:
				code = schederrors.ErrCodeConcurrencyLimit
			}
			return schederrors.WrapWithCode(
				fmt.Errorf("task %s is %s: %w", taskID, t.Status, ErrTaskNotRunnable),
				code, "task not runnable",
				schederrors.WithTaskID(taskID), schederrors.WithAgentID(agentID))
		}

		status := StatusRunning
		now := s.now()
		_, err = tx.Update(ctx, taskID, Patch{
			Status:        &status,
			LastStartedAt: &now,
			ClearRunAfter: true,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.log.TaskTransition(taskID, StatusAssigned.String(), StatusRunning.String())
	s.publish(ctx, session)
	return nil
}

// Complete marks the task completed and promotes any dependent that
// became executable. Affected sessions get a fresh concurrency sweep.
func (s *Service) Complete(ctx context.Context, taskID, result string) error {
	sessions := make(map[string]struct{})
	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		t, err := tx.Get(ctx, taskID)
		if err != nil {
			return err
		}
		sessions[t.SessionID] = struct{}{}

		if t.Status == StatusCompleted {
			return nil
		}
		if t.Status == StatusFailed {
			return terminalErr(taskID)
		}

		status := StatusCompleted
		now := s.now()
		if _, err := tx.Update(ctx, taskID, Patch{
			Status:      &status,
			Result:      &result,
			CompletedAt: &now,
		}); err != nil {
			return err
		}

		return s.unblockDependents(ctx, tx, taskID, sessions)
	})
	if err != nil {
		return err
	}

	s.log.TaskTransition(taskID, StatusRunning.String(), StatusCompleted.String())
	s.sweepSessions(ctx, sessions)
	return nil
}

// Fail marks the task failed and blocks every transitive dependent.
// The walk covers the full downward graph, not just immediate children.
func (s *Service) Fail(ctx context.Context, taskID, reason string) error {
	sessions := make(map[string]struct{})
	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		t, err := tx.Get(ctx, taskID)
		if err != nil {
			return err
		}
		sessions[t.SessionID] = struct{}{}

		if t.Status == StatusFailed {
			return nil
		}
		if t.Status == StatusCompleted {
			return terminalErr(taskID)
		}

		status := StatusFailed
		now := s.now()
		if _, err := tx.Update(ctx, taskID, Patch{
			Status:        &status,
			FailureReason: &reason,
			CompletedAt:   &now,
		}); err != nil {
			return err
		}

		return s.blockDependents(ctx, tx, taskID, sessions)
	})
	if err != nil {
		return err
	}

	s.log.TaskTransition(taskID, "", StatusFailed.String())
	s.sweepSessions(ctx, sessions)
	return nil
}

// UpdateDependencies replaces the task's dependency set, filtering
// self-references and unknown IDs, then reconciles the task and every
// transitive dependent against the new graph.
func (s *Service) UpdateDependencies(ctx context.Context, taskID string, deps []string) (*Task, error) {
	var (
		updated  *Task
		sessions = make(map[string]struct{})
	)
	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		t, err := tx.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status.IsTerminal() {
			return terminalErr(taskID)
		}
		sessions[t.SessionID] = struct{}{}

		resolved, err := resolveDependencies(ctx, tx, taskID, deps)
		if err != nil {
			return err
		}
		if _, err := tx.Update(ctx, taskID, Patch{Dependencies: &resolved}); err != nil {
			return err
		}

		all, err := tx.Query(ctx, Filter{})
		if err != nil {
			return err
		}
		visited := make(map[string]struct{})
		if err := s.reconcile(ctx, tx, taskID, indexByID(all), dependentsIndex(all), visited, sessions); err != nil {
			return err
		}

		updated, err = tx.Get(ctx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.sweepSessions(ctx, sessions)
	return updated, nil
}

// AddLabel appends a label to the task unless already present.
func (s *Service) AddLabel(ctx context.Context, taskID, label string) error {
	return s.editLabels(ctx, taskID, func(raw []string) []string {
		return labels.Add(raw, label)
	})
}

// RemoveLabel drops every occurrence of the label from the task.
func (s *Service) RemoveLabel(ctx context.Context, taskID, label string) error {
	return s.editLabels(ctx, taskID, func(raw []string) []string {
		return labels.Remove(raw, label)
	})
}

func (s *Service) editLabels(ctx context.Context, taskID string, edit func([]string) []string) error {
	var session string
	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		t, err := tx.Get(ctx, taskID)
		if err != nil {
			return err
		}
		session = t.SessionID

		edited := edit(t.Labels)
		_, err = tx.Update(ctx, taskID, Patch{Labels: &edited})
		return err
	})
	if err != nil {
		return err
	}

	s.publish(ctx, session)
	return nil
}

// Pause suspends a non-terminal task.
func (s *Service) Pause(ctx context.Context, taskID string) error {
	var session string
	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		t, err := tx.Get(ctx, taskID)
		if err != nil {
			return err
		}
		session = t.SessionID

		if t.Status.IsTerminal() {
			return terminalErr(taskID)
		}
		if t.Status == StatusPaused {
			return nil
		}

		status := StatusPaused
		_, err = tx.Update(ctx, taskID, Patch{Status: &status})
		return err
	})
	if err != nil {
		return err
	}

	s.log.TaskTransition(taskID, "", StatusPaused.String())
	s.publish(ctx, session)
	return nil
}

// Resume recomputes executability for a paused or blocked task. An
// executable task returns to its claim holder (or the pending pool);
// one with incomplete dependencies stays blocked. The timeout clock is
// re-stamped only when the task is immediately executable.
func (s *Service) Resume(ctx context.Context, taskID string) error {
	var (
		session string
		to      Status
	)
	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		t, err := tx.Get(ctx, taskID)
		if err != nil {
			return err
		}
		session = t.SessionID

		if t.Status != StatusPaused && t.Status != StatusBlocked {
			return schederrors.WrapWithCode(
				fmt.Errorf("task %s is %s: %w", taskID, t.Status, ErrInvalidTask),
				schederrors.ErrCodeInvalidInput, "resume target not paused or blocked",
				schederrors.WithTaskID(taskID))
		}

		executable, err := depsSatisfied(ctx, tx, t)
		if err != nil {
			return err
		}

		patch := Patch{}
		switch {
		case !executable:
			to = StatusBlocked
		case t.AssignedTo != "":
			to = StatusAssigned
			now := s.now()
			patch.LastStartedAt = &now
		default:
			to = StatusPending
		}
		patch.Status = &to
		_, err = tx.Update(ctx, taskID, patch)
		return err
	})
	if err != nil {
		return err
	}

	s.log.TaskTransition(taskID, StatusPaused.String(), to.String())
	s.publish(ctx, session)
	return nil
}

// Cascade internals. All run inside the caller's transaction.

// unblockDependents promotes blocked dependents of completedID whose
// dependencies are now all satisfied.
func (s *Service) unblockDependents(ctx context.Context, tx Repository, completedID string, sessions map[string]struct{}) error {
	all, err := tx.Query(ctx, Filter{})
	if err != nil {
		return err
	}
	byID := indexByID(all)
	idx := dependentsIndex(all)

	for _, depID := range idx[completedID] {
		d := byID[depID]
		if d == nil || d.Status != StatusBlocked {
			continue
		}
		if !depsSatisfiedLocal(d, byID) {
			continue
		}

		status := StatusPending
		if d.AssignedTo != "" {
			status = StatusAssigned
		}
		reason := ""
		if _, err := tx.Update(ctx, depID, Patch{
			Status:        &status,
			FailureReason: &reason,
		}); err != nil {
			return err
		}
		sessions[d.SessionID] = struct{}{}
		s.log.TaskTransition(depID, StatusBlocked.String(), status.String())
	}
	return nil
}

// blockDependents blocks every transitive dependent of failedID,
// annotating each with the failing ancestor. Cycle-safe via visited.
func (s *Service) blockDependents(ctx context.Context, tx Repository, failedID string, sessions map[string]struct{}) error {
	all, err := tx.Query(ctx, Filter{})
	if err != nil {
		return err
	}
	byID := indexByID(all)
	idx := dependentsIndex(all)

	visited := map[string]struct{}{failedID: {}}
	queue := append([]string(nil), idx[failedID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}

		d := byID[id]
		if d == nil || d.Status.IsTerminal() {
			continue
		}

		status := StatusBlocked
		reason := fmt.Sprintf("blocked: upstream task %s failed", failedID)
		if _, err := tx.Update(ctx, id, Patch{
			Status:        &status,
			FailureReason: &reason,
		}); err != nil {
			return err
		}
		sessions[d.SessionID] = struct{}{}
		s.log.TaskTransition(id, d.Status.String(), StatusBlocked.String())

		queue = append(queue, idx[id]...)
	}
	return nil
}

// reconcile recomputes blocked/executable for the task and recurses
// into its transitive dependents over the preloaded graph. Cycle-safe
// via visited.
func (s *Service) reconcile(ctx context.Context, tx Repository, taskID string, byID map[string]*Task, idx map[string][]string, visited map[string]struct{}, sessions map[string]struct{}) error {
	if _, seen := visited[taskID]; seen {
		return nil
	}
	visited[taskID] = struct{}{}

	t := byID[taskID]
	if t == nil || t.Status.IsTerminal() {
		return nil
	}

	executable := depsSatisfiedLocal(t, byID)
	var to Status
	switch {
	case !executable && t.Status != StatusBlocked && t.Status != StatusPaused:
		to = StatusBlocked
	case executable && t.Status == StatusBlocked:
		to = StatusPending
		if t.AssignedTo != "" {
			to = StatusAssigned
		}
	}
	if to != "" {
		if _, err := tx.Update(ctx, taskID, Patch{Status: &to}); err != nil {
			return err
		}
		sessions[t.SessionID] = struct{}{}
		s.log.TaskTransition(taskID, t.Status.String(), to.String())
		t.Status = to
	}

	for _, depID := range idx[taskID] {
		if err := s.reconcile(ctx, tx, depID, byID, idx, visited, sessions); err != nil {
			return err
		}
	}
	return nil
}

// sweepSessions re-applies concurrency ceilings and republishes the
// feed for every touched session. Sweep errors are logged so the
// primary mutation still reports success to its caller.
func (s *Service) sweepSessions(ctx context.Context, sessions map[string]struct{}) {
	for session := range sessions {
		if _, _, err := s.ApplyConcurrencyRules(ctx, session); err != nil {
			s.log.Error("concurrency sweep failed", map[string]interface{}{
				"session": session,
				"error":   err.Error(),
			})
		}
		s.publish(ctx, session)
	}
}

// publish pushes the session's snapshot and backlog feeds.
func (s *Service) publish(ctx context.Context, sessionID string) {
	if s.feed == nil || sessionID == "" {
		return
	}
	list, err := s.repo.Query(ctx, Filter{SessionID: sessionID})
	if err != nil {
		s.log.Error("feed snapshot query failed", map[string]interface{}{
			"session": sessionID,
			"error":   err.Error(),
		})
		return
	}
	if err := publishSession(s.feed, sessionID, list, s.now()); err != nil {
		s.log.Warn("feed publish failed", map[string]interface{}{
			"session": sessionID,
			"error":   err.Error(),
		})
	}
}

// notifyOutcome sends a human-facing notification, tolerating a missing
// or failing sink.
func (s *Service) notifyOutcome(ctx context.Context, n notify.Notification) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Send(ctx, n); err != nil {
		s.log.Warn("notification failed", map[string]interface{}{
			"title": n.Title,
			"error": err.Error(),
		})
	}
}

// terminalErr wraps ErrTerminalTask with the structured code callers
// route on.
func terminalErr(taskID string) error {
	return schederrors.WrapWithCode(
		fmt.Errorf("task %s: %w", taskID, ErrTerminalTask),
		schederrors.ErrCodeTerminalTask, "task is terminal",
		schederrors.WithTaskID(taskID))
}

// Normalization helpers.

// synthesizeTitle derives a human title when the caller gave none.
func synthesizeTitle(t Task) string {
	if t.Title != "" {
		return t.Title
	}
	if t.Intent != "" {
		return strings.ToUpper(t.Intent[:1]) + t.Intent[1:] + " task"
	}
	if t.Description != "" {
		desc := strings.TrimSpace(t.Description)
		if len(desc) > 60 {
			desc = desc[:57] + "..."
		}
		return desc
	}
	return "Task " + t.ID
}

// resolveDependencies dedupes the requested set, drops self-references
// and IDs unknown to the repository, and returns the cleaned list.
func resolveDependencies(ctx context.Context, tx Repository, taskID string, deps []string) ([]string, error) {
	seen := make(map[string]struct{}, len(deps))
	out := make([]string, 0, len(deps))
	for _, dep := range deps {
		if dep == "" || dep == taskID {
			continue
		}
		if _, dup := seen[dep]; dup {
			continue
		}
		seen[dep] = struct{}{}

		if _, err := tx.Get(ctx, dep); err != nil {
			if err == ErrTaskNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, dep)
	}
	return out, nil
}

// depsSatisfied reports whether every dependency is completed, reading
// through the repository.
func depsSatisfied(ctx context.Context, r Repository, t *Task) (bool, error) {
	for _, dep := range t.Dependencies {
		d, err := r.Get(ctx, dep)
		if err != nil {
			if err == ErrTaskNotFound {
				// A vanished dependency no longer gates anything.
				continue
			}
			return false, err
		}
		if d.Status != StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// depsSatisfiedLocal is depsSatisfied against a preloaded index.
func depsSatisfiedLocal(t *Task, byID map[string]*Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := byID[dep]
		if !ok {
			continue
		}
		if d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// indexByID maps tasks by ID for local graph walks.
func indexByID(all []*Task) map[string]*Task {
	byID := make(map[string]*Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}
	return byID
}

// dependentsIndex builds the reverse adjacency (task ID to the IDs that
// depend on it) so cascades avoid rescanning the whole set per hop.
func dependentsIndex(all []*Task) map[string][]string {
	idx := make(map[string][]string)
	for _, t := range all {
		for _, dep := range t.Dependencies {
			idx[dep] = append(idx[dep], t.ID)
		}
	}
	return idx
}
