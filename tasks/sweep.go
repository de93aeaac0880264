package tasks

import (
	"context"
	"fmt"
	"sort"
	"time"

	schederrors "github.com/vinayprograms/dispatchkit/errors"
	"github.com/vinayprograms/dispatchkit/notify"
)

// SweepResult summarizes one maintenance pass over a session.
type SweepResult struct {
	Promoted  int
	Demoted   int
	Recovered int
	Failed    int
}

// Maintain runs the full maintenance sweep: timeout recovery then
// concurrency ceilings, per session, followed by a feed refresh.
func (s *Service) Maintain(ctx context.Context) error {
	started := s.now()

	all, err := s.repo.Query(ctx, Filter{})
	if err != nil {
		return schederrors.Repository("query tasks", err)
	}
	sessions := make(map[string]struct{})
	for _, t := range all {
		sessions[t.SessionID] = struct{}{}
	}

	for session := range sessions {
		result := SweepResult{}

		recovered, failed, err := s.RecoverStuck(ctx, session)
		if err != nil {
			return err
		}
		result.Recovered, result.Failed = recovered, failed

		promoted, demoted, err := s.ApplyConcurrencyRules(ctx, session)
		if err != nil {
			return err
		}
		result.Promoted, result.Demoted = promoted, demoted

		s.publish(ctx, session)
		s.log.SweepComplete(session, result.Promoted, result.Demoted,
			result.Recovered, result.Failed, s.now().Sub(started))
	}

	s.met.SweepRun()
	return nil
}

// RunMaintenance runs Maintain on the configured interval until the
// context is canceled.
func (s *Service) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Maintain(ctx); err != nil {
				fields := map[string]interface{}{"error": err.Error()}
				if schederrors.IsFatal(err) {
					s.log.Error("maintenance sweep failed", fields)
				} else {
					s.log.Warn("maintenance sweep failed", fields)
				}
			}
		}
	}
}

// ApplyConcurrencyRules enforces the session, sibling and
// serialized-scope ceilings. Candidates in assigned or queued whose
// dependencies are satisfied and whose run_after has elapsed are ranked
// (assigned first, then priority weight, then FIFO) and promoted while
// slots remain; assigned tasks that no longer fit are demoted to
// queued. Ceiling violations are corrected here, never raised as
// errors.
func (s *Service) ApplyConcurrencyRules(ctx context.Context, sessionID string) (promoted, demoted int, err error) {
	now := s.now()

	err = s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		all, err := tx.Query(ctx, Filter{})
		if err != nil {
			return err
		}
		byID := indexByID(all)

		var session []*Task
		for _, t := range all {
			if t.SessionID == sessionID {
				session = append(session, t)
			}
		}

		// Slot usage from tasks already running.
		running := 0
		siblings := make(map[string]int)
		scopes := make(map[string]int)
		for _, t := range session {
			if t.Status != StatusRunning {
				continue
			}
			running++
			if t.ParentTaskID != "" {
				siblings[t.ParentTaskID]++
			}
			if s.cfg.SerializedScope(t.Scope) {
				scopes[t.Scope]++
			}
		}

		var candidates []*Task
		for _, t := range session {
			if t.Status != StatusAssigned && t.Status != StatusQueued {
				continue
			}
			if !depsSatisfiedLocal(t, byID) {
				continue
			}
			if t.RunAfter != nil && t.RunAfter.After(now) {
				continue
			}
			candidates = append(candidates, t)
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.Status.rank() != b.Status.rank() {
				return a.Status.rank() < b.Status.rank()
			}
			if a.Priority.Weight() != b.Priority.Weight() {
				return a.Priority.Weight() > b.Priority.Weight()
			}
			return a.CreatedAt.Before(b.CreatedAt)
		})

		keep := make(map[string]struct{}, len(candidates))
		for _, c := range candidates {
			if running >= s.cfg.MaxConcurrentTasksPerSession {
				break
			}
			if c.ParentTaskID != "" && siblings[c.ParentTaskID] >= s.cfg.MaxParallelSiblings {
				continue
			}
			if s.cfg.SerializedScope(c.Scope) && scopes[c.Scope] >= 1 {
				continue
			}

			keep[c.ID] = struct{}{}
			if c.Status == StatusQueued {
				status := StatusAssigned
				if _, err := tx.Update(ctx, c.ID, Patch{
					Status:        &status,
					ClearRunAfter: true,
				}); err != nil {
					return err
				}
				promoted++
				s.log.TaskTransition(c.ID, StatusQueued.String(), StatusAssigned.String())
			}

			running++
			if c.ParentTaskID != "" {
				siblings[c.ParentTaskID]++
			}
			if s.cfg.SerializedScope(c.Scope) {
				scopes[c.Scope]++
			}
		}

		for _, t := range session {
			if t.Status != StatusAssigned {
				continue
			}
			if _, ok := keep[t.ID]; ok {
				continue
			}
			status := StatusQueued
			if _, err := tx.Update(ctx, t.ID, Patch{Status: &status}); err != nil {
				return err
			}
			demoted++
			s.log.TaskTransition(t.ID, StatusAssigned.String(), StatusQueued.String())
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	s.met.TasksPromoted(promoted)
	s.met.TasksDemoted(demoted)
	return promoted, demoted, nil
}

// RecoverStuck requeues or fails every running task in the session
// whose execution exceeded its timeout. A recovered task re-enters as
// queued behind an exponential backoff; one out of retries becomes
// failed and its dependents are blocked. Timeouts are wall-clock
// bookkeeping only, nothing signals the executing agent.
func (s *Service) RecoverStuck(ctx context.Context, sessionID string) (recovered, failed int, err error) {
	now := s.now()
	var outcomes []notify.Notification

	sessions := make(map[string]struct{})
	err = s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		running, err := tx.Query(ctx, Filter{
			SessionID: sessionID,
			Statuses:  []Status{StatusRunning},
		})
		if err != nil {
			return err
		}

		for _, t := range running {
			if t.LastStartedAt == nil {
				continue
			}
			elapsed := now.Sub(*t.LastStartedAt)
			if elapsed <= t.Timeout(s.cfg.DefaultTaskTimeout) {
				continue
			}

			if t.RetryCount < t.MaxRetries {
				status := StatusQueued
				runAfter := now.Add(s.backoff(t.RetryCount))
				retries := t.RetryCount + 1
				if _, err := tx.Update(ctx, t.ID, Patch{
					Status:     &status,
					RunAfter:   &runAfter,
					RetryCount: &retries,
				}); err != nil {
					return err
				}
				recovered++
				s.log.TimeoutRecovered(t.ID, retries, runAfter)
				s.met.TimeoutRecovered()
				outcomes = append(outcomes, notify.Notification{
					SessionID: t.SessionID,
					Level:     notify.LevelWarning,
					Title:     "Task timed out, retrying",
					Message: fmt.Sprintf("task %q exceeded its %s timeout; retry %d of %d scheduled",
						t.Title, t.Timeout(s.cfg.DefaultTaskTimeout), retries, t.MaxRetries),
					Metadata: map[string]string{"task_id": t.ID},
				})
				continue
			}

			status := StatusFailed
			cause := schederrors.TaskTimeout(t.ID, elapsed.Truncate(time.Second))
			reason := fmt.Sprintf("%s (%d retries exhausted)", cause.Error(), t.RetryCount)
			if _, err := tx.Update(ctx, t.ID, Patch{
				Status:        &status,
				FailureReason: &reason,
				CompletedAt:   &now,
			}); err != nil {
				return err
			}
			if err := s.blockDependents(ctx, tx, t.ID, sessions); err != nil {
				return err
			}
			failed++
			s.log.TimeoutFailed(t.ID, t.RetryCount)
			s.met.TimeoutFailed()
			outcomes = append(outcomes, notify.Notification{
				SessionID: t.SessionID,
				Level:     notify.LevelError,
				Title:     "Task failed after repeated timeouts",
				Message:   fmt.Sprintf("task %q %s", t.Title, reason),
				Metadata:  map[string]string{"task_id": t.ID},
			})
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	// Cross-session dependents blocked by a timeout failure get their
	// own sweep; the caller handles this session.
	delete(sessions, sessionID)
	s.sweepSessions(ctx, sessions)

	for _, n := range outcomes {
		s.notifyOutcome(ctx, n)
	}
	return recovered, failed, nil
}

// backoff returns the retry delay for the nth recovery: base * 2^min(n, 4).
func (s *Service) backoff(retryCount int) time.Duration {
	exp := retryCount
	if exp > 4 {
		exp = 4
	}
	return s.cfg.RetryBackoffBase * (1 << exp)
}
