// Package tasks owns the task lifecycle: creation normalization, status
// transitions, dependency gating, concurrency ceilings, and timeout
// recovery.
//
// A Task moves through pending, blocked, assigned, queued, running and
// paused, terminating at completed or failed. All mutations go through
// Service methods; callers never write fields directly. The claim
// transaction in Service.ClaimForAgent is the single race-safety
// mechanism granting an agent exclusive execution rights.
//
// Storage is abstracted behind Repository, with a MemoryRepository for
// tests and single-process use and a SQLiteRepository for durable
// deployments.
//
// Example usage:
//
//	repo := tasks.NewMemoryRepository()
//	svc := tasks.NewService(repo, config.Default())
//
//	created, err := svc.Create(ctx, tasks.Task{
//		SessionID: "sess-1",
//		Intent:    "review",
//		Scope:     "workspace",
//		Labels:    []string{"capability:security"},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ok, err := svc.ClaimForAgent(ctx, created.ID, "agent-1")
//	if ok {
//		// the agent now exclusively owns the task
//	}
//
// Service publishes a full task snapshot and a backlog summary on the
// session's feed subjects after every mutation, and Maintain runs the
// periodic sweep that re-applies concurrency ceilings and recovers
// timed-out tasks.
package tasks
