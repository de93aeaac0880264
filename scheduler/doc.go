// Package scheduler matches unassigned executable tasks to agents.
//
// The Scheduler consumes task snapshots and agent directory events,
// keeps transient working state (per-task cooldowns and per-agent
// load), and for every pending task derives the required roles,
// capabilities and tools from its labels, scores the eligible agents,
// and walks the ranked candidates: ensure an engine, then attempt the
// atomic claim. When no qualified agent exists the task is escalated
// with a human_required or assist_required label, a scheduler event and
// a notification, so an operator is never left without signal.
//
// Working state is rebuilt from each snapshot and never persisted;
// losing it costs at most one cooldown window.
//
// Example usage:
//
//	sched := scheduler.New(svc, directory, pool, config.Default(),
//		scheduler.WithEventSink(scheduler.NewBusSink(feed)),
//		scheduler.WithNotifier(sink),
//		scheduler.WithApprovals(gateway),
//	)
//
//	sub, _ := feed.Subscribe(bus.SubjectTaskChanged("sess-1"))
//	go sched.Listen(ctx, sub)
package scheduler
