// Package registry provides the agent directory consumed by the scheduler.
//
// Agents register with roles, capabilities and tool permissions; the
// directory tracks their live status and health and emits a change feed.
// The scheduler only ever reads a snapshot — agent records are owned and
// mutated here, never by the scheduling core.
//
// # Status
//
// An agent is online, busy or offline. Status changes stamp
// StatusUpdatedAt, which the scheduler uses as an idle tiebreaker
// (longest-idle agents win ties).
//
// # Health
//
// Agents heartbeat through the directory. A StalenessMonitor marks agents
// offline when their last heartbeat exceeds a timeout:
//
//	dir := registry.NewMemoryDirectory()
//	mon := registry.NewStalenessMonitor(dir, registry.MonitorConfig{
//	    Timeout:       30 * time.Second,
//	    CheckInterval: 10 * time.Second,
//	})
//	mon.Start()
//	defer mon.Stop()
//
// # Change Feed
//
// Watch returns a channel of directory events. The scheduler re-evaluates
// its pending queue on every event.
package registry
