package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// MonitorConfig configures the staleness monitor.
type MonitorConfig struct {
	// Timeout is how long an agent may stay silent before it is
	// marked offline. Default: 30s.
	Timeout time.Duration

	// CheckInterval is how often silent agents are checked for.
	// Default: 10s.
	CheckInterval time.Duration
}

// DefaultMonitorConfig returns monitoring defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Timeout:       30 * time.Second,
		CheckInterval: 10 * time.Second,
	}
}

// Validate checks the config.
func (c MonitorConfig) Validate() error {
	if c.Timeout < 0 || c.CheckInterval < 0 {
		return errors.New("monitor durations must not be negative")
	}
	return nil
}

// StalenessMonitor periodically marks silent agents offline.
// Offline agents are never scheduled; a later heartbeat revives them.
type StalenessMonitor struct {
	dir           Directory
	timeout       time.Duration
	checkInterval time.Duration

	mu       sync.Mutex
	staleCBs []func(agentID string)

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	now func() time.Time // test hook
}

// NewStalenessMonitor creates a monitor over the given directory.
func NewStalenessMonitor(dir Directory, cfg MonitorConfig) (*StalenessMonitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultMonitorConfig().Timeout
	}
	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultMonitorConfig().CheckInterval
	}

	return &StalenessMonitor{
		dir:           dir,
		timeout:       timeout,
		checkInterval: checkInterval,
		now:           time.Now,
	}, nil
}

// OnStale registers a callback invoked once per agent going stale.
func (m *StalenessMonitor) OnStale(cb func(agentID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleCBs = append(m.staleCBs, cb)
}

// Start begins the monitoring loop. Safe to call once.
func (m *StalenessMonitor) Start() {
	if m.running.Swap(true) {
		return
	}

	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.run()
}

// Stop halts the monitoring loop and waits for it to finish.
func (m *StalenessMonitor) Stop() {
	if !m.running.Swap(false) {
		return
	}
	close(m.stopCh)
	<-m.doneCh
}

func (m *StalenessMonitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckOnce()
		}
	}
}

// CheckOnce scans the directory and marks silent agents offline.
// Exposed for tests and for callers driving their own tick.
func (m *StalenessMonitor) CheckOnce() {
	agents, err := m.dir.All()
	if err != nil {
		return
	}

	now := m.now()
	for _, a := range agents {
		if a.Status == StatusOffline {
			continue
		}
		if now.Sub(a.LastHeartbeatAt) <= m.timeout {
			continue
		}

		if err := m.dir.SetStatus(a.ID, StatusOffline); err != nil {
			continue
		}

		m.mu.Lock()
		cbs := append(([]func(string))(nil), m.staleCBs...)
		m.mu.Unlock()
		for _, cb := range cbs {
			cb(a.ID)
		}
	}
}
