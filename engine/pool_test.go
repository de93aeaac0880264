package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/dispatchkit/config"
	schederrors "github.com/vinayprograms/dispatchkit/errors"
	"github.com/vinayprograms/dispatchkit/logging"
	"github.com/vinayprograms/dispatchkit/registry"
	"github.com/vinayprograms/dispatchkit/tasks"
)

// --- Test Fixtures ---

type stubEngine struct {
	mu      sync.Mutex
	stopped bool
}

func (e *stubEngine) Run(_ context.Context, _ Request) (Response, error) {
	return Response{Output: "ok"}, nil
}

func (e *stubEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
}

func (e *stubEngine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

type stubStarter struct {
	mu      sync.Mutex
	starts  int
	err     error
	engines []*stubEngine
}

func (s *stubStarter) Start(_ context.Context, _ registry.Agent) (Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.err != nil {
		return nil, s.err
	}
	eng := &stubEngine{}
	s.engines = append(s.engines, eng)
	return eng, nil
}

func (s *stubStarter) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// fastRetry keeps failing starts from stalling the tests.
func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval:     time.Millisecond,
		MaxInterval:         2 * time.Millisecond,
		MaxElapsedTime:      10 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0,
	}
}

func testAgent(id string) registry.Agent {
	return registry.Agent{
		ID:      id,
		Enabled: true,
		Status:  registry.StatusOnline,
		Runtime: &registry.RuntimeConfig{Provider: "stub", Model: "test-model"},
	}
}

func newTestPool(t *testing.T, cfg config.Config, starter Starter) (*Pool, *registry.MemoryDirectory) {
	t.Helper()
	dir := registry.NewMemoryDirectory()
	pool := NewPool(dir, cfg,
		WithStarter("stub", starter),
		WithRetryConfig(fastRetry()),
	)
	t.Cleanup(pool.Dispose)
	return pool, dir
}

// --- Unit Tests ---

func TestPoolEnsureStartsOnce(t *testing.T) {
	starter := &stubStarter{}
	pool, _ := newTestPool(t, config.Default(), starter)
	agent := testAgent("a1")

	ctx := context.Background()
	first, err := pool.Ensure(ctx, agent)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := pool.Ensure(ctx, agent)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if first != second {
		t.Error("repeated ensure must reuse the running engine")
	}
	if starter.startCount() != 1 {
		t.Errorf("starts = %d, want 1", starter.startCount())
	}
	if pool.Size() != 1 {
		t.Errorf("pool size = %d, want 1", pool.Size())
	}
}

func TestPoolEnsureFailureMarksAgentOffline(t *testing.T) {
	starter := &stubStarter{err: errors.New("quota exhausted")}
	pool, dir := newTestPool(t, config.Default(), starter)
	agent := testAgent("a1")
	if err := dir.Put(agent); err != nil {
		t.Fatal(err)
	}

	_, ensureErr := pool.Ensure(context.Background(), agent)
	if ensureErr == nil {
		t.Fatal("ensure must fail when the starter fails")
	}
	var sched schederrors.SchedError
	if !errors.As(ensureErr, &sched) {
		t.Fatalf("ensure error %v is not a scheduling error", ensureErr)
	}
	if sched.Code() != schederrors.ErrCodeAgentUnavailable {
		t.Errorf("error code = %s, want %s", sched.Code(), schederrors.ErrCodeAgentUnavailable)
	}

	got, err := dir.Get("a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != registry.StatusOffline {
		t.Errorf("agent status = %s, want offline after start failure", got.Status)
	}
	if pool.Size() != 0 {
		t.Errorf("pool size = %d, want 0", pool.Size())
	}
}

func TestPoolEnsureValidation(t *testing.T) {
	pool, _ := newTestPool(t, config.Default(), &stubStarter{})
	ctx := context.Background()

	disabled := testAgent("a1")
	disabled.Enabled = false
	if _, err := pool.Ensure(ctx, disabled); !errors.Is(err, ErrAgentDisabled) {
		t.Errorf("disabled agent error = %v, want ErrAgentDisabled", err)
	}

	bare := testAgent("a2")
	bare.Runtime = nil
	if _, err := pool.Ensure(ctx, bare); !errors.Is(err, ErrNoRuntime) {
		t.Errorf("bare agent error = %v, want ErrNoRuntime", err)
	}

	alien := testAgent("a3")
	alien.Runtime.Provider = "teletype"
	if _, err := pool.Ensure(ctx, alien); err == nil {
		t.Error("unknown provider must fail")
	}
}

func TestPoolReleaseEvictsAfterIdle(t *testing.T) {
	cfg := config.Default()
	cfg.EngineIdleEviction = 20 * time.Millisecond
	starter := &stubStarter{}
	pool, _ := newTestPool(t, cfg, starter)
	agent := testAgent("a1")

	if _, err := pool.Ensure(context.Background(), agent); err != nil {
		t.Fatal(err)
	}
	pool.Release("a1")

	deadline := time.After(2 * time.Second)
	for pool.Size() != 0 {
		select {
		case <-deadline:
			t.Fatal("idle engine was not evicted")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !starter.engines[0].isStopped() {
		t.Error("evicted engine must be stopped")
	}
}

func TestPoolEnsureCancelsPendingEviction(t *testing.T) {
	cfg := config.Default()
	cfg.EngineIdleEviction = 30 * time.Millisecond
	starter := &stubStarter{}
	pool, _ := newTestPool(t, cfg, starter)
	agent := testAgent("a1")

	ctx := context.Background()
	if _, err := pool.Ensure(ctx, agent); err != nil {
		t.Fatal(err)
	}
	pool.Release("a1")
	if _, err := pool.Ensure(ctx, agent); err != nil {
		t.Fatal(err)
	}

	time.Sleep(60 * time.Millisecond)
	if pool.Size() != 1 {
		t.Error("re-ensured engine must survive the idle window")
	}
	if starter.startCount() != 1 {
		t.Errorf("starts = %d, want 1", starter.startCount())
	}
}

func TestPoolReconcileKeepsBusyAgentsWarm(t *testing.T) {
	cfg := config.Default()
	cfg.EngineIdleEviction = 20 * time.Millisecond
	starter := &stubStarter{}
	pool, _ := newTestPool(t, cfg, starter)

	ctx := context.Background()
	if _, err := pool.Ensure(ctx, testAgent("busy")); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Ensure(ctx, testAgent("idle")); err != nil {
		t.Fatal(err)
	}

	pool.reconcile(tasks.Snapshot{
		SessionID: "sess-1",
		Tasks: []tasks.Task{
			{ID: "t1", Status: tasks.StatusRunning, AssignedTo: "busy"},
		},
	})

	deadline := time.After(2 * time.Second)
	for pool.Size() != 1 {
		select {
		case <-deadline:
			t.Fatal("idle engine was not evicted after reconcile")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if starter.engines[0].isStopped() {
		t.Error("busy agent's engine must stay warm")
	}
}

func TestPoolDisposeStopsEverything(t *testing.T) {
	starter := &stubStarter{}
	pool, _ := newTestPool(t, config.Default(), starter)

	ctx := context.Background()
	if _, err := pool.Ensure(ctx, testAgent("a1")); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Ensure(ctx, testAgent("a2")); err != nil {
		t.Fatal(err)
	}

	pool.Dispose()

	if pool.Size() != 0 {
		t.Errorf("pool size = %d, want 0 after dispose", pool.Size())
	}
	for i, eng := range starter.engines {
		if !eng.isStopped() {
			t.Errorf("engine %d not stopped on dispose", i)
		}
	}
	if _, err := pool.Ensure(ctx, testAgent("a3")); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("ensure after dispose = %v, want ErrPoolClosed", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	reg := NewBreakerRegistry(logging.New())
	cb := reg.Get("flaky")
	starter := &stubStarter{err: errors.New("connection refused")}
	agent := testAgent("flaky")

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := startWithResilience(ctx, starter, agent, cb, fastRetry())
		if err == nil {
			t.Fatal("start must keep failing")
		}
	}

	before := starter.startCount()
	if _, err := startWithResilience(ctx, starter, agent, cb, fastRetry()); err == nil {
		t.Fatal("open breaker must fail fast")
	}
	if starter.startCount() != before {
		t.Error("open breaker must not reach the starter")
	}
}
