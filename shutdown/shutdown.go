// Package shutdown coordinates ordered teardown of dispatch components.
//
// Teardown runs in phases: first stop taking in new work, then drain
// what is running, then close the stores and feeds underneath. Steps
// in the same phase stop concurrently.
//
//	coord := shutdown.New(shutdown.WithLogger(log))
//	coord.Register("scheduler feed", shutdown.PhaseIntake, func(ctx context.Context) error {
//		return sub.Unsubscribe()
//	})
//	coord.Register("engine pool", shutdown.PhaseDrain, func(ctx context.Context) error {
//		pool.Dispose()
//		return nil
//	})
//	coord.Register("task store", shutdown.PhaseStores, func(ctx context.Context) error {
//		return repo.Close()
//	})
//	coord.WaitForSignal(ctx, 30*time.Second)
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/dispatchkit/logging"
)

// Teardown phases, lowest first.
const (
	// PhaseIntake stops components that pull in new work: feed
	// listeners, the scheduler, maintenance loops.
	PhaseIntake = 10

	// PhaseDrain winds down in-flight work: the engine pool, workers.
	PhaseDrain = 20

	// PhaseStores closes what everything else sits on: repositories,
	// the bus, directories.
	PhaseStores = 30
)

// Common errors.
var (
	ErrTimeout    = errors.New("shutdown timeout exceeded")
	ErrStepFailed = errors.New("one or more shutdown steps failed")
)

// StopFunc stops one component. The context is canceled when the
// teardown deadline passes.
type StopFunc func(ctx context.Context) error

type step struct {
	name  string
	phase int
	stop  StopFunc
}

// Coordinator runs registered stop functions phase by phase.
type Coordinator struct {
	log *logging.Logger

	mu    sync.Mutex
	steps []step
	once  sync.Once
	done  chan struct{}
	err   error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the teardown logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Coordinator) {
		c.log = log.WithComponent("shutdown")
	}
}

// New creates an empty coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		log:  logging.New().WithComponent("shutdown"),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a stop step. Steps run in ascending phase order;
// steps sharing a phase run concurrently.
func (c *Coordinator) Register(name string, phase int, stop StopFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step{name: name, phase: phase, stop: stop})
}

// Shutdown runs the teardown once. Later calls return the first run's
// result.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.run(ctx)
		close(c.done)
	})
	<-c.done
	return c.err
}

// WaitForSignal blocks until SIGINT/SIGTERM arrives or the context is
// canceled, then runs the teardown with the given grace period.
func (c *Coordinator) WaitForSignal(ctx context.Context, grace time.Duration) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case <-ctx.Done():
	case <-sigs:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return c.Shutdown(stopCtx)
}

// Done is closed when the teardown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	steps := make([]step, len(c.steps))
	copy(steps, c.steps)
	c.mu.Unlock()

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].phase < steps[j].phase
	})

	start := time.Now()
	var failed bool
	for begin := 0; begin < len(steps); {
		end := begin
		for end < len(steps) && steps[end].phase == steps[begin].phase {
			end++
		}

		select {
		case <-ctx.Done():
			c.log.Error("teardown deadline exceeded", map[string]interface{}{
				"phase":   steps[begin].phase,
				"elapsed": time.Since(start).String(),
			})
			return ErrTimeout
		default:
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, s := range steps[begin:end] {
			wg.Add(1)
			go func(s step) {
				defer wg.Done()
				if err := s.stop(ctx); err != nil {
					mu.Lock()
					failed = true
					mu.Unlock()
					c.log.Error("shutdown step failed", map[string]interface{}{
						"step":  s.name,
						"error": err.Error(),
					})
					return
				}
				c.log.Info("stopped", map[string]interface{}{
					"step": s.name,
				})
			}(s)
		}
		wg.Wait()
		begin = end
	}

	if failed {
		return ErrStepFailed
	}
	return nil
}
