package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// --- Unit Tests ---

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) step(name string) StopFunc {
	return func(_ context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, name)
		return nil
	}
}

func TestShutdownRunsPhasesInOrder(t *testing.T) {
	rec := &recorder{}
	c := New()
	c.Register("store", PhaseStores, rec.step("store"))
	c.Register("feed", PhaseIntake, rec.step("feed"))
	c.Register("pool", PhaseDrain, rec.step("pool"))

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	want := []string{"feed", "pool", "store"}
	if len(rec.order) != len(want) {
		t.Fatalf("order = %v, want %v", rec.order, want)
	}
	for i, name := range want {
		if rec.order[i] != name {
			t.Errorf("order[%d] = %s, want %s", i, rec.order[i], name)
		}
	}
}

func TestShutdownRunsOnce(t *testing.T) {
	calls := 0
	c := New()
	c.Register("store", PhaseStores, func(_ context.Context) error {
		calls++
		return nil
	})

	ctx := context.Background()
	if err := c.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	select {
	case <-c.Done():
	default:
		t.Error("Done must be closed after shutdown")
	}
}

func TestShutdownReportsStepFailure(t *testing.T) {
	rec := &recorder{}
	c := New()
	c.Register("broken", PhaseIntake, func(_ context.Context) error {
		return errors.New("listener stuck")
	})
	c.Register("store", PhaseStores, rec.step("store"))

	err := c.Shutdown(context.Background())
	if !errors.Is(err, ErrStepFailed) {
		t.Fatalf("err = %v, want ErrStepFailed", err)
	}
	// Later phases still run.
	if len(rec.order) != 1 || rec.order[0] != "store" {
		t.Errorf("order = %v, want [store]", rec.order)
	}
}

func TestShutdownTimeout(t *testing.T) {
	c := New()
	c.Register("slow", PhaseIntake, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c.Register("never", PhaseDrain, func(_ context.Context) error {
		t.Error("later phase must not run past the deadline")
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Shutdown(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestShutdownSamePhaseConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)

	// Both steps block until the other has started, which only
	// resolves if the phase runs them concurrently.
	step := func(_ context.Context) error {
		wg.Done()
		wg.Wait()
		return nil
	}

	c := New()
	c.Register("a", PhaseDrain, step)
	c.Register("b", PhaseDrain, step)

	done := make(chan error, 1)
	go func() { done <- c.Shutdown(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("same-phase steps deadlocked; they must run concurrently")
	}
}
