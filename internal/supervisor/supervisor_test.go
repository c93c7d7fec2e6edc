package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunStopsOnCancel(t *testing.T) {
	s := New()
	var stopped atomic.Bool
	s.Add("blocker", func(ctx context.Context) error {
		<-ctx.Done()
		stopped.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
	if !stopped.Load() {
		t.Fatal("task never observed cancellation")
	}
}

func TestFinishedTaskNotRelaunched(t *testing.T) {
	s := New()
	var runs atomic.Int32
	s.Add("once", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
}

func TestFailingTaskRelaunchesWithBackoff(t *testing.T) {
	s := New()
	var runs atomic.Int32
	s.Add("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 2 {
			return errors.New("boom")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Run(ctx)

	if got := runs.Load(); got != 2 {
		t.Fatalf("runs = %d, want 2", got)
	}
}

func TestRestartableTrigger(t *testing.T) {
	s := New()
	var runs atomic.Int32
	trigger := s.AddRestartable("monitor", func(ctx context.Context) error {
		runs.Add(1)
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Wait for the first run, bounce it, wait for the second.
	waitFor(t, func() bool { return runs.Load() >= 1 })
	trigger()
	waitFor(t, func() bool { return runs.Load() >= 2 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
