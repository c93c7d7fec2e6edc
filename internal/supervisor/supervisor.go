package supervisor

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	baseBackoff = 5 * time.Second
	maxBackoff  = 5 * time.Minute
)

// Task is one long-running worker. Run returning nil means the task finished
// its work (a bounded shard completing, for example) and is not relaunched;
// an error relaunches it with exponential backoff.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor owns the process worker registry. Tasks are registered during
// startup and driven together by Run until the root context is cancelled.
type Supervisor struct {
	tasks []Task
}

func New() *Supervisor {
	return &Supervisor{}
}

func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, Task{Name: name, Run: run})
}

// AddRestartable registers a task that an operator can bounce at runtime.
// The returned trigger cancels the task's current run and relaunches it;
// triggers arriving while a restart is in flight coalesce.
func (s *Supervisor) AddRestartable(name string, run func(ctx context.Context) error) func() {
	restart := make(chan struct{}, 1)
	s.Add(name, func(ctx context.Context) error {
		for {
			sub, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- run(sub) }()

			select {
			case <-ctx.Done():
				cancel()
				<-done
				return nil
			case <-restart:
				log.Printf("[Supervisor] %s: restart requested", name)
				cancel()
				<-done
			case err := <-done:
				cancel()
				return err
			}
		}
	})
	return func() {
		select {
		case restart <- struct{}{}:
		default:
		}
	}
}

// Run launches every registered task and blocks until all have stopped.
// A task error triggers relaunch with exponential backoff, reset after a run
// that survived long enough to be considered healthy.
func (s *Supervisor) Run(ctx context.Context) {
	log.Printf("[Supervisor] Starting %d tasks", len(s.tasks))
	var wg sync.WaitGroup
	for _, t := range s.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			s.drive(ctx, t)
		}(t)
	}
	wg.Wait()
	log.Println("[Supervisor] All tasks stopped")
}

func (s *Supervisor) drive(ctx context.Context, t Task) {
	backoff := baseBackoff
	for {
		started := time.Now()
		err := t.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			log.Printf("[Supervisor] %s finished", t.Name)
			return
		}
		if time.Since(started) > time.Minute {
			backoff = baseBackoff
		}
		log.Printf("[Supervisor] %s failed: %v (relaunch in %s)", t.Name, err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// ServeHTTP runs srv until the context is cancelled, then drains in-flight
// requests within the grace window.
func ServeHTTP(ctx context.Context, srv *http.Server, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Printf("[Supervisor] Draining HTTP server (grace %s)", grace)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
