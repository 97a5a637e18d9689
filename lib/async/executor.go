// Package async provides a bounded goroutine-pool executor, the concrete
// implementation of the delivery/scheduler abstraction flowpool's Pool
// accepts as an optional PoolConfig.DeliveryContext.
package async

import (
	"context"
	"fmt"
	"sync"

	concpool "github.com/sourcegraph/conc/pool"
)

// Task represents a unit of work executed by the executor.
type Task func(context.Context) error

// Executor schedules a unit of work on a named execution context. It is the
// concrete type satisfying flowpool's pool.Executor interface: pool code
// never imports this package directly, it only depends on the narrow
// Schedule method.
type Executor struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	group  *concpool.Pool
	wg     sync.WaitGroup
	once   sync.Once
}

type job struct {
	ctx context.Context
	fn  Task
}

// executorClosedError is returned by Submit once Close has run; Schedule
// drops the task instead.
type executorClosedError struct{ name string }

func (e executorClosedError) Error() string { return fmt.Sprintf("async: executor %s closed", e.name) }

// NewExecutor builds a bounded executor backed by a conc worker pool with
// the given concurrency and queue depth. Panics inside a scheduled task are
// caught by conc and surfaced through Wait rather than crashing the process.
func NewExecutor(name string, workers, queue int) (*Executor, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("async: executor %s: workers must be >0", name)
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, queue),
		group:  concpool.New().WithMaxGoroutines(workers),
	}
	for i := 0; i < workers; i++ {
		e.group.Go(e.worker)
	}
	return e, nil
}

// Submit schedules fn for execution, blocking until a slot is free, the
// executor closes, or ctx is done.
func (e *Executor) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return fmt.Errorf("async: executor %s: task must not be nil", e.name)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if e.ctx.Err() != nil {
		return executorClosedError{e.name}
	}
	e.wg.Add(1)
	select {
	case <-e.ctx.Done():
		e.wg.Done()
		return executorClosedError{e.name}
	case <-ctx.Done():
		e.wg.Done()
		return fmt.Errorf("async: submit context: %w", ctx.Err())
	case e.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	}
}

// Schedule implements pool.Executor: it fires fn on an executor-owned
// goroutine, ignoring the (rare) error from a closed executor — a delivery
// context that has been shut down silently drops late deliveries, since the
// interface it satisfies has no failure return of its own.
func (e *Executor) Schedule(fn func()) {
	_ = e.Submit(context.Background(), func(context.Context) error {
		fn()
		return nil
	})
}

// Close stops accepting new tasks and cancels queued-but-unstarted workers.
// It deliberately never closes e.jobs: a Submit that is already parked on
// the `e.jobs <- job` send has no way to observe a concurrent close other
// than a panic, so workers rely solely on e.ctx being cancelled to stop, and
// Submit's own <-e.ctx.Done() case rejects new sends from that point on.
func (e *Executor) Close() {
	e.once.Do(func() {
		e.cancel()
	})
}

// Shutdown closes the executor and waits for in-flight tasks to complete or
// until ctx expires.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.Close()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.group.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("async: shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (e *Executor) worker() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case j, ok := <-e.jobs:
			if !ok {
				return
			}
			ctx := j.ctx
			if ctx == nil {
				ctx = e.ctx
			}
			_ = j.fn(ctx)
			e.wg.Done()
		}
	}
}
