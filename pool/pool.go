package pool

import (
	"context"
	"sync/atomic"

	"github.com/coachpo/flowpool/observability"
	"github.com/coachpo/flowpool/poolerr"
)

const (
	stateOpen int32 = iota
	stateDisposed
)

// Pool is the public facade over the reactive borrow/release engine. It owns
// the available and pending queues plus the live and pendingCount counters,
// and runs no long-lived background goroutines: all work happens on the
// thread of whoever calls Borrow, Release, or Dispose, on the short-lived
// goroutine startAllocation spawns to run one allocation, or on the
// configured DeliveryContext.
type Pool[R any] struct {
	name   string
	config PoolConfig[R]

	availableQueue *fifo[*PooledRef[R]]
	pendingQueue   *fifo[*Acquisition[R]]

	live         atomic.Int64
	pendingCount atomic.Int64
	state        atomic.Int32
	drainCount   atomic.Int32

	debug debugState[R]

	// testDeliverHook, when set, is invoked synchronously on the goroutine
	// that executes deliver's completion closure. It exists only so tests in
	// this package can observe the delivery-thread contract; production
	// construction via New never sets it.
	testDeliverHook func()
}

// New builds a Pool from config, validates it, and synchronously pre-warms
// MinSize resources by invoking the allocator MinSize times. If any
// pre-warm allocation fails, New returns that error and no pool is
// constructed.
func New[R any](ctx context.Context, config PoolConfig[R]) (*Pool[R], error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	name := config.Name
	if name == "" {
		name = "unnamed"
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p := &Pool[R]{
		name:           name,
		config:         config,
		availableQueue: newFIFO[*PooledRef[R]](),
		pendingQueue:   newFIFO[*Acquisition[R]](),
	}

	for i := 0; i < config.MinSize; i++ {
		resource, err := config.Allocator(ctx)
		if err != nil {
			return nil, poolerr.AllocatorError(name, err)
		}
		ref := newPooledRef(p, resource)
		p.debug.remember(ref)
		p.availableQueue.Push(ref)
		p.live.Add(1)
	}

	observability.Log().Info("pool started",
		observability.Field{Key: "pool", Value: name},
		observability.Field{Key: "minSize", Value: config.MinSize},
		observability.Field{Key: "maxSize", Value: config.MaxSize},
	)
	return p, nil
}

// Borrow returns a cold AcquisitionHandle; no work happens until the caller
// calls Subscribe on it.
func (p *Pool[R]) Borrow() AcquisitionHandle[R] {
	return AcquisitionHandle[R]{pool: p}
}

// Acquire is borrow-then-wait sugar: it subscribes immediately and blocks
// until the acquisition resolves or ctx is done.
func (p *Pool[R]) Acquire(ctx context.Context) (*PooledRef[R], error) {
	return p.Borrow().Subscribe().Wait(ctx)
}

// TryBorrow completes immediately: it returns an available ref if one can
// be handed over without allocation or waiting, and poolerr.ErrWouldBlock
// otherwise. It never triggers allocation and never enqueues a waiter.
func (p *Pool[R]) TryBorrow() (*PooledRef[R], error) {
	if p.IsDisposed() {
		return nil, poolerr.ShutdownError(p.name)
	}
	ref, ok := p.availableQueue.Pop()
	if !ok {
		return nil, poolerr.ErrWouldBlock(p.name)
	}
	ref.onAcquired()
	return ref, nil
}

// BorrowMany acquires n refs, waiting for all of them; ctx applies to the
// whole batch. On partial failure every ref already acquired is released
// before the error is returned, so a failed batch never leaks resources.
func (p *Pool[R]) BorrowMany(ctx context.Context, n int) ([]*PooledRef[R], error) {
	refs := make([]*PooledRef[R], 0, n)
	for i := 0; i < n; i++ {
		ref, err := p.Acquire(ctx)
		if err != nil {
			ReleaseMany(ctx, refs)
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// ReleaseMany releases every ref in refs, collecting and joining any
// release errors rather than stopping at the first one.
func ReleaseMany[R any](ctx context.Context, refs []*PooledRef[R]) error {
	errs := make([]error, 0, len(refs))
	for _, ref := range refs {
		if ref == nil {
			continue
		}
		if err := ref.Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return observability.AggregateErrors("release many", errs)
}

// BorrowInScope performs a borrow, runs fn over the acquired ref, and
// releases the ref exactly once when fn returns, regardless of whether fn
// returned an error or panicked. The panic is re-raised after the release
// runs, matching the "release on any terminal signal" contract.
func (p *Pool[R]) BorrowInScope(ctx context.Context, fn func(context.Context, R) error) (err error) {
	ref, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		releaseErr := ref.Release(ctx)
		if err == nil {
			err = releaseErr
		}
	}()
	return fn(ctx, ref.Poolable())
}

// IsDisposed reports whether Dispose has been called. It turns true at the
// start of Dispose, before the queues are drained.
func (p *Pool[R]) IsDisposed() bool {
	return p.state.Load() == stateDisposed
}

// Dispose transitions the pool to its terminal state. It is idempotent: a
// second call is a no-op. Once disposed: every available ref is destroyed,
// every borrower still pending is failed with ShutdownError, and every ref
// currently on loan is left untouched — it will be destroyed on its own
// explicit release rather than here.
func (p *Pool[R]) Dispose() {
	if !p.state.CompareAndSwap(stateOpen, stateDisposed) {
		return
	}

	var destroyErrs []error
	for {
		ref, ok := p.availableQueue.Pop()
		if !ok {
			break
		}
		p.live.Add(-1)
		destroyErrs = append(destroyErrs, p.destroyRef(ref))
	}
	_ = observability.AggregateErrors("dispose", destroyErrs,
		observability.Field{Key: "pool", Value: p.name})

	for {
		borrower, ok := p.pendingQueue.Pop()
		if !ok {
			break
		}
		p.pendingCount.Add(-1)
		borrower.tryFail(poolerr.ShutdownError(p.name))
	}

	observability.Log().Info("pool disposed",
		observability.Field{Key: "pool", Value: p.name},
		observability.Field{Key: "outstanding", Value: p.live.Load()},
	)

	if stacks := p.debug.activeStacks(); len(stacks) > 0 {
		observability.Log().Error("pool disposed with resources still on loan",
			observability.Field{Key: "pool", Value: p.name},
			observability.Field{Key: "count", Value: len(stacks)},
			observability.Field{Key: "stacks", Value: stacks},
		)
	}
}

// subscribeBorrow enqueues a pending borrower and invokes the drainer. If
// the pool is already disposed, the returned Acquisition resolves
// immediately with ShutdownError without ever touching the queues.
func (p *Pool[R]) subscribeBorrow() *Acquisition[R] {
	acq := newAcquisition[R]()
	if p.IsDisposed() {
		acq.tryFail(poolerr.ShutdownError(p.name))
		return acq
	}
	p.pendingQueue.Push(acq)
	p.pendingCount.Add(1)
	p.drain()
	return acq
}

// releaseRef runs the release protocol for ref: destroy it if the pool is
// disposed or it fails invalidation, run the release handler and destroy on
// its failure, or recycle it into the available queue on a healthy return.
func (p *Pool[R]) releaseRef(ctx context.Context, ref *PooledRef[R]) error {
	if p.IsDisposed() {
		p.live.Add(-1)
		_ = p.destroyRef(ref)
		return nil
	}

	if p.config.InvalidationPredicate != nil && p.config.InvalidationPredicate(ref) {
		p.live.Add(-1)
		_ = p.destroyRef(ref)
		p.drain()
		return nil
	}

	if p.config.ReleaseHandler != nil {
		if err := p.config.ReleaseHandler(ctx, ref.resource); err != nil {
			p.live.Add(-1)
			_ = p.destroyRef(ref)
			p.drain()
			return poolerr.ReleaseCleanerError(p.name, err)
		}
	}

	p.availableQueue.Push(ref)
	p.drain()
	return nil
}
