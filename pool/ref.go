package pool

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// PooledRef is the custody token handed to a borrower for exactly one
// resource. At any instant it is in exactly one of three logical locations:
// inside the pool's available queue, on loan to a borrower, or destroyed.
// Custody is tracked with an atomic flag on the ref itself rather than a
// side-table of leases.
type PooledRef[R any] struct {
	id       uuid.UUID
	pool     *Pool[R]
	resource R

	uses        atomic.Int32
	releaseOnce atomic.Bool
}

func newPooledRef[R any](p *Pool[R], resource R) *PooledRef[R] {
	ref := &PooledRef[R]{id: uuid.New(), pool: p, resource: resource}
	// Not yet on loan: Release must be a no-op until a drainer pass delivers
	// this ref to a borrower and calls onAcquired.
	ref.releaseOnce.Store(true)
	return ref
}

// ID returns this ref's stable identity, used as the debug/lease map key so
// tracking survives any wrapping the resource itself might do.
func (r *PooledRef[R]) ID() uuid.UUID { return r.id }

// Poolable returns the underlying resource.
func (r *PooledRef[R]) Poolable() R { return r.resource }

// UseCount reports how many times this ref has been delivered to a
// borrower. InvalidationPredicate implementations read it to retire a ref
// after N uses.
func (r *PooledRef[R]) UseCount() int32 { return r.uses.Load() }

func (r *PooledRef[R]) onAcquired() {
	r.uses.Add(1)
	r.releaseOnce.Store(false)
}

// ReleaseHandle returns the deferred release computation for this ref.
// Constructing the handle performs no work; Subscribe runs the release
// protocol.
func (r *PooledRef[R]) ReleaseHandle() ReleaseHandle[R] {
	return ReleaseHandle[R]{ref: r}
}

// Release is convenience sugar for r.ReleaseHandle().Subscribe(ctx).
// Idempotent per ref: a second call is a no-op returning nil.
func (r *PooledRef[R]) Release(ctx context.Context) error {
	return r.ReleaseHandle().Subscribe(ctx)
}

// ReleaseHandle is the deferred release computation for a PooledRef. It
// guards single-shot release semantics: a ref may be delivered to many
// borrowers over its lifetime, but each delivery grants exactly one live
// release.
type ReleaseHandle[R any] struct {
	ref *PooledRef[R]
}

// Subscribe runs the release protocol:
//  1. disposed pool         -> destroy, no return to the available set
//  2. unhealthy ref         -> destroy via InvalidationPredicate
//  3. release handler error -> destroy, surface error to releaser
//  4. otherwise             -> recycle into the available queue
//
// A second Subscribe on an already-released ref is a no-op returning nil.
func (h ReleaseHandle[R]) Subscribe(ctx context.Context) error {
	r := h.ref
	if !r.releaseOnce.CompareAndSwap(false, true) {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return r.pool.releaseRef(ctx, r)
}
