package pool

import (
	"context"
	"sync/atomic"
)

type acqState int32

const (
	acqPending acqState = iota
	acqCompleted
	acqFailed
	acqCancelled
)

// Acquisition is both the pending-borrower record queued internally and the
// borrower-facing one-shot future returned by AcquisitionHandle.Subscribe.
// Exactly one of {Wait claiming a delivered ref, Cancel reclaiming one} ever
// wins a given delivery — see claimed below — which resolves the race
// between a borrower cancelling and a ref arriving for it without extra
// locking.
type Acquisition[R any] struct {
	state   atomic.Int32
	claimed atomic.Bool
	done    chan struct{}

	ref *PooledRef[R]
	err error
}

func newAcquisition[R any]() *Acquisition[R] {
	return &Acquisition[R]{done: make(chan struct{})}
}

func (a *Acquisition[R]) isPending() bool {
	return acqState(a.state.Load()) == acqPending
}

// tryDeliver completes the acquisition with ref. It fails (returns false)
// if the acquisition was already cancelled — the caller must then route ref
// back through the normal release path rather than handing it to anyone.
func (a *Acquisition[R]) tryDeliver(ref *PooledRef[R]) bool {
	if !a.state.CompareAndSwap(int32(acqPending), int32(acqCompleted)) {
		return false
	}
	a.ref = ref
	close(a.done)
	return true
}

// tryFail completes the acquisition with err (ShutdownError, AllocatorError,
// ...). A no-op if the acquisition already resolved.
func (a *Acquisition[R]) tryFail(err error) bool {
	if !a.state.CompareAndSwap(int32(acqPending), int32(acqFailed)) {
		return false
	}
	a.err = err
	close(a.done)
	return true
}

// Cancel marks the acquisition cancelled if it has not yet resolved. The
// drainer skips cancelled entries when pairing. If the acquisition already
// resolved with a ref that nobody has claimed through Wait yet, Cancel
// reclaims it by running the ref's normal release protocol on the
// cancelling goroutine.
func (a *Acquisition[R]) Cancel() {
	if a.state.CompareAndSwap(int32(acqPending), int32(acqCancelled)) {
		close(a.done)
		return
	}
	if acqState(a.state.Load()) == acqCompleted && a.claimed.CompareAndSwap(false, true) {
		if a.ref != nil {
			_ = a.ref.Release(context.Background())
		}
	}
}

// Wait blocks until the acquisition resolves or ctx is done, returning the
// ref on success. If ctx is done first, Wait cancels the acquisition and
// returns ctx.Err(); a ref that was delivered in the same race is reclaimed
// rather than leaked.
func (a *Acquisition[R]) Wait(ctx context.Context) (*PooledRef[R], error) {
	select {
	case <-a.done:
	case <-ctx.Done():
		a.Cancel()
		<-a.done
	}

	if acqState(a.state.Load()) == acqCompleted && a.claimed.CompareAndSwap(false, true) {
		return a.ref, nil
	}
	if a.err != nil {
		return nil, a.err
	}
	return nil, ctx.Err()
}

// AcquisitionHandle is the cold, subscribe-driven handle returned by
// Pool.Borrow. Constructing it performs no work; Subscribe enqueues the
// borrower and runs the drainer.
type AcquisitionHandle[R any] struct {
	pool *Pool[R]
}

// Subscribe enqueues this borrow on the pending queue and invokes the
// drainer, returning the resulting Acquisition immediately. If the pool is
// already disposed, the Acquisition resolves at once with a shutdown error.
func (h AcquisitionHandle[R]) Subscribe() *Acquisition[R] {
	return h.pool.subscribeBorrow()
}
