package pool

import (
	"context"

	"github.com/coachpo/flowpool/poolerr"
)

// drain runs the pairing loop exactly once per concurrent "epoch": the
// goroutine that observes drainCount transition 0->1 runs drainOnePass in a
// loop, decrementing the counter after each pass; any goroutine that calls
// drain while a pass is already running just bumps the counter and returns,
// guaranteeing its request is serviced by the current runner's next pass.
// Non-reentrant and serialised by an atomic counter rather than a mutex held
// across user code, the same way lifecycle transitions elsewhere in this
// package avoid holding locks across callouts.
func (p *Pool[R]) drain() {
	if p.drainCount.Add(1) != 1 {
		return
	}
	for {
		p.drainOnePass()
		if p.drainCount.Add(-1) == 0 {
			return
		}
		p.drainCount.Store(1)
	}
}

// drainOnePass performs a single pairing attempt: discard resolved
// borrowers, then match the head of the available queue against the head of
// the pending queue, allocate fresh capacity if only a borrower is waiting,
// or return if there is nothing to do.
//
// The available and pending queues are not exclusively owned by the
// drainer: TryBorrow pops the available queue directly and Dispose drains
// both queues, all outside drainCount's serialisation. So a Peek that saw a ref
// or a borrower is only a hint — by the time this pass actually pops, a
// concurrent non-drainer pop may have taken it. Every branch below commits
// only to what Pop() itself returns, never to a value a Peek saw one step
// earlier, and retries the pass when a concurrent pop wins the race.
func (p *Pool[R]) drainOnePass() {
	if p.IsDisposed() {
		return
	}

	for {
		// Discard borrowers that resolved (cancelled, or completed by a
		// racing Cancel/Wait) since they were enqueued; they no longer
		// occupy a pairing slot.
		for {
			borrower, ok := p.pendingQueue.Peek()
			if !ok || borrower.isPending() {
				break
			}
			p.pendingQueue.Pop()
			p.pendingCount.Add(-1)
		}

		_, hasRef := p.availableQueue.Peek()
		_, hasBorrower := p.pendingQueue.Peek()

		switch {
		case hasRef && hasBorrower:
			if p.pairOne() {
				return
			}
			// A concurrent pop (TryBorrow/Dispose) stole one side of the
			// pairing between the peeks above and pairOne's pops. The
			// stranded value, if any, has already been pushed back;
			// re-evaluate from scratch rather than acting on stale state.
			continue
		case hasRef && !hasBorrower:
			return
		case !hasRef && hasBorrower:
			if !p.tryClaimCapacity() {
				return
			}
			borrower, ok := p.pendingQueue.Pop()
			if !ok {
				// The borrower that justified claiming capacity is gone
				// (reaped concurrently by Dispose). Give the capacity back
				// and retry the pass.
				p.live.Add(-1)
				continue
			}
			p.pendingCount.Add(-1)
			p.startAllocation(borrower)
			return
		default:
			return
		}
	}
}

// pairOne pops one ref and one borrower and matches them using only the
// values Pop() actually returns. Returns false if a concurrent non-drainer
// pop won the race on one side; whichever side did pop is pushed back so
// it is never lost — the caller retries the pass.
func (p *Pool[R]) pairOne() bool {
	ref, hasRef := p.availableQueue.Pop()
	borrower, hasBorrower := p.pendingQueue.Pop()

	switch {
	case hasRef && hasBorrower:
		p.pendingCount.Add(-1)
		p.deliver(ref, borrower)
		return true
	case hasRef && !hasBorrower:
		p.availableQueue.Push(ref)
		return false
	case !hasRef && hasBorrower:
		p.pendingQueue.Push(borrower)
		return false
	default:
		return false
	}
}

// tryClaimCapacity CAS-bumps live up to maxSize, returning whether it won a
// slot. live is incremented before the allocator even starts, and
// decremented again if the allocator fails, so the bound holds under
// contention without ever overshooting maxSize.
func (p *Pool[R]) tryClaimCapacity() bool {
	for {
		cur := p.live.Load()
		if cur >= int64(p.config.MaxSize) {
			return false
		}
		if p.live.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// startAllocation runs the allocator on a dedicated goroutine on behalf of
// borrower, the specific pending borrower that justified this allocation
// (already popped from the pending queue by the caller, under drain
// serialisation, so no other pass can claim it). That goroutine becomes the
// delivery thread for the resulting ref, unless DeliveryContext is
// configured. On failure, borrower — and only borrower — is failed with the
// allocator error; a release arriving for some other waiter in the
// meantime never gets mistaken for the one that triggered this allocation.
func (p *Pool[R]) startAllocation(borrower *Acquisition[R]) {
	go func() {
		resource, err := p.config.Allocator(context.Background())
		if err != nil {
			p.live.Add(-1)
			borrower.tryFail(poolerr.AllocatorError(p.name, err))
			p.drain()
			return
		}
		ref := newPooledRef(p, resource)
		p.debug.remember(ref)
		p.deliver(ref, borrower)
	}()
}

// deliver hands ref to borrower honouring the delivery-thread contract:
// scheduled on PoolConfig.DeliveryContext if configured, otherwise run
// inline on whichever goroutine is executing this drain pass (the
// borrower's own subscribe goroutine when warm, the allocator's completion
// goroutine when cold, or the releaser's goroutine when the borrower had to
// wait for a release).
func (p *Pool[R]) deliver(ref *PooledRef[R], borrower *Acquisition[R]) {
	do := func() {
		if p.testDeliverHook != nil {
			p.testDeliverHook()
		}
		ref.onAcquired()
		if !borrower.tryDeliver(ref) {
			// Borrower cancelled in the window between pop and delivery:
			// route the ref back through the normal release path instead of
			// handing it to a cancelled caller.
			_ = ref.Release(context.Background())
		}
	}
	if p.config.DeliveryContext != nil {
		p.config.DeliveryContext.Schedule(do)
		return
	}
	do()
}
