package pool

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/flowpool/poolerr"
)

// goroutineID extracts the numeric id from the current goroutine's stack
// trace header ("goroutine 123 [running]:"). It exists purely to let tests
// assert which goroutine actually ran a given piece of code, since Go
// exposes no other way to name the current goroutine.
func goroutineID() string {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	fields := strings.Fields(string(buf))
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

type fakeResource struct {
	id     int
	closed atomic.Bool
}

func (r *fakeResource) Close() error {
	r.closed.Store(true)
	return nil
}

func newCountingAllocator() (Allocator[*fakeResource], *atomic.Int64) {
	var n atomic.Int64
	return func(context.Context) (*fakeResource, error) {
		return &fakeResource{id: int(n.Add(1))}, nil
	}, &n
}

func TestWarmDelivery(t *testing.T) {
	alloc, _ := newCountingAllocator()
	p, err := New(context.Background(), PoolConfig[*fakeResource]{
		Name: "warm", MinSize: 1, MaxSize: 1, Allocator: alloc,
	})
	require.NoError(t, err)

	var deliveredOn string
	p.testDeliverHook = func() { deliveredOn = goroutineID() }

	callerID := goroutineID()
	acq := p.Borrow().Subscribe()
	ref, err := acq.Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ref)
	require.Equal(t, int32(1), ref.UseCount())
	require.Equal(t, callerID, deliveredOn, "warm delivery must run on the borrower's own calling goroutine")
	require.NoError(t, ref.Release(context.Background()))
}

func TestColdAllocationDelivery(t *testing.T) {
	var allocatorGoroutine atomic.Value // string
	var n atomic.Int64
	alloc := func(context.Context) (*fakeResource, error) {
		allocatorGoroutine.Store(goroutineID())
		return &fakeResource{id: int(n.Add(1))}, nil
	}
	p, err := New(context.Background(), PoolConfig[*fakeResource]{
		Name: "cold", MinSize: 0, MaxSize: 1, Allocator: alloc,
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), n.Load())

	var deliveredOn string
	p.testDeliverHook = func() { deliveredOn = goroutineID() }

	callerID := goroutineID()
	acq := p.Borrow().Subscribe()
	ref, err := acq.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n.Load())
	require.NotEqual(t, callerID, deliveredOn, "cold delivery must not run on the borrower's own goroutine")
	require.Equal(t, allocatorGoroutine.Load(), deliveredOn, "cold delivery must run on the allocator's completion goroutine")
	require.NoError(t, ref.Release(context.Background()))
}

func TestReleaseDelivery(t *testing.T) {
	alloc, _ := newCountingAllocator()
	p, err := New(context.Background(), PoolConfig[*fakeResource]{
		Name: "release", MinSize: 1, MaxSize: 1, Allocator: alloc,
	})
	require.NoError(t, err)

	ref1, err := p.Acquire(context.Background())
	require.NoError(t, err)

	var deliveredOn string
	p.testDeliverHook = func() { deliveredOn = goroutineID() }

	callerID := goroutineID()
	handle := p.Borrow()
	acq := handle.Subscribe()

	var releaserGoroutine string
	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		releaserGoroutine = goroutineID()
		require.NoError(t, ref1.Release(context.Background()))
		close(released)
	}()

	ref2, err := acq.Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ref2)
	<-released
	require.NotEqual(t, callerID, deliveredOn, "release-triggered delivery must not run on the waiting borrower's goroutine")
	require.Equal(t, releaserGoroutine, deliveredOn, "release-triggered delivery must run on the releaser's goroutine")
	require.NoError(t, ref2.Release(context.Background()))
}

type recordingExecutor struct {
	mu  sync.Mutex
	ran int
}

func (e *recordingExecutor) Schedule(fn func()) {
	// Run on a dedicated goroutine, like a real Executor, so tests configuring
	// DeliveryContext actually exercise scheduling onto a distinct goroutine
	// rather than an inline call that happens to look like one.
	go func() {
		e.mu.Lock()
		e.ran++
		e.mu.Unlock()
		fn()
	}()
}

func TestConfiguredDeliveryContext(t *testing.T) {
	alloc, _ := newCountingAllocator()
	exec := &recordingExecutor{}
	p, err := New(context.Background(), PoolConfig[*fakeResource]{
		Name: "delivery", MinSize: 1, MaxSize: 1, Allocator: alloc, DeliveryContext: exec,
	})
	require.NoError(t, err)

	ref, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, ref.Release(context.Background()))

	ref2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, ref2.Release(context.Background()))

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.GreaterOrEqual(t, exec.ran, 2)
}

func TestInvalidationRecycling(t *testing.T) {
	alloc, n := newCountingAllocator()
	p, err := New(context.Background(), PoolConfig[*fakeResource]{
		Name:    "invalidate",
		MinSize: 2,
		MaxSize: 3,
		Allocator: alloc,
		InvalidationPredicate: func(ref *PooledRef[*fakeResource]) bool {
			return ref.UseCount() >= 2
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), n.Load())

	for batch := 0; batch < 2; batch++ {
		refs, err := p.BorrowMany(context.Background(), 3)
		require.NoError(t, err)
		for _, r := range refs {
			require.LessOrEqual(t, r.UseCount(), int32(2))
		}
		require.NoError(t, ReleaseMany(context.Background(), refs))
	}

	refs, err := p.BorrowMany(context.Background(), 3)
	require.NoError(t, err)
	for _, r := range refs {
		require.Equal(t, int32(1), r.UseCount())
	}
	require.Equal(t, int64(6), n.Load())
	require.NoError(t, ReleaseMany(context.Background(), refs))
}

func TestShutdownFailsPendingBorrowers(t *testing.T) {
	alloc, _ := newCountingAllocator()
	p, err := New(context.Background(), PoolConfig[*fakeResource]{
		Name: "shutdown", MinSize: 3, MaxSize: 3, Allocator: alloc,
	})
	require.NoError(t, err)

	loaned, err := p.BorrowMany(context.Background(), 3)
	require.NoError(t, err)

	handle := p.Borrow()
	acq := handle.Subscribe()

	p.Dispose()
	require.True(t, p.IsDisposed())

	_, err = acq.Wait(context.Background())
	require.Error(t, err)
	var perr *poolerr.E
	require.True(t, errors.As(err, &perr))
	require.Contains(t, err.Error(), poolerr.ShutdownMessage)

	for _, ref := range loaned {
		require.False(t, ref.resource.closed.Load())
	}
	for _, ref := range loaned {
		require.NoError(t, ref.Release(context.Background()))
	}
	for _, ref := range loaned {
		require.True(t, ref.resource.closed.Load())
	}

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), poolerr.ShutdownMessage)
}

func TestCancelVsRequestRace(t *testing.T) {
	var mu sync.Mutex
	var allocated []*fakeResource
	alloc := func(context.Context) (*fakeResource, error) {
		time.Sleep(50 * time.Millisecond)
		r := &fakeResource{}
		mu.Lock()
		allocated = append(allocated, r)
		mu.Unlock()
		return r, nil
	}
	p, err := New(context.Background(), PoolConfig[*fakeResource]{
		Name: "race", MinSize: 1, MaxSize: 1, Allocator: alloc,
	})
	require.NoError(t, err)

	// Borrow and return the pre-warmed ref once, so the raced borrow below is
	// served from the available queue and Cancel races Wait for the
	// already-delivered ref.
	first, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Release(context.Background()))

	handle := p.Borrow()
	acq := handle.Subscribe()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		acq.Cancel()
	}()
	go func() {
		defer wg.Done()
		ref, err := acq.Wait(context.Background())
		if err == nil && ref != nil {
			_ = ref.Release(context.Background())
		}
	}()
	wg.Wait()

	p.Dispose()

	mu.Lock()
	defer mu.Unlock()
	for _, r := range allocated {
		require.True(t, r.closed.Load(), "every allocated resource must end up destroyed by dispose")
	}
}

func TestConstructorAllocatorFailure(t *testing.T) {
	boom := errors.New("boom")
	alloc := func(context.Context) (*fakeResource, error) {
		return nil, boom
	}
	p, err := New(context.Background(), PoolConfig[*fakeResource]{
		Name: "ctor-fail", MinSize: 1, MaxSize: 1, Allocator: alloc,
	})
	require.Error(t, err)
	require.Nil(t, p)
	require.ErrorIs(t, err, boom)
}

func TestPoolConfigValidation(t *testing.T) {
	_, err := New(context.Background(), PoolConfig[*fakeResource]{Name: "bad", MinSize: -1, MaxSize: 1, Allocator: func(context.Context) (*fakeResource, error) { return nil, nil }})
	require.Error(t, err)

	_, err = New(context.Background(), PoolConfig[*fakeResource]{Name: "bad", MinSize: 0, MaxSize: 0, Allocator: nil})
	require.Error(t, err)
}

func TestTryBorrowWouldBlock(t *testing.T) {
	alloc, _ := newCountingAllocator()
	p, err := New(context.Background(), PoolConfig[*fakeResource]{
		Name: "tryborrow", MinSize: 0, MaxSize: 1, Allocator: alloc,
	})
	require.NoError(t, err)

	_, err = p.TryBorrow()
	require.Error(t, err)
	var perr *poolerr.E
	require.True(t, errors.As(err, &perr))
	require.Equal(t, poolerr.CodeWouldBlock, perr.Code)

	ref, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, ref.Release(context.Background()))

	ref2, err := p.TryBorrow()
	require.NoError(t, err)
	require.NotNil(t, ref2)
	require.NoError(t, ref2.Release(context.Background()))
}

func TestBorrowInScopeReleasesOnError(t *testing.T) {
	alloc, _ := newCountingAllocator()
	p, err := New(context.Background(), PoolConfig[*fakeResource]{
		Name: "scope", MinSize: 1, MaxSize: 1, Allocator: alloc,
	})
	require.NoError(t, err)

	boom := errors.New("scope boom")
	err = p.BorrowInScope(context.Background(), func(ctx context.Context, r *fakeResource) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	ref, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, ref.Release(context.Background()))
}

func TestReleaseIsIdempotent(t *testing.T) {
	alloc, _ := newCountingAllocator()
	p, err := New(context.Background(), PoolConfig[*fakeResource]{
		Name: "idempotent", MinSize: 1, MaxSize: 1, Allocator: alloc,
	})
	require.NoError(t, err)

	ref, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, ref.Release(context.Background()))
	require.NoError(t, ref.Release(context.Background()))
}
