// Package pool implements a reactive, bounded object pool: borrowers
// subscribe to a cold AcquisitionHandle to obtain a PooledRef and complete a
// ReleaseHandle to return it.
package pool

// Closeable is the capability checked first during destruction: a resource
// that owns an OS or network handle implements it so the pool can ask it to
// close cleanly. Close failures are never propagated to callers — they are
// logged at error level (poolerr.DestructionWarnMessage) and swallowed.
type Closeable interface {
	Close() error
}

// Disposer is the weaker capability checked when a resource is not
// Closeable.
type Disposer interface {
	Dispose()
}

// Executor schedules a unit of work on a named execution context. It is the
// delivery/scheduler abstraction PoolConfig.DeliveryContext accepts;
// lib/async.Executor is this module's concrete production implementation.
type Executor interface {
	Schedule(func())
}
