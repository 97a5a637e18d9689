// Package poolerr provides structured error types for the flowpool object
// pool engine. It mirrors the error-envelope shape used across the rest of
// the stack (a Code-tagged struct built with functional Options) so pool
// errors compose the same way as every other subsystem's errors.
package poolerr

import (
	"strconv"
	"strings"
)

// Code identifies a pool error category.
type Code string

const (
	// CodeShutdown indicates the pool has already transitioned to DISPOSED.
	CodeShutdown Code = "shutdown"
	// CodeAllocator indicates the allocator's deferred computation failed.
	CodeAllocator Code = "allocator_error"
	// CodeReleaseCleaner indicates the release handler's deferred computation failed.
	CodeReleaseCleaner Code = "release_cleaner_error"
	// CodeDestruction indicates a resource's close/dispose capability failed
	// during destruction. Never returned to a caller; only ever logged.
	CodeDestruction Code = "destruction_error"
	// CodeInvalidConfig indicates a PoolConfig failed constructor-time validation.
	CodeInvalidConfig Code = "invalid_config"
	// CodeWouldBlock indicates a non-blocking operation could not complete immediately.
	CodeWouldBlock Code = "would_block"
)

// ShutdownMessage is the exact, assert-visible contract string surfaced on
// borrow-after-dispose and to every borrower still pending at dispose time.
const ShutdownMessage = "Pool has been shut down"

// DestructionWarnMessage is the fixed message logged (at error level, the
// lowest failure level the Logger interface has) when a resource's Close
// capability fails during destruction.
const DestructionWarnMessage = "released Poolable that is Closeable"

// E captures structured error information produced by a pool.
type E struct {
	Pool    string
	Code    Code
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the named pool and error code.
func New(pool string, code Code, opts ...Option) *E {
	e := &E{Pool: strings.TrimSpace(pool), Code: code}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) { e.Message = trimmed }
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) { e.cause = err }
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	pool := e.Pool
	if pool == "" {
		pool = "unknown"
	}
	parts = append(parts, "pool="+pool)

	code := string(e.Code)
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *E) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// ShutdownError builds the canonical shutdown error for the named pool. Its
// rendered message always contains ShutdownMessage verbatim.
func ShutdownError(pool string) *E {
	return New(pool, CodeShutdown, WithMessage(ShutdownMessage))
}

// AllocatorError wraps an allocator failure for the named pool.
func AllocatorError(pool string, cause error) *E {
	return New(pool, CodeAllocator, WithMessage("allocator failed"), WithCause(cause))
}

// ReleaseCleanerError wraps a release-handler failure for the named pool.
func ReleaseCleanerError(pool string, cause error) *E {
	return New(pool, CodeReleaseCleaner, WithMessage("release handler failed"), WithCause(cause))
}

// DestructionError wraps a Close/Dispose capability failure encountered
// while destroying a resource. Callers never see this error returned from a
// public API call; it exists so destruction failures can be logged and
// joined uniformly.
func DestructionError(pool string, cause error) *E {
	return New(pool, CodeDestruction, WithMessage(DestructionWarnMessage), WithCause(cause))
}

// InvalidConfigError wraps a PoolConfig validation failure.
func InvalidConfigError(pool string, message string) *E {
	return New(pool, CodeInvalidConfig, WithMessage(message))
}

// ErrWouldBlock is returned by non-blocking operations (TryBorrow) when
// completing immediately is impossible.
func ErrWouldBlock(pool string) *E {
	return New(pool, CodeWouldBlock, WithMessage("operation would block"))
}
