package pool

import (
	"context"

	"github.com/coachpo/flowpool/poolerr"
)

// Allocator is the deferred factory producing one fresh resource on each
// subscription. Errors during pre-warm abort Pool construction; errors
// later fail the single borrower that triggered the allocation.
type Allocator[R any] func(ctx context.Context) (R, error)

// ReleaseHandler performs cleanup on a resource returning to the pool after
// a healthy use. An error here surfaces to the releaser and causes the
// resource to be destroyed rather than recycled.
type ReleaseHandler[R any] func(ctx context.Context, resource R) error

// InvalidationPredicate classifies a returning ref as unhealthy. A pure
// function: it must not mutate ref or resource state.
type InvalidationPredicate[R any] func(ref *PooledRef[R]) bool

// PoolConfig holds the immutable parameters of a Pool.
type PoolConfig[R any] struct {
	// Name identifies the pool in errors and log fields.
	Name string

	// MinSize resources are allocated synchronously at construction.
	MinSize int
	// MaxSize is the hard upper bound on concurrent live resources.
	MaxSize int

	// Allocator is required.
	Allocator Allocator[R]
	// ReleaseHandler is optional; nil means healthy returns need no cleanup.
	ReleaseHandler ReleaseHandler[R]
	// InvalidationPredicate is optional; nil means no ref is ever unhealthy.
	InvalidationPredicate InvalidationPredicate[R]
	// DeliveryContext is optional; when set, borrower completion callbacks
	// are scheduled on it instead of running on the current thread.
	DeliveryContext Executor
}

func (c PoolConfig[R]) validate() error {
	name := c.Name
	if name == "" {
		name = "unnamed"
	}
	if c.MinSize < 0 {
		return poolerr.InvalidConfigError(name, "minSize must be >= 0")
	}
	minBound := c.MinSize
	if minBound < 1 {
		minBound = 1
	}
	if c.MaxSize < minBound {
		return poolerr.InvalidConfigError(name, "maxSize must be >= max(1, minSize)")
	}
	if c.Allocator == nil {
		return poolerr.InvalidConfigError(name, "allocator must not be nil")
	}
	return nil
}
