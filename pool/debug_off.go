//go:build !debug

package pool

// debugState is a zero-cost stand-in when the debug tag is off: every
// method is a no-op so the pool's hot path never pays for leak tracking
// unless a caller opts in at build time.
type debugState[R any] struct{}

func (d *debugState[R]) remember(*PooledRef[R]) {}

func (d *debugState[R]) forget(*PooledRef[R]) {}

func (d *debugState[R]) activeStacks() []string { return nil }
