package pool

import (
	"github.com/coachpo/flowpool/observability"
	"github.com/coachpo/flowpool/poolerr"
)

// destroyRef permanently removes ref's resource from the pool. If the
// resource is Closeable, Close is invoked and any failure is logged through
// observability.Logger's Error method (the Logger interface has no warn
// level) with the fixed message poolerr.DestructionWarnMessage; the
// resulting DestructionError is returned to the internal caller only — it
// never propagates to a borrower or releaser. Otherwise, if the resource is
// a Disposer, Dispose is invoked.
func (p *Pool[R]) destroyRef(ref *PooledRef[R]) error {
	p.debug.forget(ref)

	var resource any = ref.resource
	if closer, ok := resource.(Closeable); ok {
		if err := closer.Close(); err != nil {
			destroyErr := poolerr.DestructionError(p.name, err)
			observability.Log().Error(poolerr.DestructionWarnMessage,
				observability.Field{Key: "pool", Value: p.name},
				observability.Field{Key: "ref", Value: ref.id.String()},
				observability.Field{Key: "error", Value: err.Error()},
			)
			return destroyErr
		}
		return nil
	}
	if disposer, ok := resource.(Disposer); ok {
		disposer.Dispose()
	}
	return nil
}
