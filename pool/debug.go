//go:build debug

package pool

import (
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// debugState tracks the allocation stack of every currently-live ref, keyed
// by ref identity rather than pointer, so it survives resources that wrap
// or copy themselves. Built only under the debug tag; the !debug variant in
// debug_off.go compiles to a zero-cost no-op.
type debugState[R any] struct {
	mu     sync.Mutex
	stacks map[uuid.UUID]string
}

func (d *debugState[R]) remember(ref *PooledRef[R]) {
	stack := string(debug.Stack())
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stacks == nil {
		d.stacks = make(map[uuid.UUID]string)
	}
	d.stacks[ref.id] = stack
}

func (d *debugState[R]) forget(ref *PooledRef[R]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.stacks, ref.id)
}

// activeStacks returns the allocation stack of every ref that has not yet
// been destroyed, for leak diagnostics at shutdown.
func (d *debugState[R]) activeStacks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.stacks) == 0 {
		return nil
	}
	out := make([]string, 0, len(d.stacks))
	for _, stack := range d.stacks {
		out = append(out, stack)
	}
	return out
}
