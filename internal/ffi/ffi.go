// Package ffi implements the native call hook of spec.md §6: an
// opaque bridge to host functions, invoked only from the
// interpreter's FFI instruction family and always off the blocking
// pool since native calls are assumed synchronous and potentially
// slow.
package ffi

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/embervm/ember/internal/process"
	"github.com/embervm/ember/internal/value"
)

// ErrNativeCall wraps any error returned by a registered Call. A name
// with no registration yields ErrUnknownFunction instead.
var ErrNativeCall = errors.New("ffi: native call failed")

// ErrUnknownFunction names a lookup miss distinctly from a call
// failure so the interpreter can attribute the thrown value clearly.
var ErrUnknownFunction = errors.New("ffi: unknown native function")

// Call is the shape every native function registers under. It
// receives the calling process so host functions can inspect process
// state (e.g. to attribute resource usage) without a wider interface.
type Call func(ctx context.Context, proc *process.Process, args []value.Ref) (value.Ref, error)

// Registry maps names the FFI instruction's literal operand resolves
// to into Call implementations. Registration happens once at VM
// startup; lookups happen on the hot path of every FFI instruction,
// so Registry is read-mostly and guarded by an RWMutex.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]Call
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]Call)}
}

// Register adds or replaces the Call bound to name.
func (r *Registry) Register(name string, fn Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[name] = fn
}

// Unregister removes name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, name)
}

// Invoke resolves name and runs it synchronously on the calling
// goroutine. The interpreter calls it from inside
// scheduler.SubmitBlocking, so FFI calls run on the blocking pool.
func (r *Registry) Invoke(ctx context.Context, name string, proc *process.Process, args []value.Ref) (value.Ref, error) {
	r.mu.RLock()
	fn, ok := r.calls[name]
	r.mu.RUnlock()
	if !ok {
		return value.Nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	result, err := fn(ctx, proc, args)
	if err != nil {
		return value.Nil, fmt.Errorf("%w: %s: %s", ErrNativeCall, name, err)
	}
	return result, nil
}

// Names returns the currently registered function names, for
// diagnostics and tests.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.calls))
	for n := range r.calls {
		names = append(names, n)
	}
	return names
}
