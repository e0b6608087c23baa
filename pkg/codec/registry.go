// Package codec resolves the callables that items reference by name and
// encodes/decodes their arguments. It replaces the pickling layer of the
// original implementation: instead of serializing a function pointer,
// every deferrable function is registered under a stable name up front,
// and items carry that name across the wire.
package codec

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"
)

// Callable is the uniform shape every registered function is adapted to.
// args holds positional arguments in order; kwargs holds named arguments.
type Callable func(ctx context.Context, args []any, kwargs map[string]any) error

// funcInfo records where a callable was registered, for PrettyDescribe.
type funcInfo struct {
	fn   Callable
	name string
	file string
	line int
}

// Registry maps registered names to callables, and receiver ids to the
// objects a method-style call should be dispatched against.
type Registry struct {
	mu        sync.RWMutex
	funcs     map[string]funcInfo
	receivers map[string]any
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs:     make(map[string]funcInfo),
		receivers: make(map[string]any),
	}
}

// RegisterFunc associates name with fn. It panics on a duplicate name,
// since a silent overwrite would change which code a deferred item runs
// without anyone noticing.
func (r *Registry) RegisterFunc(name string, fn Callable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		panic(fmt.Sprintf("codec: callable %q already registered", name))
	}
	_, file, line, _ := runtime.Caller(1)
	r.funcs[name] = funcInfo{fn: fn, name: runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name(), file: file, line: line}
}

// RegisterReceiver associates objectID with obj, so that items carrying
// an Object field can be dispatched as a method call against obj via
// reflection, mirroring getattr(obj, method) in the original.
func (r *Registry) RegisterReceiver(objectID string, obj any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receivers[objectID] = obj
}

// Resolve returns the callable registered under name.
func (r *Registry) Resolve(name string) (Callable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fi, ok := r.funcs[name]
	return fi.fn, ok
}

// ResolveMethod looks up the receiver registered under objectID and
// returns a Callable that invokes its method named methodName via
// reflection. The method must have the signature
// func(context.Context, []any, map[string]any) error.
func (r *Registry) ResolveMethod(objectID, methodName string) (Callable, bool) {
	r.mu.RLock()
	obj, ok := r.receivers[objectID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	m := reflect.ValueOf(obj).MethodByName(methodName)
	if !m.IsValid() {
		return nil, false
	}
	fn, ok := m.Interface().(func(context.Context, []any, map[string]any) error)
	if !ok {
		return nil, false
	}
	return Callable(fn), true
}

// Describe returns a human-readable "name (file:line)" string for a
// registered function, used by PrettyDescribe. It returns name unchanged
// if name was never registered.
func (r *Registry) Describe(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fi, ok := r.funcs[name]
	if !ok {
		return name
	}
	return fmt.Sprintf("%s (%s:%d)", fi.name, fi.file, fi.line)
}
