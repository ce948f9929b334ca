package core

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

type RegistryOptions struct {
	// MaxTables caps the number of distinct names; 0 means unlimited.
	MaxTables int
}

// Registry maps table names to handles and handles to core-side resources.
//
// Handles are derived from the xxhash of the name, so the same name tends to
// get the same handle across restarts; collisions probe upwards. A handle,
// once assigned, stays bound to its name until Reset.
type Registry[T any] struct {
	alloc     func(name string, h TableHandle) (T, error)
	maxTables int

	mu       sync.RWMutex
	byName   map[string]*registryEntry[T]
	byHandle map[TableHandle]*registryEntry[T]
}

type registryEntry[T any] struct {
	name   string
	handle TableHandle
	res    T
	refs   int

	// busy is non-nil while alloc or a Retire callback runs for this entry.
	busy chan struct{}
}

// NewRegistry returns a registry that calls alloc on the first open of each
// name. alloc runs outside the registry lock; concurrent opens of the same
// name wait for it, other names and lookups do not.
func NewRegistry[T any](alloc func(name string, h TableHandle) (T, error), opt RegistryOptions) *Registry[T] {
	return &Registry[T]{
		alloc:     alloc,
		maxTables: opt.MaxTables,
		byName:    make(map[string]*registryEntry[T]),
		byHandle:  make(map[TableHandle]*registryEntry[T]),
	}
}

// Open resolves name, allocating on first use, and takes a reference.
func (r *Registry[T]) Open(name string) (TableHandle, error) {
	r.mu.Lock()
	e := r.waitIdleLocked(name)
	if e != nil {
		e.refs++
		r.mu.Unlock()
		return e.handle, nil
	}

	if r.maxTables > 0 && len(r.byName) >= r.maxTables {
		n := len(r.byName)
		r.mu.Unlock()
		return NoHandle, fmt.Errorf("%w: %d tables open", ErrResourceExhausted, n)
	}

	h := r.pickHandleLocked(name)
	e = &registryEntry[T]{name: name, handle: h, busy: make(chan struct{})}
	r.byName[name] = e
	r.byHandle[h] = e
	r.mu.Unlock()

	res, err := r.alloc(name, h)

	r.mu.Lock()
	busy := e.busy
	e.busy = nil
	if err != nil {
		r.removeLocked(e)
	} else {
		e.res = res
		e.refs = 1
	}
	r.mu.Unlock()
	close(busy)

	if err != nil {
		return NoHandle, err
	}
	return h, nil
}

// waitIdleLocked returns the entry for name once nothing is running on it,
// or nil. Called and returns with r.mu held.
func (r *Registry[T]) waitIdleLocked(name string) *registryEntry[T] {
	for {
		e := r.byName[name]
		if e == nil || e.busy == nil {
			return e
		}
		busy := e.busy
		r.mu.Unlock()
		<-busy
		r.mu.Lock()
	}
}

func (r *Registry[T]) removeLocked(e *registryEntry[T]) {
	if r.byName[e.name] == e {
		delete(r.byName, e.name)
	}
	if r.byHandle[e.handle] == e {
		delete(r.byHandle, e.handle)
	}
}

// Retire runs f for a name that has no open references, holding off opens of
// that name until f returns. ok reports whether the name was bound. Retire
// fails with ErrTableInUse without calling f if the name is referenced.
func (r *Registry[T]) Retire(name string, f func(res T, ok bool) error) error {
	r.mu.Lock()
	e := r.waitIdleLocked(name)
	if e != nil && e.refs > 0 {
		n := e.refs
		r.mu.Unlock()
		return fmt.Errorf("%w: %s has %d open references", ErrTableInUse, name, n)
	}
	bound := e != nil
	if !bound {
		e = &registryEntry[T]{name: name}
		r.byName[name] = e
	}
	e.busy = make(chan struct{})
	res := e.res
	r.mu.Unlock()

	err := f(res, bound)

	r.mu.Lock()
	busy := e.busy
	e.busy = nil
	if !bound {
		r.removeLocked(e)
	}
	r.mu.Unlock()
	close(busy)
	return err
}

func (r *Registry[T]) pickHandleLocked(name string) TableHandle {
	h := TableHandle(xxhash.Sum64String(name))
	for h == NoHandle || r.byHandle[h] != nil {
		h++
	}
	return h
}

// Close drops one reference. Zero, unknown and fully released handles are
// ignored, so a close after a failed open is harmless.
func (r *Registry[T]) Close(h TableHandle) {
	if h == NoHandle {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.byHandle[h]; e != nil && e.refs > 0 {
		e.refs--
	}
}

// Lookup returns the resource behind h. Entries still being allocated or
// retired are not visible.
func (r *Registry[T]) Lookup(h TableHandle) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.byHandle[h]; e != nil && e.busy == nil {
		return e.res, true
	}
	var zero T
	return zero, false
}

func (r *Registry[T]) LookupName(name string) (TableHandle, T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.byName[name]; e != nil && e.busy == nil {
		return e.handle, e.res, true
	}
	var zero T
	return NoHandle, zero, false
}

func (r *Registry[T]) Name(h TableHandle) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.byHandle[h]; e != nil {
		return e.name
	}
	return ""
}

// Refs returns the number of outstanding references to h.
func (r *Registry[T]) Refs(h TableHandle) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.byHandle[h]; e != nil {
		return e.refs
	}
	return 0
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Each calls f for every allocated entry with its reference count. f must not
// call back into the registry.
func (r *Registry[T]) Each(f func(name string, h TableHandle, refs int, res T)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.byHandle {
		if e.busy == nil {
			f(e.name, e.handle, e.refs, e.res)
		}
	}
}

// Reset forgets every entry. Only for core teardown.
func (r *Registry[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.byName)
	clear(r.byHandle)
}
