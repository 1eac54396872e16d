// Package registry deduplicates concurrently-open handles per canonical
// filename, refcounting them the way spec §4.10 describes, and collapses
// racing concurrent opens of the same path into a single underlying open
// using golang.org/x/sync/singleflight (SPEC_FULL.md §4.13).
//
// Reference: grounded on the teacher's internal/cache refcounting pattern,
// generalized with a type parameter so the registry never needs to import
// the concrete handle type (avoiding a cycle with the root package, which
// is the registry's only caller).
package registry

import (
	"io"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

type entry[T io.Closer] struct {
	handle   T
	refcount int
}

// Registry is a process-wide map from canonical path to a refcounted
// handle. The zero value is not usable; use New.
type Registry[T io.Closer] struct {
	mu      sync.Mutex
	group   singleflight.Group
	entries map[string]*entry[T]
}

// New creates an empty registry.
func New[T io.Closer]() *Registry[T] {
	return &Registry[T]{entries: make(map[string]*entry[T])}
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// Open returns the existing handle for path with its refcount incremented,
// or calls openFn to create one if none exists. Concurrent Open calls for
// the same path that race to create a handle are collapsed into a single
// openFn invocation; the losers receive the winner's handle and never
// call openFn themselves.
func (r *Registry[T]) Open(path string, openFn func() (T, error)) (T, error) {
	var zero T
	canon, err := canonicalize(path)
	if err != nil {
		return zero, err
	}

	r.mu.Lock()
	if e, ok := r.entries[canon]; ok {
		e.refcount++
		r.mu.Unlock()
		return e.handle, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(canon, func() (any, error) {
		r.mu.Lock()
		if e, ok := r.entries[canon]; ok {
			e.refcount++
			r.mu.Unlock()
			return e.handle, nil
		}
		r.mu.Unlock()

		h, err := openFn()
		if err != nil {
			return zero, err
		}

		r.mu.Lock()
		if e, ok := r.entries[canon]; ok {
			// Lost a race with a non-singleflight path between our first
			// unlocked check and now; close our redundant handle and
			// share the winner's.
			e.refcount++
			r.mu.Unlock()
			_ = h.Close()
			return e.handle, nil
		}
		r.entries[canon] = &entry[T]{handle: h, refcount: 1}
		r.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// Close decrements path's refcount, tearing the handle down with closeFn
// once it reaches zero. Closing a path with no registered handle is a
// no-op, matching Close's idempotence requirement one layer up.
func (r *Registry[T]) Close(path string, closeFn func(T) error) error {
	canon, err := canonicalize(path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	e, ok := r.entries[canon]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	e.refcount--
	if e.refcount > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, canon)
	r.mu.Unlock()
	return closeFn(e.handle)
}

// Len reports the number of distinct open paths. Test hook, per design
// note "expose test hooks to clear it".
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear forcibly empties the registry without closing any handles. Test
// hook only; production code should let refcounts reach zero naturally.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry[T])
}
