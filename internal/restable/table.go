// Package restable implements the generic, id-keyed resource table used
// throughout the kernel (spec.md C3): an insert-only store with explicit
// release, generating monotonic ids so that a handler's resources (stream
// readers, stream writers, or any other host-side object reachable from
// guest code) can be referenced opaquely by the guest.
package restable

import "sync"

// Releasable is implemented by values stored in a Table that need to free
// something on removal (a file handle, a goroutine, a connection).
type Releasable interface {
	Release() error
}

// Table is a generic, id-keyed, insert-only store with explicit removal.
// Ids are never reused and need not be dense: a failed insert simply
// discards the id it reserved. Not safe for concurrent use across tasks;
// each task owns its own tables (spec.md §5 "not shared across tasks").
type Table[T Releasable] struct {
	mu      sync.Mutex
	nextID  uint32
	entries map[uint32]T
	order   []uint32 // insertion order, for ReleaseAll
}

// New returns an empty resource table.
func New[T Releasable]() *Table[T] {
	return &Table[T]{entries: make(map[uint32]T)}
}

// Insert reserves the next id, calls f(id) to construct the value (so the
// value may embed its own id), and stores it on success. If f returns an
// error the reserved id is discarded and never reused.
func (t *Table[T]) Insert(f func(id uint32) (T, error)) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID

	v, err := f(id)
	if err != nil {
		var zero T
		_ = zero
		return 0, err
	}
	t.entries[id] = v
	t.order = append(t.order, id)
	return id, nil
}

// Get returns the value for id, if present.
func (t *Table[T]) Get(id uint32) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.entries[id]
	return v, ok
}

// Release calls the value's Release hook and removes it from the table.
func (t *Table[T]) Release(id uint32) error {
	t.mu.Lock()
	v, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	delete(t.entries, id)
	t.removeFromOrderLocked(id)
	t.mu.Unlock()
	return v.Release()
}

// ReleaseAll releases every remaining entry in insertion order, aggregating
// (not short-circuiting on) errors.
func (t *Table[T]) ReleaseAll() []error {
	t.mu.Lock()
	ids := make([]uint32, len(t.order))
	copy(ids, t.order)
	t.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := t.Release(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Len reports the number of live entries.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Table[T]) removeFromOrderLocked(id uint32) {
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}
