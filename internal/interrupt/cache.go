package interrupt

import (
	"context"
	"fmt"

	"github.com/ipwis/kernel/internal/abi"
)

// ErrUnknownInterrupt is returned when neither a specific handler nor a
// fallback can be produced for an interrupt id.
type ErrUnknownInterrupt struct {
	ID abi.InterruptId
}

func (e *ErrUnknownInterrupt) Error() string {
	return fmt.Sprintf("failed to find the interrupt handler: %s", e.ID)
}

// cacheEntry pairs a handler with the id that produced it, so ReleaseAll
// can report which interrupt a release failure came from.
type cacheEntry struct {
	id abi.InterruptId
	h  Handler
}

// HandlerCache is the per-task, single-writer (the trampoline running on
// the task's own thread, spec.md invariant 4) cache of handler instances.
// Populated lazily on first use per id; drained on task release, ordinary
// handlers first (reverse insertion order among themselves) and the
// fallback last regardless of when it was first spawned.
type HandlerCache struct {
	registry     *Registry
	order        []cacheEntry // ordinary handlers only, insertion order
	byID         map[abi.InterruptId]Handler
	fallback     Handler
	fallbackUsed bool
	calls        int
}

// NewHandlerCache returns an empty cache backed by registry.
func NewHandlerCache(registry *Registry) *HandlerCache {
	return &HandlerCache{registry: registry, byID: make(map[abi.InterruptId]Handler)}
}

// Resolve implements spec.md §4.4's five-step lookup: cached handler, then
// a freshly spawned handler from the registry, then the cached fallback,
// then a freshly spawned fallback, then ErrUnknownInterrupt.
func (c *HandlerCache) Resolve(id abi.InterruptId) (Handler, error) {
	c.calls++
	if h, ok := c.byID[id]; ok {
		return h, nil
	}
	if h, ok := c.registry.SpawnHandler(id); ok {
		c.byID[id] = h
		c.order = append(c.order, cacheEntry{id: id, h: h})
		return h, nil
	}
	if c.fallback != nil {
		return c.fallback, nil
	}
	if h, ok := c.registry.SpawnFallback(); ok {
		c.fallback = h
		c.fallbackUsed = true
		return h, nil
	}
	return nil, &ErrUnknownInterrupt{ID: id}
}

// Calls returns the number of Resolve calls made so far, i.e. how many
// syscalls the guest has issued this task. Used for the per-task audit
// log line, not for any dispatch decision.
func (c *HandlerCache) Calls() int { return c.calls }

// ReleaseAll awaits every cached handler's Release, ordinary handlers
// first (reverse insertion order) and the fallback last. Errors are
// aggregated, never masking the task's own terminal result.
func (c *HandlerCache) ReleaseAll(ctx context.Context) []error {
	var errs []error
	for i := len(c.order) - 1; i >= 0; i-- {
		if err := c.order[i].h.Release(ctx); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", c.order[i].id, err))
		}
	}
	if c.fallbackUsed {
		if err := c.fallback.Release(ctx); err != nil {
			errs = append(errs, fmt.Errorf("release <fallback>: %w", err))
		}
	}
	c.order = nil
	c.byID = make(map[abi.InterruptId]Handler)
	c.fallback = nil
	c.fallbackUsed = false
	return errs
}
