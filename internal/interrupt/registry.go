// Package interrupt implements the process-wide interrupt registry (spec.md
// C4) and the per-task handler cache (spec.md C5) that sits between the
// syscall trampoline and the concrete handlers it dispatches to.
package interrupt

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipwis/kernel/internal/abi"
)

// Handler services one interrupt id for the duration of one task.
type Handler interface {
	// Invoke services a single syscall's opaque input payload and returns
	// the opaque output payload, or an error that becomes ERR_NORMAL.
	Invoke(ctx context.Context, mem MemoryAccessor, input []byte) ([]byte, error)
	// Release is awaited once, when the owning task ends.
	Release(ctx context.Context) error
}

// MemoryAccessor is the capability a Handler needs to resolve further
// guest-memory references embedded in its input (e.g. a stream handler's
// destination buffer). Implemented by *membridge.Bridge.
type MemoryAccessor interface {
	Load(d abi.ExternData) ([]byte, error)
	LoadMut(d abi.ExternData) ([]byte, error)
	LoadDoubled(ref abi.ExternDataRef) ([]byte, error)
	Dump(src []byte) (abi.ExternData, error)
}

// Module is a factory: it produces a fresh Handler instance for one task.
// Registered once per InterruptId at kernel boot.
type Module interface {
	ID() abi.InterruptId
	NewHandler() (Handler, error)
}

// Registry maps InterruptId to a handler factory. Built once at kernel
// boot and handed to the Scheduler; never mutated after a task starts
// (spec.md §9 "Global registry").
type Registry struct {
	mu       sync.RWMutex
	modules  map[abi.InterruptId]Module
	fallback Module
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[abi.InterruptId]Module)}
}

// Register adds module keyed by its InterruptId. Registering the same id
// twice is fatal (a configuration error, not a runtime one).
func (r *Registry) Register(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[m.ID()]; exists {
		return fmt.Errorf("interrupt module already registered: %s", m.ID())
	}
	r.modules[m.ID()] = m
	return nil
}

// SetFallback installs the catch-all module, replacing any previous one.
func (r *Registry) SetFallback(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = m
}

// SpawnHandler produces a fresh handler instance for id, if registered.
func (r *Registry) SpawnHandler(id abi.InterruptId) (Handler, bool) {
	r.mu.RLock()
	m, ok := r.modules[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	h, err := m.NewHandler()
	if err != nil {
		return nil, false
	}
	return h, true
}

// SpawnFallback produces a fresh instance of the fallback handler, if any
// is installed.
func (r *Registry) SpawnFallback() (Handler, bool) {
	r.mu.RLock()
	m := r.fallback
	r.mu.RUnlock()
	if m == nil {
		return nil, false
	}
	h, err := m.NewHandler()
	if err != nil {
		return nil, false
	}
	return h, true
}
