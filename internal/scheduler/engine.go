// Package scheduler implements the Scheduler (C9): wasm module
// compilation, instantiation, the full task spawn sequence of spec.md
// §4.7, and the engine-level resources (wasmer Engine/Store) those steps
// share.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipwis/kernel/internal/pkg/crypto"
	"github.com/wasmerio/wasmer-go/wasmer"
	"golang.org/x/sync/singleflight"
)

// Engine owns the process-wide wasmer Store and a compiled-module cache
// keyed by program content hash. Compiling the same program twice
// concurrently is deduplicated via singleflight, the same pattern the
// pool package in the teacher uses for deduplicating concurrent
// cold-start attempts against identical function configuration.
type Engine struct {
	store *wasmer.Store

	mu      sync.RWMutex
	modules map[string]*wasmer.Module
	group   singleflight.Group
}

// NewEngine constructs an Engine with a fresh wasmer Store backed by the
// default Cranelift-based compiler.
func NewEngine() *Engine {
	return &Engine{
		store:   wasmer.NewStore(wasmer.NewEngine()),
		modules: map[string]*wasmer.Module{},
	}
}

// Compile returns the cached *wasmer.Module for programBytes' content
// hash, compiling it on first use. Concurrent Compile calls for the same
// program share one compilation via singleflight rather than racing.
func (e *Engine) Compile(ctx context.Context, programBytes []byte) (*wasmer.Module, error) {
	key := crypto.HashBytes(programBytes)

	e.mu.RLock()
	if m, ok := e.modules[key]; ok {
		e.mu.RUnlock()
		return m, nil
	}
	e.mu.RUnlock()

	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		e.mu.RLock()
		if m, ok := e.modules[key]; ok {
			e.mu.RUnlock()
			return m, nil
		}
		e.mu.RUnlock()

		m, err := wasmer.NewModule(e.store, programBytes)
		if err != nil {
			return nil, fmt.Errorf("compile wasm module: %w", err)
		}
		e.mu.Lock()
		e.modules[key] = m
		e.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*wasmer.Module), nil
}

// Store returns the shared wasmer Store instances are created from.
func (e *Engine) Store() *wasmer.Store { return e.store }
