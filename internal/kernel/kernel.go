// Package kernel implements the Kernel Facade (C10): the single entry
// point external callers (the RPC shim, a CLI, an embedding process) use
// to spawn and observe tasks, without reaching into the Scheduler,
// Task Store, or interrupt Registry directly.
package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/ipwis/kernel/internal/abi"
	"github.com/ipwis/kernel/internal/admission"
	"github.com/ipwis/kernel/internal/auditsink"
	"github.com/ipwis/kernel/internal/domain"
	"github.com/ipwis/kernel/internal/interrupt"
	"github.com/ipwis/kernel/internal/scheduler"
	"github.com/ipwis/kernel/internal/streamhandler"
)

// Kernel wraps a Scheduler with the narrow surface spec.md §4.8
// describes: Spawn, Poll, Wait, Release. Construct with New, which
// registers the built-in stream handler module so every task gets
// working async I/O without further setup.
type Kernel struct {
	sched *scheduler.Scheduler
}

// Option configures the underlying Scheduler.
type Option = scheduler.Option

// WithUncheckedSpawn re-exports scheduler.WithUncheckedSpawn for callers
// constructing a Kernel directly.
func WithUncheckedSpawn() Option { return scheduler.WithUncheckedSpawn() }

// WithAdmission re-exports scheduler.WithAdmission.
func WithAdmission(h admission.Hook) Option { return scheduler.WithAdmission(h) }

// WithFetcher re-exports scheduler.WithFetcher.
func WithFetcher(f scheduler.Fetcher) Option { return scheduler.WithFetcher(f) }

// WithAuditSink re-exports scheduler.WithAuditSink.
func WithAuditSink(sink auditsink.Sink, cfg auditsink.BatcherConfig) Option {
	return scheduler.WithAuditSink(sink, cfg)
}

// New constructs a Kernel and registers the built-in stream handler
// module (spec.md C7) into its interrupt registry.
func New(opts ...Option) (*Kernel, error) {
	sched := scheduler.New(opts...)
	if err := sched.RegisterModule(streamhandler.Module{}); err != nil {
		return nil, fmt.Errorf("register stream handler module: %w", err)
	}
	return &Kernel{sched: sched}, nil
}

// RegisterModule exposes registering additional interrupt modules beyond
// the built-in stream handler, before any task depending on them spawns.
func (k *Kernel) RegisterModule(m interrupt.Module) error {
	return k.sched.RegisterModule(m)
}

// SetFallbackModule installs the interrupt registry's fallback module.
func (k *Kernel) SetFallbackModule(m interrupt.Module) {
	k.sched.SetFallbackModule(m)
}

// Spawn admits and starts a task described by ctxTree, returning its
// TaskId immediately; the task continues running asynchronously.
func (k *Kernel) Spawn(ctx context.Context, tenant string, ctxTree *domain.TaskCtx, mode abi.ProtectionMode) (abi.TaskId, error) {
	return k.sched.Spawn(ctx, tenant, ctxTree, mode)
}

// SpawnUnchecked starts a task bypassing admission. Only usable when the
// Kernel was constructed WithUncheckedSpawn.
func (k *Kernel) SpawnUnchecked(ctx context.Context, ctxTree *domain.TaskCtx, mode abi.ProtectionMode) (abi.TaskId, error) {
	return k.sched.SpawnUnchecked(ctx, ctxTree, mode)
}

// Poll returns a task's current TaskPoll without blocking.
func (k *Kernel) Poll(id abi.TaskId) (domain.TaskPoll, error) {
	return k.sched.Tasks().Poll(id)
}

// Wait blocks until a task reaches a terminal TaskPoll or ctx is done.
func (k *Kernel) Wait(ctx context.Context, id abi.TaskId) (domain.TaskPoll, error) {
	return k.sched.Tasks().Wait(ctx, id)
}

// Release tears down a terminal task's host resources. It is an error to
// Release a task that is still Pending.
func (k *Kernel) Release(ctx context.Context, id abi.TaskId) error {
	return k.sched.Tasks().Release(ctx, id)
}

// Shutdown drains the Kernel's audit batcher (if configured), waiting up
// to timeout for in-flight records to flush.
func (k *Kernel) Shutdown(timeout time.Duration) {
	k.sched.Shutdown(timeout)
}
