package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/ipwis/kernel/internal/abi"
	"github.com/ipwis/kernel/internal/admission"
	"github.com/ipwis/kernel/internal/auditsink"
	"github.com/ipwis/kernel/internal/domain"
	"github.com/ipwis/kernel/internal/interrupt"
	"github.com/ipwis/kernel/internal/logging"
	"github.com/ipwis/kernel/internal/membridge"
	"github.com/ipwis/kernel/internal/metrics"
	"github.com/ipwis/kernel/internal/observability"
	"github.com/ipwis/kernel/internal/restable"
	ipwissyscall "github.com/ipwis/kernel/internal/syscall"
	"github.com/ipwis/kernel/internal/task"
)

// Fetcher resolves a domain.ProgramRef to the program bytes it names.
// Satisfied by internal/programfetch.S3Fetcher; kept as an interface here
// so the Scheduler has no direct dependency on a storage SDK.
type Fetcher interface {
	Fetch(ctx context.Context, ref domain.ProgramRef) ([]byte, error)
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithUncheckedSpawn enables SpawnUnchecked, which bypasses the
// admission Hook entirely (spec.md §9 Open Questions: task_spawn_unchecked
// is an escape hatch the kernel embedder must explicitly opt into; it is
// not the default spawn path and is never reachable from the RPC surface).
func WithUncheckedSpawn() Option {
	return func(s *Scheduler) { s.uncheckedEnabled = true }
}

// WithAdmission overrides the default AlwaysAdmit policy.
func WithAdmission(hook admission.Hook) Option {
	return func(s *Scheduler) { s.admit = hook }
}

// WithFetcher overrides the default fetcher, which rejects every
// ProgramRef it is given (a Scheduler is otherwise unable to resolve
// program bytes on its own).
func WithFetcher(f Fetcher) Option {
	return func(s *Scheduler) { s.fetch = f }
}

// WithAuditSink enables asynchronous persistence of every task's
// terminal TaskPoll to an append-only audit log (internal/auditsink). A
// Scheduler built without this option records no audit history.
func WithAuditSink(sink auditsink.Sink, cfg auditsink.BatcherConfig) Option {
	return func(s *Scheduler) { s.audit = auditsink.NewBatcher(sink, cfg) }
}

type rejectFetcher struct{}

func (rejectFetcher) Fetch(context.Context, domain.ProgramRef) ([]byte, error) {
	return nil, fmt.Errorf("no program fetcher configured")
}

// Scheduler is the Scheduler (C9): the process-wide wasm Engine and
// interrupt Registry, plus the Task Store every spawned task is
// registered into. Safe for concurrent use; Spawn may be called from
// many goroutines at once.
type Scheduler struct {
	engine    *Engine
	registry  *interrupt.Registry
	tasks     *task.Store
	resources *restable.Table[*reservation]
	admit     admission.Hook
	fetch     Fetcher
	audit     *auditsink.Batcher
	logger    *slog.Logger

	uncheckedEnabled bool
}

// New constructs a Scheduler with an empty interrupt Registry (callers
// add interrupt.Module values via RegisterModule before the first Spawn,
// e.g. streamhandler.Module{}).
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:    NewEngine(),
		registry:  interrupt.NewRegistry(),
		tasks:     task.New(),
		resources: restable.New[*reservation](),
		admit:     admission.AlwaysAdmit{},
		fetch:     rejectFetcher{},
		logger:    logging.Op(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterModule adds an interrupt module to the process-wide registry.
// Must be called before any task that relies on it is spawned; a
// duplicate id is a fatal configuration error, matching C4's
// register-once contract.
func (s *Scheduler) RegisterModule(m interrupt.Module) error {
	return s.registry.Register(m)
}

// SetFallbackModule installs the registry's fallback interrupt module.
func (s *Scheduler) SetFallbackModule(m interrupt.Module) {
	s.registry.SetFallback(m)
}

// Tasks exposes the underlying Task Store for Poll/Wait/Release callers
// (the Kernel facade is the intended caller; exported for composition).
func (s *Scheduler) Tasks() *task.Store { return s.tasks }

// Shutdown drains the audit batcher, if one is configured, waiting up to
// timeout for in-flight records to flush. A no-op when WithAuditSink was
// never passed to New.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	if s.audit != nil {
		s.audit.Shutdown(timeout)
	}
}

// spawnResult carries the two values the parallel pre-flight stage
// produces (the fetched program bytes and the task's input bytes),
// mirroring the teacher's errgroup-based
// pre-fetch stage in its invocation pipeline.
type spawnResult struct {
	programBytes []byte
	inputsData   []byte
}

// Spawn runs the admission-gated spawn sequence of spec.md §4.7: resolve
// the program, compile it (cached), instantiate a fresh VM, wire its
// memory bridge and per-task handler cache, dump the task's inputs into
// guest memory, and start its entry export asynchronously. It returns as
// soon as the task is registered in the Task Store; completion is
// observed via Poll/Wait.
func (s *Scheduler) Spawn(ctx context.Context, tenant string, ctxTree *domain.TaskCtx, mode abi.ProtectionMode) (abi.TaskId, error) {
	if err := ctxTree.Validate(); err != nil {
		return 0, fmt.Errorf("invalid task context: %w", err)
	}
	if ctxTree.Program == nil {
		return 0, fmt.Errorf("task context names no program to spawn")
	}

	if err := s.admit.Admit(ctx, tenant, ctxTree.Constraints); err != nil {
		return 0, fmt.Errorf("admission denied: %w", err)
	}
	return s.spawn(ctx, tenant, ctxTree, mode)
}

// SpawnUnchecked bypasses admission entirely. Only usable when the
// Scheduler was constructed with WithUncheckedSpawn; callers embedding
// the kernel must opt in explicitly, and this method is never wired to
// the RPC surface.
func (s *Scheduler) SpawnUnchecked(ctx context.Context, ctxTree *domain.TaskCtx, mode abi.ProtectionMode) (abi.TaskId, error) {
	if !s.uncheckedEnabled {
		return 0, fmt.Errorf("unchecked spawn is not enabled on this scheduler")
	}
	if err := ctxTree.Validate(); err != nil {
		return 0, fmt.Errorf("invalid task context: %w", err)
	}
	if ctxTree.Program == nil {
		return 0, fmt.Errorf("task context names no program to spawn")
	}
	return s.spawn(ctx, "", ctxTree, mode)
}

func (s *Scheduler) spawn(ctx context.Context, tenant string, ctxTree *domain.TaskCtx, mode abi.ProtectionMode) (abi.TaskId, error) {
	start := time.Now()

	var pre spawnResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := s.fetch.Fetch(gctx, *ctxTree.Program)
		if err != nil {
			return fmt.Errorf("fetch program: %w", err)
		}
		pre.programBytes = b
		return nil
	})
	g.Go(func() error {
		pre.inputsData = []byte(ctxTree.Constraints.Inputs)
		return nil
	})
	if err := g.Wait(); err != nil {
		metrics.RecordSpawnFailure("fetch")
		return 0, err
	}

	module, err := s.engine.Compile(ctx, pre.programBytes)
	if err != nil {
		metrics.RecordSpawnFailure("compile")
		return 0, fmt.Errorf("compile program: %w", err)
	}

	cache := interrupt.NewHandlerCache(s.registry)
	instance, bridge, err := newInstance(s.engine, module, cache)
	if err != nil {
		metrics.RecordSpawnFailure("instantiate")
		return 0, fmt.Errorf("instantiate program: %w", err)
	}

	inputsRef, err := bridge.Dump(pre.inputsData)
	if err != nil {
		instance.Close()
		metrics.RecordSpawnFailure("dump_inputs")
		return 0, fmt.Errorf("dump task inputs: %w", err)
	}

	outputsSlot, err := bridge.AllocSlot()
	if err != nil {
		instance.Close()
		metrics.RecordSpawnFailure("alloc_output_slot")
		return 0, fmt.Errorf("reserve output slot: %w", err)
	}
	errorsSlot, err := bridge.AllocSlot()
	if err != nil {
		instance.Close()
		metrics.RecordSpawnFailure("alloc_error_slot")
		return 0, fmt.Errorf("reserve error slot: %w", err)
	}

	resID, err := s.resources.Insert(func(uint32) (*reservation, error) {
		return &reservation{instance: instance}, nil
	})
	if err != nil {
		instance.Close()
		return 0, fmt.Errorf("reserve task resource: %w", err)
	}

	outputsRef := abi.ExternData{Ptr: outputsSlot, Len: abi.Size}
	errorsRef := abi.ExternData{Ptr: errorsSlot, Len: abi.Size}
	taskID := s.tasks.Allocate(abi.ResourceId(resID), mode, inputsRef, outputsRef, errorsRef, func(rctx context.Context) error {
		releaseErrs := cache.ReleaseAll(rctx)
		resErr := s.resources.Release(resID)
		if len(releaseErrs) > 0 {
			return fmt.Errorf("handler release errors: %v", releaseErrs)
		}
		return resErr
	})

	entry, err := instance.Exports.GetFunction(ipwissyscall.EntryExportName)
	if err != nil {
		metrics.RecordSpawnFailure("missing_entry")
		_ = s.tasks.Complete(taskID, domain.Trap(err.Error()))
		return taskID, nil
	}

	traceID := observability.GetTraceID(ctx)
	spanID := observability.GetSpanID(ctx)
	go s.run(taskID, tenant, mode, traceID, spanID, start, entry, bridge, cache, inputsRef, outputsSlot, errorsSlot)

	metrics.RecordSpawnLatency(time.Since(start))
	metrics.SetTasksActive(s.tasks.Len())
	observability.RecordTaskSpawned(ctx, fmt.Sprint(taskID))
	return taskID, nil
}

// run invokes the guest entry export and records the task's terminal
// outcome. It runs on its own goroutine; the wasmer instance call blocks
// this goroutine for the task's entire lifetime.
func (s *Scheduler) run(id abi.TaskId, tenant string, mode abi.ProtectionMode, traceID, spanID string, start time.Time, entry *wasmer.Function, bridge *membridge.Bridge, cache *interrupt.HandlerCache, inputsRef abi.ExternData, outputsSlot, errorsSlot abi.ExternDataRef) {
	_, callErr := entry.Call(int32(inputsRef.Ptr), int32(inputsRef.Len), int32(outputsSlot), int32(errorsSlot))
	if callErr != nil {
		s.logger.Warn("guest entry trapped", "task_id", id, "error", callErr)
		poll := domain.Trap(callErr.Error())
		_ = s.tasks.Complete(id, poll)
		metrics.RecordPoll(true)
		s.audited(id, tenant, mode, poll)
		s.logTask(id, tenant, traceID, spanID, start, cache.Calls(), poll)
		return
	}

	errBytes, derr := bridge.LoadDoubled(errorsSlot)
	if derr == nil && len(errBytes) > 0 {
		poll := domain.Trap(string(errBytes))
		_ = s.tasks.Complete(id, poll)
		metrics.RecordPoll(true)
		s.audited(id, tenant, mode, poll)
		s.logTask(id, tenant, traceID, spanID, start, cache.Calls(), poll)
		return
	}
	outBytes, derr := bridge.LoadDoubled(outputsSlot)
	if derr != nil {
		poll := domain.Trap(fmt.Sprintf("load task output: %v", derr))
		_ = s.tasks.Complete(id, poll)
		metrics.RecordPoll(true)
		s.audited(id, tenant, mode, poll)
		s.logTask(id, tenant, traceID, spanID, start, cache.Calls(), poll)
		return
	}
	poll := domain.Ready(domain.ObjectData(outBytes))
	_ = s.tasks.Complete(id, poll)
	metrics.RecordPoll(false)
	s.audited(id, tenant, mode, poll)
	s.logTask(id, tenant, traceID, spanID, start, cache.Calls(), poll)
}

// logTask writes the task's terminal audit line via the package-level
// task logger (internal/logging.Default), alongside (not instead of) the
// durable internal/auditsink record audited writes.
func (s *Scheduler) logTask(id abi.TaskId, tenant, traceID, spanID string, start time.Time, calls int, poll domain.TaskPoll) {
	entry := &logging.TaskLog{
		TaskID:         uint32(id),
		Tenant:         tenant,
		TraceID:        traceID,
		SpanID:         spanID,
		DurationMs:     time.Since(start).Milliseconds(),
		InterruptCalls: calls,
	}
	switch poll.Kind {
	case domain.PollReady:
		entry.Outcome = "ready"
		entry.OutputSize = len(poll.Output)
	case domain.PollTrap:
		entry.Outcome = "trap"
		entry.Error = poll.Text
	}
	logging.Default().Log(entry)
}

// audited enqueues a task's terminal outcome onto the audit batcher, if
// one was configured via WithAuditSink. A nil batcher is a no-op so
// audit logging stays entirely optional.
func (s *Scheduler) audited(id abi.TaskId, tenant string, mode abi.ProtectionMode, poll domain.TaskPoll) {
	if s.audit == nil {
		return
	}
	s.audit.Enqueue(auditsink.NewRecord(uuid.NewString(), id, tenant, mode, poll))
}
