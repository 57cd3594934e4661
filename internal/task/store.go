// Package task implements the Task Store (C8): the host-side table of
// live TaskState records and the terminal TaskPoll each task eventually
// produces. The Scheduler populates entries as it spawns tasks; callers
// observe them through Poll/Wait; Release drops a terminal entry and
// runs its cleanup.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ipwis/kernel/internal/abi"
	"github.com/ipwis/kernel/internal/domain"
)

// Releaser tears down whatever host resources a task's completion handle
// holds (the wasm instance, its Bridge, its HandlerCache). The Scheduler
// supplies this when it registers a task; the Store never constructs one
// itself.
type Releaser func(ctx context.Context) error

type entry struct {
	state    domain.TaskState
	poll     domain.TaskPoll
	done     chan struct{} // closed exactly once, when poll becomes terminal
	release  Releaser
	released bool
}

// ErrUnknownTask is returned when a TaskId names no live entry.
type ErrUnknownTask struct{ ID abi.TaskId }

func (e ErrUnknownTask) Error() string {
	return fmt.Sprintf("unknown task id: %d", e.ID)
}

// ErrAlreadyTerminal is returned by Complete when a task's poll state has
// already been finalized; a task transitions out of Pending exactly once.
type ErrAlreadyTerminal struct{ ID abi.TaskId }

func (e ErrAlreadyTerminal) Error() string {
	return fmt.Sprintf("task %d is already terminal", e.ID)
}

// Store is the host-only table of live task state (spec.md §3 TaskState,
// §4.7). Its TaskId allocator is a monotonic counter that starts at 1
// and is never reset, so a previously-issued TaskId is never reissued to
// a different task within the Store's lifetime. The Store has no
// store-wide release: it neither aborts live tasks nor zeroes the
// counter.
type Store struct {
	mu     sync.Mutex
	nextID uint32
	tasks  map[abi.TaskId]*entry
}

// New constructs an empty Store with its TaskId seed starting at 1 (0 is
// reserved to mean "no task" in the guest ABI).
func New() *Store {
	return &Store{
		nextID: 1,
		tasks:  map[abi.TaskId]*entry{},
	}
}

// Allocate reserves a fresh TaskId and registers a Pending TaskState for
// it. release is invoked at most once, by Release, after the task
// reaches a terminal poll state.
func (s *Store) Allocate(resID abi.ResourceId, mode abi.ProtectionMode, inputs, outputs, errs abi.ExternData, release Releaser) abi.TaskId {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := abi.TaskId(s.nextID)
	s.nextID++

	s.tasks[id] = &entry{
		state: domain.TaskState{
			ResourceID:     resID,
			TaskID:         id,
			Inputs:         inputs,
			Outputs:        outputs,
			Errors:         errs,
			CreatedDate:    time.Now().UTC(),
			ProtectionMode: mode,
			IsWorking:      true,
		},
		poll:    domain.Pending(),
		done:    make(chan struct{}),
		release: release,
	}
	return id
}

// SetRelease attaches or replaces the cleanup callback of an
// already-allocated task. The Scheduler passes its callback to Allocate
// directly and does not call SetRelease.
func (s *Store) SetRelease(id abi.TaskId, release Releaser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return ErrUnknownTask{ID: id}
	}
	e.release = release
	return nil
}

// Complete transitions a task out of Pending into a terminal TaskPoll. It
// is an error to call Complete more than once for the same TaskId.
func (s *Store) Complete(id abi.TaskId, poll domain.TaskPoll) error {
	if !poll.IsTerminal() {
		return fmt.Errorf("task %d: Complete requires a terminal poll, got %s", id, poll.Kind)
	}

	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTask{ID: id}
	}
	select {
	case <-e.done:
		s.mu.Unlock()
		return ErrAlreadyTerminal{ID: id}
	default:
	}
	e.poll = poll
	e.state.IsWorking = false
	close(e.done)
	s.mu.Unlock()
	return nil
}

// Poll returns the task's current TaskPoll without blocking.
func (s *Store) Poll(id abi.TaskId) (domain.TaskPoll, error) {
	s.mu.Lock()
	e, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return domain.TaskPoll{}, ErrUnknownTask{ID: id}
	}
	s.mu.Lock()
	p := e.poll
	s.mu.Unlock()
	return p, nil
}

// State returns a copy of the task's current TaskState.
func (s *Store) State(id abi.TaskId) (domain.TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return domain.TaskState{}, ErrUnknownTask{ID: id}
	}
	return e.state, nil
}

// Wait blocks until the task reaches a terminal poll state or ctx is
// done (cancelled or past its deadline).
func (s *Store) Wait(ctx context.Context, id abi.TaskId) (domain.TaskPoll, error) {
	s.mu.Lock()
	e, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return domain.TaskPoll{}, ErrUnknownTask{ID: id}
	}

	select {
	case <-e.done:
		s.mu.Lock()
		p := e.poll
		s.mu.Unlock()
		return p, nil
	case <-ctx.Done():
		return domain.TaskPoll{}, ctx.Err()
	}
}

// Release drops a terminal task's entry from the Store and runs its
// cleanup callback. Releasing a still-Pending task is an error: callers
// must Wait (or observe a terminal Poll) first, matching spec.md §4.7's
// requirement that a running task's host resources are never torn down
// out from under it.
func (s *Store) Release(ctx context.Context, id abi.TaskId) error {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTask{ID: id}
	}
	select {
	case <-e.done:
	default:
		s.mu.Unlock()
		return fmt.Errorf("task %d: cannot release while still pending", id)
	}
	if e.released {
		s.mu.Unlock()
		return nil
	}
	e.released = true
	release := e.release
	delete(s.tasks, id)
	s.mu.Unlock()

	if release != nil {
		return release(ctx)
	}
	return nil
}

// Len reports the number of tasks currently tracked (pending or terminal
// but not yet released).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
