// Package domain holds the kernel's pure data model: the recursive task
// context tree, its constraints, and the opaque payload types that cross
// the host/guest boundary. Nothing in this package touches a VM instance
// or the filesystem — it is safe to construct, compare, and marshal these
// values anywhere in the kernel or in tests.
package domain

import "time"

// ObjectData is an opaque, structurally-typed value encoded with a
// stable binary format (spec.md §3). The kernel core never interprets
// its contents; it only moves the bytes across the host/guest boundary
// and, where an envelope is involved, hashes them.
type ObjectData []byte

// ClassMetadata is the expected output schema for a task, as opaque to
// the core as ObjectData — validation of a task's output against its
// ClassMetadata is a guest/runtime concern, not the kernel's.
type ClassMetadata []byte

// ResourceConstraints carries the task's advisory deadline. Admission may
// use DueDate to decide whether to grant a resource id. It stays on the
// TaskCtx constraints only: TaskState and TaskPoll do not carry it, and
// nothing enforces it against a running task (spec.md §5, §9 Open
// Questions).
type ResourceConstraints struct {
	DueDate time.Time
}

// TaskConstraints is the portion of a task's envelope the admission hook
// and the scheduler both need: its inputs, its expected output schema,
// and its resource constraints.
type TaskConstraints struct {
	Inputs    ObjectData
	Outputs   ClassMetadata
	Resources ResourceConstraints
}

// TaskCtx is the recursive tree submitted with a task: its constraints,
// an optional signed content-hash naming the sandbox program, and named
// subtrees for reserved and child contexts, plus a list of exception
// contexts. Implemented as a sum-typed tree (spec.md §9 Design Notes)
// with a distinct Leaf case rather than allowing "no program and no
// children" to be expressed by nil maps, so that tree validation has one
// unambiguous empty state to check against.
type TaskCtx struct {
	Constraints TaskConstraints
	Program     *ProgramRef // nil for a Leaf; a node with subtrees may also have none
	Reserved    map[string]*TaskCtx
	Children    map[string]*TaskCtx
	Exceptions  []*TaskCtx
}

// ProgramRef names a signed content-hash identifying the sandbox binary
// to run. Resolving it to actual bytes is the Program Fetch collaborator
// (internal/programfetch), out of the core's scope per spec.md §1.
type ProgramRef struct {
	ContentHash string
	Signature   []byte
}

// IsLeaf reports whether ctx names no program and has no subtrees: the
// distinguished empty-sandbox case of spec.md §9.
func (c *TaskCtx) IsLeaf() bool {
	return c.Program == nil && len(c.Reserved) == 0 && len(c.Children) == 0
}

// Validate walks ctx and fails if it contains a cycle (a node reachable
// from itself through Reserved/Children). The core's task ctx trees are
// always constructed top-down and should never cycle; this guards against
// a malformed or adversarially constructed envelope.
func (c *TaskCtx) Validate() error {
	return c.validate(map[*TaskCtx]bool{})
}

func (c *TaskCtx) validate(seen map[*TaskCtx]bool) error {
	if seen[c] {
		return errCycle
	}
	seen[c] = true
	defer delete(seen, c)

	for _, child := range c.Reserved {
		if err := child.validate(seen); err != nil {
			return err
		}
	}
	for _, child := range c.Children {
		if err := child.validate(seen); err != nil {
			return err
		}
	}
	for _, exc := range c.Exceptions {
		if err := exc.validate(seen); err != nil {
			return err
		}
	}
	return nil
}

var errCycle = taskCtxError("task context tree contains a cycle")

type taskCtxError string

func (e taskCtxError) Error() string { return string(e) }
