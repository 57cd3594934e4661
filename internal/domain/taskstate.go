package domain

import (
	"time"

	"github.com/ipwis/kernel/internal/abi"
)

// TaskState is the host-only, mutable record the Task Store keeps for a
// live task (spec.md §3). It is never serialized across the ABI boundary
// directly — TaskPoll is the value a caller actually observes.
type TaskState struct {
	ResourceID     abi.ResourceId
	TaskID         abi.TaskId
	Inputs         abi.ExternData
	Outputs        abi.ExternData
	Errors         abi.ExternData
	CreatedDate    time.Time
	ProtectionMode abi.ProtectionMode
	IsWorking      bool
}

// PollKind discriminates TaskPoll's three variants.
type PollKind int

const (
	// PollPending means the task is still running.
	PollPending PollKind = iota
	// PollReady means the task completed and produced output data.
	PollReady
	// PollTrap means the task terminated abnormally; Text carries a
	// diagnostic message, not a guest-defined error value.
	PollTrap
)

func (k PollKind) String() string {
	switch k {
	case PollPending:
		return "pending"
	case PollReady:
		return "ready"
	case PollTrap:
		return "trap"
	default:
		return "unknown"
	}
}

// TaskPoll is the sum type `{ Pending | Ready(ObjectData) | Trap(text) }`
// from spec.md §3, the value a Poll/Wait call actually returns. Output
// and Text are only meaningful for their corresponding Kind; callers
// should switch on Kind rather than infer it from which field is set.
type TaskPoll struct {
	Kind   PollKind
	Output ObjectData
	Text   string
}

// Pending constructs a TaskPoll in the Pending state.
func Pending() TaskPoll { return TaskPoll{Kind: PollPending} }

// Ready constructs a TaskPoll carrying the task's completed output.
func Ready(out ObjectData) TaskPoll { return TaskPoll{Kind: PollReady, Output: out} }

// Trap constructs a TaskPoll reporting an abnormal termination.
func Trap(text string) TaskPoll { return TaskPoll{Kind: PollTrap, Text: text} }

// IsTerminal reports whether further polling will never change the
// result: true for Ready and Trap, false for Pending.
func (p TaskPoll) IsTerminal() bool {
	return p.Kind == PollReady || p.Kind == PollTrap
}
