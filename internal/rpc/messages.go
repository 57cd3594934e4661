// Package rpc exposes the Kernel facade (internal/kernel) over gRPC. It
// hand-builds a grpc.ServiceDesc and pairs it with a JSON wire codec
// instead of protobuf-generated stubs, since the kernel's wire messages
// are plain Go structs (TaskCtxWire, TaskPollWire, converted to and from
// domain.TaskCtx and domain.TaskPoll) rather than a checked-in .proto
// schema.
package rpc

import (
	"time"

	"github.com/ipwis/kernel/internal/abi"
	"github.com/ipwis/kernel/internal/domain"
)

// TaskCtxWire is the wire representation of domain.TaskCtx. Kept
// separate from domain.TaskCtx so the domain package stays free of
// transport concerns; ToDomain/TaskCtxFromDomain convert between the two.
type TaskCtxWire struct {
	Inputs     []byte                  `json:"inputs,omitempty"`
	Outputs    []byte                  `json:"outputs,omitempty"`
	DueDate    time.Time               `json:"due_date,omitempty"`
	Program    *ProgramRefWire         `json:"program,omitempty"`
	Reserved   map[string]*TaskCtxWire `json:"reserved,omitempty"`
	Children   map[string]*TaskCtxWire `json:"children,omitempty"`
	Exceptions []*TaskCtxWire          `json:"exceptions,omitempty"`
}

// ProgramRefWire is the wire representation of domain.ProgramRef.
type ProgramRefWire struct {
	ContentHash string `json:"content_hash"`
	Signature   []byte `json:"signature,omitempty"`
}

func fromWireProgram(p *ProgramRefWire) *domain.ProgramRef {
	if p == nil {
		return nil
	}
	return &domain.ProgramRef{ContentHash: p.ContentHash, Signature: p.Signature}
}

func toWireProgram(p *domain.ProgramRef) *ProgramRefWire {
	if p == nil {
		return nil
	}
	return &ProgramRefWire{ContentHash: p.ContentHash, Signature: p.Signature}
}

// ToDomain converts a wire task context tree into domain.TaskCtx.
func (w *TaskCtxWire) ToDomain() *domain.TaskCtx {
	if w == nil {
		return nil
	}
	ctx := &domain.TaskCtx{
		Constraints: domain.TaskConstraints{
			Inputs:    domain.ObjectData(w.Inputs),
			Outputs:   domain.ClassMetadata(w.Outputs),
			Resources: domain.ResourceConstraints{DueDate: w.DueDate},
		},
		Program: fromWireProgram(w.Program),
	}
	if len(w.Reserved) > 0 {
		ctx.Reserved = make(map[string]*domain.TaskCtx, len(w.Reserved))
		for k, v := range w.Reserved {
			ctx.Reserved[k] = v.ToDomain()
		}
	}
	if len(w.Children) > 0 {
		ctx.Children = make(map[string]*domain.TaskCtx, len(w.Children))
		for k, v := range w.Children {
			ctx.Children[k] = v.ToDomain()
		}
	}
	for _, exc := range w.Exceptions {
		ctx.Exceptions = append(ctx.Exceptions, exc.ToDomain())
	}
	return ctx
}

// TaskCtxFromDomain converts a domain.TaskCtx into its wire form.
func TaskCtxFromDomain(ctx *domain.TaskCtx) *TaskCtxWire {
	if ctx == nil {
		return nil
	}
	w := &TaskCtxWire{
		Inputs:  []byte(ctx.Constraints.Inputs),
		Outputs: []byte(ctx.Constraints.Outputs),
		DueDate: ctx.Constraints.Resources.DueDate,
		Program: toWireProgram(ctx.Program),
	}
	if len(ctx.Reserved) > 0 {
		w.Reserved = make(map[string]*TaskCtxWire, len(ctx.Reserved))
		for k, v := range ctx.Reserved {
			w.Reserved[k] = TaskCtxFromDomain(v)
		}
	}
	if len(ctx.Children) > 0 {
		w.Children = make(map[string]*TaskCtxWire, len(ctx.Children))
		for k, v := range ctx.Children {
			w.Children[k] = TaskCtxFromDomain(v)
		}
	}
	for _, exc := range ctx.Exceptions {
		w.Exceptions = append(w.Exceptions, TaskCtxFromDomain(exc))
	}
	return w
}

// SpawnRequest is the Spawn RPC's request message.
type SpawnRequest struct {
	Tenant         string       `json:"tenant"`
	CtxTree        *TaskCtxWire `json:"ctx_tree"`
	ProtectionMode int32        `json:"protection_mode"`
}

// SpawnResponse is the Spawn RPC's response message.
type SpawnResponse struct {
	TaskId uint32 `json:"task_id"`
}

// TaskPollWire is the wire representation of domain.TaskPoll.
type TaskPollWire struct {
	Kind   string `json:"kind"`
	Output []byte `json:"output,omitempty"`
	Text   string `json:"text,omitempty"`
}

// TaskPollFromDomain converts a domain.TaskPoll into its wire form.
func TaskPollFromDomain(p domain.TaskPoll) *TaskPollWire {
	return &TaskPollWire{Kind: p.Kind.String(), Output: []byte(p.Output), Text: p.Text}
}

// PollRequest is the Poll RPC's request message.
type PollRequest struct {
	TaskId uint32 `json:"task_id"`
}

// PollResponse is the Poll RPC's response message.
type PollResponse struct {
	Poll *TaskPollWire `json:"poll"`
}

// WaitRequest is the Wait RPC's request message.
type WaitRequest struct {
	TaskId uint32 `json:"task_id"`
}

// WaitResponse is the Wait RPC's response message.
type WaitResponse struct {
	Poll *TaskPollWire `json:"poll"`
}

// ReleaseRequest is the Release RPC's request message.
type ReleaseRequest struct {
	TaskId uint32 `json:"task_id"`
}

// ReleaseResponse is the Release RPC's (empty) response message.
type ReleaseResponse struct{}

func taskID(id uint32) abi.TaskId { return abi.TaskId(id) }
