package rpc

import (
	"context"
	"errors"
	"testing"

	"github.com/ipwis/kernel/internal/abi"
	"github.com/ipwis/kernel/internal/domain"
)

type fakeKernel struct {
	spawnID  abi.TaskId
	spawnErr error
	poll     domain.TaskPoll
	pollErr  error
	waitErr  error
	relErr   error
}

func (f *fakeKernel) Spawn(ctx context.Context, tenant string, ctxTree *domain.TaskCtx, mode abi.ProtectionMode) (abi.TaskId, error) {
	return f.spawnID, f.spawnErr
}

func (f *fakeKernel) Poll(id abi.TaskId) (domain.TaskPoll, error) { return f.poll, f.pollErr }

func (f *fakeKernel) Wait(ctx context.Context, id abi.TaskId) (domain.TaskPoll, error) {
	return f.poll, f.waitErr
}

func (f *fakeKernel) Release(ctx context.Context, id abi.TaskId) error { return f.relErr }

func TestServerSpawnRejectsMissingCtxTree(t *testing.T) {
	s := &Server{kernel: &fakeKernel{}}
	if _, err := s.Spawn(context.Background(), &SpawnRequest{}); err == nil {
		t.Fatal("expected missing ctx_tree to be rejected")
	}
}

func TestServerSpawnReturnsTaskId(t *testing.T) {
	s := &Server{kernel: &fakeKernel{spawnID: 42}}
	req := &SpawnRequest{Tenant: "t1", CtxTree: &TaskCtxWire{Program: &ProgramRefWire{ContentHash: "x"}}}
	resp, err := s.Spawn(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TaskId != 42 {
		t.Fatalf("expected task id 42, got %d", resp.TaskId)
	}
}

func TestServerSpawnPropagatesKernelError(t *testing.T) {
	s := &Server{kernel: &fakeKernel{spawnErr: errors.New("admission denied")}}
	req := &SpawnRequest{CtxTree: &TaskCtxWire{Program: &ProgramRefWire{ContentHash: "x"}}}
	if _, err := s.Spawn(context.Background(), req); err == nil {
		t.Fatal("expected kernel error to propagate")
	}
}

func TestServerPollReturnsOutcome(t *testing.T) {
	s := &Server{kernel: &fakeKernel{poll: domain.Ready(domain.ObjectData("ok"))}}
	resp, err := s.Poll(context.Background(), &PollRequest{TaskId: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Poll.Kind != "ready" || string(resp.Poll.Output) != "ok" {
		t.Fatalf("unexpected poll response: %+v", resp.Poll)
	}
}

func TestServerPollPropagatesNotFound(t *testing.T) {
	s := &Server{kernel: &fakeKernel{pollErr: errors.New("no such task")}}
	if _, err := s.Poll(context.Background(), &PollRequest{TaskId: 99}); err == nil {
		t.Fatal("expected not-found error to propagate")
	}
}

func TestServerRelease(t *testing.T) {
	s := &Server{kernel: &fakeKernel{}}
	if _, err := s.Release(context.Background(), &ReleaseRequest{TaskId: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTaskCtxWireRoundTrip(t *testing.T) {
	original := &domain.TaskCtx{
		Constraints: domain.TaskConstraints{Inputs: domain.ObjectData("in"), Outputs: domain.ClassMetadata("out")},
		Program:     &domain.ProgramRef{ContentHash: "h", Signature: []byte("sig")},
		Children: map[string]*domain.TaskCtx{
			"child": {Program: &domain.ProgramRef{ContentHash: "h2"}},
		},
	}
	wire := TaskCtxFromDomain(original)
	back := wire.ToDomain()

	if back.Program.ContentHash != "h" || string(back.Constraints.Inputs) != "in" {
		t.Fatalf("round trip lost data: %+v", back)
	}
	if back.Children["child"].Program.ContentHash != "h2" {
		t.Fatalf("round trip lost child: %+v", back.Children)
	}
}
