package kernel

import (
	"context"
	"testing"

	"github.com/ipwis/kernel/internal/abi"
	"github.com/ipwis/kernel/internal/domain"
	"github.com/ipwis/kernel/internal/interrupt"
)

func TestSpawnRejectsLeafTaskContext(t *testing.T) {
	k, err := New()
	if err != nil {
		t.Fatal(err)
	}
	_, err = k.Spawn(context.Background(), "tenant-a", &domain.TaskCtx{}, abi.ProtectionWorker)
	if err == nil {
		t.Fatal("expected spawning a programless task context to fail")
	}
}

func TestSpawnUncheckedDisabledByDefault(t *testing.T) {
	k, err := New()
	if err != nil {
		t.Fatal(err)
	}
	ctxTree := &domain.TaskCtx{Program: &domain.ProgramRef{ContentHash: "x"}}
	_, err = k.SpawnUnchecked(context.Background(), ctxTree, abi.ProtectionWorker)
	if err == nil {
		t.Fatal("expected SpawnUnchecked to fail when not enabled via WithUncheckedSpawn")
	}
}

func TestPollUnknownTaskErrors(t *testing.T) {
	k, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := k.Poll(999); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestRegisterDuplicateModuleIsFatal(t *testing.T) {
	k, err := New()
	if err != nil {
		t.Fatal(err)
	}
	// The stream handler module is already registered by New; registering
	// it again under the same id must fail per C4's register-once contract.
	dup := stubModule{id: "ipwis_modules_stream"}
	if err := k.RegisterModule(dup); err == nil {
		t.Fatal("expected duplicate module registration to fail")
	}
}

type stubModule struct{ id abi.InterruptId }

func (m stubModule) ID() abi.InterruptId { return m.id }
func (m stubModule) NewHandler() (interrupt.Handler, error) { return stubHandler{}, nil }

type stubHandler struct{}

func (stubHandler) Invoke(ctx context.Context, mem interrupt.MemoryAccessor, input []byte) ([]byte, error) {
	return nil, nil
}
func (stubHandler) Release(ctx context.Context) error { return nil }
