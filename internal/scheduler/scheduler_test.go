package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/ipwis/kernel/internal/abi"
	"github.com/ipwis/kernel/internal/domain"
)

func TestSpawnRejectsInvalidTree(t *testing.T) {
	s := New()
	cyclic := &domain.TaskCtx{Program: &domain.ProgramRef{ContentHash: "x"}}
	cyclic.Reserved = map[string]*domain.TaskCtx{"self": cyclic}

	if _, err := s.Spawn(context.Background(), "tenant-a", cyclic, abi.ProtectionWorker); err == nil {
		t.Fatal("expected cycle to be rejected")
	}
}

func TestSpawnRejectsMissingProgram(t *testing.T) {
	s := New()
	if _, err := s.Spawn(context.Background(), "tenant-a", &domain.TaskCtx{}, abi.ProtectionWorker); err == nil {
		t.Fatal("expected programless task context to be rejected")
	}
}

type denyHook struct{}

func (denyHook) Admit(context.Context, string, domain.TaskConstraints) error {
	return errors.New("tenant over quota")
}

func TestSpawnRespectsAdmissionDenial(t *testing.T) {
	s := New(WithAdmission(denyHook{}))
	ctxTree := &domain.TaskCtx{Program: &domain.ProgramRef{ContentHash: "x"}}
	if _, err := s.Spawn(context.Background(), "tenant-a", ctxTree, abi.ProtectionWorker); err == nil {
		t.Fatal("expected admission denial to propagate")
	}
}

func TestSpawnUncheckedRequiresOptIn(t *testing.T) {
	s := New()
	ctxTree := &domain.TaskCtx{Program: &domain.ProgramRef{ContentHash: "x"}}
	if _, err := s.SpawnUnchecked(context.Background(), ctxTree, abi.ProtectionWorker); err == nil {
		t.Fatal("expected unchecked spawn to be rejected when not enabled")
	}
}

func TestSpawnFailsWithoutFetcher(t *testing.T) {
	s := New(WithUncheckedSpawn())
	ctxTree := &domain.TaskCtx{Program: &domain.ProgramRef{ContentHash: "x"}}
	if _, err := s.SpawnUnchecked(context.Background(), ctxTree, abi.ProtectionWorker); err == nil {
		t.Fatal("expected spawn to fail: no fetcher configured resolves no program bytes")
	}
}
