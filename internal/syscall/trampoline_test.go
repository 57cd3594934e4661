package syscall

import (
	"context"
	"errors"
	"testing"

	"github.com/ipwis/kernel/internal/abi"
	"github.com/ipwis/kernel/internal/interrupt"
)

// fakeMemory implements Memory over a simple in-process map keyed by ref,
// so trampoline behavior can be exercised without a real wasm instance.
type fakeMemory struct {
	doubled map[abi.ExternDataRef][]byte
	written map[abi.ExternDataRef][]byte
	failAt  abi.ExternDataRef
}

func (m *fakeMemory) LoadDoubled(ref abi.ExternDataRef) ([]byte, error) {
	if ref == m.failAt {
		return nil, errors.New("simulated bridge failure")
	}
	b, ok := m.doubled[ref]
	if !ok {
		return nil, errors.New("no such ref")
	}
	return b, nil
}

func (m *fakeMemory) DumpTo(src []byte, dst abi.ExternDataRef) error {
	if m.written == nil {
		m.written = make(map[abi.ExternDataRef][]byte)
	}
	cp := append([]byte(nil), src...)
	m.written[dst] = cp
	return nil
}

func (m *fakeMemory) DumpErrorTo(cause error, dst abi.ExternDataRef) error {
	return m.DumpTo([]byte(cause.Error()), dst)
}

type echoHandler struct{}

func (echoHandler) Invoke(ctx context.Context, mem interrupt.MemoryAccessor, input []byte) ([]byte, error) {
	return input, nil
}
func (echoHandler) Release(ctx context.Context) error { return nil }

type echoModule struct{ id abi.InterruptId }

func (m echoModule) ID() abi.InterruptId        { return m.id }
func (m echoModule) NewHandler() (interrupt.Handler, error) { return echoHandler{}, nil }

func newEchoCache(id abi.InterruptId) *interrupt.HandlerCache {
	r := interrupt.NewRegistry()
	r.Register(echoModule{id: id})
	return interrupt.NewHandlerCache(r)
}

func TestSyscallOKPopulatesOutputsOnly(t *testing.T) {
	cache := newEchoCache("echo")
	tr := New(cache)
	mem := &fakeMemory{doubled: map[abi.ExternDataRef]([]byte){
		1: []byte("echo"),
		2: []byte("payload"),
	}}

	status := tr.Syscall(context.Background(), mem, nil, 1, 2, 3, 4)
	if status != StatusOK {
		t.Fatalf("expected StatusOK, got %d", status)
	}
	if string(mem.written[3]) != "payload" {
		t.Fatalf("expected outputs slot written, got %q", mem.written[3])
	}
	if _, wroteErr := mem.written[4]; wroteErr {
		t.Fatal("expected errors slot untouched on success")
	}
}

func TestSyscallUnknownInterruptPopulatesErrorsOnly(t *testing.T) {
	cache := interrupt.NewHandlerCache(interrupt.NewRegistry())
	tr := New(cache)
	mem := &fakeMemory{doubled: map[abi.ExternDataRef][]byte{
		1: []byte("does_not_exist"),
		2: []byte("payload"),
	}}

	status := tr.Syscall(context.Background(), mem, nil, 1, 2, 3, 4)
	if status != StatusErrNormal {
		t.Fatalf("expected StatusErrNormal, got %d", status)
	}
	if _, wroteOut := mem.written[3]; wroteOut {
		t.Fatal("expected outputs slot untouched on handler error")
	}
	msg := string(mem.written[4])
	if msg != "failed to find the interrupt handler: does_not_exist" {
		t.Fatalf("unexpected error message: %q", msg)
	}
}

func TestSyscallBridgeFailureIsFatalAndWritesNothing(t *testing.T) {
	cache := newEchoCache("echo")
	tr := New(cache)
	mem := &fakeMemory{
		doubled: map[abi.ExternDataRef][]byte{1: []byte("echo"), 2: []byte("x")},
		failAt:  1,
	}

	status := tr.Syscall(context.Background(), mem, nil, 1, 2, 3, 4)
	if status != StatusErrFatal {
		t.Fatalf("expected StatusErrFatal, got %d", status)
	}
	if len(mem.written) != 0 {
		t.Fatalf("expected no writes on fatal failure, got %v", mem.written)
	}
}
