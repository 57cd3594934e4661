package membridge

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ipwis/kernel/internal/abi"
)

// fakeMemory is an in-process stand-in for *wasmer.Memory used to exercise
// Bridge's validation and copy logic without a real wasm engine.
type fakeMemory struct {
	buf []byte
}

func (m *fakeMemory) Data() []byte { return m.buf }

// fakeAlloc is a stand-in allocator that bumps a watermark, mimicking a
// guest's __ipwis_alloc export.
type fakeAlloc struct {
	mem  *fakeMemory
	next uint32
	fail bool
}

func (a *fakeAlloc) Call(args ...interface{}) (interface{}, error) {
	if a.fail {
		return nil, fmt.Errorf("simulated guest trap")
	}
	size := args[0].(int32)
	ptr := a.next
	a.next += uint32(size)
	if int(a.next) > len(a.mem.buf) {
		return nil, fmt.Errorf("out of guest memory")
	}
	return ptr + 1, nil // never return 0 so the pointer is non-null
}

func newTestBridge(memSize int) (*Bridge, *fakeMemory, *fakeAlloc) {
	mem := &fakeMemory{buf: make([]byte, memSize)}
	alloc := &fakeAlloc{mem: mem, next: 0}
	b := &Bridge{memory: mem, alloc: alloc, allocZeroed: alloc, dealloc: alloc, realloc: alloc}
	return b, mem, alloc
}

func TestCheckRejectsNull(t *testing.T) {
	b, _, _ := newTestBridge(64)
	if err := b.Check(abi.ExternData{Ptr: 0, Len: 4}); err != ErrNull {
		t.Fatalf("expected ErrNull, got %v", err)
	}
}

func TestCheckRejectsOverflow(t *testing.T) {
	b, _, _ := newTestBridge(64)
	if err := b.Check(abi.ExternData{Ptr: 60, Len: 10}); err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestCheckAcceptsInBounds(t *testing.T) {
	b, _, _ := newTestBridge(64)
	if err := b.Check(abi.ExternData{Ptr: 10, Len: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDumpThenLoadRoundTrips(t *testing.T) {
	b, _, _ := newTestBridge(256)
	payload := []byte("hello world!")
	fat, err := b.Dump(payload)
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	got, err := b.Load(fat)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, payload)
	}
}

func TestDumpEmptyIsNull(t *testing.T) {
	b, _, _ := newTestBridge(64)
	fat, err := b.Dump(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fat.IsNull() {
		t.Fatalf("expected dumping zero bytes to yield a null extern-data, got %+v", fat)
	}
}

func TestDumpDoubledRoundTrips(t *testing.T) {
	b, _, _ := newTestBridge(256)
	payload := []byte("doubled payload")
	outer, err := b.DumpDoubled(payload)
	if err != nil {
		t.Fatalf("DumpDoubled failed: %v", err)
	}
	inner, err := b.LoadDoubled(outer.Ptr)
	if err != nil {
		t.Fatalf("LoadDoubled failed: %v", err)
	}
	if !bytes.Equal(inner, payload) {
		t.Fatalf("double-indirect round trip mismatch: got %q, want %q", inner, payload)
	}
}

func TestDumpPropagatesAllocatorTrap(t *testing.T) {
	b, _, alloc := newTestBridge(64)
	alloc.fail = true
	if _, err := b.Dump([]byte("x")); err == nil {
		t.Fatal("expected Dump to surface an allocator trap")
	}
}

func TestDumpToWritesSlot(t *testing.T) {
	b, _, _ := newTestBridge(256)
	// Reserve a slot for the destination pointer, then dump the payload
	// somewhere past it.
	slotLen := uint32(abi.Size)
	ret, err := b.alloc.Call(int32(slotLen), int32(1))
	if err != nil {
		t.Fatalf("setup alloc failed: %v", err)
	}
	dstRef := abi.ExternDataRef(ret.(uint32))

	payload := []byte("out parameter")
	if err := b.DumpTo(payload, dstRef); err != nil {
		t.Fatalf("DumpTo failed: %v", err)
	}

	raw, err := b.Load(abi.ExternData{Ptr: dstRef, Len: abi.Size})
	if err != nil {
		t.Fatalf("Load slot failed: %v", err)
	}
	fat, ok := abi.Decode(raw)
	if !ok {
		t.Fatal("failed to decode written slot")
	}
	got, err := b.Load(fat)
	if err != nil {
		t.Fatalf("Load dumped payload failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestAllocSlotReservesZeroedRegion(t *testing.T) {
	b, _, _ := newTestBridge(64)
	ref, err := b.AllocSlot()
	if err != nil {
		t.Fatalf("AllocSlot failed: %v", err)
	}
	raw, err := b.Load(abi.ExternData{Ptr: ref, Len: abi.Size})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	for _, v := range raw {
		if v != 0 {
			t.Fatalf("expected freshly allocated slot to be zeroed, got %v", raw)
		}
	}
}

func TestDumpErrorTo(t *testing.T) {
	b, _, _ := newTestBridge(256)
	ret, err := b.alloc.Call(int32(abi.Size), int32(1))
	if err != nil {
		t.Fatalf("setup alloc failed: %v", err)
	}
	dstRef := abi.ExternDataRef(ret.(uint32))
	cause := fmt.Errorf("failed to find the interrupt handler: does_not_exist")
	if err := b.DumpErrorTo(cause, dstRef); err != nil {
		t.Fatalf("DumpErrorTo failed: %v", err)
	}
	raw, err := b.Load(abi.ExternData{Ptr: dstRef, Len: abi.Size})
	if err != nil {
		t.Fatalf("Load slot failed: %v", err)
	}
	fat, _ := abi.Decode(raw)
	msg, err := b.Load(fat)
	if err != nil {
		t.Fatalf("Load message failed: %v", err)
	}
	if string(msg) != cause.Error() {
		t.Fatalf("got %q, want %q", msg, cause.Error())
	}
}
