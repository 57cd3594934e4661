// Package membridge implements the host/guest memory bridge (spec.md C2):
// validated reads and writes into a guest wasm instance's linear memory,
// and allocation inside the guest via its exported allocator functions.
//
// A Bridge is built once per guest instance and held in the task's host
// link (internal/scheduler); every syscall dispatch reuses it rather than
// re-resolving exports on each call.
package membridge

import (
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/ipwis/kernel/internal/abi"
)

// Exported allocator function names the guest must provide.
const (
	ExportMemory       = "memory"
	ExportAlloc        = "__ipwis_alloc"
	ExportAllocZeroed  = "__ipwis_alloc_zeroed"
	ExportDealloc      = "__ipwis_dealloc"
	ExportRealloc      = "__ipwis_realloc"
	allocAlignment     = 1
)

// ErrNull is returned by Check when ExternData.Ptr == 0.
var ErrNull = fmt.Errorf("null extern-data pointer")

// ErrOverflow is returned by Check when ptr+len exceeds guest memory size.
var ErrOverflow = fmt.Errorf("extern-data region overflows guest memory")

// memView is the subset of *wasmer.Memory the bridge needs. Narrowing to
// an interface keeps Check/Load/Dump testable without a real wasm engine.
type memView interface {
	Data() []byte
}

// allocFunc is the subset of *wasmer.Function the bridge calls through.
type allocFunc interface {
	Call(args ...interface{}) (interface{}, error)
}

// Bridge validates and moves typed payloads across the linear-memory
// boundary of a single guest instance. Not safe for concurrent use across
// tasks; a task's guest runs single-threaded so one Bridge per task
// suffices (see spec.md §5 ordering guarantees).
type Bridge struct {
	memory      memView
	alloc       allocFunc
	allocZeroed allocFunc
	dealloc     allocFunc
	realloc     allocFunc
}

// New resolves and caches the guest's memory and allocator exports. Any
// missing export is a fatal instantiation error per spec.md §4.1.
func New(instance *wasmer.Instance) (*Bridge, error) {
	mem, err := instance.Exports.GetMemory(ExportMemory)
	if err != nil {
		return nil, fmt.Errorf("guest missing required export %q: %w", ExportMemory, err)
	}

	alloc, err := instance.Exports.GetFunction(ExportAlloc)
	if err != nil {
		return nil, fmt.Errorf("guest missing required export %q: %w", ExportAlloc, err)
	}
	allocZeroed, err := instance.Exports.GetFunction(ExportAllocZeroed)
	if err != nil {
		return nil, fmt.Errorf("guest missing required export %q: %w", ExportAllocZeroed, err)
	}
	dealloc, err := instance.Exports.GetFunction(ExportDealloc)
	if err != nil {
		return nil, fmt.Errorf("guest missing required export %q: %w", ExportDealloc, err)
	}
	realloc, err := instance.Exports.GetFunction(ExportRealloc)
	if err != nil {
		return nil, fmt.Errorf("guest missing required export %q: %w", ExportRealloc, err)
	}

	return &Bridge{
		memory:      mem,
		alloc:       alloc,
		allocZeroed: allocZeroed,
		dealloc:     dealloc,
		realloc:     realloc,
	}, nil
}

// Check validates that d references a live, in-bounds region of guest
// memory: Ptr must be non-zero and Ptr+Len must not exceed the memory size.
func (b *Bridge) Check(d abi.ExternData) error {
	if d.IsNull() {
		return ErrNull
	}
	end, ok := d.End()
	if !ok || end > uint64(len(b.memory.Data())) {
		return ErrOverflow
	}
	return nil
}

// Load returns an immutable view over the bytes described by d. The
// returned slice aliases guest memory and must not be retained past the
// current syscall.
func (b *Bridge) Load(d abi.ExternData) ([]byte, error) {
	if err := b.Check(d); err != nil {
		return nil, err
	}
	data := b.memory.Data()
	return data[d.Ptr : d.Ptr+d.Len], nil
}

// LoadMut returns a mutable view over the bytes described by d.
func (b *Bridge) LoadMut(d abi.ExternData) ([]byte, error) {
	return b.Load(d)
}

// LoadDoubled reads an ExternData struct located at ref, then resolves and
// returns the bytes that struct itself describes. Used when the boundary
// passes a pointer to an ExternData rather than the data directly.
func (b *Bridge) LoadDoubled(ref abi.ExternDataRef) ([]byte, error) {
	outer := abi.ExternData{Ptr: ref, Len: abi.Size}
	hdr, err := b.Load(outer)
	if err != nil {
		return nil, err
	}
	inner, ok := abi.Decode(hdr)
	if !ok {
		return nil, ErrOverflow
	}
	return b.Load(inner)
}

// Dump allocates len(src) bytes inside the guest (byte-alignment 1), copies
// src into the new region, and returns the resulting fat pointer. This is
// asynchronous in spirit: the allocator itself is a guest function call and
// may suspend the calling task under the VM engine's async executor.
func (b *Bridge) Dump(src []byte) (abi.ExternData, error) {
	if len(src) == 0 {
		return abi.ExternData{}, nil
	}
	ret, err := b.alloc.Call(int32(len(src)), int32(allocAlignment))
	if err != nil {
		return abi.ExternData{}, fmt.Errorf("guest allocator trapped: %w", err)
	}
	ptr, ok := toU32(ret)
	if !ok || ptr == 0 {
		return abi.ExternData{}, fmt.Errorf("guest allocator returned invalid pointer")
	}
	dst := abi.ExternData{Ptr: abi.ExternDataRef(ptr), Len: abi.ExternDataRef(len(src))}
	mut, err := b.LoadMut(dst)
	if err != nil {
		return abi.ExternData{}, err
	}
	copy(mut, src)
	return dst, nil
}

// AllocSlot reserves an empty 8-byte ExternData-sized region inside the
// guest and returns a reference to it, without writing anything there.
// Used to hand the guest a pre-allocated "out parameter" slot (e.g. the
// outputs/errors pointers passed to the entry export) before anything
// has been dumped into it.
func (b *Bridge) AllocSlot() (abi.ExternDataRef, error) {
	ret, err := b.alloc.Call(int32(abi.Size), int32(allocAlignment))
	if err != nil {
		return 0, fmt.Errorf("guest allocator trapped: %w", err)
	}
	ptr, ok := toU32(ret)
	if !ok || ptr == 0 {
		return 0, fmt.Errorf("guest allocator returned invalid pointer")
	}
	slot := abi.ExternData{Ptr: abi.ExternDataRef(ptr), Len: abi.Size}
	mut, err := b.LoadMut(slot)
	if err != nil {
		return 0, err
	}
	for i := range mut {
		mut[i] = 0
	}
	return abi.ExternDataRef(ptr), nil
}

// DumpDoubled dumps src, then dumps the resulting ExternData's own 8-byte
// encoding, yielding a fat pointer whose data is itself a fat pointer. The
// guest can read this "out parameter" slot and later overwrite it.
func (b *Bridge) DumpDoubled(src []byte) (abi.ExternData, error) {
	inner, err := b.Dump(src)
	if err != nil {
		return abi.ExternData{}, err
	}
	encoded := abi.Encode(inner)
	return b.Dump(encoded[:])
}

// DumpTo allocates, copies src, and writes the resulting ExternData into
// the slot located at dst.
func (b *Bridge) DumpTo(src []byte, dst abi.ExternDataRef) error {
	fat, err := b.Dump(src)
	if err != nil {
		return err
	}
	return b.writeExternAt(fat, dst)
}

// DumpErrorTo stringifies err to UTF-8 and dumps it into the slot at dst.
func (b *Bridge) DumpErrorTo(cause error, dst abi.ExternDataRef) error {
	return b.DumpTo([]byte(cause.Error()), dst)
}

func (b *Bridge) writeExternAt(fat abi.ExternData, dst abi.ExternDataRef) error {
	slot := abi.ExternData{Ptr: dst, Len: abi.Size}
	mut, err := b.LoadMut(slot)
	if err != nil {
		return err
	}
	encoded := abi.Encode(fat)
	copy(mut, encoded[:])
	return nil
}

func toU32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case int32:
		return uint32(n), true
	case uint32:
		return n, true
	case int64:
		return uint32(n), true
	default:
		return 0, false
	}
}
