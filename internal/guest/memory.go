//go:build wasip1

package guest

import "unsafe"

// arena backs every allocation the host requests through the exported
// allocator functions below. It is sized generously for task-sized
// request/response payloads and never grows: a fixed global avoids the
// reallocation hazard of a growable slice, whose backing array could
// relocate out from under pointers the host is still holding between
// syscalls.
var arena [32 * 1024 * 1024]byte

// bump is the next free offset within arena. Deallocation is a no-op;
// guest tasks run one __ipwis_entry call and exit, so nothing is gained
// by reclaiming space within a single invocation.
var bump uint32

func arenaBase() uint32 {
	return uint32(uintptr(unsafe.Pointer(&arena[0])))
}

func bumpAlloc(size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	if uint64(bump)+uint64(size) > uint64(len(arena)) {
		panic("guest: arena exhausted")
	}
	ptr := arenaBase() + bump
	bump += size
	return ptr
}

func bytesAt(ptr, length uint32) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
}

func writeAt(ptr uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	copy(bytesAt(ptr, uint32(len(data))), data)
}

//go:wasmexport __ipwis_alloc
func ipwisAlloc(size, align int32) uint32 {
	return bumpAlloc(uint32(size))
}

//go:wasmexport __ipwis_alloc_zeroed
func ipwisAllocZeroed(size, align int32) uint32 {
	ptr := bumpAlloc(uint32(size))
	b := bytesAt(ptr, uint32(size))
	for i := range b {
		b[i] = 0
	}
	return ptr
}

//go:wasmexport __ipwis_dealloc
func ipwisDealloc(ptr, size, align int32) {
	// No-op: see the bump-allocator note on arena above.
}

//go:wasmexport __ipwis_realloc
func ipwisRealloc(ptr, oldSize, align, newSize int32) uint32 {
	newPtr := bumpAlloc(uint32(newSize))
	n := oldSize
	if newSize < n {
		n = newSize
	}
	if n > 0 {
		copy(bytesAt(newPtr, uint32(n)), bytesAt(uint32(ptr), uint32(n)))
	}
	return newPtr
}

// dumpDoubled allocates data, then allocates and returns a pointer to its
// own 8-byte ExternData encoding, matching internal/membridge.Bridge's
// LoadDoubled expectations on the host side.
func dumpDoubled(data []byte) uint32 {
	ptr := bumpAlloc(uint32(len(data)))
	writeAt(ptr, data)
	encoded := encodeExtern(externData{ptr: ptr, len: uint32(len(data))})
	outer := bumpAlloc(8)
	writeAt(outer, encoded[:])
	return outer
}

// allocSlot reserves an empty 8-byte region for the host to later fill
// with an ExternData encoding (internal/membridge.Bridge.AllocSlot's
// guest-side counterpart).
func allocSlot() uint32 {
	ptr := bumpAlloc(8)
	b := bytesAt(ptr, 8)
	for i := range b {
		b[i] = 0
	}
	return ptr
}

// writeDoubledInto copies data into a fresh allocation and writes that
// allocation's ExternData encoding into the pre-allocated slot at ptr,
// the inverse of loadDoubled.
func writeDoubledInto(slot uint32, data []byte) {
	ptr := bumpAlloc(uint32(len(data)))
	writeAt(ptr, data)
	encoded := encodeExtern(externData{ptr: ptr, len: uint32(len(data))})
	writeAt(slot, encoded[:])
}

// loadDoubled reads the ExternData encoded at ref and returns a copy of
// the bytes it describes.
func loadDoubled(ref uint32) []byte {
	hdr := bytesAt(ref, 8)
	e := decodeExtern(hdr)
	if e.len == 0 {
		return nil
	}
	return append([]byte(nil), bytesAt(e.ptr, e.len)...)
}
