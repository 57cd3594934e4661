// Package guest is the sandbox-side half of the kernel's wasm ABI
// (spec.md §4.1, §4.5): the allocator exports internal/membridge.Bridge
// resolves at instantiation, the __ipwis_entry export the scheduler
// calls to start a task, and the __ipwis_syscall import a guest program
// uses to reach a host interrupt handler.
//
// Nothing in this package runs on the host. Its exports, imports and
// stream client are built only for the wasip1/wasm target a guest
// program compiles to; every other target sees only the ExternData
// encode/decode helpers below.
package guest

import "encoding/binary"

// externData mirrors internal/abi.ExternData's wire layout: an 8-byte,
// little-endian (ptr uint32, len uint32) pair.
type externData struct {
	ptr uint32
	len uint32
}

func encodeExtern(d externData) [8]byte {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], d.ptr)
	binary.LittleEndian.PutUint32(buf[4:8], d.len)
	return buf
}

func decodeExtern(buf []byte) externData {
	return externData{
		ptr: binary.LittleEndian.Uint32(buf[0:4]),
		len: binary.LittleEndian.Uint32(buf[4:8]),
	}
}
