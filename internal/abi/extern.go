// Package abi describes the fat-pointer representation shared by host and
// guest at the linear-memory boundary: an offset/length pair (ExternData),
// and the 32-bit offsets (ExternDataRef) that locate one in guest memory.
package abi

import "encoding/binary"

// ExternDataRef is an unsigned 32-bit offset into guest linear memory.
type ExternDataRef uint32

// ExternData is the canonical fat pointer at the host/guest boundary.
// It is null iff Ptr == 0, regardless of Len.
type ExternData struct {
	Ptr ExternDataRef
	Len ExternDataRef
}

// Size is the encoded byte width of an ExternData value: two uint32 fields.
const Size = 8

// IsNull reports whether d is the null extern-data value.
func (d ExternData) IsNull() bool {
	return d.Ptr == 0
}

// End returns the first guest-memory offset past the referenced region.
// Callers must check for uint32 overflow before trusting the result.
func (d ExternData) End() (uint64, bool) {
	end := uint64(d.Ptr) + uint64(d.Len)
	return end, end <= 0xFFFFFFFF
}

// Encode writes d as its 8-byte little-endian representation.
func Encode(d ExternData) [Size]byte {
	var buf [Size]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(d.Ptr))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(d.Len))
	return buf
}

// Decode reads an ExternData from its 8-byte little-endian representation.
// Decode is the left inverse of Encode: Decode(Encode(d)) == d for all d.
func Decode(buf []byte) (ExternData, bool) {
	if len(buf) < Size {
		return ExternData{}, false
	}
	return ExternData{
		Ptr: ExternDataRef(binary.LittleEndian.Uint32(buf[0:4])),
		Len: ExternDataRef(binary.LittleEndian.Uint32(buf[4:8])),
	}, true
}
