// Package streamhandler implements the built-in interrupt handler bound to
// id "ipwis_modules_stream" (spec.md C7): host-side async readers and
// writers the guest drives one buffer at a time.
package streamhandler

import (
	"encoding/binary"
	"fmt"
)

// OpTag identifies which variant of the stream op-code union a payload
// encodes.
type OpTag byte

const (
	OpReaderNext OpTag = iota
	OpWriterNext
	OpWriterFlush
	OpWriterShutdown
	OpReaderNew
	OpReaderRelease
	OpWriterNew
	OpWriterRelease
)

// Op is the decoded form of the stream handler's tagged-union wire
// payload. Buf carries the guest-memory ExternData the handler should
// read from or write into, encoded as raw bytes already resolved by the
// trampoline's bridge (the handler receives the buffer contents directly
// for ReaderNext's destination length and WriterNext's source bytes).
type Op struct {
	Tag OpTag
	ID  uint32
	Buf []byte // for WriterNext: bytes to write. For ReaderNext: unused (Len carries capacity).
	Len uint32 // for ReaderNext: destination capacity
}

// Encode serializes op into the wire format: [tag:1][id:4 LE][len:4 LE][buf...].
// Tests use this codec; internal/guest keeps its own copy of the same
// format. It is not guest-ABI-stable across versions, only internally
// consistent.
func Encode(op Op) []byte {
	buf := make([]byte, 1+4+4+len(op.Buf))
	buf[0] = byte(op.Tag)
	binary.LittleEndian.PutUint32(buf[1:5], op.ID)
	binary.LittleEndian.PutUint32(buf[5:9], op.Len)
	copy(buf[9:], op.Buf)
	return buf
}

// Decode parses the wire format produced by Encode.
func Decode(raw []byte) (Op, error) {
	if len(raw) < 9 {
		return Op{}, fmt.Errorf("stream op payload too short: %d bytes", len(raw))
	}
	op := Op{
		Tag: OpTag(raw[0]),
		ID:  binary.LittleEndian.Uint32(raw[1:5]),
		Len: binary.LittleEndian.Uint32(raw[5:9]),
	}
	if len(raw) > 9 {
		op.Buf = raw[9:]
	}
	return op, nil
}

// Result is the handler's reply for a read/write unit, re-encoded by the
// caller into the opaque output payload the trampoline dumps back to the
// guest: [n:4 LE][data...] where data is only present for ReaderNext.
type Result struct {
	N    uint32
	Data []byte
}

// EncodeResult serializes r for ReaderNext (N bytes of Data actually read,
// 0 meaning EOF) or WriterNext/Flush/Shutdown (N bytes consumed, Data nil).
func EncodeResult(r Result) []byte {
	buf := make([]byte, 4+len(r.Data))
	binary.LittleEndian.PutUint32(buf[0:4], r.N)
	copy(buf[4:], r.Data)
	return buf
}
