//go:build wasip1

package guest

import (
	"encoding/binary"
	"io"
)

// Stream handler wire format, mirrored from internal/streamhandler/codec.go.
// A guest binary cannot import that package directly: it pulls in
// wasmer-go through internal/interrupt, which does not build for
// wasip1/wasm. The op-code union is small and stable enough to keep an
// independent guest-side copy.
type opTag byte

const (
	opReaderNext opTag = iota
	opWriterNext
	opWriterFlush
	opWriterShutdown
	_ // OpReaderNew: host-side only
	opReaderRelease
	_ // OpWriterNew: host-side only
	opWriterRelease
)

const streamHandlerID = "ipwis_modules_stream"

func encodeOp(tag opTag, id, length uint32, payload []byte) []byte {
	buf := make([]byte, 1+4+4+len(payload))
	buf[0] = byte(tag)
	binary.LittleEndian.PutUint32(buf[1:5], id)
	binary.LittleEndian.PutUint32(buf[5:9], length)
	copy(buf[9:], payload)
	return buf
}

func decodeResult(raw []byte) (n uint32, data []byte, ok bool) {
	if len(raw) < 4 {
		return 0, nil, false
	}
	n = binary.LittleEndian.Uint32(raw[0:4])
	if len(raw) > 4 {
		data = raw[4:]
	}
	return n, data, true
}

// Reader reads one buffer at a time from a host-side io.Reader registered
// with the task's stream handler, identified by its resource id. The
// scheduler registers no reader before __ipwis_entry and advertises no
// resource id in the task's inputs.
type Reader struct {
	id uint32
}

// NewReader wraps the host reader resource id assigned to this task.
func NewReader(id uint32) *Reader { return &Reader{id: id} }

// Read implements io.Reader by issuing one OpReaderNext syscall sized to
// len(p). A zero-length result means the host reader reached EOF.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	out, err := Syscall(streamHandlerID, encodeOp(opReaderNext, r.id, uint32(len(p)), nil))
	if err != nil {
		return 0, err
	}
	n, data, ok := decodeResult(out)
	if !ok {
		return 0, io.ErrUnexpectedEOF
	}
	if n == 0 {
		return 0, io.EOF
	}
	copy(p, data)
	return int(n), nil
}

// Release tells the host this reader is no longer needed.
func (r *Reader) Release() error {
	_, err := Syscall(streamHandlerID, encodeOp(opReaderRelease, r.id, 0, nil))
	return err
}

// Writer writes one buffer at a time to a host-side io.Writer.
type Writer struct {
	id uint32
}

// NewWriter wraps the host writer resource id assigned to this task.
func NewWriter(id uint32) *Writer { return &Writer{id: id} }

// Write implements io.Writer by issuing one OpWriterNext syscall.
func (w *Writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	out, err := Syscall(streamHandlerID, encodeOp(opWriterNext, w.id, 0, p))
	if err != nil {
		return 0, err
	}
	n, _, ok := decodeResult(out)
	if !ok {
		return 0, io.ErrShortWrite
	}
	return int(n), nil
}

// Flush asks the host writer to flush any buffered bytes, if it supports
// flushing.
func (w *Writer) Flush() error {
	_, err := Syscall(streamHandlerID, encodeOp(opWriterFlush, w.id, 0, nil))
	return err
}

// Shutdown asks the host writer to half-close, if it supports a distinct
// shutdown phase, then Release should be called to drop the resource.
func (w *Writer) Shutdown() error {
	_, err := Syscall(streamHandlerID, encodeOp(opWriterShutdown, w.id, 0, nil))
	return err
}

// Release tells the host this writer is no longer needed.
func (w *Writer) Release() error {
	_, err := Syscall(streamHandlerID, encodeOp(opWriterRelease, w.id, 0, nil))
	return err
}
