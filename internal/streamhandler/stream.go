package streamhandler

import (
	"context"
	"fmt"
	"io"

	"github.com/ipwis/kernel/internal/abi"
	"github.com/ipwis/kernel/internal/interrupt"
	"github.com/ipwis/kernel/internal/restable"
)

// ID is the fixed interrupt id this module answers to.
const ID abi.InterruptId = "ipwis_modules_stream"

// Shutdowner is implemented by writers that support an explicit shutdown
// phase distinct from Close (e.g. flushing + half-closing a connection).
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

type readerEntry struct {
	r io.Reader
}

func (e *readerEntry) Release() error {
	if c, ok := e.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type writerEntry struct {
	w io.Writer
}

func (e *writerEntry) Release() error {
	if s, ok := e.w.(Shutdowner); ok {
		if err := s.Shutdown(context.Background()); err != nil {
			return err
		}
	}
	if c, ok := e.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Module is the C4 factory for the stream handler: each task gets its own
// fresh Handler instance with empty reader/writer tables.
type Module struct{}

func (Module) ID() abi.InterruptId { return ID }

func (Module) NewHandler() (interrupt.Handler, error) {
	return &Handler{
		readers: restable.New[*readerEntry](),
		writers: restable.New[*writerEntry](),
	}, nil
}

// Handler is the per-task stream interrupt handler. NewReader/NewWriter
// are host-side entry points, not reachable from the guest. The
// scheduler does not call them: a task's Handler is created inside its
// HandlerCache on the first stream syscall, with no reader or writer
// registered and no resource id handed to the guest.
type Handler struct {
	readers *restable.Table[*readerEntry]
	writers *restable.Table[*writerEntry]
}

// NewReader registers a host-side reader and returns its resource id.
func (h *Handler) NewReader(r io.Reader) (abi.ResourceId, error) {
	id, err := h.readers.Insert(func(uint32) (*readerEntry, error) {
		return &readerEntry{r: r}, nil
	})
	return abi.ResourceId(id), err
}

// NewWriter registers a host-side writer and returns its resource id.
func (h *Handler) NewWriter(w io.Writer) (abi.ResourceId, error) {
	id, err := h.writers.Insert(func(uint32) (*writerEntry, error) {
		return &writerEntry{w: w}, nil
	})
	return abi.ResourceId(id), err
}

// Invoke decodes the tagged op-code union and performs exactly one
// read/write unit, per spec.md §4.6.
func (h *Handler) Invoke(ctx context.Context, mem interrupt.MemoryAccessor, input []byte) ([]byte, error) {
	op, err := Decode(input)
	if err != nil {
		return nil, err
	}

	switch op.Tag {
	case OpReaderNext:
		return h.readerNext(ctx, mem, op)
	case OpWriterNext:
		return h.writerNext(ctx, op)
	case OpWriterFlush:
		return h.writerFlush(ctx, op)
	case OpWriterShutdown:
		return h.writerShutdown(ctx, op)
	case OpReaderRelease:
		if err := h.readers.Release(op.ID); err != nil {
			return nil, err
		}
		return EncodeResult(Result{}), nil
	case OpWriterRelease:
		if err := h.writers.Release(op.ID); err != nil {
			return nil, err
		}
		return EncodeResult(Result{}), nil
	default:
		return nil, fmt.Errorf("unsupported stream op tag: %d", op.Tag)
	}
}

func (h *Handler) readerNext(ctx context.Context, mem interrupt.MemoryAccessor, op Op) ([]byte, error) {
	entry, ok := h.readers.Get(op.ID)
	if !ok {
		return nil, fmt.Errorf("unknown stream reader id: %d", op.ID)
	}
	buf := make([]byte, op.Len)
	n, err := entry.r.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	// err == io.EOF or n == 0 both surface as a zero-length read to the
	// guest; spec.md defines EOF as len == 0, not as a distinct error.
	return EncodeResult(Result{N: uint32(n), Data: buf[:n]}), nil
}

func (h *Handler) writerNext(ctx context.Context, op Op) ([]byte, error) {
	entry, ok := h.writers.Get(op.ID)
	if !ok {
		return nil, fmt.Errorf("unknown stream writer id: %d", op.ID)
	}
	n, err := entry.w.Write(op.Buf)
	if err != nil {
		return nil, err
	}
	return EncodeResult(Result{N: uint32(n)}), nil
}

func (h *Handler) writerFlush(ctx context.Context, op Op) ([]byte, error) {
	entry, ok := h.writers.Get(op.ID)
	if !ok {
		return nil, fmt.Errorf("unknown stream writer id: %d", op.ID)
	}
	type flusher interface{ Flush() error }
	if f, ok := entry.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return nil, err
		}
	}
	return EncodeResult(Result{}), nil
}

func (h *Handler) writerShutdown(ctx context.Context, op Op) ([]byte, error) {
	entry, ok := h.writers.Get(op.ID)
	if !ok {
		return nil, fmt.Errorf("unknown stream writer id: %d", op.ID)
	}
	if s, ok := entry.w.(Shutdowner); ok {
		if err := s.Shutdown(ctx); err != nil {
			return nil, err
		}
	}
	return EncodeResult(Result{}), nil
}

// Release drains both resource tables: drops readers, awaits writer
// shutdown-then-drop, per spec.md §4.6 "Release".
func (h *Handler) Release(ctx context.Context) error {
	errs := h.writers.ReleaseAll()
	errs = append(errs, h.readers.ReleaseAll()...)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("stream handler release errors: %v", errs)
}
