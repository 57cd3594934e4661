package syscall

import (
	"context"

	"github.com/ipwis/kernel/internal/abi"
	"github.com/ipwis/kernel/internal/interrupt"
)

// Memory is the subset of *membridge.Bridge the trampoline needs to
// decode the four ExternDataRef arguments and write back a result.
type Memory interface {
	LoadDoubled(ref abi.ExternDataRef) ([]byte, error)
	DumpTo(src []byte, dst abi.ExternDataRef) error
	DumpErrorTo(cause error, dst abi.ExternDataRef) error
}

// Trampoline is the host side of the guest's single imported syscall. One
// instance is bound per task instantiation, closing over that task's
// handler cache.
type Trampoline struct {
	cache *interrupt.HandlerCache
}

// New returns a trampoline dispatching through cache.
func New(cache *interrupt.HandlerCache) *Trampoline {
	return &Trampoline{cache: cache}
}

// Syscall implements spec.md §4.5 steps 2-7. mem must be the Memory Bridge
// built over the same call frame the guest is currently executing in.
func (t *Trampoline) Syscall(ctx context.Context, mem Memory, handlerAccessor interrupt.MemoryAccessor, handlerRef, inputsRef, outputsRef, errorsRef abi.ExternDataRef) uint32 {
	handlerBytes, err := mem.LoadDoubled(handlerRef)
	if err != nil {
		return StatusErrFatal
	}
	id := abi.InterruptId(handlerBytes)

	inputBytes, err := mem.LoadDoubled(inputsRef)
	if err != nil {
		return StatusErrFatal
	}

	handler, err := t.cache.Resolve(id)
	if err != nil {
		if werr := mem.DumpErrorTo(err, errorsRef); werr != nil {
			return StatusErrFatal
		}
		return StatusErrNormal
	}

	output, err := handler.Invoke(ctx, handlerAccessor, inputBytes)
	if err != nil {
		if werr := mem.DumpErrorTo(err, errorsRef); werr != nil {
			return StatusErrFatal
		}
		return StatusErrNormal
	}

	if err := mem.DumpTo(output, outputsRef); err != nil {
		return StatusErrFatal
	}
	return StatusOK
}
