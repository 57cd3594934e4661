package scheduler

import (
	"context"

	"github.com/ipwis/kernel/internal/abi"
	"github.com/ipwis/kernel/internal/interrupt"
	"github.com/ipwis/kernel/internal/membridge"
	"github.com/ipwis/kernel/internal/metrics"
	ipwissyscall "github.com/ipwis/kernel/internal/syscall"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// hostLink is the mutable cell a task's single imported host function
// closes over. wasmer requires imports to exist before a module is
// instantiated, but the Bridge (and therefore the Trampoline's Memory
// view) can only be built from the resulting *wasmer.Instance — so the
// import function is built first against an empty hostLink, and
// newInstance fills it in immediately after instantiation, strictly
// before the guest's entry export is ever called.
type hostLink struct {
	tramp  *ipwissyscall.Trampoline
	bridge *membridge.Bridge
}

func newImportObject(store *wasmer.Store, link *hostLink) *wasmer.ImportObject {
	fnType := wasmer.NewFunctionType(
		wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32),
		wasmer.NewValueTypes(wasmer.I32),
	)

	syscallFn := wasmer.NewFunction(store, fnType, func(args []wasmer.Value) ([]wasmer.Value, error) {
		handlerRef := abi.ExternDataRef(args[0].I32())
		inputsRef := abi.ExternDataRef(args[1].I32())
		outputsRef := abi.ExternDataRef(args[2].I32())
		errorsRef := abi.ExternDataRef(args[3].I32())

		status := link.tramp.Syscall(context.Background(), link.bridge, link.bridge, handlerRef, inputsRef, outputsRef, errorsRef)
		metrics.RecordSyscall(status == ipwissyscall.StatusErrFatal)
		return []wasmer.Value{wasmer.NewI32(int32(status))}, nil
	})

	imports := wasmer.NewImportObject()
	imports.Register(ipwissyscall.ImportModuleName, map[string]wasmer.IntoExtern{
		ipwissyscall.ImportFieldName: syscallFn,
	})
	return imports
}

// newInstance compiles-link-instantiates one guest program instance and
// wires its Bridge into link, per spec.md §4.7 steps "instantiate the
// module" / "construct the memory bridge".
func newInstance(engine *Engine, module *wasmer.Module, cache *interrupt.HandlerCache) (*wasmer.Instance, *membridge.Bridge, error) {
	link := &hostLink{tramp: ipwissyscall.New(cache)}
	imports := newImportObject(engine.Store(), link)

	instance, err := wasmer.NewInstance(module, imports)
	if err != nil {
		return nil, nil, err
	}

	bridge, err := membridge.New(instance)
	if err != nil {
		instance.Close()
		return nil, nil, err
	}
	link.bridge = bridge
	return instance, bridge, nil
}
