//go:build wasip1

package guest

// Handler is a guest program's task logic: it receives the task's raw
// input bytes and returns either the output bytes or an error that
// becomes the task's trap text.
type Handler func(input []byte) ([]byte, error)

var handler Handler

// Run installs h as the task's entry point. A guest program's main
// calls this once, then returns; the scheduler invokes __ipwis_entry
// directly and never calls back into the guest's main.
func Run(h Handler) {
	handler = h
}

// ipwisEntry matches the call the scheduler makes once per task:
// entry.Call(inputsPtr, inputsLen, outputsSlot, errorsSlot). inputsPtr/
// inputsLen describe the task's input bytes directly (no double
// indirection); outputsSlot and errorsSlot are empty 8-byte regions the
// host pre-allocated via Bridge.AllocSlot, to be filled with an
// ExternData encoding pointing at this call's result.
//
//go:wasmexport __ipwis_entry
func ipwisEntry(inputsPtr, inputsLen, outputsSlot, errorsSlot uint32) {
	if handler == nil {
		writeDoubledInto(errorsSlot, []byte("guest: no task handler registered"))
		return
	}

	input := append([]byte(nil), bytesAt(inputsPtr, inputsLen)...)
	output, err := handler(input)
	if err != nil {
		writeDoubledInto(errorsSlot, []byte(err.Error()))
		return
	}
	writeDoubledInto(outputsSlot, output)
}
