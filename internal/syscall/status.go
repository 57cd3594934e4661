// Package syscall implements the single guest→host syscall trampoline
// (spec.md C6): one host function linked into every guest module under a
// fixed import name, demultiplexed by interrupt id through the per-task
// handler cache.
package syscall

// Status codes returned by the trampoline to the guest, per spec.md §6.
const (
	StatusOK         uint32 = 0 // outputs populated
	StatusErrNormal  uint32 = 1 // errors populated
	StatusErrFatal   uint32 = 2 // neither populated; bridge/allocation failure
)

// ImportModuleName is the fixed module name the guest imports the
// trampoline under.
const ImportModuleName = "__ipwis_syscall"

// ImportFieldName is the fixed field name of the imported function.
const ImportFieldName = "__ipwis_syscall"

// EntryExportName is the guest's exported entry point, called once by the
// scheduler to start a task with its inputs/outputs/errors ExternData.
const EntryExportName = "__ipwis_entry"
