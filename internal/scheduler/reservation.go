package scheduler

import "github.com/wasmerio/wasmer-go/wasmer"

// reservation is the restable.Releasable entry backing a task's
// ResourceId: the live wasmer instance the Task Store's release callback
// tears down once the task is terminal and Release-d.
type reservation struct {
	instance *wasmer.Instance
}

// Release closes the underlying wasmer instance, freeing its linear
// memory and compiled code instance.
func (r *reservation) Release() error {
	r.instance.Close()
	return nil
}
