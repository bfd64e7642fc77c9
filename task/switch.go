package task

import (
	"unsafe"

	"kernelcore/arch/amd64"
)

// SetKernelStackTop is installed into the TSS RSP0 field on every
// switch (spec.md §4.8 step 4), so the CPU loads the correct kernel
// stack on the next ring-3→ring-0 transition. cmd/kernel wires this to
// the real TSS writer; it defaults to a no-op so packages that only
// exercise scheduling logic (not a real boot) don't need a TSS.
var SetKernelStackTop = func(top uintptr) {}

// Switch implements spec.md §4.8's task_switch: it demotes the
// outgoing running task to ready, promotes next to running, installs
// its kernel stack top and (if its address space differs) CR3, then
// performs the architecture-specific register save/restore.
//
// Switch never returns into this call frame for the very first switch
// into a freshly created task — instead it resumes inside that task's
// seeded trampoline. It returns normally once some later Switch call
// resumes the task that called this one.
func Switch(next *Task_t) {
	if next == nil || next == current {
		return
	}
	prev := current
	if prev != nil && prev.State == Running {
		prev.State = Ready
	}
	next.State = Running
	current = next

	top := uintptr(unsafe.Pointer(&next.KStack[0])) + uintptr(len(next.KStack))
	SetKernelStackTop(top)

	if prev == nil || prev.AS == nil || prev.AS.Root != next.AS.Root {
		amd64.LoadCR3(uintptr(next.AS.Root))
	}

	if prev == nil {
		// Nothing to save into; park a throwaway value. This only
		// happens for the very first switch performed by the
		// scheduler, with no prior running task.
		var discard uintptr
		amd64.Swtch(&discard, next.Context)
		return
	}
	amd64.Swtch(&prev.Context, next.Context)
}
