package task

// EnterUsermode performs the ring-3 transition into a user task's
// entry point with its seeded stack (spec.md §4.8's "sets the TSS
// kernel stack and performs a ring-3 transition" path). The transition
// itself needs inline assembly this package cannot host, so cmd/kernel
// installs the real implementation at boot; tests substitute a fake to
// observe dispatch without ever reaching ring 3.
var EnterUsermode = func(t *Task_t) {
	panic("task: EnterUsermode not installed")
}

// trampolineTarget is called, never returns to its caller in the
// normal case, from arch/amd64.TrampolineEntry: the assembly RET that
// resumes a freshly seeded task's stack for the first time lands here
// (spec.md §4.8). It dispatches on why the current task exists: a
// kernel task runs its entry function directly; a user task transitions
// to ring 3. No //go:linkname is needed to make this callable from
// arch/amd64's assembly: an unexported Go function still compiles to
// an ordinary linker symbol, and the assembler accepts a fully
// package-qualified symbol name for a cross-package CALL target.
func trampolineTarget() {
	t := Current()
	if t == nil {
		panic("task: trampoline entered with no current task")
	}
	if t.KernelEntry != nil {
		t.KernelEntry()
		Exit(t, 0)
		return
	}
	EnterUsermode(t)
}
