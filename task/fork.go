package task

import (
	"unsafe"

	"kernelcore/kcerr"
	"kernelcore/mem"
	"kernelcore/vm"
)

// Fork implements spec.md §4.9: clone parent's address space under
// copy-on-write, duplicate its kernel and user stacks, and arrange for
// the child's first resume to fall through as if fork had just
// returned 0 in user space.
//
// vm.CloneCOW requires the source address space's pmap lock to be
// held; Fork acquires and releases it itself so callers never need to
// know about that precondition.
func Fork(parent *Task_t) (*Task_t, kcerr.Err_t) {
	parent.AS.LockPmap()
	childAS, err := vm.CloneCOW(parent.AS)
	parent.AS.UnlockPmap()
	if err != 0 {
		return nil, err
	}

	childPA, ok := mem.Physmem.RequestPage()
	if !ok {
		return nil, kcerr.ENOMEM
	}
	parentUserPg := mem.Physmem.Dmap(parent.UserStackPA)
	childUserPg := mem.Physmem.Dmap(childPA)
	copy(mem.Pg2Bytes(childUserPg)[:], mem.Pg2Bytes(parentUserPg)[:])
	if err := vm.Map(childAS.Root, parent.UserStackVA, childPA, mem.PTE_P|mem.PTE_W|mem.PTE_U|mem.PTE_NX); err != 0 {
		return nil, err
	}

	child := &Task_t{
		Pid:         allocPid(),
		ParentPid:   parent.Pid,
		State:       Ready,
		KStack:      make([]byte, KStackSize),
		AS:          childAS,
		Entry:       parent.Entry,
		UserSP:      parent.UserSP,
		UserStackVA: parent.UserStackVA,
		UserStackPA: childPA,
		FDs:         parent.FDs.Clone(),
		exitCh:      make(chan int, 1),
	}
	copy(child.KStack, parent.KStack)

	// The child's saved context points into its own stack at the same
	// relative offset the parent's Context currently has into its
	// stack (step 3); the child's saved rax (the value fork "returns"
	// in user space) is zeroed at the matching Frame_t location
	// (step 4). Both stacks are the same size, so the offsets line up
	// byte for byte.
	parentBase := uintptr(unsafe.Pointer(&parent.KStack[0]))
	childBase := uintptr(unsafe.Pointer(&child.KStack[0]))
	child.Context = childBase + (parent.Context - parentBase)
	child.Frame().RAX = 0

	register(child)
	if OnForked != nil {
		OnForked(child)
	}
	return child, 0
}

// OnExit, when set, is invoked after a task transitions to Terminated;
// cmd/kernel wires it to sched.Unlink so the scheduler's queue (which
// by invariant holds only non-terminated tasks) drops the task.
var OnExit func(*Task_t)

// Exit implements syscall 0: marks t terminated, records its exit
// code, and wakes whichever parent is blocked in Waitpid for it.
// Non-blocking by design: a parent that never calls Waitpid simply
// leaves the exit code buffered until it does (or forever, if it
// doesn't — there is no reaper of reapers in this kernel).
func Exit(t *Task_t, code int) {
	en := listLock.Lock()
	t.State = Terminated
	t.ExitCode = code
	listLock.Unlock(en)
	select {
	case t.exitCh <- code:
	default:
	}
	if OnExit != nil {
		OnExit(t)
	}
}

// Waitpid implements syscall 8: blocks the calling goroutine until the
// named child has exited, then reaps it from the registry and returns
// its exit code. Returns ECHILD if pid does not name a living or
// zombie child of parent.
func Waitpid(parent *Task_t, pid kcerr.Pid_t) (kcerr.Pid_t, int, kcerr.Err_t) {
	child, ok := Lookup(pid)
	if !ok || child.ParentPid != parent.Pid {
		return 0, 0, kcerr.ECHILD
	}
	code := <-child.exitCh
	unregister(child.Pid)
	return child.Pid, code, 0
}
