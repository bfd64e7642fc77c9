// Package task owns the Task_t control block, the global task
// registry, fork's copy-on-write clone (spec.md §4.9), and the
// architecture-independent half of the context switch (spec.md §4.8).
// The register-save/restore machinery itself lives in arch/amd64;
// this package only ever hands arch/amd64.Swtch a stack pointer.
package task

import (
	"reflect"
	"unsafe"

	"kernelcore/arch/amd64"
	"kernelcore/kcerr"
	"kernelcore/mem"
	"kernelcore/spinlock"
	"kernelcore/vfs"
	"kernelcore/vm"
)

// State_t is one of the four states spec.md §3's Task data model
// names.
type State_t int

const (
	Ready State_t = iota
	Running
	Blocked
	Terminated
)

func (s State_t) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// KStackSize is the size of every task's kernel stack.
const KStackSize = 16 * 1024

// Frame_t is the register snapshot the syscall entry stub saves at a
// fixed offset in the current task's kernel stack before dispatching
// (spec.md §4.11 step 2), and the register set fork's child resumes
// with (spec.md §4.9).
type Frame_t struct {
	RAX, RBX, RCX, RDX, RSI, RDI, RBP    uint64
	R8, R9, R10, R11, R12, R13, R14, R15 uint64
	RIP, UserSP, RFlags                  uint64
}

// frameOffset is the fixed byte offset of the Frame_t within every
// task's kernel stack; the syscall entry stub and the fork clone both
// rely on it being the same for every task.
const frameOffset = KStackSize - 256

// Task_t is one schedulable unit of execution (spec.md §3's Task).
type Task_t struct {
	Pid       kcerr.Pid_t
	ParentPid kcerr.Pid_t
	State     State_t

	// Context holds the kernel stack pointer arch/amd64.Swtch should
	// resume at; it is only ever read/written while this task is not
	// Running (or by the task itself, mid-switch).
	Context uintptr

	KStack []byte

	AS          *vm.AddrSpace_t
	Entry       uintptr
	UserSP      uintptr
	UserStackVA uintptr
	UserStackPA mem.Pa_t

	// KernelEntry is set for kernel-only tasks; trampolineTarget calls
	// it directly instead of transitioning to ring 3.
	KernelEntry func()

	WakeTick uint64
	ExitCode int
	Next     *Task_t

	// Cycles counts timer ticks this task was running for, sampled by
	// sched.Tick; diag turns it into a profile.Profile sample.
	Cycles uint64

	FDs *vfs.FdTable_t

	exitCh chan int
}

// Frame returns a pointer to this task's saved register snapshot,
// aliasing memory owned by its kernel stack.
func (t *Task_t) Frame() *Frame_t {
	return (*Frame_t)(unsafe.Pointer(&t.KStack[frameOffset]))
}

var (
	listLock spinlock.IRQLock_t
	byPid    = make(map[kcerr.Pid_t]*Task_t)
	nextPid  kcerr.Pid_t = 1
)

// current is the presently running task; mutated only by Switch.
var current *Task_t

// Current returns the task Switch last made running, or nil before
// any switch has happened.
func Current() *Task_t { return current }

func allocPid() kcerr.Pid_t {
	en := listLock.Lock()
	pid := nextPid
	nextPid++
	listLock.Unlock(en)
	return pid
}

func register(t *Task_t) {
	en := listLock.Lock()
	byPid[t.Pid] = t
	listLock.Unlock(en)
}

func unregister(pid kcerr.Pid_t) {
	en := listLock.Lock()
	delete(byPid, pid)
	listLock.Unlock(en)
}

// Lookup finds a registered task by pid.
func Lookup(pid kcerr.Pid_t) (*Task_t, bool) {
	en := listLock.Lock()
	t, ok := byPid[pid]
	listLock.Unlock(en)
	return t, ok
}

// OnForked, when set, is invoked with every task newly created by
// NewKernelTask/NewUserTask/Fork, after registration; cmd/kernel wires
// it to sched.Enqueue to avoid a task→sched import cycle.
var OnForked func(*Task_t)

func newTask(parent kcerr.Pid_t, as *vm.AddrSpace_t, entry uintptr) *Task_t {
	t := &Task_t{
		Pid:       allocPid(),
		ParentPid: parent,
		State:     Ready,
		KStack:    make([]byte, KStackSize),
		AS:        as,
		Entry:     entry,
		FDs:       vfs.NewFdTable(),
		exitCh:    make(chan int, 1),
	}
	t.Context = seedStack(t.KStack)
	register(t)
	if OnForked != nil {
		OnForked(t)
	}
	return t
}

// NewKernelTask creates a task with no address space of its own that
// runs fn on its own kernel stack (spec.md §4.8's "trampoline calls
// the task's kernel entry point" path).
func NewKernelTask(fn func()) *Task_t {
	t := newTask(0, vm.Kernel, 0)
	t.KernelEntry = fn
	return t
}

// NewUserTask creates the first task of a user program: as is a
// freshly built address space (vm.NewUserTable, then populated by
// elf.Load), entry its ELF entry point, and userSP/userStackVA/userPA
// describe its already-mapped initial stack (userStackVA is the page
// base, userSP the ABI-level initial stack pointer within it).
func NewUserTask(parent kcerr.Pid_t, as *vm.AddrSpace_t, entry, userSP, userStackVA uintptr, userPA mem.Pa_t) *Task_t {
	t := newTask(parent, as, entry)
	t.UserSP = userSP
	t.UserStackVA = userStackVA
	t.UserStackPA = userPA
	return t
}

// seedStack writes the register words arch/amd64.Swtch expects to pop
// on its first resume into a freshly created task: [R15 R14 R13 R12
// BX BP retaddr], with retaddr = TrampolineEntry, so control lands in
// the trampoline (which in turn calls trampolineTarget below) the
// first time this task is switched to (spec.md §4.8).
func seedStack(stack []byte) uintptr {
	top := uintptr(unsafe.Pointer(&stack[0])) + uintptr(len(stack))
	sp := top &^ 0xf // 16-byte align the stack top first

	words := []uint64{
		0,                              // R15
		0,                              // R14
		0,                              // R13
		0,                              // R12
		0,                              // BX
		0,                              // BP
		uint64(trampolineEntryAddr()), // return address: TrampolineEntry
	}
	sp -= uintptr(len(words)) * 8
	base := sp
	for i, w := range words {
		*(*uint64)(unsafe.Pointer(base + uintptr(i)*8)) = w
	}
	return sp
}

// trampolineEntryAddr resolves the entry address of
// arch/amd64.TrampolineEntry via reflect, the same way the standard
// library's own low-level callers (e.g. runtime/pprof) obtain a
// function value's PC without assembly. It is a variable, not a
// direct call, so tests can substitute a fake without the seeded
// stack ever being resumed through real machine code.
var trampolineEntryAddr = func() uintptr {
	return reflect.ValueOf(amd64.TrampolineEntry).Pointer()
}
