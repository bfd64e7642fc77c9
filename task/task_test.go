package task

import (
	"testing"
	"unsafe"

	"kernelcore/boot"
	"kernelcore/kcerr"
	"kernelcore/mem"
	"kernelcore/vm"
)

func setup(t *testing.T, nframes int) *vm.AddrSpace_t {
	t.Helper()
	mem.Physmem = &mem.Physmem_t{}
	arena := make([]byte, (nframes+1)*mem.PGSIZE)
	base := (uintptr(unsafe.Pointer(&arena[0])) + mem.PGSIZE - 1) &^ (mem.PGSIZE - 1)
	bi := &boot.Info{
		HHDMOffset: 0,
		MemMap: []boot.MemRegion{
			{Base: base, Length: uintptr(nframes * mem.PGSIZE), Kind: boot.MemUsable},
		},
	}
	if err := mem.Physmem.Init(bi); err != nil {
		t.Fatalf("mem init: %v", err)
	}
	if _, err := vm.NewKernelMaster(0, 0); err != 0 {
		t.Fatalf("kernel master: %v", err)
	}
	as, err := vm.NewUserTable()
	if err != 0 {
		t.Fatalf("user table: %v", err)
	}
	return as
}

// mkUserTask builds a minimal user task with a single mapped,
// non-zero user stack page, bypassing elf.Load/exec plumbing so this
// package's tests don't need to depend on the elf package.
func mkUserTask(t *testing.T, as *vm.AddrSpace_t, parent kcerr.Pid_t) *Task_t {
	t.Helper()
	pa, ok := mem.Physmem.RequestPage()
	if !ok {
		t.Fatal("out of frames")
	}
	const userVA = 0x7ffff0000000
	if err := vm.Map(as.Root, userVA, pa, mem.PTE_P|mem.PTE_W|mem.PTE_U|mem.PTE_NX); err != 0 {
		t.Fatalf("map user stack: %v", err)
	}
	pg := mem.Pg2Bytes(mem.Physmem.Dmap(pa))
	for i := range pg[:16] {
		pg[i] = byte(0xA0 + i)
	}
	tk := NewUserTask(parent, as, 0x400000, userVA+mem.PGSIZE-8, userVA, pa)
	tk.Frame().RAX = 0x4242
	return tk
}

func TestNewKernelTaskAllocatesDistinctPids(t *testing.T) {
	setup(t, 32)
	a := NewKernelTask(func() {})
	b := NewKernelTask(func() {})
	if a.Pid == b.Pid {
		t.Fatalf("expected distinct pids, got %d twice", a.Pid)
	}
	if _, ok := Lookup(a.Pid); !ok {
		t.Fatal("task a not registered")
	}
	if _, ok := Lookup(b.Pid); !ok {
		t.Fatal("task b not registered")
	}
}

func TestSeedStackLandsOnTrampolineEntry(t *testing.T) {
	setup(t, 32)
	tk := NewKernelTask(func() {})
	retAddrSlot := tk.Context + 6*8
	got := *(*uint64)(unsafe.Pointer(retAddrSlot))
	if got != uint64(trampolineEntryAddr()) {
		t.Fatalf("seeded return address = %#x, want %#x", got, trampolineEntryAddr())
	}
}

func TestForkDuplicatesStackAndZeroesChildReturnValue(t *testing.T) {
	as := setup(t, 64)
	parent := mkUserTask(t, as, 0)
	parent.KStack[0] = 0x55 // arbitrary marker byte, far from both Frame_t and the seeded context words

	child, err := Fork(parent)
	if err != 0 {
		t.Fatalf("fork: %v", err)
	}
	if child.Pid == parent.Pid {
		t.Fatal("child and parent share a pid")
	}
	if child.ParentPid != parent.Pid {
		t.Fatalf("child.ParentPid = %d, want %d", child.ParentPid, parent.Pid)
	}
	if child.KStack[0] != 0x55 {
		t.Fatal("child kernel stack was not copied from parent")
	}
	if child.Frame().RAX != 0 {
		t.Fatalf("child Frame.RAX = %#x, want 0 (fork return value)", child.Frame().RAX)
	}
	if parent.Frame().RAX != 0x4242 {
		t.Fatal("fork must not mutate the parent's saved frame")
	}

	if child.AS.Root == parent.AS.Root {
		t.Fatal("child must have its own address-space root")
	}
	childPa, ok := vm.Resolve(child.AS.Root, parent.UserStackVA)
	if !ok {
		t.Fatal("child's user stack page not mapped")
	}
	if childPa == parent.UserStackPA {
		t.Fatal("child must have its own physical user stack frame")
	}
	parentPg := mem.Pg2Bytes(mem.Physmem.Dmap(parent.UserStackPA))
	childPg := mem.Pg2Bytes(mem.Physmem.Dmap(childPa))
	for i := 0; i < 16; i++ {
		if childPg[i] != parentPg[i] {
			t.Fatalf("byte %d: child user stack = %#x, want %#x", i, childPg[i], parentPg[i])
		}
	}
}

func TestExitThenWaitpidReapsExitCode(t *testing.T) {
	setup(t, 32)
	parent := NewKernelTask(func() {})
	child := NewKernelTask(func() {})
	child.ParentPid = parent.Pid

	Exit(child, 7)

	pid, code, err := Waitpid(parent, child.Pid)
	if err != 0 {
		t.Fatalf("waitpid: %v", err)
	}
	if pid != child.Pid || code != 7 {
		t.Fatalf("got (pid=%d, code=%d), want (pid=%d, code=7)", pid, code, child.Pid)
	}
	if _, ok := Lookup(child.Pid); ok {
		t.Fatal("waitpid must reap the child from the registry")
	}
}

func TestWaitpidRefusesNonChild(t *testing.T) {
	setup(t, 32)
	parent := NewKernelTask(func() {})
	stranger := NewKernelTask(func() {})

	if _, _, err := Waitpid(parent, stranger.Pid); err != kcerr.ECHILD {
		t.Fatalf("err = %v, want ECHILD", err)
	}
}
