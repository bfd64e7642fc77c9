// Command kernel is the one-shot glue spec.md §2's table budgets 6%
// of the core for: build the GDT/TSS, point the CPU at this kernel's
// IDT and MSR-based syscall entry, mount the root filesystem, load
// the first user program out of it, arm the timer, and hand off to
// the scheduler. Every subsystem below is implemented by its own
// package; this file only wires them together, the same role
// kernel/chentry.go's neighbor main.go would have played in the
// teacher had this kernel shipped one.
//
// Nothing here runs as a hosted Go program in the way cmd/shell does
// — LGDT/LIDT/OUT are real privileged instructions with no meaning
// outside ring 0 — so main's hosted mode only exercises the parts
// that don't require actual hardware (memory/VM/task/VFS wiring),
// stopping short of the LGDT/LIDT/PIT/MSR calls a real boot would
// make. Entry is what a Limine-style loader stub would call directly.
package main

import (
	"fmt"
	"os"

	"kernelcore/arch/amd64"
	"kernelcore/blockdev"
	"kernelcore/boot"
	"kernelcore/console"
	"kernelcore/diag"
	"kernelcore/elf"
	"kernelcore/fat32"
	"kernelcore/mem"
	"kernelcore/sched"
	"kernelcore/syscall"
	"kernelcore/task"
	"kernelcore/trap"
	"kernelcore/vfs"
	"kernelcore/vm"
)

// theTSS is the live TSS task.SetKernelStackTop writes RSP0 into on
// every switch, once Entry wires it up below.
var theTSS *tss

func main() {
	image := ""
	if len(os.Args) > 1 {
		image = os.Args[1]
	}
	if err := hostedSmokeTest(image); err != nil {
		fmt.Fprintf(os.Stderr, "kernel: %v\n", err)
		os.Exit(1)
	}
}

// hostedSmokeTest synthesizes a boot.Info the way cmd/shell does for
// its own harness, then drives every part of Entry that is safe to
// run without ring 0: memory/VM setup, filesystem mount, first-task
// creation. It stops before the privileged LGDT/LIDT/WrMSR/PIT/PIC
// calls, which is exactly the "minus the hardware-facing pieces" carve
// -out described in this file's package doc.
func hostedSmokeTest(image string) error {
	const arenaFrames = 4096
	arena := make([]byte, (arenaFrames+1)*mem.PGSIZE)
	base := (rawAddr(arena) + mem.PGSIZE - 1) &^ (mem.PGSIZE - 1)
	mem.Physmem = &mem.Physmem_t{}
	bi := &boot.Info{
		MemMap: []boot.MemRegion{
			{Base: base, Length: uintptr(arenaFrames * mem.PGSIZE), Kind: boot.MemUsable},
		},
	}
	if err := mem.Physmem.Init(bi); err != nil {
		return fmt.Errorf("memory init: %v", err)
	}
	if _, verr := vm.NewKernelMaster(0, 0); verr != 0 {
		return fmt.Errorf("kernel master: %v", verr)
	}

	fs, err := mountRoot(image)
	if err != nil {
		return err
	}

	wireHooks()
	syscall.Init(fs)
	if verr := diag.Install(fs); verr != 0 {
		fmt.Printf("kernel: /dev/prof unavailable: %v\n", verr)
	}

	initTask, err := spawnInit(fs)
	if err != nil {
		return fmt.Errorf("spawn init: %v", err)
	}
	console.InstallStdio(initTask.FDs)

	fmt.Printf("kernel: first task pid=%d ready, %d usable bytes\n",
		initTask.Pid, bi.TotalUsableBytes())
	return nil
}

// Entry is the symbol a Limine-style loader stub calls after its own
// assembly has set up a temporary stack: it sets up memory and the
// kernel master page table, then performs the privileged half
// hostedSmokeTest skips (GDT/TSS/IDT, PIC remap, PIT arm, MSR syscall
// entry), then the filesystem/task wiring, before handing off to the
// scheduler forever.
func Entry(bi *boot.Info) {
	mem.Physmem = &mem.Physmem_t{}
	if err := mem.Physmem.Init(bi); err != nil {
		panic(err)
	}
	if _, verr := vm.NewKernelMaster(bi.HHDMOffset, mem.Pa_t(highestUsableEnd(bi))); verr != 0 {
		panic(verr)
	}

	theTSS = &tss{}
	task.SetKernelStackTop = theTSS.setRSP0
	tssBase, tssLimit := theTSS.addr()
	g := newGDT(tssBase, tssLimit)
	gdtBase, gdtLimit := g.addr()
	amd64.Lgdt(gdtBase, gdtLimit)
	amd64.Ltr(selTSS)

	idt := &trap.Table{}
	idt.SetGate(trap.VecPageFault, selKCode, funcAddr(amd64.ISRPageFault), trap.GateInterrupt)
	idt.SetGate(trap.VecDoubleFault, selKCode, funcAddr(amd64.ISRDoubleFault), trap.GateInterrupt)
	idt.SetGate(trap.VecGeneralProtection, selKCode, funcAddr(amd64.ISRGeneralProtection), trap.GateInterrupt)
	idt.SetGate(trap.VecTimer, selKCode, funcAddr(amd64.ISRTimer), trap.GateInterrupt)
	idt.SetGate(trap.VecKeyboard, selKCode, funcAddr(amd64.ISRKeyboard), trap.GateInterrupt)
	idtBase, idtLimit := idt.Addr()
	amd64.Lidt(idtBase, idtLimit)

	trap.Remap(0x20, 0x28)
	trap.SetMask(0, false) // timer
	trap.SetMask(1, false) // keyboard
	armPIT(sched.TimerHz)

	installSyscallMSR()

	fs, err := mountRoot("")
	if err != nil {
		panic(err)
	}
	wireHooks()
	syscall.Init(fs)
	if verr := diag.Install(fs); verr != 0 {
		fmt.Printf("kernel: /dev/prof unavailable: %v\n", verr)
	}

	initTask, err := spawnInit(fs)
	if err != nil {
		panic(err)
	}
	console.InstallStdio(initTask.FDs)
	sched.Enqueue(initTask)

	amd64.EnableInterrupts()
	for {
		amd64.Halt()
	}
}

// highestUsableEnd returns the exclusive upper bound of every usable
// region the boot map names, the same bound mem.Physmem_t.Init derives
// to size its own refcount array, so NewKernelMaster's HHDM
// map covers exactly the physical range the frame allocator indexes.
func highestUsableEnd(bi *boot.Info) uintptr {
	var hi uintptr
	for _, r := range bi.UsableRegions() {
		if end := r.End(); end > hi {
			hi = end
		}
	}
	return hi
}

// wireHooks connects task's fork/exit notifications to the scheduler,
// the indirection task.go's own doc comment names to avoid a
// task->sched import cycle.
func wireHooks() {
	task.OnForked = sched.Enqueue
	task.OnExit = sched.Unlink
}

// mountRoot opens a FAT32-formatted disk image at path if given,
// otherwise an empty in-memory root, mirroring cmd/shell's openRoot.
func mountRoot(image string) (*vfs.Fs_t, error) {
	if image == "" {
		return vfs.NewRoot(nil), nil
	}
	info, err := os.Stat(image)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %v", image, err)
	}
	disk, err := blockdev.OpenFileDisk(image, uint64(info.Size())/blockdev.SectorSize)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v", image, err)
	}
	bd := blockdev.New(disk)
	if tbl, verr := blockdev.ParseTable(bd); verr == 0 && len(tbl.Partitions) > 0 {
		bd = blockdev.New(blockdev.NewPartitionDevice(bd, tbl.Partitions[0]))
	}
	m, verr := fat32.Mount_(bd)
	if verr != 0 {
		return nil, fmt.Errorf("mount %s: %v", image, verr)
	}
	root, verr := m.MountVFS()
	if verr != 0 {
		return nil, fmt.Errorf("mount vfs: %v", verr)
	}
	return &vfs.Fs_t{Root: root}, nil
}

// initPath is where Entry expects the first user program on whatever
// root filesystem it mounted.
const initPath = "/bin/init"

// spawnInit loads initPath's ELF image (if present) into a fresh user
// address space and creates its task; if no such file exists yet
// (e.g. the in-memory root the hosted smoke test uses), it falls back
// to a do-nothing kernel task so the rest of the wiring still has a
// "current" task to exercise.
func spawnInit(fs *vfs.Fs_t) (*task.Task_t, error) {
	n, verr := fs.Lookup(initPath)
	if verr != 0 {
		return task.NewKernelTask(func() {}), nil
	}
	buf := make([]byte, 1<<20)
	got, verr := n.Ops.Read(n, buf, 0)
	if verr != 0 {
		return nil, fmt.Errorf("read %s: %v", initPath, verr)
	}

	as, verr := vm.NewUserTable()
	if verr != 0 {
		return nil, fmt.Errorf("user table: %v", verr)
	}
	loaded, verr := elf.Load(as, buf[:got])
	if verr != 0 {
		return nil, fmt.Errorf("load %s: %v", initPath, verr)
	}

	const userStackVA = 0x7ffffffff000
	stackPA, ok := mem.Physmem.RequestPage()
	if !ok {
		return nil, fmt.Errorf("out of memory for initial stack")
	}
	if verr := vm.Map(as.Root, userStackVA, stackPA, mem.PTE_P|mem.PTE_U|mem.PTE_W|mem.PTE_NX); verr != 0 {
		return nil, fmt.Errorf("map initial stack: %v", verr)
	}

	t := task.NewUserTask(0, as, loaded.Entry, userStackVA+mem.PGSIZE, userStackVA, stackPA)
	return t, nil
}
