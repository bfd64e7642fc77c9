package trap

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"kernelcore/arch/amd64"
	"kernelcore/mem"
	"kernelcore/task"
	"kernelcore/vm"
)

// Frame_t is the interrupt frame an ISR stub builds on the stack
// before calling into this package: the CPU-pushed SS:RSP/RFLAGS/
// CS:RIP plus (for vectors that have one) the hardware error code.
type Frame_t struct {
	Vector  uint64
	ErrCode uint64
	RIP     uint64
	CS      uint64
	RFlags  uint64
	RSP     uint64
	SS      uint64
}

// Page-fault error code bits (Intel SDM vol 3, §4.7).
const (
	pfPresent = 1 << 0
	pfWrite   = 1 << 1
	pfUser    = 1 << 2
)

// Result is what a fault handler decided to do, left for Dispatch
// (through act) to carry out (reschedule, or escalate to Panic) so
// that handler logic itself never has to invoke the scheduler or halt
// the CPU directly.
type Result int

const (
	ResultHandled        Result = iota // resume the faulting instruction
	ResultTaskTerminated               // current task was killed; caller should reschedule
	ResultFatal                        // caller should Panic
)

// PageFault implements spec.md §4.10's #PF handler: a present-page
// write fault is first offered to the copy-on-write path; if that
// doesn't claim it and the fault came from user mode, the current
// task is terminated with exit code -11. Anything else is fatal.
func PageFault(f *Frame_t) Result {
	return pageFault(f, task.Current(), amd64.ReadCR2())
}

// pageFault is PageFault's decision logic with the faulting task and
// address passed explicitly, so it can be exercised without relying on
// task.Switch having set task.Current() first.
func pageFault(f *Frame_t, cur *task.Task_t, faultVA uintptr) Result {
	if f.ErrCode&pfPresent != 0 && f.ErrCode&pfWrite != 0 && cur != nil {
		cur.AS.LockPmap()
		handled := vm.HandleCOWFault(cur.AS, faultVA) == vm.FaultHandled
		cur.AS.UnlockPmap()
		if handled {
			return ResultHandled
		}
	}
	if f.ErrCode&pfUser != 0 && cur != nil {
		task.Exit(cur, -11)
		return ResultTaskTerminated
	}
	return ResultFatal
}

// DoubleFault implements spec.md §4.10's #DF handler: always fatal.
func DoubleFault(f *Frame_t) Result { return ResultFatal }

// GeneralProtection implements spec.md §4.10's #GP handler: always
// fatal.
func GeneralProtection(f *Frame_t) Result { return ResultFatal }

// disasmAt best-effort disassembles the instruction at rip within as,
// for the panic dump. Returns a placeholder string instead of erroring
// when the address isn't mapped or decoding fails — a panic dump must
// never itself panic.
func disasmAt(as *vm.AddrSpace_t, rip uint64) string {
	if as == nil {
		return "<no address space>"
	}
	page := mem.PageAlign(uintptr(rip))
	pa, ok := vm.Resolve(as.Root, page)
	if !ok {
		return "<unmapped>"
	}
	pg := mem.Pg2Bytes(mem.Physmem.Dmap(pa))
	off := uintptr(rip) - page
	end := off + 16
	if end > uintptr(len(pg)) {
		end = uintptr(len(pg))
	}
	inst, err := x86asm.Decode(pg[off:end], 64)
	if err != nil {
		return fmt.Sprintf("<decode error: %v>", err)
	}
	return x86asm.GNUSyntax(inst, rip, nil)
}

// Panic prints the full CPU/control-register dump spec.md §4.10
// requires for any fatal fault, disassembling the faulting
// instruction, then panics.
func Panic(f *Frame_t, reason string) {
	cur := task.Current()
	var as *vm.AddrSpace_t
	if cur != nil {
		as = cur.AS
	}
	fmt.Printf("kernel panic: %s (vector %d)\n", reason, f.Vector)
	fmt.Printf("  rip=%#x cs=%#x rflags=%#x rsp=%#x ss=%#x errcode=%#x\n",
		f.RIP, f.CS, f.RFlags, f.RSP, f.SS, f.ErrCode)
	fmt.Printf("  cr2=%#x cr3=%#x\n", amd64.ReadCR2(), amd64.ReadCR3())
	fmt.Printf("  faulting instruction: %s\n", disasmAt(as, f.RIP))
	panic(reason)
}

// Timer implements the timer IRQ handler of spec.md §4.10: acknowledge
// the PIC, then let the caller drive the scheduler tick (kept out of
// this function for the same reason the fault handlers above return a
// Result instead of rescheduling themselves).
func Timer() {
	EOI(0)
}
