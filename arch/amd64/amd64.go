// Package amd64 isolates every inline-assembly primitive the kernel
// needs to narrow, audited functions (design note 9): CLI/STI, port
// I/O, TLB invalidation, memory fences, CR3 loads, MSR access, and the
// context-switch and syscall-trampoline entry points. Each function
// below has an empty Go body; its implementation lives in the sibling
// .s file, the same split gopher-os uses for kernel/cpu/cpu_amd64.go.
package amd64

// DisableInterrupts executes CLI.
func DisableInterrupts()

// EnableInterrupts executes STI.
func EnableInterrupts()

// InterruptsEnabled reports whether RFLAGS.IF is currently set.
func InterruptsEnabled() bool

// Halt executes HLT. It returns when the next interrupt fires.
func Halt()

// Invlpg invalidates the TLB entry for the given virtual address.
func Invlpg(va uintptr)

// Mfence issues a full memory barrier, used around device doorbell
// writes and after a CR3 load (spec.md §5).
func Mfence()

// LoadCR3 installs root as the current address space and issues the
// accompanying memory barrier (spec.md §4.8 step 5).
func LoadCR3(root uintptr)

// ReadCR2 returns the faulting address recorded by the last #PF.
func ReadCR2() uintptr

// ReadCR3 returns the currently loaded address-space root.
func ReadCR3() uintptr

// Outb writes a byte to an I/O port.
func Outb(port uint16, val uint8)

// Inb reads a byte from an I/O port.
func Inb(port uint16) uint8

// WrMSR writes a model-specific register, used to install the fast
// syscall entry point (spec.md §4.11).
func WrMSR(msr uint32, val uint64)

// RdMSR reads a model-specific register.
func RdMSR(msr uint32) uint64

// Swtch performs the architecture-specific half of a context switch:
// it saves the outgoing task's callee-saved registers and RIP onto
// its own kernel stack, records the resulting stack pointer at
// *oldsp, loads newsp as the stack pointer, and resumes execution at
// the RIP saved there (spec.md §4.8 step 6). It returns when some
// later Swtch call switches back to the caller's task.
func Swtch(oldsp *uintptr, newsp uintptr)

// TrampolineEntry is the target of the first Swtch into a freshly
// created task's kernel stack (spec.md §4.8's "pre-seeded" entry). It
// is never called directly from Go; its address is written into a
// newly created task's saved context so that Swtch "returns" into it.
func TrampolineEntry()

// SyscallEntry is the fixed address installed into IA32_LSTAR via
// WrMSR so that the SYSCALL instruction issued from ring 3 transfers
// control here (spec.md §4.11).
func SyscallEntry()

// ISRPageFault, ISRDoubleFault, ISRGeneralProtection, ISRTimer and
// ISRKeyboard are the fixed addresses cmd/kernel installs into the
// IDT gates for trap.VecPageFault/VecDoubleFault/VecGeneralProtection/
// VecTimer/VecKeyboard. Each pushes its vector number (and a dummy
// error code for the two vectors the CPU doesn't supply one for) atop
// the hardware-pushed interrupt frame, producing the same layout as
// trap.Frame_t, then calls into trap.Dispatch (or, for the keyboard,
// straight into console.IRQ1Handler).
func ISRPageFault()
func ISRDoubleFault()
func ISRGeneralProtection()
func ISRTimer()
func ISRKeyboard()

// Lgdt loads the GDTR from base/limit, the Go-level equivalent of the
// LGDT instruction cmd/kernel's boot glue needs after building its
// GDT image (idt.go's Table plays the same role for the IDT).
func Lgdt(base uintptr, limit uint16)

// Lidt loads the IDTR from base/limit.
func Lidt(base uintptr, limit uint16)

// Ltr loads the task register with selector, pointing the CPU at the
// TSS cmd/kernel built (used for RSP0 on every ring3->ring0 transition).
func Ltr(selector uint16)
