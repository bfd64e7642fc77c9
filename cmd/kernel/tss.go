package main

import (
	"encoding/binary"
	"reflect"
	"unsafe"
)

// tssSize is the 64-bit TSS's fixed on-the-wire size (Intel SDM vol
// 3, figure 8-11): reserved dword, RSP0-2, reserved qword, IST1-7,
// reserved qword, reserved word, I/O map base word.
const tssSize = 104

// tss is the raw 64-bit Task State Segment image. Its only job in
// this kernel is publishing RSP0, the stack the CPU loads on every
// ring3->ring0 transition (interrupt or SYSCALL) before any kernel
// code has a chance to run.
type tss struct {
	raw [tssSize]byte
}

// setRSP0 records the stack pointer the CPU should switch to on
// entry to ring 0, updated every time the scheduler picks a new
// current task so interrupts taken while running user code land on
// that task's own kernel stack.
func (t *tss) setRSP0(sp uintptr) {
	binary.LittleEndian.PutUint64(t.raw[4:], uint64(sp))
}

func (t *tss) addr() (base uintptr, limit uint32) {
	return rawAddr(t.raw[:]), uint32(len(t.raw) - 1)
}

// rawAddr returns the address of a byte slice's backing array, used
// by both gdtTable and tss to compute the base field their respective
// descriptors/registers need — the same unsafe.Pointer cast idt.go's
// Table.Addr performs for the IDTR.
func rawAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

// funcAddr resolves an assembly stub's entry address via reflect, the
// same way task.trampolineEntryAddr resolves arch/amd64.TrampolineEntry
// for the context-switch seed — used here to fill in IDT gate offsets.
func funcAddr(fn func()) uint64 {
	return uint64(reflect.ValueOf(fn).Pointer())
}
