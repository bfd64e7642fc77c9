// Package trap builds the IDT, dispatches the three fault vectors
// spec.md §4.10 names, acknowledges the legacy PIC, and produces the
// panic-time CPU dump (disassembling the faulting instruction with
// golang.org/x/arch/x86/x86asm the way a postmortem debugger would).
package trap

import (
	"encoding/binary"
	"unsafe"
)

// Gate type-attribute bytes, matching idt.h's IDT_INTERRUPT_GATE /
// IDT_TRAP_GATE (present, ring 0, 64-bit gate).
const (
	GateInterrupt = 0x8e
	GateTrap      = 0x8f
)

// entrySize is the on-the-wire size of one IDT descriptor (idt.h's
// idt_entry_t, packed instead of relying on Go struct layout — the
// same reason fat32's boot sector is decoded by hand instead of via a
// Go struct overlay).
const entrySize = 16

// nvectors covers the 32 CPU exception vectors plus the 16 legacy PIC
// IRQ lines remapped to 0x20-0x2f.
const nvectors = 48

// Table is the raw IDT image: nvectors entries of entrySize bytes
// each, ready to be pointed at by an idtr_t and LIDT-loaded. Building
// it in a flat byte buffer sidesteps Go's lack of guaranteed packed
// struct layout, the same way fat32's bootSector fields are decoded
// by hand.
type Table struct {
	raw [nvectors * entrySize]byte
}

// SetGate installs a handler at vector v: selector is the code
// segment selector (the kernel's single code segment, from the GDT
// cmd/kernel builds), offset the handler's entry address, attr one of
// the Gate* constants above.
func (t *Table) SetGate(v int, selector uint16, offset uint64, attr uint8) {
	e := t.raw[v*entrySize : (v+1)*entrySize]
	binary.LittleEndian.PutUint16(e[0:], uint16(offset))
	binary.LittleEndian.PutUint16(e[2:], selector)
	e[4] = 0 // IST: none
	e[5] = attr
	binary.LittleEndian.PutUint16(e[6:], uint16(offset>>16))
	binary.LittleEndian.PutUint32(e[8:], uint32(offset>>32))
	binary.LittleEndian.PutUint32(e[12:], 0) // reserved
}

// Offset decodes the handler address installed at vector v, mirroring
// idt.c's idt_entry_get_offset (used by tests to check SetGate's
// encoding round-trips).
func (t *Table) Offset(v int) uint64 {
	e := t.raw[v*entrySize : (v+1)*entrySize]
	off := uint64(binary.LittleEndian.Uint16(e[0:]))
	off |= uint64(binary.LittleEndian.Uint16(e[6:])) << 16
	off |= uint64(binary.LittleEndian.Uint32(e[8:])) << 32
	return off
}

// Addr returns the base address and byte limit to load into an
// idtr_t; cmd/kernel's boot glue performs the actual LIDT.
func (t *Table) Addr() (base uintptr, limit uint16) {
	return uintptr(unsafe.Pointer(&t.raw[0])), uint16(len(t.raw) - 1)
}

// Vector numbers this kernel installs handlers for (spec.md §4.10).
// VecKeyboard is not one of the three named there, but needs a gate
// too since console.IRQ1Handler has to be reached somehow once the
// PIC is remapped.
const (
	VecPageFault         = 14
	VecDoubleFault       = 8
	VecGeneralProtection = 13
	VecTimer             = 0x20 // IRQ0 remapped
	VecKeyboard          = 0x21 // IRQ1 remapped
)
