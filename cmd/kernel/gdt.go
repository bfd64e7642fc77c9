package main

import "encoding/binary"

// Segment selectors this kernel's GDT publishes. Flat code/data
// segments only; all addressing still goes through paging, exactly as
// idt.go's Table sidesteps Go struct layout for the IDT, this flat
// byte buffer sidesteps it for the GDT.
const (
	selNull     = 0x00
	selKCode    = 0x08
	selKData    = 0x10
	selUData    = 0x18 | 3 // RPL 3
	selUCode    = 0x20 | 3 // RPL 3
	selTSS      = 0x28
	descEntries = 7 // null, kcode, kdata, udata, ucode, tss-lo, tss-hi
)

// Access-byte bits (Intel SDM vol 3, §3.4.5).
const (
	accPresent  = 1 << 7
	accRing3    = 3 << 5
	accCodeData = 1 << 4
	accExec     = 1 << 3
	accRW       = 1 << 1
	accTSSAvail = 0x9
)

// gdtTable is the raw GDT image: 8 bytes per descriptor, with the TSS
// descriptor (a 64-bit-mode system descriptor) spanning two slots.
type gdtTable struct {
	raw [descEntries * 8]byte
}

func (g *gdtTable) setFlat(i int, access byte, long bool) {
	e := g.raw[i*8 : i*8+8]
	// limit/base left zero: a flat segment covers the whole address
	// space regardless of these fields once in long mode.
	e[5] = access
	if long {
		e[6] = 1 << 5 // L bit: 64-bit code segment
	}
}

func (g *gdtTable) setTSS(base uintptr, limit uint32) {
	lo := g.raw[selTSS : selTSS+8]
	hi := g.raw[selTSS+8 : selTSS+16]

	binary.LittleEndian.PutUint16(lo[0:], uint16(limit))
	binary.LittleEndian.PutUint16(lo[2:], uint16(base))
	lo[4] = byte(base >> 16)
	lo[5] = accPresent | accTSSAvail
	lo[6] = byte(limit>>16) & 0xf
	lo[7] = byte(base >> 24)
	binary.LittleEndian.PutUint32(hi[0:], uint32(base>>32))
}

// newGDT builds the fixed six-selector GDT (plus the two-slot TSS
// descriptor) every task in this kernel shares.
func newGDT(tssBase uintptr, tssLimit uint32) *gdtTable {
	g := &gdtTable{}
	g.setFlat(selKCode/8, accPresent|accCodeData|accExec|accRW, true)
	g.setFlat(selKData/8, accPresent|accCodeData|accRW, false)
	g.setFlat(selUData/8, accPresent|accRing3|accCodeData|accRW, false)
	g.setFlat(selUCode/8, accPresent|accRing3|accCodeData|accExec|accRW, true)
	g.setTSS(tssBase, tssLimit)
	return g
}

func (g *gdtTable) addr() (base uintptr, limit uint16) {
	return rawAddr(g.raw[:]), uint16(len(g.raw) - 1)
}
