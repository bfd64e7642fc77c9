package main

import (
	"testing"

	"kernelcore/boot"
)

func TestHighestUsableEndIgnoresNonUsableRegions(t *testing.T) {
	bi := &boot.Info{
		MemMap: []boot.MemRegion{
			{Base: 0, Length: 0x1000, Kind: boot.MemUsable},
			{Base: 0x100000, Length: 0x2000, Kind: boot.MemUsable},
			{Base: 0x200000, Length: 0x1000, Kind: boot.MemReserved},
		},
	}
	if got, want := highestUsableEnd(bi), uintptr(0x102000); got != want {
		t.Fatalf("highestUsableEnd = %#x, want %#x", got, want)
	}
}

func TestHighestUsableEndEmptyMap(t *testing.T) {
	if got := highestUsableEnd(&boot.Info{}); got != 0 {
		t.Fatalf("highestUsableEnd = %#x, want 0", got)
	}
}

func TestGDTBuildsDistinctSelectors(t *testing.T) {
	tss := &tss{}
	base, limit := tss.addr()
	g := newGDT(base, uint32(limit))

	raw := g.raw[:]
	accessByte := func(sel int) byte { return raw[(sel/8)*8+5] }
	if accessByte(selKCode) == 0 {
		t.Fatal("kernel code descriptor access byte not set")
	}
	if accessByte(selUCode)&accRing3 == 0 {
		t.Fatal("user code descriptor missing ring-3 bits")
	}
	if accessByte(selTSS) == 0 {
		t.Fatal("TSS descriptor access byte not set")
	}
}

func TestTSSSetRSP0RoundTrips(t *testing.T) {
	tt := &tss{}
	tt.setRSP0(0xdeadbeef000)
	got := uint64(tt.raw[4]) | uint64(tt.raw[5])<<8 | uint64(tt.raw[6])<<16 |
		uint64(tt.raw[7])<<24 | uint64(tt.raw[8])<<32 | uint64(tt.raw[9])<<40
	if got != 0xdeadbeef000 {
		t.Fatalf("RSP0 = %#x, want %#x", got, 0xdeadbeef000)
	}
}

func TestFuncAddrResolvesDistinctFunctions(t *testing.T) {
	f := func() {}
	g := func() {}
	if funcAddr(f) == 0 {
		t.Fatal("funcAddr returned 0")
	}
	if funcAddr(f) == funcAddr(g) {
		t.Fatal("funcAddr returned the same address for two distinct functions")
	}
}
