package elf

import (
	"bytes"
	dbgelf "debug/elf"
	"encoding/binary"
	"testing"
	"unsafe"

	"kernelcore/boot"
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
	kmaster, err := vm.NewKernelMaster(0, 0)
	if err != 0 {
		t.Fatalf("kernel master: %v", err)
	}
	as, err := vm.NewUserTable()
	_ = kmaster
	if err != 0 {
		t.Fatalf("user table: %v", err)
	}
	return as
}

// buildTinyELF constructs a minimal valid little-endian x86-64
// ET_EXEC file with a single PT_LOAD segment whose file contents are
// shorter than its memory size, so the BSS zero-fill path is
// exercised too.
func buildTinyELF(t *testing.T, entry, vaddr uint64, fileBytes []byte, memSize uint64) []byte {
	t.Helper()
	const ehdrSize = 64
	const phdrSize = 56
	phoff := uint64(ehdrSize)
	dataOff := phoff + phdrSize

	var buf bytes.Buffer
	ident := [16]byte{0x7f, 'E', 'L', 'F', 2 /* 64-bit */, 1 /* LE */, 1}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(dbgelf.ET_EXEC))
	binary.Write(&buf, binary.LittleEndian, uint16(dbgelf.EM_X86_64))
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // version
	binary.Write(&buf, binary.LittleEndian, entry)
	binary.Write(&buf, binary.LittleEndian, phoff)
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))  // flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehdrSize))
	binary.Write(&buf, binary.LittleEndian, uint16(phdrSize))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // shstrndx
	if buf.Len() != ehdrSize {
		t.Fatalf("ehdr size mismatch: %d", buf.Len())
	}

	binary.Write(&buf, binary.LittleEndian, uint32(dbgelf.PT_LOAD))
	binary.Write(&buf, binary.LittleEndian, uint32(dbgelf.PF_R|dbgelf.PF_W))
	binary.Write(&buf, binary.LittleEndian, dataOff)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, uint64(len(fileBytes)))
	binary.Write(&buf, binary.LittleEndian, memSize)
	binary.Write(&buf, binary.LittleEndian, uint64(0x1000)) // align
	if buf.Len() != int(dataOff) {
		t.Fatalf("phdr size mismatch: %d", buf.Len())
	}
	buf.Write(fileBytes)
	return buf.Bytes()
}

func TestLoadMapsSegmentAndZerosBSS(t *testing.T) {
	as := setup(t, 64)
	const vaddr = 0x400000
	const entry = vaddr
	fileBytes := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	img := buildTinyELF(t, entry, vaddr, fileBytes, 8192) // memSize spans two pages, BSS beyond filesz

	loaded, err := Load(as, img)
	if err != 0 {
		t.Fatalf("load: %v", err)
	}
	if loaded.Entry != entry {
		t.Fatalf("entry = %#x, want %#x", loaded.Entry, entry)
	}

	pa, ok := vm.Resolve(as.Root, vaddr)
	if !ok {
		t.Fatal("segment not mapped")
	}
	pg := mem.Physmem.Dmap(pa)
	b := mem.Pg2Bytes(pg)
	if !bytes.Equal(b[:4], fileBytes) {
		t.Fatalf("file contents not copied: got %x", b[:4])
	}
	if b[4] != 0 {
		t.Fatal("expected BSS byte immediately after file contents to be zero")
	}

	pa2, ok := vm.Resolve(as.Root, vaddr+mem.PGSIZE)
	if !ok {
		t.Fatal("second page of segment not mapped")
	}
	pg2 := mem.Physmem.Dmap(pa2)
	b2 := mem.Pg2Bytes(pg2)
	for _, v := range b2[:16] {
		if v != 0 {
			t.Fatal("expected second page to be zero-filled BSS")
		}
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	as := setup(t, 64)
	if _, err := Load(as, []byte("not an elf")); err == 0 {
		t.Fatal("expected rejection of non-ELF input")
	}
}
