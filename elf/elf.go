// Package elf loads a user ELF binary's PT_LOAD segments into a fresh
// address space, using the standard library's debug/elf the same way
// cmd/chentry does for the build-time entry-point patcher, over
// a bytes.Reader instead of an *os.File since the kernel reads the
// binary out of heap-backed VFS buffers rather than the host
// filesystem.
package elf

import (
	"bytes"
	dbgelf "debug/elf"
	"io"

	"kernelcore/kcerr"
	"kernelcore/mem"
	"kernelcore/vm"
)

// Loaded describes the result of loading an executable: its entry
// point and BreakVA, the start of the page after the one holding the
// end of the highest segment (a page boundary above every loaded byte;
// the caller uses this to place the initial user stack above it).
type Loaded struct {
	Entry   uintptr
	BreakVA uintptr
}

// Load validates img as a little-endian x86-64 executable (the same
// checks chkELF in cmd/chentry performs) and maps each PT_LOAD segment
// into as, zero-filling the portion between FileSiz and MemSiz (BSS).
func Load(as *vm.AddrSpace_t, img []byte) (Loaded, kcerr.Err_t) {
	f, err := dbgelf.NewFile(bytes.NewReader(img))
	if err != nil {
		return Loaded{}, kcerr.EINVAL
	}
	if f.Class != dbgelf.ELFCLASS64 || f.Data != dbgelf.ELFDATA2LSB {
		return Loaded{}, kcerr.EINVAL
	}
	if f.Type != dbgelf.ET_EXEC {
		return Loaded{}, kcerr.EINVAL
	}
	if f.Machine != dbgelf.EM_X86_64 {
		return Loaded{}, kcerr.EINVAL
	}

	var breakVA uintptr
	for _, prog := range f.Progs {
		if prog.Type != dbgelf.PT_LOAD {
			continue
		}
		end := prog.Vaddr + prog.Memsz
		if end > uint64(breakVA) {
			breakVA = uintptr(end)
		}

		flags := mem.PTE_P | mem.PTE_U
		if prog.Flags&dbgelf.PF_W != 0 {
			flags |= mem.PTE_W
		}
		if prog.Flags&dbgelf.PF_X == 0 {
			flags |= mem.PTE_NX
		}

		data := make([]byte, prog.Memsz)
		sr := prog.Open()
		if _, err := io.ReadFull(sr, data[:prog.Filesz]); err != nil {
			return Loaded{}, kcerr.EINVAL
		}

		if err := mapAndCopy(as, uintptr(prog.Vaddr), data, flags); err != 0 {
			return Loaded{}, err
		}
	}

	return Loaded{Entry: uintptr(f.Entry), BreakVA: mem.PageAlign(breakVA) + mem.PGSIZE}, 0
}

// mapAndCopy maps fresh, zeroed frames covering [va, va+len(data)) and
// copies data into them page by page; srcOff tracks how much of data
// has been placed so far and carries over across the page boundary.
func mapAndCopy(as *vm.AddrSpace_t, va uintptr, data []byte, flags mem.Pa_t) kcerr.Err_t {
	start := mem.PageAlign(va)
	srcOff := 0
	for p := start; p < va+uintptr(len(data)); p += mem.PGSIZE {
		pa, ok := mem.Physmem.RequestPage()
		if !ok {
			return kcerr.ENOMEM
		}
		if err := vm.Map(as.Root, p, pa, flags); err != 0 {
			return err
		}
		pg := mem.Physmem.Dmap(pa)
		bpg := mem.Pg2Bytes(pg)
		for i := range bpg {
			bpg[i] = 0
		}

		pageEnd := p + mem.PGSIZE
		for va+uintptr(srcOff) < pageEnd && srcOff < len(data) {
			dstOff := (va + uintptr(srcOff)) - p
			n := mem.PGSIZE - int(dstOff)
			if remaining := len(data) - srcOff; n > remaining {
				n = remaining
			}
			copy(bpg[dstOff:], data[srcOff:srcOff+n])
			srcOff += n
		}
	}
	return 0
}
