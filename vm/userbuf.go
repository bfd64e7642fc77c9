package vm

import (
	"kernelcore/kcerr"
	"kernelcore/mem"
)

// CopyIn copies n bytes from the user virtual address uva in as into
// dst. Unlike the teacher's Userdmap8 (which hands back a slice
// directly aliasing the mapped frame so that a malicious user address
// can make the kernel dereference arbitrary physical memory), this
// resolves and bounds-checks one page at a time and copies through a
// kernel buffer, implementing the "copy-in/copy-out with bounds
// checks" design note 9 calls for (open question 2).
func CopyIn(as *AddrSpace_t, uva uintptr, dst []byte) kcerr.Err_t {
	as.LockPmap()
	defer as.UnlockPmap()
	for len(dst) > 0 {
		pa, ok := Resolve(as.Root, mem.PageAlign(uva))
		if !ok {
			return kcerr.EFAULT
		}
		off := uva & uintptr(mem.PGOFFSET)
		pg := mem.Physmem.Dmap(pa)
		bpg := pageBytes(pg)
		n := copy(dst, bpg[off:])
		dst = dst[n:]
		uva += uintptr(n)
	}
	return 0
}

// CopyOut copies src into the user virtual address uva in as,
// resolving and bounds-checking each destination page before writing
// to it.
func CopyOut(as *AddrSpace_t, uva uintptr, src []byte) kcerr.Err_t {
	as.LockPmap()
	defer as.UnlockPmap()
	for len(src) > 0 {
		pa, ok := Resolve(as.Root, mem.PageAlign(uva))
		if !ok {
			return kcerr.EFAULT
		}
		off := uva & uintptr(mem.PGOFFSET)
		pg := mem.Physmem.Dmap(pa)
		bpg := pageBytes(pg)
		n := copy(bpg[off:], src)
		src = src[n:]
		uva += uintptr(n)
	}
	return 0
}

// CopyInString copies a NUL-terminated string from user space, up to
// lenmax bytes, the bounds-checked equivalent of Vm_t.Userstr.
func CopyInString(as *AddrSpace_t, uva uintptr, lenmax int) (string, kcerr.Err_t) {
	as.LockPmap()
	defer as.UnlockPmap()
	buf := make([]byte, 0, 64)
	for {
		pa, ok := Resolve(as.Root, mem.PageAlign(uva))
		if !ok {
			return "", kcerr.EFAULT
		}
		off := uva & uintptr(mem.PGOFFSET)
		pg := mem.Physmem.Dmap(pa)
		bpg := pageBytes(pg)
		for _, c := range bpg[off:] {
			if c == 0 {
				return string(buf), 0
			}
			if len(buf) >= lenmax {
				return "", kcerr.ENAMETOOLONG
			}
			buf = append(buf, c)
			uva++
		}
	}
}

func pageBytes(pg *mem.Pg_t) *mem.Bytepg_t {
	return mem.Pg2Bytes(pg)
}

