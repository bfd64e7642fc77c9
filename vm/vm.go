// Package vm builds, walks, mutates, clones, and destroys the
// four-level x86-64 paging trees (spec.md §4.2). An AddrSpace_t owns
// its tree exclusively; leaf entries may point to frames shared with
// other address spaces under copy-on-write.
package vm

import (
	"sync"

	"kernelcore/arch/amd64"
	"kernelcore/kcerr"
	"kernelcore/mem"
)

// nentries is the number of entries in one page-table level.
const nentries = 512

// levelShift returns the bit shift for indexing level l (0 = PML4 down
// to 3 = PT) out of a virtual address.
func levelShift(l int) uint {
	return uint(12 + 9*(3-l))
}

func levelIndex(va uintptr, l int) uintptr {
	return (va >> levelShift(l)) & 0x1ff
}

// AddrSpace_t is one address space's page-table root plus the mutex
// that serializes all modification of it (matching vm.Vm_t in the
// teacher, minus the per-CPU TLB-shootdown machinery this single-CPU
// kernel does not need).
type AddrSpace_t struct {
	sync.Mutex
	Root    mem.Pa_t // physical address of the PML4
	isUser  bool
	pgFault bool
}

// Kernel is the one kernel master table, shared (by reference to its
// upper half) into every user address space.
var Kernel *AddrSpace_t

// LockPmap acquires the address-space mutex and marks that a page
// fault is in progress, matching Vm_t.Lock_pmap.
func (as *AddrSpace_t) LockPmap() {
	as.Lock()
	as.pgFault = true
}

// UnlockPmap releases the address-space mutex.
func (as *AddrSpace_t) UnlockPmap() {
	as.pgFault = false
	as.Unlock()
}

// LockassertPmap panics if the address-space mutex is not held; used
// to document and check the locking precondition of the COW fault
// path the way Vm_t.Lockassert_pmap does.
func (as *AddrSpace_t) LockassertPmap() {
	if !as.pgFault {
		panic("vm: pmap lock must be held")
	}
}

func tableAt(pa mem.Pa_t) *mem.Pg_t {
	return mem.Physmem.Dmap(pa)
}

// walkAlloc descends from root toward va, allocating any missing
// intermediate table with {present, writable, user} attributes
// (spec.md §4.2's map primitive), and returns a pointer to the leaf
// entry slot.
func walkAlloc(root mem.Pa_t, va uintptr) (*uint64, kcerr.Err_t) {
	cur := root
	for l := 0; l < 3; l++ {
		tbl := tableAt(cur)
		idx := levelIndex(va, l)
		ent := tbl[idx]
		if ent&uint64(mem.PTE_P) == 0 {
			child, ok := mem.Physmem.RequestPage()
			if !ok {
				return nil, kcerr.ENOMEM
			}
			zeroFrame(child)
			ent = uint64(child) | uint64(mem.PTE_P|mem.PTE_W|mem.PTE_U)
			tbl[idx] = ent
		}
		cur = mem.Pa_t(ent) & mem.PTE_ADDR
	}
	tbl := tableAt(cur)
	idx := levelIndex(va, 3)
	return &tbl[idx], 0
}

func walkLookup(root mem.Pa_t, va uintptr) (*uint64, bool) {
	cur := root
	for l := 0; l < 3; l++ {
		tbl := tableAt(cur)
		idx := levelIndex(va, l)
		ent := tbl[idx]
		if ent&uint64(mem.PTE_P) == 0 {
			return nil, false
		}
		cur = mem.Pa_t(ent) & mem.PTE_ADDR
	}
	tbl := tableAt(cur)
	idx := levelIndex(va, 3)
	return &tbl[idx], true
}

func zeroFrame(pa mem.Pa_t) {
	pg := mem.Physmem.Dmap(pa)
	for i := range pg {
		pg[i] = 0
	}
}

// Map descends from root, allocating intermediate tables on demand,
// then writes the leaf entry. It fails only on frame-allocator
// exhaustion (spec.md §4.2).
func Map(root mem.Pa_t, va uintptr, phys mem.Pa_t, flags mem.Pa_t) kcerr.Err_t {
	pte, err := walkAlloc(root, va)
	if err != 0 {
		return err
	}
	*pte = uint64(phys&mem.PTE_ADDR) | uint64(flags)
	return 0
}

// Resolve walks all four levels and returns the leaf's physical frame
// or false on any not-present entry.
func Resolve(root mem.Pa_t, va uintptr) (mem.Pa_t, bool) {
	pte, ok := walkLookup(root, va)
	if !ok || *pte&uint64(mem.PTE_P) == 0 {
		return 0, false
	}
	return mem.Pa_t(*pte) & mem.PTE_ADDR, true
}

// PteOf returns a mutable handle to the leaf entry for va, used by
// the COW fault path to flip bits in place.
func PteOf(root mem.Pa_t, va uintptr) (*uint64, bool) {
	pte, ok := walkLookup(root, va)
	if !ok {
		return nil, false
	}
	return pte, true
}

// NewKernelMaster allocates the kernel's master table and maps every
// physical address below usablePhysEnd at hhdmBase+phys in 2 MiB
// pages, so that HHDM + phys == virt over that range. It does not map
// the kernel image separately and makes no identity mapping of its
// own (the two coincide only when hhdmBase is 0). When hhdmBase lies
// in the upper half, the lower 256 entries stay empty for per-process
// use.
func NewKernelMaster(hhdmBase uintptr, usablePhysEnd mem.Pa_t) (*AddrSpace_t, kcerr.Err_t) {
	rootPa, ok := mem.Physmem.RequestPage()
	if !ok {
		return nil, kcerr.ENOMEM
	}
	zeroFrame(rootPa)

	// HHDM-map all physical memory below usablePhysEnd in 2MiB steps using
	// the PS (huge page) bit at the PD level, matching mem.Dmap_init's
	// large-page strategy.
	const hugeSize = 1 << 21
	for pa := mem.Pa_t(0); pa < usablePhysEnd; pa += hugeSize {
		va := hhdmBase + uintptr(pa)
		if err := mapHuge(rootPa, va, pa, mem.PTE_P|mem.PTE_W); err != 0 {
			return nil, err
		}
	}

	as := &AddrSpace_t{Root: rootPa}
	Kernel = as
	return as, 0
}

// mapHuge installs a 2MiB mapping, allocating the PML4/PDPT levels on
// demand but stopping one level short of the PT (the PD entry itself
// carries PTE_PS).
func mapHuge(root mem.Pa_t, va uintptr, phys mem.Pa_t, flags mem.Pa_t) kcerr.Err_t {
	cur := root
	for l := 0; l < 2; l++ {
		tbl := tableAt(cur)
		idx := levelIndex(va, l)
		ent := tbl[idx]
		if ent&uint64(mem.PTE_P) == 0 {
			child, ok := mem.Physmem.RequestPage()
			if !ok {
				return kcerr.ENOMEM
			}
			zeroFrame(child)
			ent = uint64(child) | uint64(mem.PTE_P|mem.PTE_W)
			tbl[idx] = ent
		}
		cur = mem.Pa_t(ent) & mem.PTE_ADDR
	}
	tbl := tableAt(cur)
	idx := levelIndex(va, 2)
	tbl[idx] = uint64(phys&mem.PTE_ADDR) | uint64(flags|mem.PTE_PS)
	return 0
}

// NewUserTable allocates a fresh root and copies the upper 256
// entries from the kernel master, giving the new address space a
// shared kernel half and an empty private user half (spec.md §4.2).
func NewUserTable() (*AddrSpace_t, kcerr.Err_t) {
	if Kernel == nil {
		panic("vm: kernel master not initialized")
	}
	rootPa, ok := mem.Physmem.RequestPage()
	if !ok {
		return nil, kcerr.ENOMEM
	}
	zeroFrame(rootPa)
	dst := tableAt(rootPa)
	src := tableAt(Kernel.Root)
	for i := 256; i < nentries; i++ {
		dst[i] = src[i]
	}
	return &AddrSpace_t{Root: rootPa, isUser: true}, 0
}

// CloneCOW deep-copies the intermediate tables of the lower (user)
// half of src and, for every present+writable leaf, clears the
// writable bit, sets the COW marker, and refs the target frame — the
// fork clone of spec.md §4.2. The upper half is copied by value
// (shared kernel). The caller must invalidate the TLB for the source
// address space after this returns.
func CloneCOW(src *AddrSpace_t) (*AddrSpace_t, kcerr.Err_t) {
	src.LockassertPmap()
	dstRootPa, ok := mem.Physmem.RequestPage()
	if !ok {
		return nil, kcerr.ENOMEM
	}
	zeroFrame(dstRootPa)
	dstRoot := tableAt(dstRootPa)
	srcRoot := tableAt(src.Root)

	for i := 256; i < nentries; i++ {
		dstRoot[i] = srcRoot[i]
	}
	for i := 0; i < 256; i++ {
		if srcRoot[i]&uint64(mem.PTE_P) == 0 {
			continue
		}
		childPa, err := cloneLevel(mem.Pa_t(srcRoot[i])&mem.PTE_ADDR, 1)
		if err != 0 {
			return nil, err
		}
		dstRoot[i] = (uint64(childPa) & uint64(mem.PTE_ADDR)) | (srcRoot[i] &^ uint64(mem.PTE_ADDR))
	}
	return &AddrSpace_t{Root: dstRootPa, isUser: true}, 0
}

// cloneLevel recursively duplicates intermediate tables at depth lvl
// (1=PDPT, 2=PD, 3=PT leaves). Leaf (PT) entries get the COW
// transform; intermediate entries are structurally copied.
func cloneLevel(srcPa mem.Pa_t, lvl int) (mem.Pa_t, kcerr.Err_t) {
	dstPa, ok := mem.Physmem.RequestPage()
	if !ok {
		return 0, kcerr.ENOMEM
	}
	zeroFrame(dstPa)
	src := tableAt(srcPa)
	dst := tableAt(dstPa)

	for i := 0; i < nentries; i++ {
		ent := src[i]
		if ent&uint64(mem.PTE_P) == 0 {
			continue
		}
		if lvl == 3 {
			transformed := cowTransform(ent)
			dst[i] = transformed
			src[i] = transformed
			mem.Physmem.RefPage(mem.Pa_t(transformed) & mem.PTE_ADDR)
		} else {
			childPa, err := cloneLevel(mem.Pa_t(ent)&mem.PTE_ADDR, lvl+1)
			if err != 0 {
				return 0, err
			}
			dst[i] = (uint64(childPa) & uint64(mem.PTE_ADDR)) | (ent &^ uint64(mem.PTE_ADDR))
		}
	}
	return dstPa, 0
}

// cowTransform applies the per-leaf COW bit flip of spec.md §4.2. It
// is applied identically to both the parent's surviving entry and the
// child's new entry; the caller refs the underlying frame exactly
// once for the new entry this produces.
func cowTransform(ent uint64) uint64 {
	if ent&uint64(mem.PTE_W) == 0 {
		// Already read-only (e.g. a COW entry from a prior fork, or a
		// genuinely read-only mapping): leave it untouched.
		return ent
	}
	ent &^= uint64(mem.PTE_W)
	ent |= uint64(mem.PTE_COW)
	return ent
}

// PageFaultResult enumerates what the COW fault handler decided.
type PageFaultResult int

const (
	FaultHandled PageFaultResult = iota
	FaultUnhandled
)

// HandleCOWFault implements the copy-on-write fault handler of
// spec.md §4.2: if the COW marker is set and the frame's refcount is
// exactly 1, the entry is simply made writable again; otherwise a new
// frame is allocated, the old content copied, the old frame unref'd,
// and the entry rewritten to point at the new frame writable and
// without the COW marker. The TLB entry for the faulting address is
// invalidated in either case.
func HandleCOWFault(as *AddrSpace_t, faultVA uintptr) PageFaultResult {
	as.LockassertPmap()
	pte, ok := PteOf(as.Root, faultVA)
	if !ok || *pte&uint64(mem.PTE_COW) == 0 {
		return FaultUnhandled
	}
	oldPa := mem.Pa_t(*pte) & mem.PTE_ADDR
	if mem.Physmem.GetRefcount(oldPa) == 1 {
		*pte = (*pte &^ uint64(mem.PTE_COW)) | uint64(mem.PTE_W)
		amd64.Invlpg(faultVA)
		return FaultHandled
	}
	newPa, ok := mem.Physmem.RequestPage()
	if !ok {
		return FaultUnhandled
	}
	copyFrame(newPa, oldPa)
	mem.Physmem.UnrefPage(oldPa)
	*pte = (uint64(newPa) & uint64(mem.PTE_ADDR)) | uint64(mem.PTE_P|mem.PTE_U|mem.PTE_W)
	amd64.Invlpg(faultVA)
	return FaultHandled
}

func copyFrame(dst, src mem.Pa_t) {
	d := mem.Physmem.Dmap(dst)
	s := mem.Physmem.Dmap(src)
	*d = *s
}

// Destroy walks a user root, freeing intermediate tables, and for
// each leaf frame calls Unref (which frees the frame when the last
// reference drops). The kernel master is never destroyed.
func (as *AddrSpace_t) Destroy() {
	if as == Kernel {
		panic("vm: attempt to destroy the kernel master table")
	}
	as.LockassertPmap()
	root := tableAt(as.Root)
	for i := 0; i < 256; i++ {
		if root[i]&uint64(mem.PTE_P) == 0 {
			continue
		}
		destroyLevel(mem.Pa_t(root[i])&mem.PTE_ADDR, 1)
	}
	mem.Physmem.UnrefPage(as.Root)
}

func destroyLevel(pa mem.Pa_t, lvl int) {
	tbl := tableAt(pa)
	for i := 0; i < nentries; i++ {
		ent := tbl[i]
		if ent&uint64(mem.PTE_P) == 0 {
			continue
		}
		child := mem.Pa_t(ent) & mem.PTE_ADDR
		if lvl == 3 {
			mem.Physmem.UnrefPage(child)
		} else {
			destroyLevel(child, lvl+1)
		}
	}
	mem.Physmem.UnrefPage(pa)
}
