// Package heap implements the kernel's general-purpose dynamic
// allocator (spec.md §4.3): a first-fit, segregated-by-address
// free-list over a contiguous virtual range backed by anonymous
// physical frames. There is no libc, no runtime allocator underneath
// it and no garbage collector; segments are walked and spliced by
// hand, in the same header-embedded-in-the-arena style biscuit's
// vm/mem packages use for their own bookkeeping structures.
package heap

import (
	"fmt"
	"sync"
	"unsafe"

	"kernelcore/kcerr"
	"kernelcore/mem"
	"kernelcore/vm"
)

const (
	align    = 16
	minSplit = 16 // smallest remainder worth splitting off as its own free segment
)

// segment is the header biscuit-style allocators prepend to every
// block, free or allocated. It sits directly ahead of the payload in
// the arena; size counts payload bytes only.
type segment struct {
	size uintptr
	next *segment
	prev *segment
	free bool
}

const segHdrSize = unsafe.Sizeof(segment{})

// Heap_t is a single heap instance. The kernel has exactly one
// (package-level Kheap), but the type stays unexported-construction
// friendly so tests can build isolated instances.
//
// The heap's virtual range is not a separately chosen VA window: it is
// the HHDM alias of the frames that back it (virt = phys +
// hhdm_offset, the same translation Physmem.Dmap uses). A kernel has
// to bootstrap its heap somewhere before any general-purpose virtual
// memory allocator exists to hand out VA windows, and the direct map
// already covers every usable frame by the time vm.NewKernelMaster
// returns — reusing it here avoids needing one. vm.Map is still called
// for each backing frame so the heap's range carries the mapping
// explicitly rather than depending on the bulk HHDM mapping's flags.
type Heap_t struct {
	mu sync.Mutex

	as   *vm.AddrSpace_t
	base uintptr
	end  uintptr // one past the last mapped byte
	head *segment
}

// Kheap is the kernel's singleton heap, analogous to Physmem in the
// mem package (design note 9).
var Kheap = &Heap_t{}

// Init maps initialPages fresh frames and installs a single free
// segment spanning the whole range, in the HHDM alias of those
// frames.
func (h *Heap_t) Init(as *vm.AddrSpace_t, initialPages int) kcerr.Err_t {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.as = as
	if initialPages <= 0 {
		return kcerr.EINVAL
	}
	pa0, ok := mem.Physmem.RequestPage()
	if !ok {
		return kcerr.ENOMEM
	}
	h.base = mem.Physmem.HHDM(pa0)
	h.end = h.base
	if err := h.mapAndAdvanceLocked(pa0); err != 0 {
		return err
	}
	if err := h.growLocked(initialPages - 1); err != 0 {
		return err
	}

	hdr := (*segment)(unsafe.Pointer(h.base))
	hdr.size = h.end - h.base - segHdrSize
	hdr.next = nil
	hdr.prev = nil
	hdr.free = true
	h.head = hdr
	return 0
}

func (h *Heap_t) mapAndAdvanceLocked(pa mem.Pa_t) kcerr.Err_t {
	if err := vm.Map(h.as.Root, h.end, pa, mem.PTE_P|mem.PTE_W); err != 0 {
		mem.Physmem.UnrefPage(pa)
		return err
	}
	h.end += mem.PGSIZE
	return 0
}

// growLocked maps npages additional frames at the current end of the
// heap's virtual range. Caller holds h.mu.
func (h *Heap_t) growLocked(npages int) kcerr.Err_t {
	for i := 0; i < npages; i++ {
		pa, ok := mem.Physmem.RequestPage()
		if !ok {
			return kcerr.ENOMEM
		}
		if err := h.mapAndAdvanceLocked(pa); err != 0 {
			return err
		}
	}
	return 0
}

func roundUp16(n uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// Alloc returns a pointer to a payload of at least size bytes, or nil
// if the request cannot be satisfied (including size == 0, which is
// defined to return nothing).
func (h *Heap_t) Alloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	size = roundUp16(size)

	h.mu.Lock()
	defer h.mu.Unlock()

	seg := h.findFitLocked(size)
	if seg == nil {
		if err := h.extendLocked(size); err != 0 {
			return nil
		}
		seg = h.findFitLocked(size)
		if seg == nil {
			return nil
		}
	}

	h.splitLocked(seg, size)
	seg.free = false
	return unsafe.Pointer(uintptr(unsafe.Pointer(seg)) + segHdrSize)
}

func (h *Heap_t) findFitLocked(size uintptr) *segment {
	for s := h.head; s != nil; s = s.next {
		if s.free && s.size >= size {
			return s
		}
	}
	return nil
}

// splitLocked carves size bytes off the front of seg's payload,
// leaving the remainder (if it can hold a header plus minSplit bytes)
// as a new free segment immediately after it.
func (h *Heap_t) splitLocked(seg *segment, size uintptr) {
	remainder := seg.size - size
	if remainder < segHdrSize+minSplit {
		return
	}
	segAddr := uintptr(unsafe.Pointer(seg))
	newAddr := segAddr + segHdrSize + size
	newSeg := (*segment)(unsafe.Pointer(newAddr))
	newSeg.size = remainder - segHdrSize
	newSeg.free = true
	newSeg.next = seg.next
	newSeg.prev = seg
	if seg.next != nil {
		seg.next.prev = newSeg
	}
	seg.next = newSeg
	seg.size = size
}

// extendLocked maps fresh frames at the heap's current end, rounded up
// to whole pages, and appends (coalescing with the current tail if it
// is free) enough free space to satisfy size.
func (h *Heap_t) extendLocked(size uintptr) kcerr.Err_t {
	need := size + segHdrSize
	npages := int((need + mem.PGSIZE - 1) / mem.PGSIZE)
	oldEnd := h.end
	if err := h.growLocked(npages); err != 0 {
		return err
	}
	grown := h.end - oldEnd

	tail := h.head
	for tail.next != nil {
		tail = tail.next
	}
	if tail.free {
		tail.size += grown
		return 0
	}
	newSeg := (*segment)(unsafe.Pointer(oldEnd))
	newSeg.size = grown - segHdrSize
	newSeg.free = true
	newSeg.prev = tail
	newSeg.next = nil
	tail.next = newSeg
	return 0
}

// Free marks ptr's segment free and coalesces it with its free
// neighbors. Freeing an already-free segment (double free) is logged
// and ignored rather than corrupting the list.
func (h *Heap_t) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	segAddr := uintptr(ptr) - segHdrSize
	seg := (*segment)(unsafe.Pointer(segAddr))
	if seg.free {
		fmt.Printf("heap: double free at %#x (programming error)\n", ptr)
		return
	}
	seg.free = true

	if seg.next != nil && seg.next.free {
		h.coalesceLocked(seg, seg.next)
	}
	if seg.prev != nil && seg.prev.free {
		h.coalesceLocked(seg.prev, seg)
	}
}

// coalesceLocked merges b into a; a must immediately precede b and
// both must be free.
func (h *Heap_t) coalesceLocked(a, b *segment) {
	a.size += segHdrSize + b.size
	a.next = b.next
	if b.next != nil {
		b.next.prev = a
	}
}
