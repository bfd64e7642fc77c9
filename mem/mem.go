// Package mem implements the physical frame allocator: the single
// authority over every 4 KiB physical frame in the system (spec.md
// §4.1). It is a module-scope singleton (design note 9) initialized
// once at boot from the bootloader's memory map.
package mem

import (
	"fmt"
	"unsafe"

	"kernelcore/boot"
	"kernelcore/spinlock"
)

// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT = 12

// PGSIZE is the size of a single physical frame in bytes.
const PGSIZE = 1 << PGSHIFT

// PGOFFSET masks the in-page offset of an address.
const PGOFFSET Pa_t = PGSIZE - 1

// PGMASK masks the frame-aligned part of an address.
const PGMASK Pa_t = ^PGOFFSET

// Page-table entry attribute bits (spec.md §6 — fixed by the x86-64
// architecture and reproduced bit-for-bit).
const (
	PTE_P   Pa_t = 1 << 0 /// present
	PTE_W   Pa_t = 1 << 1 /// writable
	PTE_U   Pa_t = 1 << 2 /// user-accessible
	PTE_PWT Pa_t = 1 << 3 /// write-through
	PTE_PCD Pa_t = 1 << 4 /// cache-disabled
	PTE_A   Pa_t = 1 << 5 /// accessed
	PTE_PS  Pa_t = 1 << 6 /// huge/large page
	PTE_COW Pa_t = 1 << 9 /// OS-reserved bit repurposed as the copy-on-write marker
	PTE_ADDR Pa_t = 0x000ffffffffff000
	PTE_NX  Pa_t = 1 << 63 /// no-execute
)

// Pa_t is a physical address.
type Pa_t uintptr

// Refcnt_t is the saturating reference count of a physical frame. The
// spec mandates 16 bits; saturation is logged rather than overflowing.
type Refcnt_t uint16

const maxRefcnt Refcnt_t = ^Refcnt_t(0)

// Pg_t is a page-sized array of machine words, matching the teacher's
// Pg_t/Bytepg_t split between word- and byte-addressed views.
type Pg_t [PGSIZE / 8]uint64

// Bytepg_t is a byte-addressed page.
type Bytepg_t [PGSIZE]byte

// Pg2Bytes reinterprets a word-addressed page as a byte-addressed one,
// matching the teacher's Pg2bytes helper.
func Pg2Bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

// PageAlign rounds a virtual address down to the start of its page.
func PageAlign(va uintptr) uintptr {
	return va &^ uintptr(PGSIZE-1)
}

// Physmem_t is the frame allocator. Exactly one instance exists,
// addressed through the package-level Physmem variable, matching
// biscuit's Physmem_t singleton pattern (design note 9: global
// mutable singletons get explicit initialization and an interior
// mutability primitive — here the same IRQ-safe spinlock the rest of
// the kernel uses, since RequestPage/UnrefPage can be reached from a
// page-fault handler running in interrupt context, not just task
// context).
type Physmem_t struct {
	mu spinlock.IRQLock_t

	hhdm   uintptr
	startPFN uint64 // physical frame number of the first tracked frame
	refcnt   []Refcnt_t

	cursor  int // rotating search cursor (spec.md §4.1)
	free    int
	total   int
}

// Physmem is the global frame allocator instance.
var Physmem = &Physmem_t{}

// frameIndex converts a physical address to an index into refcnt, or
// -1 if the address falls outside the tracked range.
func (p *Physmem_t) frameIndex(pa Pa_t) int {
	pfn := uint64(pa) >> PGSHIFT
	if pfn < p.startPFN {
		return -1
	}
	idx := pfn - p.startPFN
	if idx >= uint64(len(p.refcnt)) {
		return -1
	}
	return int(idx)
}

// Init indexes all usable RAM described by bi and reserves the frames
// backing the refcount array itself (bootstrap, spec.md §4.1: "the
// refcount array is allocated from the largest usable block of RAM
// discovered in the memory map; the frames it occupies are then
// locked").
func (p *Physmem_t) Init(bi *boot.Info) error {
	en := p.mu.Lock()
	defer p.mu.Unlock(en)

	p.hhdm = bi.HHDMOffset
	regions := bi.UsableRegions()
	if len(regions) == 0 {
		return fmt.Errorf("mem: no usable memory regions in boot map")
	}

	var lo, hi uint64 = ^uint64(0), 0
	for _, r := range regions {
		base := uint64(r.Base) >> PGSHIFT
		end := uint64(r.End()+PGSIZE-1) >> PGSHIFT
		if base < lo {
			lo = base
		}
		if end > hi {
			hi = end
		}
	}
	p.startPFN = lo
	nframes := hi - lo
	p.refcnt = make([]Refcnt_t, nframes)
	for i := range p.refcnt {
		p.refcnt[i] = maxRefcnt // not-present until proven usable
	}
	p.total = 0
	for _, r := range regions {
		base := uint64(r.Base) >> PGSHIFT
		end := uint64(r.End()) >> PGSHIFT
		for pfn := base; pfn < end; pfn++ {
			p.refcnt[pfn-p.startPFN] = 0
			p.total++
		}
	}
	p.free = p.total

	largest, ok := bi.LargestUsable()
	if !ok {
		return fmt.Errorf("mem: no region large enough for the refcount array")
	}
	needed := uintptr(nframes) * 2 // 16-bit counters
	needed = (needed + PGSIZE - 1) &^ (PGSIZE - 1)
	if largest.Length < needed {
		return fmt.Errorf("mem: largest usable region (%d bytes) cannot hold the %d-byte refcount array", largest.Length, needed)
	}
	p.lockPagesLocked(Pa_t(largest.Base), int(needed/PGSIZE))
	return nil
}

// HHDM translates a physical address to its higher-half direct-mapped
// virtual address: virt = phys + hhdm_offset.
func (p *Physmem_t) HHDM(pa Pa_t) uintptr {
	return p.hhdm + uintptr(pa)
}

// Dmap returns a *Pg_t aliasing the frame at pa through the direct map.
func (p *Physmem_t) Dmap(pa Pa_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(p.HHDM(pa &^ PGOFFSET)))
}

// RequestPage returns a previously-free frame with refcount set to 1.
// It maintains a rotating cursor to amortize the linear scan for free
// frames (spec.md §4.1).
func (p *Physmem_t) RequestPage() (Pa_t, bool) {
	en := p.mu.Lock()
	defer p.mu.Unlock(en)

	n := len(p.refcnt)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		if p.refcnt[idx] == 0 {
			p.refcnt[idx] = 1
			p.cursor = (idx + 1) % n
			p.free--
			return Pa_t((p.startPFN + uint64(idx)) << PGSHIFT), true
		}
	}
	return 0, false
}

// RefPage increments a frame's reference count. Saturation is logged
// and ignored rather than wrapping; calling this on an unallocated
// (refcount 0) frame is a programming error that is logged and
// ignored rather than panicking, per spec.md §4.1.
func (p *Physmem_t) RefPage(pa Pa_t) {
	en := p.mu.Lock()
	defer p.mu.Unlock(en)
	idx := p.frameIndex(pa)
	if idx < 0 {
		fmt.Printf("mem: RefPage on out-of-range frame %#x\n", pa)
		return
	}
	if p.refcnt[idx] == 0 {
		fmt.Printf("mem: RefPage on free frame %#x (programming error)\n", pa)
		return
	}
	if p.refcnt[idx] == maxRefcnt {
		fmt.Printf("mem: refcount saturated for frame %#x\n", pa)
		return
	}
	p.refcnt[idx]++
}

// UnrefPage decrements a frame's reference count, freeing it when the
// result reaches zero. It returns the new reference count. The search
// cursor is rewound to the freed index to favor locality of
// subsequent allocations.
func (p *Physmem_t) UnrefPage(pa Pa_t) int {
	en := p.mu.Lock()
	defer p.mu.Unlock(en)
	idx := p.frameIndex(pa)
	if idx < 0 {
		fmt.Printf("mem: UnrefPage on out-of-range frame %#x\n", pa)
		return 0
	}
	if p.refcnt[idx] == 0 {
		fmt.Printf("mem: double-free of frame %#x (programming error)\n", pa)
		return 0
	}
	p.refcnt[idx]--
	if p.refcnt[idx] == 0 {
		p.free++
		p.cursor = idx
	}
	return int(p.refcnt[idx])
}

// GetRefcount is an observational accessor over a frame's refcount.
func (p *Physmem_t) GetRefcount(pa Pa_t) int {
	en := p.mu.Lock()
	defer p.mu.Unlock(en)
	idx := p.frameIndex(pa)
	if idx < 0 {
		return 0
	}
	return int(p.refcnt[idx])
}

// LockPage marks a single frame permanently allocated (refcount 1)
// without going through the free-list search. Used only during early
// boot to reserve frames the allocator's own bookkeeping occupies.
func (p *Physmem_t) LockPage(pa Pa_t) {
	en := p.mu.Lock()
	defer p.mu.Unlock(en)
	p.lockPagesLocked(pa, 1)
}

// LockPages reserves count consecutive frames starting at base.
func (p *Physmem_t) LockPages(base Pa_t, count int) {
	en := p.mu.Lock()
	defer p.mu.Unlock(en)
	p.lockPagesLocked(base, count)
}

func (p *Physmem_t) lockPagesLocked(base Pa_t, count int) {
	for i := 0; i < count; i++ {
		pa := base + Pa_t(i*PGSIZE)
		idx := p.frameIndex(pa)
		if idx < 0 {
			continue
		}
		if p.refcnt[idx] == 0 {
			p.free--
		}
		p.refcnt[idx] = 1
	}
}

// FreeBytes reports (total usable frames - sum of refcounts > 0) *
// frame_size, the quantity invariant 1 of spec.md §8 is checked
// against.
func (p *Physmem_t) FreeBytes() uint64 {
	en := p.mu.Lock()
	defer p.mu.Unlock(en)
	return uint64(p.free) * PGSIZE
}

// TotalFrames reports how many frames are tracked in total.
func (p *Physmem_t) TotalFrames() int {
	en := p.mu.Lock()
	defer p.mu.Unlock(en)
	return p.total
}
