// Package boot models the inputs handed to the kernel by a Limine-style
// bootloader. Nothing in this package produces these values; they are
// populated once by the loader before kernelcore's entry point runs and
// are read-only thereafter. See spec.md §6.
package boot

// MemKind classifies a region of the physical memory map.
type MemKind int

const (
	MemUsable MemKind = iota
	MemReserved
	MemACPIReclaimable
	MemACPINVS
	MemBad
	MemBootloaderReclaimable
	MemKernelImage
	MemFramebuffer
	MemACPITables
)

// MemRegion is one entry of the bootloader-provided memory map.
type MemRegion struct {
	Base   uintptr
	Length uintptr
	Kind   MemKind
}

// End returns the exclusive upper bound of the region.
func (r MemRegion) End() uintptr { return r.Base + r.Length }

// Framebuffer describes the linear framebuffer handed off by the
// bootloader. The kernel core never draws into it directly; it is
// forwarded to the (out-of-scope) terminal driver.
type Framebuffer struct {
	Addr   uintptr
	Width  uint64
	Height uint64
	Pitch  uint64
	Bpp    uint16
}

// Info is the complete boot-time payload: the memory map, the linear
// higher-half direct map offset, the framebuffer, and a pointer to the
// ACPI root system description pointer.
type Info struct {
	MemMap     []MemRegion
	HHDMOffset uintptr
	FB         Framebuffer
	RSDP       uintptr
}

// UsableRegions returns only the regions the frame allocator may claim,
// in ascending base-address order as the bootloader is expected to
// provide them.
func (i *Info) UsableRegions() []MemRegion {
	out := make([]MemRegion, 0, len(i.MemMap))
	for _, r := range i.MemMap {
		if r.Kind == MemUsable {
			out = append(out, r)
		}
	}
	return out
}

// LargestUsable returns the usable region with the most bytes, used
// during early boot to carve out the frame allocator's own refcount
// array before the allocator itself exists (spec.md §4.1).
func (i *Info) LargestUsable() (MemRegion, bool) {
	var best MemRegion
	found := false
	for _, r := range i.UsableRegions() {
		if !found || r.Length > best.Length {
			best = r
			found = true
		}
	}
	return best, found
}

// TotalUsableBytes sums the length of every usable region.
func (i *Info) TotalUsableBytes() uintptr {
	var total uintptr
	for _, r := range i.UsableRegions() {
		total += r.Length
	}
	return total
}
