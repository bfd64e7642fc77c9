// Package blockdev translates byte-offset reads and writes into
// LBA-granular I/O on an underlying disk controller, bridging
// arbitrary alignment through a one-sector scratch buffer (spec.md
// §4.6 / Data Model's Block Device). The request shape (Bdev_req_t)
// is carried over from the teacher's fs/blk.go; the file-backed disk
// (FileDisk_t) follows ufs/driver.go's pattern of backing a Disk_i
// with an *os.File.
package blockdev

import (
	"sync"

	"kernelcore/kcerr"
)

// SectorSize is the native sector size every Disk_i operates in.
const SectorSize = 512

// Bdevcmd_t enumerates the kinds of request a Disk_i accepts.
type Bdevcmd_t uint

const (
	BDEV_READ Bdevcmd_t = iota
	BDEV_WRITE
	BDEV_FLUSH
)

// Bdev_req_t is a single outstanding request against a Disk_i. Sync
// requests are acked on AckCh; async ones are fire-and-forget.
type Bdev_req_t struct {
	Cmd   Bdevcmd_t
	LBA   uint64
	Data  []byte // len is a multiple of SectorSize for READ/WRITE
	AckCh chan bool
	Sync  bool
}

func MkRequest(cmd Bdevcmd_t, lba uint64, data []byte, sync bool) *Bdev_req_t {
	return &Bdev_req_t{Cmd: cmd, LBA: lba, Data: data, AckCh: make(chan bool, 1), Sync: sync}
}

// Disk_i is the controller-facing interface a block device drives.
// RAMDisk_t, FileDisk_t and the partition device returned by
// NewPartitionDevice implement it.
type Disk_i interface {
	Start(*Bdev_req_t) bool
	NumSectors() uint64
	Stats() string
}

// BlockDev_t is the byte-offset-addressable view of a Disk_i used by
// every filesystem backend.
type BlockDev_t struct {
	mu      sync.Mutex
	disk    Disk_i
	scratch [SectorSize]byte // bridges unaligned head/tail sectors
}

func New(disk Disk_i) *BlockDev_t {
	return &BlockDev_t{disk: disk}
}

func (b *BlockDev_t) NumBytes() uint64 {
	return b.disk.NumSectors() * SectorSize
}

// ReadAt reads len(p) bytes starting at byte offset off, which need
// not be sector-aligned.
func (b *BlockDev_t) ReadAt(p []byte, off uint64) kcerr.Err_t {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rwAt(p, off, false)
}

// WriteAt writes len(p) bytes starting at byte offset off. Partial
// head/tail sectors are filled via a read-modify-write through the
// scratch sector so neighboring data is preserved.
func (b *BlockDev_t) WriteAt(p []byte, off uint64) kcerr.Err_t {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rwAt(p, off, true)
}

func (b *BlockDev_t) rwAt(p []byte, off uint64, write bool) kcerr.Err_t {
	if off+uint64(len(p)) > b.NumBytes() {
		return kcerr.EINVAL
	}
	for len(p) > 0 {
		lba := off / SectorSize
		secOff := int(off % SectorSize)
		n := SectorSize - secOff
		if n > len(p) {
			n = len(p)
		}

		if secOff == 0 && n == SectorSize {
			// Whole-sector transfer: no scratch needed.
			if err := b.doSector(lba, p[:SectorSize], write); err != 0 {
				return err
			}
		} else {
			if err := b.doSector(lba, b.scratch[:], false); err != 0 {
				return err
			}
			if write {
				copy(b.scratch[secOff:secOff+n], p[:n])
				if err := b.doSector(lba, b.scratch[:], true); err != 0 {
					return err
				}
			} else {
				copy(p[:n], b.scratch[secOff:secOff+n])
			}
		}

		p = p[n:]
		off += uint64(n)
	}
	return 0
}

func (b *BlockDev_t) doSector(lba uint64, data []byte, write bool) kcerr.Err_t {
	cmd := BDEV_READ
	if write {
		cmd = BDEV_WRITE
	}
	req := MkRequest(cmd, lba, data, true)
	if b.disk.Start(req) {
		<-req.AckCh
	}
	return 0
}

// Flush issues a cache-flush request to the underlying disk.
func (b *BlockDev_t) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	req := MkRequest(BDEV_FLUSH, 0, nil, true)
	if b.disk.Start(req) {
		<-req.AckCh
	}
}
