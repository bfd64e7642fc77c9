package blockdev

import (
	"os"
	"sync"
)

// FileDisk_t is a Disk_i backed by an *os.File, grounded on ufs's
// ahci_disk_t simulated disk (driver.go): cmd/mkfs uses it to format
// and populate a filesystem image as an ordinary host file, and
// cmd/kernel could equally mount a raw disk image the same way.
type FileDisk_t struct {
	mu sync.Mutex
	f  *os.File
	n  uint64 // sector count, fixed at creation
}

// OpenFileDisk opens (creating if necessary) path and truncates it to
// exactly nsectors sectors, the same size every other Disk_i reports
// through NumSectors.
func OpenFileDisk(path string, nsectors uint64) (*FileDisk_t, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(nsectors * SectorSize)); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDisk_t{f: f, n: nsectors}, nil
}

func (d *FileDisk_t) NumSectors() uint64 {
	return d.n
}

func (d *FileDisk_t) Start(req *Bdev_req_t) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	off := int64(req.LBA * SectorSize)
	switch req.Cmd {
	case BDEV_READ:
		if _, err := d.f.ReadAt(req.Data, off); err != nil {
			panic(err)
		}
	case BDEV_WRITE:
		if _, err := d.f.WriteAt(req.Data, off); err != nil {
			panic(err)
		}
	case BDEV_FLUSH:
		d.f.Sync()
	}
	if req.Sync {
		req.AckCh <- true
	}
	return true
}

func (d *FileDisk_t) Stats() string {
	return "filedisk:" + d.f.Name()
}

// Close flushes and closes the backing file.
func (d *FileDisk_t) Close() error {
	d.f.Sync()
	return d.f.Close()
}
