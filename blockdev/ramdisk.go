package blockdev

// RAMDisk_t is an in-memory Disk_i, used by the blockdev and fat32
// tests; grounded on ufs/driver.go's os.File-backed simulated disk,
// with a byte slice standing in for the file.
type RAMDisk_t struct {
	data []byte
}

func NewRAMDisk(nsectors uint64) *RAMDisk_t {
	return &RAMDisk_t{data: make([]byte, nsectors*SectorSize)}
}

func (r *RAMDisk_t) NumSectors() uint64 {
	return uint64(len(r.data)) / SectorSize
}

func (r *RAMDisk_t) Start(req *Bdev_req_t) bool {
	off := req.LBA * SectorSize
	switch req.Cmd {
	case BDEV_READ:
		copy(req.Data, r.data[off:off+uint64(len(req.Data))])
	case BDEV_WRITE:
		copy(r.data[off:off+uint64(len(req.Data))], req.Data)
	case BDEV_FLUSH:
	}
	if req.Sync {
		req.AckCh <- true
	}
	return true
}

func (r *RAMDisk_t) Stats() string {
	return "ramdisk"
}
