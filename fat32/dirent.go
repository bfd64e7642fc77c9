package fat32

import (
	"encoding/binary"

	"kernelcore/blockdev"
	"kernelcore/kcerr"
)

// dirent is a decoded fixed 32-byte directory record (spec.md §4.5).
type dirent struct {
	name    string
	attr    uint8
	cluster uint32
	size    uint32

	// location, so writes (create / size update / unlink) know where
	// to patch the raw 32-byte slot back on disk.
	dirCluster uint32 // 0 for the (non-chained) root region on FAT12/16; always a cluster here
	entryIndex int    // index of the 32-byte record within that cluster's entries
}

func decodeDirent(raw []byte) (dirent, bool) {
	if raw[0] == 0x00 {
		return dirent{}, false // end of directory
	}
	if raw[0] == 0xE5 {
		return dirent{attr: 0xFF}, true // erased slot, still "present" to the scanner
	}
	attr := raw[11]
	if attr == attrLongName {
		return dirent{attr: attrLongName}, true // long-name entries are skipped by callers
	}
	var nameRaw [11]byte
	copy(nameRaw[:], raw[0:11])
	clusterHigh := binary.LittleEndian.Uint16(raw[20:])
	clusterLow := binary.LittleEndian.Uint16(raw[26:])
	size := binary.LittleEndian.Uint32(raw[28:])
	return dirent{
		name:    decode83(nameRaw),
		attr:    attr,
		cluster: uint32(clusterHigh)<<16 | uint32(clusterLow),
		size:    size,
	}, true
}

func encodeDirent(d dirent) []byte {
	raw := make([]byte, dirEntrySize)
	name := encode83(d.name)
	copy(raw[0:11], name[:])
	raw[11] = d.attr
	binary.LittleEndian.PutUint16(raw[20:], uint16(d.cluster>>16))
	binary.LittleEndian.PutUint16(raw[26:], uint16(d.cluster))
	binary.LittleEndian.PutUint32(raw[28:], d.size)
	return raw
}

// readCluster reads one full cluster's raw bytes.
func (m *Mount) readCluster(cluster uint32) ([]byte, kcerr.Err_t) {
	buf := make([]byte, m.bytesPerCluster)
	off := uint64(m.clusterToSector(cluster)) * uint64(blockdev.SectorSize)
	err := m.disk.ReadAt(buf, off)
	return buf, err
}

// writeCluster writes one full cluster's raw bytes.
func (m *Mount) writeCluster(cluster uint32, buf []byte) kcerr.Err_t {
	off := uint64(m.clusterToSector(cluster)) * uint64(blockdev.SectorSize)
	return m.disk.WriteAt(buf, off)
}
