// Package fat32 is the on-disk filesystem backend of spec.md §4.5. It
// mounts onto a block device, loads the allocation table into memory,
// and implements vfs.Ops_i so the generic VFS core can walk, read,
// write, and create files on it. The on-disk layout and cluster-chain
// algorithms follow original_source/src/fs/fat32/fat32.c; 8.3 name
// encoding uses golang.org/x/text's CP437 code page, the encoding the
// FAT format actually specifies for short names.
package fat32

import (
	"encoding/binary"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"kernelcore/blockdev"
	"kernelcore/kcerr"
)

const (
	attrReadOnly  = 0x01
	attrHidden    = 0x02
	attrSystem    = 0x04
	attrVolumeID  = 0x08
	attrDirectory = 0x10
	attrArchive   = 0x20
	attrLongName  = 0x0F

	eocMin       = 0x0FFFFFF8
	badCluster   = 0x0FFFFFF7
	freeCluster  = 0x00000000
	dirEntrySize = 32
)

// bootSector mirrors the packed on-disk BIOS parameter block; field
// order and widths match fat32.h's fat32_boot_sector_t. bsRead fills
// in the named fields from the first 90 bytes of the sector.
type bootSector struct {
	_                  [3]byte // jmp
	_                  [8]byte // OEM name
	BytesPerSector     uint16
	SectorsPerCluster  uint8
	ReservedSectors    uint16
	NumFATs            uint8
	_                  uint16 // root entries, 0 for FAT32
	_                  uint16 // total sectors 16
	_                  uint8  // media descriptor
	_                  uint16 // sectors per FAT 16, 0 for FAT32
	_                  uint16 // sectors per track
	_                  uint16 // num heads
	_                  uint32 // hidden sectors
	TotalSectors32     uint32
	SectorsPerFAT32    uint32
	_                  uint16 // flags
	_                  uint16 // version
	RootCluster        uint32
	_                  uint16 // fsinfo sector
	_                  uint16 // backup boot sector
	_                  [12]byte
	_                  uint8 // drive number
	_                  uint8
	_                  uint8 // boot signature
	_                  uint32
	_                  [11]byte // volume label
	_                  [8]byte  // fs type
}

const bootSectorSignatureOffset = 510

// Mount reads and validates the boot sector (0xAA55 signature, FAT32
// discriminators), derives geometry, opens the FAT from the block
// device, and loads it fully into memory with a clear dirty bit
// (spec.md §4.5).
type Mount struct {
	disk *blockdev.BlockDev_t

	bytesPerSector    uint32
	sectorsPerCluster uint32
	fatStartSector    uint32
	dataStartSector   uint32
	totalClusters     uint32
	bytesPerCluster   uint32
	numFATs           uint32
	sectorsPerFAT     uint32
	rootCluster       uint32

	fat      []uint32
	fatDirty bool
}

func Mount_(disk *blockdev.BlockDev_t) (*Mount, kcerr.Err_t) {
	raw := make([]byte, 512)
	if err := disk.ReadAt(raw, 0); err != 0 {
		return nil, err
	}
	if binary.LittleEndian.Uint16(raw[bootSectorSignatureOffset:]) != 0xAA55 {
		return nil, kcerr.EINVAL
	}

	var bs bootSector
	if err := bsRead(raw, &bs); err != 0 {
		return nil, err
	}
	if bs.SectorsPerFAT32 == 0 || bs.NumFATs == 0 || bs.BytesPerSector == 0 {
		return nil, kcerr.EINVAL // not a FAT32 volume
	}

	m := &Mount{
		disk:              disk,
		bytesPerSector:    uint32(bs.BytesPerSector),
		sectorsPerCluster: uint32(bs.SectorsPerCluster),
		numFATs:           uint32(bs.NumFATs),
		sectorsPerFAT:     bs.SectorsPerFAT32,
		rootCluster:       bs.RootCluster,
	}
	m.fatStartSector = uint32(bs.ReservedSectors)
	m.dataStartSector = m.fatStartSector + m.numFATs*m.sectorsPerFAT
	m.bytesPerCluster = m.sectorsPerCluster * m.bytesPerSector
	dataSectors := bs.TotalSectors32 - m.dataStartSector
	m.totalClusters = dataSectors / m.sectorsPerCluster

	fatBytes := m.sectorsPerFAT * m.bytesPerSector
	raw = make([]byte, fatBytes)
	if err := disk.ReadAt(raw, uint64(m.fatStartSector)*blockdev.SectorSize); err != 0 {
		return nil, err
	}
	m.fat = make([]uint32, fatBytes/4)
	for i := range m.fat {
		m.fat[i] = binary.LittleEndian.Uint32(raw[i*4:]) & 0x0FFFFFFF
	}
	m.fatDirty = false

	return m, 0
}

// bsRead decodes the packed fields of bootSector by hand (binary.Read
// would misplace the blank/reserved fields because Go struct padding
// doesn't match the C packed layout byte-for-byte for every field
// width mix here).
func bsRead(raw []byte, bs *bootSector) kcerr.Err_t {
	if len(raw) < 90 {
		return kcerr.EINVAL
	}
	bs.BytesPerSector = binary.LittleEndian.Uint16(raw[11:])
	bs.SectorsPerCluster = raw[13]
	bs.ReservedSectors = binary.LittleEndian.Uint16(raw[14:])
	bs.NumFATs = raw[16]
	bs.TotalSectors32 = binary.LittleEndian.Uint32(raw[32:])
	bs.SectorsPerFAT32 = binary.LittleEndian.Uint32(raw[36:])
	bs.RootCluster = binary.LittleEndian.Uint32(raw[44:])
	return 0
}

func (m *Mount) clusterToSector(cluster uint32) uint32 {
	return m.dataStartSector + (cluster-2)*m.sectorsPerCluster
}

func (m *Mount) nextCluster(cluster uint32) uint32 {
	if cluster < 2 || cluster >= m.totalClusters+2 {
		return eocMin
	}
	next := m.fat[cluster]
	if next >= eocMin {
		return eocMin
	}
	return next
}

func (m *Mount) setFATEntry(cluster, value uint32) {
	if cluster < 2 || cluster >= m.totalClusters+2 {
		return
	}
	m.fat[cluster] = value & 0x0FFFFFFF
	m.fatDirty = true
}

func (m *Mount) findFreeCluster() uint32 {
	for i := uint32(2); i < m.totalClusters+2; i++ {
		if m.fat[i] == freeCluster {
			return i
		}
	}
	return 0
}

// allocateCluster scans the in-memory FAT for the first zero entry,
// writes an end-of-chain marker into it, links it from previous when
// given, and marks the FAT dirty (spec.md §4.5).
func (m *Mount) allocateCluster(previous uint32) uint32 {
	nc := m.findFreeCluster()
	if nc == 0 {
		return 0
	}
	m.setFATEntry(nc, eocMin)
	if previous >= 2 {
		m.setFATEntry(previous, nc)
	}
	return nc
}

// Flush writes the in-memory FAT back to every on-disk copy when
// dirty (spec.md §4.5: "every write flushes the FAT to the block
// device through all FAT copies").
func (m *Mount) Flush() kcerr.Err_t {
	if !m.fatDirty {
		return 0
	}
	raw := make([]byte, len(m.fat)*4)
	for i, v := range m.fat {
		binary.LittleEndian.PutUint32(raw[i*4:], v)
	}
	for f := uint32(0); f < m.numFATs; f++ {
		off := uint64(m.fatStartSector+f*m.sectorsPerFAT) * blockdev.SectorSize
		if err := m.disk.WriteAt(raw, off); err != 0 {
			return err
		}
	}
	m.fatDirty = false
	return 0
}

var cp437 = charmap.CodePage437

func encode83(name string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}
	base = strings.ToUpper(base)
	ext = strings.ToUpper(ext)
	enc, _ := cp437.NewEncoder().String(base)
	for i := 0; i < len(enc) && i < 8; i++ {
		out[i] = enc[i]
	}
	enc, _ = cp437.NewEncoder().String(ext)
	for i := 0; i < len(enc) && i < 3; i++ {
		out[8+i] = enc[i]
	}
	return out
}

func decode83(raw [11]byte) string {
	dec := cp437.NewDecoder()
	base := strings.TrimRight(string(raw[:8]), " ")
	ext := strings.TrimRight(string(raw[8:]), " ")
	base, _ = dec.String(base)
	ext, _ = dec.String(ext)
	if ext == "" {
		return base
	}
	return base + "." + ext
}
