package blockdev

import (
	"encoding/binary"
	"fmt"

	"kernelcore/kcerr"
)

// TableKind distinguishes the two partitioning schemes ParseTable
// understands.
type TableKind int

const (
	TableMBR TableKind = iota
	TableGPT
)

// Partition describes one entry a Table publishes, mirroring
// partition.h's partition_info_t.
type Partition struct {
	Index      int // 1-based: the MBR slot number, or the position among non-empty GPT entries
	Type       byte
	TypeName   string
	LBAStart   uint64
	NumSectors uint64
	Bootable   bool
}

// Table is the parsed result of either an MBR or a GPT on a disk.
type Table struct {
	Kind       TableKind
	Partitions []Partition
}

const (
	mbrSignatureOff = 510
	mbrSignature    = 0xAA55
	mbrEntryOff     = 446
	mbrEntrySize    = 16
	mbrProtective   = 0xEE

	gptHeaderLBA  = 1
	gptSignature  = "EFI PART"
	gptEntrySizeO = 84 // offset of partition_entry_size within the header
)

var mbrTypeNames = map[byte]string{
	0x00: "Empty",
	0x01: "FAT12",
	0x04: "FAT16 <32M",
	0x05: "Extended",
	0x06: "FAT16",
	0x07: "NTFS/exFAT",
	0x0B: "FAT32",
	0x0C: "FAT32 LBA",
	0x0E: "FAT16 LBA",
	0x0F: "Extended LBA",
	0x82: "Linux swap",
	0x83: "Linux",
	0xEE: "GPT",
}

func mbrTypeName(t byte) string {
	if n, ok := mbrTypeNames[t]; ok {
		return n
	}
	return "Unknown"
}

var (
	espGUID       = [16]byte{0x28, 0x73, 0x2A, 0xC1, 0x1F, 0xF8, 0xD2, 0x11, 0xBA, 0x4B, 0x00, 0xA0, 0xC9, 0x3E, 0xC9, 0x3B}
	basicDataGUID = [16]byte{0xA2, 0xA0, 0xD0, 0xEB, 0xE5, 0xB9, 0x33, 0x44, 0x87, 0xC0, 0x68, 0xB6, 0xB7, 0x26, 0x99, 0xC7}
)

func gptTypeName(guid []byte) string {
	switch {
	case matchesGUIDPrefix(guid, espGUID[:]):
		return "EFI System"
	case matchesGUIDPrefix(guid, basicDataGUID[:]):
		return "Basic Data"
	default:
		return "Unknown"
	}
}

// matchesGUIDPrefix compares guid against the first len(want) bytes of
// want. The tables above hold full 16-byte type GUIDs in their on-disk
// (mixed-endian) byte order, so for them this is a byte-exact match.
func matchesGUIDPrefix(guid, want []byte) bool {
	n := len(want)
	if n > len(guid) {
		n = len(guid)
	}
	for i := 0; i < n; i++ {
		if guid[i] != want[i] {
			return false
		}
	}
	return true
}

func guidIsZero(guid []byte) bool {
	for _, b := range guid {
		if b != 0 {
			return false
		}
	}
	return true
}

// ParseTable reads the MBR at LBA 0, following the protective-MBR
// signature (type 0xEE) into a GPT parse at LBA 1 exactly the way
// spec.md's data-flow narrative describes for an MBR disk that falls
// through to GPT, grounded on partition.c's partition_parse_mbr.
func ParseTable(bd *BlockDev_t) (*Table, kcerr.Err_t) {
	sector := make([]byte, SectorSize)
	if err := bd.ReadAt(sector, 0); err != 0 {
		return nil, err
	}
	if binary.LittleEndian.Uint16(sector[mbrSignatureOff:]) != mbrSignature {
		return nil, kcerr.EINVAL
	}

	for i := 0; i < 4; i++ {
		e := sector[mbrEntryOff+i*mbrEntrySize:]
		if e[4] == mbrProtective {
			return parseGPT(bd)
		}
	}

	t := &Table{Kind: TableMBR}
	for i := 0; i < 4; i++ {
		e := sector[mbrEntryOff+i*mbrEntrySize:]
		typ := e[4]
		numSectors := uint64(binary.LittleEndian.Uint32(e[12:]))
		if typ == 0x00 || numSectors == 0 {
			continue
		}
		t.Partitions = append(t.Partitions, Partition{
			Index:      i + 1,
			Type:       typ,
			TypeName:   mbrTypeName(typ),
			LBAStart:   uint64(binary.LittleEndian.Uint32(e[8:])),
			NumSectors: numSectors,
			Bootable:   e[0] == 0x80,
		})
	}
	if len(t.Partitions) == 0 {
		return nil, kcerr.EINVAL
	}
	return t, 0
}

const maxGPTPartitions = 16

func parseGPT(bd *BlockDev_t) (*Table, kcerr.Err_t) {
	header := make([]byte, SectorSize)
	if err := bd.ReadAt(header, gptHeaderLBA*SectorSize); err != 0 {
		return nil, err
	}
	if string(header[:8]) != gptSignature {
		return nil, kcerr.EINVAL
	}

	entryLBA := binary.LittleEndian.Uint64(header[72:])
	numEntries := binary.LittleEndian.Uint32(header[80:])
	entrySize := binary.LittleEndian.Uint32(header[gptEntrySizeO:])
	if numEntries > maxGPTPartitions {
		numEntries = maxGPTPartitions
	}

	t := &Table{Kind: TableGPT}
	entry := make([]byte, entrySize)
	for i := uint32(0); i < numEntries; i++ {
		off := entryLBA*SectorSize + uint64(i)*uint64(entrySize)
		if err := bd.ReadAt(entry, off); err != 0 {
			continue
		}
		typeGUID := entry[0:16]
		if guidIsZero(typeGUID) {
			continue
		}
		startLBA := binary.LittleEndian.Uint64(entry[32:])
		endLBA := binary.LittleEndian.Uint64(entry[40:])
		t.Partitions = append(t.Partitions, Partition{
			Index:      len(t.Partitions) + 1,
			TypeName:   gptTypeName(typeGUID),
			LBAStart:   startLBA,
			NumSectors: endLBA - startLBA + 1,
		})
	}
	if len(t.Partitions) == 0 {
		return nil, kcerr.EINVAL
	}
	return t, 0
}

// partitionDisk adapts a byte-range of an existing BlockDev_t into its
// own Disk_i, so a FAT32 mount (or any other backend) can be pointed
// at "the second partition" exactly as it would at a whole disk.
// Grounded on partition.c's partition_dev_read/write reopening the
// base device at a fixed offset.
type partitionDisk struct {
	base       *BlockDev_t
	lbaStart   uint64
	numSectors uint64
}

// NewPartitionDevice wraps one Table entry as a stand-alone Disk_i.
func NewPartitionDevice(base *BlockDev_t, p Partition) Disk_i {
	return &partitionDisk{base: base, lbaStart: p.LBAStart, numSectors: p.NumSectors}
}

func (p *partitionDisk) NumSectors() uint64 { return p.numSectors }

func (p *partitionDisk) Stats() string {
	return fmt.Sprintf("partition: lba=%d sectors=%d", p.lbaStart, p.numSectors)
}

func (p *partitionDisk) Start(req *Bdev_req_t) bool {
	off := (p.lbaStart + req.LBA) * SectorSize
	switch req.Cmd {
	case BDEV_READ:
		p.base.ReadAt(req.Data, off)
	case BDEV_WRITE:
		p.base.WriteAt(req.Data, off)
	case BDEV_FLUSH:
		p.base.Flush()
	}
	if req.Sync {
		req.AckCh <- true
	}
	return true
}
