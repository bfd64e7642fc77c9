package fat32

import (
	"encoding/binary"

	"kernelcore/blockdev"
	"kernelcore/kcerr"
)

// formatting layout constants. One FAT copy, one sector per cluster:
// simple enough to build by hand, matching what fat32_test.go's
// buildImage already proved Mount_/MountVFS can read back.
const (
	fmtReservedSectors   = 1
	fmtNumFATs           = 1
	fmtSectorsPerCluster = 1
	fmtRootCluster       = 2
)

// fatGeometry derives the one piece of layout that depends on the
// requested cluster count: how many sectors the single FAT copy needs
// to hold one 32-bit entry per cluster (plus the two reserved
// entries every FAT starts with).
func fatGeometry(totalClusters uint32) (sectorsPerFAT, totalSectors uint32) {
	fatEntries := totalClusters + 2
	sectorsPerFAT = (fatEntries*4 + blockdev.SectorSize - 1) / blockdev.SectorSize
	totalSectors = fmtReservedSectors + fmtNumFATs*sectorsPerFAT + totalClusters*fmtSectorsPerCluster
	return
}

// SectorsNeeded returns how many sectors a totalClusters-cluster
// volume needs in total (boot sector + FAT + data region), so
// cmd/mkfs can size the backing file before calling Format.
func SectorsNeeded(totalClusters uint32) uint64 {
	_, totalSectors := fatGeometry(totalClusters)
	return uint64(totalSectors)
}

// Format writes a fresh, empty FAT32 volume with totalClusters
// clusters of data region into disk: a valid boot sector, a FAT with
// the root directory's single cluster marked end-of-chain, and a
// zeroed data region (so the root directory starts out with no
// entries, the same invariant buildImage's test fixture establishes).
func Format(disk *blockdev.BlockDev_t, totalClusters uint32) kcerr.Err_t {
	sectorsPerFAT, totalSectors := fatGeometry(totalClusters)

	boot := make([]byte, blockdev.SectorSize)
	binary.LittleEndian.PutUint16(boot[11:], blockdev.SectorSize)
	boot[13] = fmtSectorsPerCluster
	binary.LittleEndian.PutUint16(boot[14:], fmtReservedSectors)
	boot[16] = fmtNumFATs
	binary.LittleEndian.PutUint32(boot[32:], totalSectors)
	binary.LittleEndian.PutUint32(boot[36:], sectorsPerFAT)
	binary.LittleEndian.PutUint32(boot[44:], fmtRootCluster)
	binary.LittleEndian.PutUint16(boot[bootSectorSignatureOffset:], 0xAA55)
	if err := disk.WriteAt(boot, 0); err != 0 {
		return err
	}

	fat := make([]byte, uint64(sectorsPerFAT)*blockdev.SectorSize)
	binary.LittleEndian.PutUint32(fat[fmtRootCluster*4:], eocMin)
	if err := disk.WriteAt(fat, uint64(fmtReservedSectors)*blockdev.SectorSize); err != 0 {
		return err
	}

	dataStart := uint64(fmtReservedSectors+fmtNumFATs*sectorsPerFAT) * blockdev.SectorSize
	zero := make([]byte, uint64(totalClusters)*uint64(fmtSectorsPerCluster)*blockdev.SectorSize)
	if err := disk.WriteAt(zero, dataStart); err != 0 {
		return err
	}
	return 0
}
