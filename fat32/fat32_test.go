package fat32

import (
	"encoding/binary"
	"testing"

	"kernelcore/blockdev"
	"kernelcore/vfs"
)

// buildImage writes a minimal but structurally valid FAT32 volume
// into disk: one boot sector, a one-sector FAT with cluster 2 (the
// root directory) marked end-of-chain, and nClusters one-sector
// clusters of data region.
func buildImage(t *testing.T, disk *blockdev.BlockDev_t, nClusters uint32) {
	t.Helper()
	const (
		reservedSectors = 1
		numFATs         = 1
		sectorsPerFAT   = 1
		sectorsPerClus  = 1
		rootCluster     = 2
	)
	totalSectors := reservedSectors + numFATs*sectorsPerFAT + nClusters*sectorsPerClus

	boot := make([]byte, 512)
	binary.LittleEndian.PutUint16(boot[11:], blockdev.SectorSize) // bytes per sector
	boot[13] = sectorsPerClus
	binary.LittleEndian.PutUint16(boot[14:], reservedSectors)
	boot[16] = numFATs
	binary.LittleEndian.PutUint32(boot[32:], totalSectors)
	binary.LittleEndian.PutUint32(boot[36:], sectorsPerFAT)
	binary.LittleEndian.PutUint32(boot[44:], rootCluster)
	binary.LittleEndian.PutUint16(boot[510:], 0xAA55)
	if err := disk.WriteAt(boot, 0); err != 0 {
		t.Fatalf("write boot sector: %v", err)
	}

	fat := make([]byte, sectorsPerFAT*blockdev.SectorSize)
	binary.LittleEndian.PutUint32(fat[rootCluster*4:], eocMin) // root dir: one cluster, EOC
	if err := disk.WriteAt(fat, reservedSectors*blockdev.SectorSize); err != 0 {
		t.Fatalf("write fat: %v", err)
	}

	// Zero the data region so listDir sees an empty (0x00-terminated)
	// root directory.
	zero := make([]byte, nClusters*sectorsPerClus*blockdev.SectorSize)
	dataStart := uint64(reservedSectors+numFATs*sectorsPerFAT) * blockdev.SectorSize
	if err := disk.WriteAt(zero, dataStart); err != 0 {
		t.Fatalf("zero data region: %v", err)
	}
}

func mountTestVolume(t *testing.T, nClusters uint32) *vfs.Fs_t {
	t.Helper()
	disk := blockdev.New(blockdev.NewRAMDisk(uint64(2 + nClusters)))
	buildImage(t, disk, nClusters)

	m, err := Mount_(disk)
	if err != 0 {
		t.Fatalf("mount: %v", err)
	}
	root, err := m.MountVFS()
	if err != 0 {
		t.Fatalf("mount vfs: %v", err)
	}
	return &vfs.Fs_t{Root: root}
}

func TestMountValidatesSignature(t *testing.T) {
	disk := blockdev.New(blockdev.NewRAMDisk(4))
	if _, err := Mount_(disk); err == 0 {
		t.Fatal("expected mount of an all-zero image to fail signature check")
	}
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	fs := mountTestVolume(t, 8)
	ft := vfs.NewFdTable()

	fd, err := fs.Open(ft, "/greeting.txt", vfs.O_WRONLY|vfs.O_CREAT)
	if err != 0 {
		t.Fatalf("open: %v", err)
	}
	payload := []byte("hello from the data cluster")
	n, err := ft.Write(fd, payload)
	if err != 0 || n != len(payload) {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	ft.Close(fd)

	fd, err = fs.Open(ft, "/greeting.txt", vfs.O_RDONLY)
	if err != 0 {
		t.Fatalf("reopen: %v", err)
	}
	buf := make([]byte, 64)
	n, err = ft.Read(fd, buf)
	if err != 0 {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("got %q, want %q", buf[:n], payload)
	}
}

func TestWriteSpanningMultipleClusters(t *testing.T) {
	fs := mountTestVolume(t, 8)
	ft := vfs.NewFdTable()

	fd, err := fs.Open(ft, "/big.bin", vfs.O_WRONLY|vfs.O_CREAT)
	if err != 0 {
		t.Fatalf("open: %v", err)
	}
	payload := make([]byte, blockdev.SectorSize*3)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := ft.Write(fd, payload)
	if err != 0 || n != len(payload) {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	ft.Close(fd)

	fd, err = fs.Open(ft, "/big.bin", vfs.O_RDONLY)
	if err != 0 {
		t.Fatalf("reopen: %v", err)
	}
	got := make([]byte, len(payload))
	total := 0
	for total < len(got) {
		n, err := ft.Read(fd, got[total:])
		if err != 0 {
			t.Fatalf("read: %v", err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d: got %#x want %#x", i, got[i], payload[i])
		}
	}
}

func TestUnlinkRemovesDirectoryEntry(t *testing.T) {
	fs := mountTestVolume(t, 8)
	if _, err := fs.Create("/doomed.txt", false); err != 0 {
		t.Fatalf("create: %v", err)
	}
	if err := fs.Unlink("/doomed.txt", false); err != 0 {
		t.Fatalf("unlink: %v", err)
	}
	if _, err := fs.Lookup("/doomed.txt"); err == 0 {
		t.Fatal("expected file to be gone")
	}
}
