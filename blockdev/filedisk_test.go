package blockdev

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestFileDiskWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	disk, err := OpenFileDisk(path, 16)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer disk.Close()

	bd := New(disk)
	want := bytes.Repeat([]byte{0x5a}, SectorSize*2)
	if err := bd.WriteAt(want, SectorSize*3); err != 0 {
		t.Fatalf("write: %v", err)
	}

	got := make([]byte, len(want))
	if err := bd.ReadAt(got, SectorSize*3); err != 0 {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("round trip mismatch")
	}
}

func TestFileDiskPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	disk, err := OpenFileDisk(path, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	bd := New(disk)
	if err := bd.WriteAt([]byte("persisted"), 0); err != 0 {
		t.Fatalf("write: %v", err)
	}
	if err := disk.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenFileDisk(path, 4)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	bd2 := New(reopened)
	got := make([]byte, len("persisted"))
	if err := bd2.ReadAt(got, 0); err != 0 {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "persisted" {
		t.Fatalf("got %q, want %q", got, "persisted")
	}
}

func TestFileDiskNumSectorsMatchesRequested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	disk, err := OpenFileDisk(path, 7)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer disk.Close()
	if got := disk.NumSectors(); got != 7 {
		t.Fatalf("NumSectors = %d, want 7", got)
	}
}
