package fat32

import (
	"testing"

	"kernelcore/blockdev"
	"kernelcore/vfs"
)

func TestFormatProducesMountableVolume(t *testing.T) {
	const nClusters = 64
	disk := blockdev.New(blockdev.NewRAMDisk(SectorsNeeded(nClusters)))
	if err := Format(disk, nClusters); err != 0 {
		t.Fatalf("format: %v", err)
	}

	m, err := Mount_(disk)
	if err != 0 {
		t.Fatalf("mount: %v", err)
	}
	root, err := m.MountVFS()
	if err != 0 {
		t.Fatalf("mount vfs: %v", err)
	}
	if root.Kind != vfs.KindDir {
		t.Fatal("root node must be a directory")
	}
}

func TestFormatThenCreateFileRoundTrips(t *testing.T) {
	const nClusters = 64
	disk := blockdev.New(blockdev.NewRAMDisk(SectorsNeeded(nClusters)))
	if err := Format(disk, nClusters); err != 0 {
		t.Fatalf("format: %v", err)
	}
	m, err := Mount_(disk)
	if err != 0 {
		t.Fatalf("mount: %v", err)
	}
	root, err := m.MountVFS()
	if err != 0 {
		t.Fatalf("mount vfs: %v", err)
	}

	n, err := root.Ops.Create(root, "hello.txt", false)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	if _, err := n.Ops.Write(n, []byte("hi"), 0); err != 0 {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 2)
	got, err := n.Ops.Read(n, buf, 0)
	if err != 0 {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:got]) != "hi" {
		t.Fatalf("read %q, want %q", buf[:got], "hi")
	}
}
