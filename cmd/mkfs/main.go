// Command mkfs formats a FAT32 image and populates it from a host
// skeleton directory, the image-building step of spec.md's build
// pipeline: the bootloader reads the kernel ELF and every userland
// program straight out of this filesystem, the way mkfs.go built the
// teacher's on-disk tree from a skeleton directory.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"kernelcore/blockdev"
	"kernelcore/fat32"
	"kernelcore/vfs"
)

// defaultClusters sizes a generous but bounded image: enough room for
// a kernel image, a handful of userland binaries, and some scratch
// space, without demanding the caller compute cluster counts by hand.
const defaultClusters = 65536

// copydata streams src's contents into the already-created node dst,
// writing in block-device-sized chunks the way copydata in the
// teacher's mkfs.go appends one filesystem block at a time.
func copydata(src string, dst *vfs.Node_t) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, blockdev.SectorSize*8)
	var offset int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := dst.Ops.Write(dst, buf[:n], offset); werr != 0 {
				return fmt.Errorf("write %s: %v", src, werr)
			}
			offset += int64(n)
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// addFiles walks skeldir on the host and replicates its contents into
// fs, following the teacher's addfiles WalkDir pattern.
func addFiles(fs *vfs.Fs_t, skeldir string) error {
	return filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("access %s: %v", path, err)
		}
		rel := strings.TrimPrefix(path, skeldir)
		if rel == "" {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}

		if d.IsDir() {
			if _, verr := fs.Create(rel, true); verr != 0 {
				return fmt.Errorf("mkdir %s: %v", rel, verr)
			}
			return nil
		}

		n, verr := fs.Create(rel, false)
		if verr != 0 {
			return fmt.Errorf("create %s: %v", rel, verr)
		}
		return copydata(path, n)
	})
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: mkfs <output image> <skel dir> [clusters]\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}
	image := os.Args[1]
	skeldir := os.Args[2]
	clusters := uint32(defaultClusters)
	if len(os.Args) >= 4 {
		var n int
		if _, err := fmt.Sscanf(os.Args[3], "%d", &n); err != nil || n <= 0 {
			fmt.Fprintf(os.Stderr, "invalid cluster count %q\n", os.Args[3])
			os.Exit(1)
		}
		clusters = uint32(n)
	}

	disk, err := blockdev.OpenFileDisk(image, fat32.SectorsNeeded(clusters))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", image, err)
		os.Exit(1)
	}
	defer disk.Close()

	bd := blockdev.New(disk)
	if verr := fat32.Format(bd, clusters); verr != 0 {
		fmt.Fprintf(os.Stderr, "format: %v\n", verr)
		os.Exit(1)
	}

	m, verr := fat32.Mount_(bd)
	if verr != 0 {
		fmt.Fprintf(os.Stderr, "mount: %v\n", verr)
		os.Exit(1)
	}
	root, verr := m.MountVFS()
	if verr != 0 {
		fmt.Fprintf(os.Stderr, "mount vfs: %v\n", verr)
		os.Exit(1)
	}
	fs := &vfs.Fs_t{Root: root}

	if err := addFiles(fs, skeldir); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if verr := m.Flush(); verr != 0 {
		fmt.Fprintf(os.Stderr, "flush: %v\n", verr)
		os.Exit(1)
	}

	fmt.Printf("wrote %s: %d clusters, populated from %s\n", image, clusters, skeldir)
}
