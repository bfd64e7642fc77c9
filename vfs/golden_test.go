package vfs

import (
	"strings"
	"testing"

	"golang.org/x/tools/txtar"
)

// goldenTree is a small directory tree packed as a txtar archive: each
// "-- path --" section becomes one file's path and contents, the
// fixture format SPEC_FULL.md's ambient test tooling calls for so a
// whole directory tree round-trip can live as one readable blob
// instead of a pile of t.TempDir() writes.
const goldenTree = `
-- etc/motd --
welcome to the machine
-- usr/bin/init --
#!stub
-- usr/share/doc/readme.txt --
nothing to see here
`

// mkdirAll creates every missing ancestor directory of path (which
// itself names a file, not a directory), since Fs_t.Create requires
// the parent to already exist.
func mkdirAll(t *testing.T, fs *Fs_t, path string) {
	t.Helper()
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return
	}
	dir := path[:i]
	if _, err := fs.Lookup(dir); err == 0 {
		return
	}
	mkdirAll(t, fs, dir)
	if _, err := fs.Create(dir, true); err != 0 {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}

// TestCreateRoundTripsGoldenTree walks a txtar-packed directory tree,
// creates every file it names through the VFS, and reads each one back
// to confirm the path-creation/lookup/read path preserves both
// directory structure and file contents.
func TestCreateRoundTripsGoldenTree(t *testing.T) {
	arc := txtar.Parse([]byte(goldenTree))
	if len(arc.Files) == 0 {
		t.Fatal("golden archive parsed with no files")
	}

	fs := NewRoot(nil)
	ft := NewFdTable()

	for _, f := range arc.Files {
		mkdirAll(t, fs, "/"+f.Name)
	}

	for _, f := range arc.Files {
		path := "/" + f.Name
		fd, err := fs.Open(ft, path, O_WRONLY|O_CREAT)
		if err != 0 {
			t.Fatalf("create %s: %v", path, err)
		}
		if n, err := ft.Write(fd, f.Data); err != 0 || n != len(f.Data) {
			t.Fatalf("write %s: n=%d err=%v", path, n, err)
		}
		ft.Close(fd)
	}

	for _, f := range arc.Files {
		path := "/" + f.Name
		fd, err := fs.Open(ft, path, O_RDONLY)
		if err != 0 {
			t.Fatalf("open %s: %v", path, err)
		}
		buf := make([]byte, len(f.Data)+16)
		n, err := ft.Read(fd, buf)
		if err != 0 {
			t.Fatalf("read %s: %v", path, err)
		}
		ft.Close(fd)
		if string(buf[:n]) != string(f.Data) {
			t.Fatalf("%s: got %q, want %q", path, buf[:n], f.Data)
		}
	}
}
