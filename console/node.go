package console

import (
	"io"
	"os"

	"kernelcore/kcerr"
	"kernelcore/vfs"
)

// Sink is where the stdout/stderr node writes; substitutable in tests
// and swappable to a framebuffer writer once one exists. Default
// mirrors the ambient "kernel logging goes to the bound console
// device" convention.
var Sink io.Writer = os.Stdout

// stdinOps backs the fd 0 node: Read blocks on Stdin one character at
// a time, stopping at a newline or when dst is full, the same
// line-buffered contract a TTY gives a blocking read() call.
type stdinOps struct{}

func (stdinOps) Read(n *vfs.Node_t, dst []byte, offset int64) (int, kcerr.Err_t) {
	i := 0
	for i < len(dst) {
		c := Stdin.Getchar()
		dst[i] = c
		i++
		if c == '\n' {
			break
		}
	}
	return i, 0
}

func (stdinOps) Write(n *vfs.Node_t, src []byte, offset int64) (int, kcerr.Err_t) {
	return 0, kcerr.EINVAL
}

func (stdinOps) Create(parent *vfs.Node_t, name string, dir bool) (*vfs.Node_t, kcerr.Err_t) {
	return nil, kcerr.EINVAL
}

func (stdinOps) Unlink(parent *vfs.Node_t, name string) kcerr.Err_t {
	return kcerr.EINVAL
}

func (stdinOps) Truncate(n *vfs.Node_t, size int64) kcerr.Err_t {
	return kcerr.EINVAL
}

// sinkOps backs the fd 1/2 nodes: every write goes straight to Sink,
// ignoring offset (the console has no addressable history to seek
// into, matching a tty's write semantics).
type sinkOps struct{}

func (sinkOps) Read(n *vfs.Node_t, dst []byte, offset int64) (int, kcerr.Err_t) {
	return 0, kcerr.EINVAL
}

func (sinkOps) Write(n *vfs.Node_t, src []byte, offset int64) (int, kcerr.Err_t) {
	w, err := Sink.Write(src)
	if err != nil {
		return w, kcerr.EIO
	}
	return w, 0
}

func (sinkOps) Create(parent *vfs.Node_t, name string, dir bool) (*vfs.Node_t, kcerr.Err_t) {
	return nil, kcerr.EINVAL
}

func (sinkOps) Unlink(parent *vfs.Node_t, name string) kcerr.Err_t {
	return kcerr.EINVAL
}

func (sinkOps) Truncate(n *vfs.Node_t, size int64) kcerr.Err_t {
	return kcerr.EINVAL
}

// NewStdinNode returns a fresh fd-0 node reading from the shared
// keyboard ring.
func NewStdinNode() *vfs.Node_t {
	return &vfs.Node_t{Name: "stdin", Kind: vfs.KindFile, Ops: stdinOps{}}
}

// NewStdoutNode returns a fresh fd-1/2 node writing to Sink.
func NewStdoutNode() *vfs.Node_t {
	return &vfs.Node_t{Name: "stdout", Kind: vfs.KindFile, Ops: sinkOps{}}
}

// InstallStdio wires the three reserved descriptors of a brand new
// task's table onto the console, matching spec.md §4.4's "the first
// three slots are reserved for stdin/stdout/stderr".
func InstallStdio(fds *vfs.FdTable_t) {
	fds.Install(0, NewStdinNode(), vfs.O_RDONLY)
	fds.Install(1, NewStdoutNode(), vfs.O_WRONLY)
	fds.Install(2, NewStdoutNode(), vfs.O_WRONLY)
}
