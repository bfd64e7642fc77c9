package vfs

import "kernelcore/kcerr"

// Open flags, following the teacher's FD_READ/FD_WRITE bit-flag
// convention in fd/fd.go.
const (
	O_RDONLY = 0x0
	O_WRONLY = 0x1
	O_RDWR   = 0x2
	O_CREAT  = 0x40
	O_TRUNC  = 0x200
	O_APPEND = 0x400
)

// Whence values for Seek.
const (
	SeekSet = iota
	SeekCur
	SeekEnd
)

// Fd_t is a single open file descriptor: a node plus a cursor.
// Matches the Data Model's File Descriptor entry: when InUse, Node is
// live; Offset is always >= 0.
type Fd_t struct {
	Node   *Node_t
	Flags  int
	Offset int64
	InUse  bool
}

const numFds = 64

// FdTable_t is the fixed-size descriptor array every task owns. The
// first three slots are reserved for stdin/stdout/stderr (spec.md
// §4.4).
type FdTable_t struct {
	fds [numFds]Fd_t
}

func NewFdTable() *FdTable_t {
	return &FdTable_t{}
}

// Clone returns a descriptor table with the same node/flags/offset in
// every slot as t, for fork (spec.md §4.9): child and parent start out
// with identical descriptors but independent cursors thereafter, since
// this kernel has no separate shared-open-file-description layer.
func (t *FdTable_t) Clone() *FdTable_t {
	c := &FdTable_t{}
	c.fds = t.fds
	return c
}

// alloc returns the index of the lowest-numbered free slot at or
// above low, or -1 if none remain.
func (t *FdTable_t) alloc(low int) int {
	for i := low; i < numFds; i++ {
		if !t.fds[i].InUse {
			return i
		}
	}
	return -1
}

// Install places fd, node, and flags directly into slot idx,
// overwriting whatever was there. Used to set up the three reserved
// console descriptors at task creation.
func (t *FdTable_t) Install(idx int, n *Node_t, flags int) {
	t.fds[idx] = Fd_t{Node: n, Flags: flags, InUse: true}
}

// Open resolves path, optionally creating it on O_CREAT, refuses to
// open a directory for write, truncates on O_TRUNC, and positions the
// cursor at the end on O_APPEND (spec.md §4.4). It returns the new
// descriptor's index.
func (fs *Fs_t) Open(t *FdTable_t, path string, flags int) (int, kcerr.Err_t) {
	n, err := fs.Lookup(path)
	if err == kcerr.ENOENT && flags&O_CREAT != 0 {
		n, err = fs.Create(path, false)
	}
	if err != 0 {
		return -1, err
	}
	writable := flags&(O_WRONLY|O_RDWR) != 0
	if n.Kind == KindDir && writable {
		return -1, kcerr.EISDIR
	}
	if writable && flags&O_TRUNC != 0 {
		if err := n.Ops.Truncate(n, 0); err != 0 {
			return -1, err
		}
		n.Size = 0
	}

	idx := t.alloc(3)
	if idx < 0 {
		return -1, kcerr.EMFILE
	}
	off := int64(0)
	if flags&O_APPEND != 0 {
		off = n.Size
	}
	t.fds[idx] = Fd_t{Node: n, Flags: flags, Offset: off, InUse: true}
	return idx, 0
}

func (t *FdTable_t) get(fdno int) (*Fd_t, kcerr.Err_t) {
	if fdno < 0 || fdno >= numFds || !t.fds[fdno].InUse {
		return nil, kcerr.EBADF
	}
	return &t.fds[fdno], 0
}

// Read delegates to the node's op-table entry at the descriptor's
// current cursor and advances it by the returned byte count.
func (t *FdTable_t) Read(fdno int, dst []byte) (int, kcerr.Err_t) {
	fd, err := t.get(fdno)
	if err != 0 {
		return 0, err
	}
	n, err := fd.Node.Ops.Read(fd.Node, dst, fd.Offset)
	if err != 0 {
		return 0, err
	}
	fd.Offset += int64(n)
	return n, 0
}

// Write delegates to the node's op-table entry at the descriptor's
// current cursor and advances it by the returned byte count.
func (t *FdTable_t) Write(fdno int, src []byte) (int, kcerr.Err_t) {
	fd, err := t.get(fdno)
	if err != 0 {
		return 0, err
	}
	if fd.Flags&(O_WRONLY|O_RDWR) == 0 {
		return 0, kcerr.EINVAL
	}
	n, err := fd.Node.Ops.Write(fd.Node, src, fd.Offset)
	if err != 0 {
		return 0, err
	}
	fd.Offset += int64(n)
	if fd.Offset > fd.Node.Size {
		fd.Node.Size = fd.Offset
	}
	return n, 0
}

// Seek repositions the cursor. Negative absolute offsets are refused
// (spec.md §4.4).
func (t *FdTable_t) Seek(fdno int, offset int64, whence int) (int64, kcerr.Err_t) {
	fd, err := t.get(fdno)
	if err != 0 {
		return 0, err
	}
	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = fd.Offset
	case SeekEnd:
		base = fd.Node.Size
	default:
		return 0, kcerr.EINVAL
	}
	newOff := base + offset
	if newOff < 0 {
		return 0, kcerr.EINVAL
	}
	fd.Offset = newOff
	return newOff, 0
}

// Readdir returns one child name per call, indexed by the
// descriptor's cursor, which this advances by one (spec.md §4.4).
func (t *FdTable_t) Readdir(fdno int) (string, bool, kcerr.Err_t) {
	fd, err := t.get(fdno)
	if err != 0 {
		return "", false, err
	}
	if fd.Node.Kind != KindDir {
		return "", false, kcerr.ENOTDIR
	}
	name, ok := fd.Node.Readdir(int(fd.Offset))
	if !ok {
		return "", false, 0
	}
	fd.Offset++
	return name, true, 0
}

// Close marks the descriptor free.
func (t *FdTable_t) Close(fdno int) kcerr.Err_t {
	fd, err := t.get(fdno)
	if err != 0 {
		return err
	}
	*fd = Fd_t{}
	return 0
}
