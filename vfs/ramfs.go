package vfs

import "kernelcore/kcerr"

// ramOps is the default in-memory backend used for any node whose
// parent did not supply its own op-table (spec.md §4.4: "otherwise
// allocate a generic in-memory node and link it"). Each file's bytes
// live in Node_t.Private as a *[]byte; directories carry no payload.
type ramOps struct{}

// RAMOps is the shared default backend instance.
var RAMOps Ops_i = ramOps{}

func (ramOps) Read(n *Node_t, dst []byte, offset int64) (int, kcerr.Err_t) {
	if n.Kind == KindDir {
		return 0, kcerr.EISDIR
	}
	buf, _ := n.Private.(*[]byte)
	if buf == nil || offset >= int64(len(*buf)) {
		return 0, 0
	}
	cnt := copy(dst, (*buf)[offset:])
	return cnt, 0
}

func (ramOps) Write(n *Node_t, src []byte, offset int64) (int, kcerr.Err_t) {
	if n.Kind == KindDir {
		return 0, kcerr.EISDIR
	}
	buf, _ := n.Private.(*[]byte)
	if buf == nil {
		empty := []byte{}
		buf = &empty
		n.Private = buf
	}
	need := offset + int64(len(src))
	if need > int64(len(*buf)) {
		grown := make([]byte, need)
		copy(grown, *buf)
		*buf = grown
	}
	copy((*buf)[offset:], src)
	return len(src), 0
}

func (ramOps) Create(parent *Node_t, name string, dir bool) (*Node_t, kcerr.Err_t) {
	kind := KindFile
	if dir {
		kind = KindDir
	}
	n := &Node_t{Name: name, Kind: kind, Ops: RAMOps}
	if !dir {
		empty := []byte{}
		n.Private = &empty
	}
	return n, 0
}

func (ramOps) Unlink(parent *Node_t, name string) kcerr.Err_t {
	return 0
}

func (ramOps) Truncate(n *Node_t, size int64) kcerr.Err_t {
	buf, _ := n.Private.(*[]byte)
	if buf == nil {
		empty := make([]byte, size)
		n.Private = &empty
		n.Size = size
		return 0
	}
	if size <= int64(len(*buf)) {
		*buf = (*buf)[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, *buf)
		*buf = grown
	}
	n.Size = size
	return 0
}
