// Package vfs implements the single rooted tree with pluggable
// per-node operation tables that every filesystem backend (RAM nodes,
// FAT32) mounts into (spec.md §4.4). Path handling follows the
// teacher's ustr/bpath idiom of treating paths as plain byte slices
// split on '/'; node and descriptor shapes follow fs/super.go and
// fd/fd.go.
package vfs

import (
	"strings"

	"kernelcore/kcerr"
)

// NodeKind enumerates the two kinds of VFS node.
type NodeKind int

const (
	KindFile NodeKind = iota
	KindDir
)

// Ops_i is the per-node operation table a backend supplies. A node
// whose Ops is nil has no backend: Fs_t.Create links a plain in-memory
// node under it instead of delegating (spec.md §4.4).
type Ops_i interface {
	Read(n *Node_t, dst []byte, offset int64) (int, kcerr.Err_t)
	Write(n *Node_t, src []byte, offset int64) (int, kcerr.Err_t)
	Create(parent *Node_t, name string, dir bool) (*Node_t, kcerr.Err_t)
	Unlink(parent *Node_t, name string) kcerr.Err_t
	Truncate(n *Node_t, size int64) kcerr.Err_t
}

// Node_t is a single entry in the VFS tree.
type Node_t struct {
	Name     string
	Kind     NodeKind
	Size     int64
	Parent   *Node_t
	Child    *Node_t // first child
	Next     *Node_t // next sibling
	Private  interface{} // backend-private handle (e.g. a FAT32 dirent cursor)
	Ops      Ops_i
}

const maxPathLen = 1024

// Fs_t is one mounted tree, rooted at Root.
type Fs_t struct {
	Root *Node_t
}

// NewRoot creates an empty root directory backed by ops (nil selects
// the plain in-memory RAMOps backend).
func NewRoot(ops Ops_i) *Fs_t {
	if ops == nil {
		ops = RAMOps
	}
	root := &Node_t{Name: "/", Kind: KindDir, Ops: ops}
	root.Parent = root
	return &Fs_t{Root: root}
}

// Lookup resolves an absolute path to a node. '.' is identity, '..'
// goes to parent, empty components are skipped (spec.md §4.4).
func (fs *Fs_t) Lookup(path string) (*Node_t, kcerr.Err_t) {
	if len(path) == 0 || path[0] != '/' {
		return nil, kcerr.EINVAL
	}
	if len(path) > maxPathLen {
		return nil, kcerr.ENAMETOOLONG
	}
	cur := fs.Root
	for _, comp := range strings.Split(path, "/") {
		switch comp {
		case "", ".":
			continue
		case "..":
			cur = cur.Parent
		default:
			child := findChild(cur, comp)
			if child == nil {
				return nil, kcerr.ENOENT
			}
			cur = child
		}
	}
	return cur, 0
}

func findChild(dir *Node_t, name string) *Node_t {
	for c := dir.Child; c != nil; c = c.Next {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func splitParent(path string) (parentPath, leaf string, err kcerr.Err_t) {
	if len(path) == 0 || path[0] != '/' {
		return "", "", kcerr.EINVAL
	}
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return "", "", kcerr.EINVAL // refuses to create/remove the root
	}
	i := strings.LastIndexByte(trimmed, '/')
	leaf = trimmed[i+1:]
	if leaf == "" || leaf == "." || leaf == ".." {
		return "", "", kcerr.EINVAL
	}
	parentPath = trimmed[:i]
	if parentPath == "" {
		parentPath = "/"
	}
	return parentPath, leaf, 0
}

// Create splits path into parent and leaf, refusing if the leaf
// already exists; when the parent's op-table provides Create, it
// delegates (this is how FAT32 allocates on-disk structures);
// otherwise a generic in-memory node is allocated and linked
// (spec.md §4.4).
func (fs *Fs_t) Create(path string, dir bool) (*Node_t, kcerr.Err_t) {
	parentPath, leaf, err := splitParent(path)
	if err != 0 {
		return nil, err
	}
	parent, err := fs.Lookup(parentPath)
	if err != 0 {
		return nil, err
	}
	if parent.Kind != KindDir {
		return nil, kcerr.ENOTDIR
	}
	if findChild(parent, leaf) != nil {
		return nil, kcerr.EEXIST
	}

	// Delegating to the parent's op-table is how FAT32 allocates its
	// on-disk structures while RAM nodes stay purely in memory; a
	// parent with no op-table gets a plain in-memory child.
	ops := parent.Ops
	if ops == nil {
		ops = RAMOps
	}
	n, err := ops.Create(parent, leaf, dir)
	if err != 0 {
		return nil, err
	}
	n.Name = leaf
	n.Parent = parent
	n.Next = parent.Child
	parent.Child = n
	return n, 0
}

// Unlink removes path, refusing to remove the root, refusing
// non-empty directories unless recursive is set (in which case
// children are removed first), then invoking the backend's Unlink
// hook if any, then detaching from the parent (spec.md §4.4).
func (fs *Fs_t) Unlink(path string, recursive bool) kcerr.Err_t {
	parentPath, leaf, err := splitParent(path)
	if err != 0 {
		return err
	}
	parent, err := fs.Lookup(parentPath)
	if err != 0 {
		return err
	}
	n := findChild(parent, leaf)
	if n == nil {
		return kcerr.ENOENT
	}
	if n.Kind == KindDir && n.Child != nil {
		if !recursive {
			return kcerr.ENOTEMPTY
		}
		for n.Child != nil {
			if err := fs.Unlink(path+"/"+n.Child.Name, true); err != 0 {
				return err
			}
		}
	}
	if parent.Ops != nil {
		if err := parent.Ops.Unlink(parent, leaf); err != 0 {
			return err
		}
	}
	detach(parent, n)
	return 0
}

func detach(parent, n *Node_t) {
	if parent.Child == n {
		parent.Child = n.Next
		return
	}
	for c := parent.Child; c != nil; c = c.Next {
		if c.Next == n {
			c.Next = n.Next
			return
		}
	}
}

// Readdir returns the name of the idx-th child (0-based), or ("",
// false) if idx is out of range.
func (n *Node_t) Readdir(idx int) (string, bool) {
	c := n.Child
	for i := 0; c != nil && i < idx; i++ {
		c = c.Next
	}
	if c == nil {
		return "", false
	}
	return c.Name, true
}
