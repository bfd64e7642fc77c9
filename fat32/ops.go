package fat32

import (
	"kernelcore/kcerr"
	"kernelcore/vfs"
)

// nodeData is the VFS node's private payload for a FAT32 entry (the
// "{mount, dir_entry snapshot}" pair spec.md §4.5 calls for).
type nodeData struct {
	mount *Mount
	ent   dirent
}

// ops is the vfs.Ops_i the VFS core dispatches read/write/create/
// unlink to for any node mounted from this FAT32 volume.
type ops struct{ m *Mount }

func (o ops) data(n *vfs.Node_t) *nodeData {
	return n.Private.(*nodeData)
}

func (o ops) Read(n *vfs.Node_t, dst []byte, offset int64) (int, kcerr.Err_t) {
	d := o.data(n)
	return o.m.readFile(d.ent.cluster, int64(d.ent.size), dst, offset)
}

func (o ops) Write(n *vfs.Node_t, src []byte, offset int64) (int, kcerr.Err_t) {
	d := o.data(n)
	newCluster, written, err := o.m.writeFile(d.ent.cluster, src, offset)
	if err != 0 {
		return written, err
	}
	d.ent.cluster = newCluster
	newEnd := offset + int64(written)
	if newEnd > int64(d.ent.size) {
		d.ent.size = uint32(newEnd)
		n.Size = newEnd
	}
	if err := o.m.updateDirent(d.ent); err != 0 {
		return written, err
	}
	return written, o.m.Flush()
}

func (o ops) Create(parent *vfs.Node_t, name string, dir bool) (*vfs.Node_t, kcerr.Err_t) {
	pd := o.data(parent)
	attr := uint8(attrArchive)
	if dir {
		attr = attrDirectory
	}
	d := dirent{name: name, attr: attr}
	if dir {
		nc := o.m.allocateCluster(0)
		if nc == 0 {
			return nil, kcerr.ENOSPC
		}
		d.cluster = nc
		buf := make([]byte, o.m.bytesPerCluster)
		if err := o.m.writeCluster(nc, buf); err != 0 {
			return nil, err
		}
	}
	placed, err := o.m.addDirEntry(pd.ent.cluster, d)
	if err != 0 {
		return nil, err
	}
	d = placed
	if err := o.m.Flush(); err != 0 {
		return nil, err
	}

	kind := vfs.KindFile
	if dir {
		kind = vfs.KindDir
	}
	n := &vfs.Node_t{Name: name, Kind: kind, Ops: o, Private: &nodeData{mount: o.m, ent: d}}
	return n, 0
}

func (o ops) Unlink(parent *vfs.Node_t, name string) kcerr.Err_t {
	pd := o.data(parent)
	d, found, err := o.m.findInDir(pd.ent.cluster, name)
	if err != 0 {
		return err
	}
	if !found {
		return kcerr.ENOENT
	}
	if err := o.m.removeDirEntry(d); err != 0 {
		return err
	}
	return o.m.Flush()
}

func (o ops) Truncate(n *vfs.Node_t, size int64) kcerr.Err_t {
	d := o.data(n)
	d.ent.size = uint32(size)
	n.Size = size
	if err := o.m.updateDirent(d.ent); err != 0 {
		return err
	}
	return o.m.Flush()
}

// MountVFS walks the on-disk tree rooted at the volume's root cluster
// and materializes a matching VFS subtree, whose op-table calls back
// into this Mount for every operation (spec.md §4.5's VFS
// integration).
func (m *Mount) MountVFS() (*vfs.Node_t, kcerr.Err_t) {
	o := ops{m: m}
	root := &vfs.Node_t{Name: "/", Kind: vfs.KindDir, Ops: o,
		Private: &nodeData{mount: m, ent: dirent{cluster: m.rootCluster, attr: attrDirectory}}}
	root.Parent = root
	if err := m.populate(root, o); err != 0 {
		return nil, err
	}
	return root, 0
}

func (m *Mount) populate(dirNode *vfs.Node_t, o ops) kcerr.Err_t {
	dd := o.data(dirNode)
	entries, err := m.listDir(dd.ent.cluster)
	if err != 0 {
		return err
	}
	for _, e := range entries {
		if e.attr&attrVolumeID != 0 {
			continue
		}
		kind := vfs.KindFile
		if e.attr&attrDirectory != 0 {
			kind = vfs.KindDir
		}
		child := &vfs.Node_t{
			Name:    e.name,
			Kind:    kind,
			Size:    int64(e.size),
			Parent:  dirNode,
			Next:    dirNode.Child,
			Ops:     o,
			Private: &nodeData{mount: m, ent: e},
		}
		dirNode.Child = child
		if kind == vfs.KindDir {
			if err := m.populate(child, o); err != 0 {
				return err
			}
		}
	}
	return 0
}
