package fat32

import "kernelcore/kcerr"

// listDir returns every live (non-erased, non-long-name) entry in the
// chain rooted at dirCluster.
func (m *Mount) listDir(dirCluster uint32) ([]dirent, kcerr.Err_t) {
	var out []dirent
	cluster := dirCluster
	for cluster < eocMin {
		buf, err := m.readCluster(cluster)
		if err != 0 {
			return nil, err
		}
		for i := 0; i+dirEntrySize <= len(buf); i += dirEntrySize {
			raw := buf[i : i+dirEntrySize]
			if raw[0] == 0x00 {
				return out, 0 // end of directory: no more entries anywhere in the chain
			}
			d, present := decodeDirent(raw)
			if !present || d.attr == 0xFF || d.attr == attrLongName {
				continue
			}
			d.dirCluster = cluster
			d.entryIndex = i / dirEntrySize
			out = append(out, d)
		}
		cluster = m.nextCluster(cluster)
	}
	return out, 0
}

func (m *Mount) findInDir(dirCluster uint32, name string) (dirent, bool, kcerr.Err_t) {
	entries, err := m.listDir(dirCluster)
	if err != 0 {
		return dirent{}, false, err
	}
	for _, d := range entries {
		if d.name == name {
			return d, true, 0
		}
	}
	return dirent{}, false, 0
}

// addDirEntry finds the first free (0x00 or 0xE5) 32-byte slot across
// dirCluster's chain and writes d there, allocating a new cluster at
// the tail on overflow (spec.md §4.5). It returns d with dirCluster
// and entryIndex filled in so the caller can patch this exact slot
// later (size updates, unlink).
func (m *Mount) addDirEntry(dirCluster uint32, d dirent) (dirent, kcerr.Err_t) {
	cluster := dirCluster
	var last uint32
	for cluster < eocMin {
		last = cluster
		buf, err := m.readCluster(cluster)
		if err != 0 {
			return dirent{}, err
		}
		for i := 0; i+dirEntrySize <= len(buf); i += dirEntrySize {
			if buf[i] == 0x00 || buf[i] == 0xE5 {
				d.dirCluster = cluster
				d.entryIndex = i / dirEntrySize
				copy(buf[i:i+dirEntrySize], encodeDirent(d))
				if err := m.writeCluster(cluster, buf); err != 0 {
					return dirent{}, err
				}
				return d, 0
			}
		}
		cluster = m.nextCluster(cluster)
	}
	newCluster := m.allocateCluster(last)
	if newCluster == 0 {
		return dirent{}, kcerr.ENOSPC
	}
	buf := make([]byte, m.bytesPerCluster)
	d.dirCluster = newCluster
	d.entryIndex = 0
	copy(buf[0:dirEntrySize], encodeDirent(d))
	if err := m.writeCluster(newCluster, buf); err != 0 {
		return dirent{}, err
	}
	return d, 0
}

// removeDirEntry marks d's on-disk slot erased (0xE5).
func (m *Mount) removeDirEntry(d dirent) kcerr.Err_t {
	buf, err := m.readCluster(d.dirCluster)
	if err != 0 {
		return err
	}
	off := d.entryIndex * dirEntrySize
	buf[off] = 0xE5
	return m.writeCluster(d.dirCluster, buf)
}

// updateDirent patches the size (and, when allocating the first
// cluster of a previously-empty file, the cluster number) of an
// existing on-disk entry.
func (m *Mount) updateDirent(d dirent) kcerr.Err_t {
	buf, err := m.readCluster(d.dirCluster)
	if err != 0 {
		return err
	}
	off := d.entryIndex * dirEntrySize
	copy(buf[off:off+dirEntrySize], encodeDirent(d))
	return m.writeCluster(d.dirCluster, buf)
}
