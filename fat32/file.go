package fat32

import "kernelcore/kcerr"

// readFile follows the cluster chain starting at firstCluster,
// streaming each cluster through a heap buffer into dst starting at
// byte offset off, stopping at fileSize or len(dst) (spec.md §4.5).
func (m *Mount) readFile(firstCluster uint32, fileSize int64, dst []byte, off int64) (int, kcerr.Err_t) {
	if off >= fileSize || firstCluster < 2 {
		return 0, 0
	}
	remaining := fileSize - off
	if int64(len(dst)) > remaining {
		dst = dst[:remaining]
	}

	cluster := firstCluster
	pos := int64(0)
	copied := 0
	for cluster < eocMin && len(dst) > 0 {
		buf, err := m.readCluster(cluster)
		if err != 0 {
			return copied, err
		}
		clusterEnd := pos + int64(len(buf))
		if off < clusterEnd {
			start := off - pos
			if start < 0 {
				start = 0
			}
			n := copy(dst, buf[start:])
			dst = dst[n:]
			copied += n
			off += int64(n)
		}
		pos = clusterEnd
		cluster = m.nextCluster(cluster)
	}
	return copied, 0
}

// writeFile writes src at byte offset off into the chain rooted at
// firstCluster (0 if the file has no cluster yet), allocating a first
// cluster or appending new ones on overflow, filling whole clusters
// and zero-padding within a cluster past the written tail. It returns
// the (possibly newly allocated) first cluster.
func (m *Mount) writeFile(firstCluster uint32, src []byte, off int64) (uint32, int, kcerr.Err_t) {
	fresh := false // cluster was allocated by this call: start it zeroed
	if firstCluster < 2 {
		nc := m.allocateCluster(0)
		if nc == 0 {
			return 0, 0, kcerr.ENOSPC
		}
		firstCluster = nc
		fresh = true
	}

	cluster := firstCluster
	pos := int64(0)
	written := 0
	prev := uint32(0)
	for len(src) > 0 {
		if cluster >= eocMin {
			nc := m.allocateCluster(prev)
			if nc == 0 {
				return firstCluster, written, kcerr.ENOSPC
			}
			cluster = nc
			fresh = true
		}
		clusterEnd := pos + int64(m.bytesPerCluster)
		if off < clusterEnd || fresh {
			buf := make([]byte, m.bytesPerCluster)
			if !fresh {
				var err kcerr.Err_t
				if buf, err = m.readCluster(cluster); err != 0 {
					return firstCluster, written, err
				}
			}
			n := 0
			if off < clusterEnd {
				start := off - pos
				if start < 0 {
					start = 0
				}
				n = copy(buf[start:], src)
			}
			if err := m.writeCluster(cluster, buf); err != 0 {
				return firstCluster, written, err
			}
			src = src[n:]
			off += int64(n)
			written += n
		}
		pos = clusterEnd
		prev = cluster
		cluster = m.nextCluster(cluster)
		fresh = false
	}
	return firstCluster, written, 0
}
