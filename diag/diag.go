// Package diag gives the profiling device number the teacher's
// defs/device.go reserves (D_PROF) a live backend: a VFS node at
// /dev/prof that, on read, serves a pprof-format snapshot of every
// task's accumulated scheduler ticks as a profile.Profile sample.
package diag

import (
	"bytes"

	"github.com/google/pprof/profile"

	"kernelcore/kcerr"
	"kernelcore/sched"
	"kernelcore/vfs"
)

// sampleType labels the one value every sample carries: scheduler
// ticks, the only per-task cost this kernel tracks.
var sampleType = &profile.ValueType{Type: "ticks", Unit: "count"}

// Snapshot builds a profile.Profile from the scheduler's current task
// list: one sample per task, one synthetic location/function pair
// named after its pid, valued at its accumulated tick count.
func Snapshot() *profile.Profile {
	tasks := sched.Snapshot()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{sampleType},
		PeriodType: sampleType,
		Period:     1,
	}

	for i, t := range tasks {
		id := uint64(i + 1)
		fn := &profile.Function{
			ID:   id,
			Name: pidLabel(t.Pid),
		}
		loc := &profile.Location{
			ID:   id,
			Line: []profile.Line{{Function: fn, Line: 0}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(t.Cycles)},
			Label:    map[string][]string{"pid": {pidLabel(t.Pid)}},
		})
	}
	return p
}

func pidLabel(pid kcerr.Pid_t) string {
	return "pid " + itoa(int64(pid))
}

// itoa avoids pulling in strconv for a single call site the way the
// rest of this small package keeps its import list narrow.
func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// profOps backs the /dev/prof node: each read re-snapshots and
// serializes the current profile to the pprof gzip wire format,
// matching profile.Profile.Write's encoding, then serves it like any
// other readable byte stream honoring offset.
type profOps struct{}

func (profOps) Read(n *vfs.Node_t, dst []byte, offset int64) (int, kcerr.Err_t) {
	var buf bytes.Buffer
	if err := Snapshot().Write(&buf); err != nil {
		return 0, kcerr.EIO
	}
	data := buf.Bytes()
	if offset >= int64(len(data)) {
		return 0, 0
	}
	return copy(dst, data[offset:]), 0
}

func (profOps) Write(n *vfs.Node_t, src []byte, offset int64) (int, kcerr.Err_t) {
	return 0, kcerr.EINVAL
}

func (profOps) Create(parent *vfs.Node_t, name string, dir bool) (*vfs.Node_t, kcerr.Err_t) {
	return nil, kcerr.EINVAL
}

func (profOps) Unlink(parent *vfs.Node_t, name string) kcerr.Err_t {
	return kcerr.EINVAL
}

func (profOps) Truncate(n *vfs.Node_t, size int64) kcerr.Err_t {
	return kcerr.EINVAL
}

// Install mounts /dev/prof into fs, creating /dev first if it doesn't
// already exist. The node is created through the ordinary Create path
// so it's linked into the tree the same way every other node is, then
// its op-table is swapped to profOps so reads hit the live snapshot
// instead of the backend's plain storage.
func Install(fs *vfs.Fs_t) kcerr.Err_t {
	if _, err := fs.Lookup("/dev"); err == kcerr.ENOENT {
		if _, err := fs.Create("/dev", true); err != 0 {
			return err
		}
	}
	node, err := fs.Create("/dev/prof", false)
	if err != 0 {
		return err
	}
	node.Ops = profOps{}
	return 0
}
