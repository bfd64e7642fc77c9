// Package syscall implements the dispatch table of spec.md §4.11: a
// fixed (number, arg1, arg2, arg3) calling convention, argument
// marshalling through vm's bounds-checked copy-in/copy-out, and the
// fifteen syscalls the table names. The ABI note in spec.md §5 ("no
// errno; negative returns signal errors") is implemented the same way
// kcerr.Err_t already is: every handler below returns an int64 that is
// either a non-negative result or a negative kcerr code.
package syscall

import (
	"kernelcore/kcerr"
	"kernelcore/sched"
	"kernelcore/task"
	"kernelcore/vfs"
	"kernelcore/vm"
)

// Syscall numbers, exactly as tabulated in spec.md §4.11. Numbers 9 and
// 15 are intentionally absent, matching the table's gaps.
const (
	SysExit    = 0
	SysWrite   = 1
	SysRead    = 2
	SysYield   = 3
	SysSleep   = 4
	SysGetpid  = 5
	SysExec    = 6
	SysFork    = 7
	SysWaitpid = 8
	SysOpen    = 10
	SysClose   = 11
	SysSeek    = 12
	SysMkdir   = 13
	SysReaddir = 14
	SysUnlink  = 16
)

// rootFS is the single mounted tree every task's path-taking syscalls
// resolve against; there is no chroot or per-task mount namespace in
// this kernel. Init binds it once at boot.
var rootFS *vfs.Fs_t

// Init binds the filesystem syscalls resolve paths against. Called
// once by cmd/kernel after mounting the root FAT32 (or RAM) tree.
func Init(fs *vfs.Fs_t) {
	rootFS = fs
}

// maxIOChunk bounds a single read/write/string copy so a hostile or
// buggy user length can't make the kernel allocate unbounded memory on
// its behalf.
const maxIOChunk = 1 << 20

// Dispatch is entryTarget's decision logic, exercised directly by
// tests: the entry stub is expected to have already placed (number,
// arg1, arg2, arg3) at t.Frame()'s RAX/RDI/RSI/RDX the way the
// platform's fast-call convention delivers them, and to store
// Dispatch's return value back into RAX before restoring to user mode
// (spec.md §4.11 steps 2-4).
func Dispatch(t *task.Task_t, no uint64, a1, a2, a3 uintptr) int64 {
	switch no {
	case SysExit:
		return sysExit(t, int(int64(a1)))
	case SysWrite:
		return sysWrite(t, int(int64(a1)), a2, int(a3))
	case SysRead:
		return sysRead(t, int(int64(a1)), a2, int(a3))
	case SysYield:
		return sysYield()
	case SysSleep:
		return sysSleep(t, uint64(a1))
	case SysGetpid:
		return sysGetpid(t)
	case SysExec:
		return sysExec(t, a1)
	case SysFork:
		return sysFork(t)
	case SysWaitpid:
		return sysWaitpid(t, kcerr.Pid_t(int64(a1)))
	case SysOpen:
		return sysOpen(t, a1, int(a2))
	case SysClose:
		return sysClose(t, int(int64(a1)))
	case SysSeek:
		return sysSeek(t, int(int64(a1)), int64(a2), int(a3))
	case SysMkdir:
		return sysMkdir(t, a1)
	case SysReaddir:
		return sysReaddir(t, int(int64(a1)), a2, int(a3))
	case SysUnlink:
		return sysUnlink(t, a1, a2 != 0)
	default:
		return int64(kcerr.ENOSYS)
	}
}

// sysExit implements syscall 0: terminates t and wakes any parent
// blocked in waitpid on it. entryTarget sees the Terminated state once
// Dispatch returns and calls sched.Schedule instead of returning to the
// entry stub, so the caller's program is never resumed.
func sysExit(t *task.Task_t, code int) int64 {
	task.Exit(t, code)
	return 0
}

// sysWrite implements syscall 1: copies len bytes in from the user
// buffer and writes them to fd (stdout/stderr are ordinary descriptors
// here, installed against a console-backed node by cmd/kernel, so no
// special-casing is needed in this package).
func sysWrite(t *task.Task_t, fd int, bufVA uintptr, n int) int64 {
	if n < 0 || n > maxIOChunk {
		return int64(kcerr.EINVAL)
	}
	buf := make([]byte, n)
	if err := vm.CopyIn(t.AS, bufVA, buf); err != 0 {
		return int64(err)
	}
	written, err := t.FDs.Write(fd, buf)
	if err != 0 {
		return int64(err)
	}
	return int64(written)
}

// sysRead implements syscall 2: reads up to len bytes from fd into a
// kernel buffer, then copies whatever was actually read out to the
// user buffer (stdin blocking on the keyboard is the console node's
// concern, not this package's).
func sysRead(t *task.Task_t, fd int, bufVA uintptr, n int) int64 {
	if n < 0 || n > maxIOChunk {
		return int64(kcerr.EINVAL)
	}
	buf := make([]byte, n)
	got, err := t.FDs.Read(fd, buf)
	if err != 0 {
		return int64(err)
	}
	if err := vm.CopyOut(t.AS, bufVA, buf[:got]); err != 0 {
		return int64(err)
	}
	return int64(got)
}

// sysYield implements syscall 3.
func sysYield() int64 {
	sched.Yield()
	return 0
}

// sysSleep implements syscall 4.
func sysSleep(t *task.Task_t, ms uint64) int64 {
	sched.Sleep(t, ms)
	return 0
}

// sysGetpid implements syscall 5.
func sysGetpid(t *task.Task_t) int64 {
	return int64(t.Pid)
}

// sysFork implements syscall 7: returns the child's pid to the parent,
// matching spec.md §4.9's contract (the child itself observes 0
// because Fork zeroes its saved Frame_t.RAX before the child is ever
// switched to).
func sysFork(t *task.Task_t) int64 {
	child, err := task.Fork(t)
	if err != 0 {
		return int64(err)
	}
	return int64(child.Pid)
}

// sysWaitpid implements syscall 8.
func sysWaitpid(t *task.Task_t, pid kcerr.Pid_t) int64 {
	_, code, err := task.Waitpid(t, pid)
	if err != 0 {
		return int64(err)
	}
	return int64(code)
}

const maxPath = 1024

func copyInPath(t *task.Task_t, pathVA uintptr) (string, kcerr.Err_t) {
	return vm.CopyInString(t.AS, pathVA, maxPath)
}

// sysOpen implements syscall 10.
func sysOpen(t *task.Task_t, pathVA uintptr, flags int) int64 {
	path, err := copyInPath(t, pathVA)
	if err != 0 {
		return int64(err)
	}
	fd, err := rootFS.Open(t.FDs, path, flags)
	if err != 0 {
		return int64(err)
	}
	return int64(fd)
}

// sysClose implements syscall 11.
func sysClose(t *task.Task_t, fd int) int64 {
	if err := t.FDs.Close(fd); err != 0 {
		return int64(err)
	}
	return 0
}

// sysSeek implements syscall 12.
func sysSeek(t *task.Task_t, fd int, off int64, whence int) int64 {
	newOff, err := t.FDs.Seek(fd, off, whence)
	if err != 0 {
		return int64(err)
	}
	return newOff
}

// sysMkdir implements syscall 13.
func sysMkdir(t *task.Task_t, pathVA uintptr) int64 {
	path, err := copyInPath(t, pathVA)
	if err != 0 {
		return int64(err)
	}
	if _, err := rootFS.Create(path, true); err != 0 {
		return int64(err)
	}
	return 0
}

// sysReaddir implements syscall 14: writes the next child's name,
// NUL-terminated, into the user buffer, truncating (and still
// NUL-terminating) if it doesn't fit in size bytes. Returns 1 when a
// name was produced, 0 at end of directory.
func sysReaddir(t *task.Task_t, fd int, bufVA uintptr, size int) int64 {
	if size <= 0 {
		return int64(kcerr.EINVAL)
	}
	name, ok, err := t.FDs.Readdir(fd)
	if err != 0 {
		return int64(err)
	}
	if !ok {
		return 0
	}
	out := make([]byte, size)
	n := copy(out, name)
	if n == size {
		n--
	}
	out[n] = 0
	if err := vm.CopyOut(t.AS, bufVA, out[:n+1]); err != 0 {
		return int64(err)
	}
	return 1
}

// sysUnlink implements syscall 16.
func sysUnlink(t *task.Task_t, pathVA uintptr, recursive bool) int64 {
	path, err := copyInPath(t, pathVA)
	if err != 0 {
		return int64(err)
	}
	if err := rootFS.Unlink(path, recursive); err != 0 {
		return int64(err)
	}
	return 0
}

// entryTarget is SyscallEntry's forward-referenced Go-level target
// (arch/amd64/amd64_amd64.s: "CALL kernelcore/syscall·entryTarget(SB)").
// Like task.trampolineTarget, it needs no linkname pragma: an
// unexported function is still a valid cross-package assembly CALL
// target, since Go's capitalization-based visibility rule is enforced
// by the compiler, not the linker.
func entryTarget() {
	t := task.Current()
	if t == nil {
		return
	}
	f := t.Frame()
	f.RAX = uint64(Dispatch(t, f.RAX, uintptr(f.RDI), uintptr(f.RSI), uintptr(f.RDX)))
	if t.State == task.Terminated {
		sched.Schedule()
	}
}
