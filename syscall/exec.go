package syscall

import (
	"kernelcore/elf"
	"kernelcore/kcerr"
	"kernelcore/mem"
	"kernelcore/task"
	"kernelcore/vfs"
	"kernelcore/vm"
)

// execIOLimit bounds how large an ELF image exec will read into the
// kernel heap before giving up.
const execIOLimit = 16 << 20

// sysExec implements syscall 6 and spec.md §4.11's exec description:
// read the named file fully into a kernel buffer, validate and load it
// into a brand new address space, then — only once loading has fully
// succeeded — swap the task over to it and destroy the old one. Any
// failure up to that swap leaves the old address space untouched, per
// spec.md §7's propagation policy.
func sysExec(t *task.Task_t, pathVA uintptr) int64 {
	path, err := copyInPath(t, pathVA)
	if err != 0 {
		return int64(err)
	}

	fd, err := rootFS.Open(t.FDs, path, vfs.O_RDONLY)
	if err != 0 {
		return int64(err)
	}
	size, err := t.FDs.Seek(fd, 0, vfs.SeekEnd)
	if err != 0 {
		t.FDs.Close(fd)
		return int64(err)
	}
	if size <= 0 || size > execIOLimit {
		t.FDs.Close(fd)
		return int64(kcerr.EINVAL)
	}
	if _, err := t.FDs.Seek(fd, 0, vfs.SeekSet); err != 0 {
		t.FDs.Close(fd)
		return int64(err)
	}

	img := make([]byte, size)
	got, err := t.FDs.Read(fd, img)
	t.FDs.Close(fd)
	if err != 0 {
		return int64(err)
	}
	if int64(got) != size {
		return int64(kcerr.EINVAL)
	}

	newAS, verr := vm.NewUserTable()
	if verr != 0 {
		return int64(verr)
	}
	loaded, verr := elf.Load(newAS, img)
	if verr != 0 {
		newAS.LockPmap()
		newAS.Destroy()
		newAS.UnlockPmap()
		return int64(verr)
	}

	stackVA := mem.PageAlign(loaded.BreakVA) + mem.PGSIZE
	stackPA, ok := mem.Physmem.RequestPage()
	if !ok {
		newAS.LockPmap()
		newAS.Destroy()
		newAS.UnlockPmap()
		return int64(kcerr.ENOMEM)
	}
	if verr := vm.Map(newAS.Root, stackVA, stackPA, mem.PTE_P|mem.PTE_W|mem.PTE_U|mem.PTE_NX); verr != 0 {
		newAS.LockPmap()
		newAS.Destroy()
		newAS.UnlockPmap()
		return int64(verr)
	}

	oldAS := t.AS
	t.AS = newAS
	t.Entry = loaded.Entry
	t.UserStackVA = stackVA
	t.UserStackPA = stackPA
	t.UserSP = (stackVA + mem.PGSIZE) &^ 0xf

	*t.Frame() = task.Frame_t{RIP: uint64(loaded.Entry), UserSP: uint64(t.UserSP)}

	oldAS.LockPmap()
	oldAS.Destroy()
	oldAS.UnlockPmap()
	return 0
}
