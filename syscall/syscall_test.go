package syscall

import (
	"bytes"
	dbgelf "debug/elf"
	"encoding/binary"
	"testing"
	"unsafe"

	"kernelcore/boot"
	"kernelcore/kcerr"
	"kernelcore/mem"
	"kernelcore/task"
	"kernelcore/vfs"
	"kernelcore/vm"
)

func setup(t *testing.T, nframes int) *vm.AddrSpace_t {
	t.Helper()
	mem.Physmem = &mem.Physmem_t{}
	arena := make([]byte, (nframes+1)*mem.PGSIZE)
	base := (uintptr(unsafe.Pointer(&arena[0])) + mem.PGSIZE - 1) &^ (mem.PGSIZE - 1)
	bi := &boot.Info{
		HHDMOffset: 0,
		MemMap: []boot.MemRegion{
			{Base: base, Length: uintptr(nframes * mem.PGSIZE), Kind: boot.MemUsable},
		},
	}
	if err := mem.Physmem.Init(bi); err != nil {
		t.Fatalf("mem init: %v", err)
	}
	if _, err := vm.NewKernelMaster(0, 0); err != 0 {
		t.Fatalf("kernel master: %v", err)
	}
	as, err := vm.NewUserTable()
	if err != 0 {
		t.Fatalf("user table: %v", err)
	}
	return as
}

// mkTask builds a user task with one mapped, zeroed scratch page at
// userVA for argument marshalling tests, and binds a fresh in-memory
// root filesystem via Init.
func mkTask(t *testing.T) (*task.Task_t, uintptr) {
	return mkTaskWithFrames(t, 64)
}

func mkTaskWithFrames(t *testing.T, nframes int) (*task.Task_t, uintptr) {
	t.Helper()
	as := setup(t, nframes)
	const userVA = 0x20000
	pa, ok := mem.Physmem.RequestPage()
	if !ok {
		t.Fatal("request page")
	}
	if err := vm.Map(as.Root, userVA, pa, mem.PTE_P|mem.PTE_W|mem.PTE_U|mem.PTE_NX); err != 0 {
		t.Fatalf("map: %v", err)
	}
	tk := task.NewUserTask(0, as, 0, userVA+mem.PGSIZE-8, userVA, pa)
	Init(vfs.NewRoot(nil))
	return tk, userVA
}

func putString(t *testing.T, tk *task.Task_t, va uintptr, s string) {
	t.Helper()
	if err := vm.CopyOut(tk.AS, va, append([]byte(s), 0)); err != 0 {
		t.Fatalf("copy out path: %v", err)
	}
}

func TestSysGetpidReturnsCallerPid(t *testing.T) {
	tk, _ := mkTask(t)
	if got := Dispatch(tk, SysGetpid, 0, 0, 0); got != int64(tk.Pid) {
		t.Fatalf("getpid = %d, want %d", got, tk.Pid)
	}
}

func TestSysOpenWriteReadRoundTrip(t *testing.T) {
	tk, scratch := mkTask(t)
	pathVA := scratch
	dataVA := scratch + 64

	putString(t, tk, pathVA, "/hello.txt")
	fd := Dispatch(tk, SysOpen, pathVA, uintptr(vfs.O_RDWR|vfs.O_CREAT), 0)
	if fd < 0 {
		t.Fatalf("open = %d", fd)
	}

	msg := []byte("hi there")
	if err := vm.CopyOut(tk.AS, dataVA, msg); err != 0 {
		t.Fatalf("copy out data: %v", err)
	}
	n := Dispatch(tk, SysWrite, uintptr(fd), dataVA, uintptr(len(msg)))
	if n != int64(len(msg)) {
		t.Fatalf("write = %d, want %d", n, len(msg))
	}

	if off := Dispatch(tk, SysSeek, uintptr(fd), 0, uintptr(vfs.SeekSet)); off != 0 {
		t.Fatalf("seek = %d, want 0", off)
	}

	readVA := scratch + 256
	got := Dispatch(tk, SysRead, uintptr(fd), readVA, uintptr(len(msg)))
	if got != int64(len(msg)) {
		t.Fatalf("read = %d, want %d", got, len(msg))
	}
	buf := make([]byte, len(msg))
	if err := vm.CopyIn(tk.AS, readVA, buf); err != 0 {
		t.Fatalf("copy in: %v", err)
	}
	if !bytes.Equal(buf, msg) {
		t.Fatalf("read back %q, want %q", buf, msg)
	}

	if errv := Dispatch(tk, SysClose, uintptr(fd), 0, 0); errv != 0 {
		t.Fatalf("close = %d", errv)
	}
}

func TestSysMkdirAndReaddir(t *testing.T) {
	tk, scratch := mkTask(t)
	putString(t, tk, scratch, "/sub")
	if errv := Dispatch(tk, SysMkdir, scratch, 0, 0); errv != 0 {
		t.Fatalf("mkdir = %d", errv)
	}

	putString(t, tk, scratch, "/")
	fd := Dispatch(tk, SysOpen, scratch, uintptr(vfs.O_RDONLY), 0)
	if fd < 0 {
		t.Fatalf("open / = %d", fd)
	}

	nameVA := scratch + 64
	got := Dispatch(tk, SysReaddir, uintptr(fd), nameVA, 64)
	if got != 1 {
		t.Fatalf("readdir = %d, want 1", got)
	}
	name, errv := vm.CopyInString(tk.AS, nameVA, 64)
	if errv != 0 {
		t.Fatalf("copy in name: %v", errv)
	}
	if name != "sub" {
		t.Fatalf("readdir name = %q, want sub", name)
	}

	if got := Dispatch(tk, SysReaddir, uintptr(fd), nameVA, 64); got != 0 {
		t.Fatalf("second readdir = %d, want 0 (end of directory)", got)
	}
}

func TestSysUnlinkRemovesFile(t *testing.T) {
	tk, scratch := mkTask(t)
	putString(t, tk, scratch, "/doomed")
	if fd := Dispatch(tk, SysOpen, scratch, uintptr(vfs.O_CREAT|vfs.O_WRONLY), 0); fd < 0 {
		t.Fatalf("open = %d", fd)
	}

	if errv := Dispatch(tk, SysUnlink, scratch, 0, 0); errv != 0 {
		t.Fatalf("unlink = %d", errv)
	}
	if _, err := rootFS.Lookup("/doomed"); err != kcerr.ENOENT {
		t.Fatalf("lookup after unlink = %v, want ENOENT", err)
	}
}

func TestSysForkReturnsChildPidAndSysWaitpidReapsIt(t *testing.T) {
	tk, _ := mkTask(t)
	childPid := Dispatch(tk, SysFork, 0, 0, 0)
	if childPid <= int64(tk.Pid) {
		t.Fatalf("fork returned %d, want a pid greater than the parent's %d", childPid, tk.Pid)
	}
	child, ok := task.Lookup(kcerr.Pid_t(childPid))
	if !ok {
		t.Fatal("forked child not registered")
	}

	task.Exit(child, 3)
	code := Dispatch(tk, SysWaitpid, uintptr(childPid), 0, 0)
	if code != 3 {
		t.Fatalf("waitpid returned %d, want 3", code)
	}
}

func TestSysExitMarksTaskTerminated(t *testing.T) {
	tk, _ := mkTask(t)
	if got := Dispatch(tk, SysExit, 9, 0, 0); got != 0 {
		t.Fatalf("exit returned %d, want 0", got)
	}
	if tk.State != task.Terminated || tk.ExitCode != 9 {
		t.Fatalf("state=%v code=%d, want Terminated/9", tk.State, tk.ExitCode)
	}
}

func TestDispatchUnknownNumberReturnsENOSYS(t *testing.T) {
	tk, _ := mkTask(t)
	if got := Dispatch(tk, 999, 0, 0, 0); got != int64(kcerr.ENOSYS) {
		t.Fatalf("got %d, want ENOSYS", got)
	}
}

// buildTinyELF mirrors elf package's test helper: a minimal valid
// little-endian x86-64 ET_EXEC with a single PT_LOAD segment.
func buildTinyELF(t *testing.T, entry, vaddr uint64, fileBytes []byte, memSize uint64) []byte {
	t.Helper()
	const ehdrSize = 64
	const phdrSize = 56
	phoff := uint64(ehdrSize)
	dataOff := phoff + phdrSize

	var buf bytes.Buffer
	ident := [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(dbgelf.ET_EXEC))
	binary.Write(&buf, binary.LittleEndian, uint16(dbgelf.EM_X86_64))
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, entry)
	binary.Write(&buf, binary.LittleEndian, phoff)
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint16(ehdrSize))
	binary.Write(&buf, binary.LittleEndian, uint16(phdrSize))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	if buf.Len() != ehdrSize {
		t.Fatalf("ehdr size mismatch: %d", buf.Len())
	}

	binary.Write(&buf, binary.LittleEndian, uint32(dbgelf.PT_LOAD))
	binary.Write(&buf, binary.LittleEndian, uint32(dbgelf.PF_R|dbgelf.PF_X))
	binary.Write(&buf, binary.LittleEndian, dataOff)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, uint64(len(fileBytes)))
	binary.Write(&buf, binary.LittleEndian, memSize)
	binary.Write(&buf, binary.LittleEndian, uint64(0x1000))
	if buf.Len() != int(dataOff) {
		t.Fatalf("phdr size mismatch: %d", buf.Len())
	}
	buf.Write(fileBytes)
	return buf.Bytes()
}

func TestSysExecSwapsAddressSpaceAndEntry(t *testing.T) {
	tk, scratch := mkTaskWithFrames(t, 256)
	oldAS := tk.AS

	const newEntry = 0x500000
	img := buildTinyELF(t, newEntry, newEntry, []byte{0x90, 0x90}, mem.PGSIZE)

	putString(t, tk, scratch, "/prog")
	fd := Dispatch(tk, SysOpen, scratch, uintptr(vfs.O_CREAT|vfs.O_WRONLY), 0)
	if fd < 0 {
		t.Fatalf("open = %d", fd)
	}
	imgVA := scratch + 256
	if err := vm.CopyOut(tk.AS, imgVA, img); err != 0 {
		t.Fatalf("copy out image: %v", err)
	}
	if n := Dispatch(tk, SysWrite, uintptr(fd), imgVA, uintptr(len(img))); n != int64(len(img)) {
		t.Fatalf("write image = %d, want %d", n, len(img))
	}
	if errv := Dispatch(tk, SysClose, uintptr(fd), 0, 0); errv != 0 {
		t.Fatalf("close = %d", errv)
	}

	putString(t, tk, scratch, "/prog")
	if errv := Dispatch(tk, SysExec, scratch, 0, 0); errv != 0 {
		t.Fatalf("exec = %d", errv)
	}

	if tk.AS == oldAS {
		t.Fatal("exec must replace the task's address space")
	}
	if tk.Entry != newEntry {
		t.Fatalf("entry = %#x, want %#x", tk.Entry, newEntry)
	}
	if tk.Frame().RIP != newEntry {
		t.Fatalf("frame RIP = %#x, want %#x", tk.Frame().RIP, newEntry)
	}
	pa, ok := vm.Resolve(tk.AS.Root, newEntry)
	if !ok {
		t.Fatal("new entry page not mapped in the new address space")
	}
	pg := mem.Pg2Bytes(mem.Physmem.Dmap(pa))
	if pg[0] != 0x90 {
		t.Fatalf("loaded byte = %#x, want 0x90", pg[0])
	}
}
