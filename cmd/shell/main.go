// Command shell is the userland test harness spec.md §6 calls for: a
// small line-oriented command interpreter exercising the syscall
// dispatch table directly. The kernel's ABI takes its arguments as
// virtual addresses inside the calling task's own address space, the
// same way a real compiled userland binary would pass them — so this
// harness builds one real user address space and a handful of scratch
// pages, copies each command's string arguments into it before every
// syscall.Dispatch call, and copies results back out the same way a
// libc wrapper does on the other side of a real syscall instruction.
//
// There is no chdir syscall in the dispatch table (spec.md §4.11), so
// "cd" and "pwd" are purely a client-side convention: this process
// remembers its own working directory and resolves relative paths
// against it before ever calling into the kernel, the way an
// interactive shell already did before getcwd(2) existed.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"unsafe"

	"kernelcore/blockdev"
	"kernelcore/boot"
	"kernelcore/console"
	"kernelcore/fat32"
	"kernelcore/kcerr"
	"kernelcore/mem"
	"kernelcore/syscall"
	"kernelcore/task"
	"kernelcore/vfs"
	"kernelcore/vm"
)

const (
	scratchA = 0x700000 // path / argument staging
	scratchB = 0x701000 // second argument (write's text)
	ioPage   = 0x702000 // syscall result staging (readdir names, read data)
)

// shell bundles everything a running command needs: the task whose
// address space and descriptor table every syscall acts through, and
// the client-side working directory convention described above.
type shell struct {
	t   *task.Task_t
	cwd string
}

func main() {
	image := ""
	if len(os.Args) > 1 {
		image = os.Args[1]
	}

	sh, err := newShell(image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shell: %v\n", err)
		os.Exit(1)
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("$ ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			if !sh.run(line) {
				return
			}
		}
		fmt.Print("$ ")
	}
}

// newShell wires up a minimal kernel memory/VM stack, a FAT32-backed
// or in-memory root filesystem, and a single user task to run commands
// against — everything cmd/kernel's real boot path also does, minus
// the hardware-facing pieces (IDT, GDT, PIC) a host process has no use
// for.
func newShell(image string) (*shell, error) {
	const arenaFrames = 4096
	arena := make([]byte, (arenaFrames+1)*mem.PGSIZE)
	base := (uintptr(unsafe.Pointer(&arena[0])) + mem.PGSIZE - 1) &^ (mem.PGSIZE - 1)
	mem.Physmem = &mem.Physmem_t{}
	bi := &boot.Info{
		MemMap: []boot.MemRegion{
			{Base: base, Length: uintptr(arenaFrames * mem.PGSIZE), Kind: boot.MemUsable},
		},
	}
	if err := mem.Physmem.Init(bi); err != nil {
		return nil, fmt.Errorf("memory init: %v", err)
	}
	if _, verr := vm.NewKernelMaster(0, 0); verr != 0 {
		return nil, fmt.Errorf("kernel master: %v", verr)
	}

	as, verr := vm.NewUserTable()
	if verr != 0 {
		return nil, fmt.Errorf("user table: %v", verr)
	}
	for _, va := range []uintptr{scratchA, scratchB, ioPage} {
		pa, ok := mem.Physmem.RequestPage()
		if !ok {
			return nil, fmt.Errorf("out of memory mapping scratch page %#x", va)
		}
		if verr := vm.Map(as.Root, va, pa, mem.PTE_P|mem.PTE_U|mem.PTE_W|mem.PTE_NX); verr != 0 {
			return nil, fmt.Errorf("map scratch page %#x: %v", va, verr)
		}
	}

	fs, err := openRoot(image)
	if err != nil {
		return nil, err
	}
	syscall.Init(fs)

	t := task.NewUserTask(0, as, 0, 0, 0, 0)
	console.InstallStdio(t.FDs)

	return &shell{t: t, cwd: "/"}, nil
}

// partitionAwareRoot prefers the first partition a disk's MBR/GPT
// names over the raw disk, the way spec.md's data-flow narrative
// describes FAT32 mounting onto whatever the partition stack
// publishes; an unpartitioned (or unreadable) disk mounts as-is.
func partitionAwareRoot(bd *blockdev.BlockDev_t) *blockdev.BlockDev_t {
	tbl, verr := blockdev.ParseTable(bd)
	if verr != 0 || len(tbl.Partitions) == 0 {
		return bd
	}
	return blockdev.New(blockdev.NewPartitionDevice(bd, tbl.Partitions[0]))
}

func openRoot(image string) (*vfs.Fs_t, error) {
	if image == "" {
		return vfs.NewRoot(nil), nil
	}
	info, err := os.Stat(image)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %v", image, err)
	}
	disk, err := blockdev.OpenFileDisk(image, uint64(info.Size())/blockdev.SectorSize)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v", image, err)
	}
	bd := blockdev.New(disk)
	bd = partitionAwareRoot(bd)
	m, verr := fat32.Mount_(bd)
	if verr != 0 {
		return nil, fmt.Errorf("mount %s: %v", image, verr)
	}
	root, verr := m.MountVFS()
	if verr != 0 {
		return nil, fmt.Errorf("mount vfs: %v", verr)
	}
	return &vfs.Fs_t{Root: root}, nil
}

// run executes one command line, returning false when the shell
// should exit.
func (sh *shell) run(line string) bool {
	args := strings.Fields(line)
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "help":
		fmt.Println("help pid echo exit exec ls cd pwd mkdir touch cat write rm rmdir")
	case "pid":
		fmt.Println(sh.dispatch(syscall.SysGetpid, 0, 0, 0))
	case "echo":
		fmt.Println(strings.Join(rest, " "))
	case "exit":
		code := 0
		if len(rest) > 0 {
			code, _ = strconv.Atoi(rest[0])
		}
		sh.dispatch(syscall.SysExit, uintptr(int64(code)), 0, 0)
		return false
	case "exec":
		sh.cmdExec(rest)
	case "ls":
		sh.cmdLs(rest)
	case "cd":
		sh.cmdCd(rest)
	case "pwd":
		fmt.Println(sh.cwd)
	case "mkdir":
		sh.cmdMkdir(rest)
	case "touch":
		sh.cmdTouch(rest)
	case "cat":
		sh.cmdCat(rest)
	case "write":
		sh.cmdWrite(rest)
	case "rm":
		sh.cmdUnlink(rest, false)
	case "rmdir":
		sh.cmdUnlink(rest, true)
	default:
		fmt.Printf("unknown command %q\n", cmd)
	}
	return true
}

// dispatch is a thin rename of syscall.Dispatch bound to this shell's
// task, for readability at every call site below.
func (sh *shell) dispatch(no uint64, a1, a2, a3 uintptr) int64 {
	return syscall.Dispatch(sh.t, no, a1, a2, a3)
}

// resolve joins a possibly-relative argument against the shell's
// working directory, the client-side stand-in for a missing chdir
// syscall described in this file's package doc.
func (sh *shell) resolve(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Clean(path.Join(sh.cwd, p))
}

func (sh *shell) putPath(p string) kcerr.Err_t {
	return vm.CopyOut(sh.t.AS, scratchA, append([]byte(p), 0))
}

func reportErr(label string, code int64) {
	if code < 0 {
		fmt.Printf("%s: %v\n", label, kcerr.Err_t(-code))
	}
}

func (sh *shell) cmdExec(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: exec <path>")
		return
	}
	if err := sh.putPath(sh.resolve(args[0])); err != 0 {
		fmt.Printf("exec: %v\n", err)
		return
	}
	code := sh.dispatch(syscall.SysExec, scratchA, 0, 0)
	if code < 0 {
		reportErr("exec", code)
		return
	}
	fmt.Println("exec: new image loaded")
}

func (sh *shell) cmdLs(args []string) {
	target := sh.cwd
	if len(args) > 0 {
		target = sh.resolve(args[0])
	}
	if err := sh.putPath(target); err != 0 {
		fmt.Printf("ls: %v\n", err)
		return
	}
	fd := sh.dispatch(syscall.SysOpen, scratchA, uintptr(vfs.O_RDONLY), 0)
	if fd < 0 {
		reportErr("ls", fd)
		return
	}
	for {
		code := sh.dispatch(syscall.SysReaddir, uintptr(fd), ioPage, mem.PGSIZE)
		if code < 0 {
			reportErr("ls", code)
			break
		}
		if code == 0 {
			break
		}
		name, err := vm.CopyInString(sh.t.AS, ioPage, mem.PGSIZE)
		if err != 0 {
			fmt.Printf("ls: %v\n", err)
			break
		}
		fmt.Println(name)
	}
	sh.dispatch(syscall.SysClose, uintptr(fd), 0, 0)
}

func (sh *shell) cmdCd(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: cd <path>")
		return
	}
	target := sh.resolve(args[0])
	if err := sh.putPath(target); err != 0 {
		fmt.Printf("cd: %v\n", err)
		return
	}
	fd := sh.dispatch(syscall.SysOpen, scratchA, uintptr(vfs.O_RDONLY), 0)
	if fd < 0 {
		reportErr("cd", fd)
		return
	}
	sh.dispatch(syscall.SysClose, uintptr(fd), 0, 0)
	sh.cwd = target
}

func (sh *shell) cmdMkdir(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: mkdir <path>")
		return
	}
	if err := sh.putPath(sh.resolve(args[0])); err != 0 {
		fmt.Printf("mkdir: %v\n", err)
		return
	}
	code := sh.dispatch(syscall.SysMkdir, scratchA, 0, 0)
	reportErr("mkdir", code)
}

func (sh *shell) cmdTouch(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: touch <path>")
		return
	}
	if err := sh.putPath(sh.resolve(args[0])); err != 0 {
		fmt.Printf("touch: %v\n", err)
		return
	}
	fd := sh.dispatch(syscall.SysOpen, scratchA, uintptr(vfs.O_CREAT|vfs.O_RDWR), 0)
	if fd < 0 {
		reportErr("touch", fd)
		return
	}
	sh.dispatch(syscall.SysClose, uintptr(fd), 0, 0)
}

func (sh *shell) cmdCat(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: cat <path>")
		return
	}
	if err := sh.putPath(sh.resolve(args[0])); err != 0 {
		fmt.Printf("cat: %v\n", err)
		return
	}
	fd := sh.dispatch(syscall.SysOpen, scratchA, uintptr(vfs.O_RDONLY), 0)
	if fd < 0 {
		reportErr("cat", fd)
		return
	}
	for {
		got := sh.dispatch(syscall.SysRead, uintptr(fd), ioPage, mem.PGSIZE)
		if got < 0 {
			reportErr("cat", got)
			break
		}
		if got == 0 {
			break
		}
		buf := make([]byte, got)
		if err := vm.CopyIn(sh.t.AS, ioPage, buf); err != 0 {
			fmt.Printf("cat: %v\n", err)
			break
		}
		os.Stdout.Write(buf)
	}
	sh.dispatch(syscall.SysClose, uintptr(fd), 0, 0)
}

func (sh *shell) cmdWrite(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: write <file> <text>")
		return
	}
	text := strings.Join(args[1:], " ")
	if err := sh.putPath(sh.resolve(args[0])); err != 0 {
		fmt.Printf("write: %v\n", err)
		return
	}
	fd := sh.dispatch(syscall.SysOpen, scratchA, uintptr(vfs.O_CREAT|vfs.O_WRONLY|vfs.O_APPEND), 0)
	if fd < 0 {
		reportErr("write", fd)
		return
	}
	if err := vm.CopyOut(sh.t.AS, scratchB, []byte(text)); err != 0 {
		fmt.Printf("write: %v\n", err)
		sh.dispatch(syscall.SysClose, uintptr(fd), 0, 0)
		return
	}
	code := sh.dispatch(syscall.SysWrite, uintptr(fd), scratchB, uintptr(len(text)))
	reportErr("write", code)
	sh.dispatch(syscall.SysClose, uintptr(fd), 0, 0)
}

func (sh *shell) cmdUnlink(args []string, recursive bool) {
	if len(args) != 1 {
		fmt.Println("usage: rm <path> (or rmdir <path>)")
		return
	}
	if err := sh.putPath(sh.resolve(args[0])); err != 0 {
		fmt.Printf("rm: %v\n", err)
		return
	}
	a2 := uintptr(0)
	if recursive {
		a2 = 1
	}
	code := sh.dispatch(syscall.SysUnlink, scratchA, a2, 0)
	reportErr("rm", code)
}
