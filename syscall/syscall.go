// Package syscall is the numeric-indexed syscall dispatcher: entry via
// vector 0x80, number in eax, arguments in edx/ecx/ebx/esi/edi, return
// value in eax sign-extended from the kernel's i32 errno convention. It
// is the glue that turns a bare trapframe.Frame into calls against the
// scheduler, the paging core, the ELF loader and the TAR archive --
// every other package in this repository is hardware-adjacent or purely
// algorithmic; this one is where they meet.
//
// Dispatch is a flat numeric switch over the syscall table rather than a
// registered-handler map: the number space is small, fixed, and known
// at compile time, so a switch is both the simplest and the fastest
// dispatch.
package syscall

import (
	"github.com/gerben-stavenga/RetroOS/console"
	"github.com/gerben-stavenga/RetroOS/cpu"
	"github.com/gerben-stavenga/RetroOS/defs"
	"github.com/gerben-stavenga/RetroOS/elf"
	"github.com/gerben-stavenga/RetroOS/fd"
	"github.com/gerben-stavenga/RetroOS/mem"
	"github.com/gerben-stavenga/RetroOS/paging"
	"github.com/gerben-stavenga/RetroOS/tar"
	"github.com/gerben-stavenga/RetroOS/thread"
	"github.com/gerben-stavenga/RetroOS/trapframe"
	"github.com/gerben-stavenga/RetroOS/ustr"
	"github.com/gerben-stavenga/RetroOS/vm"
)

// Syscall numbers.
const (
	SysExit   = 0
	SysYield  = 1
	SysFork   = 4
	SysExec   = 5
	SysOpen   = 6
	SysRead   = 8
	SysWrite  = 9
	SysGetpid = 10
)

// maxPathLen bounds how much of a user buffer open()/exec() will copy in
// for a path argument, so a hostile length argument cannot force an
// unbounded kernel allocation.
const maxPathLen = 256

// maxIOLen bounds a single read()/write() transfer for the same reason.
const maxIOLen = 1 << 20

// Table wires the dispatcher to the kernel singletons a syscall body
// needs: the scheduler (every number touches the current TCB), the
// physical-page allocator (fork/exec page allocation) and the init
// filesystem's flat TAR image (open/exec lookup).
type Table struct {
	Sched   *thread.Scheduler
	Alloc   *mem.Allocator
	Archive []byte
}

// Dispatch is installed as trap.Dispatcher.Syscall, reached from vector
// 0x80. It never itself performs an iret; SysExit and SysExec end by
// calling into the scheduler, whose exit_to_thread/exit_thread paths do
// not return to here.
func (t *Table) Dispatch(f *trapframe.Frame) {
	cur := t.Sched.CurrentTCB()
	switch f.SyscallNo() {
	case SysExit:
		t.Sched.ExitThread(int32(f.Arg(0)))
		return
	case SysYield:
		t.Sched.Yield(f)
		f.SetReturn(0)
	case SysFork:
		f.SetReturn(t.sysFork(cur, f))
	case SysExec:
		t.sysExec(cur, f) // does not return on success
	case SysOpen:
		f.SetReturn(t.sysOpen(cur, f))
	case SysRead:
		f.SetReturn(t.sysRead(cur, f))
	case SysWrite:
		f.SetReturn(t.sysWrite(cur, f))
	case SysGetpid:
		f.SetReturn(int32(cur.Pid))
	default:
		f.SetReturn(int32(defs.ENOSYS))
	}
}

// sysFork implements fork(): a copy-on-write address space is forked
// off the parent's, a child TCB is created as a process, the parent's
// trapframe (and FD table) are copied onto it, the child's own return
// value is pinned to 0, and the parent's return is the child's tid.
func (t *Table) sysFork(cur *thread.TCB, f *trapframe.Frame) int32 {
	childSpace, ok := paging.Fork(cur.Space)
	if !ok {
		return int32(defs.ENOMEM)
	}
	childTid := t.Sched.CreateThread(cur, childSpace.Root, childSpace, true)
	if childTid == -1 {
		return int32(defs.ENOMEM)
	}
	child := t.Sched.Get(childTid)
	child.CPUState = *f
	child.CPUState.SetReturn(0)
	child.Fds.CopyFrom(&cur.Fds)
	return int32(childTid)
}

// sysExec implements exec(ptr, len): validate the UTF-8 path, locate it
// in the TAR archive, free the caller's user mappings, load
// the new ELF image, and re-enter the new entry point on the same
// thread's kernel stack via exit_to_thread (it never returns to its
// caller on success; on failure it returns normally with a negative
// errno already written to f).
func (t *Table) sysExec(cur *thread.TCB, f *trapframe.Frame) {
	ptr, length := f.Arg(0), f.Arg(1)
	if length == 0 || length > maxPathLen {
		f.SetReturn(int32(defs.ENOEXEC))
		return
	}
	path := make([]byte, length)
	var ub vm.Userbuf_t
	ub.Init(cur.Space, ptr, int(length))
	if _, err := ub.CopyOut(path); err != 0 {
		f.SetReturn(int32(err))
		return
	}
	if !ustr.Ustr(path).ValidUTF8() {
		f.SetReturn(int32(defs.ENOEXEC))
		return
	}

	off, size, ok := tar.Lookup(t.Archive, string(path))
	if !ok {
		f.SetReturn(int32(defs.ENOENT))
		return
	}
	data := t.Archive[off : off+size]

	cur.Space.FreeUserPages()
	cpu.FlushTLB()

	entry, lerr := elf.Load(cur.Space, t.Alloc, data)
	if lerr != 0 {
		f.SetReturn(int32(lerr))
		return
	}

	thread.InitProcessThread(cur, entry, paging.UserStackTop)
	t.Sched.ExitToThread(cur.Tid)
}

// sysOpen implements open(path): a bare TAR lookup returning the file's
// size, or ENOENT. There is no descriptor table entry created --
// this kernel's only caller of a looked-up size is exec(), which
// re-does the lookup itself to also get the data offset.
func (t *Table) sysOpen(cur *thread.TCB, f *trapframe.Frame) int32 {
	ptr, length := f.Arg(0), f.Arg(1)
	if length == 0 || length > maxPathLen {
		return int32(defs.ENOENT)
	}
	path := make([]byte, length)
	var ub vm.Userbuf_t
	ub.Init(cur.Space, ptr, int(length))
	if _, err := ub.CopyOut(path); err != 0 {
		return int32(err)
	}
	_, size, ok := tar.Lookup(t.Archive, string(path))
	if !ok {
		return int32(defs.ENOENT)
	}
	return int32(size)
}

// sysRead implements read() as a stub returning 0: this kernel has no
// readable device beyond the console, which is write-only from user
// space, so every read unconditionally reports end-of-file.
func (t *Table) sysRead(cur *thread.TCB, f *trapframe.Frame) int32 {
	return 0
}

// sysWrite implements write(fd=1|2, buf, len): copies the user buffer
// to the VGA console a page at a time via vm.Userbuf_t, refusing
// any fd that isn't one of the console aliases installed by
// fd.Table.InitStdio.
func (t *Table) sysWrite(cur *thread.TCB, f *trapframe.Frame) int32 {
	fdnum := int(f.Arg(0))
	ptr, length := f.Arg(1), f.Arg(2)
	if length > maxIOLen {
		length = maxIOLen
	}
	slot, ok := cur.Fds.Get(fdnum)
	if !ok || slot.Dev != fd.DevConsole {
		return int32(defs.ENOENT)
	}
	buf := make([]byte, length)
	var ub vm.Userbuf_t
	ub.Init(cur.Space, ptr, int(length))
	n, err := ub.CopyOut(buf)
	if n == 0 && err != 0 {
		return int32(err)
	}
	console.Global.Write(buf[:n])
	return int32(n)
}
