// Package thread is the fixed-capacity TCB array and cooperative
// scheduler: create_thread, init_process_thread, save_state, schedule
// (reservoir sampling over an LCG), exit_to_thread, exit_thread,
// signal_thread.
//
// The TCB table is a fixed array walked for the next Ready entry, paired
// with a saved-register snapshot struct and an assembly context-switch
// primitive -- a single process-wide array protected by disabling
// interrupts rather than a mutex, since this kernel is single-processor.
package thread

import (
	"github.com/gerben-stavenga/RetroOS/accnt"
	"github.com/gerben-stavenga/RetroOS/cpu"
	"github.com/gerben-stavenga/RetroOS/defs"
	"github.com/gerben-stavenga/RetroOS/fd"
	"github.com/gerben-stavenga/RetroOS/mem"
	"github.com/gerben-stavenga/RetroOS/paging"
	"github.com/gerben-stavenga/RetroOS/trap"
	"github.com/gerben-stavenga/RetroOS/trapframe"
)

// MaxThreads is the fixed TCB array capacity.
const MaxThreads = 1024

// State is a TCB's lifecycle state.
type State int

const (
	Unused State = iota
	Running
	Ready
	Blocked
	Zombie
)

// TCB is one thread control block: tid, pid, priority, parent, state,
// creation tick, page-directory physical address, FD table, saved
// CPU-state snapshot, and tick accounting. The optional per-TCB symbol
// blob (for user-space stack traces) is represented as a plain byte
// slice rather than a dedicated type, since nothing in this repository
// parses it (tools/symify works from the kernel ELF's own symbol table,
// not from this blob).
type TCB struct {
	Tid       int
	Pid       defs.Pid_t
	Priority  int
	ParentTid int
	State     State

	CreationTick uint64
	PageDir      mem.PhysPage
	Space        *paging.Space

	Fds   fd.Table
	Accnt accnt.Accnt_t

	CPUState trapframe.Frame

	SymbolBlob []byte
}

// Scheduler owns the TCB array and the running state shared by every
// trap handler and syscall. Never lazily initialized.
type Scheduler struct {
	table   [MaxThreads]TCB
	Current int // tid of the Running TCB, -1 before init_threading

	lcgState uint32
	tables   *trap.Tables
}

// Global is the single process-wide scheduler instance.
var Global Scheduler

// seedDefault is the LCG's initial state; any odd nonzero value mixes
// adequately for this kernel's reservoir sampling, which need not be
// cryptographically strong.
const seedDefault = 0x2545F491

// InitThreading sets up the idle/init TCB (tid 0) as Running and wires
// the scheduler to the descriptor-table singleton it must update on
// every context switch (TSS.esp0). tid 0 is never Unused again after
// this call.
func (s *Scheduler) InitThreading(tables *trap.Tables, idleSpace *paging.Space) {
	s.tables = tables
	s.lcgState = seedDefault
	t := &s.table[0]
	*t = TCB{}
	t.Tid = 0
	t.Pid = 0
	t.ParentTid = 0
	t.State = Running
	t.PageDir = idleSpace.Root
	t.Space = idleSpace
	t.Fds.InitStdio()
	s.Current = 0
}

// CurrentTCB returns the TCB for the Running thread.
func (s *Scheduler) CurrentTCB() *TCB { return &s.table[s.Current] }

// Get returns the TCB for tid, panicking on an out-of-range tid: the
// array is fixed-size and every caller already holds a tid it obtained
// from this same table.
func (s *Scheduler) Get(tid int) *TCB { return &s.table[tid] }

// CreateThread finds an Unused slot, inherits pid from parent (or, for a
// new process, from its own tid), clears the FD table and then installs
// the stdio console descriptors (fd.Table.InitStdio), and sets
// state=Ready. It returns -1 if the table is full.
func (s *Scheduler) CreateThread(parent *TCB, pageDir mem.PhysPage, space *paging.Space, isProcess bool) int {
	for i := 1; i < MaxThreads; i++ {
		if s.table[i].State == Unused {
			t := &s.table[i]
			*t = TCB{}
			t.Tid = i
			t.ParentTid = parent.Tid
			if isProcess {
				t.Pid = defs.Pid_t(i)
			} else {
				t.Pid = parent.Pid
			}
			t.PageDir = pageDir
			t.Space = space
			t.CreationTick = currentTicks(s)
			t.Fds.InitStdio()
			t.State = Ready
			return i
		}
	}
	return -1
}

// currentTicks reads the timer IRQ tick counter at thread-creation time;
// kept as a function (rather than a direct irq.Global reference) so
// tests can run this package without pulling in the irq package's
// hardware I/O.
var currentTicks = func(s *Scheduler) uint64 { return 0 }

// InitProcessThread writes a user-mode CPU-state snapshot: data/extra
// segments = user data | RPL3, CS = user code | RPL3, EIP = entry,
// user_esp = stack, EFLAGS has IF set, all GPRs zero.
func InitProcessThread(t *TCB, entry, stack uint32) {
	f := &t.CPUState
	*f = trapframe.Frame{}
	f.Ds = uint32(trap.SelUserData) | uint32(trap.RPL3)
	f.Es = f.Ds
	f.Fs = f.Ds
	f.Gs = f.Ds
	f.Cs = uint32(trap.SelUserCode) | uint32(trap.RPL3)
	f.Eip = entry
	f.UserEsp = stack
	f.UserSs = f.Ds
	f.Eflags = trapframe.EFLAGS_IF
}

// InitKernelThread writes a Ring 0 CPU-state snapshot pointed at entry,
// used once at boot to give tid 0 (the idle/init invariant slot)
// somewhere real to resume when the scheduler ever falls back to it
// with nothing else Ready. Unlike InitProcessThread this never crosses a
// privilege level, so UserEsp/UserSs are left zero and never consulted
// by exit_kernel's iret.
func InitKernelThread(t *TCB, entry uint32) {
	f := &t.CPUState
	*f = trapframe.Frame{}
	f.Ds = uint32(trap.SelKernelData)
	f.Es = f.Ds
	f.Fs = f.Ds
	f.Gs = f.Ds
	f.Cs = uint32(trap.SelKernelCode)
	f.Eip = entry
	f.Eflags = trapframe.EFLAGS_IF
}

// SaveState copies the kernel-stack top's register frame into the TCB's
// snapshot.
func SaveState(t *TCB, f *trapframe.Frame) {
	t.CPUState = *f
}

// next advances the LCG and returns the new state, used to draw a
// pseudo-random index for reservoir sampling.
func (s *Scheduler) next() uint32 {
	// Numerical Recipes LCG constants: adequate period and mixing for
	// scheduling jitter, not for anything security sensitive.
	s.lcgState = s.lcgState*1664525 + 1013904223
	return s.lcgState
}

// Schedule selects a Ready thread with tid != excludeTid and tid != 0 by
// reservoir sampling over the LCG: each qualifying candidate replaces
// the current pick with probability 1/n for the nth candidate seen,
// giving a uniform choice without knowing the candidate count up front.
// If none is found: when mustSwitch and the current thread is not
// already tid 0, switches to the idle thread; otherwise returns without
// switching.
func (s *Scheduler) Schedule(excludeTid int, mustSwitch bool) {
	picked := s.pickReady(excludeTid)
	if picked == -1 {
		if mustSwitch && s.Current != 0 {
			s.ExitToThread(0)
		}
		return
	}
	s.ExitToThread(picked)
}

// pickReady is Schedule's selection logic, separated out so it can be
// exercised without the hardware-touching half of ExitToThread (the
// privileged CR3 load and the iret back into a thread).
func (s *Scheduler) pickReady(excludeTid int) int {
	picked := -1
	seen := 0
	for i := 1; i < MaxThreads; i++ {
		if i == excludeTid || s.table[i].State != Ready {
			continue
		}
		seen++
		if picked == -1 || s.next()%uint32(seen) == 0 {
			picked = i
		}
	}
	return picked
}

// ExitToThread sets tid Running, loads its page directory into CR3 if
// nonzero, updates TSS.esp0, sets the current-thread pointer, and calls
// the assembly exit_kernel primitive with the saved frame; it does not
// return (§4.6 exit_to_thread).
func (s *Scheduler) ExitToThread(tid int) {
	t := &s.table[tid]
	t.State = Running
	if t.PageDir != 0 {
		cpu.WriteCR3(uint32(t.PageDir) << mem.PGSHIFT)
	}
	if s.tables != nil {
		s.tables.SetKernelStack(kernelStackTop(t))
	}
	s.Current = tid
	exitKernel(&t.CPUState)
}

// kernelStackTop computes the top-of-stack address TSS.esp0 must point
// at for tid's next kernel entry. Each TCB owns a fixed-size kernel
// stack indexed by tid within a single static region reserved at boot
// (§4.6, §9 "static mutable state"); the region's base is provided by
// the boot package and cached here via SetKernelStackRegion.
var kernelStackBase uint32
var kernelStackSize uint32 = 4096

// SetKernelStackRegion records the base of the per-thread kernel stack
// region and each stack's size, established once during KernelInit.
func SetKernelStackRegion(base, sizePerThread uint32) {
	kernelStackBase = base
	kernelStackSize = sizePerThread
}

func kernelStackTop(t *TCB) uint32 {
	return kernelStackBase + uint32(t.Tid+1)*kernelStackSize
}

// ExitThread marks the current thread Unused, recursively frees its
// address space's physical pages, and reschedules (§4.6 exit_thread;
// §3 "destroyed by exit (state <- Unused, physical pages recursively
// freed)"); it does not return.
func (s *Scheduler) ExitThread(code int32) {
	cur := s.CurrentTCB()
	if cur.Space != nil {
		cur.Space.FreeSpace()
		cur.Space = nil
	}
	cur.State = Unused
	cur.CPUState.SetReturn(code)
	s.Schedule(-1, true)
}

// SignalThread handles a fault in t (§4.6 signal_thread, §7 SEGV policy):
// a user thread is marked Unused and the scheduler reschedules; a fault
// in a kernel thread (tid 0, or mid-syscall on behalf of itself) is a
// structural invariant violation and always fatal.
func (s *Scheduler) SignalThread(t *TCB, faultAddr uint32) {
	if !t.CPUState.IsUserMode() {
		panic("thread: fault in kernel mode")
	}
	t.State = Unused
	if t.Tid == s.Current {
		s.Schedule(-1, true)
	}
}

// Yield implements sys_yield (§4.6): save_state, state<-Ready,
// schedule(tid, false).
func (s *Scheduler) Yield(f *trapframe.Frame) {
	cur := s.CurrentTCB()
	SaveState(cur, f)
	cur.State = Ready
	s.Schedule(cur.Tid, false)
}

// exitKernel pops a saved trapframe.Frame and irets to it, implemented in
// thread_386.s; it never returns to its caller.
func exitKernel(f *trapframe.Frame)
