package boot

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/gerben-stavenga/RetroOS/console"
	"github.com/gerben-stavenga/RetroOS/cpu"
	"github.com/gerben-stavenga/RetroOS/elf"
	"github.com/gerben-stavenga/RetroOS/heap"
	"github.com/gerben-stavenga/RetroOS/irq"
	"github.com/gerben-stavenga/RetroOS/mem"
	"github.com/gerben-stavenga/RetroOS/paging"
	"github.com/gerben-stavenga/RetroOS/syscall"
	"github.com/gerben-stavenga/RetroOS/tar"
	"github.com/gerben-stavenga/RetroOS/thread"
	"github.com/gerben-stavenga/RetroOS/trap"
	"github.com/gerben-stavenga/RetroOS/trapframe"
)

// vgaPhysBase is the VGA text buffer's physical address.
const vgaPhysBase = 0xB8000

// timerHz is the PIT's programmed tick frequency.
const timerHz = 100

// kernelStackBytes is the per-thread kernel stack size TSS.esp0 points
// into.
const kernelStackBytes = 4096

// totalPages returns one past the highest physical page number named
// anywhere in the E820 map, usable or not, so mem.Allocator.Init can size its
// refcount array to cover all of physical memory rather than just the
// usable ranges.
func totalPages(bd *Data) int {
	var maxPage uint64
	for _, e := range bd.UsableMmap() {
		end := (e.Base + e.Length + mem.PGSIZE - 1) / mem.PGSIZE
		if end > maxPage {
			maxPage = end
		}
	}
	return int(maxPage)
}

func toMemMmap(entries []MmapEntry) []mem.MmapEntry {
	out := make([]mem.MmapEntry, len(entries))
	for i, e := range entries {
		out[i] = mem.MmapEntry{Base: e.Base, Length: e.Length, Type: e.Type, ACPI: e.ACPI}
	}
	return out
}

// identityMapKernelImage installs a transient virtual==physical mapping
// over [low, high) so execution survives the moment CR3 is loaded and
// paging turns on, still running at the kernel's physical load address.
// finishSetupPaging clears it once the kernel is safely executing out of
// its real KernelBase mapping.
func identityMapKernelImage(s *paging.Space, low, high mem.PhysPage) bool {
	for p := low; p < high; p++ {
		if !s.SetEntry(uint32(p), p, true, false) {
			return false
		}
	}
	return true
}

// mapKernelHighHalf maps the kernel image a second time at its real
// virtual home, KernelBase, so code and data stay reachable once the
// transient identity map over the same pages is torn down.
func mapKernelHighHalf(s *paging.Space, low, high mem.PhysPage) bool {
	for p := low; p < high; p++ {
		offset := uint32(p-low) << mem.PGSHIFT
		if !s.SetEntry(paging.VPage(paging.KernelBase+offset), p, true, false) {
			return false
		}
	}
	return true
}

// mapIdentityView installs the permanent kernel-virtual alias of
// physical [0, 1MiB) at IdentityViewBase, which is how console.Init
// reaches the VGA buffer and how any other low-memory BIOS structure
// stays reachable after paging is on.
func mapIdentityView(s *paging.Space) bool {
	const lowMiBPages = (1 << 20) / mem.PGSIZE
	for p := mem.PhysPage(0); p < lowMiBPages; p++ {
		va := paging.IdentityViewBase + uint32(p)<<mem.PGSHIFT
		if !s.SetEntry(paging.VPage(va), p, true, false) {
			return false
		}
	}
	return true
}

// mapKernelRegion demand-allocates and maps size bytes of fresh kernel
// (non-user, writable) pages starting at the page-aligned virtual
// address base, used to back the fixed per-thread kernel stack region
// before any thread can trap into it.
func mapKernelRegion(s *paging.Space, base, size uint32) bool {
	pages := (size + mem.PGSIZE - 1) / mem.PGSIZE
	for i := uint32(0); i < pages; i++ {
		phys, ok := mem.Global.AllocPhysPage()
		if !ok {
			return false
		}
		if !s.SetEntry(paging.VPage(base+i*mem.PGSIZE), phys, true, false) {
			mem.Global.FreePhysPage(phys)
			return false
		}
	}
	return true
}

func bootFatal(msg string) {
	console.Global.Write([]byte(msg))
	console.Global.Write([]byte(irq.DumpCounts()))
	console.Global.Write([]byte("\n"))
	panic(msg)
}

// PrepareKernel runs unpaged at the kernel's physical load address. It
// builds the very first address space, installs a transient identity map
// so the CPU keeps executing across the CR3 load, and turns paging on.
// The physical-page allocator is brought up here too, since nothing past
// this point can allocate a page-table page without it.
func PrepareKernel(bd *Data) (*paging.Space, paging.Mode) {
	mem.Global.Init(totalPages(bd), toMemMmap(bd.UsableMmap()), mem.PhysPage(bd.KernelPhysBase>>mem.PGSHIFT), mem.PhysPage((bd.KernelPhysBase+bd.KernelImageSize+mem.PGSIZE-1)>>mem.PGSHIFT))

	mode := paging.Legacy
	if cpu.HasPAE() {
		mode = paging.PAE
	}

	store := paging.NewStore(&mem.Global)
	space, ok := paging.NewSpace(store, mode)
	if !ok {
		bootFatal("PrepareKernel: failed to allocate root page table")
	}

	low := mem.PhysPage(bd.KernelPhysBase >> mem.PGSHIFT)
	high := mem.PhysPage((bd.KernelPhysBase + bd.KernelImageSize + mem.PGSIZE - 1) >> mem.PGSHIFT)
	if !identityMapKernelImage(space, low, high) || !mapKernelHighHalf(space, low, high) || !mapIdentityView(space) {
		bootFatal("PrepareKernel: failed to build initial page tables")
	}

	cpu.WriteCR3(uint32(space.Root) << mem.PGSHIFT)
	if mode == paging.PAE {
		cpu.WriteCR4(cpu.ReadCR4() | cpu.CR4_PAE)
		if cpu.HasNX() {
			cpu.EnableNXE()
		}
	}
	cpu.WriteCR0(cpu.ReadCR0() | cpu.CR0_PG | cpu.CR0_WP)

	return space, mode
}

// finishSetupPaging clears the transient identity-map leaf entries for
// the kernel image pages [low, high) once the kernel is safely running
// from its KernelBase mapping, and flushes the stale translations. The
// page tables that held them are not freed.
func finishSetupPaging(s *paging.Space, low, high mem.PhysPage) {
	for p := low; p < high; p++ {
		s.ClearEntry(uint32(p))
	}
	cpu.FlushTLB()
}

func kernelImageBytes(size uint32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(paging.KernelBase))), int(size))
}

func idleLoop() {
	for {
		cpu.Halt()
	}
}

func funcAddr(f interface{}) uint32 {
	return uint32(reflect.ValueOf(f).Pointer())
}

func panicExceptionHandler(vec uint32) trap.ExceptionHandler {
	return func(f *trapframe.Frame) {
		msg := fmt.Sprintf("fatal exception %d err=%#x eip=%#x cr2=%#x", vec, f.ErrCode, f.Eip, cpu.ReadCR2())
		if f.IsUserMode() {
			thread.Global.SignalThread(thread.Global.CurrentTCB(), cpu.ReadCR2())
			return
		}
		bootFatal(msg)
	}
}

func pageFaultHandler(space func() *paging.Space, nxEnabled bool) trap.ExceptionHandler {
	return func(f *trapframe.Frame) {
		const errWrite = 1 << 1
		vaddr := cpu.ReadCR2()
		vpage := paging.VPage(vaddr)
		write := f.ErrCode&errWrite != 0
		cur := thread.Global.CurrentTCB()
		kind := paging.HandleFault(space(), vpage, write, paging.UserResolver{NXEnabled: nxEnabled})
		if kind == paging.FaultSegv {
			thread.Global.SignalThread(cur, vaddr)
			return
		}
	}
}

// KernelInit is the kernel's main entry point proper: it removes the
// transient identity map, hardens the kernel's own pages, wires the
// descriptor tables, IRQ subsystem, console and threading, then starts
// the init process. It never returns.
func KernelInit(bd *Data, space *paging.Space, mode paging.Mode) {
	if !CheckVersionGate(bd) {
		bootFatal("KernelInit: bootloader/kernel version mismatch")
	}
	if !VerifyKernelImage(kernelImageBytes(bd.KernelImageSize), bd.KernelMD5) {
		bootFatal("KernelInit: kernel image failed MD5 verification")
	}

	low := mem.PhysPage(bd.KernelPhysBase >> mem.PGSHIFT)
	high := mem.PhysPage((bd.KernelPhysBase + bd.KernelImageSize + mem.PGSIZE - 1) >> mem.PGSHIFT)
	finishSetupPaging(space, low, high)

	paging.Harden(space, KernelSections(), cpu.HasNX())

	console.Global.Init(uintptr(paging.IdentityViewBase + vgaPhysBase))
	console.Global.Clear()

	kernelStackBase := bssEnd()
	kernelStackRegionBytes := uint32(thread.MaxThreads) * kernelStackBytes
	if !mapKernelRegion(space, kernelStackBase, kernelStackRegionBytes) {
		bootFatal("KernelInit: failed to map kernel stack region")
	}
	trap.Global.InitGDT(kernelStackBase + kernelStackBytes)
	trap.Global.InitIDT(trap.BuildStubTable())
	thread.SetKernelStackRegion(kernelStackBase, kernelStackBytes)

	heap.Global.Init(space, &mem.Global, kernelStackBase+kernelStackRegionBytes)

	irq.Global.Init(trap.VecFirstIRQ, timerHz)
	irq.Global.RegisterIRQ(irq.IRQTimer, irq.Global.TimerHandler)
	irq.Global.RegisterIRQ(irq.IRQKeyboard, irq.Global.KeyboardHandler)

	sysTable := &syscall.Table{Sched: &thread.Global, Alloc: &mem.Global, Archive: Archive()}

	d := &trap.Dispatcher{
		IRQ:     irq.Global.HandleIRQ,
		Syscall: sysTable.Dispatch,
		Panic:   func(msg string, f *trapframe.Frame) { bootFatal(msg) },
	}
	d.Exceptions[trap.VecPageFault] = pageFaultHandler(func() *paging.Space { return thread.Global.CurrentTCB().Space }, cpu.HasNX())
	for vec := 0; vec <= trap.VecAlignmentCheck; vec++ {
		if vec == trap.VecPageFault {
			continue
		}
		d.Exceptions[vec] = panicExceptionHandler(uint32(vec))
	}
	trap.ActiveDispatcher = d

	thread.Global.InitThreading(&trap.Global, space)
	thread.InitKernelThread(thread.Global.CurrentTCB(), funcAddr(idleLoop))

	cpu.EnableInterrupts()

	startInit(sysTable, space)
}

// startInit loads the init program out of the embedded archive into a
// fresh address space and jumps into it on tid 0's behalf. The new space
// is built by forking the kernel's own (userless) space rather than
// paging.NewSpace directly, so it inherits the kernel-range top-level
// entries every address space must carry; it never returns.
func startInit(t *syscall.Table, kernelSpace *paging.Space) {
	off, size, ok := tar.Lookup(t.Archive, "init")
	if !ok {
		bootFatal("startInit: init not found in archive")
	}
	data := t.Archive[off : off+size]

	initSpace, ok := paging.Fork(kernelSpace)
	if !ok {
		bootFatal("startInit: failed to allocate init's address space")
	}
	entry, lerr := elf.Load(initSpace, &mem.Global, data)
	if lerr != 0 {
		bootFatal("startInit: init failed to load")
	}

	parent := thread.Global.CurrentTCB()
	initTid := thread.Global.CreateThread(parent, initSpace.Root, initSpace, true)
	if initTid == -1 {
		bootFatal("startInit: no free TCB for init")
	}
	initTCB := thread.Global.Get(initTid)
	thread.InitProcessThread(initTCB, entry, paging.UserStackTop)

	thread.Global.ExitToThread(initTid)
}
