package trap

import "github.com/gerben-stavenga/RetroOS/cpu"

// gdtEntry is one packed 8-byte GDT descriptor in the classic x86 segment
// descriptor format (§4.3).
type gdtEntry uint64

func packSegment(base, limit uint32, access, flags uint8) gdtEntry {
	var e uint64
	e |= uint64(limit & 0xFFFF)
	e |= uint64(base&0xFFFFFF) << 16
	e |= uint64(access) << 40
	e |= uint64(limit>>16&0xF) << 48
	e |= uint64(flags&0xF) << 52
	e |= uint64(base>>24&0xFF) << 56
	return gdtEntry(e)
}

const (
	accPresent  = 1 << 7
	accCode     = 1<<4 | 1<<3
	accData     = 1 << 4
	accReadable = 1 << 1 // code: readable; data: writable
	accTSS32    = 0x9     // present bit added separately
	flagGran4K  = 1 << 3
	flag32Bit   = 1 << 2
)

func dplBits(dpl uint8) uint8 { return dpl << 5 }

// TSS is the 32-bit Task State Segment. Only the fields this kernel
// actually uses are given real meaning: Esp0/Ss0, the Ring 0 stack the
// CPU switches to on any privilege-raising trap (§4.3). The rest exist
// because the hardware TSS format is fixed size; IOMap offset points
// past the structure so there is no I/O permission bitmap (all ports are
// accessible only from Ring 0 code, matching §6's port list).
type TSS struct {
	linkPrev  uint16
	_         uint16
	Esp0      uint32
	Ss0       uint16
	_         uint16
	_rest     [22]uint32
	_trapIOMB uint16
	IOMapBase uint16
}

// Tables holds the GDT, IDT and TSS for one CPU. This kernel is single
// processor (§5, §9 Non-goals: SMP), so there is exactly one instance,
// held as a process-wide static (§9 "static mutable state").
type Tables struct {
	gdt [6]gdtEntry
	idt [NumVectors]idtGate
	tss TSS
}

// idtGate is one packed 8-byte interrupt-gate descriptor.
type idtGate struct {
	offsetLo uint16
	selector uint16
	zero     uint8
	typeAttr uint8
	offsetHi uint16
}

const (
	gateTypeInterrupt32 = 0xE // 32-bit interrupt gate, IF cleared on entry
)

func packGate(handler uint32, selector uint16, dpl uint8) idtGate {
	return idtGate{
		offsetLo: uint16(handler),
		selector: selector,
		zero:     0,
		typeAttr: 0x80 | dplBits(dpl) | gateTypeInterrupt32,
		offsetHi: uint16(handler >> 16),
	}
}

// Global is the single process-wide descriptor-table instance.
var Global Tables

// StubTable is supplied by the boot sequence: it holds the address of each of
// the 49 per-vector assembly entry trampolines (§4.3: "a single assembly
// entry stub per vector"). Kept as an injected table (rather than a
// compile-time array of labels, which Go cannot express for hand-written
// asm symbols without per-vector wrapper functions) so this package stays
// free of target-specific linkage.
type StubTable [NumVectors]uint32

// InitGDT builds the six required segment descriptors and loads GDTR/the
// segment registers/the task register (§4.3 selectors table).
func (t *Tables) InitGDT(kernelStackTop uint32) {
	t.gdt[0] = 0 // null
	t.gdt[1] = packSegment(0, 0xFFFFF, accPresent|accCode|accReadable, flagGran4K|flag32Bit)
	t.gdt[2] = packSegment(0, 0xFFFFF, accPresent|accData|accReadable, flagGran4K|flag32Bit)
	t.gdt[3] = packSegment(0, 0xFFFFF, accPresent|accCode|accReadable|dplBits(3), flagGran4K|flag32Bit)
	t.gdt[4] = packSegment(0, 0xFFFFF, accPresent|accData|accReadable|dplBits(3), flagGran4K|flag32Bit)

	t.tss = TSS{}
	t.tss.Esp0 = kernelStackTop
	t.tss.Ss0 = SelKernelData
	t.tss.IOMapBase = uint16(tssSize())
	tssBase := addrOf(&t.tss)
	t.gdt[5] = packSegment(tssBase, uint32(tssSize()-1), accPresent|accTSS32, 0)

	loadGDT(&t.gdt)
	cpu.Ltr(SelTSS)
}

func tssSize() int { return 104 }

// SetKernelStack updates TSS.Esp0, called on every thread switch (§4.6
// exit_to_thread "updates TSS.esp0 to the kernel-stack top").
func (t *Tables) SetKernelStack(esp0 uint32) {
	t.tss.Esp0 = esp0
}

// InitIDT installs one interrupt gate per vector, pointed at the
// corresponding assembly trampoline in stubs, with the DPL §4.3 requires.
func (t *Tables) InitIDT(stubs StubTable) {
	for vec := 0; vec <= VecLastIRQ; vec++ {
		t.idt[idtIndex(uint32(vec))] = packGate(stubs[idtIndex(uint32(vec))], SelKernelCode, gateDPL(uint32(vec)))
	}
	t.idt[idtIndex(VecSyscall)] = packGate(stubs[idtIndex(VecSyscall)], SelKernelCode, gateDPL(VecSyscall))
	loadIDT(&t.idt)
}
