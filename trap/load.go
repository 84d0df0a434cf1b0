package trap

import (
	"unsafe"

	"github.com/gerben-stavenga/RetroOS/cpu"
)

// pseudoDescriptor is the 6-byte {limit:16, base:32} blob LGDT/LIDT load
// from (§4.3).
type pseudoDescriptor struct {
	limit uint16
	base  uint32
}

func addrOf(t *TSS) uint32 { return uint32(uintptr(unsafe.Pointer(t))) }

func ptrFromUintptr(p uintptr) unsafe.Pointer { return unsafe.Pointer(p) }

func loadGDT(gdt *[6]gdtEntry) {
	pd := pseudoDescriptor{
		limit: uint16(len(gdt)*8 - 1),
		base:  uint32(uintptr(unsafe.Pointer(gdt))),
	}
	cpu.Lgdt(uint32(uintptr(unsafe.Pointer(&pd))))
	reloadSegments()
}

func loadIDT(idt *[NumVectors]idtGate) {
	pd := pseudoDescriptor{
		limit: uint16(len(idt)*8 - 1),
		base:  uint32(uintptr(unsafe.Pointer(idt))),
	}
	cpu.Lidt(uint32(uintptr(unsafe.Pointer(&pd))))
}

// reloadSegments is implemented in trap_386.s: after LGDT it reloads the
// data segment registers (DS/ES/FS/GS/SS) from the new table with plain
// MOVs. CS is not reloaded.
func reloadSegments()
