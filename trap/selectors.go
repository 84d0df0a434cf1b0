// Package trap is the descriptor-table and trap-dispatch core (§4.3): GDT
// selectors, the IDT (48 CPU vectors plus vector 0x80 for syscalls), the
// TSS carrying the kernel stack pointer, and the Rust-side-equivalent
// dispatcher the common entry stub calls with a *trapframe.Frame.
//
// Grounded on gopher-os's kernel/gate package (Registers struct, a
// per-vector HandleInterrupt registration, bodyless asm-backed
// installIDT/dispatchInterrupt) generalized from gopher-os's 64-bit
// single-privilege-level IDT to this kernel's Ring 0/Ring 3 GDT (kernel
// and user code/data segments plus a TSS selector, §4.3) and 49-vector
// IDT (the extra vector being 0x80). The per-vector entry trampolines
// themselves are necessarily assembly (stubs_386.s, falling into
// trap_386.s's common stub); this file and
// dispatch.go are the ordinary, unit-testable Go the stub calls into.
package trap

// GDT selector indices (§4.3), bit-exact: index*8 is the selector value
// loaded into a segment register; |3 adds the Ring 3 RPL for user
// selectors.
const (
	SelNull       uint16 = 0x00
	SelKernelCode uint16 = 0x08
	SelKernelData uint16 = 0x10
	SelUserCode   uint16 = 0x18 // | 3 when loaded
	SelUserData   uint16 = 0x20 // | 3 when loaded
	SelTSS        uint16 = 0x28
)

// RPL3 ORs onto SelUserCode/SelUserData to form the selector value a
// Ring 3 context actually loads (§4.6 init_process_thread).
const RPL3 uint16 = 3

// Vector numbers (§4.3, §6): 0-31 are CPU exceptions (0-17 specifically
// handled, 18-31 generic), 32-47 are IRQs 0-15, and 0x80 is the syscall
// gate.
const (
	VecDivideError     = 0
	VecDebug           = 1
	VecNMI             = 2
	VecBreakpoint      = 3
	VecOverflow        = 4
	VecBoundRange      = 5
	VecInvalidOpcode   = 6
	VecDeviceNA        = 7
	VecDoubleFault     = 8
	VecCoprocOverrun   = 9
	VecInvalidTSS      = 10
	VecSegmentNP       = 11
	VecStackFault      = 12
	VecGPFault         = 13
	VecPageFault       = 14
	VecReserved15      = 15
	VecFPUError        = 16
	VecAlignmentCheck  = 17
	VecFirstGeneric    = 18
	VecLastGeneric     = 31
	VecFirstIRQ        = 32
	VecLastIRQ         = 47
	VecSyscall         = 0x80
	NumVectors         = 49 // 0..47 plus 0x80, densely indexed via idtIndex
)

// idtIndex maps a vector number to its dense slot in the IDT table
// (vectors 0-47 map 1:1; 0x80 is appended as the 49th entry).
func idtIndex(vec uint32) int {
	if vec == VecSyscall {
		return 48
	}
	return int(vec)
}

// gateDPL reports the privilege level required to invoke the gate at vec
// via a software INT instruction (§4.3: "DPL on the IDT gate is 3 only
// for int3, into, bound, and 0x80; all others are 0").
func gateDPL(vec uint32) uint8 {
	switch vec {
	case VecBreakpoint, VecOverflow, VecBoundRange, VecSyscall:
		return 3
	default:
		return 0
	}
}

// reentersWithIRQDisabled reports whether the dispatcher must leave
// interrupts masked for the duration of this vector's handler (§4.3:
// "Interrupts are re-enabled at the top of the handler for everything
// except NMI (vector 2) and double-fault (vector 8)").
func reentersWithIRQDisabled(vec uint32) bool {
	return vec == VecNMI || vec == VecDoubleFault
}
