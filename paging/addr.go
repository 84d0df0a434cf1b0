// Package paging is the paging core (§4.2): it builds page tables before
// paging is enabled, exposes a uniform per-virtual-page operation set
// over two hardware entry formats (legacy 2-level, PAE 3-level) via the
// recursive self-map trick, and implements fork and the page-fault path
// (demand paging + copy-on-write).
//
// The dual-format dispatch is grounded on biscuit's vm.Vm_t /
// mem.Pmap_t split (one concrete pmap type dispatched on by the build
// tag in the teacher; here both formats coexist at runtime behind the
// Entry interface, §9 design note "two paging modes, one interface").
package paging

import "github.com/gerben-stavenga/RetroOS/mem"

// Virtual address map (§3), identical across both paging modes.
const (
	UserMin          uint32 = 0x00000000
	UserMax          uint32 = 0xC0000000 // exclusive
	PageTableBase    uint32 = 0xC0000000 // recursive window, 8 MiB
	PML4WindowBase   uint32 = 0xC0800000 // reserved for future-PML4, 2 MiB
	IdentityViewBase uint32 = 0xC0A00000 // identity view of phys [0,1MiB)
	KernelBase       uint32 = 0xC0B00000

	// NumPages is the number of 4 KiB virtual pages in the full 4 GiB
	// address space; entries()[i] is the leaf PTE for virtual page i.
	NumPages uint32 = 1 << 20

	// NullGuardLow/NullGuardHigh bound the null-pointer guard regions
	// (§4.2 demand paging / "Null guard"): [0, 64KiB) and [-64KiB, 0).
	NullGuardLow  uint32 = 0
	NullGuardHigh uint32 = 64 * 1024

	// UserStackTop is the initial top-of-stack value exec() hands the
	// new process (§4.7 exec() "re-init CPU-state to entry with stack =
	// USER_STACK_TOP"): one page below the user/kernel split so the
	// first stack access always demand-faults rather than colliding
	// with the recursive window.
	UserStackTop uint32 = UserMax - mem.PGSIZE
)

// VPage returns the virtual page number (index into the recursive
// window) for a virtual address.
func VPage(va uint32) uint32 { return va >> mem.PGSHIFT }

// IsNullGuard reports whether va falls in one of the two null-guard
// regions that always SEGV/panic regardless of mapping state (§4.2,
// §8 boundary cases).
func IsNullGuard(va uint32) bool {
	if va < NullGuardHigh {
		return true
	}
	return va >= ^(NullGuardHigh - 1) // wraps to the top 64 KiB
}

// IsKernel reports whether va lies in the kernel half of the address
// space.
func IsKernel(va uint32) bool { return va >= UserMax }
