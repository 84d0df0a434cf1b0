// Package mem implements the physical-page allocator: a fixed-capacity
// reference-count array indexed by physical page number.
//
// This kernel is single-processor only and the page table scheme caps
// sharing at 254 owners, so the whole design is one byte per page plus a
// single rotating free cursor -- no per-CPU free-list sharding needed.
package mem

import "fmt"

// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE = 1 << PGSHIFT

// PhysPage is a physical page number (a physical address shifted right by
// PGSHIFT).
type PhysPage uint32

// RefCount is the reference count stored for each tracked physical page.
type RefCount uint8

// Reserved is the sentinel refcount meaning "never allocate this page."
// It is distinct from the ordinary refcount range [0, MaxShared].
const Reserved RefCount = 255

// MaxShared is the highest ordinary refcount a page may reach;
// IncSharedCount refuses to push a count past this value.
const MaxShared = 254

// firstMiB is the number of pages in the first megabyte (BIOS/VGA/low
// memory), which is always reserved in the refcount table; the kernel
// reaches it only through its identity-view mapping.
const firstMiB = (1 << 20) / PGSIZE

// MmapEntry mirrors one BIOS E820 record from the boot handoff.
type MmapEntry struct {
	Base   uint64
	Length uint64
	Type   uint32
	ACPI   uint32
}

const mmapTypeUsable = 1

// Allocator is the physical-page allocator. The zero value is not usable;
// call Init first.
type Allocator struct {
	pages  []RefCount
	cursor uint32 // rotating allocation cursor, an index into pages
}

// NumPages reports how many physical pages this allocator tracks.
func (a *Allocator) NumPages() int { return len(a.pages) }

// Init marks every tracked page Reserved, frees the type-1 (usable) E820
// ranges, re-reserves the first megabyte, and marks the kernel image
// [kernelLow, kernelHigh) live with refcount 1.
func (a *Allocator) Init(totalPages int, mmap []MmapEntry, kernelLow, kernelHigh PhysPage) {
	a.pages = make([]RefCount, totalPages)
	for i := range a.pages {
		a.pages[i] = Reserved
	}
	for _, e := range mmap {
		if e.Type != mmapTypeUsable {
			continue
		}
		first := PhysPage(rounddown(e.Base, PGSIZE) >> PGSHIFT)
		last := PhysPage(roundup(e.Base+e.Length, PGSIZE) >> PGSHIFT)
		for p := first; p < last && int(p) < len(a.pages); p++ {
			a.pages[p] = 0
		}
	}
	a.MarkReserved(0, firstMiB)
	if kernelHigh > kernelLow {
		a.MarkUsed(kernelLow, kernelHigh)
		for p := kernelLow; p < kernelHigh && int(p) < len(a.pages); p++ {
			a.pages[p] = 1
		}
	}
	a.cursor = firstMiB
}

func rounddown(v, b uint64) uint64 { return v - v%b }
func roundup(v, b uint64) uint64   { return rounddown(v+b-1, b) }

// MarkReserved marks [first, last) as Reserved. Idempotent.
func (a *Allocator) MarkReserved(first, last PhysPage) {
	for p := first; p < last && int(p) < len(a.pages); p++ {
		a.pages[p] = Reserved
	}
}

// MarkUsed marks [first, last) as free (refcount 0) unless already
// Reserved. Idempotent.
func (a *Allocator) MarkUsed(first, last PhysPage) {
	for p := first; p < last && int(p) < len(a.pages); p++ {
		if a.pages[p] == Reserved {
			continue
		}
		a.pages[p] = 0
	}
}

// AllocPhysPage scans linearly from the rotating cursor, skipping the
// first megabyte on wraparound, and returns the first page with refcount
// 0. It sets the refcount to 1. Returns ok=false when no page is free.
func (a *Allocator) AllocPhysPage() (p PhysPage, ok bool) {
	n := len(a.pages)
	if n == 0 {
		return 0, false
	}
	start := a.cursor
	i := start
	for {
		if a.pages[i] == 0 {
			a.pages[i] = 1
			a.cursor = i + 1
			if int(a.cursor) >= n {
				a.cursor = firstMiB
			}
			return PhysPage(i), true
		}
		i++
		if int(i) >= n {
			i = firstMiB
		}
		if i == start {
			return 0, false
		}
	}
}

// FreePhysPage decrements the page's refcount. It refuses to touch a page
// that is already free (0) or Reserved, and returns true iff the count
// became 0.
func (a *Allocator) FreePhysPage(p PhysPage) bool {
	c := a.pages[p]
	if c == Reserved || c == 0 {
		return false
	}
	c--
	a.pages[p] = c
	return c == 0
}

// IncSharedCount increments a page's refcount for sharing (fork/COW). It
// refuses on Reserved pages and at the MaxShared ceiling.
func (a *Allocator) IncSharedCount(p PhysPage) bool {
	c := a.pages[p]
	if c == Reserved || c == 0 || c >= MaxShared {
		return false
	}
	a.pages[p] = c + 1
	return true
}

// RefCount reports the current refcount of page p, primarily for tests
// and diagnostics.
func (a *Allocator) RefCount(p PhysPage) RefCount {
	return a.pages[p]
}

// FreeCount returns the number of pages currently at refcount 0, used by
// the fork/exit scenario tests to check the free-page baseline.
func (a *Allocator) FreeCount() int {
	n := 0
	for _, c := range a.pages {
		if c == 0 {
			n++
		}
	}
	return n
}

// Global is the single, process-wide physical-page allocator instance,
// initialized exactly once during boot.
var Global Allocator

// DumpSummary is a small diagnostic helper used by the panic/boot paths.
func (a *Allocator) DumpSummary() string {
	return fmt.Sprintf("phys pages: %d total, %d free", len(a.pages), a.FreeCount())
}
