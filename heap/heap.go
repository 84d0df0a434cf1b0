// Package heap is the kernel heap allocator: a sorted singly-linked free
// list of (size, next) headers living at the start of each free region,
// first-fit with alignment padding on allocation, coalesce-both-neighbors
// on free, growing by demand-mapping fresh kernel pages between
// heap_base() and HeapEnd.
//
// The allocator is hand-rolled rather than built on Go's own runtime
// allocator because the free list *is* the memory being managed: its
// headers live inline in the free region itself, not boxed on some other
// allocator's heap.
package heap

import (
	"unsafe"

	"github.com/gerben-stavenga/RetroOS/mem"
	"github.com/gerben-stavenga/RetroOS/paging"
	"github.com/gerben-stavenga/RetroOS/util"
)

// HeapEnd is the top of the kernel heap's virtual range.
const HeapEnd uint32 = 0xFFF00000

// MinGrowPages is the minimum number of pages mapped per growth, even
// when the triggering allocation needs fewer.
const MinGrowPages = 4

// headerSize is sizeof(freeHeader) and sizeof(allocHeader): a
// size_t-sized count and a pointer, i.e. two words on this 32-bit
// target.
const headerSize = 8

type freeHeader struct {
	size uint32 // total size of this free region, including the header
	next uint32 // virtual address of the next free region, or 0
}

func headerAt(addr uint32) *freeHeader {
	return (*freeHeader)(unsafe.Pointer(uintptr(addr)))
}

// allocHeader sits immediately before every pointer Alloc hands back,
// recording the allocated block's real start and total length so Dealloc
// can give back the header and alignment-padding bytes reserved ahead of
// the returned pointer, not just [ptr, ptr+size).
type allocHeader struct {
	blockStart uint32
	blockSize  uint32
}

func allocHeaderAt(addr uint32) *allocHeader {
	return (*allocHeader)(unsafe.Pointer(uintptr(addr)))
}

// Global is the single process-wide kernel heap instance, initialized
// once during KernelInit.
var Global Allocator

// Allocator is the kernel heap. The zero value is not usable; call Init.
type Allocator struct {
	space   *paging.Space
	phys    *mem.Allocator
	base    uint32 // heap_base(): page-aligned, just after the kernel image
	mapped  uint32 // end of the region currently backed by real pages
	freeVA  uint32 // head of the sorted free list, or 0 if empty
}

// Init sets the heap's starting virtual address (page-aligned, just past
// the kernel image's end). No pages are mapped until the first
// allocation forces growth.
func (a *Allocator) Init(space *paging.Space, phys *mem.Allocator, base uint32) {
	a.space = space
	a.phys = phys
	a.base = util.Roundup(base, mem.PGSIZE)
	a.mapped = a.base
	a.freeVA = 0
}

// grow maps at least MinGrowPages (but enough to satisfy need bytes)
// fresh kernel pages starting at a.mapped, installing kernel PTEs
// directly (user=0, writable=1), and links the new region onto the tail
// of the free list.
func (a *Allocator) grow(need uint32) bool {
	pages := util.Roundup(need, mem.PGSIZE) / mem.PGSIZE
	if pages < MinGrowPages {
		pages = MinGrowPages
	}
	if a.mapped+pages*mem.PGSIZE > HeapEnd {
		pages = (HeapEnd - a.mapped) / mem.PGSIZE
		if pages == 0 {
			return false
		}
	}
	start := a.mapped
	for i := uint32(0); i < pages; i++ {
		phys, ok := a.phys.AllocPhysPage()
		if !ok {
			a.mapped = start + i*mem.PGSIZE
			return i > 0 && a.linkNewRegion(start, i*mem.PGSIZE)
		}
		va := a.mapped + i*mem.PGSIZE
		if !a.space.SetEntry(paging.VPage(va), phys, true, false) {
			a.phys.FreePhysPage(phys)
			a.mapped = start + i*mem.PGSIZE
			return i > 0 && a.linkNewRegion(start, i*mem.PGSIZE)
		}
	}
	a.mapped += pages * mem.PGSIZE
	return a.linkNewRegion(start, pages*mem.PGSIZE)
}

func (a *Allocator) linkNewRegion(addr, size uint32) bool {
	a.free(addr, size)
	return true
}

// Alloc returns a pointer to a region of at least size bytes aligned to
// align (a power of two), or 0 on exhaustion.
func (a *Allocator) Alloc(size, align uint32) uint32 {
	if align == 0 {
		align = 1
	}
	size = util.Roundup(size, headerSize)
	for {
		if got, ok := a.tryAlloc(size, align); ok {
			return got
		}
		if !a.grow(size + align + 2*headerSize) {
			return 0
		}
	}
}

// tryAlloc walks the sorted free list for the first region that, once an
// allocHeader and alignment padding are accounted for, has room for size
// bytes (first-fit with alignment). The allocHeader is placed immediately
// before the returned pointer -- at aligned-headerSize -- which is always
// at or after the block's real start cur, since aligned is rounded up
// from cur+headerSize.
func (a *Allocator) tryAlloc(size, align uint32) (uint32, bool) {
	var prevVA uint32
	cur := a.freeVA
	for cur != 0 {
		h := headerAt(cur)
		minData := cur + headerSize
		aligned := util.Roundup(minData, align)
		need := (aligned + size) - cur
		if h.size >= need {
			a.splitAndTake(prevVA, cur, need)
			allocHeaderAt(aligned - headerSize).blockStart = cur
			allocHeaderAt(aligned - headerSize).blockSize = need
			return aligned, true
		}
		prevVA = cur
		cur = h.next
	}
	return 0, false
}

// splitAndTake removes the free region at va (size h.size) from the free
// list and hands the caller the first used bytes of it; any bytes beyond
// [va, va+used) big enough to form their own free block are returned to
// the free list.
func (a *Allocator) splitAndTake(prevVA, va, used uint32) {
	h := headerAt(va)
	total := h.size
	next := h.next
	a.unlink(prevVA, va, next)

	if total > used+headerSize {
		a.free(va+used, total-used)
	}
}

func (a *Allocator) unlink(prevVA, va, next uint32) {
	if prevVA == 0 {
		a.freeVA = next
	} else {
		headerAt(prevVA).next = next
	}
}

// Dealloc returns a pointer previously handed back by Alloc to the free
// list, coalescing with either neighbor if contiguous. It recovers the
// allocated block's true start and length from the allocHeader Alloc
// wrote just before addr, so the header and alignment-padding bytes
// reserved ahead of addr are reclaimed along with the payload.
func (a *Allocator) Dealloc(addr, size uint32) {
	ah := allocHeaderAt(addr - headerSize)
	a.free(ah.blockStart, ah.blockSize)
}

// free inserts [addr, addr+size) into the sorted-by-address free list and
// coalesces with an immediately-adjacent predecessor and/or successor.
func (a *Allocator) free(addr, size uint32) {
	var prevVA uint32
	cur := a.freeVA
	for cur != 0 && cur < addr {
		prevVA = cur
		cur = headerAt(cur).next
	}

	// Coalesce with predecessor.
	if prevVA != 0 {
		ph := headerAt(prevVA)
		if prevVA+ph.size == addr {
			ph.size += size
			addr = prevVA
			size = ph.size
			cur = ph.next
			goto maybeMergeSucc
		}
	}
	headerAt(addr).size = size
	headerAt(addr).next = cur
	if prevVA == 0 {
		a.freeVA = addr
	} else {
		headerAt(prevVA).next = addr
	}

maybeMergeSucc:
	if cur != 0 && addr+headerAt(addr).size == cur {
		ch := headerAt(cur)
		headerAt(addr).size += ch.size
		headerAt(addr).next = ch.next
	}
}

// FreeBytes sums the size of every free region, used by the heap
// alloc/dealloc round-trip test.
func (a *Allocator) FreeBytes() uint32 {
	var total uint32
	for cur := a.freeVA; cur != 0; cur = headerAt(cur).next {
		total += headerAt(cur).size
	}
	return total
}

// MappedEnd reports the current top of mapped heap space, used by the
// heap-growth scenario test.
func (a *Allocator) MappedEnd() uint32 { return a.mapped }
