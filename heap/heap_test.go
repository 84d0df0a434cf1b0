//go:build linux && amd64

package heap

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/gerben-stavenga/RetroOS/mem"
	"github.com/gerben-stavenga/RetroOS/paging"
)

// The heap allocator does pointer arithmetic on plain uint32 virtual
// addresses, the same way it does on real i386 hardware. To exercise it
// as a host test without truncating a real mmap address down to 32
// bits, the backing region is requested with MAP_32BIT so the host
// kernel hands back an address that already fits -- mirroring the
// alignment trick paging_hosttest_test.go uses for page-table entries.
func mmapLowRegion(t *testing.T, pages int) uint32 {
	t.Helper()
	size := pages * mem.PGSIZE
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_32BIT)
	if err != nil {
		t.Fatalf("mmap scratch region: %v", err)
	}
	t.Cleanup(func() { _ = unix.Munmap(b) })
	addr := uintptr(unsafe.Pointer(&b[0]))
	if addr%uintptr(mem.PGSIZE) != 0 {
		t.Fatal("mmap returned a non-page-aligned address")
	}
	if addr+uintptr(size) > 1<<32 {
		t.Fatal("MAP_32BIT region did not fit below 4GiB")
	}
	return uint32(addr)
}

func newTestHeap(t *testing.T, regionPages, physPages int) *Allocator {
	t.Helper()
	base := mmapLowRegion(t, regionPages)

	alloc := &mem.Allocator{}
	mmap := []mem.MmapEntry{{Base: 0, Length: uint64(physPages) * mem.PGSIZE, Type: 1}}
	alloc.Init(physPages, mmap, 0, 0)

	store := paging.NewStore(alloc)
	space, ok := paging.NewSpace(store, paging.Legacy)
	if !ok {
		t.Fatal("NewSpace failed")
	}

	var h Allocator
	h.Init(space, alloc, base)
	return &h
}

func TestAllocDeallocRoundTripRestoresFreeBytes(t *testing.T) {
	h := newTestHeap(t, 64, 4096)

	// Force the first growth and establish a stable baseline.
	warm := h.Alloc(8, 8)
	if warm == 0 {
		t.Fatal("initial Alloc failed")
	}
	h.Dealloc(warm, 8)
	baseline := h.FreeBytes()
	if baseline == 0 {
		t.Fatal("heap did not grow on first allocation")
	}

	for _, tc := range []struct {
		size, align uint32
	}{
		{1, 1},
		{7, 4},
		{100, 8},
		{4096, 4096},
		{33, 16},
	} {
		ptr := h.Alloc(tc.size, tc.align)
		if ptr == 0 {
			t.Fatalf("Alloc(%d, %d) failed", tc.size, tc.align)
		}
		if tc.align != 0 && uint32(ptr)%tc.align != 0 {
			t.Fatalf("Alloc(%d, %d) = %#x, not aligned", tc.size, tc.align, ptr)
		}
		h.Dealloc(ptr, tc.size)
		if got := h.FreeBytes(); got != baseline {
			t.Fatalf("after alloc/dealloc of size %d: FreeBytes = %d, want %d (leaked %d bytes)", tc.size, got, baseline, baseline-got)
		}
	}
}

func TestAllocDeallocDoesNotLeakHeaderBytes(t *testing.T) {
	h := newTestHeap(t, 64, 4096)

	warm := h.Alloc(8, 8)
	h.Dealloc(warm, 8)
	baseline := h.FreeBytes()

	// Many small, oddly-sized allocations exercise every alignment-padding
	// and split path; the free list must still add back up to baseline
	// after every one of them comes back.
	var ptrs []uint32
	sizes := []uint32{1, 3, 5, 9, 17, 31, 63, 127}
	for _, s := range sizes {
		p := h.Alloc(s, 4)
		if p == 0 {
			t.Fatalf("Alloc(%d) failed", s)
		}
		ptrs = append(ptrs, p)
	}
	for i, p := range ptrs {
		h.Dealloc(p, sizes[i])
	}
	if got := h.FreeBytes(); got != baseline {
		t.Fatalf("FreeBytes after freeing every allocation = %d, want %d (leaked %d bytes)", got, baseline, baseline-got)
	}
}

func TestGrowthScenario(t *testing.T) {
	h := newTestHeap(t, 256, 4096)

	startMapped := h.MappedEnd()
	if startMapped != h.base {
		t.Fatalf("MappedEnd before any allocation = %#x, want %#x", startMapped, h.base)
	}

	// A request far larger than MinGrowPages worth of bytes must grow the
	// mapped region by enough whole pages to satisfy it.
	const want = 10 * mem.PGSIZE
	ptr := h.Alloc(want, 8)
	if ptr == 0 {
		t.Fatal("large Alloc failed")
	}
	grown := h.MappedEnd() - startMapped
	if grown < want {
		t.Fatalf("heap grew by %d bytes, want at least %d", grown, want)
	}
	if grown%mem.PGSIZE != 0 {
		t.Fatalf("heap grew by %d bytes, not a whole number of pages", grown)
	}

	mappedAfterGrowth := h.MappedEnd()
	h.Dealloc(ptr, want)

	// Freeing and reallocating the same size should reuse the freed
	// address rather than growing again.
	reused := h.Alloc(want, 8)
	if reused == 0 {
		t.Fatal("second large Alloc failed")
	}
	if reused != ptr {
		t.Fatalf("Alloc after Dealloc returned %#x, want reused address %#x", reused, ptr)
	}
	if h.MappedEnd() != mappedAfterGrowth {
		t.Fatalf("MappedEnd grew again on a reused allocation: %#x, want %#x", h.MappedEnd(), mappedAfterGrowth)
	}
}
