package mem

import "testing"

func newTestAllocator(n int) *Allocator {
	a := &Allocator{}
	mmap := []MmapEntry{{Base: 0, Length: uint64(n) * PGSIZE, Type: mmapTypeUsable}}
	a.Init(n, mmap, PhysPage(firstMiB+4), PhysPage(firstMiB+8))
	return a
}

func TestAllocFreeRoundtrip(t *testing.T) {
	a := newTestAllocator(firstMiB + 64)
	p, ok := a.AllocPhysPage()
	if !ok {
		t.Fatal("alloc failed on fresh allocator")
	}
	if a.RefCount(p) != 1 {
		t.Fatalf("refcount = %d, want 1", a.RefCount(p))
	}
	if !a.FreePhysPage(p) {
		t.Fatal("free did not report page became unused")
	}
	if a.RefCount(p) != 0 {
		t.Fatalf("refcount after free = %d, want 0", a.RefCount(p))
	}
}

func TestReservedImmutable(t *testing.T) {
	a := newTestAllocator(firstMiB + 64)
	for p := PhysPage(0); p < firstMiB; p++ {
		if a.RefCount(p) != Reserved {
			t.Fatalf("page %d in first MiB not reserved", p)
		}
	}
	a.MarkUsed(0, firstMiB)
	for p := PhysPage(0); p < firstMiB; p++ {
		if a.RefCount(p) != Reserved {
			t.Fatalf("MarkUsed mutated a reserved page %d", p)
		}
	}
}

func TestIncSharedCountRefusesAtCeiling(t *testing.T) {
	a := newTestAllocator(firstMiB + 64)
	p, ok := a.AllocPhysPage()
	if !ok {
		t.Fatal("alloc failed")
	}
	for i := 0; i < MaxShared-1; i++ {
		if !a.IncSharedCount(p) {
			t.Fatalf("IncSharedCount refused early at i=%d", i)
		}
	}
	if a.RefCount(p) != MaxShared {
		t.Fatalf("refcount = %d, want %d", a.RefCount(p), MaxShared)
	}
	if a.IncSharedCount(p) {
		t.Fatal("IncSharedCount should refuse once MaxShared is reached")
	}
}

func TestIncSharedCountRefusesReservedAndFree(t *testing.T) {
	a := newTestAllocator(firstMiB + 64)
	if a.IncSharedCount(0) {
		t.Fatal("IncSharedCount should refuse a reserved page")
	}
	free := PhysPage(firstMiB + 1)
	if a.IncSharedCount(free) {
		t.Fatal("IncSharedCount should refuse a free (refcount 0) page")
	}
}

func TestFreeRefusesFreeAndReserved(t *testing.T) {
	a := newTestAllocator(firstMiB + 64)
	if a.FreePhysPage(0) {
		t.Fatal("FreePhysPage should refuse a reserved page")
	}
	free := PhysPage(firstMiB + 1)
	if a.FreePhysPage(free) {
		t.Fatal("FreePhysPage should refuse an already-free page")
	}
}

func TestAllocWrapsAndSkipsFirstMiB(t *testing.T) {
	a := newTestAllocator(firstMiB + 2)
	var got []PhysPage
	for {
		p, ok := a.AllocPhysPage()
		if !ok {
			break
		}
		got = append(got, p)
	}
	for _, p := range got {
		if p < firstMiB {
			t.Fatalf("allocator handed out a first-MiB page: %d", p)
		}
	}
}
