package paging

import (
	"testing"

	"github.com/gerben-stavenga/RetroOS/mem"
)

func newTestStore(n int) (*Store, *mem.Allocator) {
	a := &mem.Allocator{}
	mmap := []mem.MmapEntry{{Base: 0, Length: uint64(n) * mem.PGSIZE, Type: 1}}
	a.Init(n, mmap, 0, 0)
	return NewStore(a), a
}

func TestSetEntryRoundtrip(t *testing.T) {
	store, alloc := newTestStore(4096)
	space, ok := NewSpace(store, Legacy)
	if !ok {
		t.Fatal("NewSpace failed")
	}
	phys, ok := alloc.AllocPhysPage()
	if !ok {
		t.Fatal("alloc failed")
	}
	vp := VPage(0x1000)
	if !space.SetEntry(vp, phys, true, true) {
		t.Fatal("SetEntry failed")
	}
	if !space.IsPresent(vp) {
		t.Fatal("IsPresent false after SetEntry")
	}
	got, ok := space.GetPhysPage(vp)
	if !ok || got != phys {
		t.Fatalf("GetPhysPage = %v,%v want %v,true", got, ok, phys)
	}
	if !space.IsWritable(vp) {
		t.Fatal("IsWritable false, want true")
	}
	if !space.IsUser(vp) {
		t.Fatal("IsUser false, want true")
	}
}

func TestSelfMapIndex(t *testing.T) {
	if SelfMapIndex(Legacy) != 768 {
		t.Fatalf("legacy self-map index = %d, want 768", SelfMapIndex(Legacy))
	}
	if SelfMapIndex(PAE) != 3 {
		t.Fatalf("PAE self-map index = %d, want 3", SelfMapIndex(PAE))
	}
}

func TestHasValidSelfMap(t *testing.T) {
	for _, mode := range []Mode{Legacy, PAE} {
		store, _ := newTestStore(4096)
		space, ok := NewSpace(store, mode)
		if !ok {
			t.Fatalf("mode %v: NewSpace failed", mode)
		}
		if !space.HasValidSelfMap() {
			t.Fatalf("mode %v: self-map entry does not point at Root", mode)
		}
	}
}

func TestForkSharesAndWriteProtects(t *testing.T) {
	for _, mode := range []Mode{Legacy, PAE} {
		store, alloc := newTestStore(4096)
		parent, ok := NewSpace(store, mode)
		if !ok {
			t.Fatalf("mode %v: NewSpace failed", mode)
		}
		phys, ok := alloc.AllocPhysPage()
		if !ok {
			t.Fatal("alloc failed")
		}
		vp := VPage(0x2000)
		if !parent.SetEntry(vp, phys, true, true) {
			t.Fatal("SetEntry failed")
		}

		child, ok := Fork(parent)
		if !ok {
			t.Fatalf("mode %v: Fork failed", mode)
		}

		if parent.IsWritable(vp) {
			t.Fatalf("mode %v: parent entry still writable after fork", mode)
		}
		if child.IsWritable(vp) {
			t.Fatalf("mode %v: child entry writable after fork", mode)
		}
		childPhys, ok := child.GetPhysPage(vp)
		if !ok || childPhys != phys {
			t.Fatalf("mode %v: child phys page = %v,%v want %v,true", mode, childPhys, ok, phys)
		}
		if got := alloc.RefCount(phys); got != 2 {
			t.Fatalf("mode %v: refcount after fork = %d, want 2", mode, got)
		}
	}
}

func TestForkCopiesKernelMappingsVerbatim(t *testing.T) {
	store, alloc := newTestStore(4096)
	parent, ok := NewSpace(store, Legacy)
	if !ok {
		t.Fatal("NewSpace failed")
	}
	phys, ok := alloc.AllocPhysPage()
	if !ok {
		t.Fatal("alloc failed")
	}
	kvp := VPage(KernelBase) // an ordinary kernel-range page, away from the recursive window
	if !parent.SetEntry(kvp, phys, true, false) {
		t.Fatal("SetEntry failed")
	}

	child, ok := Fork(parent)
	if !ok {
		t.Fatal("Fork failed")
	}
	got, ok := child.GetPhysPage(kvp)
	if !ok || got != phys {
		t.Fatalf("child kernel mapping = %v,%v want %v,true", got, ok, phys)
	}
	if !child.IsWritable(kvp) {
		t.Fatal("kernel mapping lost its writable bit across fork (should copy verbatim)")
	}
}

func TestHandleFaultCOWLastOwnerJustFlipsWritable(t *testing.T) {
	store, alloc := newTestStore(4096)
	space, ok := NewSpace(store, Legacy)
	if !ok {
		t.Fatal("NewSpace failed")
	}
	phys, ok := alloc.AllocPhysPage()
	if !ok {
		t.Fatal("alloc failed")
	}
	vp := VPage(0x13000) // above the 64 KiB null guard
	space.SetEntry(vp, phys, false, true)

	kind := HandleFault(space, vp, true, UserResolver{})
	if kind != FaultCOWResolved {
		t.Fatalf("HandleFault = %v, want FaultCOWResolved", kind)
	}
	if !space.IsWritable(vp) {
		t.Fatal("page not writable after resolving sole-owner COW fault")
	}
	if got, ok := space.GetPhysPage(vp); !ok || got != phys {
		t.Fatalf("sole-owner COW resolution should keep the same physical page, got %v,%v", got, ok)
	}
}

func TestHandleFaultCOWSharedSplitsPage(t *testing.T) {
	store, alloc := newTestStore(4096)
	parent, ok := NewSpace(store, Legacy)
	if !ok {
		t.Fatal("NewSpace failed")
	}
	phys, _, ok := store.AllocPage()
	if !ok {
		t.Fatal("alloc failed")
	}
	vp := VPage(0x14000) // above the 64 KiB null guard
	parent.SetEntry(vp, phys, true, true)
	store.Page(phys)[0] = 'A'

	child, ok := Fork(parent)
	if !ok {
		t.Fatal("Fork failed")
	}
	store.Page(phys)[0] = 'B' // poke in a value a real write fault would've written

	kind := HandleFault(child, vp, true, UserResolver{})
	if kind != FaultCOWResolved {
		t.Fatalf("HandleFault = %v, want FaultCOWResolved", kind)
	}
	childPhys, _ := child.GetPhysPage(vp)
	if childPhys == phys {
		t.Fatal("shared COW fault did not allocate a new physical page")
	}
	if !child.IsWritable(vp) {
		t.Fatal("child page not writable after COW split")
	}
	if alloc.RefCount(phys) != 1 {
		t.Fatalf("parent's page refcount = %d, want 1 after child split off", alloc.RefCount(phys))
	}
}

func TestHandleFaultDemandPages(t *testing.T) {
	store, _ := newTestStore(4096)
	space, ok := NewSpace(store, Legacy)
	if !ok {
		t.Fatal("NewSpace failed")
	}
	vp := VPage(0x15000) // above the 64 KiB null guard
	kind := HandleFault(space, vp, true, UserResolver{})
	if kind != FaultDemandResolved {
		t.Fatalf("HandleFault = %v, want FaultDemandResolved", kind)
	}
	if !space.IsPresent(vp) || space.IsWritable(vp) {
		t.Fatal("demand-paged page should be present and read-only, backed by the shared zero page")
	}
	got, ok := space.GetPhysPage(vp)
	if !ok || got != store.ZeroPage() {
		t.Fatalf("demand-paged page should map the shared zero page, got %v,%v", got, ok)
	}

	// A subsequent write to the same hole must split off a private page
	// (the demand mapping is read-only, not a free pass to write the
	// shared zero page) rather than just flipping it writable in place.
	kind = HandleFault(space, vp, true, UserResolver{})
	if kind != FaultCOWResolved {
		t.Fatalf("second HandleFault = %v, want FaultCOWResolved", kind)
	}
	if !space.IsWritable(vp) {
		t.Fatal("page not writable after COW-splitting off the shared zero page")
	}
	if got, _ := space.GetPhysPage(vp); got == store.ZeroPage() {
		t.Fatal("write fault should not leave the mapping pointed at the shared zero page")
	}
}

func TestHandleFaultNullGuardAlwaysSegv(t *testing.T) {
	store, _ := newTestStore(4096)
	space, ok := NewSpace(store, Legacy)
	if !ok {
		t.Fatal("NewSpace failed")
	}
	for _, va := range []uint32{0, 0xFFFF, 0xFFFF0000, 0xFFFFFFFF} {
		if kind := HandleFault(space, VPage(va), true, UserResolver{}); kind != FaultSegv {
			t.Fatalf("va=%#x: HandleFault = %v, want FaultSegv", va, kind)
		}
	}
}

func TestHandleFaultSoftROWriteAlwaysSegv(t *testing.T) {
	store, alloc := newTestStore(4096)
	space, ok := NewSpace(store, Legacy)
	if !ok {
		t.Fatal("NewSpace failed")
	}
	phys, ok := alloc.AllocPhysPage()
	if !ok {
		t.Fatal("alloc failed")
	}
	vp := VPage(0x6000)
	space.SetEntry(vp, phys, false, true)
	space.SetSoftRO(vp, true)

	if kind := HandleFault(space, vp, true, UserResolver{}); kind != FaultSegv {
		t.Fatalf("HandleFault on SOFT_RO write = %v, want FaultSegv", kind)
	}
}

func TestFreeUserPagesDropsEveryReference(t *testing.T) {
	store, alloc := newTestStore(4096)
	space, ok := NewSpace(store, Legacy)
	if !ok {
		t.Fatal("NewSpace failed")
	}
	var pages []mem.PhysPage
	for i := uint32(0); i < 4; i++ {
		p, _ := alloc.AllocPhysPage()
		pages = append(pages, p)
		space.SetEntry(VPage(i*mem.PGSIZE), p, true, true)
	}
	space.FreeUserPages()
	for _, p := range pages {
		if alloc.RefCount(p) != 0 {
			t.Fatalf("page %d refcount = %d after FreeUserPages, want 0", p, alloc.RefCount(p))
		}
	}
	for i := uint32(0); i < 4; i++ {
		if space.IsPresent(VPage(i * mem.PGSIZE)) {
			t.Fatalf("vpage %d still present after FreeUserPages", i)
		}
	}
}

func TestFreeSpaceRestoresFreeCount(t *testing.T) {
	store, alloc := newTestStore(4096)
	baseline := alloc.FreeCount()

	space, ok := NewSpace(store, Legacy)
	if !ok {
		t.Fatal("NewSpace failed")
	}
	for i := uint32(0); i < 4; i++ {
		p, _, pageOK := store.AllocPage()
		if !pageOK {
			t.Fatal("alloc failed")
		}
		space.SetEntry(VPage(i*mem.PGSIZE), p, true, true)
	}

	space.FreeSpace()

	if got := alloc.FreeCount(); got != baseline {
		t.Fatalf("FreeCount after FreeSpace = %d, want baseline %d", got, baseline)
	}
}

func TestFreeSpaceLeavesKernelRangeIntact(t *testing.T) {
	store, _ := newTestStore(4096)
	kernel, ok := NewSpace(store, Legacy)
	if !ok {
		t.Fatal("NewSpace failed")
	}
	kvp := VPage(KernelBase)
	phys, _, pageOK := store.AllocPage()
	if !pageOK {
		t.Fatal("alloc failed")
	}
	kernel.SetEntry(kvp, phys, true, false)

	child, ok := Fork(kernel)
	if !ok {
		t.Fatal("Fork failed")
	}

	child.FreeSpace()

	if !kernel.IsPresent(kvp) {
		t.Fatal("kernel mapping lost after a forked child's FreeSpace")
	}
	if got, ok := kernel.GetPhysPage(kvp); !ok || got != phys {
		t.Fatalf("kernel mapping corrupted after child FreeSpace: got %v,%v want %v", got, ok, phys)
	}
}
