package paging

import "unsafe"

import "github.com/gerben-stavenga/RetroOS/mem"

// Mode selects the hardware page-table format in use (§3, §4.2).
type Mode int

const (
	Legacy Mode = iota
	PAE
)

// Store stands in for "physical memory" as seen by the paging core: a
// physical page number maps to 4 KiB of storage. On real hardware this
// access happens through the recursive window (for table pages) or a
// direct/identity map (for the zero and scratch pages); modeling it as
// an explicit lookup keeps the bit-level entry logic host-testable
// without an emulator, while the allocator underneath is the same
// mem.Allocator the rest of the kernel uses.
type Store struct {
	alloc       *mem.Allocator
	pages       map[mem.PhysPage]*[mem.PGSIZE]byte
	zeroPage    mem.PhysPage
	zeroPageSet bool
}

// NewStore creates a Store backed by the given physical-page allocator.
func NewStore(alloc *mem.Allocator) *Store {
	return &Store{alloc: alloc, pages: make(map[mem.PhysPage]*[mem.PGSIZE]byte)}
}

// ZeroPage returns the single physical page shared by every not-present
// demand-paging fault across every address space (§3 "any page holding a
// process-wide zero page" reserved range; §4.2 "pointing at a statically
// allocated zero page"). Allocated once, lazily, and marked Reserved so
// it is never freed or handed out by AllocPage again: resolveCOW's
// decrement on a Reserved page safely no-ops instead of mistakenly
// reclaiming the shared zero page out from under some other mapping.
func (st *Store) ZeroPage() mem.PhysPage {
	if !st.zeroPageSet {
		p, _, ok := st.AllocPage()
		if !ok {
			panic("paging: no physical memory left for the zero page")
		}
		st.alloc.MarkReserved(p, p+1)
		st.zeroPage = p
		st.zeroPageSet = true
	}
	return st.zeroPage
}

// AllocPage allocates a fresh, zeroed physical page and returns its
// number and backing storage.
func (st *Store) AllocPage() (mem.PhysPage, *[mem.PGSIZE]byte, bool) {
	p, ok := st.alloc.AllocPhysPage()
	if !ok {
		return 0, nil, false
	}
	arr := &[mem.PGSIZE]byte{}
	st.pages[p] = arr
	return p, arr, true
}

// Page returns the backing storage for an already-allocated physical
// page. It panics if the page was never allocated through this store,
// which would indicate a paging-core bug (a dangling PTE).
func (st *Store) Page(p mem.PhysPage) *[mem.PGSIZE]byte {
	arr, ok := st.pages[p]
	if !ok {
		panic("paging: access to unbacked physical page")
	}
	return arr
}

// Free releases a reference to p, returning true (and dropping the
// backing storage) iff the refcount reached zero.
func (st *Store) Free(p mem.PhysPage) bool {
	if st.alloc.FreePhysPage(p) {
		delete(st.pages, p)
		return true
	}
	return false
}

// Share increments p's reference count (used for COW sharing).
func (st *Store) Share(p mem.PhysPage) bool { return st.alloc.IncSharedCount(p) }

// Alloc exposes the underlying allocator for callers that need it
// directly (e.g. the heap, which allocates kernel pages without going
// through a page table walk).
func (st *Store) Alloc() *mem.Allocator { return st.alloc }

func word32(page *[mem.PGSIZE]byte, idx int) *uint32 {
	return (*uint32)(unsafe.Pointer(&page[idx*4]))
}

func word64(page *[mem.PGSIZE]byte, idx int) *uint64 {
	return (*uint64)(unsafe.Pointer(&page[idx*8]))
}

// Table index geometry (§4.2 boot sequence / §3 PTE variants).
const (
	legacyBits = 10 // PD and PT both index with 10 bits (1024 entries)
	paeLeafBits = 9 // PD and PT each index with 9 bits (512 entries)
	paePDPTBits = 2 // PDPT indexes with 2 bits (4 entries)
)

func splitLegacy(vpage uint32) (pd, pt int) {
	pt = int(vpage & (1<<legacyBits - 1))
	pd = int((vpage >> legacyBits) & (1<<legacyBits - 1))
	return
}

func splitPAE(vpage uint32) (pdpt, pd, pt int) {
	pt = int(vpage & (1<<paeLeafBits - 1))
	pd = int((vpage >> paeLeafBits) & (1<<paeLeafBits - 1))
	pdpt = int((vpage >> (2 * paeLeafBits)) & (1<<paePDPTBits - 1))
	return
}

// SelfMapIndex returns the root-table index reserved for the recursive
// self-map entry: 768 for legacy PD, 3 for PAE PDPT (§3, §4.2, §9).
func SelfMapIndex(mode Mode) int {
	if mode == Legacy {
		return 768
	}
	return 3
}

// Space is one page-table hierarchy (address space). Root is the
// physical page number of its top-level table (PD for Legacy, PDPT for
// PAE).
type Space struct {
	Mode  Mode
	Root  mem.PhysPage
	store *Store
}

// NewSpace allocates a fresh root table and installs its recursive
// self-map entry, but installs no other mappings -- callers (boot, or
// Fork) populate the rest.
func NewSpace(store *Store, mode Mode) (*Space, bool) {
	root, _, ok := store.AllocPage()
	if !ok {
		return nil, false
	}
	s := &Space{Mode: mode, Root: root, store: store}
	s.installSelfMap()
	return s, true
}

func (s *Space) installSelfMap() {
	idx := SelfMapIndex(s.Mode)
	rootArr := s.store.Page(s.Root)
	var e Entry
	if s.Mode == Legacy {
		e = legacyEntry{word: word32(rootArr, idx)}
	} else {
		e = paeEntry{word: word64(rootArr, idx)}
	}
	e.SetPage(s.Root)
	e.SetPresent(true)
	e.SetWritable(true)
	e.SetUser(false)
}

// HasValidSelfMap reports whether the root's self-map slot points back
// at Root, for the §8 invariant check.
func (s *Space) HasValidSelfMap() bool {
	idx := SelfMapIndex(s.Mode)
	rootArr := s.store.Page(s.Root)
	var e Entry
	if s.Mode == Legacy {
		e = legacyEntry{word: word32(rootArr, idx)}
	} else {
		e = paeEntry{word: word64(rootArr, idx)}
	}
	return e.Present() && e.Page() == s.Root
}

// entry walks the table hierarchy down to the leaf PTE governing vpage,
// creating (zeroed) intermediate tables on demand when create is true.
// It returns ok=false when the leaf is missing and create is false, or
// when an allocation fails while create is true.
func (s *Space) entry(vpage uint32, create bool) (Entry, bool) {
	if s.Mode == Legacy {
		pd, pt := splitLegacy(vpage)
		pdArr := s.store.Page(s.Root)
		pde := legacyEntry{word: word32(pdArr, pd)}
		ptPage, ok := s.childTable(&pde, create)
		if !ok {
			return nil, false
		}
		ptArr := s.store.Page(ptPage)
		return legacyEntry{word: word32(ptArr, pt)}, true
	}
	pdpt, pd, pt := splitPAE(vpage)
	pdptArr := s.store.Page(s.Root)
	pdpte := paeEntry{word: word64(pdptArr, pdpt)}
	pdPage, ok := s.childTable(&pdpte, create)
	if !ok {
		return nil, false
	}
	pdArr := s.store.Page(pdPage)
	pde := paeEntry{word: word64(pdArr, pd)}
	ptPage, ok := s.childTable(&pde, create)
	if !ok {
		return nil, false
	}
	ptArr := s.store.Page(ptPage)
	return paeEntry{word: word64(ptArr, pt)}, true
}

// childTable dereferences an interior entry, allocating a fresh table
// for it on demand when create is set and it is not yet present.
// Interior entries are always present/writable/user so that the leaf
// entry's own bits are what actually governs access (mirrors biscuit's
// pmap_walk, which always asks for PTE_U|PTE_W at interior levels).
func (s *Space) childTable(e Entry, create bool) (mem.PhysPage, bool) {
	if e.Present() {
		return e.Page(), true
	}
	if !create {
		return 0, false
	}
	p, _, ok := s.store.AllocPage()
	if !ok {
		return 0, false
	}
	e.SetPage(p)
	e.SetWritable(true)
	e.SetUser(true)
	e.SetPresent(true)
	return p, true
}

// Uniform per-page operations (§4.2 "uniform per-page operations").

func (s *Space) IsPresent(vpage uint32) bool {
	e, ok := s.entry(vpage, false)
	return ok && e.Present()
}

func (s *Space) IsWritable(vpage uint32) bool {
	e, ok := s.entry(vpage, false)
	return ok && e.Present() && e.Writable()
}

func (s *Space) IsUser(vpage uint32) bool {
	e, ok := s.entry(vpage, false)
	return ok && e.Present() && e.User()
}

func (s *Space) IsSoftRO(vpage uint32) bool {
	e, ok := s.entry(vpage, false)
	return ok && e.Present() && e.SoftRO()
}

func (s *Space) IsNX(vpage uint32) bool {
	e, ok := s.entry(vpage, false)
	return ok && e.Present() && e.NX()
}

func (s *Space) GetPhysPage(vpage uint32) (mem.PhysPage, bool) {
	e, ok := s.entry(vpage, false)
	if !ok || !e.Present() {
		return 0, false
	}
	return e.Page(), true
}

// SetEntry installs a present mapping for vpage, allocating any missing
// intermediate tables. It returns false only on allocation failure.
func (s *Space) SetEntry(vpage uint32, phys mem.PhysPage, writable, user bool) bool {
	e, ok := s.entry(vpage, true)
	if !ok {
		return false
	}
	e.SetPage(phys)
	e.SetWritable(writable)
	e.SetUser(user)
	e.SetPresent(true)
	return true
}

// SetSoftRO marks vpage's leaf entry permanently non-writable-by-COW
// (§3, used by the kernel-hardening pass for .text/.rodata).
func (s *Space) SetSoftRO(vpage uint32, v bool) {
	e, ok := s.entry(vpage, false)
	if ok {
		e.SetSoftRO(v)
	}
}

// SetNX sets the no-execute bit (PAE only; a no-op under Legacy, since
// legacyEntry.SetNX is itself a no-op).
func (s *Space) SetNX(vpage uint32, v bool) {
	e, ok := s.entry(vpage, false)
	if ok {
		e.SetNX(v)
	}
}

// SetWritable flips just the writable bit of an already-present entry,
// the fast COW path when a shared page's refcount has dropped to 1
// (§4.2 demand paging & COW).
func (s *Space) SetWritable(vpage uint32, v bool) bool {
	e, ok := s.entry(vpage, false)
	if !ok || !e.Present() {
		return false
	}
	e.SetWritable(v)
	return true
}

// ClearEntry removes the mapping for vpage, if any.
func (s *Space) ClearEntry(vpage uint32) {
	e, ok := s.entry(vpage, false)
	if ok {
		e.Clear()
	}
}

// Store exposes the backing store, used by Fork and the fault handler.
func (s *Space) Store() *Store { return s.store }
