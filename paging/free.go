package paging

import "github.com/gerben-stavenga/RetroOS/mem"

// FreeUserPages walks every present leaf entry in the user half of the
// address space, drops one reference from its physical page (freeing it
// outright when the count reaches zero) and clears the entry (§4.7 exec()
// "free_user_pages() on the current address space", §8 "every user-range
// leaf's physical page has its ref count decremented exactly once"). It
// does not flush the TLB; exec's caller does that right after.
//
// It does not reclaim the page-table pages themselves (PD/PT/PDPT
// frames): those belong to this Space for its lifetime and are released
// when the Space itself is torn down at thread exit, not on exec's
// mid-life address-space reset.
func (s *Space) FreeUserPages() {
	first := VPage(UserMin)
	last := VPage(UserMax)
	for vp := first; vp < last; vp++ {
		e, ok := s.entry(vp, false)
		if !ok || !e.Present() {
			continue
		}
		s.store.Free(e.Page())
		e.Clear()
	}
}

// RefCount reports the current reference count of a physical page, a
// thin pass-through used by exit-path bookkeeping and tests that need to
// observe the §8 fork/exit ref-count invariants without reaching into
// the allocator directly.
func (s *Space) RefCount(p mem.PhysPage) mem.RefCount {
	return s.store.alloc.RefCount(p)
}

// FreeSpace tears an address space down completely: every user-range
// leaf page (via FreeUserPages), every page-table frame this space
// privately allocated to map the user range, and finally the space's
// own root table (§3 "destroyed by exit (state <- Unused, physical
// pages recursively freed)"). The mirror image of Fork, which walks the
// same [0, self) range to deep-copy those same frames into a child.
//
// Kernel-range top-level entries are left alone: Fork installs them
// verbatim, so they are shared with every other address space's root
// table rather than owned by this one, and freeing them here would be a
// double free the moment any other thread's space outlives this exit.
func (s *Space) FreeSpace() {
	s.FreeUserPages()
	self := SelfMapIndex(s.Mode)
	rootArr := s.store.Page(s.Root)
	if s.Mode == Legacy {
		for i := 0; i < self; i++ {
			pde := legacyEntry{word: word32(rootArr, i)}
			if pde.Present() {
				s.store.Free(pde.Page())
			}
		}
	} else {
		for i := 0; i < 1<<paePDPTBits; i++ {
			if i == self {
				continue
			}
			pdpte := paeEntry{word: word64(rootArr, i)}
			if !pdpte.Present() {
				continue
			}
			pdArr := s.store.Page(pdpte.Page())
			for j := 0; j < 1<<paeLeafBits; j++ {
				pde := paeEntry{word: word64(pdArr, j)}
				if pde.Present() {
					s.store.Free(pde.Page())
				}
			}
			s.store.Free(pdpte.Page())
		}
	}
	s.store.Free(s.Root)
}
