package paging

// Fork implements copy-on-write fork (§4.2 "fork_current"):
//
//  1. allocate a new root table for the child;
//  2. walk the parent's user range, deep-copying interior tables and,
//     for each present leaf, sharing the physical page (bump its
//     refcount) while clearing the writable bit in *both* the parent's
//     and the child's PTE -- the next write to either copy takes a
//     fault and splits the page (§4.2 page-fault resolution);
//  3. copy kernel-range top-level entries verbatim, so the child shares
//     the same kernel page tables as every other address space instead
//     of duplicating them;
//  4. install the child's own recursive self-map entry.
//
// On real hardware the child's still-unmapped root must be reached
// through a temporarily reserved virtual slot before anything can be
// written into it; Store gives every Space direct addressed access to
// its own and other spaces' physical pages, so that step has no
// separate representation here -- store.Page already is the "reserved
// slot" mechanism, just host-testable without an MMU.
func Fork(parent *Space) (*Space, bool) {
	child, ok := NewSpace(parent.store, parent.Mode)
	if !ok {
		return nil, false
	}
	if parent.Mode == Legacy {
		if !forkLegacy(parent, child) {
			return nil, false
		}
	} else {
		if !forkPAE(parent, child) {
			return nil, false
		}
	}
	return child, true
}

func forkLegacy(parent, child *Space) bool {
	self := SelfMapIndex(Legacy)
	pdArr := parent.store.Page(parent.Root)
	cpdArr := parent.store.Page(child.Root)
	for i := 0; i < self; i++ {
		pde := legacyEntry{word: word32(pdArr, i)}
		if !pde.Present() {
			continue
		}
		cpde := legacyEntry{word: word32(cpdArr, i)}
		if !forkLeafTable(parent, pde, cpde) {
			return false
		}
	}
	for i := self + 1; i < 1<<legacyBits; i++ {
		pde := legacyEntry{word: word32(pdArr, i)}
		cpde := legacyEntry{word: word32(cpdArr, i)}
		cpde.SetRaw(pde.Raw())
	}
	return true
}

func forkPAE(parent, child *Space) bool {
	self := SelfMapIndex(PAE)
	pdptArr := parent.store.Page(parent.Root)
	cpdptArr := parent.store.Page(child.Root)
	for i := 0; i < 1<<paePDPTBits; i++ {
		if i == self {
			continue
		}
		pdpte := paeEntry{word: word64(pdptArr, i)}
		cpdpte := paeEntry{word: word64(cpdptArr, i)}
		if !pdpte.Present() {
			continue
		}
		if i > self {
			cpdpte.SetRaw(pdpte.Raw())
			continue
		}
		newPD, _, ok := parent.store.AllocPage()
		if !ok {
			return false
		}
		cpdpte.SetPage(newPD)
		cpdpte.SetWritable(true)
		cpdpte.SetUser(true)
		cpdpte.SetPresent(true)

		pdArr := parent.store.Page(pdpte.Page())
		cpdArr := parent.store.Page(newPD)
		for j := 0; j < 1<<paeLeafBits; j++ {
			pde := paeEntry{word: word64(pdArr, j)}
			if !pde.Present() {
				continue
			}
			cpde := paeEntry{word: word64(cpdArr, j)}
			if !forkLeafTable(parent, pde, cpde) {
				return false
			}
		}
	}
	return true
}

// forkLeafTable deep-copies the page table that src points at into a
// freshly allocated table pointed at by dst, sharing (and
// write-protecting) every present user leaf page it finds.
func forkLeafTable(parent *Space, src, dst Entry) bool {
	store := parent.store
	newTable, _, ok := store.AllocPage()
	if !ok {
		return false
	}
	dst.SetPage(newTable)
	dst.SetWritable(true)
	dst.SetUser(true)
	dst.SetPresent(true)

	srcArr := store.Page(src.Page())
	dstArr := store.Page(newTable)
	width := 1 << legacyBits
	if parent.Mode == PAE {
		width = 1 << paeLeafBits
	}
	for i := 0; i < width; i++ {
		var se, de Entry
		if parent.Mode == Legacy {
			se = legacyEntry{word: word32(srcArr, i)}
			de = legacyEntry{word: word32(dstArr, i)}
		} else {
			se = paeEntry{word: word64(srcArr, i)}
			de = paeEntry{word: word64(dstArr, i)}
		}
		if !se.Present() {
			continue
		}
		if se.SoftRO() {
			de.SetRaw(se.Raw())
			store.Share(se.Page())
			continue
		}
		if !store.Share(se.Page()) {
			return false
		}
		de.SetRaw(se.Raw())
		de.SetWritable(false)
		se.SetWritable(false)
	}
	return true
}
