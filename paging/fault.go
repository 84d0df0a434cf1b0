package paging

import "github.com/gerben-stavenga/RetroOS/mem"

// FaultKind classifies how a page fault must be resolved (§4.2
// page-fault resolution, §7 edge cases).
type FaultKind int

const (
	// FaultSegv means the access can never be satisfied: no mapping
	// exists and none should be created (null guard, unmapped hole,
	// kernel access with no vm_region, write to a permanently
	// read-only page).
	FaultSegv FaultKind = iota
	// FaultCOWResolved means an existing shared, writable-intent page
	// was successfully split (or its last reference reclaimed) and the
	// faulting instruction can be retried.
	FaultCOWResolved
	// FaultDemandResolved means a hole backed by a lazily-allocated
	// region (e.g. BSS, stack growth) was mapped to the shared
	// read-only zero page.
	FaultDemandResolved
)

// Resolver supplies the policy the generic fault handler needs but the
// paging core itself has no business knowing: whether a given faulting
// address should be demand-backed at all (grounded
// on biscuit's vm.Vm_t region lookup in Sys_pgfault, simplified to a
// single predicate since this kernel does not track a full VMA list).
type Resolver interface {
	// Demandable reports whether a write/read fault at vpage (with no
	// existing mapping) should be satisfied by handing back the shared
	// zero page, and if so whether that mapping should start out
	// user-writable and/or NX (§4.2: always writable=false, NX=true
	// only when the CPU has NX enabled).
	Demandable(vpage uint32) (writable, nx, ok bool)
}

// HandleFault resolves a page fault for vpage, given whether the
// faulting access was a write. It mirrors biscuit's Sys_pgfault: a
// present-but-read-only page on a write fault is COW (copy-unless-
// last-owner); an absent page consults the Resolver for demand paging;
// anything else is a segmentation violation (§4.2, §7).
func HandleFault(s *Space, vpage uint32, write bool, resolver Resolver) FaultKind {
	if IsNullGuard(vpage << mem.PGSHIFT) {
		return FaultSegv
	}
	e, ok := s.entry(vpage, false)
	if ok && e.Present() {
		if !write {
			// A present page faulted on read only happens for NX
			// violations, which are not recoverable.
			return FaultSegv
		}
		if e.Writable() {
			// Another CPU/thread already resolved it; nothing to do.
			return FaultCOWResolved
		}
		if e.SoftRO() {
			return FaultSegv
		}
		return resolveCOW(s, e)
	}
	writable, nx, demand := resolver.Demandable(vpage)
	if !demand {
		return FaultSegv
	}
	if !s.SetEntry(vpage, s.store.ZeroPage(), writable, true) {
		return FaultSegv
	}
	if nx {
		s.SetNX(vpage, true)
	}
	return FaultDemandResolved
}

// resolveCOW splits (or reclaims) a shared page: if this mapping holds
// the only reference, it is simply marked writable again; otherwise a
// private copy is made and the original's reference count drops by
// one (§4.2 "copy-on-write fork").
func resolveCOW(s *Space, e Entry) FaultKind {
	p := e.Page()
	if s.store.alloc.RefCount(p) <= 1 {
		e.SetWritable(true)
		return FaultCOWResolved
	}
	newPage, newArr, ok := s.store.AllocPage()
	if !ok {
		return FaultSegv
	}
	*newArr = *s.store.Page(p)
	s.store.Free(p)
	e.SetPage(newPage)
	e.SetWritable(true)
	return FaultCOWResolved
}
