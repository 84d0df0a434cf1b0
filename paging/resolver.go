package paging

// UserResolver is the Resolver HandleFault consults for an ordinary user
// thread's address space. This kernel tracks no per-region VMA list
// (§4.2 Resolver doc: "a single predicate since this kernel does not
// track a full VMA list") -- any address in the user half of the
// address space that isn't already mapped is assumed to be a legitimate
// hole (BSS tail, or the stack growing down from UserStackTop) and is
// handed the shared zero page, read-only. Null-guard addresses are
// already rejected by HandleFault before a Resolver is ever consulted;
// Demandable itself refuses kernel-range addresses.
type UserResolver struct {
	// NXEnabled mirrors whether EFER.NXE is active on this CPU, the same
	// flag boot's Harden call is given (§4.2 "if NX enabled"). Left
	// false on a CPU without NX support, or under Legacy paging where
	// SetNX is a no-op regardless.
	NXEnabled bool
}

// Demandable always grants a read-only zero page for any in-range user
// address (§4.2 "Not-present fault, reasonable address": "writable=0
// and, if NX enabled, NX=1 for user data pages only").
func (r UserResolver) Demandable(vpage uint32) (writable, nx, ok bool) {
	if vpage >= VPage(UserMax) {
		return false, false, false
	}
	return false, r.NXEnabled, true
}
