package paging

import "github.com/gerben-stavenga/RetroOS/mem"

// Entry is the uniform capability set every leaf (and interior) page
// table entry exposes, regardless of whether the underlying hardware
// format is the legacy 32-bit PTE or the PAE 64-bit PTE (§3, §4.2,
// §9 "two paging modes, one interface"). Call sites never branch on
// mode; only the two concrete implementations below do.
type Entry interface {
	Present() bool
	Writable() bool
	User() bool
	// SoftRO reports the software-only "permanently read-only" bit
	// (§3) that forbids COW from ever making a page writable again.
	SoftRO() bool
	// NX reports the hardware no-execute bit. Legacy entries have no
	// such bit and always report false.
	NX() bool
	Page() mem.PhysPage

	SetPresent(bool)
	SetWritable(bool)
	SetUser(bool)
	SetSoftRO(bool)
	// SetNX is a no-op on legacy entries (no hardware bit to set).
	SetNX(bool)
	SetPage(mem.PhysPage)

	// Raw returns the entry's bit pattern for verbatim copying during
	// fork (§4.2 step 3: "copy value verbatim" for non-user-present
	// entries).
	Raw() uint64
	SetRaw(uint64)

	Clear()
}

// legacyEntry is a 32-bit two-level page table entry (PD or PT slot).
type legacyEntry struct{ word *uint32 }

const (
	lePresent  = 1 << 0
	leWritable = 1 << 1
	leUser     = 1 << 2
	// leSoftRO is a software-defined bit; bit 9 is available to
	// software on both legacy and PAE entries (bits 9-11 are ignored
	// by hardware).
	leSoftRO  = 1 << 9
	leAddrShift = mem.PGSHIFT
)

func (e legacyEntry) Present() bool         { return *e.word&lePresent != 0 }
func (e legacyEntry) Writable() bool        { return *e.word&leWritable != 0 }
func (e legacyEntry) User() bool            { return *e.word&leUser != 0 }
func (e legacyEntry) SoftRO() bool          { return *e.word&leSoftRO != 0 }
func (e legacyEntry) NX() bool              { return false }
func (e legacyEntry) Page() mem.PhysPage    { return mem.PhysPage(*e.word >> leAddrShift) }
func (e legacyEntry) Raw() uint64           { return uint64(*e.word) }
func (e legacyEntry) SetRaw(v uint64)       { *e.word = uint32(v) }
func (e legacyEntry) Clear()                { *e.word = 0 }

func (e legacyEntry) setBit(bit uint32, v bool) {
	if v {
		*e.word |= bit
	} else {
		*e.word &^= bit
	}
}

func (e legacyEntry) SetPresent(v bool)  { e.setBit(lePresent, v) }
func (e legacyEntry) SetWritable(v bool) { e.setBit(leWritable, v) }
func (e legacyEntry) SetUser(v bool)     { e.setBit(leUser, v) }
func (e legacyEntry) SetSoftRO(v bool)   { e.setBit(leSoftRO, v) }
func (e legacyEntry) SetNX(bool)         {} // no hardware bit in legacy mode
func (e legacyEntry) SetPage(p mem.PhysPage) {
	*e.word = (*e.word &^ (uint32(0xFFFFF) << leAddrShift)) | (uint32(p) << leAddrShift)
}

// paeEntry is a 64-bit three-level page table entry (PDPT, PD or PT
// slot). The NX bit (63) is only meaningful once EFER.NXE is set
// (§4.2 finish_setup_paging).
type paeEntry struct{ word *uint64 }

const (
	peNX = 1 << 63
)

func (e paeEntry) Present() bool      { return *e.word&lePresent != 0 }
func (e paeEntry) Writable() bool     { return *e.word&leWritable != 0 }
func (e paeEntry) User() bool         { return *e.word&leUser != 0 }
func (e paeEntry) SoftRO() bool       { return *e.word&leSoftRO != 0 }
func (e paeEntry) NX() bool           { return *e.word&peNX != 0 }
func (e paeEntry) Page() mem.PhysPage { return mem.PhysPage((*e.word >> leAddrShift) & 0xFFFFFFFF) }
func (e paeEntry) Raw() uint64        { return *e.word }
func (e paeEntry) SetRaw(v uint64)    { *e.word = v }
func (e paeEntry) Clear()             { *e.word = 0 }

func (e paeEntry) setBit(bit uint64, v bool) {
	if v {
		*e.word |= bit
	} else {
		*e.word &^= bit
	}
}

func (e paeEntry) SetPresent(v bool)  { e.setBit(lePresent, v) }
func (e paeEntry) SetWritable(v bool) { e.setBit(leWritable, v) }
func (e paeEntry) SetUser(v bool)     { e.setBit(leUser, v) }
func (e paeEntry) SetSoftRO(v bool)   { e.setBit(leSoftRO, v) }
func (e paeEntry) SetNX(v bool)       { e.setBit(peNX, v) }
func (e paeEntry) SetPage(p mem.PhysPage) {
	*e.word = (*e.word &^ (uint64(0xFFFFFFFF) << leAddrShift)) | (uint64(p) << leAddrShift)
}
