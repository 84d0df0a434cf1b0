//go:build !windows

package paging

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/gerben-stavenga/RetroOS/mem"
)

// On real hardware every legacyEntry/paeEntry word lives inside a
// physical page table page, which is always page-aligned. Store backs
// its pages with plain Go-heap arrays (space.go's doc comment explains
// why), which happens to also be word-aligned but says nothing about
// page alignment. This file re-runs the entry bit-math against a
// genuinely page-aligned anonymous mmap region -- the same alignment
// class hardware page tables actually have -- so the bit-twiddling in
// entry.go is verified independent of which allocator backs it.
//
// Grounded on the expanded spec's domain-stack table (SPEC_FULL.md §1):
// golang.org/x/sys/unix backs exactly this host-side alignment check.

func mmapPage(t *testing.T) []byte {
	t.Helper()
	b, err := unix.Mmap(-1, 0, int(mem.PGSIZE), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		t.Fatalf("mmap scratch page: %v", err)
	}
	t.Cleanup(func() { _ = unix.Munmap(b) })
	if uintptr(unsafe.Pointer(&b[0]))%uintptr(mem.PGSIZE) != 0 {
		t.Fatal("mmap returned a non-page-aligned address")
	}
	return b
}

func TestLegacyEntryOnMappedPage(t *testing.T) {
	page := mmapPage(t)
	word := (*uint32)(unsafe.Pointer(&page[0]))
	e := legacyEntry{word: word}

	e.SetPresent(true)
	e.SetWritable(true)
	e.SetUser(true)
	e.SetSoftRO(false)
	e.SetPage(mem.PhysPage(0xABCDE))

	if !e.Present() || !e.Writable() || !e.User() || e.SoftRO() {
		t.Fatalf("legacyEntry flags wrong after set: %+v raw=%#x", e, *word)
	}
	if got := e.Page(); got != 0xABCDE {
		t.Fatalf("legacyEntry.Page() = %#x, want %#x", got, 0xABCDE)
	}

	e.SetWritable(false)
	if e.Writable() {
		t.Fatal("legacyEntry still writable after SetWritable(false)")
	}
	e.Clear()
	if e.Raw() != 0 {
		t.Fatalf("legacyEntry.Raw() after Clear = %#x, want 0", e.Raw())
	}
}

func TestPAEEntryOnMappedPage(t *testing.T) {
	page := mmapPage(t)
	word := (*uint64)(unsafe.Pointer(&page[0]))
	e := paeEntry{word: word}

	e.SetPresent(true)
	e.SetUser(true)
	e.SetNX(true)
	e.SetPage(mem.PhysPage(0x123456))

	if !e.Present() || !e.User() || !e.NX() {
		t.Fatalf("paeEntry flags wrong after set: %+v raw=%#x", e, *word)
	}
	if got := e.Page(); got != 0x123456 {
		t.Fatalf("paeEntry.Page() = %#x, want %#x", got, 0x123456)
	}

	e.SetNX(false)
	if e.NX() {
		t.Fatal("paeEntry still NX after SetNX(false)")
	}
}
