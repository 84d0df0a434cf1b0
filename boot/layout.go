package boot

import (
	"unsafe"

	"github.com/gerben-stavenga/RetroOS/paging"
)

// Linker-provided section boundaries, implemented in layout_386.s.
func textStart() uint32
func textEnd() uint32
func rodataStart() uint32
func rodataEnd() uint32
func dataStart() uint32
func bssEnd() uint32
func tarStart() uint32
func tarEnd() uint32

// Archive returns the embedded USTAR image tools/mktar appended after
// the kernel ELF at build time, as the flat byte slice tar.Lookup and
// elf.Load read from.
func Archive() []byte {
	start, end := tarStart(), tarEnd()
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(start))), int(end-start))
}

// KernelSections describes the running kernel's own ELF layout as
// paging.Harden needs it. Read straight out of the linker script's
// symbols rather than re-parsing the kernel's own ELF header from
// memory, since the boundaries the linker placed are exactly what
// decides each page's real permissions.
func KernelSections() []paging.Section {
	return []paging.Section{
		{Name: ".text", StartVPage: paging.VPage(textStart()), EndVPage: paging.VPage(textEnd()), Writable: false, Executable: true},
		{Name: ".rodata", StartVPage: paging.VPage(rodataStart()), EndVPage: paging.VPage(rodataEnd()), Writable: false, Executable: false},
		{Name: ".data+.bss", StartVPage: paging.VPage(dataStart()), EndVPage: paging.VPage(bssEnd()), Writable: true, Executable: false},
	}
}
