// Package elf implements exec()'s load_elf step (§4.7): demand-allocate
// and copy each PT_LOAD segment of a 32-bit x86 executable into a fresh
// address space, then lock down final R/W/X permissions.
//
// Grounded on original_source/retro-rs/lib/src/elf.rs's Elf/SegmentIter
// (magic/class/endian/type/machine checks, PT_LOAD-only segment walk,
// PF_READ/PF_WRITE/PF_EXEC flag tests) but parsed with the standard
// library's debug/elf rather than a hand-rolled header overlay: this
// kernel's own tools/chentry (an ordinary hosted Go program, not
// freestanding code) already parses the build's ELF binaries with
// debug/elf, and nothing in the example pack offers a more specialized
// ELF reader for a target this narrow (one fixed machine, no sections,
// no relocations) -- see DESIGN.md.
package elf

import (
	"bytes"
	"debug/elf"
	"errors"
	"io"

	"github.com/gerben-stavenga/RetroOS/defs"
	"github.com/gerben-stavenga/RetroOS/mem"
	"github.com/gerben-stavenga/RetroOS/paging"
)

var errBadELF = errors.New("elf: not a loadable 32-bit x86 executable")

// Load parses data as an ELF32/386/ET_EXEC image and demand-maps its
// PT_LOAD segments into space, copying file contents and zero-filling
// the BSS tail of each segment, then applying each segment's final
// read/write/execute permissions (§4.7 load_elf). It returns the
// entry point.
func Load(space *paging.Space, alloc *mem.Allocator, data []byte) (entry uint32, err defs.Err_t) {
	f, ferr := elf.NewFile(bytes.NewReader(data))
	if ferr != nil {
		return 0, defs.ENOEXEC
	}
	if f.Class != elf.ELFCLASS32 || f.Machine != elf.EM_386 || f.Type != elf.ET_EXEC {
		return 0, defs.ENOEXEC
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		fileBytes := make([]byte, prog.Filesz)
		if prog.Filesz > 0 {
			if _, rerr := io.ReadFull(prog.Open(), fileBytes); rerr != nil {
				return 0, defs.ENOEXEC
			}
		}
		if e := mapSegment(space, uint32(prog.Vaddr), uint32(prog.Memsz), fileBytes, prog.Flags); e != 0 {
			return 0, e
		}
	}

	return uint32(f.Entry), 0
}

// mapSegment demand-allocates every page covering [vaddr, vaddr+memsz),
// copies fileData into the start of the range and zero-fills the
// remainder, then sets the segment's final permissions. Pages are
// mapped writable during the copy regardless of the segment's eventual
// permissions, since a read-only .text segment still has to receive its
// own bytes once.
func mapSegment(space *paging.Space, vaddr, memsz uint32, fileData []byte, flags elf.ProgFlag) defs.Err_t {
	start := vaddr &^ (mem.PGSIZE - 1)
	end := (vaddr + memsz + mem.PGSIZE - 1) &^ (mem.PGSIZE - 1)

	for va := start; va < end; va += mem.PGSIZE {
		vpage := paging.VPage(va)
		phys, page, ok := space.Store().AllocPage()
		if !ok {
			return defs.ENOMEM
		}
		if !space.SetEntry(vpage, phys, true, true) {
			space.Store().Free(phys)
			return defs.ENOMEM
		}
		copySegmentPage(page, va, vaddr, memsz, fileData)
	}

	writable := flags&elf.PF_W != 0
	executable := flags&elf.PF_X != 0
	for va := start; va < end; va += mem.PGSIZE {
		vpage := paging.VPage(va)
		space.SetWritable(vpage, writable)
		space.SetNX(vpage, !executable)
		space.SetSoftRO(vpage, !writable)
	}
	return 0
}

func copySegmentPage(page *[mem.PGSIZE]byte, va, vaddr, memsz uint32, fileData []byte) {
	for i := uint32(0); i < mem.PGSIZE; i++ {
		addr := va + i
		if addr < vaddr || addr >= vaddr+memsz {
			continue
		}
		segOff := addr - vaddr
		if segOff < uint32(len(fileData)) {
			page[i] = fileData[segOff]
		} else {
			page[i] = 0
		}
	}
}
