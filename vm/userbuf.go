// Package vm copies bytes between the kernel and a user address space
// through the paging core's Store, the primitive the write()/read()/exec()
// syscalls (§4.7) need to move a buffer across the Ring 0/Ring 3
// boundary. Every copy walks the caller's address space one virtual page
// at a time so a fault partway through is reported per-page rather than
// assumed resolved for the whole range up front.
//
// Rebuilt from the teacher's (biscuit) vm.Userbuf_t/Useriovec_t/Fakeubuf_t
// trio, which additionally modeled scatter-gather iovecs (for readv/
// writev) and resource-accounting-gated retries (bounds.Bounds/
// res.Resadd_noblock) around every chunk, because biscuit's read/write
// syscalls serve arbitrarily large, possibly-blocking socket and file I/O.
// This kernel's write() target is the VGA console and its read() is a
// stub that always returns 0 (§4.7) -- there is no iovec syscall and no
// blocking resource ceiling to check per chunk -- so Useriovec_t and
// Fakeubuf_t are dropped and Userbuf_t is narrowed to single-buffer
// copies; see DESIGN.md.
package vm

import (
	"github.com/gerben-stavenga/RetroOS/defs"
	"github.com/gerben-stavenga/RetroOS/mem"
	"github.com/gerben-stavenga/RetroOS/paging"
)

// Userbuf_t describes a range of user memory [uva, uva+len) in a specific
// address space, read or written one virtual page at a time.
type Userbuf_t struct {
	space *paging.Space
	uva   uint32
	len   int
	off   int
}

// Init points the buffer at a fresh user range. length must not make
// uva+length overflow a 32-bit address.
func (ub *Userbuf_t) Init(space *paging.Space, uva uint32, length int) {
	ub.space = space
	ub.uva = uva
	ub.len = length
	ub.off = 0
}

// Remain reports how many bytes of the range have not yet been
// transferred.
func (ub *Userbuf_t) Remain() int { return ub.len - ub.off }

// pageSlice returns the kernel-addressable slice of the single physical
// page backing the user virtual page at ub.uva+ub.off, validating the
// permission the access direction requires.
func (ub *Userbuf_t) pageSlice(write bool) ([]byte, defs.Err_t) {
	va := ub.uva + uint32(ub.off)
	vpage := paging.VPage(va)
	if paging.IsNullGuard(va) || paging.IsKernel(va) {
		return nil, defs.ENOENT
	}
	if !ub.space.IsPresent(vpage) || !ub.space.IsUser(vpage) {
		return nil, defs.ENOENT
	}
	if write && !ub.space.IsWritable(vpage) {
		return nil, defs.ENOENT
	}
	phys, ok := ub.space.GetPhysPage(vpage)
	if !ok {
		return nil, defs.ENOENT
	}
	pageOff := int(va) & (mem.PGSIZE - 1)
	arr := ub.space.Store().Page(phys)
	end := mem.PGSIZE
	if remInPage := ub.len - ub.off; remInPage < end-pageOff {
		end = pageOff + remInPage
	}
	return arr[pageOff:end], 0
}

// CopyOut reads len(dst) bytes out of the user range into dst (the
// write() syscall's path: user memory -> kernel buffer).
func (ub *Userbuf_t) CopyOut(dst []byte) (int, defs.Err_t) {
	n := 0
	for n < len(dst) && ub.Remain() > 0 {
		src, err := ub.pageSlice(false)
		if err != 0 {
			return n, err
		}
		c := copy(dst[n:], src)
		n += c
		ub.off += c
	}
	return n, 0
}

// CopyIn writes src into the user range (the inverse direction of
// CopyOut). No syscall in this kernel calls it.
func (ub *Userbuf_t) CopyIn(src []byte) (int, defs.Err_t) {
	n := 0
	for n < len(src) && ub.Remain() > 0 {
		dst, err := ub.pageSlice(true)
		if err != 0 {
			return n, err
		}
		c := copy(dst, src[n:])
		n += c
		ub.off += c
	}
	return n, 0
}
