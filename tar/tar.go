// Package tar is the read-only USTAR archive reader backing open() and
// exec()'s file lookup. The kernel image embeds a single USTAR stream
// (built by tools/mktar) holding the init program and any other files
// init needs; this package never writes to it.
//
// Headers are read directly off the raw archive byte slice by offset
// rather than overlaid with an unsafe struct, since the source is a
// plain []byte the kernel mapped read-only from its own image, not a
// live hardware structure.
package tar

import "github.com/gerben-stavenga/RetroOS/ustr"

const (
	blockSize = 512

	offFilename = 0
	lenFilename = 100
	offFilesize = 124
	lenFilesize = 12
	offTypeflag = 156
)

const typeRegular = '0'

// ParseOctal reads a NUL- or space-terminated ASCII-octal field, stopping
// at the first non-octal-digit byte.
func ParseOctal(buf []byte) uint64 {
	var result uint64
	for _, c := range buf {
		if c < '0' || c > '7' {
			break
		}
		result = result*8 + uint64(c-'0')
	}
	return result
}

// header is a view onto one 512-byte USTAR header within the archive.
type header []byte

func (h header) isEnd() bool { return h[offFilename] == 0 }

func (h header) name() ustr.Ustr {
	return ustr.FromNulTerminated(h[offFilename : offFilename+lenFilename])
}

func (h header) filesize() uint32 {
	return uint32(ParseOctal(h[offFilesize : offFilesize+lenFilesize]))
}

func (h header) dataBlocks() uint32 {
	return (h.filesize() + blockSize - 1) / blockSize
}

// Lookup walks the archive's sequence of 512-byte USTAR headers for
// name, returning the byte offset and size of its data region. It checks
// the octal size field and typeflag, and stops at the filename
// byte[0]==0 terminator.
func Lookup(archive []byte, name string) (offset, size uint32, ok bool) {
	want := ustr.Ustr(name)
	pos := uint32(0)
	for pos+blockSize <= uint32(len(archive)) {
		h := header(archive[pos : pos+blockSize])
		if h.isEnd() {
			return 0, 0, false
		}
		dataStart := pos + blockSize
		sz := h.filesize()
		if h[offTypeflag] == typeRegular && h.name().Eq(want) {
			if uint64(dataStart)+uint64(sz) > uint64(len(archive)) {
				return 0, 0, false
			}
			return dataStart, sz, true
		}
		pos = dataStart + h.dataBlocks()*blockSize
	}
	return 0, 0, false
}
