// Package console is the kernel's sole log sink and the target of the
// write() syscall: a VGA text-mode buffer at physical 0xB8000, a minimal
// ANSI CSI SGR parser for color, and a byte-for-byte mirror to port 0xE9
// (the QEMU debug console).
//
// The VGA buffer is addressed as a cast over a kernel-virtual []uint16
// rather than indexed byte-by-byte. UTF-8 text handed to Write is encoded
// to code page 437 (golang.org/x/text/encoding/charmap) so it renders
// through the VGA font's actual glyph table instead of silently mangling
// anything outside 7-bit ASCII.
package console

import (
	"unsafe"

	"golang.org/x/text/encoding/charmap"

	"github.com/gerben-stavenga/RetroOS/cpu"
)

const (
	width  = 80
	height = 25
	size   = width * height

	debugPort = 0xE9

	// defaultAttr is LightGray-on-Black, the original's reset attribute.
	defaultAttr = 0x07
)

type escState int

const (
	escNormal escState = iota
	escEscape
	escCsi
)

// Console is one VGA text-mode output stream. The zero value is not
// usable; call Init with the buffer's kernel-virtual base address.
type Console struct {
	base uintptr

	cursorX, cursorY int
	attr             uint8

	state    escState
	escParam uint8

	// ScreenEnabled gates the VGA buffer write (disabled during very
	// early boot before the buffer's virtual mapping exists); port
	// 0xE9 output is unconditional either way, mirroring putchar.
	ScreenEnabled bool

	enc *charmap.Charmap
}

// Global is the single kernel console instance.
var Global Console

// Init points Console at its VGA buffer's kernel-virtual base and resets
// cursor/attribute state. base is 0xB8000 identity-mapped, or the
// virtual alias the kernel's own address space maps it to post-paging.
func (c *Console) Init(base uintptr) {
	c.base = base
	c.cursorX, c.cursorY = 0, 0
	c.attr = defaultAttr
	c.state = escNormal
	c.ScreenEnabled = true
	c.enc = charmap.CodePage437
}

func (c *Console) buffer() *[size]uint16 {
	return (*[size]uint16)(unsafe.Pointer(c.base))
}

func ansiToVGA(code uint8, bright bool) uint8 {
	// ANSI: black, red, green, yellow, blue, magenta, cyan, white.
	// VGA:  black, blue, green, cyan, red, magenta, brown, lightgray.
	var vgaMap = [8]uint8{0, 4, 2, 6, 1, 5, 3, 7}
	v := vgaMap[code&7]
	if bright {
		v += 8
	}
	return v
}

func (c *Console) handleSGR(code uint8) {
	switch {
	case code == 0:
		c.attr = defaultAttr
	case code >= 30 && code <= 37:
		c.attr = (c.attr & 0xF0) | ansiToVGA(code-30, false)
	case code >= 40 && code <= 47:
		c.attr = (c.attr & 0x0F) | (ansiToVGA(code-40, false) << 4)
	case code >= 90 && code <= 97:
		c.attr = (c.attr & 0xF0) | ansiToVGA(code-90, true)
	case code >= 100 && code <= 107:
		c.attr = (c.attr & 0x0F) | (ansiToVGA(code-100, true) << 4)
	}
}

func (c *Console) clear() {
	blank := uint16(c.attr)<<8 | uint16(' ')
	buf := c.buffer()
	for i := range buf {
		buf[i] = blank
	}
	c.cursorX, c.cursorY = 0, 0
}

func (c *Console) scroll() {
	blank := uint16(c.attr)<<8 | uint16(' ')
	buf := c.buffer()
	copy(buf[:size-width], buf[width:])
	for i := size - width; i < size; i++ {
		buf[i] = blank
	}
}

// PutByte writes one already-cp437-encoded byte: mirrors it to port
// 0xE9, then (if enabled) feeds it through the ANSI escape-sequence
// state machine and onto the VGA buffer.
func (c *Console) PutByte(b byte) {
	cpu.OutB(debugPort, b)

	if !c.ScreenEnabled {
		return
	}

	switch c.state {
	case escEscape:
		if b == '[' {
			c.state = escCsi
			c.escParam = 0
		} else {
			c.state = escNormal
		}
		return
	case escCsi:
		if b >= '0' && b <= '9' {
			next := uint16(c.escParam)*10 + uint16(b-'0')
			if next > 255 {
				next = 255
			}
			c.escParam = uint8(next)
		} else if b == 'm' {
			c.handleSGR(c.escParam)
			c.state = escNormal
		} else {
			c.state = escNormal
		}
		return
	}

	switch b {
	case 0x1b:
		c.state = escEscape
	case '\n':
		c.cursorX = 0
		c.cursorY++
	case '\r':
		c.cursorX = 0
	default:
		offset := c.cursorY*width + c.cursorX
		c.buffer()[offset] = uint16(c.attr)<<8 | uint16(b)
		c.cursorX++
		if c.cursorX >= width {
			c.cursorX = 0
			c.cursorY++
		}
	}

	if c.cursorY >= height {
		c.scroll()
		c.cursorY = height - 1
	}
}

// Write implements io.Writer, encoding UTF-8 input to code page 437
// before emitting each byte through PutByte. A rune the code page cannot
// represent (including an invalid UTF-8 sequence) is replaced with '?';
// Write never fails.
func (c *Console) Write(p []byte) (int, error) {
	for _, r := range string(p) {
		b, ok := c.enc.EncodeRune(r)
		if !ok {
			b = '?'
		}
		c.PutByte(b)
	}
	return len(p), nil
}

// Clear blanks the screen and resets the cursor, used by boot-time
// console setup.
func (c *Console) Clear() { c.clear() }
