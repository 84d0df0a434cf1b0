package boot

import (
	"testing"

	"github.com/gerben-stavenga/RetroOS/md5"
	"github.com/gerben-stavenga/RetroOS/mem"
)

func TestToMemMmap(t *testing.T) {
	in := []MmapEntry{
		{Base: 0, Length: 0x9FC00, Type: 1},
		{Base: 0x100000, Length: 0x1000000, Type: 1, ACPI: 1},
	}
	out := toMemMmap(in)
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		want := mem.MmapEntry{Base: in[i].Base, Length: in[i].Length, Type: in[i].Type, ACPI: in[i].ACPI}
		if out[i] != want {
			t.Errorf("entry %d = %+v, want %+v", i, out[i], want)
		}
	}
}

func TestTotalPages(t *testing.T) {
	bd := &Data{MmapCount: 2}
	bd.MmapEntries[0] = MmapEntry{Base: 0, Length: 0x9FC00, Type: 1}
	bd.MmapEntries[1] = MmapEntry{Base: 0x100000, Length: 0x100000, Type: 1}
	got := totalPages(bd)
	want := int((0x100000 + 0x100000) / mem.PGSIZE)
	if got != want {
		t.Fatalf("totalPages = %d, want %d", got, want)
	}
}

func TestTotalPagesIgnoresNothing(t *testing.T) {
	// A reserved (non-usable) entry still counts toward the allocator's
	// tracked range, since totalPages sizes the refcount array over
	// every page E820 ever names, not just the free ones.
	bd := &Data{MmapCount: 1}
	bd.MmapEntries[0] = MmapEntry{Base: 0xF0000000, Length: mem.PGSIZE, Type: 2}
	if got := totalPages(bd); got == 0 {
		t.Fatalf("totalPages = 0, want a page count covering the reserved entry")
	}
}

func packedVersion(major, minor, patch uint8) uint32 {
	return packVersion(major, minor, patch)
}

func TestVersionGateInRange(t *testing.T) {
	min := packedVersion(0, 1, 0)
	max := packedVersion(0, 9, 0)
	if !versionGate(min, max, "v0.4.0") {
		t.Fatal("v0.4.0 should fall within [v0.1.0, v0.9.0]")
	}
}

func TestVersionGateOutOfRange(t *testing.T) {
	min := packedVersion(1, 0, 0)
	max := packedVersion(2, 0, 0)
	if versionGate(min, max, "v0.4.0") {
		t.Fatal("v0.4.0 should fall below [v1.0.0, v2.0.0]")
	}
}

func TestVersionGateZeroRangeAcceptsAny(t *testing.T) {
	if !versionGate(0, 0, "v0.4.0") {
		t.Fatal("an all-zero range should accept any kernel version")
	}
}

func TestCheckVersionGate(t *testing.T) {
	bd := &Data{
		BootloaderMinKernelVersion: packedVersion(0, 0, 0),
		BootloaderMaxKernelVersion: packedVersion(0, 9, 9),
	}
	if !CheckVersionGate(bd) {
		t.Fatalf("CheckVersionGate rejected current KernelVersion %s", KernelVersion)
	}
	bd.BootloaderMaxKernelVersion = packedVersion(0, 0, 1)
	if CheckVersionGate(bd) {
		t.Fatal("CheckVersionGate should reject a kernel newer than the declared max")
	}
}

func TestVerifyKernelImageMatch(t *testing.T) {
	image := []byte("a minimal kernel image for testing")
	var want [md5.Size]byte
	md5.Compute(image, &want)
	if !VerifyKernelImage(image, want) {
		t.Fatal("VerifyKernelImage rejected a matching digest")
	}
}

func TestVerifyKernelImageMismatch(t *testing.T) {
	image := []byte("a minimal kernel image for testing")
	var want [md5.Size]byte
	md5.Compute(image, &want)
	corrupted := append([]byte(nil), image...)
	corrupted[0] ^= 0xFF
	if VerifyKernelImage(corrupted, want) {
		t.Fatal("VerifyKernelImage accepted a corrupted image")
	}
}
