package boot

import "github.com/gerben-stavenga/RetroOS/md5"

// VerifyKernelImage recomputes the MD5 digest of the running kernel's
// own image bytes and compares it against the digest the bootloader
// already validated against kernel.elf.md5 in the TAR. The bootloader's
// own check is the authoritative one and runs before any Go code
// executes; this is a defense-in-depth re-check guarding against a
// bootloader that skipped or was tricked past its own gate, not a
// replacement for it.
func VerifyKernelImage(image []byte, want [md5.Size]byte) bool {
	var got [md5.Size]byte
	md5.Compute(image, &got)
	return got == want
}
