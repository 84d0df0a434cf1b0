package boot

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// KernelVersion is this build's own version tag, bumped whenever the
// on-disk layout of anything the bootloader inspects (BootData itself,
// or the ELF segments PrepareKernel expects) changes in an
// incompatible way.
const KernelVersion = "v0.4.0"

// packVersion/unpackVersion squeeze a (major, minor, patch) triple into
// the single uint32 BootData carries, each field one byte wide: the
// bootloader's assembly side has no semver parser, only an integer
// comparison it was built with, so the Go side decodes it into the
// "vX.Y.Z" string golang.org/x/mod/semver operates on.
func packVersion(major, minor, patch uint8) uint32 {
	return uint32(major)<<16 | uint32(minor)<<8 | uint32(patch)
}

func unpackVersion(v uint32) string {
	major := (v >> 16) & 0xFF
	minor := (v >> 8) & 0xFF
	patch := v & 0xFF
	return fmt.Sprintf("v%d.%d.%d", major, minor, patch)
}

// versionGate reports whether kernelVersion falls within the inclusive
// [min, max] range a bootloader build declared it supports. A zero
// range (both ends 0, meaning the bootloader never set them) is
// treated as "any version," matching a pre-gate bootloader image
// that predates this check.
func versionGate(minPacked, maxPacked uint32, kernelVersion string) bool {
	if minPacked == 0 && maxPacked == 0 {
		return true
	}
	if !semver.IsValid(kernelVersion) {
		return false
	}
	min, max := unpackVersion(minPacked), unpackVersion(maxPacked)
	if semver.Compare(kernelVersion, min) < 0 {
		return false
	}
	if semver.Compare(kernelVersion, max) > 0 {
		return false
	}
	return true
}

// CheckVersionGate reports whether this kernel build (KernelVersion) is
// within the range bd's bootloader declared support for, so that an old
// bootloader refuses a newer kernel image outright instead of limping.
// KernelInit calls this before trusting bd.KernelMD5 at all.
func CheckVersionGate(bd *Data) bool {
	return versionGate(bd.BootloaderMinKernelVersion, bd.BootloaderMaxKernelVersion, KernelVersion)
}
