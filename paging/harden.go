package paging

// Section describes one ELF program section of the running kernel
// image, as seen by the boot loader before paging is enabled (§4.2
// "finish_setup_paging").
type Section struct {
	Name       string
	StartVPage uint32
	EndVPage   uint32 // exclusive
	Writable   bool
	Executable bool
}

// Harden walks the kernel's own ELF sections and tightens every page's
// permissions to the minimum its section allows:
//
//   - .text is read-only and executable;
//   - .rodata is read-only and non-executable;
//   - .data/.bss are writable and non-executable.
//
// Read-only kernel pages are additionally marked SoftRO, so a later
// Fork can never accidentally make them copy-on-write-writable (§3);
// NX is never set (nor cleared) on a CPU without NX (a page that
// should be non-executable but NX is unsupported is just left
// executable, the CPU offers no stronger guarantee -- §4.2 Open
// Question: PAE vs NX resolved by using NX whenever available
// regardless of paging mode otherwise).
//
// When two sections disagree on a page (can happen at link-time
// alignment boundaries), executable wins over NX: a page claimed by
// both an executable and a non-executable section is left executable,
// since refusing to execute code the linker placed there is worse than
// failing to deny execution of a few stray bytes of rodata padding.
func Harden(s *Space, sections []Section, nxSupported bool) {
	for _, sec := range sections {
		for vp := sec.StartVPage; vp < sec.EndVPage; vp++ {
			if !s.IsPresent(vp) {
				continue
			}
			s.SetWritable(vp, sec.Writable)
			if !sec.Writable {
				s.SetSoftRO(vp, true)
			}
			if nxSupported && !sec.Executable && !execElsewhere(sections, vp) {
				s.SetNX(vp, true)
			}
		}
	}
}

func execElsewhere(sections []Section, vp uint32) bool {
	for _, sec := range sections {
		if sec.Executable && vp >= sec.StartVPage && vp < sec.EndVPage {
			return true
		}
	}
	return false
}
