// Package fd is the bounded per-TCB file-descriptor table named in §3
// ("FD table of bounded size"). Every thread's table is pre-populated at
// creation with three fixed entries -- stdin/stdout/stderr, all aliasing
// the single console device (§6 Console) -- matching the fd numbers
// write() and read() (§4.7) hard-code (0, 1, 2).
//
// Rebuilt from the teacher's (biscuit) fd package, which modeled a
// reopenable Fd_t wrapping an fdops.Fdops_i interface (so a descriptor
// could point at a file, directory, pipe, or socket) plus a per-process
// Cwd_t tracking the working directory for relative-path resolution. This
// kernel has exactly one non-console device -- the read-only TAR archive
// exec()/open() search (§6 TAR) -- and no cwd-relative path resolution at
// all (open() takes the archive's flat absolute name directly, §4.7); the
// reopen/dup machinery and Cwd_t are dropped, see DESIGN.md.
package fd

// NumFDs is the fixed capacity of a thread's FD table (§3).
const NumFDs = 8

// Device identifies what a descriptor slot refers to.
type Device int

const (
	DevNone Device = iota
	DevConsole
)

// Fd_t is one file-descriptor table entry.
type Fd_t struct {
	Dev Device
}

// Table is the fixed-capacity per-TCB FD table.
type Table struct {
	slots [NumFDs]Fd_t
}

// InitStdio installs the standard console descriptors (0, 1, 2) that
// every thread starts with (§4.6 init_process_thread's implicit FD setup).
func (t *Table) InitStdio() {
	t.slots[0] = Fd_t{Dev: DevConsole}
	t.slots[1] = Fd_t{Dev: DevConsole}
	t.slots[2] = Fd_t{Dev: DevConsole}
}

// Get returns the descriptor at fd and whether that slot is occupied.
func (t *Table) Get(fdnum int) (Fd_t, bool) {
	if fdnum < 0 || fdnum >= NumFDs {
		return Fd_t{}, false
	}
	f := t.slots[fdnum]
	return f, f.Dev != DevNone
}

// Close clears a descriptor slot.
func (t *Table) Close(fdnum int) {
	if fdnum >= 0 && fdnum < NumFDs {
		t.slots[fdnum] = Fd_t{}
	}
}

// CopyFrom duplicates another thread's FD table, as fork() does for the
// child (§4.7 fork()).
func (t *Table) CopyFrom(src *Table) {
	t.slots = src.slots
}
