package trap

import "github.com/gerben-stavenga/RetroOS/trapframe"

// commonStub is the shared assembly tail every per-vector trampoline
// falls into (trap_386.s); it is never called directly from Go.
func commonStub()

// ActiveDispatcher is the single process-wide dispatcher the assembly
// entry path calls through (§9 "static mutable state"). Set once during
// KernelInit.
var ActiveDispatcher *Dispatcher

// dispatchShim is commonStub's sole call into Go: it reinterprets the
// kernel stack pointer the assembly just built as a *trapframe.Frame and
// hands it to the active Dispatcher. Kept as a free function (rather
// than a Dispatcher method) because the assembly stub's CALL instruction
// has no receiver to pass.
//
//go:nosplit
func dispatchShim(frameAddr uintptr) {
	f := (*trapframe.Frame)(ptrFromUintptr(frameAddr))
	ActiveDispatcher.Dispatch(f)
}
