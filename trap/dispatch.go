package trap

import (
	"fmt"

	"github.com/gerben-stavenga/RetroOS/cpu"
	"github.com/gerben-stavenga/RetroOS/trapframe"
)

// ExceptionHandler handles one of the specifically-named CPU exception
// vectors (0-17, §4.3 "each map to a specific handler, most panic with a
// register dump").
type ExceptionHandler func(f *trapframe.Frame)

// IRQHandler dispatches vectors 32-47 to the IRQ subsystem.
type IRQHandler func(f *trapframe.Frame)

// SyscallHandler dispatches vector 0x80 to the syscall table.
type SyscallHandler func(f *trapframe.Frame)

// Dispatcher routes a trapframe.Frame produced by the common entry stub
// to the right handler set, exactly mirroring the retro-rs Rust-side
// dispatcher this package replaces (§4.3 dispatcher rules). It holds no
// hardware state of its own -- Tables does -- so it is trivially
// unit-testable by constructing one and feeding it synthetic frames.
type Dispatcher struct {
	Exceptions [18]ExceptionHandler // vectors 0-17
	Generic    ExceptionHandler     // vectors 18-31
	IRQ        IRQHandler           // vectors 32-47
	Syscall    SyscallHandler       // vector 0x80
	Panic      func(msg string, f *trapframe.Frame)
}

// Dispatch is called by the common entry stub with a pointer to the
// frame it just built. Interrupts are re-enabled here for every vector
// except NMI and double-fault (§4.3), matching the spec's ordering:
// enable-then-dispatch so a handler itself can be interrupted except in
// those two unrecoverable cases.
func (d *Dispatcher) Dispatch(f *trapframe.Frame) {
	vec := f.IntNo
	if !reentersWithIRQDisabled(vec) {
		cpu.EnableInterrupts()
	}

	switch {
	case vec <= VecLastGeneric && vec < uint32(len(d.Exceptions)) && d.Exceptions[vec] != nil:
		d.Exceptions[vec](f)
	case vec <= VecLastGeneric:
		if d.Generic != nil {
			d.Generic(f)
		} else {
			d.fatal(f)
		}
	case vec >= VecFirstIRQ && vec <= VecLastIRQ:
		if d.IRQ != nil {
			d.IRQ(f)
		}
	case vec == VecSyscall:
		if d.Syscall != nil {
			d.Syscall(f)
		}
	default:
		d.fatal(f)
	}

	cpu.DisableInterrupts()
}

func (d *Dispatcher) fatal(f *trapframe.Frame) {
	msg := fmt.Sprintf("unhandled trap vector %d (err=%#x) at eip=%#x", f.IntNo, f.ErrCode, f.Eip)
	if d.Panic != nil {
		d.Panic(msg, f)
		return
	}
	panic(msg)
}
