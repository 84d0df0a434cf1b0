// Package irq is the 8259 PIC / PIT IRQ subsystem: remap, per-IRQ
// handler table, timer tick counter, keyboard scancode consumption, and
// the spurious-IRQ/EOI/cascade dance HandleIRQ must get right.
package irq

//go:generate go run ../tools/genirqtab -pkg github.com/gerben-stavenga/RetroOS/boot -out table_gen.go

import (
	"fmt"

	"github.com/gerben-stavenga/RetroOS/circbuf"
	"github.com/gerben-stavenga/RetroOS/cpu"
	"github.com/gerben-stavenga/RetroOS/stats"
	"github.com/gerben-stavenga/RetroOS/trapframe"
)

// PIC I/O ports.
const (
	masterCmd  = 0x20
	masterData = 0x21
	slaveCmd   = 0xA0
	slaveData  = 0xA1

	pitChannel0 = 0x40
	pitCommand  = 0x43
)

// ICW bits.
const (
	icw1Init = 0x10
	icw1ICW4 = 0x01
	icw4_8086 = 0x01

	eoiCmd = 0x20
)

// NumLines is the 16-slot per-IRQ handler table size.
const NumLines = 16

// Handler is called with interrupts re-enabled. It must not block.
type Handler func(f *trapframe.Frame)

// Subsystem holds the mutable IRQ state: the offset the PICs were
// remapped to, the handler table, and the tick counter.
type Subsystem struct {
	offset   uint8 // vector the master PIC's IRQ0 was remapped to (32)
	handlers [NumLines]Handler
	masked   uint16 // bit i set => IRQ i is masked

	Ticks      uint64
	ScancodeQ  circbuf.Circbuf_t
}

// Global is the single process-wide IRQ subsystem instance.
var Global Subsystem

// IRQTimer and IRQKeyboard are the two lines this kernel wires a handler
// to out of the box (timer=32, keyboard=33 after the PIC remap).
const (
	IRQTimer    = 0
	IRQKeyboard = 1
	irqCascade  = 2
)

// Init remaps the master/slave 8259s to vectorOffset/vectorOffset+8,
// masks every line except the cascade, and programs PIT channel 0 for
// mode-3 square-wave ticking at freqHz.
func (s *Subsystem) Init(vectorOffset uint8, freqHz uint32) {
	s.offset = vectorOffset

	m1 := cpu.InB(masterData)
	m2 := cpu.InB(slaveData)

	cpu.OutB(masterCmd, icw1Init|icw1ICW4)
	cpu.OutB(slaveCmd, icw1Init|icw1ICW4)
	cpu.OutB(masterData, vectorOffset)
	cpu.OutB(slaveData, vectorOffset+8)
	cpu.OutB(masterData, 1<<irqCascade) // ICW3: slave attached to IRQ2
	cpu.OutB(slaveData, 2)              // ICW3: slave's cascade identity
	cpu.OutB(masterData, icw4_8086)
	cpu.OutB(slaveData, icw4_8086)

	_ = m1
	_ = m2
	s.masked = 0xFFFF &^ (1 << irqCascade)
	cpu.OutB(masterData, uint8(s.masked))
	cpu.OutB(slaveData, uint8(s.masked>>8))

	divisor := uint16(1193182 / freqHz)
	cpu.OutB(pitCommand, 0x36) // channel 0, lobyte/hibyte, mode 3
	cpu.OutB(pitChannel0, uint8(divisor))
	cpu.OutB(pitChannel0, uint8(divisor>>8))
}

// RegisterIRQ installs h for line and unmasks it.
func (s *Subsystem) RegisterIRQ(line int, h Handler) {
	s.handlers[line] = h
	s.masked &^= 1 << uint(line)
	s.applyMask()
}

func (s *Subsystem) applyMask() {
	cpu.OutB(masterData, uint8(s.masked))
	cpu.OutB(slaveData, uint8(s.masked>>8))
}

func (s *Subsystem) isr(port uint16) uint8 {
	cpu.OutB(port, 0x0B) // OCW3: read in-service register next
	return cpu.InB(port)
}

// isSpurious is the classic IRQ7 spurious check: reading back the
// master's in-service register; IRQ15's slave-side check is identical
// but through the slave command port.
func (s *Subsystem) isSpurious(line int) bool {
	switch line {
	case 7:
		return s.isr(masterCmd)&(1<<7) == 0
	case 15:
		return s.isr(slaveCmd)&(1<<7) == 0
	default:
		return false
	}
}

// HandleIRQ is the common IRQ path dispatched from trap.Dispatcher.IRQ:
// resolve the line, send cascade EOI first for slave-range lines, bail
// out on a spurious 7/15 without sending a final EOI, mask the line,
// send EOI, call the handler with interrupts re-enabled, then re-disable
// and unmask.
func (s *Subsystem) HandleIRQ(f *trapframe.Frame) {
	line := int(f.IntNo) - int(s.offset)
	if line < 0 || line >= NumLines {
		return
	}
	stats.NIrqs[line]++

	if line >= 8 {
		cpu.OutB(masterCmd, eoiCmd)
	}
	if s.isSpurious(line) {
		return
	}

	s.masked |= 1 << uint(line)
	s.applyMask()

	if line >= 8 {
		cpu.OutB(slaveCmd, eoiCmd)
	} else {
		cpu.OutB(masterCmd, eoiCmd)
	}

	cpu.EnableInterrupts()
	if h := s.handlers[line]; h != nil {
		h(f)
	}
	cpu.DisableInterrupts()

	s.masked &^= 1 << uint(line)
	s.applyMask()
}

// TimerHandler increments the 64-bit tick counter.
func (s *Subsystem) TimerHandler(f *trapframe.Frame) {
	s.Ticks++
}

// KeyboardHandler drains the keyboard controller's output port into the
// scancode ring buffer.
func (s *Subsystem) KeyboardHandler(f *trapframe.Frame) {
	const dataPort = 0x60
	b := cpu.InB(dataPort)
	s.ScancodeQ.Push(b)
}

// DumpCounts renders stats.NIrqs as a human-readable per-line dispatch
// report, naming each registered handler by the generated table
// (table_gen.go) rather than a bare line number. Appended to kernel
// panic output so a wedged or storming IRQ line is visible alongside the
// register dump.
func DumpCounts() string {
	if !stats.Enabled {
		return ""
	}
	s := ""
	for line := 0; line < NumLines; line++ {
		if stats.NIrqs[line] == 0 {
			continue
		}
		name := RegisteredNames[line]
		if name == "" {
			name = "unregistered"
		}
		s += fmt.Sprintf("\n\tirq %d (%s): %d", line, name, stats.NIrqs[line])
	}
	return s
}
