// Package stats provides compiled-toggle counters (Counter_t) and cycle
// timers (Cycles_t) for hot-path instrumentation, plus the per-line IRQ
// dispatch counts (NIrqs) the IRQ code increments; no package declares a
// Counter_t or Cycles_t field at present. Enabled and Timing
// are build-time const switches, so the counters cost nothing when
// disabled and the call sites never need an `if debug` of their own.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/gerben-stavenga/RetroOS/cpu"
)

// Enabled toggles whether Counter_t.Inc does anything; flip at build time
// to profile without touching call sites.
const Enabled = false

// Timing toggles Cycles_t.Add.
const Timing = false

// NumIRQLines matches the IRQ subsystem's 16-slot handler table;
// NIrqs[line] counts how many times handle_irq dispatched that line.
const NumIRQLines = 16

var NIrqs [NumIRQLines]int64

// Rdtsc returns the current cycle count when timing is enabled, else 0.
func Rdtsc() uint64 {
	if Timing {
		return cpu.Rdtsc()
	}
	return 0
}

// Counter_t is a toggled statistical counter.
type Counter_t int64

// Cycles_t holds an accumulated cycle count.
type Cycles_t int64

// Inc increments the counter when stats are enabled.
func (c *Counter_t) Inc() {
	if Enabled {
		atomic.AddInt64((*int64)(unsafe.Pointer(c)), 1)
	}
}

// Add adds the cycles elapsed since start when timing is enabled.
func (c *Cycles_t) Add(start uint64) {
	if Timing {
		atomic.AddInt64((*int64)(unsafe.Pointer(c)), int64(Rdtsc()-start))
	}
}

// Stats2String renders every Counter_t/Cycles_t field of st (a struct
// value) as a human-readable line, for the panic register dump and a
// diagnostic console command.
func Stats2String(st interface{}) string {
	if !Enabled && !Timing {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		switch {
		case strings.HasSuffix(t, "Counter_t"):
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		case strings.HasSuffix(t, "Cycles_t"):
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
