// Code generated by tools/genirqtab from boot/init.go's RegisterIRQ call
// sites; DO NOT EDIT.
//
// Regenerate with:
//
//	go run ./tools/genirqtab -pkg github.com/gerben-stavenga/RetroOS/boot -out irq/table_gen.go
package irq

// RegisteredNames maps an IRQ line to the textual handler expression
// boot.KernelInit registered for it, as discovered and type-checked
// (against Handler) by tools/genirqtab. Consumed by DumpCounts for a
// human-readable panic-time IRQ dispatch report.
var RegisteredNames = map[int]string{
	IRQTimer:    "irq.Global.TimerHandler",
	IRQKeyboard: "irq.Global.KeyboardHandler",
}
