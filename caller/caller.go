// Package caller dumps the calling Go stack for hosted Go programs, such
// as the host-side build tools, when they hit an internal error worth
// more context than a one-line message. It relies on Go's own
// runtime.Caller, so it is for hosted binaries, not the freestanding
// kernel. No package in this repository imports it at present; the
// tools under tools/ report errors through log instead.
package caller

import (
	"fmt"
	"runtime"
)

// Dump renders the Go call stack starting at the given skip depth (2 skips
// Dump itself and its immediate caller) as a multi-line string suitable
// for appending to a build-tool error message.
func Dump(skip int) string {
	s := ""
	for i := skip; ; i++ {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if s == "" {
			s = fmt.Sprintf("%s:%d", f, l)
		} else {
			s += fmt.Sprintf("\n\t<-%s:%d", f, l)
		}
	}
	return s
}
