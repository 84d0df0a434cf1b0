// Command tracebuild turns a captured kernel panic dump -- the register
// dump plus any stats.Stats2String counter lines a panic handler printed
// (§7 "print register dump") -- into a pprof-format profile, so the
// counters and fault site can be inspected offline with `go tool pprof`
// instead of squinting at a serial console log. This is purely an
// offline convenience tool; nothing in the kernel itself imports pprof
// (§1 profiling is out of the hot kernel path).
//
// Expected input is a text capture of the form:
//
//	EIP=0xc0b01234
//	#PageFaults: 12
//	#ForkCount: 3
//
// matching stats.Stats2String's "#Name: value" line format plus one
// "EIP=0x..." line for the faulting address. Each #counter line becomes
// one sample type of the profile, and its value one entry of the
// profile's single Sample; the EIP, if a companion kernel ELF is given,
// is resolved to a symbol name for the profile's single Location.
package main

import (
	"bufio"
	"debug/elf"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/pprof/profile"
)

type symbol struct {
	name  string
	value uint64
	size  uint64
}

func loadSymbols(path string) ([]symbol, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	syms, err := f.Symbols()
	if err != nil {
		return nil, err
	}
	out := make([]symbol, 0, len(syms))
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
			continue
		}
		out = append(out, symbol{s.Name, s.Value, s.Size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].value < out[j].value })
	return out, nil
}

func resolve(syms []symbol, addr uint64) string {
	i := sort.Search(len(syms), func(i int) bool { return syms[i].value > addr }) - 1
	if i < 0 {
		return fmt.Sprintf("0x%x", addr)
	}
	s := syms[i]
	if s.size != 0 && addr >= s.value+s.size {
		return fmt.Sprintf("0x%x", addr)
	}
	return fmt.Sprintf("%s+0x%x", s.name, addr-s.value)
}

// counter is one "#Name: value" line from the dump.
type counter struct {
	name  string
	value int64
}

func parseDump(path string) (eip uint64, counters []counter, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "EIP="):
			v, perr := strconv.ParseUint(strings.TrimPrefix(line, "EIP="), 0, 64)
			if perr == nil {
				eip = v
			}
		case strings.HasPrefix(line, "#"):
			parts := strings.SplitN(line[1:], ":", 2)
			if len(parts) != 2 {
				continue
			}
			v, perr := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
			if perr != nil {
				continue
			}
			counters = append(counters, counter{strings.TrimSpace(parts[0]), v})
		}
	}
	return eip, counters, sc.Err()
}

func build(eip uint64, counters []counter, symName string) *profile.Profile {
	fn := &profile.Function{ID: 1, Name: symName}
	loc := &profile.Location{ID: 1, Address: eip, Line: []profile.Line{{Function: fn, Line: 0}}}

	p := &profile.Profile{
		Function:      []*profile.Function{fn},
		Location:      []*profile.Location{loc},
		TimeNanos:     0,
		DurationNanos: 0,
		PeriodType:    &profile.ValueType{Type: "panic", Unit: "count"},
		Period:        1,
	}
	for _, c := range counters {
		p.SampleType = append(p.SampleType, &profile.ValueType{Type: c.name, Unit: "count"})
	}
	sample := &profile.Sample{Location: []*profile.Location{loc}}
	for _, c := range counters {
		sample.Value = append(sample.Value, c.value)
	}
	p.Sample = []*profile.Sample{sample}
	return p
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <dump.txt> [kernel.elf] [-o out.pprof]\n", os.Args[0])
		os.Exit(2)
	}
	dumpPath := os.Args[1]
	var elfPath, outPath string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		if args[i] == "-o" && i+1 < len(args) {
			outPath = args[i+1]
			i++
			continue
		}
		elfPath = args[i]
	}
	if outPath == "" {
		outPath = dumpPath + ".pprof"
	}

	eip, counters, err := parseDump(dumpPath)
	if err != nil {
		log.Fatalf("parsing %s: %v", dumpPath, err)
	}
	if len(counters) == 0 {
		log.Fatalf("%s: no #counter lines found", dumpPath)
	}

	symName := fmt.Sprintf("0x%x", eip)
	if elfPath != "" {
		syms, err := loadSymbols(elfPath)
		if err != nil {
			log.Fatalf("loading symbols from %s: %v", elfPath, err)
		}
		symName = resolve(syms, eip)
	}

	p := build(eip, counters, symName)
	p.TimeNanos = time.Now().UnixNano()

	out, err := os.Create(outPath)
	if err != nil {
		log.Fatal(err)
	}
	defer out.Close()
	if err := p.Write(out); err != nil {
		log.Fatalf("writing profile: %v", err)
	}
	fmt.Printf("wrote %s (%d samples)\n", outPath, len(p.Sample))
}
