// Command symify resolves a faulting EIP captured in a kernel panic
// register dump (§7 "print register dump") back to a symbol name, byte
// offset, and disassembled instruction, by reading the build's own
// kernel ELF binary -- exactly the "symbol-table lookup for stack
// traces" collaborator spec.md §1 names as out of scope for the kernel
// itself but leaves a contract for. Symbol names are passed through a
// demangler, for kernels whose debug symbols carry mangled Rust/C++
// names. The per-TCB symbol blob is not read; the only inputs are the
// ELF file and the addresses on the command line.
//
// Run over a serial-console capture of a panic dump:
//
//	symify kernel.elf 0xc0b01234 0xc0b05678
package main

import (
	"debug/elf"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"

	"github.com/ianlancetaylor/demangle"
	"golang.org/x/arch/x86/x86asm"
)

// symbol is one function-valued entry from the ELF symbol table, kept
// sorted by address so Resolve can binary-search it.
type symbol struct {
	name  string
	value uint64
	size  uint64
}

func loadSymbols(f *elf.File) ([]symbol, error) {
	syms, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("reading symtab: %w", err)
	}
	out := make([]symbol, 0, len(syms))
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
			continue
		}
		out = append(out, symbol{name: s.Name, value: s.Value, size: s.Size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].value < out[j].value })
	return out, nil
}

// resolve finds the function symbol covering addr, returning its
// (demangled) name and the byte offset within it. ok is false for an
// address outside every known symbol's range.
func resolve(syms []symbol, addr uint64) (name string, offset uint64, ok bool) {
	i := sort.Search(len(syms), func(i int) bool { return syms[i].value > addr }) - 1
	if i < 0 {
		return "", 0, false
	}
	s := syms[i]
	if s.size != 0 && addr >= s.value+s.size {
		return "", 0, false
	}
	return demangle.Filter(s.name), addr - s.value, true
}

// textBytesAt returns up to n bytes of the .text section's file
// contents starting at virtual address addr, for disassembly context
// around a faulting EIP.
func textBytesAt(f *elf.File, addr uint64, n int) ([]byte, uint64, error) {
	sec := f.Section(".text")
	if sec == nil {
		return nil, 0, fmt.Errorf("no .text section")
	}
	if addr < sec.Addr || addr >= sec.Addr+sec.Size {
		return nil, 0, fmt.Errorf("address %#x outside .text [%#x,%#x)", addr, sec.Addr, sec.Addr+sec.Size)
	}
	data, err := sec.Data()
	if err != nil {
		return nil, 0, err
	}
	off := addr - sec.Addr
	end := off + uint64(n)
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	return data[off:end], addr, nil
}

// disasmOne decodes a single 32-bit x86 instruction at the front of buf
// and renders it in GNU (AT&T) syntax, matching the register dump's own
// GNU-style mnemonics convention (biscuit's panic dumps use objdump -d
// output for cross-reference, which is GNU syntax).
func disasmOne(buf []byte, pc uint64) string {
	inst, err := x86asm.Decode(buf, 32)
	if err != nil {
		return fmt.Sprintf("(bad: %v)", err)
	}
	return x86asm.GNUSyntax(inst, pc, nil)
}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <kernel.elf> <eip> [eip...]\n", os.Args[0])
		os.Exit(2)
	}
	f, err := elf.Open(os.Args[1])
	if err != nil {
		log.Fatalf("open %s: %v", os.Args[1], err)
	}
	defer f.Close()

	syms, err := loadSymbols(f)
	if err != nil {
		log.Fatal(err)
	}

	for _, arg := range os.Args[2:] {
		addr, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			log.Fatalf("bad address %q: %v", arg, err)
		}
		name, off, ok := resolve(syms, addr)
		if !ok {
			fmt.Printf("%#08x  <unknown>\n", addr)
			continue
		}
		line := fmt.Sprintf("%#08x  %s+%#x", addr, name, off)
		if buf, pc, err := textBytesAt(f, addr, 16); err == nil {
			line += "  " + disasmOne(buf, pc)
		}
		fmt.Println(line)
	}
}
