// Command genirqtab is the go:generate helper behind irq/table_gen.go
// (invoked by irq.go's own //go:generate directive). It loads a target
// package's type-checked syntax tree with golang.org/x/tools/go/packages,
// finds every RegisterIRQ(line, handler) call site, verifies at
// generate time (not merely at compile time) that the handler
// expression's static type is assignable to irq.Handler
// (func(*trapframe.Frame)), and emits a map from each registered IRQ
// line to the textual handler expression -- so a panic-time dump
// (irq.DumpCounts) can name a line's handler without the kernel itself
// carrying any reflection or symbol machinery (it has none; see
// DESIGN.md on tools/symify).
//
// Run as:
//
//	go run ./tools/genirqtab -pkg github.com/gerben-stavenga/RetroOS/boot -out irq/table_gen.go
package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/ast"
	"go/constant"
	"go/format"
	"go/types"
	"log"
	"os"
	"sort"

	"golang.org/x/tools/go/packages"
)

const handlerPkgPath = "github.com/gerben-stavenga/RetroOS/irq"
const handlerTypeName = "Handler"

func main() {
	pkgPath := flag.String("pkg", "", "import path of the package whose RegisterIRQ call sites to scan")
	out := flag.String("out", "", "output file path (written as `package irq`)")
	flag.Parse()
	if *pkgPath == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "usage: genirqtab -pkg <import path> -out <file.go>")
		os.Exit(2)
	}

	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedTypes | packages.NeedTypesInfo |
			packages.NeedSyntax | packages.NeedImports | packages.NeedDeps,
	}
	pkgs, err := packages.Load(cfg, *pkgPath, handlerPkgPath)
	if err != nil {
		log.Fatalf("loading packages: %v", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		log.Fatal("errors loading packages (see above)")
	}

	var target, handlerPkg *packages.Package
	for _, p := range pkgs {
		switch p.PkgPath {
		case *pkgPath:
			target = p
		case handlerPkgPath:
			handlerPkg = p
		}
	}
	if target == nil || handlerPkg == nil {
		log.Fatalf("could not resolve both %s and %s", *pkgPath, handlerPkgPath)
	}

	obj := handlerPkg.Types.Scope().Lookup(handlerTypeName)
	if obj == nil {
		log.Fatalf("%s: type %s not found", handlerPkgPath, handlerTypeName)
	}
	handlerType := obj.Type()

	names := map[int64]string{}
	for _, f := range target.Syntax {
		ast.Inspect(f, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok || sel.Sel.Name != "RegisterIRQ" || len(call.Args) != 2 {
				return true
			}
			lineArg, handlerArg := call.Args[0], call.Args[1]

			tv, ok := target.TypesInfo.Types[lineArg]
			if !ok || tv.Value == nil {
				log.Fatalf("%s: RegisterIRQ line argument is not a constant", target.Fset.Position(call.Pos()))
			}
			line, ok := constant.Int64Val(tv.Value)
			if !ok {
				log.Fatalf("%s: RegisterIRQ line argument is not an integer constant", target.Fset.Position(call.Pos()))
			}

			ht, ok := target.TypesInfo.Types[handlerArg]
			if !ok {
				log.Fatalf("%s: no type information for handler argument", target.Fset.Position(call.Pos()))
			}
			if !types.AssignableTo(ht.Type, handlerType) {
				log.Fatalf("%s: handler argument of type %s is not assignable to %s.%s",
					target.Fset.Position(call.Pos()), ht.Type, handlerPkgPath, handlerTypeName)
			}

			names[line] = exprText(handlerArg)
			return true
		})
	}

	if len(names) == 0 {
		log.Fatalf("%s: no RegisterIRQ call sites found", *pkgPath)
	}

	src := render(names)
	formatted, err := format.Source(src)
	if err != nil {
		log.Fatalf("formatting generated source: %v\n---\n%s", err, src)
	}
	if err := os.WriteFile(*out, formatted, 0o644); err != nil {
		log.Fatalf("writing %s: %v", *out, err)
	}
	fmt.Printf("wrote %s (%d IRQ lines)\n", *out, len(names))
}

// exprText renders the original source text of a selector/ident
// expression, used so the generated table's entry names the handler
// exactly as the scanned package spelled it (e.g.
// "irq.Global.TimerHandler"). go/printer is overkill for the narrow
// shape RegisterIRQ's second argument always takes.
func exprText(n ast.Expr) string {
	switch e := n.(type) {
	case *ast.SelectorExpr:
		return exprText(e.X) + "." + e.Sel.Name
	case *ast.Ident:
		return e.Name
	default:
		return "<expr>"
	}
}

func render(names map[int64]string) []byte {
	lines := make([]int64, 0, len(names))
	for l := range names {
		lines = append(lines, l)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i] < lines[j] })

	var buf bytes.Buffer
	buf.WriteString("// Code generated by tools/genirqtab; DO NOT EDIT.\npackage irq\n\n")
	buf.WriteString("// RegisteredNames maps an IRQ line to the textual handler expression\n")
	buf.WriteString("// registered for it, type-checked against Handler at generation time.\n")
	buf.WriteString("var RegisteredNames = map[int]string{\n")
	for _, l := range lines {
		fmt.Fprintf(&buf, "\t%d: %q,\n", l, names[l])
	}
	buf.WriteString("}\n")
	return buf.Bytes()
}
