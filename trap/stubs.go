package trap

import "reflect"

// The 49 per-vector entry points declared in stubs_386.s. Each is a
// bodyless Go function purely so it has a linker symbol whose address
// BuildStubTable can read back out with reflect -- none of these are
// ever called as ordinary Go functions, only jumped to by the CPU via
// the IDT gate InitIDT installs.
func vector0()
func vector1()
func vector2()
func vector3()
func vector4()
func vector5()
func vector6()
func vector7()
func vector8()
func vector9()
func vector10()
func vector11()
func vector12()
func vector13()
func vector14()
func vector15()
func vector16()
func vector17()
func vector18()
func vector19()
func vector20()
func vector21()
func vector22()
func vector23()
func vector24()
func vector25()
func vector26()
func vector27()
func vector28()
func vector29()
func vector30()
func vector31()
func vector32()
func vector33()
func vector34()
func vector35()
func vector36()
func vector37()
func vector38()
func vector39()
func vector40()
func vector41()
func vector42()
func vector43()
func vector44()
func vector45()
func vector46()
func vector47()
func vectorSyscall()

func funcAddr(f interface{}) uint32 {
	return uint32(reflect.ValueOf(f).Pointer())
}

// BuildStubTable returns the StubTable InitIDT needs, pointing every
// vector at its own trampoline in stubs_386.s.
func BuildStubTable() StubTable {
	fns := [NumVectors - 1]func(){
		vector0, vector1, vector2, vector3, vector4, vector5, vector6, vector7,
		vector8, vector9, vector10, vector11, vector12, vector13, vector14, vector15,
		vector16, vector17, vector18, vector19, vector20, vector21, vector22, vector23,
		vector24, vector25, vector26, vector27, vector28, vector29, vector30, vector31,
		vector32, vector33, vector34, vector35, vector36, vector37, vector38, vector39,
		vector40, vector41, vector42, vector43, vector44, vector45, vector46, vector47,
	}
	var st StubTable
	for vec, fn := range fns {
		st[idtIndex(uint32(vec))] = funcAddr(fn)
	}
	st[idtIndex(VecSyscall)] = funcAddr(vectorSyscall)
	return st
}
