// Package debuginfo resolves coredump frames to source level functions.
//
// Wasm toolchains embed DWARF in custom sections named ".debug_*". Load
// reads them with debug/dwarf and indexes every subprogram by its linkage
// name, which is also the name the name section gives the function, so a
// function index can be mapped to its source function:
//
//	d, err := debuginfo.Load(raw)
//	fn, ok := d.Function(names[frame.FuncIdx])
//
// Frame bases (DW_OP_WASM_location) and parameter locations (DW_OP_fbreg)
// are decoded for the shapes LLVM emits; other expressions are reported as
// unknown.
//
// Split moves debug sections into a separate module so that a stripped
// binary can be shipped while coredumps are still resolvable offline.
package debuginfo
