// Package module provides the index and query layer over a decoded
// WebAssembly module.
//
// A Module answers the questions rewrite passes and coredump tooling ask
// repeatedly: the signature of a function index, its locals, whether it is
// imported or exported, its name. It is also the only sanctioned way to
// mutate a module; adding types, globals, functions, locals, names,
// exports and custom sections keeps the derived tables consistent and is
// safe from concurrently running rewrite tasks.
//
//	m, err := module.Decode(data)
//	if err != nil {
//	    return err
//	}
//	t, err := m.FuncType(funcIdx)
//	idx := m.AddGlobal(wasm.Global{...})
//	out := m.Encode()
//
// Adding imports is not supported: it would shift every index defined
// after the new import.
package module
