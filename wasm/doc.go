// Package wasm provides WebAssembly 1.0 binary format decoding and encoding
// over a mutable module tree.
//
// # Supported Features
//
//	WebAssembly 1.0 (MVP):
//	  - Core value types (i32, i64, f32, f64)
//	  - Functions, tables, memories, globals, element and data segments
//	  - Control flow, calls, local/global access, memory access
//
//	Post-MVP instructions emitted by common toolchains:
//	  - Sign extension operators
//	  - Saturating float to int conversions
//	  - memory.copy and memory.fill
//
// # Decoding
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.Decode(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// A module is the ordered list of its sections. Function bodies are
// decoded into instruction trees: block, loop and if own their nested body,
// and every decoded instruction remembers its offset in the input so code
// offsets can be computed relative to the code section.
//
// Custom sections named "name", "core", "corestack" and "build_id" are
// decoded into typed content. Other custom sections, and known ones whose
// payload fails to decode, are kept as raw bytes.
//
// # Encoding
//
//	encoded := module.Encode()
//
// Section and function body lengths are recomputed on every encode, so a
// tree modified in place always produces a well-formed binary. For input
// using minimal LEB128 encodings, decoding and encoding is the identity.
//
// # Mutable cells
//
// Call targets and export targets are held in a Cell shared by every copy
// of the instruction or export, and load/store immediates are held by
// pointer, so rewrite passes can repoint or patch them in place.
package wasm
