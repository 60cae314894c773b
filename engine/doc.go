// Package engine runs instrumented WebAssembly modules on wazero and turns
// their traps into coredumps.
//
// A module processed by the rewrite package writes its call stack into
// linear memory just before it traps. Run instantiates the module, calls
// an export and, when the call traps, reads that frames region back and
// builds a coredump module from it together with a copy of the whole
// memory:
//
//	e, err := engine.New(ctx, engine.DefaultConfig())
//	defer e.Close(ctx)
//	res, err := e.Run(ctx, instrumented, "main")
//	if res.Trapped && res.Coredump != nil {
//		os.WriteFile("core.wasm", res.Coredump, 0o644)
//	}
//
// Every Run uses a fresh instance, so globals such as the unwinding flag
// start from their initial values.
package engine
