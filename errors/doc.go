// Package errors provides structured error types for the wasm-coredump tooling.
//
// Errors are categorized by Phase (which stage of the pipeline failed) and Kind
// (error category). The Error type carries a location path, the offending value
// and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseModule, errors.KindNotFound).
//		Path("export", "main").
//		Detail("export %q not found", "main").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Unsupported(errors.PhaseModule, "add_import")
//	err := errors.Malformed(errors.PhaseCoredump, "Wasm module is not a coredump")
//
// All errors implement the standard error interface and support errors.Is/As.
// Is matches on Phase and Kind only, so a template error can be used as target:
//
//	if errors.Is(err, &errors.Error{Phase: errors.PhaseModule, Kind: errors.KindNotFound}) { ... }
package errors
