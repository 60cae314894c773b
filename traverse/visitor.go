package traverse

import "github.com/wippyai/wasm-coredump/wasm"

// Visitor is any value implementing one or more of the hook interfaces
// below. Hooks that are not implemented are skipped.
//
// Instruction and code hooks run concurrently for different functions and
// must only mutate shared module state through the module facade.
type Visitor interface{}

// TypeVisitor is called once with the type section.
type TypeVisitor interface {
	VisitTypes(ctx *SectionContext[wasm.FuncType]) error
}

// ImportVisitor is called once with the import section.
type ImportVisitor interface {
	VisitImports(ctx *SectionContext[wasm.Import]) error
}

// FuncSectionVisitor is called once with the function section.
type FuncSectionVisitor interface {
	VisitFuncs(ctx *SectionContext[uint32]) error
}

// TableVisitor is called once with the table section.
type TableVisitor interface {
	VisitTables(ctx *SectionContext[wasm.TableType]) error
}

// ExportVisitor is called once with the export section.
type ExportVisitor interface {
	VisitExports(ctx *SectionContext[wasm.Export]) error
}

// ElementVisitor is called once with the element section.
type ElementVisitor interface {
	VisitElements(ctx *SectionContext[wasm.Element]) error
}

// DataVisitor is called once with the data section.
type DataVisitor interface {
	VisitData(ctx *SectionContext[wasm.DataSegment]) error
}

// CodeSectionVisitor is called once with the code section, before any
// function body is walked. Bodies it appends are walked too.
type CodeSectionVisitor interface {
	VisitCodeSection(ctx *SectionContext[*wasm.Code]) error
}

// CodeVisitor is called for every function body, in module order, on the
// dispatching goroutine.
type CodeVisitor interface {
	VisitCode(ctx *CodeContext) error
}

// InstrVisitor is called for every leaf instruction. Structured
// instructions are not visited themselves; their bodies are walked.
type InstrVisitor interface {
	VisitInstr(ctx *InstrContext) error
}
