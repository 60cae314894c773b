package traverse

import (
	"github.com/wippyai/wasm-coredump/module"
	"github.com/wippyai/wasm-coredump/wasm"
)

// SectionContext is handed to section level hooks. Nodes is a snapshot of
// the section's entries; entries queued with InsertAfter are appended to
// the live section once the hook returns.
type SectionContext[T any] struct {
	Module *module.Module
	Nodes  []T
	added  []T
}

// InsertAfter queues entries to append to the section.
func (c *SectionContext[T]) InsertAfter(nodes ...T) {
	c.added = append(c.added, nodes...)
}

// CodeContext is handed to the per function hook before the function's
// body is scheduled.
type CodeContext struct {
	Module  *module.Module
	Code    *wasm.Code
	FuncIdx uint32
}

// InstrContext is handed to the instruction hook for every leaf
// instruction. Edits requested through it are applied once the hook
// returns: the replacement first, then the inserted instructions before
// and after the visited position.
type InstrContext struct {
	Module  *module.Module
	Code    *wasm.Code
	Instr   *wasm.Instruction
	FuncIdx uint32

	replace *wasm.Instruction
	before  []wasm.Instruction
	after   []wasm.Instruction
	stop    bool
}

// InsertBefore queues instructions to place before the visited one.
func (c *InstrContext) InsertBefore(instrs ...wasm.Instruction) {
	c.before = append(c.before, instrs...)
}

// InsertAfter queues instructions to place after the visited one.
func (c *InstrContext) InsertAfter(instrs ...wasm.Instruction) {
	c.after = append(c.after, instrs...)
}

// Replace substitutes the visited instruction.
func (c *InstrContext) Replace(instr wasm.Instruction) {
	c.replace = &instr
}

// Stop ends the walk of the current body after this instruction's edits
// are applied.
func (c *InstrContext) Stop() {
	c.stop = true
}

// Offset returns the offset of the visited instruction relative to the
// code section, or false for synthesized instructions and modules built in
// memory.
func (c *InstrContext) Offset() (uint32, bool) {
	if c.Instr.Synthesized() {
		return 0, false
	}
	base, ok := c.Module.CodeSectionStart()
	if !ok {
		return 0, false
	}
	return uint32(c.Instr.Start - base), true
}
