// Package stack turns the raw frames of a coredump into a symbolized call
// stack.
package stack

import (
	"fmt"

	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/debuginfo"
)

// UnknownFile is reported for frames without source information.
const UnknownFile = "unknown.rs"

// Frame is one symbolized stack frame.
type Frame struct {
	// LinkageName is the name section entry, or "<unknown-func N>".
	LinkageName string
	// Name is namespace qualified when debug info knows the function,
	// LinkageName otherwise.
	Name       string
	File       string
	Line       int
	FuncIdx    uint32
	CodeOffset uint32
	// Function is nil when the provider does not know the function.
	Function *debuginfo.Function
}

// Location returns "file:line".
func (f *Frame) Location() string {
	return fmt.Sprintf("%s:%d", f.File, f.Line)
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s at %s", f.Name, f.Location())
}

// Resolve symbolizes the frames of the first thread of c, innermost first.
// names maps function indices to linkage names; p may be nil.
func Resolve(c *coredump.Coredump, names map[uint32]string, p debuginfo.Provider) []Frame {
	if len(c.Stacks) == 0 {
		return nil
	}
	frames := c.Stacks[0].Frames
	out := make([]Frame, len(frames))
	for i := range frames {
		out[i] = ResolveFrame(&frames[i], names, p)
	}
	return out
}

// ResolveFrame symbolizes a single frame.
func ResolveFrame(f *coredump.StackFrame, names map[uint32]string, p debuginfo.Provider) Frame {
	linkage, ok := names[f.FuncIdx]
	if !ok {
		linkage = fmt.Sprintf("<unknown-func%d>", f.FuncIdx)
	}
	out := Frame{
		LinkageName: linkage,
		Name:        linkage,
		File:        UnknownFile,
		FuncIdx:     f.FuncIdx,
		CodeOffset:  f.CodeOffset,
	}
	if p == nil {
		return out
	}

	if fn, ok := p.Function(linkage); ok {
		out.Function = fn
		if fn.Name != "" {
			out.Name = fn.QualifiedName()
		}
		if fn.File != "" {
			out.File = fn.File
			out.Line = fn.Line
		}
	}
	if file, line, ok := p.Line(uint64(f.CodeOffset)); ok {
		out.File = file
		out.Line = line
	}
	return out
}
