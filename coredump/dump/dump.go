// Package dump prints coredumps in their text form:
//
//	(module (coredump)
//	    (process (name "app.wasm"))
//	    (thread (name "main")
//	        (func 12 (offset 345))
//	    )
//	    (data (i32.const 0) "...65536 bytes")
//	    (memory 1)
//	)
package dump

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/wippyai/wasm-coredump/coredump"
)

const tab = "    "

// Write writes the text form of c to w. Frame locals, when captured, are
// listed inside their func form. The data line is omitted for an empty
// memory image.
func Write(w io.Writer, c *coredump.Coredump) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "(module (coredump)")
	fmt.Fprintf(bw, "%s(process (name %q))\n", tab, c.Process.ExecutableName)
	for i := range c.Stacks {
		writeStack(bw, 1, &c.Stacks[i])
	}
	if len(c.Data) > 0 {
		fmt.Fprintf(bw, "%s(data (i32.const 0) \"...%d bytes\")\n", tab, len(c.Data))
	}
	for _, mem := range c.Memory {
		if mem.Max != nil {
			fmt.Fprintf(bw, "%s(memory %d %d)\n", tab, mem.Min, *mem.Max)
		} else {
			fmt.Fprintf(bw, "%s(memory %d)\n", tab, mem.Min)
		}
	}
	fmt.Fprintln(bw, ")")

	return bw.Flush()
}

// String returns the text form of c.
func String(c *coredump.Coredump) string {
	var sb strings.Builder
	_ = Write(&sb, c)
	return sb.String()
}

func writeStack(w io.Writer, depth int, s *coredump.CoreStack) {
	indent := strings.Repeat(tab, depth)
	fmt.Fprintf(w, "%s(thread (name %q)\n", indent, s.ThreadName)
	for i := range s.Frames {
		writeFrame(w, depth+1, &s.Frames[i])
	}
	fmt.Fprintf(w, "%s)\n", indent)
}

func writeFrame(w io.Writer, depth int, f *coredump.StackFrame) {
	indent := strings.Repeat(tab, depth)
	if len(f.Locals) == 0 {
		fmt.Fprintf(w, "%s(func %d (offset %d))\n", indent, f.FuncIdx, f.CodeOffset)
		return
	}
	fmt.Fprintf(w, "%s(func %d (offset %d)\n", indent, f.FuncIdx, f.CodeOffset)
	for _, v := range f.Locals {
		fmt.Fprintf(w, "%s%s(local %s)\n", indent, tab, v)
	}
	fmt.Fprintf(w, "%s)\n", indent)
}
