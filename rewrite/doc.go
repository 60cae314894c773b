// Package rewrite instruments a WebAssembly module so that a trap leaves a
// coredump of the guest call stack in linear memory.
//
// # How It Works
//
// The pass adds four mutable i32 globals and a small guest runtime made of
// synthesized functions named "coredump/...". It then walks every function
// body:
//
//  1. Exported functions record themselves as the entry function the first
//     time one of them is entered.
//  2. unreachable (and, with CheckMemory, an out of bounds i32.load) sets the
//     unwinding flag, captures the current frame and returns dummy results
//     instead of trapping.
//  3. After every call the caller checks the unwinding flag. If set, it
//     captures its own frame and returns dummy results to its caller.
//  4. When the entry function is reached the frames are finalized and the
//     original trap is raised.
//
// Frames are therefore written innermost first. The layout in memory, at
// Config.FramesBase:
//
//	+0  "core" marker (u32 LE)
//	+4  frame count (u32 LE)
//	+8  end address of the frames (u32 LE)
//	+12 frames, tool-conventions encoding with LEB fields padded to 5 bytes
//
// The engine package reads this region back after a trap.
//
// # Limitations
//
// Frames captured while unwinding report parameters as sentinel i32 values
// (669, 670, ...) because parameters may have been reassigned by the time the
// call returns. Declared locals are captured with their real values. Traps
// raised by the host or by instructions other than unreachable and i32.load
// are not captured.
//
// # Usage
//
//	out, err := rewrite.Transform(wasmBytes, rewrite.DefaultConfig())
package rewrite
