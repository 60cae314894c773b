package rewrite

import (
	"fmt"
	"sync"

	"github.com/wippyai/wasm-coredump/module"
	"github.com/wippyai/wasm-coredump/traverse"
	"github.com/wippyai/wasm-coredump/wasm"
)

// Dummy values returned in place of real results while unwinding. Distinct
// constants tell the trap sites apart in a memory dump.
const (
	dummyTrap    = 666
	dummyUnwind  = 667
	paramMissing = 669
)

// funcInfo is what the instrumenter knows about one function before its
// body is rewritten. Only the worker owning the body touches scratch.
type funcInfo struct {
	typ     wasm.FuncType
	locals  []wasm.ValType // declared locals, parameters excluded
	scratch *uint32
}

func (fi *funcInfo) localCount() uint32 {
	return uint32(len(fi.typ.Params) + len(fi.locals))
}

// instrumenter rewrites function bodies. VisitCode runs on the dispatching
// goroutine; VisitInstr runs on the worker owning the body.
type instrumenter struct {
	m     *module.Module
	cfg   Config
	g     globals
	rt    runtimeFuncs
	funcs sync.Map // funcIdx -> *funcInfo
}

var (
	_ traverse.CodeVisitor  = (*instrumenter)(nil)
	_ traverse.InstrVisitor = (*instrumenter)(nil)
)

func (in *instrumenter) VisitCode(ctx *traverse.CodeContext) error {
	if in.rt.contains(ctx.FuncIdx) {
		return nil
	}
	typ, err := in.m.FuncType(ctx.FuncIdx)
	if err != nil {
		return err
	}
	in.funcs.Store(ctx.FuncIdx, &funcInfo{
		typ:    typ,
		locals: wasm.FlattenLocals(ctx.Code.Locals),
	})

	if in.m.IsFuncExported(ctx.FuncIdx) {
		prologue := wasm.If(wasm.BlockTypeVoid, []wasm.Instruction{
			wasm.I32Const(int32(ctx.FuncIdx)),
			wasm.GlobalSet(in.g.entryFunc),
		}, nil)
		ctx.Code.Body = append([]wasm.Instruction{
			wasm.GlobalGet(in.g.entryFunc),
			wasm.I32Const(noEntry),
			wasm.Op(wasm.OpI32Eq),
			prologue,
		}, ctx.Code.Body...)
	}
	return nil
}

func (in *instrumenter) VisitInstr(ctx *traverse.InstrContext) error {
	v, ok := in.funcs.Load(ctx.FuncIdx)
	if !ok {
		return nil
	}
	fi := v.(*funcInfo)

	switch ctx.Instr.Opcode {
	case wasm.OpUnreachable:
		ctx.InsertBefore(in.trap(ctx, fi, dummyTrap)...)
		ctx.Replace(wasm.Op(wasm.OpReturn))
		ctx.Stop()
	case wasm.OpI32Load:
		if in.cfg.CheckMemory {
			return in.checkLoad(ctx, fi)
		}
	case wasm.OpCall, wasm.OpCallIndirect:
		ctx.InsertAfter(in.unwind(ctx, fi)...)
	}
	return nil
}

// trap starts unwinding from the current frame. Outside the entry function
// it leaves dummy results on the stack for a following return.
func (in *instrumenter) trap(ctx *traverse.InstrContext, fi *funcInfo, dummy int64) []wasm.Instruction {
	out := []wasm.Instruction{wasm.Call(in.rt.unreachableShim)}
	out = append(out, in.captureFrame(ctx, fi, false)...)
	out = append(out, in.finishAtEntry(ctx.FuncIdx, nil)...)
	return append(out, dummies(fi.typ.Results, dummy)...)
}

// checkLoad guards an i32.load with an explicit bounds check against the
// current memory size.
func (in *instrumenter) checkLoad(ctx *traverse.InstrContext, fi *funcInfo) error {
	arg, ok := ctx.Instr.Imm.(*wasm.MemArg)
	if !ok {
		return fmt.Errorf("i32.load without memarg at %d", ctx.Instr.Start)
	}
	scratch, err := in.scratchLocal(ctx, fi)
	if err != nil {
		return err
	}

	then := append(in.trap(ctx, fi, dummyUnwind), wasm.Op(wasm.OpReturn))
	ctx.InsertBefore(
		wasm.LocalTee(scratch),
		wasm.Op(wasm.OpI64ExtendI32U),
		wasm.I64Const(int64(arg.Offset)+4),
		wasm.Op(wasm.OpI64Add),
		wasm.MemorySize(),
		wasm.Op(wasm.OpI64ExtendI32U),
		wasm.I64Const(16),
		wasm.Op(wasm.OpI64Shl),
		wasm.Op(wasm.OpI64GtU),
		wasm.If(wasm.BlockTypeVoid, then, nil),
		wasm.LocalGet(scratch),
	)
	return nil
}

// scratchLocal returns the function's i32 scratch local, declaring it on
// first use.
func (in *instrumenter) scratchLocal(ctx *traverse.InstrContext, fi *funcInfo) (uint32, error) {
	if fi.scratch != nil {
		return *fi.scratch, nil
	}
	idx := ctx.Module.FuncLocalsCount(ctx.FuncIdx)
	if !ctx.Module.AddFuncLocal(ctx.FuncIdx, wasm.LocalEntry{Count: 1, ValType: wasm.ValI32}) {
		return 0, fmt.Errorf("func %d has no body", ctx.FuncIdx)
	}
	fi.scratch = &idx
	return idx, nil
}

// unwind follows a call: when the callee started unwinding, the caller
// captures its frame and either finalizes the coredump or keeps unwinding.
func (in *instrumenter) unwind(ctx *traverse.InstrContext, fi *funcInfo) []wasm.Instruction {
	body := in.captureFrame(ctx, fi, true)
	keepUnwinding := append(dummies(fi.typ.Results, dummyUnwind), wasm.Op(wasm.OpReturn))
	body = append(body, in.finishAtEntry(ctx.FuncIdx, keepUnwinding)...)
	return []wasm.Instruction{
		wasm.GlobalGet(in.g.isUnwinding),
		wasm.If(wasm.BlockTypeVoid, body, nil),
	}
}

// captureFrame writes a frame for the current function. Parameters are
// replaced by sentinels when sentinelParams is set.
func (in *instrumenter) captureFrame(ctx *traverse.InstrContext, fi *funcInfo, sentinelParams bool) []wasm.Instruction {
	offset, _ := ctx.Offset()
	out := []wasm.Instruction{
		wasm.I32Const(int32(ctx.FuncIdx)),
		wasm.I32Const(int32(offset)),
		wasm.I32Const(int32(fi.localCount())),
		wasm.Call(in.rt.startFrame),
	}
	for i, t := range fi.typ.Params {
		if sentinelParams {
			out = append(out,
				wasm.I32Const(int32(paramMissing+i)),
				wasm.Call(in.rt.addLocal[wasm.ValI32]),
			)
			continue
		}
		out = append(out, wasm.LocalGet(uint32(i)), wasm.Call(in.rt.addLocal[t]))
	}
	base := uint32(len(fi.typ.Params))
	for i, t := range fi.locals {
		out = append(out, wasm.LocalGet(base+uint32(i)), wasm.Call(in.rt.addLocal[t]))
	}
	return out
}

// finishAtEntry writes the coredump header and traps when funcIdx is the
// entry function. els, if not nil, runs otherwise.
func (in *instrumenter) finishAtEntry(funcIdx uint32, els []wasm.Instruction) []wasm.Instruction {
	return []wasm.Instruction{
		wasm.GlobalGet(in.g.entryFunc),
		wasm.I32Const(int32(funcIdx)),
		wasm.Op(wasm.OpI32Eq),
		wasm.If(wasm.BlockTypeVoid, []wasm.Instruction{
			wasm.Call(in.rt.writeCoredump),
			wasm.Op(wasm.OpUnreachable),
		}, els),
	}
}

// dummies returns one constant per result type.
func dummies(results []wasm.ValType, v int64) []wasm.Instruction {
	out := make([]wasm.Instruction, 0, len(results))
	for _, t := range results {
		switch t {
		case wasm.ValI32:
			out = append(out, wasm.I32Const(int32(v)))
		case wasm.ValI64:
			out = append(out, wasm.I64Const(v))
		case wasm.ValF32:
			out = append(out, wasm.F32Const(float32(v)))
		case wasm.ValF64:
			out = append(out, wasm.F64Const(float64(v)))
		}
	}
	return out
}
