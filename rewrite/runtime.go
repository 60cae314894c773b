package rewrite

import (
	"math"

	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/module"
	"github.com/wippyai/wasm-coredump/wasm"
)

// noEntry marks entry_funcidx as unset.
const noEntry = math.MaxInt32

// globals holds the indices of the globals added by the pass.
type globals struct {
	// framesPtr points at the last byte written, which is the trailing
	// stack count of the current frame.
	framesPtr   uint32
	framesCount uint32
	isUnwinding uint32
	entryFunc   uint32
}

// runtimeFuncs holds the indices of the synthesized guest runtime.
type runtimeFuncs struct {
	writeLEB        uint32
	unreachableShim uint32
	startFrame      uint32
	writeCoredump   uint32
	addLocal        map[wasm.ValType]uint32
}

func mutableI32(v int32) wasm.Global {
	return wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: wasm.ConstExpr(wasm.I32Const(v)),
	}
}

func addGlobals(m *module.Module, cfg Config) globals {
	g := globals{
		framesPtr:   m.AddGlobal(mutableI32(int32(cfg.FramesBase + coredump.RegionHeaderSize - 1))),
		framesCount: m.AddGlobal(mutableI32(0)),
		isUnwinding: m.AddGlobal(mutableI32(0)),
		entryFunc:   m.AddGlobal(mutableI32(noEntry)),
	}
	debugf("frames_ptr global: %d", g.framesPtr)
	debugf("frames_count global: %d", g.framesCount)
	debugf("is_unwinding global: %d", g.isUnwinding)
	debugf("entry_funcidx global: %d", g.entryFunc)
	return g
}

// addFunc adds a named runtime function.
func addFunc(m *module.Module, name string, t wasm.FuncType, locals []wasm.LocalEntry, body []wasm.Instruction) uint32 {
	body = append(body, wasm.End())
	idx := m.AddFunction(wasm.NewCode(locals, body), m.FindOrAddType(t))
	m.AddFuncName(idx, "coredump/"+name)
	debugf("%s func: %d", name, idx)
	return idx
}

func store8(offset uint32) wasm.Instruction { return wasm.Mem(wasm.OpI32Store8, 0, offset) }

func addRuntime(m *module.Module, g globals, cfg Config) runtimeFuncs {
	var rt runtimeFuncs

	// write_leb5(ptr, v) writes v as a 5 byte LEB128.
	var leb []wasm.Instruction
	for i := uint32(0); i < 4; i++ {
		leb = append(leb,
			wasm.LocalGet(0),
			wasm.LocalGet(1),
			wasm.I32Const(int32(7*i)),
			wasm.Op(wasm.OpI32ShrU),
			wasm.I32Const(0x7f),
			wasm.Op(wasm.OpI32And),
			wasm.I32Const(0x80),
			wasm.Op(wasm.OpI32Or),
			store8(i),
		)
	}
	leb = append(leb,
		wasm.LocalGet(0),
		wasm.LocalGet(1),
		wasm.I32Const(28),
		wasm.Op(wasm.OpI32ShrU),
		store8(4),
	)
	rt.writeLEB = addFunc(m, "write_leb5",
		wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}}, nil, leb)

	rt.unreachableShim = addFunc(m, "unreachable_shim", wasm.FuncType{}, nil, []wasm.Instruction{
		wasm.I32Const(1),
		wasm.GlobalSet(g.isUnwinding),
	})

	// start_frame(funcidx, codeoffset, local_count); local 3 is the frame
	// start.
	const p = 3
	lebAt := func(off int32, arg uint32) []wasm.Instruction {
		return []wasm.Instruction{
			wasm.LocalGet(p),
			wasm.I32Const(off),
			wasm.Op(wasm.OpI32Add),
			wasm.LocalGet(arg),
			wasm.Call(rt.writeLEB),
		}
	}
	start := []wasm.Instruction{
		wasm.GlobalGet(g.framesPtr),
		wasm.I32Const(1),
		wasm.Op(wasm.OpI32Add),
		wasm.LocalSet(p),
		// version
		wasm.LocalGet(p),
		wasm.I32Const(0),
		store8(0),
	}
	start = append(start, lebAt(1, 0)...)
	start = append(start, lebAt(6, 1)...)
	start = append(start, lebAt(11, 2)...)
	start = append(start,
		// empty operand stack
		wasm.LocalGet(p),
		wasm.I32Const(0),
		store8(16),
		wasm.LocalGet(p),
		wasm.I32Const(16),
		wasm.Op(wasm.OpI32Add),
		wasm.GlobalSet(g.framesPtr),
		wasm.GlobalGet(g.framesCount),
		wasm.I32Const(1),
		wasm.Op(wasm.OpI32Add),
		wasm.GlobalSet(g.framesCount),
	)
	rt.startFrame = addFunc(m, "start_frame",
		wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32}},
		[]wasm.LocalEntry{{Count: 1, ValType: wasm.ValI32}}, start)

	rt.addLocal = make(map[wasm.ValType]uint32, 4)
	for _, lt := range []struct {
		name  string
		t     wasm.ValType
		store byte
		size  uint32
	}{
		{"add_i32_local", wasm.ValI32, wasm.OpI32Store, 4},
		{"add_i64_local", wasm.ValI64, wasm.OpI64Store, 8},
		{"add_f32_local", wasm.ValF32, wasm.OpF32Store, 4},
		{"add_f64_local", wasm.ValF64, wasm.OpF64Store, 8},
	} {
		// The tag overwrites the trailing stack count, which moves past
		// the value. The value is unaligned.
		body := []wasm.Instruction{
			wasm.GlobalGet(g.framesPtr),
			wasm.I32Const(int32(lt.t)),
			store8(0),
			wasm.GlobalGet(g.framesPtr),
			wasm.LocalGet(0),
			wasm.Mem(lt.store, 0, 1),
			wasm.GlobalGet(g.framesPtr),
			wasm.I32Const(0),
			store8(1 + lt.size),
			wasm.GlobalGet(g.framesPtr),
			wasm.I32Const(int32(1 + lt.size)),
			wasm.Op(wasm.OpI32Add),
			wasm.GlobalSet(g.framesPtr),
		}
		rt.addLocal[lt.t] = addFunc(m, lt.name,
			wasm.FuncType{Params: []wasm.ValType{lt.t}}, nil, body)
	}

	base := int32(cfg.FramesBase)
	rt.writeCoredump = addFunc(m, "write_coredump", wasm.FuncType{}, nil, []wasm.Instruction{
		wasm.I32Const(base),
		wasm.I32Const(coredump.RegionMarker),
		wasm.Mem(wasm.OpI32Store, 2, coredump.RegionMarkerOffset),
		wasm.I32Const(base),
		wasm.GlobalGet(g.framesCount),
		wasm.Mem(wasm.OpI32Store, 2, coredump.RegionCountOffset),
		wasm.I32Const(base),
		wasm.GlobalGet(g.framesPtr),
		wasm.I32Const(1),
		wasm.Op(wasm.OpI32Add),
		wasm.Mem(wasm.OpI32Store, 2, coredump.RegionEndOffset),
	})
	return rt
}

// contains reports whether funcIdx is one of the runtime functions.
func (rt *runtimeFuncs) contains(funcIdx uint32) bool {
	switch funcIdx {
	case rt.writeLEB, rt.unreachableShim, rt.startFrame, rt.writeCoredump:
		return true
	}
	for _, idx := range rt.addLocal {
		if idx == funcIdx {
			return true
		}
	}
	return false
}
