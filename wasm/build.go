package wasm

// Constructors for synthesized instructions. They carry Start = End = -1.

func synth(op byte, imm interface{}) Instruction {
	return Instruction{Opcode: op, Imm: imm, Start: -1, End: -1}
}

// Op returns an instruction without immediates.
func Op(op byte) Instruction { return synth(op, nil) }

// End returns an end instruction.
func End() Instruction { return Op(OpEnd) }

// I32Const returns i32.const v.
func I32Const(v int32) Instruction { return synth(OpI32Const, I32Imm{Value: v}) }

// I64Const returns i64.const v.
func I64Const(v int64) Instruction { return synth(OpI64Const, I64Imm{Value: v}) }

// F32Const returns f32.const v.
func F32Const(v float32) Instruction { return synth(OpF32Const, F32Imm{Value: v}) }

// F64Const returns f64.const v.
func F64Const(v float64) Instruction { return synth(OpF64Const, F64Imm{Value: v}) }

// LocalGet returns local.get idx.
func LocalGet(idx uint32) Instruction { return synth(OpLocalGet, LocalImm{LocalIdx: idx}) }

// LocalSet returns local.set idx.
func LocalSet(idx uint32) Instruction { return synth(OpLocalSet, LocalImm{LocalIdx: idx}) }

// LocalTee returns local.tee idx.
func LocalTee(idx uint32) Instruction { return synth(OpLocalTee, LocalImm{LocalIdx: idx}) }

// GlobalGet returns global.get idx.
func GlobalGet(idx uint32) Instruction { return synth(OpGlobalGet, GlobalImm{GlobalIdx: idx}) }

// GlobalSet returns global.set idx.
func GlobalSet(idx uint32) Instruction { return synth(OpGlobalSet, GlobalImm{GlobalIdx: idx}) }

// Call returns call funcIdx.
func Call(funcIdx uint32) Instruction { return synth(OpCall, CallImm{Func: NewCell(funcIdx)}) }

// Mem returns a load or store with the given alignment exponent and offset.
func Mem(op byte, align, offset uint32) Instruction {
	return synth(op, &MemArg{Align: align, Offset: offset})
}

// MemorySize returns memory.size for memory 0.
func MemorySize() Instruction { return synth(OpMemorySize, MemoryIdxImm{}) }

// Block returns a block of type bt around body; the closing end is added.
func Block(bt int32, body ...Instruction) Instruction {
	b := synth(OpBlock, BlockImm{Type: bt})
	b.Body = append(append(make([]Instruction, 0, len(body)+1), body...), End())
	return b
}

// If returns an if of type bt. A non-nil els adds an else branch; the
// closing end is added.
func If(bt int32, then []Instruction, els []Instruction) Instruction {
	b := synth(OpIf, BlockImm{Type: bt})
	body := make([]Instruction, 0, len(then)+len(els)+2)
	body = append(body, then...)
	if els != nil {
		body = append(body, Op(OpElse))
		body = append(body, els...)
	}
	b.Body = append(body, End())
	return b
}

// ConstExpr returns a constant expression with its end.
func ConstExpr(instr Instruction) []Instruction {
	return []Instruction{instr, End()}
}

// NewCode returns a synthesized function body.
func NewCode(locals []LocalEntry, body []Instruction) *Code {
	return &Code{Locals: locals, Body: body, Start: -1}
}
