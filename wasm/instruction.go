package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-coredump/internal/binary"
)

// Instruction represents a decoded WebAssembly instruction. Structured
// instructions (block, loop, if) own their nested Body, which ends with the
// matching end; an if body carries its else marker inline.
type Instruction struct {
	Imm  interface{}
	Body []Instruction

	// Start and End are the absolute offsets of the instruction encoding in
	// the decoded input. For structured instructions they cover the opcode
	// and block type only. Both are -1 for synthesized instructions.
	Start int
	End   int

	Opcode byte
}

// Synthesized reports whether the instruction was created in memory rather
// than decoded.
func (i *Instruction) Synthesized() bool { return i.Start < 0 }

// IsStructured reports whether the instruction owns a nested body.
func (i *Instruction) IsStructured() bool {
	return i.Opcode == OpBlock || i.Opcode == OpLoop || i.Opcode == OpIf
}

// BlockImm holds the block type for block, loop and if instructions.
type BlockImm struct {
	Type int32 // Block type: -64=void, -1=i32, -2=i64, -3=f32, -4=f64, >=0=type index
}

// BranchImm holds the label index for br and br_if instructions.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table instruction.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the callee of a call instruction. Func is shared by copies
// of the instruction, so repointing a call is a single Set.
type CallImm struct {
	Func *Cell
}

// FuncIdx returns the current callee.
func (c CallImm) FuncIdx() uint32 { return c.Func.Get() }

// CallIndirectImm holds type and table indices for call_indirect instruction.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// TableImm holds the table index for table.get and table.set.
type TableImm struct {
	TableIdx uint32
}

// MemArg holds the alignment and offset of a load or store. Instructions
// keep it by pointer so passes can patch offsets in place.
type MemArg struct {
	Align  uint32
	Offset uint32
}

// MemoryIdxImm holds memory index for memory.size, memory.grow
type MemoryIdxImm struct {
	MemIdx uint32
}

// I32Imm holds the constant value for i32.const instruction.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const instruction.
type I64Imm struct {
	Value int64
}

// F32Imm holds the constant value for f32.const instruction.
type F32Imm struct {
	Value float32
}

// F64Imm holds the constant value for f64.const instruction.
type F64Imm struct {
	Value float64
}

// MiscImm holds the sub-opcode and immediates for 0xFC prefix instructions
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// maxNesting bounds block nesting while decoding.
const maxNesting = 1024

// decodeExpr decodes instructions up to and including the end that closes
// the current nesting level.
func decodeExpr(r *binary.Reader, depth int) ([]Instruction, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("block nesting exceeds %d", maxNesting)
	}
	var out []Instruction
	for {
		instr, err := decodeInstruction(r, depth)
		if err != nil {
			return nil, err
		}
		out = append(out, instr)
		if instr.Opcode == OpEnd {
			return out, nil
		}
	}
}

func decodeInstruction(r *binary.Reader, depth int) (Instruction, error) {
	start := r.Position()
	op, err := r.ReadByte()
	if err != nil {
		return Instruction{}, binary.ErrUnexpectedEnd
	}
	instr := Instruction{Opcode: op, Start: start}

	switch {
	case op == OpBlock || op == OpLoop || op == OpIf:
		bt, err := readBlockType(r)
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = BlockImm{Type: bt}
		instr.End = r.Position()
		if instr.Body, err = decodeExpr(r, depth+1); err != nil {
			return Instruction{}, err
		}
		return instr, nil

	case op == OpUnreachable, op == OpNop, op == OpElse, op == OpEnd, op == OpReturn,
		op == OpDrop, op == OpSelect:

	case op == OpBr || op == OpBrIf:
		l, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = BranchImm{LabelIdx: l}

	case op == OpBrTable:
		count, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		labels := make([]uint32, 0, min(int(count), r.Len()))
		for i := uint32(0); i < count; i++ {
			l, err := r.ReadU32()
			if err != nil {
				return Instruction{}, err
			}
			labels = append(labels, l)
		}
		def, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = BrTableImm{Labels: labels, Default: def}

	case op == OpCall:
		idx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = CallImm{Func: NewCell(idx)}

	case op == OpCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		tableIdx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}

	case op >= OpLocalGet && op <= OpLocalTee:
		idx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = LocalImm{LocalIdx: idx}

	case op == OpGlobalGet || op == OpGlobalSet:
		idx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = GlobalImm{GlobalIdx: idx}

	case op == OpTableGet || op == OpTableSet:
		idx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = TableImm{TableIdx: idx}

	case op >= OpI32Load && op <= OpI64Store32:
		align, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		offset, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = &MemArg{Align: align, Offset: offset}

	case op == OpMemorySize || op == OpMemoryGrow:
		idx, err := r.ReadByte()
		if err != nil {
			return Instruction{}, binary.ErrUnexpectedEnd
		}
		instr.Imm = MemoryIdxImm{MemIdx: uint32(idx)}

	case op == OpI32Const:
		v, err := r.ReadS32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = I32Imm{Value: v}

	case op == OpI64Const:
		v, err := r.ReadS64()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = I64Imm{Value: v}

	case op == OpF32Const:
		v, err := r.ReadF32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = F32Imm{Value: v}

	case op == OpF64Const:
		v, err := r.ReadF64()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = F64Imm{Value: v}

	case op >= opNumericFirst && op <= OpI64Extend32S:

	case op == OpPrefixMisc:
		imm, err := readMisc(r)
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = imm

	default:
		return Instruction{}, fmt.Errorf("unknown opcode 0x%02x", op)
	}

	instr.End = r.Position()
	return instr, nil
}

// readBlockType reads the empty type, a value type, or a signed type index.
func readBlockType(r *binary.Reader) (int32, error) {
	b, err := r.PeekByte()
	if err != nil {
		return 0, binary.ErrUnexpectedEnd
	}
	switch b {
	case 0x40, byte(ValI32), byte(ValI64), byte(ValF32), byte(ValF64):
		_, _ = r.ReadByte()
		return int32(int8(b<<1) >> 1), nil
	}
	v, err := r.ReadS33()
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 0x7fffffff {
		return 0, fmt.Errorf("invalid block type %d", v)
	}
	return int32(v), nil
}

func readMisc(r *binary.Reader) (MiscImm, error) {
	sub, err := r.ReadU32()
	if err != nil {
		return MiscImm{}, err
	}
	imm := MiscImm{SubOpcode: sub}
	switch {
	case sub <= MiscI64TruncSatF64U:
	case sub == MiscMemoryCopy:
		dst, err := r.ReadByte()
		if err != nil {
			return MiscImm{}, binary.ErrUnexpectedEnd
		}
		src, err := r.ReadByte()
		if err != nil {
			return MiscImm{}, binary.ErrUnexpectedEnd
		}
		imm.Operands = []uint32{uint32(dst), uint32(src)}
	case sub == MiscMemoryFill:
		mem, err := r.ReadByte()
		if err != nil {
			return MiscImm{}, binary.ErrUnexpectedEnd
		}
		imm.Operands = []uint32{uint32(mem)}
	default:
		return MiscImm{}, fmt.Errorf("unknown opcode 0x%02x %d", OpPrefixMisc, sub)
	}
	return imm, nil
}

// encodeExpr writes a sequence of instructions.
func encodeExpr(w *binary.Writer, instrs []Instruction) {
	for i := range instrs {
		encodeInstruction(w, &instrs[i])
	}
}

// encodeInstruction writes one instruction. Encoding is total over the
// decoded opcode set; anything else is a programming error and panics.
func encodeInstruction(w *binary.Writer, instr *Instruction) {
	op := instr.Opcode
	w.Byte(op)

	switch {
	case instr.IsStructured():
		w.WriteS32(instr.Imm.(BlockImm).Type)
		encodeExpr(w, instr.Body)

	case op == OpUnreachable, op == OpNop, op == OpElse, op == OpEnd, op == OpReturn,
		op == OpDrop, op == OpSelect:

	case op == OpBr || op == OpBrIf:
		w.WriteU32(instr.Imm.(BranchImm).LabelIdx)

	case op == OpBrTable:
		imm := instr.Imm.(BrTableImm)
		w.WriteU32(uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			w.WriteU32(l)
		}
		w.WriteU32(imm.Default)

	case op == OpCall:
		w.WriteU32(instr.Imm.(CallImm).FuncIdx())

	case op == OpCallIndirect:
		imm := instr.Imm.(CallIndirectImm)
		w.WriteU32(imm.TypeIdx)
		w.WriteU32(imm.TableIdx)

	case op >= OpLocalGet && op <= OpLocalTee:
		w.WriteU32(instr.Imm.(LocalImm).LocalIdx)

	case op == OpGlobalGet || op == OpGlobalSet:
		w.WriteU32(instr.Imm.(GlobalImm).GlobalIdx)

	case op == OpTableGet || op == OpTableSet:
		w.WriteU32(instr.Imm.(TableImm).TableIdx)

	case op >= OpI32Load && op <= OpI64Store32:
		m := instr.Imm.(*MemArg)
		w.WriteU32(m.Align)
		w.WriteU32(m.Offset)

	case op == OpMemorySize || op == OpMemoryGrow:
		var idx uint32
		if imm, ok := instr.Imm.(MemoryIdxImm); ok {
			idx = imm.MemIdx
		}
		w.Byte(byte(idx))

	case op == OpI32Const:
		w.WriteS32(instr.Imm.(I32Imm).Value)

	case op == OpI64Const:
		w.WriteS64(instr.Imm.(I64Imm).Value)

	case op == OpF32Const:
		w.WriteF32(instr.Imm.(F32Imm).Value)

	case op == OpF64Const:
		w.WriteF64(instr.Imm.(F64Imm).Value)

	case op >= opNumericFirst && op <= OpI64Extend32S:

	case op == OpPrefixMisc:
		imm := instr.Imm.(MiscImm)
		w.WriteU32(imm.SubOpcode)
		for _, o := range imm.Operands {
			w.Byte(byte(o))
		}

	default:
		panic(fmt.Sprintf("wasm: cannot encode opcode 0x%02x", op))
	}
}

// EncodeInstructions encodes a sequence of instructions.
func EncodeInstructions(instrs []Instruction) []byte {
	w := binary.NewWriter()
	encodeExpr(w, instrs)
	return w.Bytes()
}

// DecodeExpr decodes a constant or function body expression that ends with
// its closing end. Offsets are relative to the start of code.
func DecodeExpr(code []byte) ([]Instruction, error) {
	r := binary.NewReader(code)
	instrs, err := decodeExpr(r, 0)
	if err != nil {
		return nil, r.WrapError("expr", err)
	}
	if !r.EOF() {
		return nil, r.WrapError("expr", fmt.Errorf("%d trailing bytes after end", r.Len()))
	}
	return instrs, nil
}

// Count returns the number of instructions in instrs, nested bodies included.
func Count(instrs []Instruction) int {
	n := 0
	for i := range instrs {
		n++
		if len(instrs[i].Body) > 0 {
			n += Count(instrs[i].Body)
		}
	}
	return n
}
