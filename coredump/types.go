package coredump

import (
	"fmt"
	"math"
)

// ValueType tags a captured local or stack value.
type ValueType byte

const (
	TypeMissing ValueType = 0x01 // optimized out or not captured
	TypeI32     ValueType = 0x7F
	TypeI64     ValueType = 0x7E
	TypeF32     ValueType = 0x7D
	TypeF64     ValueType = 0x7C
)

// String returns the WAT name of the value type.
func (t ValueType) String() string {
	switch t {
	case TypeMissing:
		return "missing"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Value is a captured local or operand stack slot. Bits holds the raw
// little-endian representation, floats included.
type Value struct {
	Type ValueType
	Bits uint64
}

// Missing returns a value for a slot that was not captured.
func Missing() Value { return Value{Type: TypeMissing} }

// I32 returns an i32 value.
func I32(v int32) Value { return Value{Type: TypeI32, Bits: uint64(uint32(v))} }

// I64 returns an i64 value.
func I64(v int64) Value { return Value{Type: TypeI64, Bits: uint64(v)} }

// F32 returns an f32 value.
func F32(v float32) Value { return Value{Type: TypeF32, Bits: uint64(math.Float32bits(v))} }

// F64 returns an f64 value.
func F64(v float64) Value { return Value{Type: TypeF64, Bits: math.Float64bits(v)} }

// AsI32 interprets the value as an i32. Used to read frame base pointers,
// which are stored in i32 locals on wasm32.
func (v Value) AsI32() int32 { return int32(uint32(v.Bits)) }

// AsI64 interprets the value as an i64.
func (v Value) AsI64() int64 { return int64(v.Bits) }

// AsF32 interprets the value as an f32.
func (v Value) AsF32() float32 { return math.Float32frombits(uint32(v.Bits)) }

// AsF64 interprets the value as an f64.
func (v Value) AsF64() float64 { return math.Float64frombits(v.Bits) }

// String formats the value as "<type> <value>".
func (v Value) String() string {
	switch v.Type {
	case TypeI32:
		return fmt.Sprintf("i32 %d", v.AsI32())
	case TypeI64:
		return fmt.Sprintf("i64 %d", v.AsI64())
	case TypeF32:
		return fmt.Sprintf("f32 %v", v.AsF32())
	case TypeF64:
		return fmt.Sprintf("f64 %v", v.AsF64())
	default:
		return v.Type.String()
	}
}

// StackFrame is one captured function activation. Both the function index
// and the code offset are kept: consumers resolving DWARF line tables need
// the offset, name lookups need the index.
type StackFrame struct {
	FuncIdx    uint32
	CodeOffset uint32
	Locals     []Value
	Stack      []Value
}

// CoreStack is the call stack of one thread, innermost frame first.
type CoreStack struct {
	ThreadName string
	Frames     []StackFrame
}

// ProcessInfo identifies the program that produced the coredump.
type ProcessInfo struct {
	ExecutableName string
}

// MemoryLimits mirrors a memory type of the coredump module in pages.
type MemoryLimits struct {
	Max *uint32
	Min uint32
}

// Coredump is a read-only snapshot decoded from a coredump module.
type Coredump struct {
	Process ProcessInfo
	Stacks  []CoreStack
	// Data is the flattened memory image starting at address 0.
	Data   []byte
	Memory []MemoryLimits
}

// Layout of the frames region an instrumented module writes into its
// linear memory before trapping. Frames follow the header back to back.
const (
	// RegionMarker is "core" read as a little-endian u32.
	RegionMarker = 0x65726f63

	RegionMarkerOffset = 0
	RegionCountOffset  = 4
	RegionEndOffset    = 8
	RegionHeaderSize   = 12
)
