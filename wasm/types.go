package wasm

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wippyai/wasm-coredump/coredump"
)

// Module represents a parsed WebAssembly module as its ordered list of
// sections. Index spaces and lookups are derived by the module package.
type Module struct {
	Sections []Section
}

// Section is one section of a module.
type Section interface {
	ID() SectionID
	Header() *SectionHeader
}

// SectionHeader carries what the decoder observed about a section. Size
// is informational: lengths are always recomputed when encoding.
type SectionHeader struct {
	// Offset is the absolute position of the section body in the decoded
	// input, -1 for sections built in memory.
	Offset int
	Size   uint32
}

// Header returns the section header.
func (h *SectionHeader) Header() *SectionHeader { return h }

// TypeSection lists the function signatures of the module.
type TypeSection struct {
	SectionHeader
	Types []FuncType
}

// ImportSection lists imported definitions.
type ImportSection struct {
	SectionHeader
	Imports []Import
}

// FuncSection lists the type index of each defined function.
type FuncSection struct {
	SectionHeader
	TypeIdxs []uint32
}

// TableSection lists defined tables.
type TableSection struct {
	SectionHeader
	Tables []TableType
}

// MemorySection lists defined memories.
type MemorySection struct {
	SectionHeader
	Memories []Limits
}

// GlobalSection lists defined globals.
type GlobalSection struct {
	SectionHeader
	Globals []Global
}

// ExportSection lists exports.
type ExportSection struct {
	SectionHeader
	Exports []Export
}

// StartSection names the start function.
type StartSection struct {
	SectionHeader
	FuncIdx uint32
}

// ElementSection lists table element segments.
type ElementSection struct {
	SectionHeader
	Elements []Element
}

// CodeSection holds the defined function bodies, in the same order as
// the function section.
type CodeSection struct {
	SectionHeader
	Codes []*Code
}

// DataSection lists data segments.
type DataSection struct {
	SectionHeader
	Segments []DataSegment
}

// CustomSection is a named custom section with a decoded payload.
type CustomSection struct {
	SectionHeader
	Content CustomContent
	Name    string
}

// UnknownSection keeps a section with an unrecognized id as raw bytes.
type UnknownSection struct {
	SectionHeader
	Data      []byte
	SectionID SectionID
}

func (*TypeSection) ID() SectionID      { return SectionType }
func (*ImportSection) ID() SectionID    { return SectionImport }
func (*FuncSection) ID() SectionID      { return SectionFunction }
func (*TableSection) ID() SectionID     { return SectionTable }
func (*MemorySection) ID() SectionID    { return SectionMemory }
func (*GlobalSection) ID() SectionID    { return SectionGlobal }
func (*ExportSection) ID() SectionID    { return SectionExport }
func (*StartSection) ID() SectionID     { return SectionStart }
func (*ElementSection) ID() SectionID   { return SectionElement }
func (*CodeSection) ID() SectionID      { return SectionCode }
func (*DataSection) ID() SectionID      { return SectionData }
func (*CustomSection) ID() SectionID    { return SectionCustom }
func (s *UnknownSection) ID() SectionID { return s.SectionID }

// ValType is a number type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(v))
	}
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether both signatures are identical.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

func (f FuncType) String() string {
	join := func(vs []ValType) string {
		parts := make([]string, len(vs))
		for i, v := range vs {
			parts[i] = v.String()
		}
		return strings.Join(parts, ", ")
	}
	return "(" + join(f.Params) + ") -> (" + join(f.Results) + ")"
}

// Import represents an imported function, table, memory, or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal constants.
type ImportDesc struct {
	Table   *TableType
	Memory  *Limits
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// Limits describes size constraints for tables and memories, in elements
// or pages.
type Limits struct {
	Max *uint32
	Min uint32
}

// TableType describes a table with element type and size limits.
type TableType struct {
	Limits   Limits
	ElemType byte
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []Instruction // constant expression including the trailing end
}

// ComputeValue evaluates the initializer of an immutable i32 global.
// Any other global has no statically known value and yields an error.
func (g *Global) ComputeValue() (int32, error) {
	if g.Type.Mutable {
		return 0, fmt.Errorf("global is mutable")
	}
	return constI32(g.Init)
}

// Export describes an exported item. Index is shared by copies of the
// export so a rewrite can repoint it in place.
type Export struct {
	Index *Cell
	Name  string
	Kind  byte
}

// Element represents an element segment in one of the function index
// forms:
//   - 0: active, tableIdx=0, offset expr, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, tableIdx, offset expr, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
type Element struct {
	Offset   []Instruction
	FuncIdxs []uint32
	Flags    uint32
	TableIdx uint32
	ElemKind byte
}

// Code is one function body.
type Code struct {
	Locals []LocalEntry
	Body   []Instruction // includes the trailing end

	// Start is the absolute offset of the body (past its size prefix) in
	// the decoded input, -1 for functions built in memory.
	Start int
	Size  uint32
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// FlattenLocals expands grouped local declarations into one entry per
// local.
func FlattenLocals(entries []LocalEntry) []ValType {
	var n uint32
	for _, e := range entries {
		n += e.Count
	}
	out := make([]ValType, 0, n)
	for _, e := range entries {
		for i := uint32(0); i < e.Count; i++ {
			out = append(out, e.ValType)
		}
	}
	return out
}

// Data segment modes, matching the binary flags.
const (
	DataActive         uint32 = 0
	DataPassive        uint32 = 1
	DataActiveExplicit uint32 = 2
)

// DataSegment represents a data segment.
type DataSegment struct {
	Offset []Instruction
	Init   []byte
	Mode   uint32
	MemIdx uint32
}

// ComputeOffset returns the offset of an active segment whose offset
// expression is a single i32.const.
func (d *DataSegment) ComputeOffset() (uint32, error) {
	if d.Mode == DataPassive {
		return 0, fmt.Errorf("passive data segment has no offset")
	}
	v, err := constI32(d.Offset)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func constI32(expr []Instruction) (int32, error) {
	if len(expr) != 2 || expr[0].Opcode != OpI32Const || expr[1].Opcode != OpEnd {
		return 0, fmt.Errorf("expression is not a single i32.const")
	}
	return expr[0].Imm.(I32Imm).Value, nil
}

// Cell is a mutable index shared between every copy of the instruction or
// export that holds it.
type Cell struct {
	v atomic.Uint32
}

// NewCell returns a cell holding v.
func NewCell(v uint32) *Cell {
	c := &Cell{}
	c.v.Store(v)
	return c
}

// Get returns the current value.
func (c *Cell) Get() uint32 { return c.v.Load() }

// Set replaces the value.
func (c *Cell) Set(v uint32) { c.v.Store(v) }

// CustomContent is the decoded payload of a custom section.
type CustomContent interface {
	encodeContent() []byte
}

// RawCustom is an undecoded custom section payload.
type RawCustom struct {
	Data []byte
}

// CoreSection is the "core" coredump process info section.
type CoreSection struct {
	Process coredump.ProcessInfo
}

// CoreStackSection is one "corestack" thread section.
type CoreStackSection struct {
	Stack coredump.CoreStack
}

// BuildIDSection is the "build_id" section.
type BuildIDSection struct {
	ID []byte
}

// NameSection is the "name" debug section. Function names are decoded,
// other subsections are kept as raw bytes keyed by subsection id.
type NameSection struct {
	FuncNames *NameMap
	Other     map[byte][]byte
}

// NewNameSection returns an empty name section.
func NewNameSection() *NameSection {
	return &NameSection{FuncNames: NewNameMap()}
}

// NameMap maps function indices to names. It is shared by pointer between
// the name section and the indexes built over it.
type NameMap struct {
	names map[uint32]string
	mu    sync.RWMutex
}

// NewNameMap returns an empty map.
func NewNameMap() *NameMap {
	return &NameMap{names: make(map[uint32]string)}
}

// Get returns the name of funcIdx.
func (n *NameMap) Get(funcIdx uint32) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	name, ok := n.names[funcIdx]
	return name, ok
}

// Set names funcIdx, replacing any previous name.
func (n *NameMap) Set(funcIdx uint32, name string) {
	n.mu.Lock()
	n.names[funcIdx] = name
	n.mu.Unlock()
}

// Len returns the number of names.
func (n *NameMap) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.names)
}

// Snapshot returns a copy of the map.
func (n *NameMap) Snapshot() map[uint32]string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[uint32]string, len(n.names))
	for k, v := range n.names {
		out[k] = v
	}
	return out
}
