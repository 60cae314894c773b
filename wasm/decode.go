package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-coredump/internal/binary"
)

// Parsing errors returned by Decode.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")

	// ErrUnexpectedEnd is returned for truncated input.
	ErrUnexpectedEnd = binary.ErrUnexpectedEnd
)

// Decode parses a WebAssembly binary module. Every instruction records its
// absolute offset in data. Sections with an unknown id and custom sections
// whose payload does not decode are kept as raw bytes.
func Decode(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	for !r.EOF() {
		id, _ := r.ReadByte()
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		sr, err := r.Sub(int(size))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		sectionID := SectionID(id)
		header := SectionHeader{Offset: sr.Position(), Size: size}
		sec, err := decodeSection(sectionID, sr)
		if err != nil {
			return nil, sr.WrapError(sectionID.String()+" section", err)
		}
		if !sr.EOF() && sectionID != SectionCustom {
			return nil, sr.WrapError(sectionID.String()+" section",
				fmt.Errorf("%d bytes left over", sr.Len()))
		}
		*sec.Header() = header
		m.Sections = append(m.Sections, sec)
	}
	return m, nil
}

func decodeSection(id SectionID, r *binary.Reader) (Section, error) {
	switch id {
	case SectionCustom:
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		return &CustomSection{Name: name, Content: decodeCustomContent(name, r)}, nil
	case SectionType:
		return decodeTypeSection(r)
	case SectionImport:
		return decodeImportSection(r)
	case SectionFunction:
		idxs, err := readU32Vec(r)
		if err != nil {
			return nil, err
		}
		return &FuncSection{TypeIdxs: idxs}, nil
	case SectionTable:
		return decodeTableSection(r)
	case SectionMemory:
		return decodeMemorySection(r)
	case SectionGlobal:
		return decodeGlobalSection(r)
	case SectionExport:
		return decodeExportSection(r)
	case SectionStart:
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return &StartSection{FuncIdx: idx}, nil
	case SectionElement:
		return decodeElementSection(r)
	case SectionCode:
		return decodeCodeSection(r)
	case SectionData:
		return decodeDataSection(r)
	default:
		return &UnknownSection{SectionID: id, Data: r.ReadRemaining()}, nil
	}
}

// readCount reads a vector length and caps the capacity hint by the bytes
// left, since every element takes at least one byte.
func readCount(r *binary.Reader) (uint32, int, error) {
	count, err := r.ReadU32()
	if err != nil {
		return 0, 0, err
	}
	return count, min(int(count), r.Len()), nil
}

func readU32Vec(r *binary.Reader) ([]uint32, error) {
	count, hint, err := readCount(r)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, hint)
	for i := uint32(0); i < count; i++ {
		v, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, ErrUnexpectedEnd
	}
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64:
		return ValType(b), nil
	}
	return 0, fmt.Errorf("unsupported value type 0x%02x", b)
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, hint, err := readCount(r)
	if err != nil {
		return nil, err
	}
	out := make([]ValType, 0, hint)
	for i := uint32(0); i < count; i++ {
		v, err := readValType(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeTypeSection(r *binary.Reader) (*TypeSection, error) {
	count, hint, err := readCount(r)
	if err != nil {
		return nil, err
	}
	s := &TypeSection{Types: make([]FuncType, 0, hint)}
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return nil, ErrUnexpectedEnd
		}
		if form != FuncTypeForm {
			return nil, fmt.Errorf("unsupported type form 0x%02x", form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return nil, err
		}
		results, err := readValTypes(r)
		if err != nil {
			return nil, err
		}
		s.Types = append(s.Types, FuncType{Params: params, Results: results})
	}
	return s, nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flag, err := r.ReadByte()
	if err != nil {
		return Limits{}, ErrUnexpectedEnd
	}
	lo, err := r.ReadU32()
	if err != nil {
		return Limits{}, err
	}
	l := Limits{Min: lo}
	switch flag {
	case 0x00:
	case 0x01:
		hi, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		l.Max = &hi
	default:
		return Limits{}, fmt.Errorf("unsupported limits flag 0x%02x", flag)
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elem, err := r.ReadByte()
	if err != nil {
		return TableType{}, ErrUnexpectedEnd
	}
	if elem != ElemTypeFuncRef {
		return TableType{}, fmt.Errorf("unsupported table element type 0x%02x", elem)
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elem, Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	vt, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, ErrUnexpectedEnd
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid mutability 0x%02x", mut)
	}
	return GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

func decodeImportSection(r *binary.Reader) (*ImportSection, error) {
	count, hint, err := readCount(r)
	if err != nil {
		return nil, err
	}
	s := &ImportSection{Imports: make([]Import, 0, hint)}
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, ErrUnexpectedEnd
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}
		switch kind {
		case KindFunc:
			if imp.Desc.TypeIdx, err = r.ReadU32(); err != nil {
				return nil, err
			}
		case KindTable:
			table, err := readTableType(r)
			if err != nil {
				return nil, err
			}
			imp.Desc.Table = &table
		case KindMemory:
			mem, err := readLimits(r)
			if err != nil {
				return nil, err
			}
			imp.Desc.Memory = &mem
		case KindGlobal:
			global, err := readGlobalType(r)
			if err != nil {
				return nil, err
			}
			imp.Desc.Global = &global
		default:
			return nil, fmt.Errorf("unknown import kind: %d", kind)
		}
		s.Imports = append(s.Imports, imp)
	}
	return s, nil
}

func decodeTableSection(r *binary.Reader) (*TableSection, error) {
	count, hint, err := readCount(r)
	if err != nil {
		return nil, err
	}
	s := &TableSection{Tables: make([]TableType, 0, hint)}
	for i := uint32(0); i < count; i++ {
		t, err := readTableType(r)
		if err != nil {
			return nil, err
		}
		s.Tables = append(s.Tables, t)
	}
	return s, nil
}

func decodeMemorySection(r *binary.Reader) (*MemorySection, error) {
	count, hint, err := readCount(r)
	if err != nil {
		return nil, err
	}
	s := &MemorySection{Memories: make([]Limits, 0, hint)}
	for i := uint32(0); i < count; i++ {
		l, err := readLimits(r)
		if err != nil {
			return nil, err
		}
		s.Memories = append(s.Memories, l)
	}
	return s, nil
}

func decodeGlobalSection(r *binary.Reader) (*GlobalSection, error) {
	count, hint, err := readCount(r)
	if err != nil {
		return nil, err
	}
	s := &GlobalSection{Globals: make([]Global, 0, hint)}
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return nil, err
		}
		init, err := decodeExpr(r, 0)
		if err != nil {
			return nil, err
		}
		s.Globals = append(s.Globals, Global{Type: gt, Init: init})
	}
	return s, nil
}

func decodeExportSection(r *binary.Reader) (*ExportSection, error) {
	count, hint, err := readCount(r)
	if err != nil {
		return nil, err
	}
	s := &ExportSection{Exports: make([]Export, 0, hint)}
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, ErrUnexpectedEnd
		}
		if kind > KindGlobal {
			return nil, fmt.Errorf("unknown export kind: %d", kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		s.Exports = append(s.Exports, Export{Name: name, Kind: kind, Index: NewCell(idx)})
	}
	return s, nil
}

func decodeElementSection(r *binary.Reader) (*ElementSection, error) {
	count, hint, err := readCount(r)
	if err != nil {
		return nil, err
	}
	s := &ElementSection{Elements: make([]Element, 0, hint)}
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if flags > 3 {
			return nil, fmt.Errorf("unsupported element segment form %d", flags)
		}
		e := Element{Flags: flags}
		if flags == 2 {
			if e.TableIdx, err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		if flags == 0 || flags == 2 {
			if e.Offset, err = decodeExpr(r, 0); err != nil {
				return nil, err
			}
		}
		if flags != 0 {
			if e.ElemKind, err = r.ReadByte(); err != nil {
				return nil, ErrUnexpectedEnd
			}
		}
		if e.FuncIdxs, err = readU32Vec(r); err != nil {
			return nil, err
		}
		s.Elements = append(s.Elements, e)
	}
	return s, nil
}

func decodeCodeSection(r *binary.Reader) (*CodeSection, error) {
	count, hint, err := readCount(r)
	if err != nil {
		return nil, err
	}
	s := &CodeSection{Codes: make([]*Code, 0, hint)}
	for i := uint32(0); i < count; i++ {
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		br, err := r.Sub(int(size))
		if err != nil {
			return nil, err
		}
		code, err := decodeCode(br)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		code.Size = size
		s.Codes = append(s.Codes, code)
	}
	return s, nil
}

func decodeCode(r *binary.Reader) (*Code, error) {
	code := &Code{Start: r.Position()}
	groups, hint, err := readCount(r)
	if err != nil {
		return nil, err
	}
	code.Locals = make([]LocalEntry, 0, hint)
	var total uint64
	for j := uint32(0); j < groups; j++ {
		n, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		total += uint64(n)
		if total > 50000 {
			return nil, fmt.Errorf("too many locals")
		}
		t, err := readValType(r)
		if err != nil {
			return nil, err
		}
		code.Locals = append(code.Locals, LocalEntry{Count: n, ValType: t})
	}
	if code.Body, err = decodeExpr(r, 0); err != nil {
		return nil, err
	}
	if !r.EOF() {
		return nil, fmt.Errorf("%d bytes after function end", r.Len())
	}
	return code, nil
}

func decodeDataSection(r *binary.Reader) (*DataSection, error) {
	count, hint, err := readCount(r)
	if err != nil {
		return nil, err
	}
	s := &DataSection{Segments: make([]DataSegment, 0, hint)}
	for i := uint32(0); i < count; i++ {
		mode, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		d := DataSegment{Mode: mode}
		switch mode {
		case DataActive:
		case DataActiveExplicit:
			if d.MemIdx, err = r.ReadU32(); err != nil {
				return nil, err
			}
		case DataPassive:
		default:
			return nil, fmt.Errorf("unknown data segment mode %d", mode)
		}
		if mode != DataPassive {
			if d.Offset, err = decodeExpr(r, 0); err != nil {
				return nil, err
			}
		}
		n, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if d.Init, err = r.ReadBytes(int(n)); err != nil {
			return nil, err
		}
		s.Segments = append(s.Segments, d)
	}
	return s, nil
}
