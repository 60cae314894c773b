package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-coredump/internal/binary"
)

// Encode encodes the module to WebAssembly binary format. Sections are
// written in slice order and every length is recomputed.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)
	for _, s := range m.Sections {
		writeSection(w, s)
	}
	return w.Bytes()
}

func writeSection(w *binary.Writer, s Section) {
	w.Byte(byte(s.ID()))
	at := w.ReserveLength()
	writeSectionBody(w, s)
	w.PatchLength(at)
}

func writeSectionBody(w *binary.Writer, s Section) {
	switch s := s.(type) {
	case *CustomSection:
		w.WriteName(s.Name)
		if s.Content != nil {
			w.WriteBytes(s.Content.encodeContent())
		}

	case *TypeSection:
		w.WriteU32(uint32(len(s.Types)))
		for _, ft := range s.Types {
			w.Byte(FuncTypeForm)
			writeValTypes(w, ft.Params)
			writeValTypes(w, ft.Results)
		}

	case *ImportSection:
		w.WriteU32(uint32(len(s.Imports)))
		for _, imp := range s.Imports {
			w.WriteName(imp.Module)
			w.WriteName(imp.Name)
			w.Byte(imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				w.WriteU32(imp.Desc.TypeIdx)
			case KindTable:
				writeTableType(w, *imp.Desc.Table)
			case KindMemory:
				writeLimits(w, *imp.Desc.Memory)
			case KindGlobal:
				writeGlobalType(w, *imp.Desc.Global)
			}
		}

	case *FuncSection:
		writeU32Vec(w, s.TypeIdxs)

	case *TableSection:
		w.WriteU32(uint32(len(s.Tables)))
		for _, t := range s.Tables {
			writeTableType(w, t)
		}

	case *MemorySection:
		w.WriteU32(uint32(len(s.Memories)))
		for _, l := range s.Memories {
			writeLimits(w, l)
		}

	case *GlobalSection:
		w.WriteU32(uint32(len(s.Globals)))
		for _, g := range s.Globals {
			writeGlobalType(w, g.Type)
			encodeExpr(w, g.Init)
		}

	case *ExportSection:
		w.WriteU32(uint32(len(s.Exports)))
		for _, e := range s.Exports {
			w.WriteName(e.Name)
			w.Byte(e.Kind)
			w.WriteU32(e.Index.Get())
		}

	case *StartSection:
		w.WriteU32(s.FuncIdx)

	case *ElementSection:
		w.WriteU32(uint32(len(s.Elements)))
		for _, e := range s.Elements {
			w.WriteU32(e.Flags)
			if e.Flags == 2 {
				w.WriteU32(e.TableIdx)
			}
			if e.Flags == 0 || e.Flags == 2 {
				encodeExpr(w, e.Offset)
			}
			if e.Flags != 0 {
				w.Byte(e.ElemKind)
			}
			writeU32Vec(w, e.FuncIdxs)
		}

	case *CodeSection:
		w.WriteU32(uint32(len(s.Codes)))
		for _, c := range s.Codes {
			w.WriteVec(encodeCode(c))
		}

	case *DataSection:
		w.WriteU32(uint32(len(s.Segments)))
		for _, d := range s.Segments {
			w.WriteU32(d.Mode)
			if d.Mode == DataActiveExplicit {
				w.WriteU32(d.MemIdx)
			}
			if d.Mode != DataPassive {
				encodeExpr(w, d.Offset)
			}
			w.WriteVec(d.Init)
		}

	case *UnknownSection:
		w.WriteBytes(s.Data)

	default:
		panic(fmt.Sprintf("wasm: cannot encode section %T", s))
	}
}

// encodeCode encodes one function body without its size prefix. Bodies
// are encoded apart so the section does not shift its buffer per function.
func encodeCode(c *Code) []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(c.Locals)))
	for _, l := range c.Locals {
		w.WriteU32(l.Count)
		w.Byte(byte(l.ValType))
	}
	encodeExpr(w, c.Body)
	return w.Bytes()
}

func writeU32Vec(w *binary.Writer, vs []uint32) {
	w.WriteU32(uint32(len(vs)))
	for _, v := range vs {
		w.WriteU32(v)
	}
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	if l.Max != nil {
		w.Byte(0x01)
		w.WriteU32(l.Min)
		w.WriteU32(*l.Max)
		return
	}
	w.Byte(0x00)
	w.WriteU32(l.Min)
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(t.ElemType)
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}
