package wasm_test

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/wasm"
)

// sample is a small canonical module:
//
//	(import "env" "f" (func (param i32) (result i32)))
//	(memory 1)
//	(global i32 (i32.const 0))
//	(func (export "main") (param i32) (result i32)
//	  local.get 0
//	  if (result i32) local.get 0 call 0 else i32.const -1 end)
//	(data (i32.const 8) "hi")
//
// plus a name section naming function 1 "main".
var sample = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type
	0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f,
	// import
	0x02, 0x09, 0x01, 0x03, 'e', 'n', 'v', 0x01, 'f', 0x00, 0x00,
	// function
	0x03, 0x02, 0x01, 0x00,
	// memory
	0x05, 0x03, 0x01, 0x00, 0x01,
	// global
	0x06, 0x06, 0x01, 0x7f, 0x00, 0x41, 0x00, 0x0b,
	// export
	0x07, 0x08, 0x01, 0x04, 'm', 'a', 'i', 'n', 0x00, 0x01,
	// code
	0x0a, 0x10, 0x01, 0x0e, 0x00,
	0x20, 0x00,
	0x04, 0x7f,
	0x20, 0x00,
	0x10, 0x00,
	0x05,
	0x41, 0x7f,
	0x0b,
	0x0b,
	// data
	0x0b, 0x08, 0x01, 0x00, 0x41, 0x08, 0x0b, 0x02, 'h', 'i',
	// custom "name"
	0x00, 0x0e, 0x04, 'n', 'a', 'm', 'e', 0x01, 0x07, 0x01, 0x01, 0x04, 'm', 'a', 'i', 'n',
}

func decodeSample(t *testing.T) *wasm.Module {
	t.Helper()
	m, err := wasm.Decode(sample)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return m
}

func TestEncodeEmptyModule(t *testing.T) {
	m := &wasm.Module{}
	data := m.Encode()

	if !bytes.Equal(data, []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}) {
		t.Errorf("unexpected empty module encoding: %x", data)
	}
}

func TestRoundTripIdentity(t *testing.T) {
	m := decodeSample(t)
	if got := m.Encode(); !bytes.Equal(got, sample) {
		t.Fatalf("re-encoding differs\n got %x\nwant %x", got, sample)
	}
}

func TestDecodeSections(t *testing.T) {
	m := decodeSample(t)

	wantIDs := []wasm.SectionID{
		wasm.SectionType, wasm.SectionImport, wasm.SectionFunction, wasm.SectionMemory,
		wasm.SectionGlobal, wasm.SectionExport, wasm.SectionCode, wasm.SectionData, wasm.SectionCustom,
	}
	if len(m.Sections) != len(wantIDs) {
		t.Fatalf("expected %d sections, got %d", len(wantIDs), len(m.Sections))
	}
	for i, id := range wantIDs {
		if m.Sections[i].ID() != id {
			t.Errorf("section %d: got %s, want %s", i, m.Sections[i].ID(), id)
		}
	}

	imp := m.Sections[1].(*wasm.ImportSection).Imports[0]
	if imp.Module != "env" || imp.Name != "f" || imp.Desc.Kind != wasm.KindFunc {
		t.Errorf("unexpected import %+v", imp)
	}

	g := m.Sections[4].(*wasm.GlobalSection).Globals[0]
	v, err := g.ComputeValue()
	if err != nil || v != 0 {
		t.Errorf("ComputeValue = %d, %v", v, err)
	}

	exp := m.Sections[5].(*wasm.ExportSection).Exports[0]
	if exp.Name != "main" || exp.Index.Get() != 1 {
		t.Errorf("unexpected export %s -> %d", exp.Name, exp.Index.Get())
	}

	seg := m.Sections[7].(*wasm.DataSection).Segments[0]
	off, err := seg.ComputeOffset()
	if err != nil || off != 8 || string(seg.Init) != "hi" {
		t.Errorf("data segment: offset %d, %v, init %q", off, err, seg.Init)
	}

	name := m.Sections[8].(*wasm.CustomSection)
	ns, ok := name.Content.(*wasm.NameSection)
	if !ok {
		t.Fatalf("expected name section content, got %T", name.Content)
	}
	if n, _ := ns.FuncNames.Get(1); n != "main" {
		t.Errorf("func name = %q", n)
	}
}

func TestDecodeInstructionTree(t *testing.T) {
	m := decodeSample(t)
	cs := m.Sections[6].(*wasm.CodeSection)

	if cs.Offset != 56 {
		t.Errorf("code section offset = %d, want 56", cs.Offset)
	}
	code := cs.Codes[0]
	if code.Start != 58 || code.Size != 14 {
		t.Errorf("code start %d size %d", code.Start, code.Size)
	}

	body := code.Body
	if len(body) != 3 {
		t.Fatalf("expected 3 top level instructions, got %d", len(body))
	}
	ifInstr := body[1]
	if ifInstr.Opcode != wasm.OpIf || ifInstr.Imm.(wasm.BlockImm).Type != wasm.BlockTypeI32 {
		t.Fatalf("expected if (result i32), got %+v", ifInstr)
	}
	if ifInstr.Start != 61 || ifInstr.End != 63 {
		t.Errorf("if offsets %d..%d", ifInstr.Start, ifInstr.End)
	}

	var ops []byte
	for _, in := range ifInstr.Body {
		ops = append(ops, in.Opcode)
	}
	want := []byte{wasm.OpLocalGet, wasm.OpCall, wasm.OpElse, wasm.OpI32Const, wasm.OpEnd}
	if !bytes.Equal(ops, want) {
		t.Errorf("if body opcodes %x, want %x", ops, want)
	}

	call := ifInstr.Body[1]
	if call.Start-cs.Offset != 9 {
		t.Errorf("call code offset = %d, want 9", call.Start-cs.Offset)
	}
	if wasm.Count(body) != 8 {
		t.Errorf("Count = %d, want 8", wasm.Count(body))
	}
}

func TestCallCellShared(t *testing.T) {
	m := decodeSample(t)
	code := m.Sections[6].(*wasm.CodeSection).Codes[0]

	frozen := append([]wasm.Instruction(nil), code.Body[1].Body...)
	frozen[1].Imm.(wasm.CallImm).Func.Set(7)

	if got := code.Body[1].Body[1].Imm.(wasm.CallImm).FuncIdx(); got != 7 {
		t.Fatalf("live call target = %d, want 7", got)
	}
	encoded := m.Encode()
	if bytes.Equal(encoded, sample) {
		t.Fatal("expected call target change to be encoded")
	}
}

func TestEncodeRecomputesLengths(t *testing.T) {
	m := decodeSample(t)
	seg := &m.Sections[7].(*wasm.DataSection).Segments[0]
	seg.Init = bytes.Repeat([]byte{0xAA}, 300)

	out, err := wasm.Decode(m.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := out.Sections[7].(*wasm.DataSection).Segments[0].Init
	if len(got) != 300 {
		t.Fatalf("expected 300 data bytes, got %d", len(got))
	}
}

func TestCustomSectionsRoundTrip(t *testing.T) {
	m := &wasm.Module{Sections: []wasm.Section{
		&wasm.CustomSection{Name: wasm.CustomCore, Content: &wasm.CoreSection{
			Process: coredump.ProcessInfo{ExecutableName: "foo.exe"},
		}},
		&wasm.CustomSection{Name: wasm.CustomCoreStack, Content: &wasm.CoreStackSection{
			Stack: coredump.CoreStack{ThreadName: "main", Frames: []coredump.StackFrame{{FuncIdx: 3, CodeOffset: 17}}},
		}},
		&wasm.CustomSection{Name: wasm.CustomBuildID, Content: &wasm.BuildIDSection{ID: []byte{1, 2, 3}}},
		&wasm.CustomSection{Name: "producers", Content: &wasm.RawCustom{Data: []byte{9, 9}}},
	}}

	out, err := wasm.Decode(m.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out.Sections) != 4 {
		t.Fatalf("expected 4 sections, got %d", len(out.Sections))
	}

	core := out.Sections[0].(*wasm.CustomSection).Content.(*wasm.CoreSection)
	if core.Process.ExecutableName != "foo.exe" {
		t.Errorf("executable name %q", core.Process.ExecutableName)
	}
	stack := out.Sections[1].(*wasm.CustomSection).Content.(*wasm.CoreStackSection)
	if stack.Stack.ThreadName != "main" || len(stack.Stack.Frames) != 1 || stack.Stack.Frames[0].CodeOffset != 17 {
		t.Errorf("unexpected stack %+v", stack.Stack)
	}
	id := out.Sections[2].(*wasm.CustomSection).Content.(*wasm.BuildIDSection)
	if !bytes.Equal(id.ID, []byte{1, 2, 3}) {
		t.Errorf("build id %x", id.ID)
	}
	raw := out.Sections[3].(*wasm.CustomSection)
	if raw.Name != "producers" || !bytes.Equal(raw.Content.(*wasm.RawCustom).Data, []byte{9, 9}) {
		t.Errorf("raw custom section %+v", raw)
	}
}

func TestMalformedCustomDegradesToRaw(t *testing.T) {
	// "core" with version 1 is not understood.
	data := append([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		0x00, 0x07, 0x04, 'c', 'o', 'r', 'e', 0x01, 0x00)

	m, err := wasm.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	cs := m.Sections[0].(*wasm.CustomSection)
	raw, ok := cs.Content.(*wasm.RawCustom)
	if !ok {
		t.Fatalf("expected raw content, got %T", cs.Content)
	}
	if !bytes.Equal(raw.Data, []byte{0x01, 0x00}) {
		t.Errorf("raw payload %x", raw.Data)
	}
	if !bytes.Equal(m.Encode(), data) {
		t.Error("raw custom section not preserved")
	}
}

func TestNameSectionKeepsOtherSubsections(t *testing.T) {
	data := append([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		0x00, 0x0f, 0x04, 'n', 'a', 'm', 'e',
		0x00, 0x02, 0x01, 'm', // module name "m"
		0x01, 0x04, 0x01, 0x00, 0x01, 'f', // func 0 "f"
	)
	m, err := wasm.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ns := m.Sections[0].(*wasm.CustomSection).Content.(*wasm.NameSection)
	if n, ok := ns.FuncNames.Get(0); !ok || n != "f" {
		t.Errorf("func 0 name %q", n)
	}
	if !bytes.Equal(ns.Other[0], []byte{0x01, 'm'}) {
		t.Errorf("module name subsection %x", ns.Other[0])
	}
	if !bytes.Equal(m.Encode(), data) {
		t.Errorf("name section not preserved:\n got %x\nwant %x", m.Encode(), data)
	}
}

func TestUnknownSectionPreserved(t *testing.T) {
	data := append([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		0x0c, 0x01, 0x00, // datacount 0
		0x1f, 0x02, 0xde, 0xad,
	)
	m, err := wasm.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(m.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(m.Sections))
	}
	u := m.Sections[1].(*wasm.UnknownSection)
	if u.SectionID != 0x1f || !bytes.Equal(u.Data, []byte{0xde, 0xad}) {
		t.Errorf("unknown section %+v", u)
	}
	if !bytes.Equal(m.Encode(), data) {
		t.Error("unknown sections not preserved")
	}
}

func TestDecodeErrors(t *testing.T) {
	header := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	tests := []struct {
		name    string
		data    []byte
		wantErr error
		substr  string
	}{
		{"bad magic", []byte{0x00, 0x61, 0x73, 0x6e, 0x01, 0x00, 0x00, 0x00}, wasm.ErrInvalidMagic, ""},
		{"bad version", []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}, wasm.ErrInvalidVersion, ""},
		{"truncated header", []byte{0x00, 0x61}, nil, "header"},
		{"truncated section", append(append([]byte{}, header...), 0x01, 0x05, 0x01), nil, "section data"},
		{"unknown opcode", append(append([]byte{}, header...), 0x0a, 0x05, 0x01, 0x03, 0x00, 0xff, 0x0b), nil, "unknown opcode 0xff"},
		{"missing end", append(append([]byte{}, header...), 0x0a, 0x04, 0x01, 0x02, 0x00, 0x01), wasm.ErrUnexpectedEnd, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.Decode(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.substr != "" && !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("error %q does not contain %q", err, tt.substr)
			}
		})
	}
}

func TestEncodeUnknownOpcodePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	wasm.EncodeInstructions([]wasm.Instruction{wasm.Op(0xfe)})
}

func TestSynthesizedInstructions(t *testing.T) {
	body := []wasm.Instruction{
		wasm.I32Const(-64),
		wasm.If(wasm.BlockTypeVoid, []wasm.Instruction{wasm.Call(2)}, []wasm.Instruction{wasm.Op(wasm.OpNop)}),
		wasm.Mem(wasm.OpI32Load, 2, 16),
		wasm.End(),
	}
	encoded := wasm.EncodeInstructions(body)
	want := []byte{
		0x41, 0x40,
		0x04, 0x40, 0x10, 0x02, 0x05, 0x01, 0x0b,
		0x28, 0x02, 0x10,
		0x0b,
	}
	if !bytes.Equal(encoded, want) {
		t.Fatalf("got %x, want %x", encoded, want)
	}
	if !body[0].Synthesized() {
		t.Error("constructed instruction should be synthesized")
	}

	decoded, err := wasm.DecodeExpr(encoded)
	if err != nil {
		t.Fatalf("DecodeExpr: %v", err)
	}
	if len(decoded) != 4 || len(decoded[1].Body) != 4 {
		t.Fatalf("unexpected decoded tree: %d top, %d in if", len(decoded), len(decoded[1].Body))
	}
	if decoded[2].Imm.(*wasm.MemArg).Offset != 16 {
		t.Errorf("memarg offset %d", decoded[2].Imm.(*wasm.MemArg).Offset)
	}
}

func TestMiscInstructions(t *testing.T) {
	code := []byte{
		0xfc, 0x0a, 0x00, 0x00, // memory.copy
		0xfc, 0x0b, 0x00, // memory.fill
		0xfc, 0x07, // i64.trunc_sat_f64_u
		0xc4, // i64.extend32_s
		0x0b,
	}
	instrs, err := wasm.DecodeExpr(code)
	if err != nil {
		t.Fatalf("DecodeExpr: %v", err)
	}
	if got := instrs[0].Imm.(wasm.MiscImm); got.SubOpcode != wasm.MiscMemoryCopy || len(got.Operands) != 2 {
		t.Errorf("memory.copy immediates %+v", got)
	}
	if !bytes.Equal(wasm.EncodeInstructions(instrs), code) {
		t.Error("misc instructions did not round trip")
	}
}

func TestTableInstructions(t *testing.T) {
	code := []byte{
		0x41, 0x00, // i32.const 0
		0x25, 0x00, // table.get 0
		0x25, 0x83, 0x01, // table.get 131
		0x26, 0x02, // table.set 2
		0x0b,
	}
	instrs, err := wasm.DecodeExpr(code)
	if err != nil {
		t.Fatalf("DecodeExpr: %v", err)
	}
	if len(instrs) != 5 {
		t.Fatalf("expected 5 instructions, got %d", len(instrs))
	}
	if instrs[1].Opcode != wasm.OpTableGet || instrs[1].Imm.(wasm.TableImm).TableIdx != 0 {
		t.Errorf("table.get %+v", instrs[1])
	}
	if got := instrs[2].Imm.(wasm.TableImm).TableIdx; got != 131 {
		t.Errorf("table.get index %d, want 131", got)
	}
	if instrs[3].Opcode != wasm.OpTableSet || instrs[3].Imm.(wasm.TableImm).TableIdx != 2 {
		t.Errorf("table.set %+v", instrs[3])
	}
	if !bytes.Equal(wasm.EncodeInstructions(instrs), code) {
		t.Error("table instructions did not round trip")
	}
}

func TestBlockTypeIndex(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		{"empty", []byte{0x02, 0x40, 0x01, 0x0b, 0x0b}, wasm.BlockTypeVoid},
		{"value", []byte{0x03, 0x7e, 0x42, 0x00, 0x0b, 0x0b}, wasm.BlockTypeI64},
		{"index", []byte{0x02, 0x05, 0x01, 0x0b, 0x0b}, 5},
		{"wide index", []byte{0x02, 0xc0, 0x00, 0x01, 0x0b, 0x0b}, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instrs, err := wasm.DecodeExpr(tt.code)
			if err != nil {
				t.Fatalf("DecodeExpr: %v", err)
			}
			if got := instrs[0].Imm.(wasm.BlockImm).Type; got != tt.want {
				t.Errorf("block type %d, want %d", got, tt.want)
			}
			if !bytes.Equal(wasm.EncodeInstructions(instrs), tt.code) {
				t.Errorf("block did not round trip: %x", wasm.EncodeInstructions(instrs))
			}
		})
	}
}

func TestComputeValueContract(t *testing.T) {
	mutable := wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: wasm.ConstExpr(wasm.I32Const(1)),
	}
	if _, err := mutable.ComputeValue(); err == nil {
		t.Error("expected error for mutable global")
	}

	i64 := wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI64},
		Init: wasm.ConstExpr(wasm.I64Const(1)),
	}
	if _, err := i64.ComputeValue(); err == nil {
		t.Error("expected error for i64 initializer")
	}

	passive := wasm.DataSegment{Mode: wasm.DataPassive}
	if _, err := passive.ComputeOffset(); err == nil {
		t.Error("expected error for passive segment")
	}
}

func TestFlattenLocals(t *testing.T) {
	got := wasm.FlattenLocals([]wasm.LocalEntry{
		{Count: 2, ValType: wasm.ValI32},
		{Count: 1, ValType: wasm.ValF64},
	})
	want := []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValF64}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("local %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestEncodeSection(t *testing.T) {
	m := &wasm.Module{Sections: []wasm.Section{&wasm.MemorySection{Memories: []wasm.Limits{{Min: 1}}}}}
	got := m.Encode()
	if !bytes.Equal(got[8:], []byte{0x05, 0x03, 0x01, 0x00, 0x01}) {
		t.Errorf("got %x", got)
	}
}

func TestSetLoggerWhileDecoding(t *testing.T) {
	defer wasm.SetLogger(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			wasm.SetLogger(zap.NewNop())
		}()
		go func() {
			defer wg.Done()
			if _, err := wasm.Decode(sample); err != nil {
				t.Errorf("Decode: %v", err)
			}
		}()
	}
	wg.Wait()

	wasm.SetLogger(nil)
	if wasm.Logger() == nil {
		t.Fatal("Logger returned nil after reset")
	}
}
