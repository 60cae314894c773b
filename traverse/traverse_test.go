package traverse_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/wippyai/wasm-coredump/errors"
	"github.com/wippyai/wasm-coredump/module"
	"github.com/wippyai/wasm-coredump/traverse"
	"github.com/wippyai/wasm-coredump/wasm"
)

// newModule builds one imported function and three defined ones. Function
// 2 calls function 0 twice, once inside a block.
func newModule(t *testing.T) *module.Module {
	t.Helper()
	raw := &wasm.Module{Sections: []wasm.Section{
		&wasm.TypeSection{Types: []wasm.FuncType{{}}},
		&wasm.ImportSection{Imports: []wasm.Import{
			{Module: "env", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc}},
		}},
		&wasm.FuncSection{TypeIdxs: []uint32{0, 0, 0}},
		&wasm.ExportSection{Exports: []wasm.Export{
			{Name: "main", Kind: wasm.KindFunc, Index: wasm.NewCell(2)},
		}},
		&wasm.CodeSection{Codes: []*wasm.Code{
			wasm.NewCode(nil, []wasm.Instruction{wasm.Op(wasm.OpNop), wasm.End()}),
			wasm.NewCode(nil, []wasm.Instruction{
				wasm.Call(0),
				wasm.Block(wasm.BlockTypeVoid, wasm.Call(0), wasm.Op(wasm.OpNop)),
				wasm.End(),
			}),
			wasm.NewCode(nil, []wasm.Instruction{wasm.Op(wasm.OpUnreachable), wasm.End()}),
		}},
	}}
	// Round trip so instructions carry real offsets.
	m, err := module.Decode(raw.Encode())
	require.NoError(t, err)
	return m
}

type recorder struct {
	codes  map[uint32]int
	instrs map[uint32]int
	mu     sync.Mutex
}

func newRecorder() *recorder {
	return &recorder{codes: map[uint32]int{}, instrs: map[uint32]int{}}
}

func (r *recorder) VisitCode(ctx *traverse.CodeContext) error {
	r.mu.Lock()
	r.codes[ctx.FuncIdx]++
	r.mu.Unlock()
	return nil
}

func (r *recorder) VisitInstr(ctx *traverse.InstrContext) error {
	r.mu.Lock()
	r.instrs[ctx.FuncIdx]++
	r.mu.Unlock()
	return nil
}

func TestVisitsEveryBodyOnce(t *testing.T) {
	for _, workers := range []int{1, 4} {
		m := newModule(t)
		r := newRecorder()
		require.NoError(t, traverse.Traverse(context.Background(), m, r, traverse.WithWorkers(workers)))

		assert.Equal(t, map[uint32]int{1: 1, 2: 1, 3: 1}, r.codes)
		// Leaves only: the block itself is not visited, its body is.
		assert.Equal(t, map[uint32]int{1: 2, 2: 5, 3: 2}, r.instrs)
	}
}

type markCalls struct{}

func (markCalls) VisitInstr(ctx *traverse.InstrContext) error {
	if ctx.Instr.Opcode == wasm.OpCall {
		ctx.InsertBefore(wasm.I32Const(100), wasm.Op(wasm.OpDrop))
		ctx.InsertAfter(wasm.I32Const(200), wasm.Op(wasm.OpDrop))
	}
	return nil
}

func opcodes(body []wasm.Instruction) []byte {
	out := make([]byte, len(body))
	for i, in := range body {
		out[i] = in.Opcode
	}
	return out
}

func TestInsertAroundCallsIsContiguous(t *testing.T) {
	m := newModule(t)
	require.NoError(t, traverse.Traverse(context.Background(), m, markCalls{}))

	code, ok := m.Code(2)
	require.True(t, ok)

	marked := []byte{wasm.OpI32Const, wasm.OpDrop, wasm.OpCall, wasm.OpI32Const, wasm.OpDrop}
	require.Len(t, code.Body, 7)
	assert.Equal(t, marked, opcodes(code.Body[:5]))
	assert.Equal(t, int32(100), code.Body[0].Imm.(wasm.I32Imm).Value)
	assert.Equal(t, int32(200), code.Body[3].Imm.(wasm.I32Imm).Value)
	assert.False(t, code.Body[2].Synthesized())

	block := code.Body[5]
	require.Equal(t, wasm.OpBlock, block.Opcode)
	assert.Equal(t, append(marked, wasm.OpNop, wasm.OpEnd), opcodes(block.Body))

	// The edited module still encodes and decodes.
	_, err := wasm.Decode(m.Encode())
	require.NoError(t, err)
}

type replaceUnreachable struct{}

func (replaceUnreachable) VisitInstr(ctx *traverse.InstrContext) error {
	if ctx.Instr.Opcode == wasm.OpUnreachable {
		ctx.Replace(wasm.Op(wasm.OpNop))
		ctx.InsertBefore(wasm.I32Const(1), wasm.Op(wasm.OpDrop))
		ctx.InsertAfter(wasm.Op(wasm.OpUnreachable))
	}
	return nil
}

func TestReplaceWithInsertions(t *testing.T) {
	m := newModule(t)
	require.NoError(t, traverse.Traverse(context.Background(), m, replaceUnreachable{}))

	code, _ := m.Code(3)
	assert.Equal(t, []byte{
		wasm.OpI32Const, wasm.OpDrop, wasm.OpNop, wasm.OpUnreachable, wasm.OpEnd,
	}, opcodes(code.Body))
}

type stopFirst struct {
	seen []byte
	mu   sync.Mutex
}

func (s *stopFirst) VisitInstr(ctx *traverse.InstrContext) error {
	if ctx.FuncIdx != 2 {
		return nil
	}
	s.mu.Lock()
	s.seen = append(s.seen, ctx.Instr.Opcode)
	s.mu.Unlock()
	ctx.InsertAfter(wasm.Op(wasm.OpNop))
	ctx.Stop()
	return nil
}

func TestStopEndsCurrentBody(t *testing.T) {
	m := newModule(t)
	s := &stopFirst{}
	require.NoError(t, traverse.Traverse(context.Background(), m, s))

	// Stop ends the top level walk after the first call; the block is
	// never reached.
	assert.Equal(t, []byte{wasm.OpCall}, s.seen)
	code, _ := m.Code(2)
	assert.Equal(t, []byte{wasm.OpCall, wasm.OpNop, wasm.OpBlock, wasm.OpEnd}, opcodes(code.Body))
}

type failing struct {
	panicOn uint32
	errOn   uint32
}

func (f failing) VisitInstr(ctx *traverse.InstrContext) error {
	switch ctx.FuncIdx {
	case f.panicOn:
		panic("boom")
	case f.errOn:
		return stderrors.New("bad body")
	}
	ctx.InsertBefore(wasm.Op(wasm.OpNop))
	return nil
}

func TestTaskFailuresAreCollected(t *testing.T) {
	m := newModule(t)
	err := traverse.Traverse(context.Background(), m, failing{panicOn: 3, errOn: 1}, traverse.WithWorkers(2))
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)

	var first, second *errors.Error
	require.ErrorAs(t, errs[0], &first)
	require.ErrorAs(t, errs[1], &second)
	assert.Equal(t, errors.KindTaskFailed, first.Kind)
	assert.Equal(t, uint32(1), first.Value)
	assert.Equal(t, uint32(3), second.Value)
	assert.Contains(t, second.Error(), "boom")
	assert.True(t, stderrors.Is(err, &errors.Error{Phase: errors.PhaseTraverse, Kind: errors.KindTaskFailed}))

	// The healthy body was still rewritten.
	code, _ := m.Code(2)
	assert.Equal(t, wasm.OpNop, code.Body[0].Opcode)
}

type sectionAppender struct{}

func (sectionAppender) VisitTypes(ctx *traverse.SectionContext[wasm.FuncType]) error {
	ctx.InsertAfter(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}})
	return nil
}

func (sectionAppender) VisitExports(ctx *traverse.SectionContext[wasm.Export]) error {
	if len(ctx.Nodes) != 1 {
		return stderrors.New("unexpected exports")
	}
	ctx.InsertAfter(wasm.Export{Name: "helper", Kind: wasm.KindFunc, Index: wasm.NewCell(1)})
	return nil
}

func TestSectionHooksAppend(t *testing.T) {
	m := newModule(t)
	require.NoError(t, traverse.Traverse(context.Background(), m, sectionAppender{}))

	ft, err := m.Type(1)
	require.NoError(t, err)
	assert.Equal(t, "(i32) -> ()", ft.String())
	assert.True(t, m.IsFuncExported(1))
	idx, ok := m.ExportFuncIdx("helper")
	assert.True(t, ok)
	assert.Equal(t, uint32(1), idx)
}

type failingSection struct{}

func (failingSection) VisitTypes(*traverse.SectionContext[wasm.FuncType]) error {
	return stderrors.New("nope")
}

func TestSectionHookErrorStopsTraversal(t *testing.T) {
	m := newModule(t)
	err := traverse.Traverse(context.Background(), m, failingSection{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type section")
}

type offsets struct {
	got map[uint32][]uint32
	mu  sync.Mutex
}

func (o *offsets) VisitInstr(ctx *traverse.InstrContext) error {
	off, ok := ctx.Offset()
	if !ok {
		return stderrors.New("decoded instruction without offset")
	}
	o.mu.Lock()
	o.got[ctx.FuncIdx] = append(o.got[ctx.FuncIdx], off)
	o.mu.Unlock()
	return nil
}

func TestInstructionOffsets(t *testing.T) {
	m := newModule(t)
	o := &offsets{got: map[uint32][]uint32{}}
	require.NoError(t, traverse.Traverse(context.Background(), m, o))

	base, ok := m.CodeSectionStart()
	require.True(t, ok)
	start, ok := m.FuncStart(1)
	require.True(t, ok)
	// Function 1: zero local groups, then nop and end.
	assert.Equal(t, []uint32{uint32(start - base + 1), uint32(start - base + 2)}, o.got[1])
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := traverse.Traverse(ctx, newModule(t), newRecorder())
	assert.ErrorIs(t, err, context.Canceled)
}

type counterPerFunc struct {
	globals map[uint32]uint32
	mu      sync.Mutex
}

func (c *counterPerFunc) VisitInstr(ctx *traverse.InstrContext) error {
	if ctx.Instr.Opcode != wasm.OpEnd {
		return nil
	}
	c.mu.Lock()
	_, seen := c.globals[ctx.FuncIdx]
	c.mu.Unlock()
	if seen {
		return nil
	}

	idx := ctx.Module.AddGlobal(wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: wasm.ConstExpr(wasm.I32Const(0)),
	})
	ctx.InsertBefore(wasm.I32Const(1), wasm.GlobalSet(idx))

	c.mu.Lock()
	c.globals[ctx.FuncIdx] = idx
	c.mu.Unlock()
	return nil
}

func TestConcurrentGlobalsAreNotLost(t *testing.T) {
	m := newModule(t)
	c := &counterPerFunc{globals: map[uint32]uint32{}}
	require.NoError(t, traverse.Traverse(context.Background(), m, c, traverse.WithWorkers(3)))

	require.Len(t, c.globals, 3)
	distinct := map[uint32]bool{}
	for _, idx := range c.globals {
		distinct[idx] = true
		_, err := m.Global(idx)
		require.NoError(t, err)
	}
	assert.Len(t, distinct, 3)

	decoded, err := module.Decode(m.Encode())
	require.NoError(t, err)
	for idx := range distinct {
		_, err := decoded.Global(idx)
		assert.NoError(t, err)
	}
}
