package engine

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/errors"
	"github.com/wippyai/wasm-coredump/module"
	"github.com/wippyai/wasm-coredump/rewrite"
	"github.com/wippyai/wasm-coredump/wasm"
)

// guestModule exports main, which calls crash(7), boom, which traps
// itself, and ok, which returns 5. crash keeps 42 in an i64 local before
// hitting unreachable.
func guestModule() []byte {
	maxPages := uint32(2)
	m := &wasm.Module{Sections: []wasm.Section{
		&wasm.TypeSection{Types: []wasm.FuncType{
			{Results: []wasm.ValType{wasm.ValI32}},
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{},
		}},
		&wasm.FuncSection{TypeIdxs: []uint32{0, 1, 2, 0}},
		&wasm.MemorySection{Memories: []wasm.Limits{{Min: 1, Max: &maxPages}}},
		&wasm.ExportSection{Exports: []wasm.Export{
			{Name: "main", Kind: wasm.KindFunc, Index: wasm.NewCell(0)},
			{Name: "boom", Kind: wasm.KindFunc, Index: wasm.NewCell(2)},
			{Name: "ok", Kind: wasm.KindFunc, Index: wasm.NewCell(3)},
		}},
		&wasm.CodeSection{Codes: []*wasm.Code{
			wasm.NewCode(nil, []wasm.Instruction{
				wasm.I32Const(7),
				wasm.Call(1),
				wasm.End(),
			}),
			wasm.NewCode([]wasm.LocalEntry{{Count: 1, ValType: wasm.ValI64}}, []wasm.Instruction{
				wasm.I64Const(42),
				wasm.LocalSet(1),
				wasm.Op(wasm.OpUnreachable),
				wasm.End(),
			}),
			wasm.NewCode(nil, []wasm.Instruction{
				wasm.Op(wasm.OpUnreachable),
				wasm.End(),
			}),
			wasm.NewCode(nil, []wasm.Instruction{
				wasm.I32Const(5),
				wasm.End(),
			}),
		}},
	}}
	return m.Encode()
}

// offsetOf returns the code offset of the instruction at body[i] of
// funcIdx in the uninstrumented module.
func offsetOf(t *testing.T, data []byte, funcIdx uint32, i int) uint32 {
	t.Helper()
	m, err := module.Decode(data)
	require.NoError(t, err)
	code, ok := m.Code(funcIdx)
	require.True(t, ok)
	base, ok := m.CodeSectionStart()
	require.True(t, ok)
	return uint32(code.Body[i].Start - base)
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

func instrumented(t *testing.T, data []byte) []byte {
	t.Helper()
	out, err := rewrite.Transform(data, rewrite.DefaultConfig())
	require.NoError(t, err)
	return out
}

func TestRunCapturesStackInnermostFirst(t *testing.T) {
	src := guestModule()
	res, err := newEngine(t).Run(context.Background(), instrumented(t, src), "main")
	require.NoError(t, err)
	require.True(t, res.Trapped)
	require.Error(t, res.Err)
	require.NotNil(t, res.Coredump)

	dump, err := module.Decode(res.Coredump)
	require.NoError(t, err)
	c, err := dump.Coredump()
	require.NoError(t, err)

	assert.Equal(t, "wasm", c.Process.ExecutableName)
	require.Len(t, c.Stacks, 1)
	assert.Equal(t, "main", c.Stacks[0].ThreadName)

	frames := c.Stacks[0].Frames
	require.Len(t, frames, 2)

	assert.Equal(t, uint32(1), frames[0].FuncIdx)
	assert.Equal(t, offsetOf(t, src, 1, 2), frames[0].CodeOffset)
	assert.Equal(t, []coredump.Value{coredump.I32(7), coredump.I64(42)}, frames[0].Locals)
	assert.Empty(t, frames[0].Stack)

	assert.Equal(t, uint32(0), frames[1].FuncIdx)
	assert.Equal(t, offsetOf(t, src, 0, 1), frames[1].CodeOffset)
	assert.Empty(t, frames[1].Locals)

	require.Len(t, c.Memory, 1)
	assert.Equal(t, uint32(1), c.Memory[0].Min)
	require.NotNil(t, c.Memory[0].Max)
	assert.Equal(t, uint32(2), *c.Memory[0].Max)
	require.Len(t, c.Data, wasm.PageSize)
	assert.Equal(t, []byte("core"), c.Data[:4])
}

func TestRunTrapInEntryFunction(t *testing.T) {
	res, err := newEngine(t).Run(context.Background(), instrumented(t, guestModule()), "boom")
	require.NoError(t, err)
	require.True(t, res.Trapped)

	frames, err := framesOf(res.Coredump)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(2), frames[0].FuncIdx)
}

func TestRunReturns(t *testing.T) {
	res, err := newEngine(t).Run(context.Background(), instrumented(t, guestModule()), "ok")
	require.NoError(t, err)
	assert.False(t, res.Trapped)
	assert.NoError(t, res.Err)
	assert.Nil(t, res.Coredump)
	assert.Equal(t, []uint64{5}, res.Values)
}

func TestRunUninstrumentedTrap(t *testing.T) {
	res, err := newEngine(t).Run(context.Background(), guestModule(), "main")
	require.NoError(t, err)
	assert.True(t, res.Trapped)
	assert.Nil(t, res.Coredump)
}

func TestRunMissingExport(t *testing.T) {
	_, err := newEngine(t).Run(context.Background(), guestModule(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindNotFound})
}

func TestRunInvalidModule(t *testing.T) {
	_, err := newEngine(t).Run(context.Background(), []byte("\x00asm"), "main")
	require.Error(t, err)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindInvalidInput})
}

func TestReadFrames(t *testing.T) {
	frames := []coredump.StackFrame{
		{FuncIdx: 3, CodeOffset: 10, Locals: []coredump.Value{coredump.I32(1)}, Stack: []coredump.Value{}},
		{FuncIdx: 1, CodeOffset: 4, Locals: []coredump.Value{}, Stack: []coredump.Value{}},
	}
	encoded := coredump.EncodeFrames(frames)

	const base = 64
	mem := make([]byte, 256)
	copy(mem[base:], "core")
	mem[base+4] = 2
	mem[base+8] = byte(base + 12 + len(encoded))
	copy(mem[base+12:], encoded)

	got, err := ReadFrames(mem, base)
	require.NoError(t, err)
	assert.Equal(t, frames, got)

	_, err = ReadFrames(mem, 0)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindNotFound})

	mem[base+8] = 0xff
	mem[base+9] = 0xff
	_, err = ReadFrames(mem, base)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindInvalidData})

	_, err = ReadFrames(mem[:8], 0)
	assert.Error(t, err)
}

func TestRunWithWASI(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.WASI = true
	e, err := New(ctx, cfg)
	require.NoError(t, err)
	defer e.Close(ctx)

	for i := 0; i < 2; i++ {
		res, err := e.Run(ctx, instrumented(t, guestModule()), "ok")
		require.NoError(t, err)
		assert.Equal(t, []uint64{5}, res.Values)
	}
}

// framesOf decodes the first thread of an encoded coredump.
func framesOf(data []byte) ([]coredump.StackFrame, error) {
	m, err := module.Decode(data)
	if err != nil {
		return nil, err
	}
	c, err := m.Coredump()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(c.Data[:4], []byte("core")) {
		return nil, errors.Malformed(errors.PhaseRuntime, "frames region missing")
	}
	return c.Stacks[0].Frames, nil
}
