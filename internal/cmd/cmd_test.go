package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-coredump/debuginfo"
	"github.com/wippyai/wasm-coredump/module"
	"github.com/wippyai/wasm-coredump/wasm"
)

// program exports main, which calls crash(7), and ok, which returns 5.
func program() []byte {
	names := wasm.NewNameSection()
	names.FuncNames.Set(0, "main")
	names.FuncNames.Set(1, "crash")
	names.FuncNames.Set(2, "ok")

	m := &wasm.Module{Sections: []wasm.Section{
		&wasm.TypeSection{Types: []wasm.FuncType{
			{Results: []wasm.ValType{wasm.ValI32}},
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		}},
		&wasm.FuncSection{TypeIdxs: []uint32{0, 1, 0}},
		&wasm.MemorySection{Memories: []wasm.Limits{{Min: 1}}},
		&wasm.ExportSection{Exports: []wasm.Export{
			{Name: "main", Kind: wasm.KindFunc, Index: wasm.NewCell(0)},
			{Name: "ok", Kind: wasm.KindFunc, Index: wasm.NewCell(2)},
		}},
		&wasm.CodeSection{Codes: []*wasm.Code{
			wasm.NewCode(nil, []wasm.Instruction{wasm.I32Const(7), wasm.Call(1), wasm.End()}),
			wasm.NewCode(nil, []wasm.Instruction{wasm.Op(wasm.OpUnreachable), wasm.End()}),
			wasm.NewCode(nil, []wasm.Instruction{wasm.I32Const(5), wasm.End()}),
		}},
		&wasm.CustomSection{Name: wasm.CustomName, Content: names},
	}}
	return m.Encode()
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// workspace writes the program and its instrumented version and a coredump
// of a call to main.
func workspace(t *testing.T) (src, inst, core string) {
	t.Helper()
	dir := t.TempDir()
	src = filepath.Join(dir, "app.wasm")
	inst = filepath.Join(dir, "app.instrumented.wasm")
	core = filepath.Join(dir, "app.coredump")
	require.NoError(t, os.WriteFile(src, program(), 0o644))

	_, err := execute(t, "", "rewrite", src, "-o", inst)
	require.NoError(t, err)
	_, err = execute(t, "", "run", inst, "main", "-o", core)
	require.NoError(t, err)
	return src, inst, core
}

func TestRewriteRunDump(t *testing.T) {
	_, inst, core := workspace(t)

	out, err := execute(t, "", "dump", core)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "(module (coredump)\n"))
	assert.Contains(t, out, `(thread (name "main")`)
	assert.Contains(t, out, "(func 1 (offset")

	// Without an output file the coredump is printed.
	out, err = execute(t, "", "run", inst, "main")
	require.NoError(t, err)
	assert.Contains(t, out, "(func 0 (offset")

	out, err = execute(t, "", "run", inst, "ok")
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)
}

func TestRewriteFromStdin(t *testing.T) {
	out, err := execute(t, string(program()), "rewrite", "-", "--frames-base", "2048")
	require.NoError(t, err)

	m, err := module.Decode([]byte(out))
	require.NoError(t, err)
	g, err := m.Global(0)
	require.NoError(t, err)
	assert.Equal(t, int32(2048+11), g.Init[0].Imm.(wasm.I32Imm).Value)
}

func TestRunUninstrumented(t *testing.T) {
	src, _, _ := workspace(t)
	_, err := execute(t, "", "run", src, "main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without writing frames")
}

func TestStack(t *testing.T) {
	src, _, core := workspace(t)

	out, err := execute(t, "", "stack", core, "--debug-module", src)
	require.NoError(t, err)
	assert.Equal(t, "#0\tcrash at unknown.rs:0\n#1\tmain at unknown.rs:0\n", out)

	out, err = execute(t, "", "stack", core)
	require.NoError(t, err)
	assert.Equal(t, "#0\t<unknown-func1> at unknown.rs:0\n#1\t<unknown-func0> at unknown.rs:0\n", out)
}

func TestDebugREPL(t *testing.T) {
	src, _, core := workspace(t)

	out, err := execute(t, "bt\nf 1\nx/4s 0\nbogus\nquit\n", "debug", src, core)
	require.NoError(t, err)
	assert.Contains(t, out, "#0 \t000001 as crash () at unknown.rs:0\n")
	assert.Contains(t, out, "#1\t000000 as main () at unknown.rs:0\n")
	assert.Contains(t, out, "0x0 (4 char(s)) = \"core\"\n")
	assert.Contains(t, out, "Error: ")
}

func TestSplit(t *testing.T) {
	src, _, _ := workspace(t)
	dbg := filepath.Join(filepath.Dir(src), "app.debug.wasm")

	_, err := execute(t, "", "split", src, dbg, "--build-id", "dead")
	require.NoError(t, err)

	stripped, err := loadFile(src)
	require.NoError(t, err)
	_, ok := stripped.FuncName(0)
	assert.False(t, ok)
	id, ok := debuginfo.BuildID(stripped)
	require.True(t, ok)
	assert.Equal(t, []byte{0xde, 0xad}, id)

	debug, err := loadFile(dbg)
	require.NoError(t, err)
	name, ok := debug.FuncName(1)
	require.True(t, ok)
	assert.Equal(t, "crash", name)

	_, err = execute(t, "", "split", src, dbg, "--build-id", "xyz")
	assert.Error(t, err)
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"1", "0x10", "-1"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 16, ^uint64(0)}, got)

	_, err = parseParams([]string{"one"})
	assert.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rewrite:\n  workers: -1\n"), 0o644))

	_, err := execute(t, "", "--config", path, "dump", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
}

func loadFile(path string) (*module.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return module.Decode(data)
}
