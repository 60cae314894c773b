package stack_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/coredump/stack"
	"github.com/wippyai/wasm-coredump/debuginfo"
)

type fakeProvider struct {
	functions map[string]*debuginfo.Function
	lines     map[uint64]int
}

func (p fakeProvider) Function(name string) (*debuginfo.Function, bool) {
	fn, ok := p.functions[name]
	return fn, ok
}

func (p fakeProvider) Line(off uint64) (string, int, bool) {
	line, ok := p.lines[off]
	return "src/lib.rs", line, ok
}

func testCoredump() *coredump.Coredump {
	return &coredump.Coredump{Stacks: []coredump.CoreStack{{
		ThreadName: "main",
		Frames: []coredump.StackFrame{
			{FuncIdx: 3, CodeOffset: 100},
			{FuncIdx: 2, CodeOffset: 50},
			{FuncIdx: 9, CodeOffset: 7},
		},
	}}}
}

func TestResolveWithoutProvider(t *testing.T) {
	frames := stack.Resolve(testCoredump(), map[uint32]string{3: "boom", 2: "main"}, nil)
	require.Len(t, frames, 3)

	assert.Equal(t, "boom at unknown.rs:0", frames[0].String())
	assert.Equal(t, "main", frames[1].Name)
	assert.Equal(t, "<unknown-func9>", frames[2].LinkageName)
	assert.Nil(t, frames[2].Function)
}

func TestResolveWithProvider(t *testing.T) {
	p := fakeProvider{
		functions: map[string]*debuginfo.Function{
			"_ZN3app4boom": {Name: "boom", Namespace: "app", File: "src/app.rs", Line: 10},
			"main":         {Name: "main"},
		},
		lines: map[uint64]int{50: 77},
	}
	names := map[uint32]string{3: "_ZN3app4boom", 2: "main"}

	frames := stack.Resolve(testCoredump(), names, p)
	require.Len(t, frames, 3)

	assert.Equal(t, "app::boom", frames[0].Name)
	assert.Equal(t, "src/app.rs:10", frames[0].Location())
	assert.NotNil(t, frames[0].Function)

	// The line table wins over the declaration.
	assert.Equal(t, "main at src/lib.rs:77", frames[1].String())

	assert.Equal(t, "<unknown-func9> at unknown.rs:0", frames[2].String())
}

func TestResolveEmpty(t *testing.T) {
	assert.Nil(t, stack.Resolve(&coredump.Coredump{}, nil, nil))
}
