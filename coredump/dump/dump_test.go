package dump_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/coredump/builder"
	"github.com/wippyai/wasm-coredump/coredump/dump"
	"github.com/wippyai/wasm-coredump/module"
)

func TestDumpBuiltCoredump(t *testing.T) {
	b := builder.New().SetExecutableName("foo.exe")
	b.AddThread(coredump.CoreStack{
		ThreadName: "main-thread",
		Frames: []coredump.StackFrame{
			{FuncIdx: 456, CodeOffset: 123},
			{FuncIdx: 0, CodeOffset: 789},
		},
	})

	m, err := module.Decode(b.Serialize())
	require.NoError(t, err)
	c, err := m.Coredump()
	require.NoError(t, err)

	want := `(module (coredump)
    (process (name "foo.exe"))
    (thread (name "main-thread")
        (func 456 (offset 123))
        (func 0 (offset 789))
    )
    (memory 0)
)
`
	assert.Equal(t, want, dump.String(c))
}

func TestDumpLocalsDataAndLimits(t *testing.T) {
	hi := uint32(4)
	b := builder.New().SetExecutableName("app.wasm").SetMemory(1, &hi).SetData(make([]byte, 32))
	b.AddThread(coredump.CoreStack{
		ThreadName: "main",
		Frames: []coredump.StackFrame{{
			FuncIdx:    3,
			CodeOffset: 10,
			Locals:     []coredump.Value{coredump.I32(-1), coredump.F64(0.5), coredump.Missing()},
		}},
	})

	m, err := module.Decode(b.Serialize())
	require.NoError(t, err)
	c, err := m.Coredump()
	require.NoError(t, err)

	want := `(module (coredump)
    (process (name "app.wasm"))
    (thread (name "main")
        (func 3 (offset 10)
            (local i32 -1)
            (local f64 0.5)
            (local missing)
        )
    )
    (data (i32.const 0) "...32 bytes")
    (memory 1 4)
)
`
	assert.Equal(t, want, dump.String(c))
	assert.Equal(t, want, dump.String(b.Coredump()))
}
