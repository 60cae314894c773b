package builder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/coredump/builder"
	"github.com/wippyai/wasm-coredump/module"
	"github.com/wippyai/wasm-coredump/wasm"
)

func TestBuildLayout(t *testing.T) {
	b := builder.New().SetExecutableName("x")
	b.AddThread(coredump.CoreStack{ThreadName: "a"})
	b.AddThread(coredump.CoreStack{ThreadName: "b"})

	m := b.Build()
	require.Len(t, m.Sections, 5)
	ids := make([]wasm.SectionID, len(m.Sections))
	for i, s := range m.Sections {
		ids[i] = s.ID()
	}
	assert.Equal(t, []wasm.SectionID{
		wasm.SectionCustom, wasm.SectionCustom, wasm.SectionCustom,
		wasm.SectionMemory, wasm.SectionData,
	}, ids)
	assert.Equal(t, wasm.CustomCore, m.Sections[0].(*wasm.CustomSection).Name)
	assert.Equal(t, wasm.CustomCoreStack, m.Sections[2].(*wasm.CustomSection).Name)
}

func TestSerializeRoundTrip(t *testing.T) {
	image := []byte{0, 0, 0, 0, 'c', 'o', 'r', 'e'}
	frames := []coredump.StackFrame{
		{FuncIdx: 7, CodeOffset: 70, Locals: []coredump.Value{coredump.I32(5)}},
		{FuncIdx: 2, CodeOffset: 20},
	}
	b := builder.New().
		SetExecutableName("app.wasm").
		SetMemory(2, nil).
		SetData(image).
		AddThread(coredump.CoreStack{ThreadName: "main", Frames: frames})

	m, err := module.Decode(b.Serialize())
	require.NoError(t, err)
	c, err := m.Coredump()
	require.NoError(t, err)

	assert.Equal(t, "app.wasm", c.Process.ExecutableName)
	require.Len(t, c.Stacks, 1)
	assert.Equal(t, "main", c.Stacks[0].ThreadName)
	got := c.Stacks[0].Frames
	require.Len(t, got, 2)
	for i := range frames {
		assert.Equal(t, frames[i].FuncIdx, got[i].FuncIdx)
		assert.Equal(t, frames[i].CodeOffset, got[i].CodeOffset)
		assert.Len(t, got[i].Locals, len(frames[i].Locals))
	}
	assert.Equal(t, coredump.I32(5), got[0].Locals[0])
	assert.Equal(t, image, c.Data)
	require.Len(t, c.Memory, 1)
	assert.Equal(t, uint32(2), c.Memory[0].Min)
	assert.Nil(t, c.Memory[0].Max)
}
