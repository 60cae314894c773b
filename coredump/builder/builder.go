// Package builder assembles coredump modules.
//
// A coredump is itself a Wasm module: a "core" custom section with the
// process info, one "corestack" custom section per thread, a memory section
// with the process memory limits and a data section holding the memory
// image at address 0.
//
//	b := builder.New().SetExecutableName("app.wasm")
//	b.AddThread(coredump.CoreStack{ThreadName: "main", Frames: frames})
//	b.SetMemory(1, nil).SetData(mem)
//	out := b.Serialize()
package builder

import (
	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/wasm"
)

// Builder collects the parts of a coredump.
type Builder struct {
	maxPages *uint32
	process  coredump.ProcessInfo
	threads  []coredump.CoreStack
	data     []byte
	minPages uint32
}

// New returns an empty builder. Without SetMemory the memory has zero
// pages and no maximum.
func New() *Builder {
	return &Builder{}
}

// SetExecutableName sets the process executable name.
func (b *Builder) SetExecutableName(name string) *Builder {
	b.process.ExecutableName = name
	return b
}

// AddThread appends a thread. Frames are expected innermost first.
func (b *Builder) AddThread(s coredump.CoreStack) *Builder {
	b.threads = append(b.threads, s)
	return b
}

// SetMemory sets the memory limits in pages.
func (b *Builder) SetMemory(minPages uint32, maxPages *uint32) *Builder {
	b.minPages = minPages
	b.maxPages = maxPages
	return b
}

// SetData sets the complete memory image. Partial images are not
// supported.
func (b *Builder) SetData(data []byte) *Builder {
	b.data = data
	return b
}

// Coredump returns the in-memory form of what Serialize writes.
func (b *Builder) Coredump() *coredump.Coredump {
	return &coredump.Coredump{
		Process: b.process,
		Stacks:  append([]coredump.CoreStack(nil), b.threads...),
		Data:    b.data,
		Memory:  []coredump.MemoryLimits{{Min: b.minPages, Max: b.maxPages}},
	}
}

// Build returns the coredump module.
func (b *Builder) Build() *wasm.Module {
	m := &wasm.Module{}
	m.Sections = append(m.Sections, &wasm.CustomSection{
		Name:    wasm.CustomCore,
		Content: &wasm.CoreSection{Process: b.process},
	})
	for _, t := range b.threads {
		m.Sections = append(m.Sections, &wasm.CustomSection{
			Name:    wasm.CustomCoreStack,
			Content: &wasm.CoreStackSection{Stack: t},
		})
	}
	m.Sections = append(m.Sections,
		&wasm.MemorySection{Memories: []wasm.Limits{{Min: b.minPages, Max: b.maxPages}}},
		&wasm.DataSection{Segments: []wasm.DataSegment{{
			Mode:   wasm.DataActive,
			Offset: wasm.ConstExpr(wasm.I32Const(0)),
			Init:   b.data,
		}}},
	)
	return m
}

// Serialize encodes the coredump module.
func (b *Builder) Serialize() []byte {
	return b.Build().Encode()
}
