package debuginfo

import (
	"strings"

	"github.com/wippyai/wasm-coredump/module"
	"github.com/wippyai/wasm-coredump/wasm"
)

// Sections returns the raw content of every ".debug_*" custom section of
// m, keyed by section name.
func Sections(m *wasm.Module) map[string][]byte {
	out := make(map[string][]byte)
	for _, s := range m.Sections {
		cs, ok := s.(*wasm.CustomSection)
		if !ok || !strings.HasPrefix(cs.Name, ".debug_") {
			continue
		}
		if raw, ok := cs.Content.(*wasm.RawCustom); ok {
			out[cs.Name] = raw.Data
		}
	}
	return out
}

// Split moves the name section and every custom section this package does
// not decode out of m, and returns them as a standalone debug module. When
// buildID is not nil it is set on both modules so the two can be matched.
// The names of the removed sections are returned in module order.
func Split(m *module.Module, buildID []byte) (*wasm.Module, []string) {
	debug := &wasm.Module{}
	var removed []string
	for _, cs := range m.CustomSections() {
		switch cs.Content.(type) {
		case *wasm.RawCustom, *wasm.NameSection:
			debug.Sections = append(debug.Sections, cs)
			removed = append(removed, cs.Name)
		}
	}
	for _, name := range removed {
		m.RemoveCustomSection(name)
	}

	if buildID != nil {
		m.SetBuildID(buildID)
		debug.Sections = append(debug.Sections, &wasm.CustomSection{
			SectionHeader: wasm.SectionHeader{Offset: -1},
			Name:          wasm.CustomBuildID,
			Content:       &wasm.BuildIDSection{ID: buildID},
		})
	}
	return debug, removed
}

// BuildID returns the build id of m, if it has one.
func BuildID(m *module.Module) ([]byte, bool) {
	cs, ok := m.CustomSection(wasm.CustomBuildID)
	if !ok {
		return nil, false
	}
	id, ok := cs.Content.(*wasm.BuildIDSection)
	if !ok {
		return nil, false
	}
	return id.ID, true
}
