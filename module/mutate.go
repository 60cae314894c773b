package module

import (
	"github.com/wippyai/wasm-coredump/errors"
	"github.com/wippyai/wasm-coredump/wasm"
)

// AddType appends a signature and returns its index. A type section is
// created when the module has none.
func (m *Module) AddType(t wasm.FuncType) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addTypeLocked(t)
}

// FindOrAddType returns the index of a signature equal to t, appending it
// when none exists.
func (m *Module) FindOrAddType(t wasm.FuncType) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.types {
		if m.types[i].Equal(t) {
			return uint32(i)
		}
	}
	return m.addTypeLocked(t)
}

func (m *Module) addTypeLocked(t wasm.FuncType) uint32 {
	s := ensureSection(m.raw, func() *wasm.TypeSection { return &wasm.TypeSection{} })
	s.Types = append(s.Types, t)
	m.types = s.Types
	return uint32(len(s.Types) - 1)
}

// AddGlobal appends a global and returns its index in the global index
// space, past the imported globals. A global section is inserted at its
// sorted position when the module has none.
func (m *Module) AddGlobal(g wasm.Global) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := ensureSection(m.raw, func() *wasm.GlobalSection { return &wasm.GlobalSection{} })
	s.Globals = append(s.Globals, g)
	m.globals = s.Globals
	return m.importedGlobals + uint32(len(s.Globals)-1)
}

// AddFunction appends a function body of type typeIdx and returns its
// function index. The function and code sections are extended in lock
// step.
func (m *Module) AddFunction(code *wasm.Code, typeIdx uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	funcs := ensureSection(m.raw, func() *wasm.FuncSection { return &wasm.FuncSection{} })
	codes := ensureSection(m.raw, func() *wasm.CodeSection { return &wasm.CodeSection{} })
	funcs.TypeIdxs = append(funcs.TypeIdxs, typeIdx)
	codes.Codes = append(codes.Codes, code)
	m.reindex()
	return m.importedFuncs + uint32(len(codes.Codes)-1)
}

// AddFuncLocal declares one more local group on a defined function. It
// reports false when funcIdx has no body.
func (m *Module) AddFuncLocal(funcIdx uint32, local wasm.LocalEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codeLocked(funcIdx)
	if !ok {
		return false
	}
	code.Locals = append(code.Locals, local)
	return true
}

// AddFuncName names funcIdx in the name section, creating the section if
// needed. The name map is shared with the section, so the name is encoded
// with the module. A name section that failed to decode is replaced.
func (m *Module) AddFuncName(funcIdx uint32, name string) {
	m.mu.Lock()
	if m.funcNames == nil {
		m.funcNames = m.nameMapLocked()
	}
	names := m.funcNames
	m.mu.Unlock()
	names.Set(funcIdx, name)
}

func (m *Module) nameMapLocked() *wasm.NameMap {
	for _, s := range m.raw.Sections {
		cs, ok := s.(*wasm.CustomSection)
		if !ok || cs.Name != wasm.CustomName {
			continue
		}
		if ns, ok := cs.Content.(*wasm.NameSection); ok {
			if ns.FuncNames == nil {
				ns.FuncNames = wasm.NewNameMap()
			}
			return ns.FuncNames
		}
		ns := wasm.NewNameSection()
		cs.Content = ns
		return ns.FuncNames
	}
	ns := wasm.NewNameSection()
	insertSection(m.raw, &wasm.CustomSection{
		SectionHeader: wasm.SectionHeader{Offset: -1},
		Name:          wasm.CustomName,
		Content:       ns,
	})
	return ns.FuncNames
}

// AddExportFunc exports funcIdx as name.
func (m *Module) AddExportFunc(name string, funcIdx uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := ensureSection(m.raw, func() *wasm.ExportSection { return &wasm.ExportSection{} })
	s.Exports = append(s.Exports, wasm.Export{Name: name, Kind: wasm.KindFunc, Index: wasm.NewCell(funcIdx)})
	m.exports = s.Exports
}

// AddImport always fails: adding an import shifts every function or global
// index defined after it, which would require renumbering calls, exports,
// element segments and names across the module.
func (m *Module) AddImport(wasm.Import) (uint32, error) {
	return 0, errors.Unsupported(errors.PhaseModule, "adding imports to an existing module")
}

// AddCustomSection appends a custom section.
func (m *Module) AddCustomSection(name string, content wasm.CustomContent) {
	m.Mutate(func(raw *wasm.Module) {
		insertSection(raw, &wasm.CustomSection{
			SectionHeader: wasm.SectionHeader{Offset: -1},
			Name:          name,
			Content:       content,
		})
	})
}

// RemoveCustomSection removes the first custom section called name and
// reports whether one was found.
func (m *Module) RemoveCustomSection(name string) bool {
	removed := false
	m.Mutate(func(raw *wasm.Module) {
		for i, s := range raw.Sections {
			if cs, ok := s.(*wasm.CustomSection); ok && cs.Name == name {
				raw.Sections = append(raw.Sections[:i], raw.Sections[i+1:]...)
				removed = true
				return
			}
		}
	})
	return removed
}

// SetBuildID replaces the build_id section, adding one if absent.
func (m *Module) SetBuildID(id []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.raw.Sections {
		if cs, ok := s.(*wasm.CustomSection); ok && cs.Name == wasm.CustomBuildID {
			cs.Content = &wasm.BuildIDSection{ID: id}
			return
		}
	}
	insertSection(m.raw, &wasm.CustomSection{
		SectionHeader: wasm.SectionHeader{Offset: -1},
		Name:          wasm.CustomBuildID,
		Content:       &wasm.BuildIDSection{ID: id},
	})
}
