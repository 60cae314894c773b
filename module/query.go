package module

import (
	"fmt"

	"github.com/wippyai/wasm-coredump/errors"
	"github.com/wippyai/wasm-coredump/wasm"
)

// ImportedFuncCount returns the number of imported functions, which is
// also the index of the first defined function.
func (m *Module) ImportedFuncCount() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.importedFuncs
}

// ImportedGlobalCount returns the number of imported globals.
func (m *Module) ImportedGlobalCount() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.importedGlobals
}

// FuncCount returns the size of the function index space.
func (m *Module) FuncCount() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(len(m.funcTypeIdxs))
}

// Type returns the signature at typeIdx.
func (m *Module) Type(typeIdx uint32) (wasm.FuncType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.typeLocked(typeIdx)
}

func (m *Module) typeLocked(typeIdx uint32) (wasm.FuncType, error) {
	if int(typeIdx) >= len(m.types) {
		return wasm.FuncType{}, errors.NotFound(errors.PhaseModule, "type", fmt.Sprint(typeIdx))
	}
	return m.types[typeIdx], nil
}

// FuncTypeIdx returns the type index of a function. Imported functions
// resolve through their import descriptor.
func (m *Module) FuncTypeIdx(funcIdx uint32) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(funcIdx) >= len(m.funcTypeIdxs) {
		return 0, funcNotFound(funcIdx)
	}
	return m.funcTypeIdxs[funcIdx], nil
}

// FuncType returns the signature of a function.
func (m *Module) FuncType(funcIdx uint32) (wasm.FuncType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(funcIdx) >= len(m.funcTypeIdxs) {
		return wasm.FuncType{}, funcNotFound(funcIdx)
	}
	return m.typeLocked(m.funcTypeIdxs[funcIdx])
}

// Code returns the body of a defined function.
func (m *Module) Code(funcIdx uint32) (*wasm.Code, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.codeLocked(funcIdx)
}

func (m *Module) codeLocked(funcIdx uint32) (*wasm.Code, bool) {
	if funcIdx < m.importedFuncs {
		return nil, false
	}
	i := funcIdx - m.importedFuncs
	if int(i) >= len(m.codes) {
		return nil, false
	}
	return m.codes[i], true
}

// FuncLocals returns the declared local groups of a defined function.
// It panics when funcIdx has no body, such as an imported function:
// asking for the locals of code that does not exist is a caller bug.
func (m *Module) FuncLocals(funcIdx uint32) []wasm.LocalEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.codeLocked(funcIdx)
	if !ok {
		panic(fmt.Sprintf("module: no locals recorded for function %d", funcIdx))
	}
	return append([]wasm.LocalEntry(nil), code.Locals...)
}

// FuncLocalsCount returns the number of parameters plus declared locals of
// a defined function, i.e. the size of its local index space. It panics
// like FuncLocals.
func (m *Module) FuncLocalsCount(funcIdx uint32) uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.codeLocked(funcIdx)
	if !ok {
		panic(fmt.Sprintf("module: no locals recorded for function %d", funcIdx))
	}
	var n uint32
	if t, err := m.typeLocked(m.funcTypeIdxs[funcIdx]); err == nil {
		n = uint32(len(t.Params))
	}
	for _, l := range code.Locals {
		n += l.Count
	}
	return n
}

// IsFuncImported reports whether funcIdx refers to an imported function.
func (m *Module) IsFuncImported(funcIdx uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return funcIdx < m.importedFuncs
}

// IsFuncExported reports whether some export refers to funcIdx.
func (m *Module) IsFuncExported(funcIdx uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.exports {
		if m.exports[i].Kind == wasm.KindFunc && m.exports[i].Index.Get() == funcIdx {
			return true
		}
	}
	return false
}

// Exports returns a snapshot of the export list.
func (m *Module) Exports() []wasm.Export {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]wasm.Export(nil), m.exports...)
}

// ExportFunc returns the body and signature of the exported function
// name.
func (m *Module) ExportFunc(name string) (*wasm.Code, wasm.FuncType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.exports {
		e := &m.exports[i]
		if e.Name != name {
			continue
		}
		if e.Kind != wasm.KindFunc {
			return nil, wasm.FuncType{}, errors.TypeMismatch(errors.PhaseModule,
				fmt.Sprintf("export %q is not a function", name))
		}
		funcIdx := e.Index.Get()
		code, ok := m.codeLocked(funcIdx)
		if !ok {
			return nil, wasm.FuncType{}, funcNotFound(funcIdx)
		}
		t, err := m.typeLocked(m.funcTypeIdxs[funcIdx])
		if err != nil {
			return nil, wasm.FuncType{}, err
		}
		return code, t, nil
	}
	return nil, wasm.FuncType{}, errors.NotFound(errors.PhaseModule, "export", name)
}

// ExportFuncIdx returns the function index of the exported function name.
func (m *Module) ExportFuncIdx(name string) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.exports {
		if m.exports[i].Name == name && m.exports[i].Kind == wasm.KindFunc {
			return m.exports[i].Index.Get(), true
		}
	}
	return 0, false
}

// Imports returns a snapshot of the import list.
func (m *Module) Imports() []wasm.Import {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]wasm.Import(nil), m.imports...)
}

// FindImport returns the index within its kind's index space of the import
// module.name.
func (m *Module) FindImport(module, name string) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := map[byte]uint32{}
	for _, imp := range m.imports {
		if imp.Module == module && imp.Name == name {
			return counts[imp.Desc.Kind], true
		}
		counts[imp.Desc.Kind]++
	}
	return 0, false
}

// Global returns a defined or imported global's type. Only defined
// globals carry an initializer.
func (m *Module) Global(globalIdx uint32) (wasm.Global, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if globalIdx < m.importedGlobals {
		var n uint32
		for _, imp := range m.imports {
			if imp.Desc.Kind != wasm.KindGlobal {
				continue
			}
			if n == globalIdx {
				return wasm.Global{Type: *imp.Desc.Global}, nil
			}
			n++
		}
	}
	i := globalIdx - m.importedGlobals
	if int(i) >= len(m.globals) {
		return wasm.Global{}, errors.NotFound(errors.PhaseModule, "global", fmt.Sprint(globalIdx))
	}
	return m.globals[i], nil
}

// Memory returns the limits of memory 0, defined or imported.
func (m *Module) Memory() (wasm.Limits, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.importedMemory != nil {
		return *m.importedMemory, true
	}
	if s, ok := section[*wasm.MemorySection](m.raw); ok && len(s.Memories) > 0 {
		return s.Memories[0], true
	}
	return wasm.Limits{}, false
}

// FuncName returns the name of funcIdx from the name section.
func (m *Module) FuncName(funcIdx uint32) (string, bool) {
	m.mu.RLock()
	names := m.funcNames
	m.mu.RUnlock()
	if names == nil {
		return "", false
	}
	return names.Get(funcIdx)
}

// FuncNames returns a copy of every function name.
func (m *Module) FuncNames() map[uint32]string {
	m.mu.RLock()
	names := m.funcNames
	m.mu.RUnlock()
	if names == nil {
		return map[uint32]string{}
	}
	return names.Snapshot()
}

// CodeSectionStart returns the absolute offset of the code section body in
// the decoded input. Code offsets recorded in coredumps and DWARF are
// relative to it.
func (m *Module) CodeSectionStart() (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.codeStart, m.codeStart >= 0
}

// FuncStart returns the absolute offset of a decoded function body.
func (m *Module) FuncStart(funcIdx uint32) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.codeLocked(funcIdx)
	if !ok || code.Start < 0 {
		return 0, false
	}
	return code.Start, true
}

// CustomSections returns every custom section in module order.
func (m *Module) CustomSections() []*wasm.CustomSection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*wasm.CustomSection
	for _, s := range m.raw.Sections {
		if cs, ok := s.(*wasm.CustomSection); ok {
			out = append(out, cs)
		}
	}
	return out
}

// CustomSection returns the first custom section called name.
func (m *Module) CustomSection(name string) (*wasm.CustomSection, bool) {
	for _, cs := range m.CustomSections() {
		if cs.Name == name {
			return cs, true
		}
	}
	return nil, false
}
