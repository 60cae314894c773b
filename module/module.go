package module

import (
	"sync"

	"github.com/wippyai/wasm-coredump/errors"
	"github.com/wippyai/wasm-coredump/wasm"
)

// Module wraps a decoded module with index tables over its function,
// type, import, export and global spaces. Every mutation goes through this
// type so the tables stay consistent; they are rebuilt whenever a mutation
// changes the size of an index space.
//
// All methods are safe for concurrent use. Each call holds the lock for
// one short critical section only.
type Module struct {
	raw *wasm.Module
	mu  sync.RWMutex

	types           []wasm.FuncType
	funcTypeIdxs    []uint32 // by funcidx, imports first
	codes           []*wasm.Code
	imports         []wasm.Import
	exports         []wasm.Export
	globals         []wasm.Global
	funcNames       *wasm.NameMap
	importedFuncs   uint32
	importedGlobals uint32
	importedMemory  *wasm.Limits
	codeStart       int
}

// New indexes m. The facade takes ownership of m: callers must not modify
// its sections directly afterwards.
func New(m *wasm.Module) *Module {
	mod := &Module{raw: m}
	mod.reindex()
	return mod
}

// Decode decodes data and indexes the result.
func Decode(data []byte) (*Module, error) {
	m, err := wasm.Decode(data)
	if err != nil {
		return nil, err
	}
	return New(m), nil
}

// Raw returns the underlying module.
func (m *Module) Raw() *wasm.Module {
	return m.raw
}

// Encode encodes the underlying module.
func (m *Module) Encode() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.raw.Encode()
}

// Sections returns a snapshot of the section list.
func (m *Module) Sections() []wasm.Section {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]wasm.Section(nil), m.raw.Sections...)
}

// View runs fn on the underlying module under the read lock. fn must not
// modify the module.
func (m *Module) View(fn func(raw *wasm.Module)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.raw)
}

// Mutate runs fn on the underlying module under the write lock and
// rebuilds the index tables afterwards.
func (m *Module) Mutate(fn func(raw *wasm.Module)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.raw)
	m.reindex()
}

// reindex rebuilds every table in a single pass over the sections.
// Callers hold the write lock, or own m exclusively.
func (m *Module) reindex() {
	m.types = nil
	m.funcTypeIdxs = m.funcTypeIdxs[:0]
	m.codes = nil
	m.imports = nil
	m.exports = nil
	m.globals = nil
	m.funcNames = nil
	m.importedFuncs = 0
	m.importedGlobals = 0
	m.importedMemory = nil
	m.codeStart = -1

	var defined []uint32
	for _, s := range m.raw.Sections {
		switch s := s.(type) {
		case *wasm.TypeSection:
			m.types = s.Types
		case *wasm.ImportSection:
			m.imports = s.Imports
		case *wasm.FuncSection:
			defined = s.TypeIdxs
		case *wasm.GlobalSection:
			m.globals = s.Globals
		case *wasm.ExportSection:
			m.exports = s.Exports
		case *wasm.CodeSection:
			m.codes = s.Codes
			m.codeStart = s.Offset
		case *wasm.CustomSection:
			if ns, ok := s.Content.(*wasm.NameSection); ok && m.funcNames == nil {
				m.funcNames = ns.FuncNames
			}
		}
	}

	for i := range m.imports {
		switch m.imports[i].Desc.Kind {
		case wasm.KindFunc:
			m.importedFuncs++
			m.funcTypeIdxs = append(m.funcTypeIdxs, m.imports[i].Desc.TypeIdx)
		case wasm.KindGlobal:
			m.importedGlobals++
		case wasm.KindMemory:
			if m.importedMemory == nil {
				m.importedMemory = m.imports[i].Desc.Memory
			}
		}
	}
	m.funcTypeIdxs = append(m.funcTypeIdxs, defined...)
}

// section returns the first section of type T.
func section[T wasm.Section](m *wasm.Module) (T, bool) {
	for _, s := range m.Sections {
		if t, ok := s.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// insertSection places s before the first standard section that must
// follow it. Custom sections are appended.
func insertSection(m *wasm.Module, s wasm.Section) {
	order := wasm.SectionOrder(s.ID())
	pos := len(m.Sections)
	if s.ID() != wasm.SectionCustom {
		for i, existing := range m.Sections {
			if existing.ID() != wasm.SectionCustom && wasm.SectionOrder(existing.ID()) > order {
				pos = i
				break
			}
		}
	}
	m.Sections = append(m.Sections, nil)
	copy(m.Sections[pos+1:], m.Sections[pos:])
	m.Sections[pos] = s
}

// ensureSection returns the first section of type T, inserting the one
// built by mk when absent.
func ensureSection[T wasm.Section](m *wasm.Module, mk func() T) T {
	if s, ok := section[T](m); ok {
		return s
	}
	s := mk()
	s.Header().Offset = -1
	insertSection(m, s)
	return s
}

func funcNotFound(funcIdx uint32) error {
	return errors.New(errors.PhaseModule, errors.KindNotFound).
		Path("func").
		Value(funcIdx).
		Detail("function %d not found", funcIdx).
		Build()
}
