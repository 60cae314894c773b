package traverse

import (
	"context"
	"fmt"
	"runtime"
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-coredump/module"
	"github.com/wippyai/wasm-coredump/wasm"
)

// Config controls a traversal.
type Config struct {
	// Workers is the number of goroutines walking function bodies.
	// Zero means runtime.NumCPU().
	Workers int
}

// DefaultConfig returns the default traversal configuration.
func DefaultConfig() Config {
	return Config{Workers: runtime.NumCPU()}
}

// Option configures a traversal.
type Option func(*Config)

// WithWorkers sets the number of body walking goroutines.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

// Traverse walks m's sections in declaration order and calls the hooks v
// implements.
//
// Section hooks run on the calling goroutine. For the code section, the
// CodeSectionVisitor hook runs first, then CodeVisitor for each body in
// order, then each body is handed to a worker that runs InstrVisitor over
// it. All body walks finish before the next section is visited.
//
// A body walk that fails or panics does not stop the others. Their errors
// are combined, in function index order, into the returned error.
func Traverse(ctx context.Context, m *module.Module, v Visitor, opts ...Option) error {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	for _, s := range m.Sections() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := visitSection(ctx, m, s, v, cfg); err != nil {
			return err
		}
	}
	return nil
}

func visitSection(ctx context.Context, m *module.Module, s wasm.Section, v Visitor, cfg Config) error {
	var err error
	switch s := s.(type) {
	case *wasm.TypeSection:
		if h, ok := v.(TypeVisitor); ok {
			err = visitNodes(m, func() *[]wasm.FuncType { return &s.Types }, h.VisitTypes)
		}
	case *wasm.ImportSection:
		if h, ok := v.(ImportVisitor); ok {
			err = visitNodes(m, func() *[]wasm.Import { return &s.Imports }, h.VisitImports)
		}
	case *wasm.FuncSection:
		if h, ok := v.(FuncSectionVisitor); ok {
			err = visitNodes(m, func() *[]uint32 { return &s.TypeIdxs }, h.VisitFuncs)
		}
	case *wasm.TableSection:
		if h, ok := v.(TableVisitor); ok {
			err = visitNodes(m, func() *[]wasm.TableType { return &s.Tables }, h.VisitTables)
		}
	case *wasm.ExportSection:
		if h, ok := v.(ExportVisitor); ok {
			err = visitNodes(m, func() *[]wasm.Export { return &s.Exports }, h.VisitExports)
		}
	case *wasm.ElementSection:
		if h, ok := v.(ElementVisitor); ok {
			err = visitNodes(m, func() *[]wasm.Element { return &s.Elements }, h.VisitElements)
		}
	case *wasm.DataSection:
		if h, ok := v.(DataVisitor); ok {
			err = visitNodes(m, func() *[]wasm.DataSegment { return &s.Segments }, h.VisitData)
		}
	case *wasm.CodeSection:
		return visitCode(ctx, m, s, v, cfg)
	}
	if err != nil {
		return fmt.Errorf("%s section: %w", s.ID(), err)
	}
	return nil
}

// visitNodes hands a snapshot of a section's entries to hook and appends
// whatever the hook queued.
func visitNodes[T any](m *module.Module, live func() *[]T, hook func(*SectionContext[T]) error) error {
	var nodes []T
	m.View(func(*wasm.Module) {
		nodes = slices.Clone(*live())
	})

	sctx := &SectionContext[T]{Module: m, Nodes: nodes}
	if err := hook(sctx); err != nil {
		return err
	}
	if len(sctx.added) > 0 {
		m.Mutate(func(*wasm.Module) {
			p := live()
			*p = append(*p, sctx.added...)
		})
	}
	return nil
}

func visitCode(ctx context.Context, m *module.Module, s *wasm.CodeSection, v Visitor, cfg Config) error {
	if h, ok := v.(CodeSectionVisitor); ok {
		if err := visitNodes(m, func() *[]*wasm.Code { return &s.Codes }, h.VisitCodeSection); err != nil {
			return fmt.Errorf("%s section: %w", s.ID(), err)
		}
	}

	codeVisitor, visitCodes := v.(CodeVisitor)
	instrVisitor, visitInstrs := v.(InstrVisitor)
	if !visitCodes && !visitInstrs {
		return nil
	}

	var codes []*wasm.Code
	m.View(func(*wasm.Module) {
		codes = slices.Clone(s.Codes)
	})

	p := newPool(cfg.Workers)
	funcIdx := m.ImportedFuncCount()
	var dispatchErr error
	for _, code := range codes {
		idx := funcIdx
		funcIdx++

		if visitCodes {
			if err := codeVisitor.VisitCode(&CodeContext{Module: m, Code: code, FuncIdx: idx}); err != nil {
				p.fail(idx, err)
				continue
			}
		}
		if !visitInstrs {
			continue
		}

		w := &walker{m: m, code: code, funcIdx: idx, v: instrVisitor}
		if err := p.submit(ctx, job{funcIdx: idx, run: w.run}); err != nil {
			dispatchErr = err
			break
		}
	}

	err := p.join()
	if dispatchErr != nil {
		return dispatchErr
	}
	if err != nil {
		Logger().Warn("function body tasks failed", zap.Error(err))
	}
	return err
}

// walker runs an InstrVisitor over one function body. It is owned by a
// single worker.
type walker struct {
	m       *module.Module
	code    *wasm.Code
	v       InstrVisitor
	funcIdx uint32
}

func (w *walker) run() error {
	return w.walk(&w.code.Body)
}

// walk visits a frozen copy of body while edits land in the live slice.
// added tracks how far the live slice has shifted from the frozen one.
func (w *walker) walk(body *[]wasm.Instruction) error {
	frozen := slices.Clone(*body)
	added := 0
	for i := range frozen {
		instr := &frozen[i]
		if instr.IsStructured() {
			live := &(*body)[i+added]
			if err := w.walk(&live.Body); err != nil {
				return err
			}
			continue
		}

		ictx := &InstrContext{Module: w.m, Code: w.code, Instr: instr, FuncIdx: w.funcIdx}
		if err := w.v.VisitInstr(ictx); err != nil {
			return err
		}

		pos := i + added
		if ictx.replace != nil {
			(*body)[pos] = *ictx.replace
		}
		if n := len(ictx.before); n > 0 {
			*body = slices.Insert(*body, pos, ictx.before...)
			added += n
			pos += n
		}
		if n := len(ictx.after); n > 0 {
			*body = slices.Insert(*body, pos+1, ictx.after...)
			added += n
		}
		if ictx.stop {
			return nil
		}
	}
	return nil
}
