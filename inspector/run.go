package inspector

import (
	"context"
	"sort"

	"github.com/wippyai/wasm-coredump/coredump/stack"
	"github.com/wippyai/wasm-coredump/engine"
	"github.com/wippyai/wasm-coredump/errors"
	"github.com/wippyai/wasm-coredump/module"
	"github.com/wippyai/wasm-coredump/rewrite"
	"github.com/wippyai/wasm-coredump/traverse"
	"github.com/wippyai/wasm-coredump/wasm"
)

// RunConfig configures the run command. The engine's FramesBase is taken
// from the rewrite configuration.
type RunConfig struct {
	Rewrite rewrite.Config
	Engine  engine.Config
	// Export is called when run names none. Empty means "main", then
	// "_start".
	Export string
	Params []uint64
}

// DefaultRunConfig returns the rewrite and engine defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Rewrite: rewrite.DefaultConfig(),
		Engine:  engine.DefaultConfig(),
	}
}

// SetRunConfig replaces the configuration used by run.
func (s *Session) SetRunConfig(cfg RunConfig) {
	s.runCfg = cfg
}

// Breakpoints returns the function indices with a breakpoint, in order.
func (s *Session) Breakpoints() []uint32 {
	out := make([]uint32, 0, len(s.breakpoints))
	for idx := range s.breakpoints {
		out = append(out, idx)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// setBreakpoint resolves a function index or name to a defined function.
func (s *Session) setBreakpoint(e Expr) error {
	if err := s.requireSource(); err != nil {
		return err
	}
	idx, ok := e.Address()
	if !ok && e.Kind == ExprName {
		idx, ok = s.funcByName(e.Name)
		if !ok {
			return errors.NotFound(errors.PhaseInspect, "function", e.Name)
		}
	} else if !ok {
		return invalid("function index or name expected, got %s", e)
	}
	if idx >= s.source.FuncCount() {
		return errors.OutOfBounds(errors.PhaseInspect, []string{"functions"}, int(idx), int(s.source.FuncCount()))
	}
	if s.source.IsFuncImported(idx) {
		return invalid("function %d is imported and has no body", idx)
	}
	if s.breakpoints == nil {
		s.breakpoints = map[uint32]bool{}
	}
	s.breakpoints[idx] = true
	s.printf("Breakpoint %d at %s", len(s.breakpoints), s.addr.Sprintf("%06d", idx))
	if name, ok := s.names[idx]; ok {
		s.printf(" as %s", s.fn.Sprint(name))
	}
	s.printf("\n")
	return nil
}

func (s *Session) funcByName(name string) (uint32, bool) {
	for _, idx := range sortedIdx(s.names) {
		if s.names[idx] == name {
			return idx, true
		}
	}
	return 0, false
}

// breaker makes every breakpointed function trap on entry.
type breaker struct {
	funcs map[uint32]bool
}

var _ traverse.CodeVisitor = (*breaker)(nil)

func (b *breaker) VisitCode(ctx *traverse.CodeContext) error {
	if b.funcs[ctx.FuncIdx] {
		ctx.Code.Body = append([]wasm.Instruction{wasm.Op(wasm.OpUnreachable)}, ctx.Code.Body...)
	}
	return nil
}

// runProgram instruments a copy of the source module, calls export and
// makes the resulting coredump the one inspected.
func (s *Session) runProgram(ctx context.Context, export string) error {
	if err := s.requireSource(); err != nil {
		return err
	}
	m, err := module.Decode(s.source.Encode())
	if err != nil {
		return err
	}
	if export == "" {
		if export, err = s.defaultExport(m); err != nil {
			return err
		}
	}

	if len(s.breakpoints) > 0 {
		if err := traverse.Traverse(ctx, m, &breaker{funcs: s.breakpoints}); err != nil {
			return err
		}
	}
	if err := rewrite.Rewrite(ctx, m, s.runCfg.Rewrite); err != nil {
		return err
	}

	cfg := s.runCfg.Engine
	cfg.FramesBase = s.runCfg.Rewrite.FramesBase
	e, err := engine.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	res, err := e.Run(ctx, m.Encode(), export, s.runCfg.Params...)
	if err != nil {
		return err
	}
	if !res.Trapped {
		if res.Err != nil {
			s.printf("Program exited: %v\n", res.Err)
			return nil
		}
		s.printf("Program returned %v\n", res.Values)
		return nil
	}
	if res.Coredump == nil {
		return errors.New(errors.PhaseRuntime, errors.KindTaskFailed).
			Detail("%s trapped without leaving frames", export).
			Cause(res.Err).
			Build()
	}

	dump, err := module.Decode(res.Coredump)
	if err != nil {
		return err
	}
	core, err := dump.Coredump()
	if err != nil {
		return err
	}
	s.core = core
	s.frames = stack.Resolve(core, s.names, s.debug)
	s.selected = -1
	s.printf("Program trapped: %v\n", res.Err)
	if len(s.frames) > 0 {
		return s.selectFrame(0)
	}
	return nil
}

func (s *Session) defaultExport(m *module.Module) (string, error) {
	if s.runCfg.Export != "" {
		return s.runCfg.Export, nil
	}
	for _, name := range []string{"main", "_start"} {
		if _, ok := m.ExportFuncIdx(name); ok {
			return name, nil
		}
	}
	return "", errors.NotFound(errors.PhaseInspect, "export", "main or _start")
}
