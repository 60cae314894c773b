package inspector

import (
	"fmt"

	"github.com/wippyai/wasm-coredump/errors"
	"github.com/wippyai/wasm-coredump/wasm"
)

func (s *Session) info(cmd Command) error {
	switch cmd.What {
	case "locals", "args":
		return s.infoLocals()
	case "frame":
		return s.infoFrame()
	case "symbol", "sym":
		if len(cmd.Args) != 1 {
			return invalid("info symbol takes a function index")
		}
		idx, ok := cmd.Args[0].Address()
		if !ok {
			return invalid("function index expected, got %s", cmd.Args[0])
		}
		return s.infoSymbol(idx)
	case "functions":
		for _, idx := range sortedIdx(s.names) {
			if err := s.infoSymbol(idx); err != nil {
				return err
			}
		}
		return nil
	case "imports":
		return s.infoImports()
	case "globals":
		return s.infoGlobals()
	case "process":
		if err := s.requireCoredump(); err != nil {
			return err
		}
		s.printf("executable-name = %s\n", s.core.Process.ExecutableName)
		return nil
	}
	return invalid("unknown info topic %q", cmd.What)
}

func (s *Session) infoLocals() error {
	f, raw, err := s.requireFrame()
	if err != nil {
		return err
	}
	if f.Function == nil || len(f.Function.Params) == 0 {
		s.printf("no locals.\n")
		return nil
	}
	for i := range f.Function.Params {
		p := &f.Function.Params[i]
		v := "???"
		if b, err := s.paramBytes(raw, f.Function, p, 4); err == nil {
			v = hexBytes(b)
		}
		typ := p.Type
		if typ == "" {
			typ = "?"
		}
		s.printf("%s: %s = %s (%s)\n", s.param.Sprint(p.Name), typ, v, p.Location)
	}
	return nil
}

func (s *Session) infoFrame() error {
	f, raw, err := s.requireFrame()
	if err != nil {
		return err
	}
	s.printf("frame #%d\n", s.selected)
	s.printf("  func %s (%s)\n", s.addr.Sprint(f.FuncIdx), s.fn.Sprint(f.Name))
	s.printf("  code offset 0x%x\n", f.CodeOffset)
	if f.Function != nil {
		s.printf("  frame base %s\n", f.Function.FrameBase)
	}
	for i, v := range raw.Locals {
		s.printf("  local %d: %s\n", i, v)
	}
	for i, v := range raw.Stack {
		s.printf("  stack %d: %s\n", i, v)
	}
	return nil
}

func (s *Session) infoSymbol(idx uint32) error {
	name, ok := s.names[idx]
	if !ok {
		return errors.NotFound(errors.PhaseInspect, "function", fmt.Sprint(idx))
	}
	s.printf("%s as ", s.addr.Sprintf("%06d", idx))
	if s.debug != nil {
		if fn, ok := s.debug.Function(name); ok && fn.Name != "" {
			loc := "<no location>"
			if fn.File != "" {
				loc = fmt.Sprintf("%s:%d", fn.File, fn.Line)
			}
			s.printf("%s at %s\n", s.fn.Sprint(fn.QualifiedName()), loc)
			return nil
		}
	}
	s.printf("%s\n", s.fn.Sprint(name))
	return nil
}

func (s *Session) requireSource() error {
	if s.source == nil {
		return errors.NotFound(errors.PhaseInspect, "module", "session")
	}
	return nil
}

func externKind(k byte) string {
	switch k {
	case wasm.KindFunc:
		return "func"
	case wasm.KindTable:
		return "table"
	case wasm.KindMemory:
		return "memory"
	case wasm.KindGlobal:
		return "global"
	}
	return fmt.Sprintf("kind(%d)", k)
}

func (s *Session) infoImports() error {
	if err := s.requireSource(); err != nil {
		return err
	}
	imports := s.source.Imports()
	s.printf("%d import(s)\n", len(imports))
	for i, imp := range imports {
		s.printf("%s\t%s.%s (%s)\n", s.addr.Sprintf("#%06d", i), imp.Module, imp.Name, externKind(imp.Desc.Kind))
	}
	return nil
}

func (s *Session) infoGlobals() error {
	if err := s.requireSource(); err != nil {
		return err
	}
	for i := uint32(0); ; i++ {
		g, err := s.source.Global(i)
		if err != nil {
			return nil
		}
		mut := "const"
		if g.Type.Mutable {
			mut = "mut"
		}
		v := "???"
		if n, err := g.ComputeValue(); err == nil {
			v = fmt.Sprint(n)
		}
		s.printf("%s\t%s %s = %s\n", s.addr.Sprintf("#%06d", i), g.Type.ValType, mut, v)
	}
}
