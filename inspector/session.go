package inspector

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/coredump/stack"
	"github.com/wippyai/wasm-coredump/debuginfo"
	"github.com/wippyai/wasm-coredump/errors"
	"github.com/wippyai/wasm-coredump/module"
)

// Session holds the state of one inspection: the coredump, the module it
// was taken from and the selected frame.
type Session struct {
	out      io.Writer
	core     *coredump.Coredump
	source   *module.Module
	debug    debuginfo.Provider
	names    map[uint32]string
	frames   []stack.Frame
	selected int // -1 when no frame is selected

	runCfg      RunConfig
	breakpoints map[uint32]bool

	addr  *color.Color
	fn    *color.Color
	param *color.Color
}

// New starts a session. core and debug may be nil; without a coredump only
// the module level info commands work.
func New(out io.Writer, core *coredump.Coredump, source *module.Module, debug debuginfo.Provider) *Session {
	s := &Session{
		out:      out,
		core:     core,
		source:   source,
		debug:    debug,
		names:    map[uint32]string{},
		selected: -1,
		runCfg:   DefaultRunConfig(),
		addr:     color.New(color.FgBlue),
		fn:       color.New(color.FgYellow),
		param:    color.New(color.FgGreen),
	}
	if source != nil {
		s.names = source.FuncNames()
	}
	if core != nil {
		s.frames = stack.Resolve(core, s.names, debug)
	}
	return s
}

// SetNames replaces the function names taken from the module, for modules
// whose name section was split off.
func (s *Session) SetNames(names map[uint32]string) {
	s.names = names
	if s.core != nil {
		s.frames = stack.Resolve(s.core, names, s.debug)
	}
}

// SetColor turns colored output on or off for this session.
func (s *Session) SetColor(enabled bool) {
	for _, c := range []*color.Color{s.addr, s.fn, s.param} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// Selected returns the index of the selected frame.
func (s *Session) Selected() (int, bool) {
	return s.selected, s.selected >= 0
}

// Execute parses and runs one command line.
func (s *Session) Execute(line string) error {
	return s.ExecuteContext(context.Background(), line)
}

// ExecuteContext is Execute with a context bounding the run command.
func (s *Session) ExecuteContext(ctx context.Context, line string) error {
	cmd, err := ParseCommand(line)
	if err != nil {
		return err
	}
	return s.RunContext(ctx, cmd)
}

// Run runs a parsed command.
func (s *Session) Run(cmd Command) error {
	return s.RunContext(context.Background(), cmd)
}

// RunContext runs a parsed command.
func (s *Session) RunContext(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case KindBacktrace:
		return s.backtrace()
	case KindFrame:
		return s.selectFrame(cmd.Frame)
	case KindExamine:
		return s.examine(cmd)
	case KindPrint:
		return s.print(cmd)
	case KindFind:
		return s.find(cmd.Args)
	case KindInfo:
		return s.info(cmd)
	case KindBreak:
		return s.setBreakpoint(cmd.Args[0])
	case KindRunProgram:
		return s.runProgram(ctx, cmd.What)
	case KindHelp:
		s.help()
		return nil
	}
	return invalid("unknown command kind %d", cmd.Kind)
}

func (s *Session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *Session) requireCoredump() error {
	if s.core == nil {
		return errors.NotFound(errors.PhaseInspect, "coredump", "session")
	}
	return nil
}

func (s *Session) requireFrame() (*stack.Frame, *coredump.StackFrame, error) {
	if err := s.requireCoredump(); err != nil {
		return nil, nil, err
	}
	if s.selected < 0 {
		return nil, nil, invalid("no frame selected, use f N")
	}
	return &s.frames[s.selected], &s.core.Stacks[0].Frames[s.selected], nil
}

func (s *Session) backtrace() error {
	if err := s.requireCoredump(); err != nil {
		return err
	}
	if len(s.frames) == 0 {
		s.printf("no frames.\n")
		return nil
	}
	for i := range s.frames {
		mark := " "
		if i == s.selected {
			mark = "*"
		}
		s.printf("#%d%s\t", i, mark)
		s.printFrame(i)
	}
	return nil
}

func (s *Session) selectFrame(n int) error {
	if err := s.requireCoredump(); err != nil {
		return err
	}
	if n >= len(s.frames) {
		return errors.OutOfBounds(errors.PhaseInspect, []string{"frames"}, n, len(s.frames))
	}
	s.selected = n
	s.printf("#%d\t", n)
	s.printFrame(n)
	return nil
}

// printFrame writes "funcidx as name (params) at file:line".
func (s *Session) printFrame(i int) {
	f := &s.frames[i]
	s.printf("%s as ", s.addr.Sprintf("%06d", f.FuncIdx))
	if f.Function == nil {
		s.printf("%s at <no location>\n", s.fn.Sprint(f.Name))
		return
	}
	params := make([]string, 0, len(f.Function.Params))
	for _, p := range f.Function.Params {
		v := "???"
		if b, err := s.paramBytes(&s.core.Stacks[0].Frames[i], f.Function, &p, 4); err == nil {
			v = hexBytes(b)
		}
		params = append(params, fmt.Sprintf("%s=%s", p.Name, v))
	}
	s.printf("%s (%s) at %s\n", s.fn.Sprint(f.Name), s.param.Sprint(strings.Join(params, ", ")), f.Location())
}

func (s *Session) examine(cmd Command) error {
	if err := s.requireCoredump(); err != nil {
		return err
	}
	addr, ok := cmd.Args[0].Address()
	if !ok {
		return invalid("address expected, got %s", cmd.Args[0])
	}
	b, err := coredump.Read(s.core.Data, addr, uint32(cmd.Count))
	if err != nil {
		return err
	}
	if cmd.Format == FormatString {
		s.printf("%s (%d char(s)) = %q\n", s.addr.Sprintf("0x%x", addr), len(b), string(b))
		return nil
	}
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("0x%02x", c)
	}
	s.printf("%s (%d byte(s)) = %s\n", s.addr.Sprintf("0x%x", addr), len(b), strings.Join(parts, " "))
	return nil
}

func (s *Session) print(cmd Command) error {
	if err := s.requireCoredump(); err != nil {
		return err
	}
	e := cmd.Args[0]

	var addr uint32
	switch e.Kind {
	case ExprHex, ExprInt:
		a, ok := e.Address()
		if !ok {
			return invalid("address out of range: %s", e)
		}
		addr = a
	case ExprName:
		a, err := s.nameAddr(e.Name)
		if err != nil {
			return err
		}
		addr = a
	case ExprDeref:
		target := *e.Target
		var a uint32
		switch target.Kind {
		case ExprName:
			pa, err := s.nameAddr(target.Name)
			if err != nil {
				return err
			}
			a = pa
		case ExprHex, ExprInt:
			pa, ok := target.Address()
			if !ok {
				return invalid("address out of range: %s", target)
			}
			a = pa
		default:
			return invalid("cannot dereference %s", target)
		}
		ptr, err := coredump.ReadU32(s.core.Data, a)
		if err != nil {
			return err
		}
		addr = ptr
	default:
		return invalid("cannot print %s", e)
	}

	if cmd.Format == FormatString {
		ptr, err := coredump.ReadU32(s.core.Data, addr)
		if err != nil {
			return err
		}
		str, err := cString(s.core.Data, ptr)
		if err != nil {
			return err
		}
		s.printf("%s (%d char(s)) = %q\n", s.param.Sprint(e), len(str), str)
		return nil
	}

	b, err := coredump.Read(s.core.Data, addr, 4)
	if err != nil {
		return err
	}
	s.printf("%s (%s): %s\n", s.param.Sprint(e), s.addr.Sprintf("0x%x", addr), hexBytes(b))
	return nil
}

// nameAddr resolves a parameter of the selected frame to its address.
func (s *Session) nameAddr(name string) (uint32, error) {
	f, raw, err := s.requireFrame()
	if err != nil {
		return 0, err
	}
	if f.Function == nil {
		return 0, errors.NotFound(errors.PhaseInspect, "debug info for function", f.Name)
	}
	p, ok := f.Function.Param(name)
	if !ok {
		return 0, errors.NotFound(errors.PhaseInspect, "parameter", name)
	}
	return paramAddr(raw, f.Function, p)
}

func (s *Session) find(args []Expr) error {
	if err := s.requireCoredump(); err != nil {
		return err
	}
	start, end := uint32(0), uint32(len(s.core.Data))
	switch len(args) {
	case 3:
		a, ok := args[1].Address()
		if !ok {
			return invalid("end address expected, got %s", args[1])
		}
		end = a
		fallthrough
	case 2:
		a, ok := args[0].Address()
		if !ok {
			return invalid("start address expected, got %s", args[0])
		}
		start = a
	}
	needle, err := pattern(args[len(args)-1])
	if err != nil {
		return err
	}

	hits := search(s.core.Data, start, end, needle)
	for _, at := range hits {
		s.printf("%s after %d byte(s)\n", s.addr.Sprintf("0x%x", at), at-start)
	}
	s.printf("%d pattern(s) found.\n", len(hits))
	return nil
}

func (s *Session) help() {
	s.printf(`bt                       backtrace, innermost frame first
f N                      select frame N
x[/N[s]] ADDR            examine N bytes (default 8), s prints a string
p[/s] NAME|*NAME|ADDR    print 4 bytes at a parameter or address
find [START, [END,]] V   search memory for a number or "string"
info locals              parameters of the selected frame
info frame               raw locals of the selected frame
info symbol N            function N
info functions|imports|globals|process
b N|NAME                 trap on entry to function N on the next run
r [EXPORT]               run the module (main or _start) and load its coredump
help                     this text
`)
}

func sortedIdx(names map[uint32]string) []uint32 {
	idx := make([]uint32, 0, len(names))
	for i := range names {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })
	return idx
}
