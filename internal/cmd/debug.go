package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/inspector"
)

const prompt = "(wasm-coredump) "

func newDebugCmd(a *app) *cobra.Command {
	var (
		debugModule string
		noTUI       bool
	)
	cmd := &cobra.Command{
		Use:   "debug <source.wasm> [coredump]",
		Short: "Inspect a coredump interactively",
		Long: `Inspect a coredump against the module it was taken from. Runs a full
screen interface on a terminal and reads commands line by line otherwise.
Without a coredump, "run" instruments the module, calls it and loads the
coredump it leaves; "break N" makes function N trap on entry first.
Type "help" for the command list.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := loadModule(cmd, args[0])
			if err != nil {
				return err
			}
			var core *coredump.Coredump
			if len(args) == 2 {
				if core, err = loadCoredump(cmd, args[1]); err != nil {
					return err
				}
			}

			debug := source
			if debugModule != "" {
				if debug, err = loadModule(cmd, debugModule); err != nil {
					return err
				}
			}

			newSession := func(out io.Writer, color bool) *inspector.Session {
				s := inspector.New(out, core, source, provider(a, debug))
				if debug != source {
					s.SetNames(debug.FuncNames())
				}
				s.SetRunConfig(inspector.RunConfig{Rewrite: a.cfg.Rewrite, Engine: a.cfg.Run})
				s.SetColor(color)
				return s
			}

			if !noTUI && isTerminal(cmd.InOrStdin()) && isTerminal(cmd.OutOrStdout()) {
				return runTUI(args[0], newSession)
			}
			return repl(cmd.InOrStdin(), cmd.OutOrStdout(), newSession(cmd.OutOrStdout(), isTerminal(cmd.OutOrStdout())))
		},
	}
	cmd.Flags().StringVar(&debugModule, "debug-module", "", "Module with the name section and DWARF, when split off")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Read commands line by line even on a terminal")
	return cmd
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// repl runs commands read from in until EOF or "quit".
func repl(in io.Reader, out io.Writer, s *inspector.Session) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "q", "quit", "exit":
			return nil
		}
		if err := s.Execute(line); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
	fmt.Fprintln(out)
	return scanner.Err()
}
