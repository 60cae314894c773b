package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/coredump/dump"
	"github.com/wippyai/wasm-coredump/coredump/stack"
	"github.com/wippyai/wasm-coredump/debuginfo"
	"github.com/wippyai/wasm-coredump/module"
)

func newDumpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <coredump>",
		Short: "Print a coredump in text form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCoredump(cmd, args[0])
			if err != nil {
				return err
			}
			return dump.Write(cmd.OutOrStdout(), c)
		},
	}
}

func newStackCmd(a *app) *cobra.Command {
	var debugModule string
	cmd := &cobra.Command{
		Use:   "stack <coredump>",
		Short: "Print the symbolized call stack of a coredump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCoredump(cmd, args[0])
			if err != nil {
				return err
			}
			names := map[uint32]string{}
			var p debuginfo.Provider
			if debugModule != "" {
				m, err := loadModule(cmd, debugModule)
				if err != nil {
					return err
				}
				names = m.FuncNames()
				p = provider(a, m)
			}
			for i, f := range stack.Resolve(c, names, p) {
				fmt.Fprintf(cmd.OutOrStdout(), "#%d\t%s\n", i, f.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&debugModule, "debug-module", "", "Module with the name section and DWARF of the crashed program")
	return cmd
}

func loadModule(cmd *cobra.Command, path string) (*module.Module, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	return module.Decode(data)
}

func loadCoredump(cmd *cobra.Command, path string) (*coredump.Coredump, error) {
	m, err := loadModule(cmd, path)
	if err != nil {
		return nil, err
	}
	return m.Coredump()
}

// provider prefers DWARF and falls back to the name section.
func provider(a *app, m *module.Module) debuginfo.Provider {
	d, err := debuginfo.Load(m.Raw())
	if err != nil {
		a.log.Debug("no usable DWARF, using function names", zap.Error(err))
		return debuginfo.NewNames(m.FuncNames())
	}
	return d
}
