package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-coredump/module"
	"github.com/wippyai/wasm-coredump/rewrite"
)

func newRewriteCmd(a *app) *cobra.Command {
	var (
		output      string
		checkMemory bool
		framesBase  uint32
		workers     int
	)
	cmd := &cobra.Command{
		Use:   "rewrite <input.wasm>",
		Short: "Instrument a module to write a coredump when it traps",
		Long: `Instrument a module so that a trap unwinds the call stack, records every
frame in linear memory at the frames base and traps again in the entry
function. Use "-" to read standard input or write standard output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Rewrite
			if cmd.Flags().Changed("check-memory") {
				cfg.CheckMemory = checkMemory
			}
			if cmd.Flags().Changed("frames-base") {
				cfg.FramesBase = framesBase
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}

			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			m, err := module.Decode(data)
			if err != nil {
				return err
			}
			if err := rewrite.Rewrite(cmd.Context(), m, cfg); err != nil {
				return err
			}
			a.log.Debug("rewrote module", zap.String("input", args[0]), zap.Uint32("functions", m.FuncCount()))
			return writeOutput(cmd, output, m.Encode())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file")
	cmd.Flags().BoolVar(&checkMemory, "check-memory", false, "Check i32.load addresses against the memory size")
	cmd.Flags().Uint32Var(&framesBase, "frames-base", 0, "Address of the frames region")
	cmd.Flags().IntVar(&workers, "workers", 0, "Functions instrumented in parallel (0 = one per CPU)")
	return cmd
}
