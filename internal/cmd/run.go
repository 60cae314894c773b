package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-coredump/coredump/dump"
	"github.com/wippyai/wasm-coredump/engine"
	"github.com/wippyai/wasm-coredump/module"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		output     string
		wasi       bool
		framesBase uint32
	)
	cmd := &cobra.Command{
		Use:   "run <instrumented.wasm> <export> [args...]",
		Short: "Call an export of an instrumented module and collect its coredump",
		Long: `Call an export of an instrumented module. Arguments are integers passed as
raw values. When the call traps, the coredump is written to the output
file, or printed in text form without one.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Run
			if cmd.Flags().Changed("wasi") {
				cfg.WASI = wasi
			}
			if cmd.Flags().Changed("frames-base") {
				cfg.FramesBase = framesBase
			}

			params, err := parseParams(args[2:])
			if err != nil {
				return err
			}
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := engine.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close(ctx)

			res, err := e.Run(ctx, data, args[1], params...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Trapped {
				if res.Err != nil {
					return res.Err
				}
				for _, v := range res.Values {
					fmt.Fprintln(out, v)
				}
				return nil
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "trap: %v\n", res.Err)
			if res.Coredump == nil {
				return fmt.Errorf("module trapped without writing frames, was it instrumented?")
			}
			a.log.Debug("collected coredump", zap.Int("bytes", len(res.Coredump)))
			if output != "" {
				return writeOutput(cmd, output, res.Coredump)
			}
			m, err := module.Decode(res.Coredump)
			if err != nil {
				return err
			}
			c, err := m.Coredump()
			if err != nil {
				return err
			}
			return dump.Write(out, c)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Coredump file")
	cmd.Flags().BoolVar(&wasi, "wasi", false, "Provide wasi_snapshot_preview1")
	cmd.Flags().Uint32Var(&framesBase, "frames-base", 0, "Address of the frames region")
	return cmd
}

// parseParams accepts unsigned and negative integers.
func parseParams(args []string) ([]uint64, error) {
	params := make([]uint64, len(args))
	for i, s := range args {
		if v, err := strconv.ParseUint(s, 0, 64); err == nil {
			params[i] = v
			continue
		}
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %q is not an integer", i, s)
		}
		params[i] = uint64(v)
	}
	return params, nil
}
