// Package cmd implements the wasm-coredump command line.
package cmd

import (
	"context"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-coredump/engine"
	"github.com/wippyai/wasm-coredump/internal/config"
	"github.com/wippyai/wasm-coredump/internal/telemetry"
	"github.com/wippyai/wasm-coredump/rewrite"
	"github.com/wippyai/wasm-coredump/traverse"
	"github.com/wippyai/wasm-coredump/wasm"
)

// app is the state shared by the subcommands of one invocation.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	shutdown   func()
	configPath string
	debug      bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{cfg: config.Default(), log: zap.NewNop(), shutdown: func() {}}

	root := &cobra.Command{
		Use:   "wasm-coredump",
		Short: "Coredumps for WebAssembly modules",
		Long: `wasm-coredump instruments WebAssembly modules so that a trap leaves a
coredump of the call stack and linear memory behind, and inspects those
coredumps offline.

Examples:
  wasm-coredump rewrite app.wasm -o app.instrumented.wasm
  wasm-coredump run app.instrumented.wasm main -o app.coredump
  wasm-coredump stack app.coredump --debug-module app.wasm
  wasm-coredump debug app.wasm app.coredump`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.shutdown()
			_ = a.log.Sync()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging (also "+config.EnvDebug+")")
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Configuration file (YAML)")

	root.AddCommand(
		newRewriteCmd(a),
		newDumpCmd(a),
		newStackCmd(a),
		newSplitCmd(a),
		newRunCmd(a),
		newDebugCmd(a),
	)
	return root
}

// Execute runs the command line.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

func (a *app) init(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if v, err := strconv.ParseBool(os.Getenv(config.EnvDebug)); err == nil && v {
		a.debug = true
	}
	if a.debug || cfg.Debug {
		log, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		a.log = log
		wasm.SetLogger(log.Named("wasm"))
		traverse.SetLogger(log.Named("traverse"))
		rewrite.SetLogger(log.Named("rewrite"))
		engine.SetLogger(log.Named("engine"))
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	a.shutdown = shutdown
	return nil
}

// readInput reads path, or standard input for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// writeOutput writes data to path, or standard output for "-".
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
