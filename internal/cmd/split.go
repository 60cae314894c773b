package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-coredump/debuginfo"
	"github.com/wippyai/wasm-coredump/module"
)

// buildIDSize is the length of build ids derived from the module content.
const buildIDSize = 16

func newSplitCmd(a *app) *cobra.Command {
	var buildID string
	cmd := &cobra.Command{
		Use:   "split <input.wasm> <debug.wasm>",
		Short: "Move names and debug sections into a separate module",
		Long: `Strip the name section and the DWARF sections from input.wasm in place and
write them to debug.wasm. Both modules get the same build id so a coredump
of the stripped module can be matched with its debug module.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			id, err := parseBuildID(buildID, data)
			if err != nil {
				return err
			}
			m, err := module.Decode(data)
			if err != nil {
				return err
			}

			debug, removed := debuginfo.Split(m, id)
			if err := writeOutput(cmd, args[1], debug.Encode()); err != nil {
				return err
			}
			if err := writeOutput(cmd, args[0], m.Encode()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "moved %d section(s), build id %x\n", len(removed), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&buildID, "build-id", "", "Build id in hex (default: derived from the input)")
	return cmd
}

func parseBuildID(s string, data []byte) ([]byte, error) {
	if s == "" {
		sum := sha256.Sum256(data)
		return sum[:buildIDSize], nil
	}
	id, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid build id %q: %w", s, err)
	}
	return id, nil
}
