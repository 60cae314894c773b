// Package config loads the optional configuration file of the command
// line tools. Values in the file override the defaults; flags override
// the file.
package config

import (
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-coredump/engine"
	"github.com/wippyai/wasm-coredump/internal/telemetry"
	"github.com/wippyai/wasm-coredump/rewrite"
)

// EnvDebug enables debug logging when set to a true value.
const EnvDebug = "WASM_COREDUMP_DEBUG"

// Config is the file layout:
//
//	debug: true
//	rewrite:
//	  check_memory: true
//	  frames_base: 1024
//	run:
//	  wasi: true
//	  frames_base: 1024
//	telemetry:
//	  enabled: true
//	  exporter_url: localhost:4318
type Config struct {
	Rewrite   rewrite.Config   `mapstructure:"rewrite"`
	Run       engine.Config    `mapstructure:"run"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
	Debug     bool             `mapstructure:"debug"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	return &Config{
		Rewrite: rewrite.DefaultConfig(),
		Run:     engine.DefaultConfig(),
	}
}

// Load reads path on top of the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	return mapstructure.Decode(raw, c)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Rewrite.Workers < 0 {
		return fmt.Errorf("rewrite.workers must not be negative")
	}
	if c.Telemetry.Enabled && c.Telemetry.ExporterURL == "" {
		return fmt.Errorf("telemetry.exporter_url is required when telemetry is enabled")
	}
	return nil
}
