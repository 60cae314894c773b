package rewrite

import "runtime"

// Config configures the instrumentation pass.
type Config struct {
	// FramesBase is the linear memory address of the coredump region.
	FramesBase uint32 `mapstructure:"frames_base"`
	// Workers is the number of goroutines rewriting function bodies.
	Workers int `mapstructure:"workers"`
	// CheckMemory adds an explicit bounds check before every i32.load so
	// that out of bounds reads are captured like unreachable.
	CheckMemory bool `mapstructure:"check_memory"`
}

// DefaultConfig returns a configuration writing frames at address 0 with
// one worker per CPU.
func DefaultConfig() Config {
	return Config{Workers: runtime.NumCPU()}
}
