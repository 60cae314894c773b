package engine

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/coredump/builder"
	"github.com/wippyai/wasm-coredump/errors"
	"github.com/wippyai/wasm-coredump/internal/telemetry"
	"github.com/wippyai/wasm-coredump/wasm"
)

// Config holds configuration for engine creation.
type Config struct {
	// ProcessName is recorded as the executable name of coredumps.
	ProcessName string `mapstructure:"process_name"`
	// ThreadName names the single thread of coredumps.
	ThreadName string `mapstructure:"thread_name"`

	// FramesBase must match the rewrite configuration the module was
	// instrumented with.
	FramesBase uint32 `mapstructure:"frames_base"`

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32 `mapstructure:"memory_limit_pages"`

	// WASI instantiates wasi_snapshot_preview1 before the module.
	WASI bool `mapstructure:"wasi"`
	// DebugInfo makes wazero resolve trap stack traces through DWARF.
	DebugInfo bool `mapstructure:"debug_info"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ProcessName: "wasm",
		ThreadName:  "main",
	}
}

// Engine runs instrumented modules.
type Engine struct {
	runtime      wazero.Runtime
	cfg          Config
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// Result is the outcome of one Run.
type Result struct {
	// Values are the results of a call that returned.
	Values []uint64
	// Coredump is the encoded coredump module, nil when the call returned
	// or trapped without leaving frames behind.
	Coredump []byte
	// Err is the trap or exit error raised by the call.
	Err     error
	Trapped bool
}

// New creates an engine backed by its own wazero runtime.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig().
		WithDebugInfoEnabled(cfg.DebugInfo)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:     cfg,
	}, nil
}

// Close releases the runtime and every module compiled by it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Run instantiates wasmBytes, calls the export fn with params and returns
// its outcome. Failing to compile, instantiate or find fn is an error; a
// trap is not, it is reported through Result.
func (e *Engine) Run(ctx context.Context, wasmBytes []byte, fn string, params ...uint64) (*Result, error) {
	ctx, span := telemetry.GetTracer().Start(ctx, "engine.run")
	span.SetAttributes(
		attribute.String("wasm.export", fn),
		attribute.Int("wasm.size_bytes", len(wasmBytes)),
	)
	defer span.End()

	if e.cfg.WASI {
		if err := e.initWASI(ctx); err != nil {
			span.RecordError(err)
			return nil, errors.Instantiation(err)
		}
	}

	_, compileSpan := telemetry.GetTracer().Start(ctx, "engine.compile")
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	compileSpan.End()
	if err != nil {
		span.RecordError(err)
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("compile module").
			Cause(err).
			Build()
	}
	defer compiled.Close(ctx)

	// Start functions run outside any export and could not be unwound to
	// an entry function.
	modConfig := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions()
	instance, err := e.runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Instantiation(err)
	}
	defer instance.Close(ctx)

	f := instance.ExportedFunction(fn)
	if f == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", fn)
	}

	values, callErr := f.Call(ctx, params...)
	if callErr == nil {
		return &Result{Values: values}, nil
	}

	var exit *sys.ExitError
	if stderrors.As(callErr, &exit) {
		debugf("%s exited with code %d", fn, exit.ExitCode())
		return &Result{Err: callErr}, nil
	}

	span.SetStatus(codes.Error, "trap")
	Logger().Debug("call trapped", zap.String("export", fn), zap.Error(callErr))
	res := &Result{Err: callErr, Trapped: true}

	mem := instance.Memory()
	if mem == nil {
		return res, nil
	}
	res.Coredump, err = e.snapshot(mem)
	if err != nil {
		Logger().Warn("trap left no coredump", zap.String("export", fn), zap.Error(err))
		return res, nil
	}
	span.SetAttributes(attribute.Int("coredump.size_bytes", len(res.Coredump)))
	return res, nil
}

// snapshot builds a coredump from the frames region and a copy of mem.
func (e *Engine) snapshot(mem api.Memory) ([]byte, error) {
	size := mem.Size()
	view, ok := mem.Read(0, size)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseRuntime, []string{"memory"}, int(size), int(size))
	}
	// The view aliases memory that is released with the instance.
	data := append([]byte(nil), view...)

	frames, err := ReadFrames(data, e.cfg.FramesBase)
	if err != nil {
		return nil, err
	}
	debugf("captured %d frames", len(frames))

	var maxPages *uint32
	if m, ok := mem.Definition().Max(); ok {
		maxPages = &m
	}
	b := builder.New().
		SetExecutableName(e.cfg.ProcessName).
		AddThread(coredump.CoreStack{ThreadName: e.cfg.ThreadName, Frames: frames}).
		SetMemory(size/wasm.PageSize, maxPages).
		SetData(data)
	return b.Serialize(), nil
}
