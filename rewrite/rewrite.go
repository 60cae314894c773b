package rewrite

import (
	"context"

	"github.com/wippyai/wasm-coredump/errors"
	"github.com/wippyai/wasm-coredump/module"
	"github.com/wippyai/wasm-coredump/traverse"
)

// Transform decodes wasmData, instruments it and returns the encoded
// result.
func Transform(wasmData []byte, cfg Config) ([]byte, error) {
	m, err := module.Decode(wasmData)
	if err != nil {
		return nil, err
	}
	if err := Rewrite(context.Background(), m, cfg); err != nil {
		return nil, err
	}
	return m.Encode(), nil
}

// Rewrite instruments m in place. The module must have a memory, imported
// or defined, to hold the frames.
func Rewrite(ctx context.Context, m *module.Module, cfg Config) error {
	if _, ok := m.Memory(); !ok {
		return errors.New(errors.PhaseRewrite, errors.KindUnsupported).
			Detail("module has no memory to write frames to").
			Build()
	}

	g := addGlobals(m, cfg)
	in := &instrumenter{
		m:   m,
		cfg: cfg,
		g:   g,
		rt:  addRuntime(m, g, cfg),
	}

	var opts []traverse.Option
	if cfg.Workers > 0 {
		opts = append(opts, traverse.WithWorkers(cfg.Workers))
	}
	if err := traverse.Traverse(ctx, m, in, opts...); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return errors.New(errors.PhaseRewrite, errors.KindTaskFailed).
			Detail("instrument function bodies").
			Cause(err).
			Build()
	}
	debugf("instrumented %d functions", in.count())
	return nil
}

func (in *instrumenter) count() int {
	n := 0
	in.funcs.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}
