package traverse

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-coredump/errors"
)

type job struct {
	run     func() error
	funcIdx uint32
}

type taskError struct {
	err     error
	funcIdx uint32
}

// pool runs one job per function body on a fixed number of workers. A job
// that returns an error or panics fails only itself; failures are reported
// together by join.
type pool struct {
	jobs chan job
	errs []taskError
	wg   sync.WaitGroup
	mu   sync.Mutex
}

func newPool(workers int) *pool {
	p := &pool{jobs: make(chan job)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *pool) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			var cause error
			if err, ok := r.(error); ok {
				cause = fmt.Errorf("panic: %w", err)
			} else {
				cause = fmt.Errorf("panic: %v", r)
			}
			Logger().Error("function body task panicked",
				zap.Uint32("func", j.funcIdx), zap.Any("panic", r))
			p.fail(j.funcIdx, cause)
		}
	}()
	if err := j.run(); err != nil {
		p.fail(j.funcIdx, err)
	}
}

func (p *pool) fail(funcIdx uint32, err error) {
	p.mu.Lock()
	p.errs = append(p.errs, taskError{funcIdx: funcIdx, err: err})
	p.mu.Unlock()
}

// submit blocks until a worker takes the job or ctx is done.
func (p *pool) submit(ctx context.Context, j job) error {
	select {
	case p.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// join waits for every submitted job and combines the failures, ordered by
// function index.
func (p *pool) join() error {
	close(p.jobs)
	p.wg.Wait()

	sort.Slice(p.errs, func(i, j int) bool { return p.errs[i].funcIdx < p.errs[j].funcIdx })
	var err error
	for _, te := range p.errs {
		err = multierr.Append(err, errors.TaskFailed(te.funcIdx, te.err))
	}
	return err
}
