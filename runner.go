package secretary

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// DefaultRunner returns the errgroup-backed runner bounded by runtime.NumCPU.
func DefaultRunner(ctx context.Context) Runner {
	return newErrGroupRunner(ctx, runtime.NumCPU())
}

// NewLimitedRunner creates a runner with bounded concurrency.
func NewLimitedRunner(ctx context.Context, maxConcurrency int) Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = runtime.NumCPU()
	}
	return newErrGroupRunner(ctx, maxConcurrency)
}

// errGroupRunner is the default implementation backed by errgroup.Group.
// Wait starts a fresh group, so one runner can serve successive calls.
type errGroupRunner struct {
	parent context.Context
	ctx    context.Context // derived ctx shared by the tasks of one batch
	eg     *errgroup.Group
	sem    chan struct{} // concurrency gate
}

func newErrGroupRunner(parent context.Context, maxConcurrency int) *errGroupRunner {
	r := &errGroupRunner{parent: parent, sem: make(chan struct{}, maxConcurrency)}
	r.reset()
	return r
}

func (r *errGroupRunner) reset() {
	r.eg, r.ctx = errgroup.WithContext(r.parent)
}

func (r *errGroupRunner) Go(fn func() error) {
	ctx := r.ctx
	r.eg.Go(func() error {
		select {
		case r.sem <- struct{}{}: // acquire
		case <-ctx.Done():
			// still run fn so it can record the cancellation itself
			return fn()
		}
		defer func() { <-r.sem }() // release
		return fn()
	})
}

func (r *errGroupRunner) Wait() error {
	err := r.eg.Wait()
	r.reset()
	return err
}

// sequentialRunner runs each function inline. Useful for deterministic tests
// and for callers that must not spawn goroutines.
type sequentialRunner struct {
	err error
}

// NewSequentialRunner returns a Runner that executes work in the caller's goroutine.
func NewSequentialRunner() Runner { return &sequentialRunner{} }

func (r *sequentialRunner) Go(fn func() error) {
	if err := fn(); err != nil && r.err == nil {
		r.err = err
	}
}

func (r *sequentialRunner) Wait() error {
	err := r.err
	r.err = nil
	return err
}

// runnerContext returns ctx, additionally cancelled when the runner's own
// context ends. ctx keeps its values, so mode and deadlines survive.
func runnerContext(r Runner, ctx context.Context) (context.Context, context.CancelFunc) {
	d, ok := r.(*errGroupRunner)
	if !ok {
		return ctx, func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(d.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// guard converts a panic in fn into an error so one task cannot take down
// its siblings.
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return fn()
}
