package secretary

import (
	"context"
	"fmt"
)

// Future is the pending result of an asynchronous extraction.
type Future[T any] struct {
	done chan struct{}
	val  *T
	err  error
}

func goFuture[T any](fn func() (*T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.err = guard(func() (err error) {
			f.val, err = fn()
			return err
		})
	}()
	return f
}

func failedFuture[T any](err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the result is ready or ctx is done. Giving up on the
// wait does not cancel the work; cancel the context passed to the async call
// for that.
func (f *Future[T]) Await(ctx context.Context) (*T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, fmt.Errorf("await: %w", ctx.Err())
	}
}

// GenerateAsync runs Generate in the background. The task is read before
// returning, so the caller may push to it right away.
func (x *Extractor[T]) GenerateAsync(ctx context.Context, task *Task, input string, optFns ...func(*Options)) *Future[T] {
	snap, opts, err := x.prepare("generate", task, input, optFns)
	if err != nil {
		return failedFuture[T](err)
	}
	return goFuture(func() (*T, error) { return x.generate(ctx, snap, input, opts) })
}

// GenerateFieldsAsync runs GenerateFields in the background with the same
// per-field isolation.
func (x *Extractor[T]) GenerateFieldsAsync(ctx context.Context, task *Task, input string, optFns ...func(*Options)) *Future[T] {
	snap, opts, err := x.prepare("generate fields", task, input, optFns)
	if err != nil {
		return failedFuture[T](err)
	}
	return goFuture(func() (*T, error) { return x.generateFields(ctx, snap, input, opts) })
}

// ForceGenerateAsync runs ForceGenerate in the background.
func (x *Extractor[T]) ForceGenerateAsync(ctx context.Context, task *Task, input string, optFns ...func(*Options)) *Future[T] {
	snap, opts, err := x.prepare("force generate", task, input, optFns)
	if err != nil {
		return failedFuture[T](err)
	}
	return goFuture(func() (*T, error) { return x.forceGenerate(ctx, snap, input, opts) })
}

// SendAsync is the asynchronous form of Provider.Send.
func SendAsync(ctx context.Context, p Provider, systemPrompt, input string) *Future[string] {
	return goFuture(func() (*string, error) {
		out, err := p.Send(ctx, systemPrompt, input)
		if err != nil {
			return nil, err
		}
		return &out, nil
	})
}
