package secretary

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
)

// Extractor runs generation modes for target type T against one provider.
type Extractor[T any] struct {
	provider Provider
	log      *slog.Logger
}

// New returns an Extractor that logs with slog.Default().
func New[T any](p Provider) *Extractor[T] {
	return NewWithLogger[T](p, slog.Default())
}

// NewWithLogger lets the caller supply their own logger.
func NewWithLogger[T any](p Provider, log *slog.Logger) *Extractor[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor[T]{provider: p, log: log}
}

// snapshot is the read-only view of a task taken when a call starts, so a
// caller may keep pushing history while an async call is in flight.
type snapshot struct {
	schema       *Schema
	instructions []string
	history      []Message
	compiler     *Compiler
}

func (x *Extractor[T]) prepare(op string, task *Task, input string, optFns []func(*Options)) (snapshot, Options, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := task.ready(); err != nil {
		return snapshot{}, opts, fmt.Errorf("%s: %w", op, err)
	}
	if strings.TrimSpace(input) == "" {
		return snapshot{}, opts, fmt.Errorf("%s: %w", op, ErrEmptyDocument)
	}
	if x.provider == nil {
		return snapshot{}, opts, fmt.Errorf("%s: provider not configured", op)
	}
	if err := checkTarget[T](task.schema); err != nil {
		return snapshot{}, opts, fmt.Errorf("%s: %w", op, err)
	}
	snap := snapshot{
		schema:       task.schema,
		instructions: task.Instructions(),
		history:      task.History(),
		compiler:     task.compilerOr(opts.Compiler),
	}
	x.log.Debug("Prepared extraction",
		"op", op,
		"task", task.ID(),
		"schema", snap.schema.Name(),
		"units", len(snap.schema.units),
		"instructions", len(snap.instructions),
		"history", len(snap.history),
		"input_length", len(input))
	return snap, opts, nil
}

// checkTarget rejects a struct T that is not the type the schema was derived
// from. Dynamic schemas and map targets are always accepted.
func checkTarget[T any](s *Schema) error {
	rt := reflect.TypeFor[T]()
	if s.goType == nil || rt.Kind() != reflect.Struct || rt == s.goType {
		return nil
	}
	return fmt.Errorf("task schema %s does not describe %s", s.Name(), rt)
}

// Generate is single-shot mode: one call with the whole-schema prompt.
func (x *Extractor[T]) Generate(ctx context.Context, task *Task, input string, optFns ...func(*Options)) (*T, error) {
	snap, opts, err := x.prepare("generate", task, input, optFns)
	if err != nil {
		return nil, err
	}
	return x.generate(ctx, snap, input, opts)
}

func (x *Extractor[T]) generate(ctx context.Context, snap snapshot, input string, opts Options) (*T, error) {
	ctx, cancel := withTimeout(WithMode(ctx, ModeSingle), opts)
	defer cancel()

	prompt, err := snap.compiler.Compile(snap.schema, snap.instructions)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	raw, err := x.send(ctx, snap, prompt, input, "", opts)
	if err != nil {
		return nil, err
	}
	outcomes, err := newReconciler(snap.schema, opts.FieldFallback, x.log).parseObject(raw)
	if err != nil {
		x.log.Debug("Whole-object parse failed", "error", err)
		x.observe(opts, snap, err)
		return nil, err
	}
	return x.done("generate", snap, outcomes, opts)
}

// ForceGenerate is force mode for models without a JSON response format: the
// answer is extracted from the last JSON object in free text.
func (x *Extractor[T]) ForceGenerate(ctx context.Context, task *Task, input string, optFns ...func(*Options)) (*T, error) {
	snap, opts, err := x.prepare("force generate", task, input, optFns)
	if err != nil {
		return nil, err
	}
	return x.forceGenerate(ctx, snap, input, opts)
}

func (x *Extractor[T]) forceGenerate(ctx context.Context, snap snapshot, input string, opts Options) (*T, error) {
	ctx, cancel := withTimeout(WithMode(ctx, ModeForce), opts)
	defer cancel()

	prompt, err := snap.compiler.CompileForce(snap.schema, snap.instructions)
	if err != nil {
		return nil, fmt.Errorf("force generate: %w", err)
	}
	raw, err := x.send(ctx, snap, prompt, input, "", opts)
	if err != nil {
		return nil, err
	}
	outcomes, err := newReconciler(snap.schema, opts.FieldFallback, x.log).extractForced(raw)
	if err != nil {
		x.log.Debug("Force extraction failed", "error", err, "raw_preview", preview(raw, 200))
		x.observe(opts, snap, err)
		return nil, err
	}
	return x.done("force generate", snap, outcomes, opts)
}

// GenerateFields is distributed mode: one concurrent call per field. A field
// whose call fails, times out, is cancelled or panics is reported as failed
// without touching the others.
func (x *Extractor[T]) GenerateFields(ctx context.Context, task *Task, input string, optFns ...func(*Options)) (*T, error) {
	snap, opts, err := x.prepare("generate fields", task, input, optFns)
	if err != nil {
		return nil, err
	}
	return x.generateFields(ctx, snap, input, opts)
}

func (x *Extractor[T]) generateFields(ctx context.Context, snap snapshot, input string, opts Options) (*T, error) {
	ctx, cancel := withTimeout(WithMode(ctx, ModeFields), opts)
	defer cancel()

	prompts, err := snap.compiler.CompileFields(snap.schema, snap.instructions)
	if err != nil {
		return nil, fmt.Errorf("generate fields: %w", err)
	}

	r := opts.Runner
	if r == nil {
		r = NewLimitedRunner(ctx, opts.Concurrency)
		x.log.Debug("Using default runner", "concurrency", opts.Concurrency)
	}
	egCtx, stop := runnerContext(r, ctx)
	defer stop()

	// each task owns responses[i]; no lock needed
	responses := make([]FieldResponse, len(prompts))
	x.log.Debug("Starting field calls", "field_count", len(prompts))
	for i, fp := range prompts {
		r.Go(func() error {
			responses[i] = x.runField(egCtx, snap, fp, input, opts)
			return nil
		})
	}
	if err := r.Wait(); err != nil {
		// only a caller-supplied runner can get here
		x.log.Debug("Runner reported error", "error", err)
	}

	outcomes := newReconciler(snap.schema, true, x.log).mergeFields(responses)
	return x.done("generate fields", snap, outcomes, opts)
}

func (x *Extractor[T]) runField(ctx context.Context, snap snapshot, fp FieldPrompt, input string, opts Options) (resp FieldResponse) {
	resp.Path = fp.Path
	ctx = withField(ctx, fp.Path)
	if opts.FieldTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.FieldTimeout)
		defer cancel()
	}
	resp.Err = guard(func() error {
		if err := ctx.Err(); err != nil {
			return &TransportError{Field: fp.Path, Err: err}
		}
		raw, err := x.send(ctx, snap, fp.Prompt, input, fp.Path, opts)
		resp.Raw = raw
		return err
	})
	if resp.Err != nil {
		x.log.Debug("Field call failed", "field", fp.Path, "error", resp.Err)
	}
	return resp
}

// send performs one provider call with optional retries. Any failure comes
// back as a *TransportError.
func (x *Extractor[T]) send(ctx context.Context, snap snapshot, prompt, input, field string, opts Options) (string, error) {
	var call func() (string, error)
	if cp, ok := x.provider.(ChatProvider); ok {
		user, err := snap.compiler.RenderInput(nil, input)
		if err != nil {
			return "", fmt.Errorf("render input: %w", err)
		}
		msgs := make([]Message, 0, len(snap.history)+2)
		msgs = append(msgs, Message{Role: RoleSystem, Content: prompt})
		msgs = append(msgs, snap.history...)
		msgs = append(msgs, Message{Role: RoleUser, Content: user})
		call = func() (string, error) { return cp.SendMessages(ctx, msgs) }
	} else {
		user, err := snap.compiler.RenderInput(snap.history, input)
		if err != nil {
			return "", fmt.Errorf("render input: %w", err)
		}
		call = func() (string, error) { return x.provider.Send(ctx, prompt, user) }
	}

	x.log.Debug("Calling provider", "field", field, "mode", ModeFromContext(ctx), "prompt_length", len(prompt))
	return x.dispatch(ctx, field, opts, call)
}

// dispatch runs call under the retry policy. Empty answers count as transport
// failures; every failure comes back as a *TransportError.
func (x *Extractor[T]) dispatch(ctx context.Context, field string, opts Options, call func() (string, error)) (string, error) {
	var raw string
	err := retryable(ctx, func() (err error) {
		if raw, err = call(); err != nil {
			return err
		}
		if strings.TrimSpace(raw) == "" {
			return ErrEmptyResponse
		}
		return nil
	}, opts.MaxRetries, opts.Backoff, x.log)
	if err != nil {
		return raw, &TransportError{Field: field, Err: err}
	}
	x.log.Debug("Provider responded", "field", field, "response_length", len(raw), "response_preview", preview(raw, 100))
	return raw, nil
}

func (x *Extractor[T]) done(op string, snap snapshot, outcomes []outcome, opts Options) (*T, error) {
	out, err := finish[T](snap.schema, outcomes)
	x.observe(opts, snap, err)
	if err != nil {
		x.log.Debug("Extraction finished with errors", "op", op, "error", err)
		return nil, err
	}
	x.log.Info("Extraction completed successfully", "op", op, "schema", snap.schema.Name())
	return out, nil
}

func (x *Extractor[T]) observe(opts Options, snap snapshot, err error) {
	if opts.Metrics != nil {
		opts.Metrics.ObserveResult(snap.schema, err)
	}
}

func withTimeout(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	if opts.Timeout > 0 {
		return context.WithTimeout(ctx, opts.Timeout)
	}
	return context.WithCancel(ctx)
}
