package secretary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role of a history message.
type Role int

const (
	RoleSystem Role = iota
	RoleUser
	RoleAssistant
)

func (r Role) String() string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole accepts the lowercase wire names.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system":
		return RoleSystem, nil
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	}
	return 0, fmt.Errorf("unsupported role %q", s)
}

func (r Role) MarshalJSON() ([]byte, error) { return json.Marshal(r.String()) }

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Message is one turn of conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Provider is the only capability required of an LLM.
type Provider interface {
	Send(ctx context.Context, systemPrompt, input string) (string, error)
}

// ChatProvider also accepts a full message list. Extractors use it to pass
// task history as separate turns.
type ChatProvider interface {
	Provider
	SendMessages(ctx context.Context, messages []Message) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, systemPrompt, input string) (string, error)

func (f ProviderFunc) Send(ctx context.Context, systemPrompt, input string) (string, error) {
	return f(ctx, systemPrompt, input)
}

// modelNamer is implemented by providers that know their model name.
type modelNamer interface {
	Model() string
}

// modelOf is p's model name, or "" when p does not report one.
func modelOf(p Provider) string {
	if m, ok := p.(modelNamer); ok {
		return m.Model()
	}
	return ""
}

// Runner lets the extractor schedule distributed work with any concurrency model.
type Runner interface {
	Go(fn func() error) // schedule
	Wait() error        // join / propagate first err
}

// Mode is the generation mode of a call.
type Mode int

const (
	ModeSingle Mode = iota
	ModeFields
	ModeForce
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeFields:
		return "fields"
	case ModeForce:
		return "force"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts the names printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "single", "":
		return ModeSingle, nil
	case "fields", "distributed":
		return ModeFields, nil
	case "force":
		return ModeForce, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

type ctxKey int

const (
	modeKey ctxKey = iota
	fieldKey
)

// WithMode records the generation mode for providers further down.
func WithMode(ctx context.Context, m Mode) context.Context {
	return context.WithValue(ctx, modeKey, m)
}

// ModeFromContext reports the generation mode of the current call. Providers
// use it to request a JSON response format only in single-shot mode.
func ModeFromContext(ctx context.Context) Mode {
	m, _ := ctx.Value(modeKey).(Mode)
	return m
}

func withField(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, fieldKey, path)
}

// FieldFromContext is the unit path of a distributed call, or "".
func FieldFromContext(ctx context.Context) string {
	p, _ := ctx.Value(fieldKey).(string)
	return p
}

// Options of one extraction call.
type Options struct {
	Model         string        // informational, used for plans and metrics
	Timeout       time.Duration // whole call
	FieldTimeout  time.Duration // per distributed field
	Runner        Runner        // nil → DefaultRunner
	Concurrency   int           // 0 → runtime.NumCPU
	MaxRetries    int           // 0 → no retry
	Backoff       time.Duration // first retry delay
	FieldFallback bool          // whole-object mode reports per-field failures
	Compiler      *Compiler     // nil → task compiler
	Metrics       *Metrics      // nil → not recorded
	Tokens        TokenCounter  // plans only; nil → tiktoken for Model
}

func defaultOptions() Options {
	return Options{FieldFallback: true}
}

func WithModel(name string) func(*Options) {
	return func(o *Options) { o.Model = name }
}

func WithTimeout(d time.Duration) func(*Options) {
	return func(o *Options) { o.Timeout = d }
}

// WithFieldTimeout bounds each distributed call; an expired field is recorded
// as that field's failure.
func WithFieldTimeout(d time.Duration) func(*Options) {
	return func(o *Options) { o.FieldTimeout = d }
}

func WithRunner(r Runner) func(*Options) {
	return func(o *Options) { o.Runner = r }
}

func WithConcurrency(n int) func(*Options) {
	return func(o *Options) { o.Concurrency = n }
}

// WithRetry retries transport failures with exponential backoff. Parse and
// schema failures are never retried.
func WithRetry(max int, backoff time.Duration) func(*Options) {
	return func(o *Options) {
		o.MaxRetries = max
		o.Backoff = backoff
	}
}

// WithFieldFallback selects what whole-object mode returns when the response
// is an object but some fields do not match: a FieldDeserializationError
// (true, the default) or a single ParseError (false).
func WithFieldFallback(enabled bool) func(*Options) {
	return func(o *Options) { o.FieldFallback = enabled }
}

func WithCompiler(c *Compiler) func(*Options) {
	return func(o *Options) { o.Compiler = c }
}

// WithTokenCounter sets the counter used by DryRun and Explain.
func WithTokenCounter(c TokenCounter) func(*Options) {
	return func(o *Options) { o.Tokens = c }
}

// WithMetrics counts reconciled fields per outcome. Wrap the provider with
// Metrics.Instrument to also record calls.
func WithMetrics(m *Metrics) func(*Options) {
	return func(o *Options) { o.Metrics = m }
}
