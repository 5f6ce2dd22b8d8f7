package secretary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
)

// ContextualReply is the envelope the model answers with on every turn of a
// contextual conversation. Content is nil once the model has collected
// everything it needs.
type ContextualReply struct {
	Reasoning     string          `json:"reasoning"`
	Content       *string         `json:"content"`
	Notes         []string        `json:"notes"`
	DataStructure json.RawMessage `json:"data_structure"`
}

// Done reports whether the model stopped asking questions.
func (r ContextualReply) Done() bool { return r.Content == nil }

// ParseContextualReply decodes an assistant turn. Reasoning blocks and code
// fences are stripped, and a reply buried in prose or slightly malformed is
// recovered when possible.
func ParseContextualReply(raw string) (ContextualReply, error) {
	text := string(SanitizeJSONResponse([]byte(CleanThinking(raw))))
	var reply ContextualReply
	err := json.Unmarshal([]byte(text), &reply)
	if err == nil {
		return reply, nil
	}
	if span, ok := LastObject(text); ok {
		if json.Unmarshal([]byte(span), &reply) == nil {
			return reply, nil
		}
		text = span
	}
	repaired, repairErr := jsonrepair.JSONRepair(text)
	if repairErr != nil {
		return ContextualReply{}, &ParseError{Raw: raw, Err: err}
	}
	if rerr := json.Unmarshal([]byte(repaired), &reply); rerr != nil {
		return ContextualReply{}, &ParseError{Raw: raw, Err: rerr}
	}
	return reply, nil
}

// ContextualTask drives a multi-turn conversation in which the model gathers
// the fields of a schema from the user. The task keeps only the latest user
// message and the accumulated state, which stands in for every earlier
// assistant turn, so the prompt does not grow with the conversation.
type ContextualTask struct {
	mu           sync.Mutex
	id           uuid.UUID
	schema       *Schema
	instructions []string
	compiler     *Compiler
	state        ContextualReply
	history      []Message
}

// NewContextualTask derives the schema from struct type T.
func NewContextualTask[T any](instructions ...string) (*ContextualTask, error) {
	s, err := SchemaOf[T]()
	if err != nil {
		return nil, err
	}
	return NewDynamicContextualTask(s, instructions...), nil
}

// NewDynamicContextualTask binds an already built schema.
func NewDynamicContextualTask(s *Schema, instructions ...string) *ContextualTask {
	return &ContextualTask{
		id:           uuid.New(),
		schema:       s,
		instructions: append([]string(nil), instructions...),
	}
}

// WithCompiler returns the task using c for its prompts.
func (t *ContextualTask) WithCompiler(c *Compiler) *ContextualTask {
	t.compiler = c
	return t
}

func (t *ContextualTask) ID() uuid.UUID { return t.id }

func (t *ContextualTask) Schema() *Schema { return t.schema }

func (t *ContextualTask) Instructions() []string {
	return append([]string(nil), t.instructions...)
}

// History returns a copy of the retained messages.
func (t *ContextualTask) History() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.history...)
}

// State returns a copy of the accumulated reply.
func (t *ContextualTask) State() ContextualReply {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

func (t *ContextualTask) stateLocked() ContextualReply {
	s := t.state
	if s.Content != nil {
		c := *s.Content
		s.Content = &c
	}
	s.Notes = slices.Clone(s.Notes)
	s.DataStructure = slices.Clone(s.DataStructure)
	return s
}

func (t *ContextualTask) ready() error {
	if t == nil || t.schema == nil {
		return ErrTaskNotInitialized
	}
	return nil
}

func (t *ContextualTask) compilerOr(c *Compiler) *Compiler {
	switch {
	case c != nil:
		return c
	case t.compiler != nil:
		return t.compiler
	default:
		return DefaultCompiler()
	}
}

// SystemPrompt is the prompt sent ahead of every turn.
func (t *ContextualTask) SystemPrompt() (string, error) {
	if err := t.ready(); err != nil {
		return "", fmt.Errorf("system prompt: %w", err)
	}
	return t.compilerOr(nil).CompileContextual(t.schema, t.instructions)
}

// Messages is the full conversation as a chat provider receives it.
func (t *ContextualTask) Messages() ([]Message, error) {
	prompt, err := t.SystemPrompt()
	if err != nil {
		return nil, err
	}
	return append([]Message{{Role: RoleSystem, Content: prompt}}, t.History()...), nil
}

// UpdateState folds a reply into the accumulated state. Reasoning, content
// and data replace the previous values; notes are appended once each, in the
// order they first appeared.
func (t *ContextualTask) UpdateState(r ContextualReply) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateLocked(r)
}

func (t *ContextualTask) updateLocked(r ContextualReply) {
	t.state.Reasoning = r.Reasoning
	t.state.Content = r.Content
	t.state.DataStructure = slices.Clone(r.DataStructure)
	for _, n := range r.Notes {
		if !slices.Contains(t.state.Notes, n) {
			t.state.Notes = append(t.state.Notes, n)
		}
	}
}

// CleanupRole drops every retained message of the given role.
func (t *ContextualTask) CleanupRole(role Role) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanupLocked(role)
}

func (t *ContextualTask) cleanupLocked(role Role) {
	t.history = slices.DeleteFunc(t.history, func(m Message) bool { return m.Role == role })
}

// Push records a turn. An assistant message must hold a reply envelope: it
// updates the state and replaces the previous assistant message with the
// state itself. A user message replaces the previous user message. System
// messages are appended as they are.
func (t *ContextualTask) Push(role Role, text string) error {
	if err := t.ready(); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	switch role {
	case RoleSystem:
		t.mu.Lock()
		t.history = append(t.history, Message{Role: role, Content: text})
		t.mu.Unlock()
		return nil
	case RoleUser:
		t.mu.Lock()
		t.cleanupLocked(RoleUser)
		t.history = append(t.history, Message{Role: role, Content: text})
		t.mu.Unlock()
		return nil
	case RoleAssistant:
		reply, err := ParseContextualReply(text)
		if err != nil {
			return fmt.Errorf("push: %w", err)
		}
		_, err = t.pushReply(reply)
		return err
	default:
		return fmt.Errorf("push: unsupported role %s", role)
	}
}

func (t *ContextualTask) pushReply(reply ContextualReply) (ContextualReply, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateLocked(reply)
	state := t.stateLocked()
	if len(state.DataStructure) == 0 {
		state.DataStructure = json.RawMessage("null")
	}
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return state, fmt.Errorf("push: %w", err)
	}
	t.cleanupLocked(RoleAssistant)
	t.history = append(t.history, Message{Role: RoleAssistant, Content: string(b)})
	return state, nil
}

// ContextualTurn is the outcome of one Converse call.
type ContextualTurn[T any] struct {
	// Reply is the accumulated state after the turn.
	Reply ContextualReply
	// Data holds every field collected so far. Missing fields keep their
	// zero value.
	Data *T
	// Missing lists the units that are still absent or invalid.
	Missing []string
}

// Complete reports whether the model is done and every unit was collected.
func (c *ContextualTurn[T]) Complete() bool {
	return c.Reply.Done() && len(c.Missing) == 0
}

// Question is what the model asks next, empty when it is done.
func (c *ContextualTurn[T]) Question() string {
	if c.Reply.Content == nil {
		return ""
	}
	return *c.Reply.Content
}

// Converse sends one user message of a contextual conversation and folds the
// model's reply into the task. It runs in single-shot mode.
func (x *Extractor[T]) Converse(ctx context.Context, task *ContextualTask, message string, optFns ...func(*Options)) (*ContextualTurn[T], error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := task.ready(); err != nil {
		return nil, fmt.Errorf("converse: %w", err)
	}
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("converse: %w", ErrEmptyDocument)
	}
	if x.provider == nil {
		return nil, fmt.Errorf("converse: provider not configured")
	}
	if err := checkTarget[T](task.schema); err != nil {
		return nil, fmt.Errorf("converse: %w", err)
	}

	ctx, cancel := withTimeout(WithMode(ctx, ModeSingle), opts)
	defer cancel()

	compiler := task.compilerOr(opts.Compiler)
	prompt, err := compiler.CompileContextual(task.schema, task.instructions)
	if err != nil {
		return nil, fmt.Errorf("converse: %w", err)
	}
	if err := task.Push(RoleUser, message); err != nil {
		return nil, err
	}
	history := task.History()

	var call func() (string, error)
	if cp, ok := x.provider.(ChatProvider); ok {
		msgs := append([]Message{{Role: RoleSystem, Content: prompt}}, history...)
		call = func() (string, error) { return cp.SendMessages(ctx, msgs) }
	} else {
		user, err := compiler.RenderInput(history[:len(history)-1], message)
		if err != nil {
			return nil, fmt.Errorf("render input: %w", err)
		}
		call = func() (string, error) { return x.provider.Send(ctx, prompt, user) }
	}
	x.log.Debug("Calling provider", "task", task.ID(), "mode", ModeSingle, "history", len(history))
	raw, err := x.dispatch(ctx, "", opts, call)
	if err != nil {
		return nil, err
	}

	reply, err := ParseContextualReply(raw)
	if err != nil {
		x.log.Debug("Contextual reply is not an envelope", "error", err, "raw_preview", preview(raw, 200))
		return nil, err
	}
	state, err := task.pushReply(reply)
	if err != nil {
		return nil, err
	}

	turn := &ContextualTurn[T]{Reply: state}
	data := state.DataStructure
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	outcomes, err := newReconciler(task.schema, true, x.log).parseObject(string(data))
	if err != nil {
		return nil, err
	}
	out, err := finish[T](task.schema, outcomes)
	if opts.Metrics != nil {
		opts.Metrics.ObserveResult(task.schema, err)
	}
	var fe *FieldDeserializationError
	switch {
	case err == nil:
		turn.Data = out
	case errors.As(err, &fe):
		turn.Missing = fe.FailedFields()
		if turn.Data, err = DecodePartial[T](fe); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	x.log.Debug("Contextual turn finished", "task", task.ID(), "done", state.Done(), "missing", len(turn.Missing))
	return turn, nil
}
