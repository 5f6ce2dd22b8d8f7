package secretary

import (
	"fmt"

	"github.com/google/uuid"
)

// Task binds a schema to caller instructions and conversation history. It is
// created per extraction session and may be reused across turns. A Task is
// not safe for concurrent Push calls; extractors only read it.
type Task struct {
	id           uuid.UUID
	schema       *Schema
	instructions []string
	history      []Message
	compiler     *Compiler
}

// NewTask derives the schema from struct type T.
func NewTask[T any](instructions ...string) (*Task, error) {
	s, err := SchemaOf[T]()
	if err != nil {
		return nil, err
	}
	return NewDynamicTask(s, instructions...), nil
}

// NewDynamicTask binds an already built schema.
func NewDynamicTask(s *Schema, instructions ...string) *Task {
	return &Task{
		id:           uuid.New(),
		schema:       s,
		instructions: append([]string(nil), instructions...),
	}
}

// WithCompiler returns the task using c for its prompts.
func (t *Task) WithCompiler(c *Compiler) *Task {
	t.compiler = c
	return t
}

func (t *Task) ID() uuid.UUID { return t.id }

func (t *Task) Schema() *Schema { return t.schema }

// Instructions returns a copy of the additional instructions.
func (t *Task) Instructions() []string { return append([]string(nil), t.instructions...) }

// History returns a copy of the conversation so far.
func (t *Task) History() []Message { return append([]Message(nil), t.history...) }

// Push appends a message to the history. It fails only when the task was
// never bound to a schema.
func (t *Task) Push(role Role, text string) error {
	if t == nil || t.schema == nil {
		return fmt.Errorf("push: %w", ErrTaskNotInitialized)
	}
	if role < RoleSystem || role > RoleAssistant {
		return fmt.Errorf("push: unsupported role %s", role)
	}
	t.history = append(t.history, Message{Role: role, Content: text})
	return nil
}

func (t *Task) compilerOr(c *Compiler) *Compiler {
	switch {
	case c != nil:
		return c
	case t.compiler != nil:
		return t.compiler
	default:
		return DefaultCompiler()
	}
}

func (t *Task) ready() error {
	if t == nil || t.schema == nil {
		return ErrTaskNotInitialized
	}
	return nil
}

// SystemPrompt is the whole-schema prompt of single-shot mode.
func (t *Task) SystemPrompt() (string, error) {
	if err := t.ready(); err != nil {
		return "", fmt.Errorf("system prompt: %w", err)
	}
	return t.compilerOr(nil).Compile(t.schema, t.instructions)
}

// FieldPrompts are the per-unit prompts of distributed mode.
func (t *Task) FieldPrompts() ([]FieldPrompt, error) {
	if err := t.ready(); err != nil {
		return nil, fmt.Errorf("field prompts: %w", err)
	}
	return t.compilerOr(nil).CompileFields(t.schema, t.instructions)
}

// ForcePrompt is the prompt of force mode.
func (t *Task) ForcePrompt() (string, error) {
	if err := t.ready(); err != nil {
		return "", fmt.Errorf("force prompt: %w", err)
	}
	return t.compilerOr(nil).CompileForce(t.schema, t.instructions)
}
