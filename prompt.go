package secretary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tyler-sommer/stick"
)

// FieldPrompt is the prompt for one unit in distributed mode.
type FieldPrompt struct {
	Path   string
	Type   TypeTag
	Prompt string
}

// Compiler turns a schema plus caller instructions into prompts. Compilation
// is pure: equal inputs render byte-identical text.
type Compiler struct {
	templates TemplateRenderer
}

// NewCompiler builds a compiler over the default templates; opts override them.
func NewCompiler(opts ...Option) (*Compiler, error) {
	p, err := NewStickPromptProvider(opts...)
	if err != nil {
		return nil, err
	}
	return &Compiler{templates: p}, nil
}

// NewCompilerWithRenderer uses a caller supplied renderer. It must know the
// schema, field, force and input tags, plus contextual for contextual tasks.
func NewCompilerWithRenderer(r TemplateRenderer) *Compiler {
	return &Compiler{templates: r}
}

var defaultCompiler = sync.OnceValue(func() *Compiler {
	c, err := NewCompiler()
	if err != nil {
		panic(err)
	}
	return c
})

// DefaultCompiler is shared by tasks that were not given their own.
func DefaultCompiler() *Compiler { return defaultCompiler() }

// Compile renders the whole-schema system prompt.
func (c *Compiler) Compile(s *Schema, instructions []string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("compile: %w", ErrTaskNotInitialized)
	}
	structure, err := ExampleJSON(s)
	if err != nil {
		return "", fmt.Errorf("compile %s: %w", s.Name(), err)
	}
	fields := make([]map[string]string, 0, len(s.units))
	for _, u := range s.units {
		fields = append(fields, map[string]string{
			"name":        u.Path,
			"instruction": u.Instruction,
			"json_type":   u.Type.JSONType(),
		})
	}
	return c.templates.Render(TemplateSchema, map[string]stick.Value{
		"schema":           s.Name(),
		"structure":        structure,
		"fields":           fields,
		"instructions":     instructions,
		"has_instructions": len(instructions) > 0,
	})
}

// CompileFields renders one prompt per unit, in unit order.
func (c *Compiler) CompileFields(s *Schema, instructions []string) ([]FieldPrompt, error) {
	if s == nil {
		return nil, fmt.Errorf("compile fields: %w", ErrTaskNotInitialized)
	}
	out := make([]FieldPrompt, 0, len(s.units))
	for _, u := range s.units {
		var example bytes.Buffer
		writeExample(&example, u.Type)
		prompt, err := c.templates.Render(TemplateField, map[string]stick.Value{
			"schema": s.Name(),
			"field": map[string]string{
				"name":        u.Path,
				"instruction": u.Instruction,
				"json_type":   u.Type.JSONType(),
				"example":     example.String(),
			},
			"instructions":     instructions,
			"has_instructions": len(instructions) > 0,
		})
		if err != nil {
			return nil, fmt.Errorf("compile field %s: %w", u.Path, err)
		}
		out = append(out, FieldPrompt{Path: u.Path, Type: u.Type, Prompt: prompt})
	}
	return out, nil
}

// CompileForce renders the whole-schema prompt followed by the directive to
// end the answer with the JSON object.
func (c *Compiler) CompileForce(s *Schema, instructions []string) (string, error) {
	base, err := c.Compile(s, instructions)
	if err != nil {
		return "", err
	}
	return c.templates.Render(TemplateForce, map[string]stick.Value{"prompt": base})
}

// CompileContextual renders the system prompt of a contextual conversation:
// the reply envelope with the schema's example nested as data_structure.
func (c *Compiler) CompileContextual(s *Schema, instructions []string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("compile contextual: %w", ErrTaskNotInitialized)
	}
	example, err := ExampleJSON(s)
	if err != nil {
		return "", fmt.Errorf("compile contextual %s: %w", s.Name(), err)
	}
	envelope, err := json.MarshalIndent(struct {
		Reasoning     string          `json:"reasoning"`
		Content       string          `json:"content"`
		Notes         []string        `json:"notes"`
		DataStructure json.RawMessage `json:"data_structure"`
	}{
		Reasoning:     "Your thoughts on your response.",
		Content:       "Anything that you would like to ask the user. Leave it null once every item is collected.",
		Notes:         []string{"Summaries of the user's query and your response, and any observations. Append only."},
		DataStructure: json.RawMessage(example),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("compile contextual %s: %w", s.Name(), err)
	}
	fields := make([]map[string]string, 0, len(s.units))
	for _, u := range s.units {
		fields = append(fields, map[string]string{
			"name":        u.Path,
			"instruction": u.Instruction,
			"json_type":   u.Type.JSONType(),
		})
	}
	return c.templates.Render(TemplateContextual, map[string]stick.Value{
		"schema":           s.Name(),
		"structure":        string(envelope),
		"fields":           fields,
		"instructions":     instructions,
		"has_instructions": len(instructions) > 0,
	})
}

// RenderInput builds the user turn. History is included only when the
// provider cannot take it as separate messages.
func (c *Compiler) RenderInput(history []Message, input string) (string, error) {
	msgs := make([]map[string]string, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, map[string]string{"role": m.Role.String(), "content": m.Content})
	}
	return c.templates.Render(TemplateInput, map[string]stick.Value{
		"history":     msgs,
		"has_history": len(msgs) > 0,
		"input":       input,
	})
}

// CompilePrompt compiles with the default compiler.
func CompilePrompt(s *Schema, instructions ...string) (string, error) {
	return DefaultCompiler().Compile(s, instructions)
}

// CompileFieldPrompts compiles per-field prompts with the default compiler.
func CompileFieldPrompts(s *Schema, instructions ...string) ([]FieldPrompt, error) {
	return DefaultCompiler().CompileFields(s, instructions)
}

// CompileForcePrompt compiles the force-mode prompt with the default compiler.
func CompileForcePrompt(s *Schema, instructions ...string) (string, error) {
	return DefaultCompiler().CompileForce(s, instructions)
}

// ExampleJSON renders the canonical example of the schema's shape: strings as
// "text", numbers as 0, booleans as false, lists with one element and
// optionals present. Keys keep declaration order.
func ExampleJSON(s *Schema) (string, error) {
	var compact bytes.Buffer
	writeObject(&compact, s)
	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return "", err
	}
	return out.String(), nil
}

func writeObject(buf *bytes.Buffer, s *Schema) {
	buf.WriteByte('{')
	for i, f := range s.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(f.Name)
		buf.Write(key)
		buf.WriteByte(':')
		writeExample(buf, f.Type)
	}
	buf.WriteByte('}')
}

func writeExample(buf *bytes.Buffer, t TypeTag) {
	switch t.Kind {
	case KindString:
		buf.WriteString(`"text"`)
	case KindInteger, KindFloat:
		buf.WriteByte('0')
	case KindBoolean:
		buf.WriteString("false")
	case KindOptional:
		writeExample(buf, *t.Elem)
	case KindList:
		buf.WriteByte('[')
		writeExample(buf, *t.Elem)
		buf.WriteByte(']')
	case KindNested:
		writeObject(buf, t.Schema)
	default:
		buf.WriteString("null")
	}
}
