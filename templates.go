package secretary

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/tyler-sommer/stick"
)

// Template tags rendered by the Compiler.
const (
	TemplateSchema = "schema"
	TemplateField  = "field"
	TemplateForce  = "force"
	TemplateInput  = "input"

	TemplateContextual = "contextual"
)

// Default templates. Block tags are kept on the same line as the text that
// follows them so the output does not depend on newline trimming.
var defaultTemplates = map[string]string{
	TemplateSchema: `This is the json structure that you should strictly follow:
{{ structure }}
{% for f in fields %}- {{ f.name }}: {{ f.instruction }}, {{ f.json_type }}
{% endfor %}{% if has_instructions %}Besides, you should also follow these instructions:
{% for i in instructions %}- {{ i }}
{% endfor %}{% endif %}Respond with a single JSON object matching the structure above and nothing else.`,

	TemplateField: `Output a value according to criteria and wrap them in <result></result>.
- {{ field.name }}: {{ field.instruction }}, {{ field.json_type }}
Example: <result>{{ field.example }}</result>
{% if has_instructions %}Besides, you should also follow these instructions:
{% for i in instructions %}- {{ i }}
{% endfor %}{% endif %}`,

	TemplateForce: `{{ prompt }}
You may reason before answering, but finish your response with the final JSON object. Nothing may follow it.`,

	TemplateContextual: `Respond in json.
This is the json structure that you should strictly follow:
{{ structure }}
Fill data_structure as the conversation reveals it:
{% for f in fields %}- data_structure.{{ f.name }}: {{ f.instruction }}, {{ f.json_type }}
{% endfor %}Ask for one missing item at a time in content. Set content to null once every item is collected.
{% if has_instructions %}Besides, you should also follow these instructions:
{% for i in instructions %}- {{ i }}
{% endfor %}{% endif %}`,

	TemplateInput: `{% if has_history %}Conversation so far:
{% for m in history %}{{ m.role }}: {{ m.content }}
{% endfor %}
{% endif %}This is the basis for generating a json:
{{ input }}`,
}

// TemplateRenderer renders a named template with variables.
type TemplateRenderer interface {
	Render(tag string, vars map[string]stick.Value) (string, error)
}

// StickPromptProvider keeps Twig templates in memory and renders them with stick.
type StickPromptProvider struct {
	env       *stick.Env
	templates map[string]string
	vars      map[string]stick.Value
}

// Option configures a StickPromptProvider.
type Option func(*StickPromptProvider) error

// WithFS loads every *.twig file found under dir; the file name without the
// extension becomes the tag.
func WithFS[F fs.FS](fsys F, dir string) Option {
	return func(p *StickPromptProvider) error {
		return fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".twig") {
				return nil
			}
			content, readErr := fs.ReadFile(fsys, path)
			if readErr != nil {
				return fmt.Errorf("read %s: %w", path, readErr)
			}
			p.templates[strings.TrimSuffix(filepath.Base(path), ".twig")] = string(content)
			return nil
		})
	}
}

// WithTemplates overrides or adds templates from a map.
func WithTemplates(m map[string]string) Option {
	return func(p *StickPromptProvider) error {
		for k, v := range m {
			p.templates[k] = v
		}
		return nil
	}
}

// WithVar makes a variable available to every template.
func WithVar(key string, value stick.Value) Option {
	return func(p *StickPromptProvider) error {
		p.vars[key] = value
		return nil
	}
}

// NewStickPromptProvider starts from the default templates and applies opts.
func NewStickPromptProvider(opts ...Option) (*StickPromptProvider, error) {
	p := &StickPromptProvider{
		env:       stick.New(nil),
		templates: make(map[string]string, len(defaultTemplates)),
		vars:      make(map[string]stick.Value),
	}
	for k, v := range defaultTemplates {
		p.templates[k] = v
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddTemplate updates or inserts one template.
func (p *StickPromptProvider) AddTemplate(tag, tpl string) { p.templates[tag] = tpl }

// Template returns the source of a template.
func (p *StickPromptProvider) Template(tag string) (string, bool) {
	tpl, ok := p.templates[tag]
	return tpl, ok
}

// Render executes the template for tag. Call variables win over WithVar ones.
func (p *StickPromptProvider) Render(tag string, vars map[string]stick.Value) (string, error) {
	tpl, ok := p.templates[tag]
	if !ok {
		return "", fmt.Errorf("template %q not found", tag)
	}
	ctx := make(map[string]stick.Value, len(p.vars)+len(vars)+1)
	for k, v := range p.vars {
		ctx[k] = v
	}
	for k, v := range vars {
		ctx[k] = v
	}
	ctx["tag"] = tag

	var out strings.Builder
	if err := p.env.Execute(tpl, &out, ctx); err != nil {
		return "", fmt.Errorf("execute %q: %w", tag, err)
	}
	return out.String(), nil
}
