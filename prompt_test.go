package secretary

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyler-sommer/stick"
)

func TestCompile_SchemaPrompt(t *testing.T) {
	s := MustSchemaOf[Person]()
	prompt, err := CompilePrompt(s, "Answer in English", "Dates as ISO 8601")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(prompt, "This is the json structure that you should strictly follow:\n{\n"))
	assert.Contains(t, prompt, `"name": "text"`)
	assert.Contains(t, prompt, `"age": 0`)
	assert.Contains(t, prompt, `"tags": [`)
	assert.Contains(t, prompt, "- name: Full name of the person, JSON String\n")
	assert.Contains(t, prompt, "- age: Age in years, JSON Number\n")
	assert.Contains(t, prompt, "- email: Extract the value for field `email`, JSON String or JSON Null\n")
	assert.Contains(t, prompt, "- address.street: Street name and number, JSON String\n")
	assert.Contains(t, prompt, "Besides, you should also follow these instructions:\n- Answer in English\n- Dates as ISO 8601\n")

	// field lines keep declaration order
	assert.Less(t, strings.Index(prompt, "- name:"), strings.Index(prompt, "- age:"))
	assert.Less(t, strings.Index(prompt, "- tags:"), strings.Index(prompt, "- address.city:"))
}

func TestCompile_NoInstructions(t *testing.T) {
	prompt, err := CompilePrompt(MustSchemaOf[Person]())
	require.NoError(t, err)
	assert.NotContains(t, prompt, "Besides")
}

func TestCompile_Deterministic(t *testing.T) {
	s := MustSchemaOf[Person]()
	first, err := CompilePrompt(s, "a", "b")
	require.NoError(t, err)
	for range 20 {
		again, err := CompilePrompt(s, "a", "b")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCompile_NilSchema(t *testing.T) {
	_, err := CompilePrompt(nil)
	assert.ErrorIs(t, err, ErrTaskNotInitialized)
	_, err = CompileFieldPrompts(nil)
	assert.ErrorIs(t, err, ErrTaskNotInitialized)
}

func TestCompileFields(t *testing.T) {
	s := MustSchemaOf[Person]()
	prompts, err := CompileFieldPrompts(s, "Be concise")
	require.NoError(t, err)
	require.Len(t, prompts, len(s.Paths()))

	for i, path := range s.Paths() {
		assert.Equal(t, path, prompts[i].Path)
	}

	age := prompts[1]
	assert.Equal(t, IntegerType, age.Type)
	assert.Contains(t, age.Prompt, "wrap them in <result></result>")
	assert.Contains(t, age.Prompt, "- age: Age in years, JSON Number\n")
	assert.Contains(t, age.Prompt, "Example: <result>0</result>")
	assert.Contains(t, age.Prompt, "- Be concise")
	assert.NotContains(t, age.Prompt, "- name:")

	tags := prompts[3]
	assert.Contains(t, tags.Prompt, `Example: <result>["text"]</result>`)
}

func TestCompileForce(t *testing.T) {
	s := MustSchemaOf[Person]()
	base, err := CompilePrompt(s)
	require.NoError(t, err)
	force, err := CompileForcePrompt(s)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(force, base))
	assert.Contains(t, force, "finish your response with the final JSON object")
}

func TestRenderInput(t *testing.T) {
	c := DefaultCompiler()

	plain, err := c.RenderInput(nil, "Jane is 29.")
	require.NoError(t, err)
	assert.Equal(t, "This is the basis for generating a json:\nJane is 29.", plain)

	withHistory, err := c.RenderInput([]Message{
		{Role: RoleUser, Content: "who is she?"},
		{Role: RoleAssistant, Content: "a customer"},
	}, "Jane is 29.")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(withHistory, "Conversation so far:\nuser: who is she?\nassistant: a customer\n"))
	assert.True(t, strings.HasSuffix(withHistory, "This is the basis for generating a json:\nJane is 29."))
}

func TestExampleJSON(t *testing.T) {
	s := MustSchema("Order",
		FieldSpec{Name: "id", Type: IntegerType},
		FieldSpec{Name: "note", Type: OptionalOf(StringType)},
		FieldSpec{Name: "ok", Type: BooleanType},
		FieldSpec{Name: "items", Type: ListOf(NestedOf(MustSchema("Item", FieldSpec{Name: "sku", Type: StringType})))},
	)
	got, err := ExampleJSON(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":0,"note":"text","ok":false,"items":[{"sku":"text"}]}`, got)
	// keys keep declaration order
	assert.Less(t, strings.Index(got, `"id"`), strings.Index(got, `"items"`))
}

func TestCompiler_CustomTemplates(t *testing.T) {
	c, err := NewCompiler(
		WithTemplates(map[string]string{TemplateSchema: "Fill {{ schema }} for {{ team }}"}),
		WithVar("team", "billing"),
	)
	require.NoError(t, err)

	prompt, err := c.Compile(MustSchemaOf[Person](), nil)
	require.NoError(t, err)
	assert.Equal(t, "Fill Person for billing", prompt)

	// untouched templates keep their defaults
	fields, err := c.CompileFields(MustSchemaOf[Person](), nil)
	require.NoError(t, err)
	assert.Contains(t, fields[0].Prompt, "<result>")
}

func TestCompiler_WithFS(t *testing.T) {
	fsys := fstest.MapFS{
		"prompts/force.twig": {Data: []byte("FORCE {{ tag }}")},
		"prompts/README.md":  {Data: []byte("ignored")},
	}
	c, err := NewCompiler(WithFS(fsys, "prompts"))
	require.NoError(t, err)

	out, err := c.CompileForce(MustSchemaOf[Address](), nil)
	require.NoError(t, err)
	assert.Equal(t, "FORCE force", out)
}

func TestStickPromptProvider_UnknownTag(t *testing.T) {
	p, err := NewStickPromptProvider()
	require.NoError(t, err)
	_, err = p.Render("nope", map[string]stick.Value{})
	assert.ErrorContains(t, err, `template "nope" not found`)

	p.AddTemplate("hello", "hi {{ name }}")
	out, err := p.Render("hello", map[string]stick.Value{"name": "Jane"})
	require.NoError(t, err)
	assert.Equal(t, "hi Jane", out)

	src, ok := p.Template("hello")
	assert.True(t, ok)
	assert.Equal(t, "hi {{ name }}", src)
}

func TestTask_PromptsUseTaskCompiler(t *testing.T) {
	c, err := NewCompiler(WithTemplates(map[string]string{TemplateSchema: "custom"}))
	require.NoError(t, err)
	task, err := NewTask[Person]()
	require.NoError(t, err)
	task.WithCompiler(c)

	prompt, err := task.SystemPrompt()
	require.NoError(t, err)
	assert.Equal(t, "custom", prompt)

	force, err := task.ForcePrompt()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(force, "custom\n"))
}

type staticRenderer map[string]string

func (r staticRenderer) Render(tag string, _ map[string]stick.Value) (string, error) {
	return r[tag], nil
}

func TestNewCompilerWithRenderer(t *testing.T) {
	c := NewCompilerWithRenderer(staticRenderer{"schema": "S", "force": "F", "input": "I"})
	got, err := c.Compile(MustSchemaOf[Simple](), nil)
	require.NoError(t, err)
	assert.Equal(t, "S", got)

	in, err := c.RenderInput(nil, "doc")
	require.NoError(t, err)
	assert.Equal(t, "I", in)
}
