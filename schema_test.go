package secretary

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Address struct {
	Street string `json:"street" task:"Street name and number"`
	City   string `json:"city"`
}

type Person struct {
	Name    string   `json:"name" task:"Full name of the person"`
	Age     int      `json:"age" task:"instruction=Age in years"`
	Email   *string  `json:"email"`
	Tags    []string `json:"tags"`
	Address Address  `json:"address"`
	Skipped string   `json:"-"`
	private string
}

type Audit struct {
	CreatedBy string `json:"created_by"`
}

type Document struct {
	Audit
	Title   string    `json:"title"`
	Created time.Time `json:"created"`
	Score   float64   `json:"score"`
	Draft   bool      `json:"draft"`
	Raw     []byte    `json:"raw"`
}

type Node struct {
	Value string `json:"value"`
	Next  *Node  `json:"next"`
}

type Left struct {
	Right Right `json:"right"`
}

type Right struct {
	Left []Left `json:"left"`
}

type Duplicated struct {
	A string `json:"name"`
	B string `json:"name"`
}

type WithMap struct {
	Labels map[string]string `json:"labels"`
}

type WithChan struct {
	C chan int `json:"c"`
}

func TestSchemaOf_Person(t *testing.T) {
	s, err := SchemaOf[Person]()
	require.NoError(t, err)

	assert.Equal(t, "Person", s.Name())
	assert.Equal(t, 5, s.Len())
	assert.Equal(t, []string{"name", "age", "email", "tags", "address.street", "address.city"}, s.Paths())

	name, ok := s.Field("name")
	require.True(t, ok)
	assert.Equal(t, "Full name of the person", name.Instruction)
	assert.Equal(t, StringType, name.Type)

	age, _ := s.Field("age")
	assert.Equal(t, "Age in years", age.Instruction)
	assert.Equal(t, KindInteger, age.Type.Kind)

	email, _ := s.Field("email")
	assert.Equal(t, "Optional<String>", email.Type.String())
	assert.Equal(t, "Extract the value for field `email`", email.Instruction)

	tags, _ := s.Field("tags")
	assert.Equal(t, "List<String>", tags.Type.String())

	addr, _ := s.Field("address")
	assert.Equal(t, "Nested<Address>", addr.Type.String())

	_, ok = s.Field("Skipped")
	assert.False(t, ok)
	_, ok = s.Field("private")
	assert.False(t, ok)
}

func TestSchemaOf_Cached(t *testing.T) {
	a, err := SchemaOf[Person]()
	require.NoError(t, err)
	b, err := SchemaOf[Person]()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestSchemaOf_EmbeddedAndSpecialTypes(t *testing.T) {
	s, err := SchemaOf[Document]()
	require.NoError(t, err)
	assert.Equal(t, []string{"created_by", "title", "created", "score", "draft", "raw"}, s.Paths())

	created, _ := s.Field("created")
	assert.Equal(t, KindString, created.Type.Kind)
	raw, _ := s.Field("raw")
	assert.Equal(t, KindString, raw.Type.Kind)
	score, _ := s.Field("score")
	assert.Equal(t, KindFloat, score.Type.Kind)
	draft, _ := s.Field("draft")
	assert.Equal(t, KindBoolean, draft.Type.Kind)
}

func TestSchemaOf_Errors(t *testing.T) {
	tests := []struct {
		name   string
		build  func() error
		reason string
	}{
		{"self reference", func() error { _, err := SchemaOf[Node](); return err }, "cyclic nesting: Node -> Node"},
		{"mutual reference", func() error { _, err := SchemaOf[Left](); return err }, "cyclic nesting: Left -> Right -> Left"},
		{"duplicate names", func() error { _, err := SchemaOf[Duplicated](); return err }, "duplicate field name"},
		{"map field", func() error { _, err := SchemaOf[WithMap](); return err }, "unsupported type map[string]string"},
		{"chan field", func() error { _, err := SchemaOf[WithChan](); return err }, "unsupported type chan int"},
		{"non struct root", func() error { _, err := SchemaOf[string](); return err }, "schema root must be a struct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSchemaDefinition)
			var se *SchemaError
			require.True(t, errors.As(err, &se))
			assert.Contains(t, se.Reason, tt.reason)
		})
	}
}

func TestSchemaOf_FieldNamedInError(t *testing.T) {
	_, err := SchemaOf[WithMap]()
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "WithMap", se.Schema)
	assert.Equal(t, "labels", se.Field)
}

func TestMustSchemaOf_Panics(t *testing.T) {
	assert.Panics(t, func() { MustSchemaOf[Node]() })
	assert.NotPanics(t, func() { MustSchemaOf[Person]() })
}

func TestNewSchema(t *testing.T) {
	addr := MustSchema("Address",
		FieldSpec{Name: "city", Type: StringType},
	)
	s, err := NewSchema("Invoice",
		FieldSpec{Name: "number", Type: StringType, Instruction: "Invoice number"},
		FieldSpec{Name: "total", Type: FloatType},
		FieldSpec{Name: "paid", Type: OptionalOf(BooleanType)},
		FieldSpec{Name: "lines", Type: ListOf(IntegerType)},
		FieldSpec{Name: "billing", Type: NestedOf(addr)},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"number", "total", "paid", "lines", "billing.city"}, s.Paths())

	total, _ := s.Field("total")
	assert.Equal(t, "Extract the value for field `total`", total.Instruction)

	units := s.Units()
	require.Len(t, units, 5)
	assert.Equal(t, "billing.city", units[4].Path)
	assert.Equal(t, StringType, units[4].Type)
}

func TestNewSchema_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fields []FieldSpec
		reason string
	}{
		{"duplicate", []FieldSpec{{Name: "a", Type: StringType}, {Name: "a", Type: IntegerType}}, "duplicate field name"},
		{"empty name", []FieldSpec{{Name: "", Type: StringType}}, "empty field name"},
		{"dotted name", []FieldSpec{{Name: "a.b", Type: StringType}}, "must not contain"},
		{"list without elem", []FieldSpec{{Name: "a", Type: TypeTag{Kind: KindList}}}, "without element type"},
		{"nested without schema", []FieldSpec{{Name: "a", Type: TypeTag{Kind: KindNested}}}, "nested field without schema"},
		{"unknown kind", []FieldSpec{{Name: "a", Type: TypeTag{Kind: Kind(42)}}}, "unknown kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchema("S", tt.fields...)
			require.ErrorIs(t, err, ErrSchemaDefinition)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestTypeTag_JSONType(t *testing.T) {
	nested := MustSchema("N", FieldSpec{Name: "x", Type: StringType})
	tests := []struct {
		tag  TypeTag
		want string
	}{
		{StringType, "JSON String"},
		{IntegerType, "JSON Number"},
		{FloatType, "JSON Number"},
		{BooleanType, "JSON Boolean"},
		{OptionalOf(StringType), "JSON String or JSON Null"},
		{ListOf(IntegerType), "JSON Number(s) in a JSON Array"},
		{ListOf(OptionalOf(BooleanType)), "JSON Boolean or JSON Null(s) in a JSON Array"},
		{NestedOf(nested), "JSON Object"},
	}
	for _, tt := range tests {
		t.Run(tt.tag.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tag.JSONType())
		})
	}
}

func TestSchema_FieldsIsCopy(t *testing.T) {
	s := MustSchemaOf[Person]()
	fields := s.Fields()
	fields[0].Name = "changed"
	assert.Equal(t, "name", s.Fields()[0].Name)
}
