package secretary

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// Kind is the semantic type of a schema field.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindFloat
	KindBoolean
	KindOptional
	KindList
	KindNested
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindInteger:
		return "Integer"
	case KindFloat:
		return "Float"
	case KindBoolean:
		return "Boolean"
	case KindOptional:
		return "Optional"
	case KindList:
		return "List"
	case KindNested:
		return "Nested"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// TypeTag describes a field type. Elem is set for Optional and List,
// Schema for Nested.
type TypeTag struct {
	Kind   Kind
	Elem   *TypeTag
	Schema *Schema
}

var (
	StringType  = TypeTag{Kind: KindString}
	IntegerType = TypeTag{Kind: KindInteger}
	FloatType   = TypeTag{Kind: KindFloat}
	BooleanType = TypeTag{Kind: KindBoolean}
)

// OptionalOf wraps t as nullable.
func OptionalOf(t TypeTag) TypeTag { return TypeTag{Kind: KindOptional, Elem: &t} }

// ListOf returns a list of t.
func ListOf(t TypeTag) TypeTag { return TypeTag{Kind: KindList, Elem: &t} }

// NestedOf embeds another schema.
func NestedOf(s *Schema) TypeTag { return TypeTag{Kind: KindNested, Schema: s} }

// JSONType is the wording used in prompts.
func (t TypeTag) JSONType() string {
	switch t.Kind {
	case KindString:
		return "JSON String"
	case KindInteger, KindFloat:
		return "JSON Number"
	case KindBoolean:
		return "JSON Boolean"
	case KindOptional:
		return t.Elem.JSONType() + " or JSON Null"
	case KindList:
		return t.Elem.JSONType() + "(s) in a JSON Array"
	case KindNested:
		return "JSON Object"
	default:
		return "JSON Null"
	}
}

func (t TypeTag) String() string {
	switch t.Kind {
	case KindOptional, KindList:
		return fmt.Sprintf("%s<%s>", t.Kind, t.Elem)
	case KindNested:
		if t.Schema != nil {
			return fmt.Sprintf("Nested<%s>", t.Schema.Name())
		}
	}
	return t.Kind.String()
}

// FieldSpec is one declared field of a schema.
type FieldSpec struct {
	Name        string
	Type        TypeTag
	Instruction string

	goType reflect.Type // nil for dynamic schemas
}

// Unit is what the reconciler handles independently: a top-level field, or a
// leaf of a nested struct addressed by its dotted path.
type Unit struct {
	Path        string
	Type        TypeTag
	Instruction string

	goType reflect.Type
}

// Schema is an immutable, ordered description of a target shape.
type Schema struct {
	name   string
	fields []FieldSpec
	byName map[string]int
	units  []Unit
	goType reflect.Type
}

// Name of the schema, the Go type name for derived schemas.
func (s *Schema) Name() string { return s.name }

// Len is the number of declared top-level fields.
func (s *Schema) Len() int { return len(s.fields) }

// Fields returns the declared fields in order.
func (s *Schema) Fields() []FieldSpec { return append([]FieldSpec(nil), s.fields...) }

// Field looks up a top-level field by name.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	i, ok := s.byName[name]
	if !ok {
		return FieldSpec{}, false
	}
	return s.fields[i], true
}

// Units returns the reconciliation units in declaration order.
func (s *Schema) Units() []Unit { return append([]Unit(nil), s.units...) }

// Paths returns the unit paths, the set that failed and successful fields
// partition.
func (s *Schema) Paths() []string {
	paths := make([]string, len(s.units))
	for i, u := range s.units {
		paths[i] = u.Path
	}
	return paths
}

func newSchema(name string, fields []FieldSpec, goType reflect.Type) *Schema {
	s := &Schema{
		name:   name,
		fields: fields,
		byName: make(map[string]int, len(fields)),
		goType: goType,
	}
	for i, f := range fields {
		s.byName[f.Name] = i
		if f.Type.Kind == KindNested {
			for _, u := range f.Type.Schema.units {
				u.Path = f.Name + "." + u.Path
				s.units = append(s.units, u)
			}
			continue
		}
		s.units = append(s.units, Unit{Path: f.Name, Type: f.Type, Instruction: f.Instruction, goType: f.goType})
	}
	return s
}

// NewSchema builds a schema at runtime. Missing instructions get the default.
func NewSchema(name string, fields ...FieldSpec) (*Schema, error) {
	seen := make(map[string]bool, len(fields))
	out := make([]FieldSpec, 0, len(fields))
	for _, f := range fields {
		if err := checkFieldName(name, f.Name); err != nil {
			return nil, err
		}
		if seen[f.Name] {
			return nil, &SchemaError{Schema: name, Field: f.Name, Reason: "duplicate field name"}
		}
		seen[f.Name] = true
		if err := checkTypeTag(name, f.Name, f.Type); err != nil {
			return nil, err
		}
		if f.Instruction == "" {
			f.Instruction = defaultInstruction(f.Name)
		}
		f.goType = nil
		out = append(out, f)
	}
	return newSchema(name, out, nil), nil
}

// MustSchema is NewSchema that panics.
func MustSchema(name string, fields ...FieldSpec) *Schema {
	s, err := NewSchema(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func checkFieldName(schema, name string) error {
	switch {
	case name == "":
		return &SchemaError{Schema: schema, Reason: "empty field name"}
	case strings.Contains(name, "."):
		return &SchemaError{Schema: schema, Field: name, Reason: "field name must not contain '.'"}
	}
	return nil
}

func checkTypeTag(schema, field string, t TypeTag) error {
	switch t.Kind {
	case KindString, KindInteger, KindFloat, KindBoolean:
		return nil
	case KindOptional, KindList:
		if t.Elem == nil {
			return &SchemaError{Schema: schema, Field: field, Reason: t.Kind.String() + " without element type"}
		}
		return checkTypeTag(schema, field, *t.Elem)
	case KindNested:
		if t.Schema == nil {
			return &SchemaError{Schema: schema, Field: field, Reason: "nested field without schema"}
		}
		return nil
	default:
		return &SchemaError{Schema: schema, Field: field, Reason: "unknown kind " + t.Kind.String()}
	}
}

var (
	schemaCache sync.Map // reflect.Type → *Schema
	timeType    = reflect.TypeOf(time.Time{})
)

// SchemaOf derives the schema of struct type T once and caches it.
func SchemaOf[T any]() (*Schema, error) {
	return schemaFor(reflect.TypeFor[T]())
}

// MustSchemaOf is SchemaOf that panics; meant for package-level variables.
func MustSchemaOf[T any]() *Schema {
	s, err := SchemaOf[T]()
	if err != nil {
		panic(err)
	}
	return s
}

func schemaFor(rt reflect.Type) (*Schema, error) {
	if s, ok := schemaCache.Load(rt); ok {
		return s.(*Schema), nil
	}
	b := &schemaBuilder{visiting: map[reflect.Type]bool{}}
	return b.build(rt)
}

// schemaBuilder walks struct types depth-first. visiting holds the types on
// the current path so that self-reference is caught before recursing forever.
type schemaBuilder struct {
	visiting map[reflect.Type]bool
	path     []string
}

func (b *schemaBuilder) build(rt reflect.Type) (*Schema, error) {
	if rt.Kind() != reflect.Struct || rt == timeType {
		return nil, &SchemaError{Schema: rt.String(), Reason: "schema root must be a struct"}
	}
	if s, ok := schemaCache.Load(rt); ok {
		return s.(*Schema), nil
	}
	if b.visiting[rt] {
		return nil, &SchemaError{
			Schema: rt.Name(),
			Reason: "cyclic nesting: " + strings.Join(append(b.path, rt.Name()), " -> "),
		}
	}
	b.visiting[rt] = true
	b.path = append(b.path, rt.Name())
	defer func() {
		delete(b.visiting, rt)
		b.path = b.path[:len(b.path)-1]
	}()

	var fields []FieldSpec
	seen := map[string]string{}
	if err := b.collect(rt, rt, &fields, seen); err != nil {
		return nil, err
	}
	s := newSchema(rt.Name(), fields, rt)
	actual, _ := schemaCache.LoadOrStore(rt, s)
	return actual.(*Schema), nil
}

// collect appends the fields of rt, promoting embedded structs.
func (b *schemaBuilder) collect(root, rt reflect.Type, fields *[]FieldSpec, seen map[string]string) error {
	for i := range rt.NumField() {
		f := rt.Field(i)
		tp := parseFieldTags(f)
		if tp.skip {
			continue
		}
		if f.Anonymous && !tp.named && f.Type.Kind() == reflect.Struct && f.Type != timeType {
			if err := b.collect(root, f.Type, fields, seen); err != nil {
				return err
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		if err := checkFieldName(root.Name(), tp.name); err != nil {
			return err
		}
		if prev, dup := seen[tp.name]; dup {
			return &SchemaError{
				Schema: root.Name(),
				Field:  tp.name,
				Reason: fmt.Sprintf("duplicate field name (declared by %s and %s)", prev, f.Name),
			}
		}
		seen[tp.name] = f.Name

		tt, err := b.typeTag(f.Type)
		if err != nil {
			if se, ok := err.(*SchemaError); ok && se.Field == "" {
				se.Field = tp.name
				if se.Schema == "" {
					se.Schema = root.Name()
				}
			}
			return err
		}
		instr := tp.instruction
		if instr == "" {
			instr = defaultInstruction(tp.name)
		}
		*fields = append(*fields, FieldSpec{Name: tp.name, Type: tt, Instruction: instr, goType: f.Type})
	}
	return nil
}

func (b *schemaBuilder) typeTag(t reflect.Type) (TypeTag, error) {
	if t == timeType {
		return StringType, nil
	}
	switch t.Kind() {
	case reflect.String:
		return StringType, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return IntegerType, nil
	case reflect.Float32, reflect.Float64:
		return FloatType, nil
	case reflect.Bool:
		return BooleanType, nil
	case reflect.Pointer:
		elem, err := b.typeTag(t.Elem())
		if err != nil {
			return TypeTag{}, err
		}
		return OptionalOf(elem), nil
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			// []byte travels as a base64 string
			return StringType, nil
		}
		elem, err := b.typeTag(t.Elem())
		if err != nil {
			return TypeTag{}, err
		}
		return ListOf(elem), nil
	case reflect.Struct:
		s, err := b.build(t)
		if err != nil {
			return TypeTag{}, err
		}
		return NestedOf(s), nil
	default:
		return TypeTag{}, &SchemaError{Reason: "unsupported type " + t.String()}
	}
}
