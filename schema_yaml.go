package secretary

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaDocument is the YAML form of a set of named schemas.
//
//	root: Invoice
//	schemas:
//	  Invoice:
//	    fields:
//	      - name: number
//	        type: string
//	        instruction: The invoice number
//	      - name: lines
//	        type: list<LineItem>
//	  LineItem:
//	    fields:
//	      - {name: sku, type: string}
//	      - {name: qty, type: integer}
//
// Types are string, integer, float, boolean, optional<T>, list<T> or the name
// of another schema in the document.
type SchemaDocument struct {
	Root    string                      `yaml:"root"`
	Schemas map[string]SchemaDefinition `yaml:"schemas"`
}

// SchemaDefinition lists the fields of one named schema in order.
type SchemaDefinition struct {
	Fields []FieldDefinition `yaml:"fields"`
}

// FieldDefinition is one field in a YAML schema.
type FieldDefinition struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Instruction string `yaml:"instruction,omitempty"`
}

// ParseSchemaDocument decodes a SchemaDocument without resolving it.
func ParseSchemaDocument(data []byte) (*SchemaDocument, error) {
	var doc SchemaDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema yaml: %w", err)
	}
	return &doc, nil
}

// ParseSchemaYAML decodes a SchemaDocument and resolves its root schema.
func ParseSchemaYAML(data []byte) (*Schema, error) {
	doc, err := ParseSchemaDocument(data)
	if err != nil {
		return nil, err
	}
	return doc.Resolve(doc.Root)
}

// Resolve builds the named schema and everything it references. An empty
// name selects the only schema of a single-schema document.
func (d *SchemaDocument) Resolve(name string) (*Schema, error) {
	if name == "" {
		if len(d.Schemas) != 1 {
			return nil, &SchemaError{Schema: "<root>", Reason: "root is required when the document holds several schemas"}
		}
		for n := range d.Schemas {
			name = n
		}
	}
	r := &yamlResolver{doc: d, done: map[string]*Schema{}, visiting: map[string]bool{}}
	return r.resolve(name)
}

type yamlResolver struct {
	doc      *SchemaDocument
	done     map[string]*Schema
	visiting map[string]bool
	path     []string
}

func (r *yamlResolver) resolve(name string) (*Schema, error) {
	if s, ok := r.done[name]; ok {
		return s, nil
	}
	def, ok := r.doc.Schemas[name]
	if !ok {
		return nil, &SchemaError{Schema: name, Reason: fmt.Sprintf("schema %q is not defined", name)}
	}
	if r.visiting[name] {
		return nil, &SchemaError{Schema: name, Reason: "cyclic nesting: " + strings.Join(append(r.path, name), " -> ")}
	}
	r.visiting[name] = true
	r.path = append(r.path, name)
	defer func() {
		delete(r.visiting, name)
		r.path = r.path[:len(r.path)-1]
	}()

	fields := make([]FieldSpec, 0, len(def.Fields))
	for _, fd := range def.Fields {
		tt, err := r.parseType(strings.TrimSpace(fd.Type))
		if err != nil {
			if se, ok := err.(*SchemaError); ok && se.Field == "" {
				se.Field = fd.Name
				se.Schema = name
			}
			return nil, err
		}
		fields = append(fields, FieldSpec{Name: fd.Name, Type: tt, Instruction: fd.Instruction})
	}
	s, err := NewSchema(name, fields...)
	if err != nil {
		return nil, err
	}
	r.done[name] = s
	return s, nil
}

func (r *yamlResolver) parseType(expr string) (TypeTag, error) {
	lower := strings.ToLower(expr)
	switch lower {
	case "string", "text", "time":
		return StringType, nil
	case "integer", "int":
		return IntegerType, nil
	case "float", "number":
		return FloatType, nil
	case "boolean", "bool":
		return BooleanType, nil
	case "":
		return TypeTag{}, &SchemaError{Reason: "missing type"}
	}
	for prefix, wrap := range map[string]func(TypeTag) TypeTag{"optional<": OptionalOf, "list<": ListOf} {
		if strings.HasPrefix(lower, prefix) && strings.HasSuffix(lower, ">") {
			inner, err := r.parseType(expr[len(prefix) : len(expr)-1])
			if err != nil {
				return TypeTag{}, err
			}
			return wrap(inner), nil
		}
	}
	s, err := r.resolve(expr)
	if err != nil {
		return TypeTag{}, err
	}
	return NestedOf(s), nil
}
