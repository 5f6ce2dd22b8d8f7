package secretary

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrSchemaDefinition marks a schema that cannot be registered.
	ErrSchemaDefinition = errors.New("schema definition error")
	// ErrTransport marks a failure reported by the LLM provider.
	ErrTransport = errors.New("transport error")
	// ErrParse marks a response that is not a structured value at all.
	ErrParse = errors.New("response is not a structured value")
	// ErrFieldDeserialization marks a response where some fields failed.
	ErrFieldDeserialization = errors.New("field deserialization error")
	// ErrNoPayload is returned in force mode when the text holds no JSON object.
	ErrNoPayload = errors.New("no structured payload found")

	ErrTaskNotInitialized = errors.New("task is not initialized")
	ErrEmptyDocument      = errors.New("document text is empty")
	ErrTypeMismatch       = errors.New("value does not match declared type")
	ErrMissingField       = errors.New("field missing from response")
	ErrEmptyResponse      = errors.New("no response is retrieved from the LLM")
)

// SchemaError is raised while building a schema descriptor.
type SchemaError struct {
	Schema string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema %s: %s", e.Schema, e.Reason)
	}
	return fmt.Sprintf("schema %s: field %q: %s", e.Schema, e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchemaDefinition }

// TransportError wraps a provider failure. Field is empty for whole-schema calls.
type TransportError struct {
	Field string
	Err   error
}

func (e *TransportError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Field, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// ParseError reports raw text that could not be read as a JSON object.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return ErrParse.Error()
	}
	return fmt.Sprintf("%s: %v", ErrParse, e.Err)
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrParse}
	}
	return []error{ErrParse, e.Err}
}

// NoPayloadError is the force-mode failure when no balanced object exists.
type NoPayloadError struct {
	Raw string
}

func (e *NoPayloadError) Error() string { return ErrNoPayload.Error() }

func (e *NoPayloadError) Unwrap() error { return ErrNoPayload }

// FieldFailure is the raw fragment of one field and the reason it was rejected.
type FieldFailure struct {
	Raw string
	Err error
}

// FieldDeserializationError is a partial result. Failed and Successful
// partition the schema's field paths.
type FieldDeserializationError struct {
	Failed     map[string]FieldFailure
	Successful map[string]any
	// Err is the first failure in field order, kept for diagnostics.
	Err error
}

func (e *FieldDeserializationError) Error() string {
	names := e.FailedFields()
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", n, e.Failed[n].Err))
	}
	return fmt.Sprintf("%s: %d of %d fields failed (%s)",
		ErrFieldDeserialization, len(e.Failed), len(e.Failed)+len(e.Successful), strings.Join(parts, "; "))
}

func (e *FieldDeserializationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFieldDeserialization}
	}
	return []error{ErrFieldDeserialization, e.Err}
}

// FailedFields returns the failed field paths sorted.
func (e *FieldDeserializationError) FailedFields() []string {
	return sortedKeys(e.Failed)
}

// SuccessfulFields returns the successful field paths sorted.
func (e *FieldDeserializationError) SuccessfulFields() []string {
	return sortedKeys(e.Successful)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fieldError attaches a path to a coercion failure.
type fieldError struct {
	path string
	err  error
}

func (e *fieldError) Error() string { return e.path + ": " + e.err.Error() }

func (e *fieldError) Unwrap() error { return e.err }

func mismatch(want string, got any) error {
	return fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, want, describe(got))
}

func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		if len(x) > 40 {
			x = x[:40] + "..."
		}
		return fmt.Sprintf("string %q", x)
	case json.Number, float64, int64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
