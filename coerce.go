package secretary

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// coerce normalizes a decoded JSON value to the representation of t:
// string, int64, float64, bool, nil, []any or map[string]any.
func coerce(v any, t TypeTag) (any, error) {
	switch t.Kind {
	case KindString:
		return coerceString(v)
	case KindInteger:
		return coerceInteger(v)
	case KindFloat:
		return coerceFloat(v)
	case KindBoolean:
		return coerceBoolean(v)
	case KindOptional:
		if v == nil {
			return nil, nil
		}
		return coerce(v, *t.Elem)
	case KindList:
		items, ok := v.([]any)
		if !ok {
			return nil, mismatch(t.JSONType(), v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			c, err := coerce(item, *t.Elem)
			if err != nil {
				return nil, &fieldError{path: fmt.Sprintf("[%d]", i), err: err}
			}
			out[i] = c
		}
		return out, nil
	case KindNested:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, mismatch("JSON Object", v)
		}
		return coerceObject(obj, t.Schema)
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrTypeMismatch, t.Kind)
	}
}

func coerceObject(obj map[string]any, s *Schema) (map[string]any, error) {
	out := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		raw, present := obj[f.Name]
		if !present {
			if f.Type.Kind == KindOptional {
				out[f.Name] = nil
				continue
			}
			return nil, &fieldError{path: f.Name, err: ErrMissingField}
		}
		c, err := coerce(raw, f.Type)
		if err != nil {
			return nil, &fieldError{path: f.Name, err: err}
		}
		out[f.Name] = c
	}
	return out, nil
}

func coerceString(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	return nil, mismatch("JSON String", v)
}

func coerceInteger(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, mismatch("JSON Number", v)
		}
		return integral(f, v)
	case float64:
		return integral(x, v)
	case string:
		s := strings.TrimSpace(x)
		if !isNumeric(s) {
			return nil, mismatch("JSON Number", v)
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, mismatch("JSON Number", v)
		}
		return integral(f, v)
	}
	return nil, mismatch("JSON Number", v)
}

// integral accepts floats without a fractional part, e.g. 29.0.
func integral(f float64, orig any) (any, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("%w: want integer, got %v", ErrTypeMismatch, orig)
	}
	return int64(f), nil
}

func coerceFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, mismatch("JSON Number", v)
		}
		return f, nil
	case string:
		s := strings.TrimSpace(x)
		if !isNumeric(s) {
			return nil, mismatch("JSON Number", v)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, mismatch("JSON Number", v)
		}
		return f, nil
	}
	return nil, mismatch("JSON Number", v)
}

func coerceBoolean(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return nil, mismatch("JSON Boolean", v)
}

// isNumeric rejects what strconv would accept but JSON would not (NaN, Inf,
// hex, underscores).
func isNumeric(s string) bool {
	return s != "" && numberPattern.FindString(s) == s
}

// checkGoType verifies that a coerced value decodes into the Go field it came
// from. This catches overflow of small integer types and malformed times.
func checkGoType(v any, goType reflect.Type) error {
	if goType == nil || v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, reflect.New(goType).Interface()); err != nil {
		return fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	return nil
}

// lookupPath finds a dotted path in a decoded object. A flat key spelled
// with the full path is accepted as well.
func lookupPath(obj map[string]any, path string) (any, bool, error) {
	if v, ok := obj[path]; ok {
		return v, true, nil
	}
	head, rest, nested := strings.Cut(path, ".")
	v, ok := obj[head]
	if !ok {
		return nil, false, nil
	}
	if !nested {
		return v, true, nil
	}
	if v == nil {
		return nil, false, nil
	}
	inner, ok := v.(map[string]any)
	if !ok {
		return nil, false, &fieldError{path: head, err: mismatch("JSON Object", v)}
	}
	return lookupPath(inner, rest)
}

// rawFragment renders a decoded value back to text for failure reports.
func rawFragment(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
