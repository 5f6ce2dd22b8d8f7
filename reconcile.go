package secretary

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// FieldResponse is the raw outcome of one distributed call.
type FieldResponse struct {
	Path string
	Raw  string
	Err  error // transport failure, cancellation or timeout
}

// outcome is the reconciled state of one unit. The slice of outcomes is
// indexed like Schema.units so results never depend on arrival order.
type outcome struct {
	value any
	raw   string
	err   error
}

// reconciler turns raw model text into values for one schema.
type reconciler struct {
	schema   *Schema
	fallback bool
	log      *slog.Logger
}

func newReconciler(s *Schema, fallback bool, log *slog.Logger) *reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &reconciler{schema: s, fallback: fallback, log: log}
}

// parseObject is whole-object mode.
func (r *reconciler) parseObject(raw string) ([]outcome, error) {
	text := string(SanitizeJSONResponse([]byte(raw)))
	v, err := decodeJSON(text)
	if err != nil {
		r.log.Debug("Response is not valid JSON, attempting repair", "error", err)
		repaired, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return nil, &ParseError{Raw: raw, Err: err}
		}
		if v, err = decodeJSON(repaired); err != nil {
			return nil, &ParseError{Raw: raw, Err: err}
		}
		r.log.Debug("Repaired JSON response", "original_length", len(text), "repaired_length", len(repaired))
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ParseError{Raw: raw, Err: mismatch("JSON Object", v)}
	}

	outcomes := make([]outcome, len(r.schema.units))
	for i, u := range r.schema.units {
		val, present, lookupErr := lookupPath(obj, u.Path)
		if lookupErr != nil {
			outcomes[i] = outcome{err: lookupErr}
			continue
		}
		outcomes[i] = r.coerceUnit(u, val, present)
	}
	if !r.fallback {
		for i, o := range outcomes {
			if o.err != nil {
				return nil, &ParseError{Raw: raw, Err: &fieldError{path: r.schema.units[i].Path, err: o.err}}
			}
		}
	}
	return outcomes, nil
}

func (r *reconciler) coerceUnit(u Unit, val any, present bool) outcome {
	if !present {
		if u.Type.Kind == KindOptional {
			return outcome{value: nil}
		}
		return outcome{err: ErrMissingField}
	}
	raw := rawFragment(val)
	c, err := coerce(val, u.Type)
	if err == nil {
		err = checkGoType(c, u.goType)
	}
	if err != nil {
		return outcome{raw: raw, err: err}
	}
	return outcome{value: c, raw: raw}
}

// mergeFields is distributed mode. Responses may arrive in any order; each
// is matched to its unit by path.
func (r *reconciler) mergeFields(responses []FieldResponse) []outcome {
	index := make(map[string]int, len(r.schema.units))
	for i, u := range r.schema.units {
		index[u.Path] = i
	}
	outcomes := make([]outcome, len(r.schema.units))
	seen := make([]bool, len(r.schema.units))
	for _, resp := range responses {
		i, ok := index[resp.Path]
		if !ok {
			r.log.Debug("Ignoring response for unknown field", "path", resp.Path)
			continue
		}
		seen[i] = true
		if resp.Err != nil {
			outcomes[i] = outcome{raw: resp.Raw, err: resp.Err}
			continue
		}
		outcomes[i] = r.parseField(r.schema.units[i], resp.Raw)
	}
	for i, ok := range seen {
		if !ok {
			outcomes[i] = outcome{err: ErrMissingField}
		}
	}
	return outcomes
}

// parseField reads one unit's value out of a single-field response.
func (r *reconciler) parseField(u Unit, raw string) outcome {
	text := CleanThinking(raw)
	if inner, ok := LastTagContent(text, "result"); ok {
		text = inner
	}
	text = strings.TrimSpace(string(SanitizeJSONResponse([]byte(text))))

	if u.Type.Kind == KindOptional && (text == "" || strings.EqualFold(text, "null")) {
		return outcome{value: nil, raw: raw}
	}

	v, err := decodeJSON(text)
	if err != nil {
		if frag, ok := firstFragment(text, u.Type); ok {
			v, err = decodeJSON(frag)
		}
	}
	if err != nil {
		if !isStringLike(u.Type) {
			// let coercion report the mismatch against the raw text
			v = text
		} else {
			v = strings.Trim(text, `"`)
		}
	}
	o := r.coerceUnit(u, v, true)
	o.raw = raw
	return o
}

func isStringLike(t TypeTag) bool {
	if t.Kind == KindOptional {
		return isStringLike(*t.Elem)
	}
	return t.Kind == KindString
}

// extractForced is force mode: take the last balanced object out of free
// text and parse it as a whole object.
func (r *reconciler) extractForced(raw string) ([]outcome, error) {
	span, ok := LastObject(CleanThinking(raw))
	if !ok {
		// the answer may only exist inside the reasoning block
		span, ok = LastObject(raw)
	}
	if !ok {
		return nil, &NoPayloadError{Raw: raw}
	}
	r.log.Debug("Extracted payload from free text", "span_length", len(span), "raw_length", len(raw))
	return r.parseObject(span)
}

// finish turns unit outcomes into a typed value or a partial-failure report.
func finish[T any](s *Schema, outcomes []outcome) (*T, error) {
	fe := &FieldDeserializationError{
		Failed:     map[string]FieldFailure{},
		Successful: map[string]any{},
	}
	for i, u := range s.units {
		o := outcomes[i]
		if o.err != nil {
			fe.Failed[u.Path] = FieldFailure{Raw: o.raw, Err: o.err}
			if fe.Err == nil {
				fe.Err = &fieldError{path: u.Path, err: o.err}
			}
			continue
		}
		fe.Successful[u.Path] = o.value
	}
	if len(fe.Failed) > 0 {
		return nil, fe
	}
	return assemble[T](fe.Successful)
}

// assemble nests dotted paths back into objects and decodes them into T.
func assemble[T any](values map[string]any) (*T, error) {
	root := map[string]any{}
	for path, v := range values {
		parts := strings.Split(path, ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}

	var out T
	if m, ok := any(&out).(*map[string]any); ok {
		*m = root
		return &out, nil
	}
	b, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	return &out, nil
}

// DecodePartial builds a T from the fields that did succeed. Failed fields
// keep their zero value.
func DecodePartial[T any](fe *FieldDeserializationError) (*T, error) {
	if fe == nil {
		return nil, fmt.Errorf("decode partial: nil error value")
	}
	return assemble[T](fe.Successful)
}

// ParseObject reconciles a whole-object response against s.
func ParseObject[T any](s *Schema, raw string, optFns ...func(*Options)) (*T, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	outcomes, err := newReconciler(s, opts.FieldFallback, nil).parseObject(raw)
	if err != nil {
		return nil, err
	}
	return finish[T](s, outcomes)
}

// MergeFields reconciles distributed responses against s.
func MergeFields[T any](s *Schema, responses []FieldResponse) (*T, error) {
	return finish[T](s, newReconciler(s, true, nil).mergeFields(responses))
}

// ExtractObject reconciles a force-mode response against s.
func ExtractObject[T any](s *Schema, raw string, optFns ...func(*Options)) (*T, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	outcomes, err := newReconciler(s, opts.FieldFallback, nil).extractForced(raw)
	if err != nil {
		return nil, err
	}
	return finish[T](s, outcomes)
}
