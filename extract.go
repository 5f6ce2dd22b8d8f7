package secretary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"slices"
	"strings"
)

// SanitizeJSONResponse strips the code fences LLMs like to wrap JSON in.
func SanitizeJSONResponse(b []byte) []byte {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, "```") {
		// drop the opening fence line, language tag included
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	out := strings.TrimSpace(s)
	slog.Debug("Sanitized response", "input_length", len(b), "output_length", len(out))
	return []byte(out)
}

// CleanThinking removes <think>...</think> blocks emitted by reasoning
// models. An unterminated block swallows the rest of the text; a closing tag
// without an opening one drops everything before it.
func CleanThinking(s string) string {
	const openTag, closeTag = "<think>", "</think>"
	if c := strings.Index(s, closeTag); c >= 0 {
		if o := strings.Index(s, openTag); o < 0 || o > c {
			s = s[c+len(closeTag):]
		}
	}
	if !strings.Contains(s, openTag) {
		return strings.TrimSpace(s)
	}
	var sb strings.Builder
	for {
		i := strings.Index(s, openTag)
		if i < 0 {
			sb.WriteString(s)
			break
		}
		sb.WriteString(s[:i])
		rest := s[i+len(openTag):]
		j := strings.Index(rest, closeTag)
		if j < 0 {
			break
		}
		s = rest[j+len(closeTag):]
	}
	return strings.TrimSpace(sb.String())
}

// LastTagContent returns the content of the last <tag>...</tag> pair.
func LastTagContent(s, tag string) (string, bool) {
	openTag, closeTag := "<"+tag+">", "</"+tag+">"
	end := strings.LastIndex(s, closeTag)
	if end < 0 {
		return "", false
	}
	start := strings.LastIndex(s[:end], openTag)
	if start < 0 {
		return "", false
	}
	return s[start+len(openTag) : end], true
}

// ObjectSpans lazily yields every outermost balanced {...} span of s from
// left to right in a single pass. Braces inside JSON strings are ignored.
// An opening brace that never closes is dropped; the balanced spans nested
// inside it are still reported, once the end of s proves it unclosed.
func ObjectSpans(s string) iter.Seq[string] {
	return func(yield func(string) bool) {
		var (
			open     []int    // positions of unclosed braces
			nested   [][2]int // closed spans still inside an open brace
			inString bool
			escaped  bool
		)
		for j := 0; j < len(s); j++ {
			c := s[j]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				// strings only count inside an object
				inString = len(open) > 0
			case '{':
				open = append(open, j)
			case '}':
				if len(open) == 0 {
					continue
				}
				start := open[len(open)-1]
				open = open[:len(open)-1]
				if len(open) > 0 {
					nested = append(nested, [2]int{start, j})
					continue
				}
				nested = nested[:0]
				if !yield(s[start : j+1]) {
					return
				}
			}
		}
		// nested closes inner spans before their containers; keep the
		// outermost ones in order of their opening brace
		slices.SortFunc(nested, func(a, b [2]int) int { return a[0] - b[0] })
		lastEnd := -1
		for _, span := range nested {
			if span[0] < lastEnd {
				continue
			}
			lastEnd = span[1]
			if !yield(s[span[0] : span[1]+1]) {
				return
			}
		}
	}
}

// LastObject picks the answer out of free text: the last balanced span that
// decodes as a JSON object, or the last balanced span at all when none does.
func LastObject(s string) (string, bool) {
	var last, lastValid string
	found := false
	for span := range ObjectSpans(s) {
		found = true
		last = span
		if json.Valid([]byte(span)) {
			lastValid = span
		}
	}
	if lastValid != "" {
		return lastValid, true
	}
	return last, found
}

// arraySpan returns the first balanced [...] span of s.
func arraySpan(s string) (string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '[' {
			continue
		}
		depth := 0
		inString, escaped := false, false
		for j := i; j < len(s); j++ {
			c := s[j]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '[':
				depth++
			case ']':
				depth--
			}
			if depth == 0 {
				if json.Valid([]byte(s[i : j+1])) {
					return s[i : j+1], true
				}
				break
			}
		}
	}
	return "", false
}

var (
	numberPattern = regexp.MustCompile(`-?(?:(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?|\.\d+)(?:[eE][+-]?\d+)?`)
	boolPattern   = regexp.MustCompile(`(?i)\b(true|false)\b`)
)

// firstFragment finds the first well-formed JSON fragment of the shape t
// inside prose.
func firstFragment(text string, t TypeTag) (string, bool) {
	switch t.Kind {
	case KindInteger, KindFloat:
		return numberFragment(text)
	case KindBoolean:
		if m := boolPattern.FindString(text); m != "" {
			return strings.ToLower(m), true
		}
	case KindList:
		return arraySpan(text)
	case KindNested:
		for span := range ObjectSpans(text) {
			if json.Valid([]byte(span)) {
				return span, true
			}
		}
	case KindOptional:
		return firstFragment(text, *t.Elem)
	}
	return "", false
}

// numberFragment returns the first number in prose as JSON number text.
// Thousands separators are dropped and a bare leading dot gains a zero. A
// number that runs on into more digits, dots or commas ("1.2.3", "12,5") is
// ambiguous and yields nothing.
func numberFragment(text string) (string, bool) {
	loc := numberPattern.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	start, end := loc[0], loc[1]
	if start > 0 && (isDigit(text[start-1]) || text[start-1] == '.') {
		return "", false
	}
	if end < len(text) {
		next := text[end]
		if isDigit(next) || ((next == '.' || next == ',') && end+1 < len(text) && isDigit(text[end+1])) {
			return "", false
		}
	}
	m := strings.ReplaceAll(text[start:end], ",", "")
	switch {
	case strings.HasPrefix(m, "-."):
		m = "-0" + m[1:]
	case strings.HasPrefix(m, "."):
		m = "0" + m
	}
	return m, true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// decodeJSON decodes with json.Number so integers keep their precision.
func decodeJSON(raw string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON value at offset %d", dec.InputOffset())
	}
	return v, nil
}
