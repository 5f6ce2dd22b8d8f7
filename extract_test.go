package secretary

import (
	"encoding/json"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeJSONResponse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced with language", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced without language", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding space", "  \n{\"a\":1}\n ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(SanitizeJSONResponse([]byte(tt.input))))
		})
	}
}

func TestCleanThinking(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no block", "answer", "answer"},
		{"one block", "<think>hmm {\"x\":1}</think>\n{\"a\":1}", `{"a":1}`},
		{"two blocks", "<think>a</think>x<think>b</think>y", "xy"},
		{"unterminated", "keep <think>never ends", "keep"},
		{"close without open", "leaked reasoning</think>{\"a\":1}", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanThinking(tt.input))
		})
	}
}

func TestLastTagContent(t *testing.T) {
	got, ok := LastTagContent("<result>1</result> then <result>2</result>", "result")
	assert.True(t, ok)
	assert.Equal(t, "2", got)

	_, ok = LastTagContent("no tags", "result")
	assert.False(t, ok)

	_, ok = LastTagContent("only close</result>", "result")
	assert.False(t, ok)
}

func TestObjectSpans(t *testing.T) {
	text := `before {"a":{"b":1}} middle {"s":"brace } in string"} {broken after`
	spans := slices.Collect(ObjectSpans(text))
	assert.Equal(t, []string{`{"a":{"b":1}}`, `{"s":"brace } in string"}`}, spans)
}

func TestObjectSpans_UnclosedSkipped(t *testing.T) {
	spans := slices.Collect(ObjectSpans(`{ "x": {"y":2}`))
	assert.Equal(t, []string{`{"y":2}`}, spans)
}

func TestObjectSpans_NestedInsideUnclosed(t *testing.T) {
	spans := slices.Collect(ObjectSpans(`{"a":{"b":{"x":1}} {"c":2} trailing`))
	assert.Equal(t, []string{`{"b":{"x":1}}`, `{"c":2}`}, spans)
}

func TestObjectSpans_ManyUnclosedBraces(t *testing.T) {
	text := strings.Repeat("{", 200_000) + `{"a":1}`
	done := make(chan []string, 1)
	go func() { done <- slices.Collect(ObjectSpans(text)) }()
	select {
	case spans := <-done:
		assert.Equal(t, []string{`{"a":1}`}, spans)
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not finish in linear time")
	}
}

func TestObjectSpans_EarlyStop(t *testing.T) {
	var seen []string
	for span := range ObjectSpans(`{"a":1}{"b":2}{"c":3}`) {
		seen = append(seen, span)
		if len(seen) == 2 {
			break
		}
	}
	assert.Len(t, seen, 2)
}

func TestLastObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"none", "no braces here", "", false},
		{"last valid wins", `draft {"a":1} final {"a":2}`, `{"a":2}`, true},
		{"trailing invalid skipped", `{"a":1} and then {not json}`, `{"a":1}`, true},
		{"only invalid", `{not json}`, `{not json}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LastObject(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirstFragment(t *testing.T) {
	tests := []struct {
		name string
		text string
		tag  TypeTag
		want string
		ok   bool
	}{
		{"integer in prose", "She is 29 years old", IntegerType, "29", true},
		{"negative float", "delta was -3.5e2 units", FloatType, "-3.5e2", true},
		{"boolean", "The answer is True.", BooleanType, "true", true},
		{"array", `values: ["a", "b"] done`, ListOf(StringType), `["a", "b"]`, true},
		{"object", `here {"city":"Berlin"} ok`, NestedOf(MustSchemaOf[Address]()), `{"city":"Berlin"}`, true},
		{"optional delegates", "about 7", OptionalOf(IntegerType), "7", true},
		{"no number", "forty-two", IntegerType, "", false},
		{"leading dot", "<b>.5</b>", FloatType, "0.5", true},
		{"negative leading dot", "change of -.25", FloatType, "-0.25", true},
		{"currency with separators", "The price is $1,250.00", FloatType, "1250.00", true},
		{"thousands separator", "1,250", IntegerType, "1250", true},
		{"millions", "about 12,345,678 people", IntegerType, "12345678", true},
		{"plain large number", "12345 units", IntegerType, "12345", true},
		{"ambiguous comma", "12,5 kg", FloatType, "", false},
		{"broken grouping", "1,2345", IntegerType, "", false},
		{"version string", "release 1.2.3", FloatType, "", false},
		{"string has no fragment", "anything", StringType, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := firstFragment(tt.text, tt.tag)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeJSON_RejectsTrailingData(t *testing.T) {
	_, err := decodeJSON(`{"a":1} {"b":2}`)
	assert.Error(t, err)

	v, err := decodeJSON(`{"n": 12345678901234567}`)
	assert.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567"), v.(map[string]any)["n"])
}
