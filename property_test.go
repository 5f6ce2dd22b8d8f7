package secretary

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// genInstructions draws a short list of caller instructions.
func genInstructions() *rapid.Generator[[]string] {
	return rapid.SliceOfN(rapid.StringMatching(`[A-Za-z][A-Za-z0-9 ,.]{0,40}`), 0, 5)
}

// genSimple draws a value whose name survives a JSON round trip unchanged.
func genSimple() *rapid.Generator[Simple] {
	return rapid.Custom(func(t *rapid.T) Simple {
		return Simple{
			Name: rapid.StringMatching(`[A-Za-z][A-Za-z '\-]{0,30}`).Draw(t, "name"),
			Age:  rapid.IntRange(-1<<31, 1<<31-1).Draw(t, "age"),
		}
	})
}

// genFieldRaw draws a distributed response that may or may not be usable as
// an integer.
func genFieldRaw() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.Map(rapid.Int(), func(i int) string { return fmt.Sprintf("<result>%d</result>", i) }),
		rapid.Map(rapid.Int(), func(i int) string { return fmt.Sprintf(`<result>"%d"</result>`, i) }),
		rapid.StringMatching(`<result>[a-z\-]{1,12}</result>`),
		rapid.StringMatching(`[A-Za-z ]{0,20}`),
	)
}

func TestProperty_CompileDeterministic(t *testing.T) {
	s := MustSchemaOf[Person]()
	rapid.Check(t, func(t *rapid.T) {
		instr := genInstructions().Draw(t, "instructions")

		a, err := CompilePrompt(s, instr...)
		require.NoError(t, err)
		b, err := CompilePrompt(s, instr...)
		require.NoError(t, err)
		assert.Equal(t, a, b)

		for _, i := range instr {
			assert.Contains(t, a, "- "+i+"\n")
		}

		fa, err := CompileFieldPrompts(s, instr...)
		require.NoError(t, err)
		fb, err := CompileFieldPrompts(s, instr...)
		require.NoError(t, err)
		assert.Equal(t, fa, fb)
	})
}

func TestProperty_ParseObjectRoundTrip(t *testing.T) {
	s := MustSchemaOf[Simple]()
	rapid.Check(t, func(t *rapid.T) {
		want := genSimple().Draw(t, "value")
		b, err := json.Marshal(want)
		require.NoError(t, err)

		got, err := ParseObject[Simple](s, string(b))
		require.NoError(t, err)
		assert.Equal(t, want, *got)

		fenced := "```json\n" + string(b) + "\n```"
		got, err = ParseObject[Simple](s, fenced)
		require.NoError(t, err)
		assert.Equal(t, want, *got)
	})
}

func TestProperty_ForceTakesLastObject(t *testing.T) {
	s := MustSchemaOf[Simple]()
	rapid.Check(t, func(t *rapid.T) {
		drafts := rapid.SliceOfN(genSimple(), 0, 3).Draw(t, "drafts")
		final := genSimple().Draw(t, "final")
		prose := rapid.StringMatching(`[A-Za-z .,:]{0,40}`)

		var sb strings.Builder
		for i, d := range drafts {
			b, _ := json.Marshal(d)
			sb.WriteString(prose.Draw(t, fmt.Sprintf("prose%d", i)))
			sb.Write(b)
		}
		b, _ := json.Marshal(final)
		sb.WriteString(prose.Draw(t, "before"))
		sb.Write(b)
		sb.WriteString(prose.Draw(t, "after"))

		got, err := ExtractObject[Simple](s, sb.String())
		require.NoError(t, err)
		assert.Equal(t, final, *got)
	})
}

func TestProperty_MergePartition(t *testing.T) {
	s := MustSchemaOf[Simple]()
	rapid.Check(t, func(t *rapid.T) {
		var responses []FieldResponse
		if rapid.Bool().Draw(t, "has_name") {
			responses = append(responses, FieldResponse{Path: "name", Raw: rapid.StringMatching(`<result>[A-Za-z]{1,10}</result>`).Draw(t, "name")})
		}
		if rapid.Bool().Draw(t, "has_age") {
			responses = append(responses, FieldResponse{Path: "age", Raw: genFieldRaw().Draw(t, "age")})
		}
		if rapid.Bool().Draw(t, "reverse") && len(responses) == 2 {
			responses[0], responses[1] = responses[1], responses[0]
		}

		got, err := MergeFields[Simple](s, responses)
		if err == nil {
			require.NotNil(t, got)
			return
		}
		fe, ok := err.(*FieldDeserializationError)
		require.True(t, ok, "unexpected error type %T", err)

		seen := map[string]bool{}
		for _, p := range fe.FailedFields() {
			seen[p] = true
		}
		for _, p := range fe.SuccessfulFields() {
			assert.False(t, seen[p], "%s both failed and successful", p)
			seen[p] = true
		}
		assert.Len(t, seen, len(s.Paths()))
	})
}

func TestProperty_IntegerCoercion(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		i := rapid.Int64().Draw(t, "i")
		s := strconv.FormatInt(i, 10)

		for _, v := range []any{json.Number(s), s, " " + s + " "} {
			got, err := coerce(v, IntegerType)
			require.NoError(t, err)
			assert.Equal(t, i, got)
		}

		str, err := coerce(json.Number(s), StringType)
		require.NoError(t, err)
		assert.Equal(t, s, str)
	})
}

func TestProperty_ObjectSpansBalanced(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringMatching(`[a-z{}" :,\\]{0,60}`).Draw(t, "text")
		for span := range ObjectSpans(text) {
			require.True(t, strings.HasPrefix(span, "{"))
			require.True(t, strings.HasSuffix(span, "}"))
			require.Contains(t, text, span)
		}
	})
}

func TestProperty_CleanThinkingRemovesBlocks(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		before := rapid.StringMatching(`[a-z ]{0,20}`).Draw(t, "before")
		thought := rapid.StringMatching(`[a-z {}]{0,20}`).Draw(t, "thought")
		after := rapid.StringMatching(`[a-z ]{0,20}`).Draw(t, "after")

		got := CleanThinking(before + "<think>" + thought + "</think>" + after)
		assert.Equal(t, strings.TrimSpace(before+after), got)
	})
}
