package secretary

import (
	"fmt"
	"reflect"
	"strings"
)

// taskTag carries the natural-language extraction instruction of a field.
const taskTag = "task"

// tagParts holds what the struct tags say about one field.
type tagParts struct {
	name        string // json name, falls back to the Go name
	instruction string // empty → default instruction
	named       bool   // json tag carried an explicit name
	skip        bool   // json:"-"
}

// parseFieldTags reads `json:"<name>,..."` and `task:"<instruction>"`.
// The task tag also accepts the explicit form `task:"instruction=<text>"`.
func parseFieldTags(f reflect.StructField) (tp tagParts) {
	jsonTag := f.Tag.Get("json")
	name := strings.Split(jsonTag, ",")[0]
	if name == "-" && !strings.HasPrefix(jsonTag, "-,") {
		tp.skip = true
		return
	}
	tp.named = name != ""
	if name == "" {
		name = f.Name
	}
	tp.name = name

	instr := strings.TrimSpace(f.Tag.Get(taskTag))
	instr = strings.TrimPrefix(instr, "instruction=")
	tp.instruction = strings.TrimSpace(instr)
	return
}

// defaultInstruction is derived from the field name only.
func defaultInstruction(name string) string {
	return fmt.Sprintf("Extract the value for field `%s`", name)
}
