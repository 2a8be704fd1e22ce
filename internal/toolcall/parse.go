package toolcall

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Parse decodes a payload of the form {"name": "...", "arguments": {...}}.
// Arguments are compacted JSON of whatever value the payload holds, so a
// string stays a quoted string literal; a missing one becomes "{}".
// Anything else yields a call with an empty name, Raw arguments holding
// payload verbatim, and a *ParseError.
func Parse(id, payload string) (Call, error) {
	call := Call{ID: id}
	fail := func(reason string) (Call, error) {
		call.Name = ""
		call.Args = Raw{Payload: payload}
		return call, &ParseError{Raw: payload, Reason: reason}
	}

	trimmed := strings.TrimSpace(payload)
	if !gjson.Valid(trimmed) {
		return fail("invalid json")
	}
	root := gjson.Parse(trimmed)
	if !root.IsObject() {
		return fail("not an object")
	}
	name := root.Get("name")
	if name.Type != gjson.String || name.String() == "" {
		return fail("missing name")
	}
	call.Name = name.String()

	args := root.Get("arguments")
	if !args.Exists() || args.Type == gjson.Null {
		call.Args = Parsed{JSON: "{}"}
		return call, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(args.Raw)); err != nil {
		return fail("arguments: " + err.Error())
	}
	call.Args = Parsed{JSON: buf.String()}
	return call, nil
}
