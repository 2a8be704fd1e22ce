// Package toolcall extracts <tool_call> blocks from generated text, either
// incrementally from a fragment stream or all at once from finished output.
package toolcall

import "fmt"

const (
	OpenMarker  = "<tool_call>"
	CloseMarker = "</tool_call>"
)

// Arguments is either Parsed (compacted JSON text) or Raw (the verbatim
// text between the markers when it was not a valid call object).
type Arguments interface {
	// Text is what goes on the wire as function.arguments.
	Text() string
	isArguments()
}

type Parsed struct{ JSON string }

type Raw struct{ Payload string }

func (p Parsed) Text() string { return p.JSON }
func (r Raw) Text() string    { return r.Payload }

func (Parsed) isArguments() {}
func (Raw) isArguments()    {}

// Call is one extracted tool call. Name is empty when the payload could
// not be parsed. Incomplete marks a call whose closing marker never
// arrived.
type Call struct {
	ID         string
	Index      int
	Name       string
	Args       Arguments
	Incomplete bool
}

// ParseError reports a payload that is not a {"name": ..., "arguments": ...}
// object. It is informational: the call is still emitted with Raw
// arguments.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("toolcall: unparseable payload (%s): %q", e.Reason, e.Raw)
}

type EventKind int

const (
	EventContent EventKind = iota
	EventToolCall
)

func (k EventKind) String() string {
	switch k {
	case EventContent:
		return "content"
	case EventToolCall:
		return "tool_call"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one output of the extractor: a content delta or a whole call.
type Event struct {
	Kind EventKind
	Text string
	Call Call
	// Err is the ParseError for calls with Raw arguments.
	Err error
}
