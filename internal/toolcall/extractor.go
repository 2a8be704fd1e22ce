package toolcall

import (
	"iter"
	"strings"

	"github.com/google/uuid"
)

// NewCallID returns an OpenAI-style tool call id.
func NewCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Extractor is the streaming state machine. In plain state text is passed
// through as content; an opening marker starts buffering a call payload
// and the closing marker turns the buffer into a call. Markers are matched
// anywhere in the text, including across fragment boundaries: a fragment
// ending in a prefix of the marker being looked for is held back until the
// next fragment settles it. Calls do not nest: an opening marker inside a
// call is payload text.
type Extractor struct {
	newID func() string

	open  bool
	id    string
	buf   strings.Builder
	calls int

	// tail of the last fragment that may begin a marker
	pending string

	truncated bool
}

// New returns an extractor. newID defaults to NewCallID.
func New(newID func() string) *Extractor {
	if newID == nil {
		newID = NewCallID
	}
	return &Extractor{newID: newID}
}

// Push consumes one fragment and returns the events it completes, in order.
func (e *Extractor) Push(fragment string) []Event {
	var out []Event
	fragment = e.pending + fragment
	e.pending = ""
	for fragment != "" {
		if !e.open {
			i := strings.Index(fragment, OpenMarker)
			if i < 0 {
				cut := len(fragment) - markerPrefix(fragment, OpenMarker)
				if cut > 0 {
					out = append(out, Event{Kind: EventContent, Text: fragment[:cut]})
				}
				e.pending = fragment[cut:]
				break
			}
			if i > 0 {
				out = append(out, Event{Kind: EventContent, Text: fragment[:i]})
			}
			e.open = true
			e.id = e.newID()
			e.buf.Reset()
			fragment = fragment[i+len(OpenMarker):]
			continue
		}

		i := strings.Index(fragment, CloseMarker)
		if i < 0 {
			cut := len(fragment) - markerPrefix(fragment, CloseMarker)
			e.buf.WriteString(fragment[:cut])
			e.pending = fragment[cut:]
			break
		}
		e.buf.WriteString(fragment[:i])
		out = append(out, e.closeCall(false))
		fragment = fragment[i+len(CloseMarker):]
	}
	return out
}

// Finish ends the input. A call still open is emitted best-effort with
// Incomplete set, and Truncated reports true afterwards.
func (e *Extractor) Finish() []Event {
	tail := e.pending
	e.pending = ""
	if !e.open {
		if tail == "" {
			return nil
		}
		return []Event{{Kind: EventContent, Text: tail}}
	}
	e.buf.WriteString(tail)
	e.truncated = true
	return []Event{e.closeCall(true)}
}

// markerPrefix returns the length of the longest suffix of s that is a
// proper prefix of marker.
func markerPrefix(s, marker string) int {
	for n := min(len(s), len(marker)-1); n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}

func (e *Extractor) closeCall(incomplete bool) Event {
	call, err := Parse(e.id, e.buf.String())
	call.Index = e.calls
	call.Incomplete = incomplete
	e.calls++
	e.open = false
	e.id = ""
	e.buf.Reset()
	return Event{Kind: EventToolCall, Call: call, Err: err}
}

// Calls reports how many calls have been emitted.
func (e *Extractor) Calls() int { return e.calls }

// InCall reports whether a call payload is being buffered.
func (e *Extractor) InCall() bool { return e.open }

// Truncated reports whether Finish had to close an open call.
func (e *Extractor) Truncated() bool { return e.truncated }

// Events runs fragments through e. An error from fragments is passed on
// and ends the sequence without calling Finish, so a partial call is not
// reported as if the output had ended normally.
func (e *Extractor) Events(fragments iter.Seq2[string, error]) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for frag, err := range fragments {
			if err != nil {
				yield(Event{}, err)
				return
			}
			for _, ev := range e.Push(frag) {
				if !yield(ev, nil) {
					return
				}
			}
		}
		for _, ev := range e.Finish() {
			if !yield(ev, nil) {
				return
			}
		}
	}
}
