package toolcall

import (
	"slices"
	"strconv"
	"strings"
)

// Result is finished output split into plain text and calls.
type Result struct {
	// Segments holds the text outside the markers: the part before the
	// first opening marker, then whatever follows each closing marker.
	Segments []string
	Calls    []Call
	// Errs holds the parse error for each call, nil when it parsed.
	Errs []error
}

// Content joins the segments. It equals the concatenated content events
// an Extractor emits for the same text.
func (r Result) Content() string {
	return strings.Join(r.Segments, "")
}

// Truncated reports whether any call lacks its closing marker.
func (r Result) Truncated() bool {
	return slices.ContainsFunc(r.Calls, func(c Call) bool { return c.Incomplete })
}

// Split extracts every call from text. Calls are numbered from zero and
// their ids are the decimal index. As with Extractor, an opening marker
// inside a call is payload text.
func Split(text string) Result {
	var res Result
	for i := 0; ; i++ {
		before, after, found := strings.Cut(text, OpenMarker)
		if before != "" {
			res.Segments = append(res.Segments, before)
		}
		if !found {
			return res
		}
		body, rest, closed := strings.Cut(after, CloseMarker)
		call, err := Parse(strconv.Itoa(i), body)
		call.Index = i
		call.Incomplete = !closed
		res.Calls = append(res.Calls, call)
		res.Errs = append(res.Errs, err)
		if !closed {
			return res
		}
		text = rest
	}
}
