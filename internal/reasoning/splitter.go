package reasoning

import "strings"

const (
	OpenTag  = "<think>"
	CloseTag = "</think>"
)

type Result struct {
	Content   string
	Reasoning string
	// Unclosed is set when the last think section never ended.
	Unclosed bool
}

// Split separates <think>...</think> sections from the visible text. Tags
// match case-insensitively. An unclosed section runs to the end of the
// input and counts as reasoning.
func Split(raw string) Result {
	var (
		res       Result
		content   strings.Builder
		reasoning strings.Builder
	)
	for raw != "" {
		i := indexASCIIFold(raw, OpenTag)
		if i < 0 {
			content.WriteString(raw)
			break
		}
		content.WriteString(raw[:i])
		raw = raw[i+len(OpenTag):]

		j := indexASCIIFold(raw, CloseTag)
		if j < 0 {
			reasoning.WriteString(raw)
			res.Unclosed = true
			break
		}
		reasoning.WriteString(raw[:j])
		raw = raw[j+len(CloseTag):]
	}
	res.Content = content.String()
	res.Reasoning = reasoning.String()
	return res
}

// Strip returns raw without its think sections.
func Strip(raw string) string {
	return Split(raw).Content
}

// indexASCIIFold finds tag in s ignoring ASCII case. Byte offsets stay
// valid for s, which strings.ToLower does not guarantee for non-ASCII text.
func indexASCIIFold(s, tag string) int {
	for i := 0; i+len(tag) <= len(s); i++ {
		if s[i] != '<' {
			continue
		}
		match := true
		for k := 1; k < len(tag); k++ {
			if lowerASCII(s[i+k]) != tag[k] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func lowerASCII(b byte) byte {
	if 'A' <= b && b <= 'Z' {
		return b + 'a' - 'A'
	}
	return b
}
