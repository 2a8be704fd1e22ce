package inference

import (
	"strings"

	"github.com/samcharles93/spindle/internal/reasoning"
)

// historySentinels never belong in assistant text fed back as context.
var historySentinels = append([]string{"<|end_of_text|>", "<|eot_id|>", "</s>"}, StopTokenNames...)

// SanitizeAssistantForContext removes think sections and end-of-sequence
// markers from a prior assistant turn before it is rendered into a prompt.
func SanitizeAssistantForContext(text string) string {
	s := reasoning.Strip(text)
	for _, token := range historySentinels {
		s = strings.ReplaceAll(s, token, "")
	}
	return strings.TrimSpace(s)
}
