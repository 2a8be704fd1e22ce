package tplparser

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

func jsonString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// contentText flattens string or text-part content. A nil content is "".
func contentText(content any) (string, error) {
	if content == nil {
		return "", nil
	}
	if s, ok := asString(content); ok {
		return s, nil
	}
	seq, ok := asSlice(content)
	if !ok {
		return "", fmt.Errorf("unsupported content type %T", content)
	}
	var b strings.Builder
	for _, item := range seq {
		m, ok := asMap(item)
		if !ok {
			continue
		}
		if s, ok := asString(m["text"]); ok {
			b.WriteString(s)
		}
	}
	return b.String(), nil
}

// MessageText returns the flattened text content of m.
func MessageText(m Message) (string, error) {
	return contentText(m.Content)
}
