package api

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

const doneSentinel = "[DONE]"

// sseWriter frames events as "event: <name>\ndata: <payload>\n\n" and
// flushes after each one.
type sseWriter struct {
	w       io.Writer
	flusher func()
}

func newSSEWriter(c *echo.Context) (*sseWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: res, flusher: flusher.Flush}, nil
}

func (s *sseWriter) Message(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.send("message", string(b))
}

func (s *sseWriter) Done() error {
	return s.send("message", doneSentinel)
}

// Error writes an error event. Multi-line messages become multiple data
// lines.
func (s *sseWriter) Error(err error) error {
	return s.send("error", err.Error())
}

func (s *sseWriter) send(event, data string) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteByte('\n')
	for line := range strings.SplitSeq(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	s.flusher()
	return nil
}
