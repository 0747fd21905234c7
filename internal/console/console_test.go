package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/chzyer/readline"

	"kafka-proxy-client/internal/envelope"
	"kafka-proxy-client/internal/sse"
)

type scriptedReader struct {
	lines []string
	errs  []error
}

func (s *scriptedReader) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line, err := s.lines[0], s.errs[0]
	s.lines, s.errs = s.lines[1:], s.errs[1:]
	return line, err
}

func (s *scriptedReader) Close() error { return nil }

func TestPrinter_Message(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out)

	msg := envelope.Decode([]byte(`{"type":"message","topic":"orders","value":{"a":1}}`))
	p.Message(msg)
	other := envelope.Decode([]byte(`{"type":"pong","ts":1}`))
	p.Message(other)

	got := out.String()
	want := "← message: {\n  \"type\": \"message\",\n  \"topic\": \"orders\",\n  \"value\": {\n    \"a\": 1\n  }\n}\n" +
		"← {\"type\":\"pong\",\"ts\":1}\n"
	if got != want {
		t.Fatalf("output =\n%s\nwant\n%s", got, want)
	}
}

func TestPrinter_EventAndNotices(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out)
	p.Event(sse.Event{Name: "tick", Data: "hello"})
	p.Notice("sent to %s", "orders")
	p.Problem("invalid JSON: %s", "eof")

	want := "← [tick] hello\n✓ sent to orders\n! invalid JSON: eof\n"
	if got := out.String(); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestLines_TrimsAndSkipsBlank(t *testing.T) {
	r := &scriptedReader{
		lines: []string{"  {\"a\":1} ", "", "   ", "second"},
		errs:  []error{nil, nil, nil, nil},
	}
	var got []string
	for line := range Lines(context.Background(), r, nil) {
		got = append(got, line)
	}
	if strings.Join(got, "|") != `{"a":1}|second` {
		t.Fatalf("lines = %q", got)
	}
}

func TestLines_InterruptOnEmptyPromptStops(t *testing.T) {
	r := &scriptedReader{
		lines: []string{"partial", "", "never"},
		errs:  []error{readline.ErrInterrupt, readline.ErrInterrupt, nil},
	}
	var got []string
	for line := range Lines(context.Background(), r, nil) {
		got = append(got, line)
	}
	if len(got) != 0 {
		t.Fatalf("lines = %q, want none", got)
	}
}

func TestLines_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &scriptedReader{lines: []string{"a", "b"}, errs: []error{nil, nil}}
	lines := Lines(ctx, r, nil)
	cancel()
	for range lines {
	}
}
