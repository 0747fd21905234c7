package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"kafka-proxy-client/internal/proxyerr"
)

// DefaultEventName is reported for events that carried no event: line.
const DefaultEventName = "message"

// DefaultMaxLineBytes bounds one line of the stream body.
const DefaultMaxLineBytes = 4 * 1024 * 1024

type Event struct {
	Name string
	Data string
}

// ReadEvents parses text/event-stream framing from r and calls onEvent for
// every event terminated by a blank line. onEvent runs on the calling
// goroutine, so parsing stalls while it runs. A trailing event without its
// blank line is dropped. It returns nil at EOF.
func ReadEvents(r io.Reader, maxLineBytes int, onEvent func(Event)) error {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxLineBytes)), maxLineBytes)

	name := ""
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				event := Event{Name: name, Data: data.String()}
				if event.Name == "" {
					event.Name = DefaultEventName
				}
				onEvent(event)
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimLeft(strings.TrimPrefix(line, "data:"), " \t"))
		}
	}

	err := scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		return proxyerr.Wrap(proxyerr.ErrFrameDecode, "read stream", err)
	}
	return err
}
