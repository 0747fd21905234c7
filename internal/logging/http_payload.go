package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

// FormatHTTPPayload renders a response body for logs: JSON is indented in
// its original key order, a JSON string body is unquoted first, anything
// else is returned trimmed.
func FormatHTTPPayload(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "<empty>"
	}
	var quoted string
	if json.Unmarshal([]byte(text), &quoted) == nil {
		text = strings.TrimSpace(quoted)
	}
	var indented bytes.Buffer
	if json.Indent(&indented, []byte(text), "", "  ") == nil {
		return indented.String()
	}
	return text
}

// ReadErrorBody reads at most limit bytes of an error response body.
func ReadErrorBody(body io.Reader, limit int64) string {
	if body == nil {
		return ""
	}
	data, _ := io.ReadAll(io.LimitReader(body, limit))
	return strings.TrimSpace(string(data))
}
