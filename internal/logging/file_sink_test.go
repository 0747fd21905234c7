package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultLogDirPathSuffix(t *testing.T) {
	path, err := DefaultLogDirPath()
	if err != nil {
		t.Fatalf("DefaultLogDirPath() error = %v", err)
	}
	if want := filepath.Join("kafka-proxy-client", "logs"); !strings.HasSuffix(path, want) {
		t.Fatalf("DefaultLogDirPath() = %q, want suffix %q", path, want)
	}
}

func TestFileSinkWritesJSONLAndRotates(t *testing.T) {
	tmp := t.TempDir()
	sink := &fileSink{dir: tmp, sessionTag: "20261019-120000", maxBytes: 200}
	if err := sink.rotateLocked(); err != nil {
		t.Fatalf("rotateLocked() error = %v", err)
	}

	event := Event{
		Time:      time.Unix(1700000000, 123456789),
		Level:     slog.LevelDebug,
		Component: "sse",
		Message:   "event dispatched",
		Fields:    map[string]any{"name": "tick", "bytes": 7},
	}
	for i := 0; i < 6; i++ {
		if err := sink.WriteEvent(event); err != nil {
			t.Fatalf("WriteEvent() error = %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sink.WriteEvent(event); err != os.ErrClosed {
		t.Fatalf("WriteEvent() after close = %v, want os.ErrClosed", err)
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected rotation to create multiple files, got %d", len(entries))
	}
	for _, entry := range entries {
		data, readErr := os.ReadFile(filepath.Join(tmp, entry.Name()))
		if readErr != nil {
			t.Fatalf("ReadFile(%q) error = %v", entry.Name(), readErr)
		}
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			var decoded jsonLogLine
			if unmarshalErr := json.Unmarshal([]byte(line), &decoded); unmarshalErr != nil {
				t.Fatalf("invalid json line %q: %v", line, unmarshalErr)
			}
			if decoded.Component != "sse" || decoded.Level != "DEBUG" {
				t.Fatalf("decoded = %#v", decoded)
			}
		}
	}
}

func TestLoggerCloseStopsFilePersistence(t *testing.T) {
	tmp := t.TempDir()
	logger := New(false)
	logger.SetTerminalOutputEnabled(false)
	sink := &fileSink{dir: tmp, sessionTag: "20261019-120001", maxBytes: 1024}
	if err := sink.rotateLocked(); err != nil {
		t.Fatalf("rotateLocked() error = %v", err)
	}
	logger.core.fileSink = sink

	logger.Info("before close")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	logger.Info("after close")

	entries, err := os.ReadDir(tmp)
	if err != nil || len(entries) == 0 {
		t.Fatalf("ReadDir() entries=%d err=%v", len(entries), err)
	}
	content, err := os.ReadFile(filepath.Join(tmp, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "before close") {
		t.Fatalf("expected pre-close event in log content")
	}
	if strings.Contains(text, "after close") {
		t.Fatalf("did not expect post-close event in log content")
	}
}

func TestPruneLogFilesKeepsNewest(t *testing.T) {
	tmp := t.TempDir()
	names := []string{
		"client-20261017-080000-001.jsonl",
		"client-20261018-080000-001.jsonl",
		"client-20261018-080000-002.jsonl",
		"client-20261019-080000-001.jsonl",
		"notes.txt",
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(tmp, name), []byte("{}\n"), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	if err := pruneLogFiles(tmp, 2); err != nil {
		t.Fatalf("pruneLogFiles() error = %v", err)
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var got []string
	for _, entry := range entries {
		got = append(got, entry.Name())
	}
	want := "client-20261018-080000-002.jsonl,client-20261019-080000-001.jsonl,notes.txt"
	if strings.Join(got, ",") != want {
		t.Fatalf("remaining = %v, want %s", got, want)
	}
}

func TestPruneLogFilesMissingDir(t *testing.T) {
	if err := pruneLogFiles(filepath.Join(t.TempDir(), "absent"), 1); err != nil {
		t.Fatalf("pruneLogFiles() error = %v", err)
	}
}
