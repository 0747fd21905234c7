package console

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"kafka-proxy-client/internal/logging"
	"kafka-proxy-client/internal/runctx"
)

// LineReader is satisfied by *readline.Instance.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// NewPrompt opens an interactive prompt on stdin with history kept under
// the user cache directory.
func NewPrompt(prompt string) (*readline.Instance, error) {
	cfg := &readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	}
	if root, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(root, "kafka-proxy-client")
		if os.MkdirAll(dir, 0o755) == nil {
			cfg.HistoryFile = filepath.Join(dir, "history")
		}
	}
	return readline.NewEx(cfg)
}

// Lines feeds trimmed, non-empty input lines into the returned channel until
// input ends, the user interrupts an empty prompt, or ctx is done. Closing r
// unblocks a pending read.
func Lines(ctx context.Context, r LineReader, logger *logging.Logger) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for {
			line, err := r.Readline()
			if errors.Is(err, readline.ErrInterrupt) {
				if strings.TrimSpace(line) == "" {
					logger.Debug("stopping input: interrupted")
					return
				}
				continue
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn("input failed", logging.Field("error", err))
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !runctx.SendOrDone(ctx, "input", logger, out, line) {
				return
			}
		}
	}()
	return out
}
