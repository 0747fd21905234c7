// Package runctx holds small helpers for channel operations that must give
// up when a context ends.
package runctx

import (
	"context"
	"time"

	"kafka-proxy-client/internal/logging"
)

// RecvOrDone receives from in unless ctx ends first. ok is false when ctx
// ended or in was closed.
func RecvOrDone[T any](ctx context.Context, name string, logger *logging.Logger, in <-chan T) (T, bool) {
	select {
	case <-ctx.Done():
		logger.Debug("stopping "+name+": context canceled", logging.Field("error", ctx.Err()))
		var zero T
		return zero, false
	case v, ok := <-in:
		if !ok {
			logger.Debug("stopping " + name + ": input closed")
		}
		return v, ok
	}
}

// SendOrDone sends value on out unless ctx ends first.
func SendOrDone[T any](ctx context.Context, name string, logger *logging.Logger, out chan<- T, value T) bool {
	select {
	case <-ctx.Done():
		logger.Debug("stopping "+name+": context canceled before send", logging.Field("error", ctx.Err()))
		return false
	case out <- value:
		return true
	}
}

// SleepOrDone waits for d and reports whether it elapsed before ctx ended.
func SleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
