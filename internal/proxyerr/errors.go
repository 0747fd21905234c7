// Package proxyerr holds the error kinds shared by the proxy client packages.
//
// Every failure returned by auth, wschannel and sse matches exactly one kind
// through errors.Is. Cancellation is never wrapped: callers see ctx.Err().
package proxyerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration  = errors.New("invalid configuration")
	ErrAuthentication = errors.New("authentication failed")
	ErrSubscription   = errors.New("subscription failed")
	ErrNetwork        = errors.New("network error")
	ErrTimeout        = errors.New("operation timed out")
	ErrHandshake      = errors.New("channel handshake failed")
	ErrChannelClosed  = errors.New("channel is not open")
	ErrFrameDecode    = errors.New("frame decode failed")
)

// ConfigError reports a missing or invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func Config(field string, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return ErrConfiguration.Error() + ": " + e.Reason
	}
	return fmt.Sprintf("%s: %s %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// StatusError is a non-success HTTP answer from the token endpoint, the push
// stream endpoint or the websocket upgrade.
type StatusError struct {
	Kind       error
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	kind := "http request failed"
	if e.Kind != nil {
		kind = e.Kind.Error()
	}
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("http status %d", e.StatusCode)
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return kind + ": " + status
	}
	return kind + ": " + status + ": " + body
}

func (e *StatusError) Unwrap() error { return e.Kind }

// OpError attaches an error kind to the underlying cause so that both
// errors.Is(err, kind) and errors.Is(err, cause) hold.
type OpError struct {
	Kind error
	Op   string
	Err  error
}

func Wrap(kind error, op string, err error) error {
	return &OpError{Kind: kind, Op: op, Err: err}
}

func (e *OpError) Error() string {
	prefix := e.Kind.Error()
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	if e.Err == nil {
		return prefix
	}
	return prefix + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func IsUnauthorized(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == 401 || statusErr.StatusCode == 403
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return 0
	}
	return statusErr.StatusCode
}
