package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"kafka-proxy-client/internal/logging"
	"kafka-proxy-client/internal/proxyerr"
)

// Source hands out a currently valid token.
type Source interface {
	Token(ctx context.Context) (AccessToken, error)
}

// TokenAcquirer is implemented by *Acquirer.
type TokenAcquirer interface {
	Acquire(ctx context.Context) (AccessToken, error)
}

// CachingSource reuses the last token until it expires, then acquires a new
// one. Concurrent callers share a single acquisition.
type CachingSource struct {
	acquirer TokenAcquirer
	logger   *logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	current AccessToken
}

func NewCachingSource(acquirer TokenAcquirer, logger *logging.Logger) *CachingSource {
	if acquirer == nil {
		panic("auth.NewCachingSource: acquirer must not be nil")
	}
	return &CachingSource{acquirer: acquirer, logger: logger.Named("auth"), now: time.Now}
}

func (s *CachingSource) Token(ctx context.Context) (AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current.Expired(s.now()) {
		return s.current, nil
	}
	if s.current.Token != "" {
		s.logger.Debug("access token expired, renewing", logging.Field("expired_at", s.current.ExpiresAt.Format(time.RFC3339)))
	}
	next, err := s.acquirer.Acquire(ctx)
	if err != nil {
		return AccessToken{}, err
	}
	s.current = next
	return next, nil
}

// Invalidate drops the cached token so the next call acquires a fresh one;
// used after the proxy rejected the token.
func (s *CachingSource) Invalidate() {
	s.mu.Lock()
	s.current = AccessToken{}
	s.mu.Unlock()
}

// StaticSource serves an externally supplied token, e.g. ACCESS_TOKEN.
type StaticSource struct {
	token AccessToken
}

func NewStaticSource(token string) (StaticSource, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return StaticSource{}, proxyerr.Config("access_token", "is empty")
	}
	return StaticSource{token: AccessToken{Token: token}}, nil
}

func (s StaticSource) Token(context.Context) (AccessToken, error) {
	return s.token, nil
}
