package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"kafka-proxy-client/internal/logging"
	"kafka-proxy-client/internal/netpolicy"
	"kafka-proxy-client/internal/proxyerr"
)

const (
	GrantPassword          = "password"
	GrantClientCredentials = "client_credentials"

	DefaultTokenPath = "/connect/token"
	DefaultTimeout   = 30 * time.Second
)

type Config struct {
	Authority    string
	TokenPath    string
	GrantType    string
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
	Scope        string
	Policy       netpolicy.Policy
	Timeout      time.Duration
}

func (c Config) grantType() string {
	grant := strings.TrimSpace(c.GrantType)
	if grant == "" {
		return GrantPassword
	}
	return grant
}

// Validate fails with a proxyerr.ConfigError before any network I/O.
func (c Config) Validate() error {
	switch c.grantType() {
	case GrantPassword:
		if strings.TrimSpace(c.Username) == "" {
			return proxyerr.Config("username", "is required")
		}
		if strings.TrimSpace(c.Password) == "" {
			return proxyerr.Config("password", "is required")
		}
	case GrantClientCredentials:
	default:
		return proxyerr.Config("grant_type", fmt.Sprintf("%q is not supported", c.GrantType))
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return proxyerr.Config("client_id", "is required")
	}
	_, err := c.Policy.CheckHTTP("authority", c.Authority)
	return err
}

// TokenURL joins authority and token path with exactly one slash.
func (c Config) TokenURL() string {
	path := strings.TrimSpace(c.TokenPath)
	if path == "" {
		path = DefaultTokenPath
	}
	return strings.TrimRight(strings.TrimSpace(c.Authority), "/") + "/" + strings.TrimLeft(path, "/")
}

func (c Config) scopes() []string {
	return strings.Fields(c.Scope)
}

// Acquirer exchanges credentials at the token endpoint. It never retries.
type Acquirer struct {
	cfg       Config
	transport http.RoundTripper
	logger    *logging.Logger
	now       func() time.Time
}

// NewAcquirer builds an acquirer. transport may be nil, in which case one
// honoring cfg.Policy is created.
func NewAcquirer(cfg Config, transport http.RoundTripper, logger *logging.Logger) *Acquirer {
	if transport == nil {
		transport = cfg.Policy.Transport()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Acquirer{cfg: cfg, transport: transport, logger: logger.Named("auth"), now: time.Now}
}

func (a *Acquirer) Acquire(ctx context.Context) (AccessToken, error) {
	if err := a.cfg.Validate(); err != nil {
		return AccessToken{}, err
	}
	tokenURL := a.cfg.TokenURL()
	a.logger.Debug("requesting access token",
		logging.Field("url", tokenURL),
		logging.Field("grant_type", a.cfg.grantType()),
		logging.Field("client_id", a.cfg.ClientID),
	)

	reqCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	capture := &responseCapture{base: a.transport}
	reqCtx = context.WithValue(reqCtx, oauth2.HTTPClient, &http.Client{Transport: capture})

	issuedAt := a.now()
	tok, err := a.exchange(reqCtx, tokenURL)
	if err != nil {
		return AccessToken{}, a.classify(ctx, err, capture)
	}

	expiresIn := expiresInFrom(tok)
	token := AccessToken{Token: tok.AccessToken, ExpiresAt: ExpiryFor(issuedAt, expiresIn)}
	a.logger.Debug("access token acquired",
		logging.Field("expires_in", expiresIn.String()),
		logging.Field("expires_at", token.ExpiresAt.Format(time.RFC3339)),
	)
	return token, nil
}

func (a *Acquirer) exchange(ctx context.Context, tokenURL string) (*oauth2.Token, error) {
	if a.cfg.grantType() == GrantClientCredentials {
		cc := clientcredentials.Config{
			ClientID:     a.cfg.ClientID,
			ClientSecret: a.cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       a.cfg.scopes(),
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		return cc.Token(ctx)
	}
	oc := oauth2.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		Scopes:       a.cfg.scopes(),
	}
	return oc.PasswordCredentialsToken(ctx, a.cfg.Username, a.cfg.Password)
}

func (a *Acquirer) classify(ctx context.Context, err error, capture *responseCapture) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		statusErr := &proxyerr.StatusError{
			Kind:       proxyerr.ErrAuthentication,
			StatusCode: retrieveErr.Response.StatusCode,
			Status:     retrieveErr.Response.Status,
			Body:       string(retrieveErr.Body),
		}
		a.logger.Warn("token request rejected",
			logging.Field("status", statusErr.Status),
			logging.Field("response", logging.FormatHTTPPayload(retrieveErr.Body)),
		)
		return statusErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		a.logger.Warn("token request timed out", logging.Field("timeout", a.cfg.Timeout.String()))
		return proxyerr.Wrap(proxyerr.ErrNetwork, "token request", fmt.Errorf("%w: %w", proxyerr.ErrTimeout, err))
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || !capture.responded() {
		a.logger.Warn("token request failed", logging.Field("error", err))
		return proxyerr.Wrap(proxyerr.ErrNetwork, "token request", err)
	}

	// The server answered 2xx but the body was unusable (no access_token or
	// not parseable).
	statusErr := &proxyerr.StatusError{
		Kind:       proxyerr.ErrAuthentication,
		StatusCode: capture.statusCode,
		Status:     capture.status,
		Body:       capture.body.String(),
	}
	a.logger.Warn("token response rejected",
		logging.Field("error", err),
		logging.Field("response", logging.FormatHTTPPayload(capture.body.Bytes())),
	)
	return statusErr
}

func expiresInFrom(tok *oauth2.Token) time.Duration {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v) * time.Second
	case string:
		if seconds, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return DefaultExpiresIn
}
