// Package netpolicy applies the connection security flags shared by the
// token endpoint, the socket channel and the push stream.
package netpolicy

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"

	"kafka-proxy-client/internal/proxyerr"
)

// Policy defaults to HTTPS-only with peer verification.
type Policy struct {
	AllowInsecure bool
	SkipTLSVerify bool
}

// CheckHTTP validates an http(s) endpoint URL against the policy.
func (p Policy) CheckHTTP(field string, raw string) (*url.URL, error) {
	return p.check(field, raw, "https", "http")
}

// CheckWebSocket validates a ws(s) endpoint URL against the policy.
func (p Policy) CheckWebSocket(field string, raw string) (*url.URL, error) {
	return p.check(field, raw, "wss", "ws")
}

func (p Policy) check(field string, raw string, secure string, plain string) (*url.URL, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, proxyerr.Config(field, "is required")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return nil, proxyerr.Config(field, "is not a valid URL: "+err.Error())
	}
	if parsed.Host == "" {
		return nil, proxyerr.Config(field, "must be an absolute URL like "+secure+"://example.com")
	}
	switch strings.ToLower(parsed.Scheme) {
	case secure:
		return parsed, nil
	case plain:
		if !p.AllowInsecure {
			return nil, proxyerr.Config(field, "uses "+plain+":// but TLS is required")
		}
		return parsed, nil
	default:
		return nil, proxyerr.Config(field, "scheme must be "+secure+" or "+plain)
	}
}

func (p Policy) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: p.SkipTLSVerify, //nolint:gosec // opt-in via --skip-tls-verify
	}
}

// Transport returns a fresh transport carrying the policy's TLS settings.
func (p Policy) Transport() *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{TLSClientConfig: p.TLSConfig()}
	}
	clone := base.Clone()
	clone.TLSClientConfig = p.TLSConfig()
	return clone
}

// HTTP1Only disables HTTP/2 negotiation on rt when it is an *http.Transport.
// Long-lived event streams behave better through some proxies on HTTP/1.1.
func HTTP1Only(rt http.RoundTripper) http.RoundTripper {
	switch transport := rt.(type) {
	case nil:
		base, ok := http.DefaultTransport.(*http.Transport)
		if !ok {
			return rt
		}
		clone := base.Clone()
		disableHTTP2(clone)
		return clone
	case *http.Transport:
		clone := transport.Clone()
		disableHTTP2(clone)
		return clone
	default:
		// Custom transports (eg test round-trippers) may not support HTTP/2 anyway.
		return rt
	}
}

func disableHTTP2(transport *http.Transport) {
	transport.ForceAttemptHTTP2 = false
	transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
}
