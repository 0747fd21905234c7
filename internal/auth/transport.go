package auth

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

const maxCapturedBody = 64 << 10

// responseCapture sets Accept: application/json on token requests and keeps
// the status and a bounded copy of the body, so failures the oauth2 package
// reports without them can still be surfaced with status and body.
type responseCapture struct {
	base       http.RoundTripper
	mu         sync.Mutex
	statusCode int
	status     string
	body       bytes.Buffer
}

func (c *responseCapture) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Accept", "application/json")

	resp, err := c.base.RoundTrip(cloned)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.statusCode = resp.StatusCode
	c.status = resp.Status
	c.body.Reset()
	c.mu.Unlock()
	resp.Body = &teeBody{ReadCloser: resp.Body, capture: c}
	return resp, nil
}

func (c *responseCapture) responded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusCode != 0
}

type teeBody struct {
	io.ReadCloser
	capture *responseCapture
}

func (b *teeBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.capture.mu.Lock()
		if room := maxCapturedBody - b.capture.body.Len(); room > 0 {
			b.capture.body.Write(p[:min(n, room)])
		}
		b.capture.mu.Unlock()
	}
	return n, err
}
