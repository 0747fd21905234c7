package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"kafka-proxy-client/internal/auth"
	"kafka-proxy-client/internal/envelope"
	"kafka-proxy-client/internal/netpolicy"
	"kafka-proxy-client/internal/proxyerr"
	"kafka-proxy-client/internal/sse"
	"kafka-proxy-client/internal/wschannel"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type fakeSource struct {
	token       string
	err         error
	invalidated atomic.Int32
}

func (s *fakeSource) Token(context.Context) (auth.AccessToken, error) {
	if s.err != nil {
		return auth.AccessToken{}, s.err
	}
	return auth.AccessToken{Token: s.token}, nil
}

func (s *fakeSource) Invalidate() { s.invalidated.Add(1) }

type recordingSender struct {
	mu   sync.Mutex
	sent []*envelope.Envelope
	err  error
}

func (s *recordingSender) Send(_ context.Context, env *envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, env)
	return nil
}

func eventStream(r *http.Request, body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

func TestOpenChannel_UsesSourceToken(t *testing.T) {
	auths := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	c := New(Options{
		Tokens: &fakeSource{token: "tok-ws"},
		Channel: wschannel.Options{
			URL:    "ws" + strings.TrimPrefix(server.URL, "http"),
			Policy: netpolicy.Policy{AllowInsecure: true},
		},
	})
	ch, err := c.OpenChannel(context.Background())
	if err != nil {
		t.Fatalf("OpenChannel() error = %v", err)
	}
	defer ch.Close(context.Background(), "")

	if got := <-auths; got != "Bearer tok-ws" {
		t.Fatalf("Authorization = %q, want Bearer tok-ws", got)
	}
	if ch.State() != wschannel.Open {
		t.Fatalf("State() = %v, want open", ch.State())
	}
}

func TestOpenChannel_RejectedTokenIsInvalidated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusUnauthorized)
	}))
	defer server.Close()

	source := &fakeSource{token: "stale"}
	c := New(Options{
		Tokens: source,
		Channel: wschannel.Options{
			URL:    "ws" + strings.TrimPrefix(server.URL, "http"),
			Policy: netpolicy.Policy{AllowInsecure: true},
		},
	})
	_, err := c.OpenChannel(context.Background())
	if !errors.Is(err, proxyerr.ErrHandshake) {
		t.Fatalf("OpenChannel() error = %v, want ErrHandshake", err)
	}
	if source.invalidated.Load() != 1 {
		t.Fatalf("Invalidate() calls = %d, want 1", source.invalidated.Load())
	}
}

func TestOpenChannel_TokenFailure(t *testing.T) {
	want := proxyerr.Config("username", "is required")
	c := New(Options{Tokens: &fakeSource{err: want}})
	if _, err := c.OpenChannel(context.Background()); !errors.Is(err, proxyerr.ErrConfiguration) {
		t.Fatalf("OpenChannel() error = %v, want ErrConfiguration", err)
	}
}

func TestSubscribeAndProduce_Frames(t *testing.T) {
	c := New(Options{Tokens: &fakeSource{token: "t"}})
	sender := &recordingSender{}

	if err := c.Subscribe(context.Background(), sender, []string{"orders"}, ""); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := c.Produce(context.Background(), sender, "orders", "k1", map[string]string{"source": "test"}, map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("Produce() error = %v", err)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("sent %d frames, want 2", len(sender.sent))
	}
	sub, _ := envelope.Encode(sender.sent[0])
	if string(sub) != `{"type":"subscribe","topics":["orders"],"from":"latest"}` {
		t.Fatalf("subscribe frame = %s", sub)
	}
	if sender.sent[1].Type() != envelope.TypeProduce {
		t.Fatalf("produce frame type = %q", sender.sent[1].Type())
	}
	if key, _ := sender.sent[1].String("key"); key != "k1" {
		t.Fatalf("produce key = %q", key)
	}
}

func TestStream_PassesTokenAndEvents(t *testing.T) {
	var gotAuth string
	c := New(Options{
		Tokens: &fakeSource{token: "tok-sse"},
		Stream: sse.Reader{
			URL: "https://proxy.example.test/sse",
			HTTP: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				gotAuth = r.Header.Get("Authorization")
				return eventStream(r, "data: one\n\n"), nil
			})},
		},
	})
	var events []sse.Event
	err := c.Stream(context.Background(), sse.Params{ChatID: "c1", From: "latest"}, func(e sse.Event) { events = append(events, e) })
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if gotAuth != "Bearer tok-sse" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(events) != 1 || events[0].Data != "one" {
		t.Fatalf("events = %+v", events)
	}
}

func TestFollow_ResubscribesUntilCanceled(t *testing.T) {
	var calls atomic.Int32
	source := &fakeSource{token: "t"}
	c := New(Options{
		Tokens: source,
		Stream: sse.Reader{
			URL: "https://proxy.example.test/sse",
			HTTP: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				switch calls.Add(1) {
				case 1:
					return eventStream(r, "data: first\n\n"), nil
				case 2:
					return &http.Response{
						StatusCode: http.StatusUnauthorized,
						Status:     "401 Unauthorized",
						Header:     make(http.Header),
						Body:       io.NopCloser(strings.NewReader("")),
						Request:    r,
					}, nil
				default:
					return eventStream(r, "data: second\n\n"), nil
				}
			})},
		},
	})
	c.reconnectDelay = time.Millisecond
	c.reconnectMaxDelay = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var events []string
	var retries int
	err := c.Follow(ctx, sse.Params{Topics: []string{"orders"}}, func(e sse.Event) {
		events = append(events, e.Data)
		if e.Data == "second" {
			cancel()
		}
	}, FollowHooks{OnRetry: func(error, time.Duration) { retries++ }})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Follow() error = %v, want context.Canceled", err)
	}
	if strings.Join(events, ",") != "first,second" {
		t.Fatalf("events = %v", events)
	}
	if retries != 2 {
		t.Fatalf("retries = %d, want 2", retries)
	}
	if source.invalidated.Load() != 1 {
		t.Fatalf("Invalidate() calls = %d, want 1 after 401", source.invalidated.Load())
	}
}

func TestFollow_StopsOnPermanentError(t *testing.T) {
	c := New(Options{
		Tokens: &fakeSource{token: "t"},
		Stream: sse.Reader{URL: "http://proxy.example.test/sse"},
	})
	err := c.Follow(context.Background(), sse.Params{ChatID: "c"}, func(sse.Event) {}, FollowHooks{
		OnRetry: func(error, time.Duration) { t.Fatal("configuration errors must not be retried") },
	})
	if !errors.Is(err, proxyerr.ErrConfiguration) {
		t.Fatalf("Follow() error = %v, want ErrConfiguration", err)
	}
}

type fakeKeepalive struct {
	calls atomic.Int32
	errs  []error
}

func (f *fakeKeepalive) SendKeepalive(context.Context) error {
	n := int(f.calls.Add(1)) - 1
	if n < len(f.errs) {
		return f.errs[n]
	}
	return nil
}

func TestRunKeepalive_ContinuesAfterFailureAndStopsWhenClosed(t *testing.T) {
	c := New(Options{Tokens: &fakeSource{token: "t"}})
	sender := &fakeKeepalive{errs: []error{
		proxyerr.Wrap(proxyerr.ErrTimeout, "keepalive", errors.New("slow")),
		nil,
		proxyerr.Wrap(proxyerr.ErrChannelClosed, "keepalive", nil),
	}}

	done := make(chan struct{})
	go func() {
		c.RunKeepalive(context.Background(), sender, time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunKeepalive() did not stop after channel closed")
	}
	if got := sender.calls.Load(); got != 3 {
		t.Fatalf("SendKeepalive() calls = %d, want 3", got)
	}
}

func TestRunKeepalive_StopsOnCancel(t *testing.T) {
	c := New(Options{Tokens: &fakeSource{token: "t"}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunKeepalive(ctx, &fakeKeepalive{}, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunKeepalive() ignored cancellation")
	}
}
