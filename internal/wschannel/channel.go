// Package wschannel owns one authenticated websocket connection to the proxy.
//
// A Channel supports one reader (ReceiveLoop) running concurrently with any
// number of writers (Send, SendKeepalive). One writer goroutine owns the write
// side, so frames never interleave and they reach the wire in call order.
package wschannel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"kafka-proxy-client/internal/envelope"
	"kafka-proxy-client/internal/logging"
	"kafka-proxy-client/internal/netpolicy"
	"kafka-proxy-client/internal/proxyerr"
)

const (
	DefaultConnectTimeout = 20 * time.Second
	DefaultSendTimeout    = 15 * time.Second
	DefaultCloseTimeout   = 5 * time.Second
	DefaultReadLimit      = 1 << 20
)

// ErrReaderActive is returned when a second ReceiveLoop is started.
var ErrReaderActive = errors.New("receive loop already active on channel")

type Options struct {
	URL            string
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	CloseTimeout   time.Duration
	// ReadLimit caps one reassembled inbound frame.
	ReadLimit int64
	Policy    netpolicy.Policy
	// Header is sent with the upgrade request in addition to Authorization.
	Header http.Header
	Logger *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	return o
}

type Channel struct {
	opts   Options
	id     string
	logger *logging.Logger

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	cancelDial context.CancelFunc

	outbound  chan *outboundFrame
	inbound   chan []byte
	readErr   error
	readDone  chan struct{}
	reading   atomic.Bool
	closeOnce sync.Once
	closing   chan struct{}

	releaseOnce sync.Once
	released    chan struct{}
}

func New(opts Options) *Channel {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &Channel{
		opts:     opts,
		id:       id,
		logger:   opts.Logger.Named("wschannel"),
		state:    Unopened,
		outbound: make(chan *outboundFrame),
		inbound:  make(chan []byte),
		readDone: make(chan struct{}),
		closing:  make(chan struct{}),
		released: make(chan struct{}),
	}
}

// ID identifies the channel in logs and in the X-Client-Id upgrade header.
func (c *Channel) ID() string { return c.id }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) snapshot() (*websocket.Conn, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, c.state
}

// Connect performs the authenticated upgrade. The bearer token is attached
// once, at connection time.
func (c *Channel) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.state != Unopened {
		state := c.state
		c.mu.Unlock()
		return proxyerr.Wrap(proxyerr.ErrHandshake, "connect", fmt.Errorf("channel is %s", state))
	}
	c.state = Connecting
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	c.cancelDial = cancel
	c.mu.Unlock()
	defer cancel()

	target, err := c.opts.Policy.CheckWebSocket("ws_url", c.opts.URL)
	if err != nil {
		c.release()
		return err
	}

	header := c.opts.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-Client-Id", c.id)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.ConnectTimeout,
		TLSClientConfig:  c.opts.Policy.TLSConfig(),
	}
	c.logger.Debug("connecting", logging.Field("url", target.String()), logging.Field("channel_id", c.id))

	conn, resp, dialErr := dialer.DialContext(dialCtx, target.String(), header)
	if dialErr != nil {
		c.release()
		return c.handshakeError(ctx, dialCtx, resp, dialErr)
	}

	c.mu.Lock()
	if c.state != Connecting {
		c.mu.Unlock()
		_ = conn.Close()
		return proxyerr.Wrap(proxyerr.ErrHandshake, "connect", errors.New("channel closed during connect"))
	}
	conn.SetReadLimit(c.opts.ReadLimit)
	conn.SetCloseHandler(c.onPeerClose(conn))
	c.conn = conn
	c.state = Open
	c.cancelDial = nil
	c.mu.Unlock()
	go c.writePump(conn)
	go c.readPump(conn)

	c.logger.Info("channel open", logging.Field("url", target.String()), logging.Field("channel_id", c.id))
	return nil
}

func (c *Channel) handshakeError(ctx context.Context, dialCtx context.Context, resp *http.Response, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if resp != nil {
		body := logging.ReadErrorBody(resp.Body, 2048)
		_ = resp.Body.Close()
		c.logger.Warn("handshake rejected",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload([]byte(body))),
		)
		return &proxyerr.StatusError{Kind: proxyerr.ErrHandshake, StatusCode: resp.StatusCode, Status: resp.Status, Body: body}
	}
	if errors.Is(dialCtx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		c.logger.Warn("handshake timed out", logging.Field("timeout", c.opts.ConnectTimeout.String()))
		return proxyerr.Wrap(proxyerr.ErrHandshake, "connect", fmt.Errorf("%w: %w", proxyerr.ErrTimeout, err))
	}
	c.logger.Warn("handshake failed", logging.Field("error", err))
	return proxyerr.Wrap(proxyerr.ErrHandshake, "connect", err)
}

// onPeerClose acknowledges a close frame from the proxy and marks the channel
// as closing; the read pump then releases the transport.
func (c *Channel) onPeerClose(conn *websocket.Conn) func(code int, text string) error {
	return func(code int, text string) error {
		c.mu.Lock()
		if c.state == Open {
			c.state = Closing
		}
		c.mu.Unlock()
		c.logger.Debug("peer closed channel", logging.Field("code", code), logging.Field("reason", text))
		ack := websocket.FormatCloseMessage(code, "")
		if code == websocket.CloseNoStatusReceived {
			ack = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		}
		err := conn.WriteControl(websocket.CloseMessage, ack, time.Now().Add(c.opts.CloseTimeout))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug("close acknowledgement failed", logging.Field("error", err))
		}
		return nil
	}
}

// Send writes env as one text frame. Frames are handed to a single writer in
// call order. A timeout or cancellation before the writer picks the frame up
// leaves nothing on the wire; once the writer has started a frame it is
// always finished, so a timed-out send never corrupts the stream and the
// channel stays open. The caller decides whether to abandon it.
func (c *Channel) Send(ctx context.Context, env *envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	return c.write(ctx, "send", data)
}

// SendKeepalive emits {"type":"ping","ts":<unix ms>}. Scheduling is up to the
// caller.
func (c *Channel) SendKeepalive(ctx context.Context) error {
	data, err := envelope.Encode(envelope.Ping(time.Now()))
	if err != nil {
		return err
	}
	return c.write(ctx, "keepalive", data)
}

const (
	framePending int32 = iota
	frameWriting
	frameAbandoned
)

type outboundFrame struct {
	data  []byte
	state atomic.Int32
	done  chan error
}

func (f *outboundFrame) start() bool   { return f.state.CompareAndSwap(framePending, frameWriting) }
func (f *outboundFrame) abandon() bool { return f.state.CompareAndSwap(framePending, frameAbandoned) }

func (c *Channel) write(ctx context.Context, op string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, state := c.snapshot(); state != Open {
		return closedError(op, state)
	}

	timer := time.NewTimer(c.opts.SendTimeout)
	defer timer.Stop()
	frame := &outboundFrame{data: data, done: make(chan error, 1)}

	select {
	case c.outbound <- frame:
	case <-c.released:
		return closedError(op, Closed)
	case <-ctx.Done():
		return c.sendCanceled(ctx, op, false)
	case <-timer.C:
		return c.sendTimedOut(op, false)
	}

	select {
	case err := <-frame.done:
		if err != nil {
			return proxyerr.Wrap(proxyerr.ErrNetwork, op, err)
		}
		c.logger.Debug("frame sent", logging.Field("op", op), logging.Field("bytes", len(data)))
		return nil
	case <-c.released:
		select {
		case err := <-frame.done:
			if err == nil {
				return nil
			}
		default:
		}
		return closedError(op, Closed)
	case <-ctx.Done():
		return c.sendCanceled(ctx, op, !frame.abandon())
	case <-timer.C:
		return c.sendTimedOut(op, !frame.abandon())
	}
}

func (c *Channel) sendCanceled(ctx context.Context, op string, inFlight bool) error {
	err := ctx.Err()
	c.logger.Debug("send canceled", logging.Field("op", op), logging.Field("in_flight", inFlight), logging.Field("error", err))
	if errors.Is(err, context.DeadlineExceeded) {
		return proxyerr.Wrap(proxyerr.ErrTimeout, op, err)
	}
	return err
}

func (c *Channel) sendTimedOut(op string, inFlight bool) error {
	c.logger.Warn("send timed out",
		logging.Field("op", op),
		logging.Field("timeout", c.opts.SendTimeout.String()),
		logging.Field("in_flight", inFlight),
	)
	return proxyerr.Wrap(proxyerr.ErrTimeout, op, fmt.Errorf("frame not written within %s", c.opts.SendTimeout))
}

func closedError(op string, state State) error {
	return fmt.Errorf("%s: %w (state %s)", op, proxyerr.ErrChannelClosed, state)
}

// writePump is the only goroutine that writes data frames. A write error
// leaves the connection unusable, so it releases the channel and every later
// send reports ErrChannelClosed.
func (c *Channel) writePump(conn *websocket.Conn) {
	for {
		select {
		case <-c.released:
			return
		case frame := <-c.outbound:
			if !frame.start() {
				continue
			}
			err := conn.WriteMessage(websocket.TextMessage, frame.data)
			frame.done <- err
			if err != nil {
				if _, state := c.snapshot(); state == Open {
					c.logger.Warn("write failed, releasing channel", logging.Field("error", err))
				}
				c.release()
				return
			}
		}
	}
}

// readPump reads frames from the moment the channel opens and hands them to
// whichever ReceiveLoop is active. A frame read while no loop is running waits
// for the next one. It releases the channel when the transport ends.
func (c *Channel) readPump(conn *websocket.Conn) {
	defer close(c.readDone)
	defer close(c.inbound)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.readErr = c.readEnded(err)
			c.release()
			return
		}
		select {
		case c.inbound <- data:
		case <-c.closing:
		case <-c.released:
			return
		}
	}
}

func (c *Channel) readEnded(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		c.logger.Info("channel closed by peer", logging.Field("code", closeErr.Code), logging.Field("reason", closeErr.Text))
		return nil
	}
	if _, state := c.snapshot(); state == Closing || state == Closed {
		return nil
	}
	c.logger.Warn("receive failed", logging.Field("error", err))
	return proxyerr.Wrap(proxyerr.ErrNetwork, "receive", err)
}

// ReceiveLoop delivers inbound frames to onMessage in arrival order until ctx
// is canceled (returns ctx.Err()), the channel closes (returns nil) or the
// transport fails (returns an ErrNetwork error). Frames that do not decode as
// an envelope are delivered as raw envelopes. Cancellation leaves the channel
// open and a later ReceiveLoop continues with the next unread frame.
func (c *Channel) ReceiveLoop(ctx context.Context, onMessage func(*envelope.Envelope)) error {
	if onMessage == nil {
		panic("wschannel.Channel.ReceiveLoop: onMessage must not be nil")
	}
	if !c.reading.CompareAndSwap(false, true) {
		return ErrReaderActive
	}
	defer c.reading.Store(false)

	if _, state := c.snapshot(); state != Open {
		return closedError("receive", state)
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("receive loop stopped: context canceled", logging.Field("error", ctx.Err()))
			return ctx.Err()
		case data, ok := <-c.inbound:
			if !ok {
				return c.readErr
			}
			env := envelope.Decode(data)
			if env.Type() == envelope.TypeRaw {
				c.logger.Debug("undecodable frame passed through raw",
					logging.Field("bytes", len(data)),
					logging.Field("text", logging.Truncate(string(data))),
				)
			}
			onMessage(env)
		}
	}
}

// Close moves the channel to Closed, sending a close frame when it was open.
// It is idempotent and always releases the connection, even when the close
// handshake fails.
func (c *Channel) Close(ctx context.Context, reason string) error {
	c.mu.Lock()
	switch c.state {
	case Closing, Closed:
		c.mu.Unlock()
		return nil
	case Unopened:
		c.mu.Unlock()
		c.release()
		return nil
	case Connecting:
		cancelDial := c.cancelDial
		c.mu.Unlock()
		if cancelDial != nil {
			cancelDial()
		}
		c.release()
		return nil
	}
	c.state = Closing
	conn := c.conn
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closing) })

	deadline := time.Now().Add(c.opts.CloseTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.logger.Debug("close frame not sent", logging.Field("error", err))
	} else {
		// Wait for the peer's close reply.
		timer := time.NewTimer(time.Until(deadline))
		select {
		case <-c.readDone:
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}
	c.release()
	c.logger.Info("channel closed", logging.Field("channel_id", c.id), logging.Field("reason", reason))
	return nil
}

func (c *Channel) release() {
	c.releaseOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.state = Closed
		c.cancelDial = nil
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		close(c.released)
	})
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
