// Package app runs one client session in websocket or event-stream mode.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"kafka-proxy-client/internal/client"
	"kafka-proxy-client/internal/config"
	"kafka-proxy-client/internal/console"
	"kafka-proxy-client/internal/envelope"
	"kafka-proxy-client/internal/logging"
	"kafka-proxy-client/internal/proxyerr"
	"kafka-proxy-client/internal/runctx"
	"kafka-proxy-client/internal/runstatus"
	"kafka-proxy-client/internal/sse"
	"kafka-proxy-client/internal/wschannel"
)

const (
	onceReadWindow = 5 * time.Second
	closeTimeout   = 5 * time.Second
)

type Callbacks struct {
	OnStatusChange func(runstatus.Status)
}

// IO is where the session prints traffic and reads interactive input.
type IO struct {
	Printer   *console.Printer
	OpenInput func() (console.LineReader, error)
}

type ClientApp struct {
	opts   config.Options
	client *client.Client
	io     IO
	logger *logging.Logger
	hooks  Callbacks
	status runtimeStatusState

	onceWindow time.Duration
}

func New(opts config.Options, c *client.Client, io IO, logger *logging.Logger, hooks Callbacks) *ClientApp {
	if c == nil {
		panic("app.New: client must not be nil")
	}
	if io.Printer == nil {
		panic("app.New: printer must not be nil")
	}
	return &ClientApp{opts: opts, client: c, io: io, logger: logger.Named("app"), hooks: hooks, onceWindow: onceReadWindow}
}

func (a *ClientApp) RunContext(ctx context.Context) error {
	a.logger.Info("client starting",
		logging.Field("mode", a.opts.Mode),
		logging.Field("once", a.opts.Once),
		logging.Field("ws_url", a.opts.WSURL),
		logging.Field("sse_url", a.opts.SSEURL),
	)

	if _, err := a.client.Authenticate(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.setRuntimeStatus(runstatus.DisconnectedAuth)
		return fmt.Errorf("authenticate: %w", err)
	}
	a.setRuntimeStatus(runstatus.Authenticated)

	var err error
	if a.opts.Mode == config.ModeSSE {
		err = a.runStream(ctx)
	} else {
		err = a.runSocket(ctx)
	}
	if proxyerr.IsUnauthorized(err) {
		a.setRuntimeStatus(runstatus.DisconnectedAuth)
	} else {
		a.setRuntimeStatus(runstatus.Disconnected)
	}
	if err != nil && ctx.Err() == nil {
		a.logger.Warn("client stopped with error", logging.Field("error", err))
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	a.logger.Info("client stopped")
	return nil
}

func (a *ClientApp) runSocket(ctx context.Context) error {
	ch, err := a.client.OpenChannel(ctx)
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	a.setRuntimeStatus(runstatus.Connected)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		_ = ch.Close(closeCtx, "client exit")
	}()

	if err := a.client.Subscribe(ctx, ch, a.opts.TopicList(), a.opts.StreamFrom); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	a.setRuntimeStatus(runstatus.Subscribed)
	a.io.Printer.Notice("subscribed to %s from %s", strings.Join(a.opts.TopicList(), ","), a.opts.StreamFrom)

	var keepalive sync.WaitGroup
	defer keepalive.Wait()
	readCtx, stopRead := context.WithCancel(ctx)
	defer stopRead()
	readDone := make(chan error, 1)
	go func() {
		readDone <- ch.ReceiveLoop(readCtx, a.io.Printer.Message)
	}()
	keepalive.Go(func() {
		a.client.RunKeepalive(readCtx, ch, a.opts.Keepalive())
	})

	if err := a.sendSample(ctx, ch); err != nil {
		stopRead()
		<-readDone
		return err
	}

	if a.opts.Once {
		runctx.SleepOrDone(ctx, a.onceWindow)
		stopRead()
		return receiveResult(<-readDone)
	}
	return a.interactive(ctx, ch, stopRead, readDone)
}

func (a *ClientApp) sendSample(ctx context.Context, ch *wschannel.Channel) error {
	sample := map[string]any{"hello": "world", "ts": time.Now().UnixMilli()}
	if chatID := strings.TrimSpace(a.opts.ChatID); chatID != "" {
		payload, err := json.Marshal(sample)
		if err != nil {
			return err
		}
		if err := ch.Send(ctx, envelope.ChatMessage(chatID, string(payload))); err != nil {
			return fmt.Errorf("send sample: %w", err)
		}
		a.io.Printer.Notice("sent to chat %s", chatID)
		return nil
	}
	if err := a.client.Produce(ctx, ch, a.opts.ProduceTopic, a.opts.ProduceKey, a.opts.Headers(), sample); err != nil {
		return fmt.Errorf("send sample: %w", err)
	}
	a.io.Printer.Notice("sent to %s", a.opts.ProduceTopic)
	return nil
}

func (a *ClientApp) interactive(ctx context.Context, ch *wschannel.Channel, stopRead context.CancelFunc, readDone <-chan error) error {
	if a.io.OpenInput == nil {
		<-readDone
		return nil
	}
	reader, err := a.io.OpenInput()
	if err != nil {
		stopRead()
		<-readDone
		return fmt.Errorf("open input: %w", err)
	}
	defer reader.Close()
	if a.opts.ChatID != "" {
		a.io.Printer.Notice("type messages for chat %s; empty line skips, Ctrl+C exits", a.opts.ChatID)
	} else {
		a.io.Printer.Notice("type JSON to produce to %s; empty line skips, Ctrl+C exits", a.opts.ProduceTopic)
	}

	lines := console.Lines(ctx, reader, a.logger)
	for {
		select {
		case err := <-readDone:
			return receiveResult(err)
		case line, ok := <-lines:
			if !ok {
				stopRead()
				return receiveResult(<-readDone)
			}
			if err := a.sendLine(ctx, ch, line); err != nil {
				stopRead()
				<-readDone
				return err
			}
		}
	}
}

// sendLine publishes one input line. Bad input and timeouts are reported and
// skipped; a closed channel ends the session.
func (a *ClientApp) sendLine(ctx context.Context, ch *wschannel.Channel, line string) error {
	var err error
	if chatID := strings.TrimSpace(a.opts.ChatID); chatID != "" {
		err = ch.Send(ctx, envelope.ChatMessage(chatID, line))
	} else {
		var value json.RawMessage
		if parseErr := json.Unmarshal([]byte(line), &value); parseErr != nil {
			a.io.Printer.Problem("invalid JSON: %v", parseErr)
			return nil
		}
		err = a.client.Produce(ctx, ch, a.opts.ProduceTopic, a.opts.ProduceKey, a.opts.Headers(), value)
	}
	switch {
	case err == nil:
		a.io.Printer.Notice("sent")
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, proxyerr.ErrChannelClosed):
		return fmt.Errorf("send: %w", err)
	default:
		a.io.Printer.Problem("send failed: %v", err)
		return nil
	}
}

func (a *ClientApp) runStream(ctx context.Context) error {
	params := a.opts.StreamParams()
	streamCtx := ctx
	if a.opts.Once {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, a.onceWindow)
		defer cancel()
	}
	onEvent := func(event sse.Event) {
		a.setRuntimeStatus(runstatus.Subscribed)
		a.io.Printer.Event(event)
	}

	var err error
	if a.opts.Reconnect && !a.opts.Once {
		err = a.client.Follow(streamCtx, params, onEvent, client.FollowHooks{
			OnRetry: func(retryErr error, next time.Duration) {
				a.setRuntimeStatus(runstatus.Reconnecting)
				a.io.Printer.Problem("stream dropped (%v), retrying in %s", retryErr, next.Round(time.Millisecond))
			},
		})
	} else {
		a.setRuntimeStatus(runstatus.Connected)
		err = a.client.Stream(streamCtx, params, onEvent)
	}
	if err != nil && a.opts.Once && streamCtx.Err() != nil && ctx.Err() == nil {
		return nil
	}
	return err
}

// receiveResult maps the receive loop outcome once this side stopped it.
func receiveResult(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("receive: %w", err)
}

type runtimeStatusState struct {
	mu      sync.Mutex
	current runstatus.Status
}

func (s *runtimeStatusState) update(status runstatus.Status) (runstatus.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == status {
		return s.current, false
	}
	previous := s.current
	s.current = status
	return previous, true
}

func (a *ClientApp) setRuntimeStatus(status runstatus.Status) {
	previous, changed := a.status.update(status)
	if !changed {
		return
	}
	a.logger.Debug("runtime status transition",
		logging.Field("from", previous.Key()),
		logging.Field("to", status.Key()),
	)
	if a.hooks.OnStatusChange != nil {
		a.hooks.OnStatusChange(status)
	}
}
