// Package client ties token acquisition to the socket channel and the push
// stream.
package client

import (
	"context"
	"time"

	"kafka-proxy-client/internal/auth"
	"kafka-proxy-client/internal/envelope"
	"kafka-proxy-client/internal/logging"
	"kafka-proxy-client/internal/proxyerr"
	"kafka-proxy-client/internal/sse"
	"kafka-proxy-client/internal/wschannel"
)

const (
	DefaultKeepaliveInterval = 20 * time.Second
	reconnectDelay           = 2 * time.Second
	reconnectMaxDelay        = 30 * time.Second
)

type Options struct {
	Tokens  auth.Source
	Channel wschannel.Options
	Stream  sse.Reader
	Logger  *logging.Logger
}

type Client struct {
	tokens  auth.Source
	channel wschannel.Options
	stream  sse.Reader
	logger  *logging.Logger

	reconnectDelay    time.Duration
	reconnectMaxDelay time.Duration
}

func New(opts Options) *Client {
	if opts.Tokens == nil {
		panic("client.New: token source must not be nil")
	}
	channel := opts.Channel
	if channel.Logger == nil {
		channel.Logger = opts.Logger
	}
	stream := opts.Stream
	if stream.Logger == nil {
		stream.Logger = opts.Logger
	}
	return &Client{
		tokens:            opts.Tokens,
		channel:           channel,
		stream:            stream,
		logger:            opts.Logger.Named("client"),
		reconnectDelay:    reconnectDelay,
		reconnectMaxDelay: reconnectMaxDelay,
	}
}

type invalidator interface {
	Invalidate()
}

// tokenRejected drops a cached token the proxy refused so the next attempt
// acquires a new one.
func (c *Client) tokenRejected(err error) {
	if !proxyerr.IsUnauthorized(err) {
		return
	}
	if source, ok := c.tokens.(invalidator); ok {
		c.logger.Debug("proxy rejected access token, dropping cached token", logging.Field("status", proxyerr.StatusCode(err)))
		source.Invalidate()
	}
}

// Authenticate makes sure a token is available, acquiring one if needed.
func (c *Client) Authenticate(ctx context.Context) (auth.AccessToken, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return auth.AccessToken{}, err
	}
	if token.ExpiresAt.IsZero() {
		c.logger.Debug("using supplied access token")
	} else {
		c.logger.Debug("access token ready", logging.Field("expires_at", token.ExpiresAt.Format(time.RFC3339)))
	}
	return token, nil
}

// OpenChannel acquires a token and returns a connected channel.
func (c *Client) OpenChannel(ctx context.Context) (*wschannel.Channel, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	ch := wschannel.New(c.channel)
	if err := ch.Connect(ctx, token.Token); err != nil {
		c.tokenRejected(err)
		return nil, err
	}
	return ch, nil
}

// Sender is the write side of a channel.
type Sender interface {
	Send(ctx context.Context, env *envelope.Envelope) error
}

// Subscribe asks the proxy to deliver topics on ch starting at from.
func (c *Client) Subscribe(ctx context.Context, ch Sender, topics []string, from string) error {
	env := envelope.Subscribe(topics, from)
	if err := ch.Send(ctx, env); err != nil {
		return err
	}
	position, _ := env.String("from")
	c.logger.Info("subscribed", logging.Field("topics", topics), logging.Field("from", position))
	return nil
}

// Produce publishes value to topic through ch.
func (c *Client) Produce(ctx context.Context, ch Sender, topic string, key string, headers map[string]string, value any) error {
	env, err := envelope.Produce(topic, key, headers, value)
	if err != nil {
		return err
	}
	if err := ch.Send(ctx, env); err != nil {
		return err
	}
	c.logger.Debug("produced", logging.Field("topic", topic), logging.Field("key", key))
	return nil
}
