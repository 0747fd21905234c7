package client

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"kafka-proxy-client/internal/logging"
	"kafka-proxy-client/internal/proxyerr"
	"kafka-proxy-client/internal/sse"
)

var errStreamEnded = errors.New("event stream ended by server")

// Stream acquires a token and runs one subscription until it ends.
func (c *Client) Stream(ctx context.Context, params sse.Params, onEvent func(sse.Event)) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	err = c.stream.Subscribe(ctx, token.Token, params, onEvent)
	c.tokenRejected(err)
	return err
}

type FollowHooks struct {
	// OnRetry runs before each resubscribe attempt.
	OnRetry func(err error, next time.Duration)
}

// Follow keeps a subscription alive across server disconnects with
// exponential backoff. Each attempt starts a fresh subscription from
// params.From. It returns ctx.Err() on cancellation, or the first error that
// retrying cannot fix (configuration, token endpoint rejection, bad framing).
func (c *Client) Follow(ctx context.Context, params sse.Params, onEvent func(sse.Event), hooks FollowHooks) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = c.reconnectDelay
	retry.MaxInterval = c.reconnectMaxDelay
	retry.Reset()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.Stream(ctx, params, onEvent)
		switch {
		case err == nil:
			c.logger.Debug("event stream ended, resubscribing")
			return struct{}{}, errStreamEnded
		case ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(ctx.Err())
		case errors.Is(err, proxyerr.ErrConfiguration),
			errors.Is(err, proxyerr.ErrAuthentication),
			errors.Is(err, proxyerr.ErrFrameDecode):
			return struct{}{}, backoff.Permanent(err)
		}
		c.logger.Warn("event stream disconnected", logging.Field("error", err))
		return struct{}{}, err
	},
		backoff.WithBackOff(retry),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("retrying event stream",
				logging.Field("error", err),
				logging.Field("next_retry", next.String()))
			if hooks.OnRetry != nil {
				hooks.OnRetry(err, next)
			}
		}),
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.logger.Debug("event stream follow stopped: context canceled", logging.Field("error", ctxErr))
		return ctxErr
	}
	return err
}
