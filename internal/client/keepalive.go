package client

import (
	"context"
	"errors"
	"time"

	"kafka-proxy-client/internal/logging"
	"kafka-proxy-client/internal/proxyerr"
)

// KeepaliveSender is implemented by *wschannel.Channel.
type KeepaliveSender interface {
	SendKeepalive(ctx context.Context) error
}

// RunKeepalive pings ch every interval until ctx is done or the channel is
// closed. A failed ping is logged and the loop keeps going.
func (c *Client) RunKeepalive(ctx context.Context, ch KeepaliveSender, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("stopping keepalive: context canceled", logging.Field("error", ctx.Err()))
			return
		case <-ticker.C:
			err := ch.SendKeepalive(ctx)
			switch {
			case err == nil:
				c.logger.Debug("keepalive sent")
			case errors.Is(err, proxyerr.ErrChannelClosed):
				c.logger.Debug("stopping keepalive: channel closed")
				return
			case ctx.Err() != nil:
				return
			default:
				c.logger.Warn("keepalive failed", logging.Field("error", err))
			}
		}
	}
}
