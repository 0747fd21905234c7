// Package sse subscribes to the proxy's server-sent event stream.
package sse

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"kafka-proxy-client/internal/logging"
	"kafka-proxy-client/internal/netpolicy"
	"kafka-proxy-client/internal/proxyerr"
)

// Params select what the stream delivers. They are appended to any query
// already present on the reader's URL.
type Params struct {
	ChatID string
	Topics []string
	// From is a replay position such as "latest", "beginning" or a cursor.
	From  string
	Query url.Values
}

func (p Params) encode(base url.Values) url.Values {
	query := url.Values{}
	for key, values := range base {
		query[key] = append([]string(nil), values...)
	}
	if chatID := strings.TrimSpace(p.ChatID); chatID != "" {
		query.Set("chatId", chatID)
	}
	if topics := cleanTopics(p.Topics); len(topics) > 0 {
		query.Set("topics", strings.Join(topics, ","))
	}
	if from := strings.TrimSpace(p.From); from != "" {
		query.Set("from", from)
	}
	for key, values := range p.Query {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	return query
}

func cleanTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		name := strings.TrimSpace(topic)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

type Reader struct {
	HTTP         *http.Client
	URL          string
	Policy       netpolicy.Policy
	ForceHTTP1   bool
	MaxLineBytes int
	Logger       *logging.Logger
}

// Subscribe opens the stream and delivers events to onEvent until the body
// ends (nil), ctx is canceled (ctx.Err()) or the transport fails. It never
// resubscribes.
func (r Reader) Subscribe(ctx context.Context, token string, params Params, onEvent func(Event)) error {
	if onEvent == nil {
		panic("sse.Reader.Subscribe: onEvent must not be nil")
	}
	logger := r.Logger.Named("sse")

	target, err := r.Policy.CheckHTTP("sse_url", r.URL)
	if err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return proxyerr.Config("access_token", "is required")
	}
	if strings.TrimSpace(params.ChatID) == "" && len(cleanTopics(params.Topics)) == 0 {
		return proxyerr.Config("chat_id", "or topics is required")
	}
	target.RawQuery = params.encode(target.Query()).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return proxyerr.Wrap(proxyerr.ErrSubscription, "subscribe", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.streamClient().Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Warn("stream connect failed", logging.Field("error", err))
		return proxyerr.Wrap(proxyerr.ErrNetwork, "subscribe", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := logging.ReadErrorBody(resp.Body, 2048)
		logger.Warn("stream subscription rejected",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload([]byte(body))),
		)
		return &proxyerr.StatusError{Kind: proxyerr.ErrSubscription, StatusCode: resp.StatusCode, Status: resp.Status, Body: body}
	}
	logger.Info("stream subscribed", logging.Field("url", target.String()))

	err = ReadEvents(resp.Body, r.MaxLineBytes, onEvent)
	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Debug("stopping stream: context canceled", logging.Field("error", ctxErr))
		return ctxErr
	}
	if err == nil {
		logger.Debug("stream ended by server")
		return nil
	}
	if errors.Is(err, proxyerr.ErrFrameDecode) {
		return err
	}
	logger.Warn("stream read failed", logging.Field("error", err))
	return proxyerr.Wrap(proxyerr.ErrNetwork, "read stream", err)
}

func (r Reader) streamClient() *http.Client {
	var client http.Client
	if r.HTTP != nil {
		client = *r.HTTP
	}
	if client.Transport == nil {
		client.Transport = r.Policy.Transport()
	}
	// The body stays open for the life of the subscription.
	client.Timeout = 0
	if r.ForceHTTP1 {
		client.Transport = netpolicy.HTTP1Only(client.Transport)
	}
	return &client
}
