// Package runtime builds a client session from options and runs it under a
// cancelable controller.
package runtime

import (
	"context"
	"os"
	"strings"

	"kafka-proxy-client/internal/app"
	"kafka-proxy-client/internal/auth"
	"kafka-proxy-client/internal/client"
	"kafka-proxy-client/internal/config"
	"kafka-proxy-client/internal/console"
	"kafka-proxy-client/internal/logging"
)

const promptText = "> "

type Service interface {
	RunContext(ctx context.Context) error
}

// NewService validates opts and builds the session that Controller runs.
func NewService(opts config.Options, logger *logging.Logger, hooks StartHooks) (Service, error) {
	if logger == nil {
		panic("runtime.NewService: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}

	tokens, err := tokenSource(opts, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("constructed client endpoints",
		logging.Field("mode", opts.Mode),
		logging.Field("token_url", opts.Auth().TokenURL()),
		logging.Field("ws_url", opts.WSURL),
		logging.Field("sse_url", opts.SSEURL),
	)

	proxyClient := client.New(client.Options{
		Tokens:  tokens,
		Channel: opts.Channel(logger),
		Stream:  opts.Stream(logger),
		Logger:  logger,
	})
	streams := app.IO{
		Printer: hooks.Printer,
	}
	if streams.Printer == nil {
		streams.Printer = console.NewPrinter(os.Stdout)
	}
	streams.OpenInput = func() (console.LineReader, error) {
		prompt, err := console.NewPrompt(promptText)
		if err != nil {
			return nil, err
		}
		streams.Printer.SetOutput(prompt.Stdout())
		logger.SetOutput(prompt.Stderr(), logging.TerminalSupportsColor())
		return prompt, nil
	}
	return app.New(opts, proxyClient, streams, logger, app.Callbacks{
		OnStatusChange: hooks.OnStatus,
	}), nil
}

// tokenSource prefers a supplied access token over the token endpoint.
func tokenSource(opts config.Options, logger *logging.Logger) (auth.Source, error) {
	if strings.TrimSpace(opts.AccessToken) != "" {
		logger.Debug("using access token from options")
		return auth.NewStaticSource(opts.AccessToken)
	}
	acquirer := auth.NewAcquirer(opts.Auth(), nil, logger)
	return auth.NewCachingSource(acquirer, logger), nil
}
