package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"kafka-proxy-client/internal/config"
	"kafka-proxy-client/internal/logging"
	"kafka-proxy-client/internal/proxyerr"
	"kafka-proxy-client/internal/runctx"
	"kafka-proxy-client/internal/runstatus"
	"kafka-proxy-client/internal/runtime"
)

var BuildVersion = "dev"

const shutdownTimeout = 8 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	opts, err := config.Load(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := logging.New(opts.Debug)
	defer func() {
		_ = logger.Close()
	}()
	if opts.PersistLogs {
		if err := logger.EnableFilePersistence(0); err != nil {
			logger.Warn("file log persistence unavailable", logging.Field("error", err))
		}
	}
	logger.Debug("starting", logging.Field("version", BuildVersion))

	if opts.SaveSettings {
		path := opts.SettingsPath()
		if err := config.SaveSettings(path, config.SettingsFromOptions(opts)); err != nil {
			fmt.Fprintln(os.Stderr, "save settings:", err)
			return 1
		}
		fmt.Fprintln(os.Stdout, "settings saved to", path)
		return 0
	}

	exitErr := make(chan error, 1)
	controller := runtime.NewController(rootCtx)
	err = controller.Start(opts, logger, runtime.StartHooks{
		OnStatus: func(status runstatus.Status) {
			if status.Live() || status.Final() {
				logger.Info("session status", logging.Field("status", status.Key()))
				return
			}
			logger.Debug("session status", logging.Field("status", status.Key()))
		},
		OnExit: func(err error) {
			exitErr <- err
		},
	})
	if err != nil {
		return exitCode(err)
	}

	if err, ok := runctx.RecvOrDone(rootCtx, "session wait", logger, exitErr); ok {
		return exitCode(err)
	}
	logger.Info("shutting down", logging.Field("session_running", controller.IsRunning()))
	if !controller.StopAndWait(shutdownTimeout) {
		logger.Warn("shutdown timed out", logging.Field("timeout", shutdownTimeout.String()))
		return 1
	}
	return exitCode(<-exitErr)
}

func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, proxyerr.ErrConfiguration):
		fmt.Fprintln(os.Stderr, err)
		return 2
	default:
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
}
