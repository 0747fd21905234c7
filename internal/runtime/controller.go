package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"kafka-proxy-client/internal/config"
	"kafka-proxy-client/internal/console"
	"kafka-proxy-client/internal/logging"
	"kafka-proxy-client/internal/runstatus"
)

// ErrAlreadyRunning is returned by Start while a session is active.
var ErrAlreadyRunning = errors.New("client session is already running")

// Controller runs at most one session at a time under rootCtx.
type Controller struct {
	rootCtx context.Context

	mu      sync.Mutex
	current *session
}

type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type StartHooks struct {
	// Printer receives traffic output; stdout when nil.
	Printer  *console.Printer
	OnStatus func(runstatus.Status)
	// OnExit runs once with the session result before Wait returns.
	OnExit func(error)
}

func NewController(rootCtx context.Context) *Controller {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Controller{rootCtx: rootCtx}
}

// Start builds the session for opts and runs it in the background.
func (c *Controller) Start(opts config.Options, logger *logging.Logger, hooks StartHooks) error {
	if logger == nil {
		panic("runtime.Controller.Start: logger must not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return ErrAlreadyRunning
	}

	service, err := NewService(opts, logger, hooks)
	if err != nil {
		return err
	}
	logger.Debug("session start requested",
		logging.Field("mode", opts.Mode),
		logging.Field("once", opts.Once),
		logging.Field("reconnect", opts.Reconnect),
	)

	ctx, cancel := context.WithCancel(c.rootCtx)
	s := &session{cancel: cancel, done: make(chan struct{})}
	c.current = s
	go c.run(ctx, s, service, logger, hooks.OnExit)
	return nil
}

func (c *Controller) run(ctx context.Context, s *session, service Service, logger *logging.Logger, onExit func(error)) {
	defer close(s.done)
	defer s.cancel()

	runErr := service.RunContext(ctx)
	switch {
	case runErr != nil && ctx.Err() != nil:
		logger.Debug("session ended by cancellation", logging.Field("error", runErr))
	case runErr != nil:
		logger.Warn("session ended with error", logging.Field("error", runErr))
	default:
		logger.Info("session ended")
	}

	if onExit != nil {
		onExit(runErr)
	}
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()
}

func (c *Controller) active() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) Stop() {
	if s := c.active(); s != nil {
		s.cancel()
	}
}

// Wait blocks until the active session has finished, or timeout elapses
// when positive. It reports whether the session finished.
func (c *Controller) Wait(timeout time.Duration) bool {
	s := c.active()
	if s == nil {
		return true
	}
	return waitDone(s.done, timeout)
}

// StopAndWait cancels the active session and waits like Wait.
func (c *Controller) StopAndWait(timeout time.Duration) bool {
	c.Stop()
	return c.Wait(timeout)
}

func (c *Controller) IsRunning() bool {
	return c.active() != nil
}

func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	if timeout <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
