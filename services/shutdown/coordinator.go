package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/apxor/browserpool/logger"
)

// Handler performs one component's graceful teardown.
type Handler func(context.Context) error

// Coordinator runs every registered Handler concurrently, each in its own
// goroutine, under one bounded overall timeout. Goroutines are started in
// reverse registration order; the order in which handlers finish is not
// defined.
type Coordinator struct {
	mu           sync.Mutex
	handlers     []Handler
	handlerNames []string

	shutdownOnce sync.Once
	shutdownChan chan struct{}
	timeout      time.Duration
}

// NewCoordinator returns a Coordinator bounding the whole shutdown sequence
// to timeout.
func NewCoordinator(timeout time.Duration) *Coordinator {
	return &Coordinator{
		shutdownChan: make(chan struct{}),
		timeout:      timeout,
	}
}

// RegisterHandler adds a named teardown step.
func (c *Coordinator) RegisterHandler(name string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
	c.handlerNames = append(c.handlerNames, name)
}

// Start listens for SIGINT/SIGTERM/SIGHUP/SIGQUIT and triggers Shutdown.
func (c *Coordinator) Start() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		c.Shutdown()
	}()
}

// Shutdown runs every registered handler exactly once, all concurrently.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		logger.Info("starting graceful shutdown")
		close(c.shutdownChan)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.executeShutdown(ctx)
	})
}

func (c *Coordinator) executeShutdown(ctx context.Context) {
	var wg sync.WaitGroup
	errCh := make(chan error, len(c.handlers))

	for i := len(c.handlers) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			name := c.handlerNames[idx]
			handler := c.handlers[idx]

			logger.Info("shutting down", zap.String("component", name))
			if err := handler(ctx); err != nil {
				logger.Error("shutdown handler failed", zap.String("component", name), zap.Error(err))
				errCh <- err
				return
			}
			logger.Info("shutdown complete", zap.String("component", name))
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all components shut down gracefully")
	case <-ctx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}

	close(errCh)
	errCount := 0
	for range errCh {
		errCount++
	}
	if errCount > 0 {
		logger.Warn("shutdown completed with errors", zap.Int("error_count", errCount))
	}
}

// WaitForShutdown blocks until Shutdown has been triggered.
func (c *Coordinator) WaitForShutdown() {
	<-c.shutdownChan
}

// poolShutdowner is the subset of *pool.Pool the coordinator needs; kept as
// an interface to avoid an import cycle with the pool package's tests.
type poolShutdowner interface {
	Shutdown(ctx context.Context, grace time.Duration) error
}

// CreatePoolShutdown builds the handler that drains and tears down the
// context pool.
func CreatePoolShutdown(p poolShutdowner, grace time.Duration) Handler {
	return func(ctx context.Context) error {
		return p.Shutdown(ctx, grace)
	}
}

// httpShutdowner is the subset of http.Server the coordinator needs.
type httpShutdowner interface {
	Shutdown(context.Context) error
}

// CreateHTTPServerShutdown builds the handler that stops the HTTP adapter.
func CreateHTTPServerShutdown(server httpShutdowner) Handler {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}

// archiveCloser is the subset of the archiver the coordinator needs.
type archiveCloser interface {
	Close(context.Context) error
}

// CreateArchiveShutdown builds the handler that flushes the persistence
// archiver, if one is configured.
func CreateArchiveShutdown(a archiveCloser) Handler {
	return func(ctx context.Context) error {
		return a.Close(ctx)
	}
}

// eventlogCloser is the subset of the event log sinks the coordinator needs.
type eventlogCloser interface {
	Close() error
}

// CreateEventlogShutdown builds the handler that closes event sink
// connections.
func CreateEventlogShutdown(e eventlogCloser) Handler {
	return func(ctx context.Context) error {
		done := make(chan error, 1)
		go func() { done <- e.Close() }()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
