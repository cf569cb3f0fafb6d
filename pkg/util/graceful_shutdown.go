// Package util holds small process-lifetime helpers shared by all three
// binaries: ordered graceful shutdown and panic recovery.
package util

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// GracefulShutdown runs registered shutdown callbacks in priority order,
// each under a deadline, collecting every error rather than stopping at the
// first one — a stuck UDP listener must not prevent the TCP peer from also
// being closed.
type GracefulShutdown struct {
	resources []ShutdownResource
	mu        sync.Mutex
	logger    *logrus.Logger
	timeout   time.Duration
}

// ShutdownResource is one thing to tear down on process exit.
type ShutdownResource struct {
	Name     string
	Shutdown func(context.Context) error
	Priority int // lower numbers shut down first
}

// NewGracefulShutdown creates a shutdown coordinator with an overall deadline.
func NewGracefulShutdown(logger *logrus.Logger, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GracefulShutdown{logger: logger, timeout: timeout}
}

// Register adds a resource, inserted in priority order.
func (gs *GracefulShutdown) Register(resource ShutdownResource) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	for i, r := range gs.resources {
		if resource.Priority < r.Priority {
			gs.resources = append(gs.resources[:i], append([]ShutdownResource{resource}, gs.resources[i:]...)...)
			return
		}
	}
	gs.resources = append(gs.resources, resource)
}

// RegisterCloser registers an io.Closer as a shutdown resource.
func (gs *GracefulShutdown) RegisterCloser(name string, closer io.Closer, priority int) {
	gs.Register(ShutdownResource{
		Name:     name,
		Priority: priority,
		Shutdown: func(context.Context) error { return closer.Close() },
	})
}

// Shutdown runs every registered resource's Shutdown func, in priority
// order, each guarded against panics and against exceeding the overall
// timeout. It returns a MultiShutdownError if any resource failed.
func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	resources := make([]ShutdownResource, len(gs.resources))
	copy(resources, gs.resources)
	gs.mu.Unlock()

	gs.logger.WithField("resource_count", len(resources)).Info("starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	var shutdownErrors []error
	for _, resource := range resources {
		errChan := make(chan error, 1)
		go func(res ShutdownResource) {
			defer func() {
				if r := recover(); r != nil {
					gs.logger.WithFields(logrus.Fields{"panic": r, "resource": res.Name}).Error("panic during resource shutdown")
					errChan <- &ShutdownPanicError{Resource: res.Name, Panic: r}
				}
			}()
			if err := res.Shutdown(shutdownCtx); err != nil {
				errChan <- &ShutdownError{Resource: res.Name, Err: err}
			} else {
				errChan <- nil
			}
		}(resource)

		select {
		case err := <-errChan:
			if err != nil {
				shutdownErrors = append(shutdownErrors, err)
			}
		case <-shutdownCtx.Done():
			shutdownErrors = append(shutdownErrors, &ShutdownTimeoutError{Resource: resource.Name})
		}
	}

	if len(shutdownErrors) > 0 {
		return &MultiShutdownError{Errors: shutdownErrors}
	}
	gs.logger.Info("graceful shutdown completed")
	return nil
}

type ShutdownError struct {
	Resource string
	Err      error
}

func (e *ShutdownError) Error() string { return "shutdown error for " + e.Resource + ": " + e.Err.Error() }

type ShutdownTimeoutError struct{ Resource string }

func (e *ShutdownTimeoutError) Error() string { return "shutdown timeout for " + e.Resource }

type ShutdownPanicError struct {
	Resource string
	Panic    interface{}
}

func (e *ShutdownPanicError) Error() string { return "panic during shutdown of " + e.Resource }

type MultiShutdownError struct{ Errors []error }

func (e *MultiShutdownError) Error() string { return "multiple errors during shutdown" }
