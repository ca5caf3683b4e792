// Package shutdown coordinates gflowd's exit sequence by running the
// teardown steps the daemon registers, last-registered first: gflowd
// stops its HTTP listener, then the cleanup sweep, then the tracer, and
// closes the audit sink last. Saving the scheduler's state is not one of
// these steps; POST /shutdown saves it before starting the sequence.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Manager runs gflowd's registered shutdown steps in LIFO order once
// either an OS signal arrives or Shutdown is called directly (the
// gflowd restart subcommand triggers the latter over the API instead of
// signalling the process).
type Manager struct {
	shutdownFuncs []func(context.Context) error
	mu            sync.Mutex
	timeout       time.Duration
	doneChan      chan struct{}
	once          sync.Once
}

// New creates a shutdown manager that gives every registered step up to
// timeout, combined, to finish before Shutdown returns regardless.
func New(timeout time.Duration) *Manager {
	return &Manager{
		shutdownFuncs: make([]func(context.Context) error, 0),
		timeout:       timeout,
		doneChan:      make(chan struct{}),
	}
}

// Register adds a step to run on shutdown. Steps run last-registered
// first, so gflowd registers the HTTP server after the audit sink: the
// server stops taking requests while the audit sink is still open to
// receive whatever those in-flight requests still need to record.
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, fn)
}

// Wait blocks until SIGTERM or SIGINT arrives, then closes Done() and
// runs the registered steps. It never returns while the process is meant
// to keep running, so callers invoke it from main's final line.
func (m *Manager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	fmt.Printf("\ngflowd received %v, saving state and shutting down\n", sig)

	m.once.Do(func() {
		close(m.doneChan)
	})
	m.Shutdown()
}

// Done returns a channel closed once a shutdown signal has been
// observed, so the tick loop can stop scheduling new dispatches before
// Shutdown starts tearing down the HTTP listener and audit sink under it.
func (m *Manager) Done() <-chan struct{} {
	return m.doneChan
}

// Shutdown runs every registered step, most recently registered first,
// within one shared timeout budget. A step's error is logged but does
// not stop the remaining steps from running — a failed tracer flush
// should not keep the audit sink from still being closed.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for i := len(m.shutdownFuncs) - 1; i >= 0; i-- {
		fn := m.shutdownFuncs[i]

		if err := fn(ctx); err != nil {
			fmt.Printf("gflowd: shutdown step %d failed: %v\n", i, err)
		}
	}

	fmt.Println("gflowd stopped")
}

// WaitWithContext behaves like Wait but also returns early if ctx is
// cancelled first, without running the shutdown steps — used by tests
// that want to bound how long they wait for a signal that may never come.
func (m *Manager) WaitWithContext(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigChan:
		fmt.Printf("\ngflowd received %v, saving state and shutting down\n", sig)
		m.Shutdown()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopHTTPServer registers the API listener as a shutdown step. name
// appears in the log line so a multi-listener daemon (unix socket plus
// TCP, say) can tell which one is being stopped.
func StopHTTPServer(server interface{ Shutdown(context.Context) error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		fmt.Printf("gflowd: stopping %s listener\n", name)
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("stop %s listener: %w", name, err)
		}
		fmt.Printf("gflowd: %s listener stopped\n", name)
		return nil
	}
}

// CloseResource registers a Closer (the audit sink's *sql.DB, typically)
// as a shutdown step.
func CloseResource(closer interface{ Close() error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		fmt.Printf("gflowd: closing %s\n", name)
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close %s: %w", name, err)
		}
		fmt.Printf("gflowd: %s closed\n", name)
		return nil
	}
}

// WaitForJobs polls checkFunc until it reports true or ctx expires. It is
// not currently wired into gflowd's own shutdown sequence — §5 leaves
// Running jobs in their tmux sessions across a restart rather than
// draining them first — but stays available for a deployment-specific
// shutdown hook that does want to wait out in-flight jobs before exiting.
func WaitForJobs(checkFunc func() bool, pollInterval time.Duration, resourceName string) func(context.Context) error {
	return func(ctx context.Context) error {
		fmt.Printf("gflowd: waiting for %s\n", resourceName)

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			if checkFunc() {
				fmt.Printf("gflowd: %s done\n", resourceName)
				return nil
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("timeout waiting for %s: %w", resourceName, ctx.Err())
			case <-ticker.C:
			}
		}
	}
}
