// Package executor defines the scheduler's contract with the detached
// terminal-multiplexer sessions jobs run inside, and a tmux-backed
// implementation of it.
package executor

import "context"

// LivenessState is the result of polling a session.
type LivenessState int

const (
	StateRunning LivenessState = iota
	StateExited
	StateMissing
)

// LivenessResult carries the outcome of IsAlive, including the exit code
// when the session has already exited.
type LivenessResult struct {
	State    LivenessState
	ExitCode int
}

// Executor is the opaque contract the scheduler drives sessions through.
// The scheduler never touches processes directly; every implementation
// (tmux-backed, a fake for tests) satisfies this interface.
type Executor interface {
	// Start launches command inside a new detached session named name,
	// rooted at workingDir, with env applied on top of the session's
	// inherited environment, and stdout/stderr captured to logPath.
	// Returns an *models.ExecutorError wrapping ExecutorAlreadyExists or
	// ExecutorSpawn on failure.
	Start(ctx context.Context, name, command, workingDir string, env map[string]string, logPath string) error

	// IsAlive reports whether the named session is still running, has
	// exited (with its exit code), or is gone entirely.
	IsAlive(ctx context.Context, name string) (LivenessResult, error)

	// Terminate asks the session to stop. It does not block until the
	// session is actually gone; the scheduler observes that on the next
	// tick's IsAlive call.
	Terminate(ctx context.Context, name string) error

	// CaptureLog ensures the session's stdout+stderr is being appended to
	// logPath. Safe to call multiple times.
	CaptureLog(ctx context.Context, name, logPath string) error
}
