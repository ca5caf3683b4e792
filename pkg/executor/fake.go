package executor

import (
	"context"
	"sync"

	"github.com/AndPuQing/gflow/pkg/models"
)

// FakeSession is the state of one session in a FakeExecutor.
type FakeSession struct {
	Command    string
	WorkingDir string
	Env        map[string]string
	Result     LivenessResult
}

// FakeExecutor is an in-memory Executor for scheduler tests. Tests drive
// job completion by mutating Sessions[name].Result directly.
type FakeExecutor struct {
	mu       sync.Mutex
	Sessions map[string]*FakeSession

	// FailStart, when set, makes the next Start call for this name fail
	// with the given error instead of succeeding.
	FailStart map[string]error

	// StartHook, if set, runs synchronously inside Start before it
	// records the session, with the FakeExecutor's own lock released.
	// Scheduler tests use it to simulate another caller (e.g. Cancel)
	// acting on the job during the real Start's session-spawn window,
	// when the scheduler's own mutex is briefly released.
	StartHook func(name string)

	// TerminateCalls records every name Terminate was called with, so a
	// test can assert a session was torn down without needing to poll
	// its state.
	TerminateCalls []string
}

func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		Sessions:  make(map[string]*FakeSession),
		FailStart: make(map[string]error),
	}
}

func (f *FakeExecutor) Start(_ context.Context, name, command, workingDir string, env map[string]string, _ string) error {
	if f.StartHook != nil {
		f.StartHook(name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailStart[name]; ok {
		delete(f.FailStart, name)
		return err
	}
	if _, exists := f.Sessions[name]; exists {
		return &models.ExecutorError{Kind: models.ExecutorAlreadyExists, Name: name}
	}
	f.Sessions[name] = &FakeSession{
		Command:    command,
		WorkingDir: workingDir,
		Env:        env,
		Result:     LivenessResult{State: StateRunning},
	}
	return nil
}

func (f *FakeExecutor) IsAlive(_ context.Context, name string) (LivenessResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Sessions[name]
	if !ok {
		return LivenessResult{State: StateMissing}, nil
	}
	return s.Result, nil
}

func (f *FakeExecutor) Terminate(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TerminateCalls = append(f.TerminateCalls, name)
	s, ok := f.Sessions[name]
	if !ok {
		return &models.ExecutorError{Kind: models.ExecutorMissing, Name: name}
	}
	s.Result = LivenessResult{State: StateExited, ExitCode: 130}
	return nil
}

func (f *FakeExecutor) CaptureLog(_ context.Context, _, _ string) error {
	return nil
}

// Finish marks a session as exited with the given code, simulating the
// wrapped command completing on its own.
func (f *FakeExecutor) Finish(name string, exitCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Sessions[name]; ok {
		s.Result = LivenessResult{State: StateExited, ExitCode: exitCode}
	}
}

// Vanish removes a session entirely, simulating a session that died
// without the scheduler's involvement (used to test the "session
// vanished" restart-recovery path).
func (f *FakeExecutor) Vanish(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Sessions, name)
}
