package executor

import (
	"context"
	"testing"
)

func TestFakeExecutorStartAndLifecycle(t *testing.T) {
	fe := NewFakeExecutor()
	ctx := context.Background()

	if err := fe.Start(ctx, "sess-1", "echo hi", "/tmp", nil, "/tmp/sess-1.log"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, err := fe.IsAlive(ctx, "sess-1")
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if result.State != StateRunning {
		t.Fatalf("state = %v, want Running", result.State)
	}

	fe.Finish("sess-1", 0)
	result, err = fe.IsAlive(ctx, "sess-1")
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if result.State != StateExited || result.ExitCode != 0 {
		t.Fatalf("got %+v, want exited/0", result)
	}
}

func TestFakeExecutorStartDuplicateFails(t *testing.T) {
	fe := NewFakeExecutor()
	ctx := context.Background()
	if err := fe.Start(ctx, "dup", "cmd", "/tmp", nil, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := fe.Start(ctx, "dup", "cmd", "/tmp", nil, ""); err == nil {
		t.Fatal("expected AlreadyExists error on duplicate Start")
	}
}

func TestFakeExecutorVanish(t *testing.T) {
	fe := NewFakeExecutor()
	ctx := context.Background()
	_ = fe.Start(ctx, "sess", "cmd", "/tmp", nil, "")
	fe.Vanish("sess")

	result, err := fe.IsAlive(ctx, "sess")
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if result.State != StateMissing {
		t.Fatalf("state = %v, want Missing", result.State)
	}
}

func TestFakeExecutorTerminateUnknownSession(t *testing.T) {
	fe := NewFakeExecutor()
	if err := fe.Terminate(context.Background(), "nope"); err == nil {
		t.Fatal("expected error terminating unknown session")
	}
}

func TestFakeExecutorFailStart(t *testing.T) {
	fe := NewFakeExecutor()
	sentinel := &fakeErr{"boom"}
	fe.FailStart["will-fail"] = sentinel

	err := fe.Start(context.Background(), "will-fail", "cmd", "/tmp", nil, "")
	if err != sentinel {
		t.Fatalf("got %v, want sentinel error", err)
	}

	// FailStart is consumed after one use.
	if err := fe.Start(context.Background(), "will-fail", "cmd", "/tmp", nil, ""); err != nil {
		t.Fatalf("second Start should succeed, got %v", err)
	}
}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }
