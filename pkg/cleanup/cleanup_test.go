package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/AndPuQing/gflow/pkg/executor"
	"github.com/AndPuQing/gflow/pkg/logging"
)

type fakeJobSource struct{ live map[string]struct{} }

func (f fakeJobSource) LiveSessionNames() map[string]struct{} { return f.live }

type fakeSessionLister struct{ sessions []string }

func (f fakeSessionLister) ListSessions(ctx context.Context) ([]string, error) {
	return f.sessions, nil
}

func TestSweepTerminatesUntrackedSessions(t *testing.T) {
	fe := executor.NewFakeExecutor()
	ctx := context.Background()
	_ = fe.Start(ctx, "tracked", "cmd", "/tmp", nil, "")
	_ = fe.Start(ctx, "stray", "cmd", "/tmp", nil, "")

	m := New(Config{Enabled: true, Interval: time.Hour},
		fakeJobSource{live: map[string]struct{}{"tracked": {}}},
		fakeSessionLister{sessions: []string{"tracked", "stray"}},
		fe,
		logging.NewLogger(logging.ERROR, false),
	)

	m.sweep()

	stats := m.Stats()
	if stats.TotalKilled != 1 {
		t.Fatalf("killed = %d, want 1", stats.TotalKilled)
	}

	result, err := fe.IsAlive(ctx, "stray")
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if result.State != executor.StateExited {
		t.Errorf("stray session state = %v, want Exited", result.State)
	}

	result, err = fe.IsAlive(ctx, "tracked")
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if result.State != executor.StateRunning {
		t.Errorf("tracked session should be left alone, got %v", result.State)
	}
}

func TestSweepNoStraySessionsIsNoop(t *testing.T) {
	fe := executor.NewFakeExecutor()
	m := New(Config{Enabled: true, Interval: time.Hour},
		fakeJobSource{live: map[string]struct{}{}},
		fakeSessionLister{sessions: nil},
		fe,
		logging.NewLogger(logging.ERROR, false),
	)
	m.sweep()
	if m.Stats().TotalKilled != 0 {
		t.Errorf("expected no kills, got %d", m.Stats().TotalKilled)
	}
}

func TestStartNoopWhenDisabled(t *testing.T) {
	m := New(DefaultConfig(), fakeJobSource{}, fakeSessionLister{}, executor.NewFakeExecutor(), logging.NewLogger(logging.ERROR, false))
	m.Start()
	m.Stop()
}
