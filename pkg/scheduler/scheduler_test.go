package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AndPuQing/gflow/pkg/clock"
	"github.com/AndPuQing/gflow/pkg/executor"
	"github.com/AndPuQing/gflow/pkg/gpu"
	"github.com/AndPuQing/gflow/pkg/logging"
	"github.com/AndPuQing/gflow/pkg/models"
	"github.com/AndPuQing/gflow/pkg/store"
)

// memStore is a Store that keeps state only in memory, for tests that
// don't care about persistence itself.
type memStore struct {
	state *models.SchedulerState
}

func newMemStore() *memStore { return &memStore{state: models.NewSchedulerState()} }

func (m *memStore) Load() (*models.SchedulerState, error) { return m.state, nil }
func (m *memStore) Save(s *models.SchedulerState) error   { m.state = s; return nil }
func (m *memStore) Status() store.Status                  { return store.StatusOK }

func newTestScheduler(t *testing.T, gpuCount int) (*Scheduler, *executor.FakeExecutor, *clock.FakeClock) {
	t.Helper()
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ids := make([]models.GPUID, gpuCount)
	for i := range ids {
		ids[i] = models.GPUID(i)
	}
	fe := executor.NewFakeExecutor()
	s, err := New(Config{
		Store:        newMemStore(),
		Executor:     fe,
		GPUProbe:     gpu.StaticProbe{IDs: ids},
		Audit:        store.NoopAuditSink{},
		Clock:        fc,
		Logger:       logging.NewLogger(logging.ERROR, false),
		LogDir:       t.TempDir(),
		TickInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, fe, fc
}

func submit(t *testing.T, s *Scheduler, req models.SubmissionRequest) *models.Job {
	t.Helper()
	j, err := s.Submit(req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return j
}

func getJob(t *testing.T, s *Scheduler, id uint64) *models.Job {
	t.Helper()
	j, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob(%d): %v", id, err)
	}
	return j
}

func TestSingleJobTwoGPUsDispatches(t *testing.T) {
	s, fe, _ := newTestScheduler(t, 2)
	j := submit(t, s, models.SubmissionRequest{Command: "train.py", GPUsRequested: 2})

	ctx := context.Background()
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got := getJob(t, s, j.ID)
	if got.State != models.JobRunning {
		t.Fatalf("state = %s, want Running", got.State)
	}
	if len(got.GPUsAssigned) != 2 {
		t.Fatalf("gpus assigned = %v, want 2", got.GPUsAssigned)
	}
	if _, ok := fe.Sessions[got.Name]; !ok {
		t.Fatal("expected executor session to exist")
	}
}

func TestPriorityBeatsFIFO(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)
	low := submit(t, s, models.SubmissionRequest{Command: "a.py", GPUsRequested: 1, Priority: 5})
	high := submit(t, s, models.SubmissionRequest{Command: "b.py", GPUsRequested: 1, Priority: 50})

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if getJob(t, s, high.ID).State != models.JobRunning {
		t.Error("higher priority job should have dispatched first")
	}
	if getJob(t, s, low.ID).State != models.JobQueued {
		t.Error("lower priority job should still be queued, only one GPU available")
	}
}

func TestTimeLimitBonusTieBreak(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)
	limit := int64(60)
	withLimit := submit(t, s, models.SubmissionRequest{Command: "a.py", GPUsRequested: 1, Priority: 10, TimeLimitSecs: &limit})
	noLimit := submit(t, s, models.SubmissionRequest{Command: "b.py", GPUsRequested: 1, Priority: 10})

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if getJob(t, s, withLimit.ID).State != models.JobRunning {
		t.Error("job with a finite time limit should win the tie-break")
	}
	if getJob(t, s, noLimit.ID).State != models.JobQueued {
		t.Error("job without a time limit should lose the tie-break")
	}
}

func TestDependencyCascadeCancelsDependents(t *testing.T) {
	s, fe, _ := newTestScheduler(t, 1)
	parent := submit(t, s, models.SubmissionRequest{Command: "a.py", GPUsRequested: 1})

	auto := true
	child := submit(t, s, models.SubmissionRequest{Command: "b.py", GPUsRequested: 1, DependsOn: "@", AutoCancelOnDepFailure: &auto})

	ctx := context.Background()
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("Tick 1: %v", err)
	}
	if getJob(t, s, parent.ID).State != models.JobRunning {
		t.Fatalf("parent should be running")
	}

	fe.Finish(getJob(t, s, parent.ID).Name, 1)
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("Tick 2: %v", err)
	}

	if got := getJob(t, s, parent.ID).State; got != models.JobFailed {
		t.Fatalf("parent state = %s, want Failed", got)
	}
	if got := getJob(t, s, child.ID).State; got != models.JobCancelled {
		t.Fatalf("child state = %s, want Cancelled", got)
	}
	if getJob(t, s, child.ID).Reason.Kind != models.ReasonDependencyFailed {
		t.Errorf("child reason = %+v, want DependencyFailed", getJob(t, s, child.ID).Reason)
	}
}

func TestRestartFailsRunningJobWithVanishedSession(t *testing.T) {
	ms := newMemStore()
	fc := clock.NewFakeClock(time.Now())
	fe := executor.NewFakeExecutor()

	s1, err := New(Config{
		Store: ms, Executor: fe, GPUProbe: gpu.StaticProbe{IDs: []models.GPUID{0}},
		Audit: store.NoopAuditSink{}, Clock: fc, Logger: logging.NewLogger(logging.ERROR, false),
		LogDir: t.TempDir(), TickInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	j := submit(t, s1, models.SubmissionRequest{Command: "a.py", GPUsRequested: 1})
	if err := s1.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if getJob(t, s1, j.ID).State != models.JobRunning {
		t.Fatalf("job should be running before restart")
	}

	// A fresh scheduler over the same (in-memory) persisted state
	// simulates a daemon restart. The new executor has no session under
	// the job's name, so it must come back Failed rather than Running.
	fe2 := executor.NewFakeExecutor()
	s2, err := New(Config{
		Store: ms, Executor: fe2, GPUProbe: gpu.StaticProbe{IDs: []models.GPUID{0}},
		Audit: store.NoopAuditSink{}, Clock: fc, Logger: logging.NewLogger(logging.ERROR, false),
		LogDir: t.TempDir(), TickInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	got := getJob(t, s2, j.ID)
	if got.State != models.JobFailed {
		t.Fatalf("state after restart = %s, want Failed", got.State)
	}
	if got.Reason.Kind != models.ReasonSystemError {
		t.Errorf("reason = %+v, want SystemError", got.Reason)
	}
}

func TestTimeoutEnforcement(t *testing.T) {
	s, fe, fc := newTestScheduler(t, 1)
	limit := int64(30)
	j := submit(t, s, models.SubmissionRequest{Command: "a.py", GPUsRequested: 1, TimeLimitSecs: &limit})

	ctx := context.Background()
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("Tick 1: %v", err)
	}
	name := getJob(t, s, j.ID).Name

	fc.Advance(31 * time.Second)
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("Tick 2: %v", err)
	}
	if getJob(t, s, j.ID).State != models.JobRunning {
		t.Fatalf("job should still be Running while termination is pending")
	}

	fe.Finish(name, 143)
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("Tick 3: %v", err)
	}
	if got := getJob(t, s, j.ID).State; got != models.JobTimeout {
		t.Fatalf("state = %s, want Timeout", got)
	}
}

func TestSubmitRejectsEmptyCommand(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)
	_, err := s.Submit(models.SubmissionRequest{})
	require.Error(t, err)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "command", ve.Field)
}

func TestSubmitRejectsExcessiveGPURequest(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)
	_, err := s.Submit(models.SubmissionRequest{Command: "a.py", GPUsRequested: 5})
	require.Error(t, err)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "gpus_requested", ve.Field)
}

// TestCancelDuringStartupAbortsTheStart exercises §4.1's tie-break: a
// Cancel arriving while dispatch has released its lock for the
// executor's Start call must win over dispatch's own pending
// "State = Running" commit. FakeExecutor.StartHook runs synchronously
// inside Start, at the point where the scheduler's mutex is actually
// unlocked, so this reproduces the race deterministically without
// goroutines.
func TestCancelDuringStartupAbortsTheStart(t *testing.T) {
	s, fe, fc := newTestScheduler(t, 1)
	j := submit(t, s, models.SubmissionRequest{Command: "a.py", GPUsRequested: 1})

	fe.StartHook = func(name string) {
		if name != j.Name {
			return
		}
		if err := s.Cancel(context.Background(), j.ID, "changed my mind"); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
	}

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got := getJob(t, s, j.ID)
	if got.State != models.JobCancelled {
		t.Fatalf("state = %s, want Cancelled (cancel during start-up must win)", got.State)
	}
	if got.FinishedAt == nil {
		t.Fatal("cancelled job must have a non-nil FinishedAt")
	}
	if got.GPUsAssigned != nil {
		t.Fatal("cancelled job must not retain a GPU assignment")
	}

	found := false
	for _, name := range fe.TerminateCalls {
		if name == j.Name {
			found = true
		}
	}
	if !found {
		t.Error("expected dispatch to terminate the session it just started")
	}

	// The freed GPU should be available to a job submitted afterwards on
	// the next tick, proving it wasn't leaked with the aborted job.
	other := submit(t, s, models.SubmissionRequest{Command: "b.py", GPUsRequested: 1})
	fc.Advance(time.Second)
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick 2: %v", err)
	}
	if got := getJob(t, s, other.ID).State; got != models.JobRunning {
		t.Fatalf("state = %s, want Running once the GPU is freed", got)
	}
}
