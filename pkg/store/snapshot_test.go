package store

import (
	"bufio"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AndPuQing/gflow/pkg/clock"
	"github.com/AndPuQing/gflow/pkg/logging"
	"github.com/AndPuQing/gflow/pkg/models"
)

func newTestStore(t *testing.T) (*SnapshotStore, string) {
	t.Helper()
	dir := t.TempDir()
	log := logging.NewLogger(logging.ERROR, false)
	return NewSnapshotStore(dir, clock.NewFakeClock(time.Now()), log), dir
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	state := models.NewSchedulerState()
	state.Jobs[1] = &models.Job{ID: 1, Name: "brisk-otter-0001", Command: "train.py", State: models.JobQueued}
	state.NextID = 2

	if err := s.Save(state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if s.Status() != StatusOK {
		t.Fatalf("status = %s, want ok", s.Status())
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.NextID != 2 {
		t.Errorf("next id = %d, want 2", loaded.NextID)
	}
	got, ok := loaded.Jobs[1]
	if !ok {
		t.Fatal("job 1 missing after round trip")
	}
	if got.Command != "train.py" {
		t.Errorf("command = %q", got.Command)
	}
}

func TestSnapshotStoreFirstRunIsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state.Jobs) != 0 {
		t.Errorf("expected no jobs on first run, got %d", len(state.Jobs))
	}
	if s.Status() != StatusOK {
		t.Errorf("status = %s, want ok", s.Status())
	}
}

func TestSnapshotStoreCorruptFileEntersRecovery(t *testing.T) {
	s, dir := newTestStore(t)
	primary := filepath.Join(dir, "state.gob")
	if err := os.WriteFile(primary, []byte("not a valid gob stream"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load should degrade rather than error: %v", err)
	}
	if len(state.Jobs) != 0 {
		t.Error("recovery state should start empty")
	}
	if s.Status() != StatusRecovery {
		t.Fatalf("status = %s, want recovery", s.Status())
	}

	matches, _ := filepath.Glob(primary + ".corrupt.*")
	if len(matches) != 1 {
		t.Errorf("expected corrupt file to be quarantined, found %v", matches)
	}
}

func TestSnapshotStoreSaveInRecoveryPromotesOnceWritable(t *testing.T) {
	s, dir := newTestStore(t)
	primary := filepath.Join(dir, "state.gob")
	if err := os.WriteFile(primary, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	if _, err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Status() != StatusRecovery {
		t.Fatalf("status = %s, want recovery", s.Status())
	}

	// state.gob was quarantined (renamed away), so a Save now succeeds
	// against the primary path again and should exit recovery.
	state := models.NewSchedulerState()
	if err := s.Save(state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if s.Status() != StatusOK {
		t.Fatalf("status = %s, want ok after primary becomes writable again", s.Status())
	}
}

func TestMigrateV1ToV2(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "state.gob")

	submittedAt := time.Now().Add(-time.Hour).Truncate(time.Second)
	startedAt := submittedAt.Add(time.Minute)
	finishedAt := startedAt.Add(time.Minute)

	v1 := &schedulerStateV1{
		SchemaVersion: 1,
		NextID:        3,
		Jobs: map[uint64]*jobV1{
			1: {
				ID:          1,
				Name:        "job-1",
				Command:     "a.py",
				State:       models.JobFinished,
				SubmittedAt: submittedAt,
				StartedAt:   &startedAt,
				FinishedAt:  &finishedAt,
			},
		},
		RecentSubmissions: []uint64{1},
		AllowedGPUs:       nil,
		GroupLimits:       nil,
	}

	f, err := os.Create(primary)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	if err := enc.Encode(1); err != nil {
		t.Fatalf("encode version: %v", err)
	}
	if err := enc.Encode(v1); err != nil {
		t.Fatalf("encode v1 state: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	f.Close()

	s := NewSnapshotStore(dir, clock.NewFakeClock(time.Now()), logging.NewLogger(logging.ERROR, false))
	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.SchemaVersion != models.CurrentSchemaVersion {
		t.Errorf("schema version = %d, want %d", state.SchemaVersion, models.CurrentSchemaVersion)
	}
	if !state.AllGPUsAllowed {
		t.Error("empty AllowedGPUs in v1 should migrate to AllGPUsAllowed=true")
	}
	if state.Jobs[1].Command != "a.py" {
		t.Errorf("migrated job command = %q", state.Jobs[1].Command)
	}
	migrated := state.Jobs[1]
	if !migrated.SubmittedAt.Equal(submittedAt) {
		t.Errorf("migrated SubmittedAt = %v, want %v", migrated.SubmittedAt, submittedAt)
	}
	if migrated.StartedAt == nil || !migrated.StartedAt.Equal(startedAt) {
		t.Errorf("migrated StartedAt = %v, want %v", migrated.StartedAt, startedAt)
	}
	if migrated.FinishedAt == nil || !migrated.FinishedAt.Equal(finishedAt) {
		t.Errorf("migrated FinishedAt = %v, want %v", migrated.FinishedAt, finishedAt)
	}
	if migrated.State.IsTerminal() && migrated.FinishedAt == nil {
		t.Error("terminal migrated job must carry a non-nil FinishedAt")
	}
}

func TestMigrateFutureSchemaRejected(t *testing.T) {
	_, err := migrate(models.CurrentSchemaVersion+1, nil)
	if err == nil {
		t.Fatal("expected error for future schema version")
	}
	if _, ok := err.(*ErrFutureSchema); !ok {
		t.Fatalf("got %T, want *ErrFutureSchema", err)
	}
}
