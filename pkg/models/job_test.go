package models

import "testing"

func TestJobStateCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to JobState
		want     bool
	}{
		{JobQueued, JobRunning, true},
		{JobQueued, JobHeld, true},
		{JobQueued, JobCancelled, true},
		{JobQueued, JobFinished, false},
		{JobHeld, JobQueued, true},
		{JobHeld, JobRunning, false},
		{JobRunning, JobFinished, true},
		{JobRunning, JobFailed, true},
		{JobRunning, JobTimeout, true},
		{JobRunning, JobCancelled, true},
		{JobRunning, JobQueued, false},
		{JobFinished, JobRunning, false},
		{JobQueued, JobQueued, false},
	}
	for _, c := range cases {
		got := c.from.CanTransitionTo(c.to)
		if got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestJobStateIsTerminal(t *testing.T) {
	terminal := []JobState{JobFinished, JobFailed, JobCancelled, JobTimeout}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []JobState{JobQueued, JobHeld, JobRunning}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestJobStateShort(t *testing.T) {
	if got := JobRunning.Short(); got != "R" {
		t.Errorf("got %q, want R", got)
	}
	if got := JobState("bogus").Short(); got != "?" {
		t.Errorf("got %q, want ?", got)
	}
}

func TestJobStateReasonString(t *testing.T) {
	if got := (JobStateReason{}).String(); got != "" {
		t.Errorf("zero value reason should stringify empty, got %q", got)
	}
	if got := DependencyFailed(42).String(); got != "DependencyFailed(42)" {
		t.Errorf("got %q", got)
	}
	if got := SystemError("session vanished").String(); got != "SystemError(session vanished)" {
		t.Errorf("got %q", got)
	}
	if got := (JobStateReason{Kind: ReasonJobHeldUser}).String(); got != string(ReasonJobHeldUser) {
		t.Errorf("got %q", got)
	}
}

func TestNewSchedulerStateDefaults(t *testing.T) {
	s := NewSchedulerState()
	if s.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("schema version = %d, want %d", s.SchemaVersion, CurrentSchemaVersion)
	}
	if s.NextID != 1 {
		t.Errorf("next id = %d, want 1", s.NextID)
	}
	if !s.AllGPUsAllowed {
		t.Error("new state should allow all GPUs by default")
	}
	if len(s.Jobs) != 0 {
		t.Error("new state should have no jobs")
	}
}

func TestJobStartingMarkerSetAndGet(t *testing.T) {
	j := &Job{}
	if j.IsStarting() {
		t.Error("zero-value job should not be starting")
	}
	j.SetStarting(true)
	if !j.IsStarting() {
		t.Error("expected starting marker to be set")
	}
}
