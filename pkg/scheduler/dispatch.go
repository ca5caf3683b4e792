package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/AndPuQing/gflow/pkg/executor"
	"github.com/AndPuQing/gflow/pkg/models"
	"github.com/AndPuQing/gflow/pkg/store"
)

// finishJob commits a terminal transition, recording the exit code (if
// any), releasing its GPU reservation, and writing an audit row. Callers
// must hold s.mu.
func (s *Scheduler) finishJob(j *models.Job, next models.JobState, reason models.JobStateReason, exitCode *int, now time.Time) {
	from := j.State
	j.State = next
	j.Reason = reason
	j.FinishedAt = &now
	j.ExitCode = exitCode
	j.GPUsAssigned = nil
	j.SetStarting(false)

	if s.audit != nil {
		if err := s.audit.Record(store.AuditRow{JobID: j.ID, From: from, To: next, Reason: reason.String(), At: now}); err != nil {
			s.log.Warn(fmt.Sprintf("audit record failed for job %d: %v", j.ID, err))
		}
	}
}

// reap polls every Running job's Executor liveness and commits terminal
// transitions for those that have exited or vanished. Jobs with
// TimeoutPending set are skipped: enforceTimeouts already terminated
// their session and owns their finalization, since the "one tick of
// delay" tolerance in §4.6 means the session can already look Exited by
// the very next tick's reap, and an unconditional reap would record
// that as Failed before enforceTimeouts gets to mark it Timeout.
func (s *Scheduler) reap(ctx context.Context) bool {
	dirty := false
	now := s.clock.Now()
	for _, j := range s.state.Jobs {
		if j.State != models.JobRunning || j.IsStarting() || j.TimeoutPending {
			continue
		}
		result, err := s.executor.IsAlive(ctx, j.Name)
		if err != nil {
			s.log.Error(fmt.Sprintf("is_alive(%s) failed: %v", j.Name, err))
			continue
		}
		switch result.State {
		case executor.StateRunning:
			continue
		case executor.StateMissing:
			s.finishJob(j, models.JobFailed, models.SystemError("session vanished"), nil, now)
			dirty = true
		case executor.StateExited:
			code := result.ExitCode
			if code == 0 {
				s.finishJob(j, models.JobFinished, models.JobStateReason{}, &code, now)
			} else {
				s.finishJob(j, models.JobFailed, models.SystemError(fmt.Sprintf("exit code %d", code)), &code, now)
			}
			dirty = true
		}
	}
	return dirty
}

// enforceTimeouts terminates Running jobs whose time budget has elapsed
// and owns their finalization from that point on: it sets TimeoutPending
// on the tick it calls Terminate, then on a later tick (its own, once
// IsAlive confirms the session is gone) commits the Timeout transition
// itself. reap skips any job with TimeoutPending set, so the two never
// race for the same job.
func (s *Scheduler) enforceTimeouts(ctx context.Context) bool {
	dirty := false
	now := s.clock.Now()
	for _, j := range s.state.Jobs {
		if j.State != models.JobRunning || j.IsStarting() || j.TimeLimitSecs == nil || j.StartedAt == nil {
			continue
		}
		elapsed := now.Sub(*j.StartedAt).Seconds()
		if elapsed < float64(*j.TimeLimitSecs) {
			continue
		}
		if j.TimeoutPending {
			result, err := s.executor.IsAlive(ctx, j.Name)
			if err == nil && result.State != executor.StateRunning {
				code := result.ExitCode
				s.finishJob(j, models.JobTimeout, models.JobStateReason{}, &code, now)
				dirty = true
			}
			continue
		}
		if err := s.executor.Terminate(ctx, j.Name); err != nil {
			s.log.Warn(fmt.Sprintf("terminate(%s) failed: %v", j.Name, err))
		}
		j.TimeoutPending = true
		dirty = true
	}
	return dirty
}

// collectNewlyTerminal returns jobs that reached Failed, Timeout, or
// Cancelled state during this tick's reap/timeout passes and have not yet
// had their dependents cascaded.
func (s *Scheduler) collectNewlyTerminal() []*models.Job {
	var out []*models.Job
	for _, j := range s.state.Jobs {
		if j.Cascaded {
			continue
		}
		switch j.State {
		case models.JobFailed, models.JobTimeout, models.JobCancelled:
			out = append(out, j)
			j.Cascaded = true
		}
	}
	return out
}

// cascade propagates terminal failures to dependents whose
// AutoCancelOnDepFailure is set, per §4.3's cascade pass. It processes a
// worklist so a chain of dependencies (A -> B -> C) cancels fully within
// one tick rather than needing one tick per link.
func (s *Scheduler) cascade(seed []*models.Job) bool {
	dirty := false
	now := s.clock.Now()
	work := seed
	for len(work) > 0 {
		parent := work[0]
		work = work[1:]

		for _, j := range s.state.Jobs {
			if j.DependsOn == nil || *j.DependsOn != parent.ID {
				continue
			}
			if j.State != models.JobQueued && j.State != models.JobHeld {
				continue
			}
			if !j.AutoCancelOnDepFailure {
				continue
			}
			j.State = models.JobCancelled
			j.Reason = models.DependencyFailed(parent.ID)
			j.FinishedAt = &now
			if s.audit != nil {
				_ = s.audit.Record(store.AuditRow{JobID: j.ID, From: models.JobQueued, To: models.JobCancelled, Reason: j.Reason.String(), At: now})
			}
			j.Cascaded = true
			dirty = true
			work = append(work, j)
		}
	}
	return dirty
}

// dispatch builds the ready-set, orders it by priority, and starts as
// many jobs as GPU availability allows.
func (s *Scheduler) dispatch(ctx context.Context) bool {
	dirty := false
	ready := s.readySet()
	sortReady(ready)

	assigned := s.currentlyAssigned()
	free := freeGPUs(s.allowedGPUSet(), assigned)

	for _, j := range ready {
		if j.GPUsRequested > len(free) {
			continue
		}
		take := append([]models.GPUID(nil), free[:j.GPUsRequested]...)
		free = append([]models.GPUID(nil), free[j.GPUsRequested:]...)

		j.SetStarting(true)
		s.mu.Unlock()
		err := s.startSession(ctx, j, take)
		s.mu.Lock()
		j.SetStarting(false)

		if err != nil {
			now := s.clock.Now()
			s.finishJob(j, models.JobFailed, models.SystemError(err.Error()), nil, now)
			// GPUs reserved for this attempt return to the free pool for
			// the remainder of this dispatch pass.
			free = append(take, free...)
			dirty = true
			continue
		}

		// The lock was released for the spawn above; Cancel may have run
		// in the meantime and already committed a terminal state (and
		// FinishedAt) for this job. Per §4.1's tie-break, a cancel during
		// start-up aborts the start rather than being clobbered back to
		// Running, so the just-spawned session is torn down and the
		// terminal state is left untouched.
		if j.State.IsTerminal() {
			if termErr := s.executor.Terminate(ctx, j.Name); termErr != nil {
				s.log.Warn(fmt.Sprintf("terminate(%s) after cancel-during-start failed: %v", j.Name, termErr))
			}
			free = append(take, free...)
			dirty = true
			continue
		}

		now := s.clock.Now()
		j.State = models.JobRunning
		j.GPUsAssigned = take
		j.StartedAt = &now
		j.Reason = models.JobStateReason{}
		j.LogPath = s.logPathFor(j.ID)
		if s.audit != nil {
			_ = s.audit.Record(store.AuditRow{JobID: j.ID, From: models.JobQueued, To: models.JobRunning, At: now})
		}
		dirty = true
	}
	return dirty
}

func (s *Scheduler) startSession(ctx context.Context, j *models.Job, gpus []models.GPUID) error {
	env := map[string]string{
		"GFLOW_JOB_ID":         fmt.Sprintf("%d", j.ID),
		"GFLOW_ARRAY_TASK_ID":  fmt.Sprintf("%d", j.ArrayTaskID),
	}
	if len(gpus) > 0 {
		env["CUDA_VISIBLE_DEVICES"] = joinGPUs(gpus)
	}
	command := j.Command
	if j.CondaEnv != "" {
		command = fmt.Sprintf("conda run -n %s %s", j.CondaEnv, command)
	}
	return s.executor.Start(ctx, j.Name, command, j.WorkingDir, env, s.logPathFor(j.ID))
}

func joinGPUs(ids []models.GPUID) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", id)
	}
	return out
}

// readySet returns Queued jobs whose dependency (if any) is Finished,
// whose group is under its concurrency limit, for which the group's
// limit predicate holds. GPU affordability is checked by the caller
// during the ordered dispatch pass itself, not here, since it is a
// function of dispatch order.
func (s *Scheduler) readySet() []*models.Job {
	groupRunning := map[string]int{}
	for _, j := range s.state.Jobs {
		if j.State == models.JobRunning && j.GroupID != "" {
			groupRunning[j.GroupID]++
		}
	}

	var out []*models.Job
	for _, j := range s.state.Jobs {
		if j.State != models.JobQueued {
			continue
		}
		if j.DependsOn != nil {
			parent, ok := s.state.Jobs[*j.DependsOn]
			if !ok || parent.State != models.JobFinished {
				continue
			}
		}
		if j.GroupID != "" {
			if limit, ok := s.state.GroupLimits[j.GroupID]; ok && groupRunning[j.GroupID] >= limit {
				continue
			}
		}
		out = append(out, j)
	}
	return out
}

func (s *Scheduler) currentlyAssigned() map[models.GPUID]bool {
	assigned := map[models.GPUID]bool{}
	for _, j := range s.state.Jobs {
		if j.State != models.JobRunning {
			continue
		}
		for _, g := range j.GPUsAssigned {
			assigned[g] = true
		}
	}
	return assigned
}

// freeGPUs returns allowed \ assigned, sorted ascending so dispatch can
// take a prefix for lowest-index-first reservation.
func freeGPUs(allowed []models.GPUID, assigned map[models.GPUID]bool) []models.GPUID {
	out := make([]models.GPUID, 0, len(allowed))
	for _, g := range allowed {
		if !assigned[g] {
			out = append(out, g)
		}
	}
	return out
}
