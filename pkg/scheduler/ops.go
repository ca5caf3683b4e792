package scheduler

import (
	"context"
	"sort"
	"strconv"

	"github.com/AndPuQing/gflow/pkg/gpu"
	"github.com/AndPuQing/gflow/pkg/models"
	"github.com/AndPuQing/gflow/pkg/store"
)

// Cancel transitions a job to Cancelled. Cancelling a terminal job is a
// no-op, per §8's boundary behaviour. Cancelling a Running job records
// the transition immediately and then asks the Executor to terminate the
// session, which stops asynchronously. The job is already Cancelled at
// that point, so reap does not poll that session again and no exit code
// is recorded for it.
func (s *Scheduler) Cancel(ctx context.Context, id uint64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.state.Jobs[id]
	if !ok {
		return &models.NotFoundError{Entity: "job", Key: fmtID(id)}
	}
	if j.State.IsTerminal() {
		return nil
	}

	prev := *j
	wasRunning := j.State == models.JobRunning
	now := s.clock.Now()
	from := j.State
	j.State = models.JobCancelled
	j.Reason = models.JobStateReason{Kind: models.ReasonCancelledByUser, Message: reason}
	j.FinishedAt = &now
	j.GPUsAssigned = nil

	// Persist before touching anything the caller would see as
	// irreversible (the audit trail, the executor session). If Save
	// refuses the mutation, undo it in place so a "service unavailable"
	// response is not lying about the job's actual state.
	if err := s.store.Save(s.state); err != nil {
		*j = prev
		return err
	}

	if s.audit != nil {
		_ = s.audit.Record(store.AuditRow{JobID: j.ID, From: from, To: models.JobCancelled, Reason: j.Reason.String(), At: now})
	}

	if wasRunning {
		if err := s.executor.Terminate(ctx, j.Name); err != nil {
			s.log.Warn("terminate on cancel failed: " + err.Error())
		}
	}

	return nil
}

// Hold transitions a Queued job to Held.
func (s *Scheduler) Hold(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.state.Jobs[id]
	if !ok {
		return &models.NotFoundError{Entity: "job", Key: fmtID(id)}
	}
	if j.State != models.JobQueued {
		return &models.ConflictError{Detail: "job is not Queued"}
	}
	prevState, prevReason := j.State, j.Reason
	j.State = models.JobHeld
	j.Reason = models.JobStateReason{Kind: models.ReasonJobHeldUser}
	if err := s.store.Save(s.state); err != nil {
		j.State, j.Reason = prevState, prevReason
		return err
	}
	return nil
}

// Release transitions a Held job back to Queued.
func (s *Scheduler) Release(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.state.Jobs[id]
	if !ok {
		return &models.NotFoundError{Entity: "job", Key: fmtID(id)}
	}
	if j.State != models.JobHeld {
		return &models.ConflictError{Detail: "job is not Held"}
	}
	prevState, prevReason := j.State, j.Reason
	j.State = models.JobQueued
	j.Reason = models.JobStateReason{Kind: models.ReasonWaitingForResources}
	if err := s.store.Save(s.state); err != nil {
		j.State, j.Reason = prevState, prevReason
		return err
	}
	return nil
}

// SetAllowedGPUs updates the allowed set for future dispatches. GPUs
// held by currently-Running jobs continue undisturbed even if they fall
// outside the new set.
func (s *Scheduler) SetAllowedGPUs(spec string) error {
	ids, all, err := gpu.ParseSpec(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prevAll, prevIDs := s.state.AllGPUsAllowed, s.state.AllowedGPUs
	s.state.AllGPUsAllowed = all
	s.state.AllowedGPUs = ids
	if err := s.store.Save(s.state); err != nil {
		s.state.AllGPUsAllowed, s.state.AllowedGPUs = prevAll, prevIDs
		return err
	}
	return nil
}

// SetGroupLimit sets the concurrency cap for a sweep group.
func (s *Scheduler) SetGroupLimit(groupID string, limit int) error {
	if limit < 0 {
		return &models.ValidationError{Field: "limit", Detail: "must not be negative"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.state.GroupLimits[groupID]
	s.state.GroupLimits[groupID] = limit
	if err := s.store.Save(s.state); err != nil {
		if existed {
			s.state.GroupLimits[groupID] = prev
		} else {
			delete(s.state.GroupLimits, groupID)
		}
		return err
	}
	return nil
}

// GPUsView is the response shape for GET /gpus.
type GPUsView struct {
	Allowed  []models.GPUID `json:"allowed"`
	Detected []GPUStatus    `json:"detected"`
}

// GPUStatus describes one detected GPU's current disposition.
type GPUStatus struct {
	ID         models.GPUID `json:"id"`
	Busy       bool         `json:"busy"`
	Restricted bool         `json:"restricted"`
}

func (s *Scheduler) GPUs() GPUsView {
	s.mu.Lock()
	defer s.mu.Unlock()

	assigned := s.currentlyAssigned()
	allowedSet := map[models.GPUID]bool{}
	for _, g := range s.allowedGPUSet() {
		allowedSet[g] = true
	}

	view := GPUsView{Allowed: s.allowedGPUSet()}
	for _, id := range s.detectedGPUs {
		view.Detected = append(view.Detected, GPUStatus{
			ID:         id,
			Busy:       assigned[id],
			Restricted: !allowedSet[id],
		})
	}
	return view
}

// JobFilter narrows GET /jobs results.
type JobFilter struct {
	States []models.JobState
	IDs    []uint64
	Names  []string
	Since  int64 // unix seconds; zero means unfiltered
	Limit  int
}

// ListJobs returns jobs matching filter, ordered by id ascending.
func (s *Scheduler) ListJobs(f JobFilter) []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	stateSet := map[models.JobState]bool{}
	for _, st := range f.States {
		stateSet[st] = true
	}
	idSet := map[uint64]bool{}
	for _, id := range f.IDs {
		idSet[id] = true
	}
	nameSet := map[string]bool{}
	for _, n := range f.Names {
		nameSet[n] = true
	}

	var out []*models.Job
	for _, j := range s.state.Jobs {
		if len(stateSet) > 0 && !stateSet[j.State] {
			continue
		}
		if len(idSet) > 0 && !idSet[j.ID] {
			continue
		}
		if len(nameSet) > 0 && !nameSet[j.Name] {
			continue
		}
		if f.Since > 0 && j.SubmittedAt.Unix() < f.Since {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// GetJob returns a copy of one job.
func (s *Scheduler) GetJob(id uint64) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.state.Jobs[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "job", Key: fmtID(id)}
	}
	cp := *j
	return &cp, nil
}

// Health mirrors GET /health.
func (s *Scheduler) Health() store.Status {
	return s.store.Status()
}

// Shutdown saves state once more. It does not itself refuse later
// submissions; gflowd's shutdown sequence stops the HTTP listener after
// it. Running jobs are left in their sessions per §5; the next daemon
// reaps them.
func (s *Scheduler) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Save(s.state)
}

func fmtID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// LiveSessionNames reports the executor session name of every job the
// scheduler currently considers live, for the cleanup sweep to compare
// against tmux's own session list.
func (s *Scheduler) LiveSessionNames() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[string]struct{}, len(s.state.Jobs))
	for _, j := range s.state.Jobs {
		if j.State == models.JobRunning || j.IsStarting() {
			live[j.Name] = struct{}{}
		}
	}
	return live
}
