// Package scheduler owns the Job map, the dependency resolver, GPU
// reservation, the periodic tick, and cascade cancellation: the daemon's
// durable state machine.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/AndPuQing/gflow/pkg/clock"
	"github.com/AndPuQing/gflow/pkg/executor"
	"github.com/AndPuQing/gflow/pkg/gpu"
	"github.com/AndPuQing/gflow/pkg/logging"
	"github.com/AndPuQing/gflow/pkg/models"
	"github.com/AndPuQing/gflow/pkg/namegen"
	"github.com/AndPuQing/gflow/pkg/store"
)

// Config bundles the Scheduler's constructor-time dependencies.
type Config struct {
	Store    store.Store
	Executor executor.Executor
	GPUProbe gpu.Probe
	Audit    store.AuditSink
	Clock    clock.Clock
	Logger   *logging.Logger

	// LogDir is where per-job stdout+stderr logs are written
	// (<LogDir>/<id>.log).
	LogDir string

	// TickInterval is the default period of the scheduling loop;
	// configurable so tests can drive ticks explicitly instead.
	TickInterval time.Duration
}

// Scheduler is the single logical actor that owns all job mutations. All
// exported methods acquire mu for their duration; the Executor.Start call
// inside dispatch is the one exception, per §5's spawn-outside-the-lock
// rule.
type Scheduler struct {
	mu sync.Mutex

	state    *models.SchedulerState
	store    store.Store
	executor executor.Executor
	gpuProbe gpu.Probe
	audit    store.AuditSink
	clock    clock.Clock
	log      *logging.Logger
	logDir   string

	tickInterval time.Duration
	rng          *rand.Rand

	detectedGPUs []models.GPUID
}

// New loads persisted state (or starts fresh) and returns a ready
// Scheduler. It does not start the tick loop; call Run for that.
func New(cfg Config) (*Scheduler, error) {
	state, err := cfg.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("load scheduler state: %w", err)
	}

	detected, err := cfg.GPUProbe.Detect()
	if err != nil {
		return nil, fmt.Errorf("detect gpus: %w", err)
	}

	s := &Scheduler{
		state:        state,
		store:        cfg.Store,
		executor:     cfg.Executor,
		gpuProbe:     cfg.GPUProbe,
		audit:        cfg.Audit,
		clock:        cfg.Clock,
		log:          cfg.Logger,
		logDir:       cfg.LogDir,
		tickInterval: cfg.TickInterval,
		rng:          rand.New(rand.NewSource(cfg.Clock.Now().UnixNano())),
		detectedGPUs: detected,
	}

	s.reconcileAfterRestart()
	return s, nil
}

// reconcileAfterRestart implements §9's restart policy: no session
// adoption. A job left Running by a prior process whose session no
// longer exists becomes Failed with SystemError("session vanished"). A
// job whose session is still present stays Running, and reap finishes
// it once that session exits.
func (s *Scheduler) reconcileAfterRestart() {
	now := s.clock.Now()
	dirty := false
	for _, j := range s.state.Jobs {
		if j.State != models.JobRunning {
			continue
		}
		result, err := s.executor.IsAlive(context.Background(), j.Name)
		if err == nil && result.State != executor.StateMissing {
			continue
		}
		s.finishJob(j, models.JobFailed, models.SystemError("session vanished"), nil, now)
		dirty = true
	}
	if dirty {
		if err := s.store.Save(s.state); err != nil {
			s.log.Error(fmt.Sprintf("failed to persist restart reconciliation: %v", err))
		}
	}
}

func (s *Scheduler) allowedGPUSet() []models.GPUID {
	if s.state.AllGPUsAllowed {
		return s.detectedGPUs
	}
	return s.state.AllowedGPUs
}

// Submit validates and enqueues a job, per §4.2's ordered checks.
func (s *Scheduler) Submit(req models.SubmissionRequest) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitLocked(req)
}

func (s *Scheduler) submitLocked(req models.SubmissionRequest) (*models.Job, error) {
	if req.Command == "" {
		return nil, &models.ValidationError{Field: "command", Detail: "must not be empty"}
	}

	if req.GPUsRequested < 0 {
		return nil, &models.ValidationError{Field: "gpus_requested", Detail: "must not be negative"}
	}
	if req.GPUsRequested > len(s.detectedGPUs) {
		return nil, &models.ValidationError{Field: "gpus_requested", Detail: "exceeds total detected GPUs"}
	}

	// memory_mb is a soft hint checked only at submission time, never
	// enforced by the scheduler afterward (§3).
	if req.MemoryMB > 0 {
		if err := checkFreeMemory(req.MemoryMB); err != nil {
			return nil, err
		}
	}

	var depID *uint64
	if req.DependsOn != "" {
		id, err := resolveDependencyToken(req.DependsOn, s.state.RecentSubmissions)
		if err != nil {
			return nil, err
		}
		if _, exists := s.state.Jobs[id]; !exists {
			return nil, &models.ValidationError{Field: "depends_on", Detail: "unknown job id"}
		}
		depID = &id
	}

	timeLimit := req.TimeLimitSecs
	if timeLimit != nil && *timeLimit == 0 {
		return nil, &models.ValidationError{Field: "time_limit_secs", Detail: "must not be zero"}
	}

	autoCancel := true
	if req.AutoCancelOnDepFailure != nil {
		autoCancel = *req.AutoCancelOnDepFailure
	}

	priority := req.Priority
	if priority == 0 {
		priority = 10
	}

	name := req.Name
	suffix := ""
	if name == "" {
		name, suffix = s.freshSessionName()
	} else if s.nameInUse(name) {
		return nil, &models.ValidationError{Field: "name", Detail: "already in use by a running job"}
	}

	prevNextID := s.state.NextID
	id := s.state.NextID
	s.state.NextID++

	job := &models.Job{
		ID:                     id,
		GroupID:                req.GroupID,
		Name:                   name,
		Command:                req.Command,
		WorkingDir:             req.WorkingDir,
		CondaEnv:               req.CondaEnv,
		GPUsRequested:          req.GPUsRequested,
		MemoryMB:               req.MemoryMB,
		Priority:               priority,
		TimeLimitSecs:          timeLimit,
		DependsOn:              depID,
		AutoCancelOnDepFailure: autoCancel,
		ArrayTaskID:            req.ArrayTaskID,
		State:                  models.JobQueued,
		SubmittedAt:            s.clock.Now(),
		ExecutorSessionSuffix:  suffix,
	}
	if depID != nil {
		job.Reason = models.JobStateReason{Kind: models.ReasonWaitingForDependency}
	} else {
		job.Reason = models.JobStateReason{Kind: models.ReasonWaitingForResources}
	}

	prevRecent := s.state.RecentSubmissions
	s.state.Jobs[id] = job
	s.state.RecentSubmissions = pushRecent(s.state.RecentSubmissions, id)

	if err := s.store.Save(s.state); err != nil {
		// Fully undo the bookkeeping, not just the job entry: NextID and
		// RecentSubmissions must land back where they were, or a
		// subsequent @/@~N resolution could point at an id that was
		// never actually committed.
		delete(s.state.Jobs, id)
		s.state.RecentSubmissions = prevRecent
		s.state.NextID = prevNextID
		return nil, err
	}
	return job, nil
}

func (s *Scheduler) nameInUse(name string) bool {
	for _, j := range s.state.Jobs {
		if j.State == models.JobRunning && j.Name == name {
			return true
		}
	}
	return false
}

func (s *Scheduler) freshSessionName() (string, string) {
	name, suffix := namegen.Generate(s.rng)
	for s.nameInUse(name) {
		name = namegen.Reroll(name, s.rng)
		suffix = name[len(name)-4:]
	}
	return name, suffix
}

// logPathFor returns the per-job log file path.
func (s *Scheduler) logPathFor(id uint64) string {
	return filepath.Join(s.logDir, fmt.Sprintf("%d.log", id))
}

// Run blocks, invoking Tick on TickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Error(fmt.Sprintf("tick failed: %v", err))
			}
		}
	}
}

// Tick performs one pass: reap, timeout, cascade, dispatch, persist. Any
// panic-worthy internal error is caught and logged rather than allowed to
// unwind out of the scheduler, per §7's propagation policy.
func (s *Scheduler) Tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(fmt.Sprintf("recovered panic in tick: %v", r))
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()

	s.mu.Lock()
	dirty := s.reap(ctx)
	dirty = s.enforceTimeouts(ctx) || dirty

	newlyTerminal := s.collectNewlyTerminal()
	if len(newlyTerminal) > 0 {
		dirty = s.cascade(newlyTerminal) || dirty
	}

	dirty = s.dispatch(ctx) || dirty

	var serr error
	if dirty {
		serr = s.store.Save(s.state)
	}
	s.mu.Unlock()
	return serr
}
