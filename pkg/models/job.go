package models

import "time"

// JobState is one of the states in the job lifecycle.
type JobState string

const (
	JobQueued    JobState = "Queued"
	JobHeld      JobState = "Held"
	JobRunning   JobState = "Running"
	JobFinished  JobState = "Finished"
	JobFailed    JobState = "Failed"
	JobCancelled JobState = "Cancelled"
	JobTimeout   JobState = "Timeout"
)

// Short returns the compact form used in table output, e.g. "PD", "R".
func (s JobState) Short() string {
	switch s {
	case JobQueued:
		return "PD"
	case JobHeld:
		return "H"
	case JobRunning:
		return "R"
	case JobFinished:
		return "CD"
	case JobFailed:
		return "F"
	case JobCancelled:
		return "CA"
	case JobTimeout:
		return "TO"
	default:
		return "?"
	}
}

// IsTerminal reports whether the state cannot be left once entered.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobFinished, JobFailed, JobCancelled, JobTimeout:
		return true
	default:
		return false
	}
}

// CanTransitionTo encodes the job state machine edges. It is deliberately
// permissive about which caller drives the edge; the scheduler is
// responsible for only invoking edges that its own logic (reap, timeout,
// cascade, dispatch, explicit API calls) actually triggers.
func (s JobState) CanTransitionTo(next JobState) bool {
	if s == next {
		return false
	}
	switch s {
	case JobQueued:
		switch next {
		case JobRunning, JobHeld, JobCancelled:
			return true
		}
	case JobHeld:
		switch next {
		case JobQueued, JobCancelled:
			return true
		}
	case JobRunning:
		switch next {
		case JobFinished, JobFailed, JobTimeout, JobCancelled:
			return true
		}
	}
	return false
}

// JobStateReason decorates a job's state with a structured explanation.
// The zero value (Kind == "") means no reason is set.
type JobStateReason struct {
	Kind     ReasonKind `json:"kind,omitempty"`
	ParentID uint64     `json:"parent_id,omitempty"`
	Message  string     `json:"message,omitempty"`
}

type ReasonKind string

const (
	ReasonJobHeldUser          ReasonKind = "JobHeldUser"
	ReasonWaitingForDependency ReasonKind = "WaitingForDependency"
	ReasonWaitingForResources  ReasonKind = "WaitingForResources"
	ReasonCancelledByUser      ReasonKind = "CancelledByUser"
	ReasonDependencyFailed     ReasonKind = "DependencyFailed"
	ReasonSystemError          ReasonKind = "SystemError"
)

func (r JobStateReason) String() string {
	switch r.Kind {
	case "":
		return ""
	case ReasonDependencyFailed:
		return "DependencyFailed(" + uitoa(r.ParentID) + ")"
	case ReasonSystemError:
		return "SystemError(" + r.Message + ")"
	default:
		return string(r.Kind)
	}
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func SystemError(msg string) JobStateReason {
	return JobStateReason{Kind: ReasonSystemError, Message: msg}
}

func DependencyFailed(parent uint64) JobStateReason {
	return JobStateReason{Kind: ReasonDependencyFailed, ParentID: parent}
}

// GPUID identifies a physical GPU as reported by the probe.
type GPUID int

// Job is the central scheduling entity. Fields mirror the wire submission
// object plus scheduler-owned bookkeeping.
type Job struct {
	ID      uint64 `json:"id"`
	GroupID string `json:"group_id,omitempty"`

	Name       string `json:"name"`
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir"`
	CondaEnv   string `json:"conda_env,omitempty"`

	GPUsRequested int      `json:"gpus_requested"`
	GPUsAssigned  []GPUID  `json:"gpus_assigned,omitempty"`
	MemoryMB      int      `json:"memory_mb,omitempty"`

	Priority      uint8  `json:"priority"`
	TimeLimitSecs *int64 `json:"time_limit_secs,omitempty"`

	DependsOn               *uint64 `json:"depends_on,omitempty"`
	AutoCancelOnDepFailure  bool    `json:"auto_cancel_on_dep_failure"`

	ArrayTaskID int `json:"array_task_id"`

	State  JobState       `json:"state"`
	Reason JobStateReason `json:"reason,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	ExitCode *int `json:"exit_code,omitempty"`

	// TimeoutPending marks a Running job the timeout enforcer has already
	// asked the Executor to terminate. The reaper skips such a job; the
	// timeout enforcer finalizes it to Timeout on a later tick once the
	// session is no longer running, so it never lands on a plain Failed.
	TimeoutPending bool `json:"timeout_pending,omitempty"`
	// Cascaded marks a terminal job whose dependents have already been
	// walked by the cascade pass, so later ticks don't repeat the walk.
	Cascaded bool `json:"cascaded,omitempty"`

	// ExecutorSessionSuffix is the random suffix the name generator
	// appended when Name was auto-generated; kept so a --redo submission
	// can pick a fresh one without recomputing state.
	ExecutorSessionSuffix string `json:"executor_session_suffix,omitempty"`
	// LogPath is resolved once at dispatch time.
	LogPath string `json:"log_path,omitempty"`

	// starting is an ephemeral in-flight marker set while the scheduler
	// has released its lock to spawn the Executor session. It is never
	// persisted: on reload a Running job with no live session is
	// declared Failed, so a half-completed start can never survive a
	// restart in a state that would confuse the reaper.
	starting bool `json:"-"`
}

// IsStarting reports the ephemeral in-flight marker (§5: single-writer
// discipline, spawn happens outside the held lock).
func (j *Job) IsStarting() bool { return j.starting }

// SetStarting flips the in-flight marker. Callers must hold the
// scheduler's mutation lock when calling this.
func (j *Job) SetStarting(v bool) { j.starting = v }

// SubmissionRequest is the wire shape accepted by POST /jobs.
type SubmissionRequest struct {
	Name       string `json:"name,omitempty"`
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir,omitempty"`
	CondaEnv   string `json:"conda_env,omitempty"`

	GPUsRequested int `json:"gpus_requested,omitempty"`
	MemoryMB      int `json:"memory_mb,omitempty"`

	Priority      uint8  `json:"priority,omitempty"`
	TimeLimitSecs *int64 `json:"time_limit_secs,omitempty"`

	DependsOn string `json:"depends_on,omitempty"` // literal id, "@", or "@~N"

	AutoCancelOnDepFailure *bool `json:"auto_cancel_on_dep_failure,omitempty"`

	ArrayTaskID int    `json:"array_task_id,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
}

// GroupLimit caps concurrency for jobs sharing a group_id.
type GroupLimit struct {
	Limit int `json:"limit"`
}

// SchedulerState is the root persisted value.
type SchedulerState struct {
	SchemaVersion int              `json:"schema_version"`
	NextID        uint64           `json:"next_id"`
	Jobs          map[uint64]*Job  `json:"jobs"`
	RecentSubmissions []uint64     `json:"recent_submissions"`

	// AllowedGPUs and AllGPUsAllowed together represent the tri-state
	// spec.md calls out: an empty explicit set ("restricted to none")
	// versus "all GPUs allowed" (the default).
	AllowedGPUs    []GPUID `json:"allowed_gpus"`
	AllGPUsAllowed bool    `json:"all_gpus_allowed"`

	GroupLimits map[string]int `json:"group_limits"`
}

// NewSchedulerState returns an empty state at the current schema version.
func NewSchedulerState() *SchedulerState {
	return &SchedulerState{
		SchemaVersion:  CurrentSchemaVersion,
		NextID:         1,
		Jobs:           make(map[uint64]*Job),
		GroupLimits:    make(map[string]int),
		AllGPUsAllowed: true,
	}
}

// CurrentSchemaVersion is bumped whenever the persisted shape changes.
const CurrentSchemaVersion = 2

// RecentSubmissionsWindow bounds the ring buffer used for @ / @~N lookup.
const RecentSubmissionsWindow = 50
