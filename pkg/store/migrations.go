package store

import (
	"fmt"
	"time"

	"github.com/AndPuQing/gflow/pkg/models"
)

// schedulerStateV1 is the shape persisted before AllGPUsAllowed and the
// per-job ExecutorSessionSuffix/LogPath fields existed. It is decoded
// only during migration; current code never constructs one directly.
type schedulerStateV1 struct {
	SchemaVersion     int
	NextID            uint64
	Jobs              map[uint64]*jobV1
	RecentSubmissions []uint64
	AllowedGPUs       []models.GPUID
	GroupLimits       map[string]int
}

type jobV1 struct {
	ID                     uint64
	GroupID                string
	Name                   string
	Command                string
	WorkingDir             string
	CondaEnv               string
	GPUsRequested          int
	GPUsAssigned           []models.GPUID
	MemoryMB               int
	Priority               uint8
	TimeLimitSecs          *int64
	DependsOn              *uint64
	AutoCancelOnDepFailure bool
	ArrayTaskID            int
	State                  models.JobState
	Reason                 models.JobStateReason
	SubmittedAt            time.Time
	StartedAt              *time.Time
	FinishedAt             *time.Time
	ExitCode               *int
}

// migrateV1toV2 upgrades the pre-AllGPUsAllowed shape: an empty
// AllowedGPUs list in V1 always meant "all GPUs allowed" (V1 had no way
// to express "restricted to none"), so the migration sets AllGPUsAllowed
// accordingly and leaves everything else structurally identical.
func migrateV1toV2(v1 *schedulerStateV1) *models.SchedulerState {
	out := &models.SchedulerState{
		SchemaVersion:     2,
		NextID:            v1.NextID,
		Jobs:              make(map[uint64]*models.Job, len(v1.Jobs)),
		RecentSubmissions: v1.RecentSubmissions,
		AllowedGPUs:       v1.AllowedGPUs,
		AllGPUsAllowed:    len(v1.AllowedGPUs) == 0,
		GroupLimits:       v1.GroupLimits,
	}
	if out.GroupLimits == nil {
		out.GroupLimits = make(map[string]int)
	}
	for id, j := range v1.Jobs {
		out.Jobs[id] = &models.Job{
			ID:                     j.ID,
			GroupID:                j.GroupID,
			Name:                   j.Name,
			Command:                j.Command,
			WorkingDir:             j.WorkingDir,
			CondaEnv:               j.CondaEnv,
			GPUsRequested:          j.GPUsRequested,
			GPUsAssigned:           j.GPUsAssigned,
			MemoryMB:               j.MemoryMB,
			Priority:               j.Priority,
			TimeLimitSecs:          j.TimeLimitSecs,
			DependsOn:              j.DependsOn,
			AutoCancelOnDepFailure: j.AutoCancelOnDepFailure,
			ArrayTaskID:            j.ArrayTaskID,
			State:                  j.State,
			Reason:                 j.Reason,
			SubmittedAt:            j.SubmittedAt,
			StartedAt:              j.StartedAt,
			FinishedAt:             j.FinishedAt,
			ExitCode:               j.ExitCode,
		}
	}
	return out
}

// ErrFutureSchema is returned when a persisted state names a schema
// version newer than this binary understands.
type ErrFutureSchema struct {
	Found, Current int
}

func (e *ErrFutureSchema) Error() string {
	return fmt.Sprintf("state file has schema version %d, this binary understands up to %d; please upgrade gflowd", e.Found, e.Current)
}

// migrate applies forward migrations to bring version up to
// models.CurrentSchemaVersion. It never migrates backward and refuses
// versions from the future.
func migrate(version int, raw interface{}) (*models.SchedulerState, error) {
	if version > models.CurrentSchemaVersion {
		return nil, &ErrFutureSchema{Found: version, Current: models.CurrentSchemaVersion}
	}
	switch version {
	case models.CurrentSchemaVersion:
		return raw.(*models.SchedulerState), nil
	case 1:
		return migrateV1toV2(raw.(*schedulerStateV1)), nil
	default:
		return nil, fmt.Errorf("no migration path from schema version %d", version)
	}
}
