// Package store persists SchedulerState to disk with atomic-rename
// writes, forward schema migrations, and a degrade-gracefully recovery
// protocol when the primary snapshot becomes unreadable or unwritable.
package store

import "github.com/AndPuQing/gflow/pkg/models"

// Status reflects what /health reports.
type Status string

const (
	StatusOK       Status = "ok"
	StatusRecovery Status = "recovery"
	StatusReadOnly Status = "read_only"
)

// Store is the persistence contract the scheduler drives. Implementations
// must make Save atomic with respect to process crashes: a crash mid-save
// must never leave the primary file truncated or half-written.
type Store interface {
	// Load reads the current state, applying migrations as needed. If the
	// primary snapshot cannot be read or fails migration, Load places the
	// store into recovery mode and returns a fresh empty state instead of
	// an error — the daemon must still be able to start and serve reads.
	Load() (*models.SchedulerState, error)

	// Save persists state. Depending on the store's current mode this
	// writes to the primary snapshot, the recovery journal, or is refused
	// entirely (read-only mode).
	Save(state *models.SchedulerState) error

	// Status reports the current degradation level for /health.
	Status() Status
}
