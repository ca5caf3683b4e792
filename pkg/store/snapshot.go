package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/AndPuQing/gflow/pkg/clock"
	"github.com/AndPuQing/gflow/pkg/logging"
	"github.com/AndPuQing/gflow/pkg/models"
)

// SnapshotStore implements Store as a single gob-encoded snapshot file,
// written atomically via a temp-file-then-rename, with a recovery-mode
// journal and read-only fallback per the persistence contract.
type SnapshotStore struct {
	mu sync.Mutex

	primaryPath string
	journalPath string
	clock       clock.Clock
	log         *logging.Logger

	status Status
}

// NewSnapshotStore creates a store rooted at dataDir. dataDir/state.gob is
// the primary snapshot; dataDir/state.journal.gob is the recovery journal.
func NewSnapshotStore(dataDir string, c clock.Clock, log *logging.Logger) *SnapshotStore {
	return &SnapshotStore{
		primaryPath: filepath.Join(dataDir, "state.gob"),
		journalPath: filepath.Join(dataDir, "state.journal.gob"),
		clock:       c,
		log:         log,
		status:      StatusOK,
	}
}

func (s *SnapshotStore) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Load reads the primary snapshot. Any failure to read or migrate it
// moves the store into recovery mode with a fresh empty state rather
// than returning an error, so the daemon can still start.
func (s *SnapshotStore) Load() (*models.SchedulerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := decodeFile(s.primaryPath)
	if err == nil {
		s.status = StatusOK
		return state, nil
	}
	if os.IsNotExist(err) {
		// First run: no prior state, not a failure.
		s.status = StatusOK
		return models.NewSchedulerState(), nil
	}

	s.log.Warn(fmt.Sprintf("primary state file unreadable, entering recovery mode: %v", err))
	if renameErr := s.quarantine(s.primaryPath, "corrupt"); renameErr != nil {
		s.log.Error(fmt.Sprintf("failed to quarantine corrupt state file: %v", renameErr))
	}
	s.status = StatusRecovery
	return models.NewSchedulerState(), nil
}

func (s *SnapshotStore) quarantine(path, tag string) error {
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return nil
	}
	dest := fmt.Sprintf("%s.%s.%d", path, tag, s.clock.Now().Unix())
	return os.Rename(path, dest)
}

// Save writes state according to the store's current mode: the primary
// snapshot in normal mode, the journal in recovery mode. If the journal
// itself cannot be written, the store degrades to read-only and refuses
// the mutation.
func (s *SnapshotStore) Save(state *models.SchedulerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusReadOnly {
		return &models.ServiceUnavailableError{Reason: models.ReasonReadOnly}
	}

	if s.status == StatusRecovery {
		// Every save re-probes whether the primary is writable again;
		// when it is, promote the journal's content and exit recovery.
		if err := writeAtomic(s.primaryPath, state); err == nil {
			_ = os.Remove(s.journalPath)
			s.status = StatusOK
			s.log.Info("primary state file writable again, exiting recovery mode")
			return nil
		}
		if err := writeAtomic(s.journalPath, state); err != nil {
			s.log.Error(fmt.Sprintf("recovery journal unwritable, entering read-only mode: %v", err))
			s.status = StatusReadOnly
			return &models.ServiceUnavailableError{Reason: models.ReasonReadOnly}
		}
		return nil
	}

	if err := writeAtomic(s.primaryPath, state); err != nil {
		s.log.Warn(fmt.Sprintf("primary state file unwritable, entering recovery mode: %v", err))
		s.status = StatusRecovery
		if jerr := writeAtomic(s.journalPath, state); jerr != nil {
			s.log.Error(fmt.Sprintf("recovery journal unwritable, entering read-only mode: %v", jerr))
			s.status = StatusReadOnly
			return &models.ServiceUnavailableError{Reason: models.ReasonReadOnly}
		}
	}
	return nil
}

// groupLimitEntry is one GroupLimits row, serialized as a sorted slice
// entry rather than a map entry (see snapshotDTO).
type groupLimitEntry struct {
	GroupID string
	Limit   int
}

// snapshotDTO is the on-disk shape for the current schema version.
// encoding/gob's map encoder walks reflect.Value.MapKeys(), whose order
// the language spec leaves unspecified even across repeated iterations
// of the same unmodified map; encoding models.SchedulerState's Jobs and
// GroupLimits maps directly could therefore write different bytes for
// two back-to-back saves of identical state. snapshotDTO instead holds
// Jobs and GroupLimits as slices sorted by key, so the byte stream is a
// pure function of the state's content.
type snapshotDTO struct {
	SchemaVersion     int
	NextID            uint64
	Jobs              []*models.Job
	RecentSubmissions []uint64
	AllowedGPUs       []models.GPUID
	AllGPUsAllowed    bool
	GroupLimits       []groupLimitEntry
}

func toDTO(state *models.SchedulerState) *snapshotDTO {
	dto := &snapshotDTO{
		SchemaVersion:     state.SchemaVersion,
		NextID:            state.NextID,
		Jobs:              make([]*models.Job, 0, len(state.Jobs)),
		RecentSubmissions: state.RecentSubmissions,
		AllowedGPUs:       state.AllowedGPUs,
		AllGPUsAllowed:    state.AllGPUsAllowed,
		GroupLimits:       make([]groupLimitEntry, 0, len(state.GroupLimits)),
	}
	for _, j := range state.Jobs {
		dto.Jobs = append(dto.Jobs, j)
	}
	sort.Slice(dto.Jobs, func(i, k int) bool { return dto.Jobs[i].ID < dto.Jobs[k].ID })
	for groupID, limit := range state.GroupLimits {
		dto.GroupLimits = append(dto.GroupLimits, groupLimitEntry{GroupID: groupID, Limit: limit})
	}
	sort.Slice(dto.GroupLimits, func(i, k int) bool { return dto.GroupLimits[i].GroupID < dto.GroupLimits[k].GroupID })
	return dto
}

func fromDTO(dto *snapshotDTO) *models.SchedulerState {
	state := &models.SchedulerState{
		SchemaVersion:     dto.SchemaVersion,
		NextID:            dto.NextID,
		Jobs:              make(map[uint64]*models.Job, len(dto.Jobs)),
		RecentSubmissions: dto.RecentSubmissions,
		AllowedGPUs:       dto.AllowedGPUs,
		AllGPUsAllowed:    dto.AllGPUsAllowed,
		GroupLimits:       make(map[string]int, len(dto.GroupLimits)),
	}
	for _, j := range dto.Jobs {
		state.Jobs[j.ID] = j
	}
	for _, e := range dto.GroupLimits {
		state.GroupLimits[e.GroupID] = e.Limit
	}
	return state
}

// writeAtomic gob-encodes state to a sibling temp path, fsyncs it, and
// renames it onto path so a crash mid-write never leaves path truncated.
func writeAtomic(path string, state *models.SchedulerState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	if err := enc.Encode(models.CurrentSchemaVersion); err != nil {
		f.Close()
		return err
	}
	if err := enc.Encode(toDTO(state)); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func decodeFile(path string) (*models.SchedulerState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := gob.NewDecoder(bufio.NewReader(f))
	var version int
	if err := dec.Decode(&version); err != nil {
		return nil, fmt.Errorf("decode schema version: %w", err)
	}

	switch version {
	case models.CurrentSchemaVersion:
		var dto snapshotDTO
		if err := dec.Decode(&dto); err != nil {
			return nil, fmt.Errorf("decode state (v%d): %w", version, err)
		}
		return migrate(version, fromDTO(&dto))
	case 1:
		var v1 schedulerStateV1
		if err := dec.Decode(&v1); err != nil {
			return nil, fmt.Errorf("decode state (v%d): %w", version, err)
		}
		return migrate(version, &v1)
	default:
		return migrate(version, nil)
	}
}
