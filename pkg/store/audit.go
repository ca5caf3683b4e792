package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/AndPuQing/gflow/pkg/models"
)

// AuditRow is one recorded state transition.
type AuditRow struct {
	JobID  uint64
	From   models.JobState
	To     models.JobState
	Reason string
	At     time.Time
}

// AuditSink records job state transitions independently of the primary
// snapshot, so a job's transition history survives daemon restarts and
// can be read through History without re-loading the full state file.
// No CLI or API route reads History. It is never the source of truth
// for scheduling decisions.
type AuditSink interface {
	Record(row AuditRow) error
	History(jobID uint64) ([]AuditRow, error)
	Close() error
}

// SQLAuditSink implements AuditSink over database/sql, backing either
// SQLite (default) or Postgres (opt-in) depending on which driver the
// caller opened the *sql.DB with. The two drivers disagree on
// placeholder syntax (mattn/go-sqlite3 takes "?", lib/pq requires
// numbered "$1, $2, ..." parameters), so the sink carries its own
// driver tag and renders each query's placeholders accordingly rather
// than hard-coding one dialect.
type SQLAuditSink struct {
	db     *sql.DB
	driver string
}

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

// placeholders returns n placeholders in the sink's driver dialect, as a
// slice, numbered from $1 for postgres or each "?" for sqlite.
func (s *SQLAuditSink) placeholders(n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		if s.driver == driverPostgres {
			out[i] = fmt.Sprintf("$%d", i+1)
		} else {
			out[i] = "?"
		}
	}
	return out
}

// NewSQLiteAuditSink opens (creating if necessary) a SQLite-backed audit
// database at dbPath. The connection is serialized to a single writer,
// matching the single-writer discipline the scheduler already applies to
// its own state, since SQLite tolerates one writer at a time cleanly.
func NewSQLiteAuditSink(dbPath string) (*SQLAuditSink, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit db: %w", err)
	}
	db.SetMaxOpenConns(1)
	sink := &SQLAuditSink{db: db, driver: driverSQLite}
	if err := sink.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

// NewPostgresAuditSink opens a Postgres-backed audit database at dsn, for
// deployments that centralize audit logs from several gflow workstations.
// This does not distribute scheduling itself: each daemon still schedules
// only its own local jobs, it merely writes its transition history to a
// shared table.
func NewPostgresAuditSink(dsn string) (*SQLAuditSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres audit db: %w", err)
	}
	sink := &SQLAuditSink{db: db, driver: driverPostgres}
	if err := sink.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *SQLAuditSink) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS job_transitions (
			job_id BIGINT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			reason TEXT,
			at TIMESTAMP NOT NULL
		)
	`)
	return err
}

func (s *SQLAuditSink) Record(row AuditRow) error {
	ph := s.placeholders(5)
	query := fmt.Sprintf(
		"INSERT INTO job_transitions (job_id, from_state, to_state, reason, at) VALUES (%s, %s, %s, %s, %s)",
		ph[0], ph[1], ph[2], ph[3], ph[4],
	)
	_, err := s.db.Exec(query, row.JobID, string(row.From), string(row.To), row.Reason, row.At)
	return err
}

func (s *SQLAuditSink) History(jobID uint64) ([]AuditRow, error) {
	query := fmt.Sprintf(
		"SELECT job_id, from_state, to_state, reason, at FROM job_transitions WHERE job_id = %s ORDER BY at ASC",
		s.placeholders(1)[0],
	)
	rows, err := s.db.Query(query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		var from, to string
		if err := rows.Scan(&r.JobID, &from, &to, &r.Reason, &r.At); err != nil {
			return nil, err
		}
		r.From, r.To = models.JobState(from), models.JobState(to)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLAuditSink) Close() error {
	return s.db.Close()
}

// NoopAuditSink discards every record; used when audit trail is disabled
// in configuration.
type NoopAuditSink struct{}

func (NoopAuditSink) Record(AuditRow) error                { return nil }
func (NoopAuditSink) History(uint64) ([]AuditRow, error)    { return nil, nil }
func (NoopAuditSink) Close() error                          { return nil }
