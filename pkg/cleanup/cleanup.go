// Package cleanup implements the optional stale-session sweep: a
// background pass that terminates tmux sessions left behind by jobs the
// scheduler no longer tracks (a crash mid-dispatch, a hand-started debug
// session in the run directory). Disabled by default, since the tick
// loop's own reap step already covers the common case of a job whose
// session died on its own.
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AndPuQing/gflow/pkg/executor"
	"github.com/AndPuQing/gflow/pkg/logging"
)

// Config controls the sweep's cadence.
type Config struct {
	Enabled  bool
	Interval time.Duration
}

// DefaultConfig returns the sweep disabled.
func DefaultConfig() Config {
	return Config{
		Enabled:  false,
		Interval: 30 * time.Minute,
	}
}

// JobSource reports the executor session names the scheduler currently
// considers live. The sweep never touches a name this reports.
type JobSource interface {
	LiveSessionNames() map[string]struct{}
}

// SessionLister enumerates sessions currently visible to the executor,
// independent of the scheduler's job map.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]string, error)
}

// Manager runs the periodic sweep in a background goroutine.
type Manager struct {
	config Config
	jobs   JobSource
	lister SessionLister
	exec   executor.Executor
	log    *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// Stats tracks sweep outcomes for observability.
type Stats struct {
	LastRun      time.Time
	LastDuration time.Duration
	TotalKilled  int64
}

func New(cfg Config, jobs JobSource, lister SessionLister, exec executor.Executor, log *logging.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{config: cfg, jobs: jobs, lister: lister, exec: exec, log: log, ctx: ctx, cancel: cancel}
}

// Start begins the sweep loop. No-op if disabled.
func (m *Manager) Start() {
	if !m.config.Enabled {
		m.log.Info("stale-session sweep disabled")
		return
	}
	m.log.Info(fmt.Sprintf("starting stale-session sweep (interval: %v)", m.config.Interval))
	m.wg.Add(1)
	go m.loop()
}

func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	start := time.Now()
	live := m.jobs.LiveSessionNames()

	sessions, err := m.lister.ListSessions(m.ctx)
	if err != nil {
		m.log.Warn(fmt.Sprintf("failed to list sessions: %v", err))
		return
	}

	var killed int64
	for _, name := range sessions {
		if _, tracked := live[name]; tracked {
			continue
		}
		if err := m.exec.Terminate(m.ctx, name); err != nil {
			m.log.Warn(fmt.Sprintf("failed to terminate stray session %s: %v", name, err))
			continue
		}
		killed++
		m.log.Info(fmt.Sprintf("terminated stray session %s", name))
	}

	m.mu.Lock()
	m.stats.LastRun = start
	m.stats.LastDuration = time.Since(start)
	m.stats.TotalKilled += killed
	m.mu.Unlock()
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
