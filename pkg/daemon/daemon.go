// Package daemon wires together config, store, executor, scheduler, and
// the API server into the long-running gflowd process.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AndPuQing/gflow/pkg/api"
	"github.com/AndPuQing/gflow/pkg/cleanup"
	"github.com/AndPuQing/gflow/pkg/clock"
	"github.com/AndPuQing/gflow/pkg/config"
	"github.com/AndPuQing/gflow/pkg/executor"
	"github.com/AndPuQing/gflow/pkg/gpu"
	"github.com/AndPuQing/gflow/pkg/logging"
	"github.com/AndPuQing/gflow/pkg/metrics"
	"github.com/AndPuQing/gflow/pkg/ratelimit"
	"github.com/AndPuQing/gflow/pkg/scheduler"
	"github.com/AndPuQing/gflow/pkg/shutdown"
	"github.com/AndPuQing/gflow/pkg/store"
	"github.com/AndPuQing/gflow/pkg/tracing"
)

// Daemon owns the process-level wiring: one Scheduler, one HTTP server,
// one shutdown manager.
type Daemon struct {
	cfg      config.DaemonConfig
	sched    *scheduler.Scheduler
	server   *http.Server
	log      *logging.Logger
	shutdown *shutdown.Manager
	tracer   *tracing.Provider
	audit    store.AuditSink
	cleanup  *cleanup.Manager
}

// New builds every component per cfg but does not start listening.
func New(cfg config.DaemonConfig) (*Daemon, error) {
	log, err := newDaemonLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	snapStore := store.NewSnapshotStore(cfg.DataDir, clock.RealClock{}, log)

	var audit store.AuditSink
	switch cfg.AuditDriver {
	case "sqlite":
		audit, err = store.NewSQLiteAuditSink(cfg.AuditDSN)
	case "postgres":
		audit, err = store.NewPostgresAuditSink(cfg.AuditDSN)
	default:
		audit = store.NoopAuditSink{}
	}
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}

	gpuProbe, err := resolveProbe(cfg.GPUs)
	if err != nil {
		return nil, err
	}

	tmuxExec := &executor.TmuxExecutor{RunDir: fmt.Sprintf("%s/executor", cfg.DataDir)}

	sched, err := scheduler.New(scheduler.Config{
		Store:        snapStore,
		Executor:     tmuxExec,
		GPUProbe:     gpuProbe,
		Audit:        audit,
		Clock:        clock.RealClock{},
		Logger:       log,
		LogDir:       cfg.LogDir,
		TickInterval: cfg.TickInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("construct scheduler: %w", err)
	}

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:  "gflowd",
		Enabled:      cfg.TracingEnabled,
		OTLPEndpoint: cfg.TracingEndpoint,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)
	limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	sm := shutdown.New(15 * time.Second)

	d := &Daemon{cfg: cfg, sched: sched, log: log, shutdown: sm, tracer: tracer, audit: audit}

	handler := api.NewHandler(sched, log, limiter, m, tracer, d.triggerShutdown)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	d.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	d.cleanup = cleanup.New(cleanup.DefaultConfig(), sched, tmuxExec, tmuxExec, log)

	sm.Register(shutdown.CloseResource(audit, "audit sink"))
	sm.Register(func(ctx context.Context) error { return tracer.Shutdown(ctx) })
	sm.Register(func(ctx context.Context) error { d.cleanup.Stop(); return nil })
	sm.Register(shutdown.StopHTTPServer(d.server, "gflowd"))

	return d, nil
}

// newDaemonLogger builds gflowd's own operational logger, separate from
// the per-job output the scheduler writes under cfg.LogDir. Most
// deployments run gflowd under a supervisor that already captures
// stdout, so file logging is opt-in via cfg.LogToFile.
func newDaemonLogger(cfg config.DaemonConfig) (*logging.Logger, error) {
	if !cfg.LogToFile {
		return logging.NewLogger(logging.INFO, false), nil
	}
	return logging.NewFileLogger("gflowd", "", logging.INFO, false)
}

// resolveProbe turns the configured --gpus spec into a Probe. "all" defers
// to live nvidia-smi discovery; an explicit index/range list is pinned via
// StaticProbe regardless of what nvidia-smi reports, so an operator can
// restrict a shared host to a subset of its physical GPUs.
func resolveProbe(spec string) (gpu.Probe, error) {
	ids, all, err := gpu.ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	if all {
		return gpu.NvidiaSMIProbe{}, nil
	}
	return gpu.StaticProbe{IDs: ids}, nil
}

// Run starts the tick loop and HTTP server, blocking until ctx is
// cancelled or a shutdown signal arrives.
func (d *Daemon) Run(ctx context.Context) error {
	tickCtx, cancelTick := context.WithCancel(ctx)
	defer cancelTick()
	go d.sched.Run(tickCtx)
	d.cleanup.Start()

	errCh := make(chan error, 1)
	go func() {
		d.log.Info(fmt.Sprintf("gflowd listening on %s", d.server.Addr))
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case <-d.shutdown.Done():
	case err := <-errCh:
		return err
	}

	d.shutdown.Shutdown()
	return nil
}

func (d *Daemon) triggerShutdown() {
	d.shutdown.Shutdown()
}
