// Package worker implements the job-processing lifecycle: polling the queue,
// claiming jobs against sibling workers, heartbeating claims, invoking the
// pipeline engine, recovering abandoned work, and coordinating shutdown.
package worker

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/flowd/config"
	"github.com/teranos/flowd/errors"
	"github.com/teranos/flowd/frontend"
	"github.com/teranos/flowd/logger"
	"github.com/teranos/flowd/metrics"
	"github.com/teranos/flowd/pipeline"
	"github.com/teranos/flowd/store"
)

// DefaultDrainGrace is added to MaxJobRuntime to form the shutdown drain
// deadline, covering terminal writes and frontend mirroring after the last
// pipeline call returns
const DefaultDrainGrace = 5 * time.Minute

// Daemon composes the worker's moving parts over one shared database and
// coordinates their lifecycle. One Daemon is one worker process.
type Daemon struct {
	cfg      *config.Config
	database *sql.DB
	store    *store.Store
	frontend Frontend

	registry  *Registry
	cache     *CompletionCache
	collector *metrics.Collector
	stats     *Stats
	executor  *Executor
	scheduler *Scheduler
	recoverer *Recoverer
	gate      *ReloadGate

	workerID   string
	rootCtx    context.Context
	rootCancel context.CancelFunc
	execWG     sync.WaitGroup

	shuttingDown atomic.Bool
	drainGrace   time.Duration
	abortGrace   time.Duration
	exitCode     int
	exit         func(code int)

	metricsSrv *http.Server
	log        *zap.SugaredLogger
}

// NewDaemon builds a daemon with real HTTP clients derived from the config
func NewDaemon(cfg *config.Config, database *sql.DB, log *zap.SugaredLogger) (*Daemon, error) {
	fe := frontend.NewClient(frontend.Config{
		BaseURL:           cfg.Frontend.BaseURL,
		Secret:            cfg.Frontend.Secret,
		Timeout:           cfg.FrontendTimeout(),
		RequestsPerMinute: cfg.Frontend.RequestsPerMinute,
		Logger:            log.Named("frontend"),
	})
	pl := pipeline.NewClient(pipeline.Config{
		BaseURL: cfg.Pipeline.BaseURL,
		Secret:  cfg.Pipeline.Secret,
		Timeout: cfg.PipelineTimeout(),
		Logger:  log.Named("pipeline"),
	})
	return NewDaemonWithClients(cfg, database, fe, pl, log)
}

// NewDaemonWithClients builds a daemon around the given clients. Tests use
// this to substitute fakes for the frontend and pipeline.
func NewDaemonWithClients(cfg *config.Config, database *sql.DB, fe Frontend, pl Pipeline, log *zap.SugaredLogger) (*Daemon, error) {
	cache, err := NewCompletionCache(DefaultCompletionCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create completion cache")
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	st := store.NewStore(database, log.Named("store"))

	d := &Daemon{
		cfg:        cfg,
		database:   database,
		store:      st,
		frontend:   fe,
		registry:   NewRegistry(),
		cache:      cache,
		collector:  metrics.NewCollector(),
		stats:      &Stats{},
		workerID:   BuildWorkerID(cfg.Project.Name, cfg.Worker.InstanceIndex, os.Getpid()),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		drainGrace: DefaultDrainGrace,
		abortGrace: 10 * time.Second,
		exit:       os.Exit,
		log:        log,
	}

	d.gate = NewReloadGate(st, log.Named("reload"), d.reloadExit)
	heartbeat := NewHeartbeater(st, cfg.HeartbeatInterval(), log.Named("heartbeat"))

	d.executor = NewExecutor(ExecutorConfig{
		Store:        st,
		Frontend:     fe,
		Pipeline:     pl,
		Registry:     d.registry,
		Cache:        cache,
		Heartbeat:    heartbeat,
		Gate:         d.gate,
		Collector:    d.collector,
		Stats:        d.stats,
		WorkerID:     d.workerID,
		ProjectID:    cfg.Project.ID,
		ClearResults: cfg.Pipeline.ClearResults,
		OutputDir:    cfg.Batch.OutputDir,
		ShuttingDown: &d.shuttingDown,
		Logger:       log.Named("executor"),
	})

	fetchLimit := cfg.Worker.MaxConcurrentJobs * 2
	if fetchLimit < 10 {
		fetchLimit = 10
	}
	d.scheduler = NewScheduler(rootCtx, SchedulerConfig{
		Store:         st,
		Frontend:      fe,
		Executor:      d.executor,
		Registry:      d.registry,
		Collector:     d.collector,
		Stats:         d.stats,
		Interval:      cfg.PollInterval(),
		MaxConcurrent: cfg.Worker.MaxConcurrentJobs,
		FetchLimit:    fetchLimit,
		ModeFilter:    cfg.Project.ModeFilter,
		ShuttingDown:  &d.shuttingDown,
		ExecWG:        &d.execWG,
		Logger:        log.Named("scheduler"),
	})

	d.recoverer = NewRecoverer(rootCtx, st, fe, cfg.MaxJobRuntime(), cfg.RecoveryInterval(), log.Named("recovery"))
	return d, nil
}

// WorkerID returns the identity this process claims jobs under
func (d *Daemon) WorkerID() string {
	return d.workerID
}

// Start recovers orphaned work and launches the background loops
func (d *Daemon) Start() {
	d.log.Infow("Worker starting",
		logger.FieldWorkerID, d.workerID,
		"project", d.cfg.Project.ID,
		"max_concurrent", d.cfg.Worker.MaxConcurrentJobs,
		logger.FieldMode, d.cfg.Project.ModeFilter)

	// Startup sweep releases jobs a previous crash left behind
	if recovered, err := d.recoverer.RecoverOnce(d.rootCtx); err != nil {
		d.log.Warnw("Startup recovery failed", logger.FieldError, err)
	} else if recovered > 0 {
		d.log.Infow("Recovered stuck jobs at startup", logger.FieldCount, recovered)
	}

	d.recoverer.Start()
	d.scheduler.Start()
	d.startMetricsServer()
}

// Shutdown winds the daemon down and returns the process exit code: 0 for
// graceful signals and reloads, 1 for exception paths. Idempotent; repeated
// calls log and return the code chosen by the first.
func (d *Daemon) Shutdown(reason string, graceful bool) int {
	if !d.shuttingDown.CompareAndSwap(false, true) {
		d.log.Infow("Shutdown already in progress", "reason", reason)
		return d.exitCode
	}
	if !graceful {
		d.exitCode = 1
	}

	active := d.registry.Len()
	d.log.Infow("Shutting down",
		"reason", reason,
		logger.FieldCount, active)

	d.scheduler.Stop()
	d.recoverer.Stop()

	done := make(chan struct{})
	go func() {
		d.execWG.Wait()
		close(done)
	}()

	deadline := d.cfg.MaxJobRuntime() + d.drainGrace
	if active > 0 {
		d.log.Infow("Waiting for active jobs to drain",
			logger.FieldCount, active,
			"deadline", deadline)
	}

	select {
	case <-done:
		d.log.Infow("All active jobs drained")
	case <-time.After(deadline):
		d.abortActiveJobs()
		// Cancelled executors unwind quickly; give them a moment before
		// the database closes under them
		select {
		case <-done:
		case <-time.After(d.abortGrace):
			d.log.Warnw("Executors still running after cancellation")
		}
	}

	d.stopMetricsServer()
	d.rootCancel()
	if err := d.database.Close(); err != nil {
		d.log.Warnw("Failed to close database", logger.FieldError, err)
	}

	d.log.Infow("Shutdown complete", "exit_code", d.exitCode)
	return d.exitCode
}

// abortActiveJobs cancels everything still running after the drain deadline
// and hands the jobs back to the queue for a sibling or the next instance
func (d *Daemon) abortActiveJobs() {
	ids := d.registry.CancelAll()
	d.log.Warnw("Drain deadline passed, aborting active jobs", logger.FieldCount, len(ids))

	for _, id := range ids {
		if err := d.store.ResetToQueued(context.Background(), id); err != nil {
			d.log.Warnw("Failed to re-queue aborted job",
				logger.FieldJobID, id,
				logger.FieldError, err)
			continue
		}
		go func(jobID string) {
			if err := d.frontend.PatchStatus(context.Background(), jobID, store.JobStatusQueued, "", nil); err != nil {
				d.log.Debugw("Failed to mirror re-queue to frontend",
					logger.FieldJobID, jobID,
					logger.FieldError, err)
			}
		}(id)
	}
}

// reloadExit is the gate's exit hook: a restart flag was honored with the
// queue empty, so tear down quickly and let the supervisor relaunch
func (d *Daemon) reloadExit(code int) {
	d.shuttingDown.Store(true)
	d.scheduler.Stop()
	d.recoverer.Stop()
	d.stopMetricsServer()
	d.rootCancel()
	if err := d.database.Close(); err != nil {
		d.log.Warnw("Failed to close database", logger.FieldError, err)
	}
	d.exit(code)
}

func (d *Daemon) startMetricsServer() {
	if d.cfg.Metrics.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.collector.Handler())
	d.metricsSrv = &http.Server{Addr: d.cfg.Metrics.Addr, Handler: mux}

	go func() {
		if err := d.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Warnw("Metrics server stopped", logger.FieldError, err)
		}
	}()
	d.log.Infow("Metrics endpoint listening", "addr", d.cfg.Metrics.Addr)
}

func (d *Daemon) stopMetricsServer() {
	if d.metricsSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.metricsSrv.Shutdown(ctx); err != nil {
		d.log.Debugw("Metrics server shutdown", logger.FieldError, err)
	}
}
