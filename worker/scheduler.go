package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/flowd/logger"
	"github.com/teranos/flowd/metrics"
	"github.com/teranos/flowd/store"
)

// DefaultPollInterval is the scheduler tick period
const DefaultPollInterval = 10 * time.Second

// statsLogEvery spaces the periodic stats line; with the default 10s poll
// interval it comes out once a minute
const statsLogEvery = 6

// Stats aggregates lifetime counters for the periodic scheduler log line
type Stats struct {
	Polls     atomic.Int64
	Found     atomic.Int64
	Processed atomic.Int64
	Failed    atomic.Int64
}

// Scheduler owns the polling loop: every tick it gathers candidate jobs
// from the frontend and the local batch queue, then dispatches them to
// executors until the concurrency budget is spent. Ticks never block on
// pipeline durations; each dispatched job runs in its own goroutine.
type Scheduler struct {
	store     *store.Store
	frontend  Frontend
	executor  *Executor
	registry  *Registry
	collector *metrics.Collector
	stats     *Stats

	interval      time.Duration
	maxConcurrent int
	fetchLimit    int
	modeFilter    string

	shuttingDown *atomic.Bool
	execWG       *sync.WaitGroup

	baseCtx context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     *zap.SugaredLogger
}

// SchedulerConfig wires a Scheduler's collaborators and settings
type SchedulerConfig struct {
	Store     *store.Store
	Frontend  Frontend
	Executor  *Executor
	Registry  *Registry
	Collector *metrics.Collector
	Stats     *Stats

	Interval      time.Duration
	MaxConcurrent int
	FetchLimit    int
	ModeFilter    string

	ShuttingDown *atomic.Bool
	// ExecWG tracks every dispatched executor goroutine; the daemon drains
	// it during shutdown
	ExecWG *sync.WaitGroup

	Logger *zap.SugaredLogger
}

// NewScheduler creates a scheduler bound to the parent context. Executors
// are dispatched on the parent itself so they survive the loop being
// stopped and drain naturally during shutdown.
func NewScheduler(ctx context.Context, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.FetchLimit < 1 {
		cfg.FetchLimit = cfg.MaxConcurrent
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		store:         cfg.Store,
		frontend:      cfg.Frontend,
		executor:      cfg.Executor,
		registry:      cfg.Registry,
		collector:     cfg.Collector,
		stats:         cfg.Stats,
		interval:      cfg.Interval,
		maxConcurrent: cfg.MaxConcurrent,
		fetchLimit:    cfg.FetchLimit,
		modeFilter:    cfg.ModeFilter,
		shuttingDown:  cfg.ShuttingDown,
		execWG:        cfg.ExecWG,
		baseCtx:       ctx,
		ctx:           loopCtx,
		cancel:        cancel,
		log:           log,
	}
}

// Start begins the poll loop
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Infow("Scheduler started",
		"interval", s.interval,
		"max_concurrent", s.maxConcurrent,
		logger.FieldMode, s.modeFilter)
}

// Stop halts the poll loop and waits for it to exit. Already-dispatched
// executors keep running; the daemon drains those separately.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.log.Infow("Scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
			s.maybeLogStats()
		}
	}
}

// tick runs one poll cycle: fetch, filter, dispatch
func (s *Scheduler) tick() {
	if s.shuttingDown.Load() {
		return
	}
	s.stats.Polls.Add(1)
	s.collector.RecordPoll()

	frontendJobs, batchJobs := s.fetchCandidates()
	candidates := append(frontendJobs, batchJobs...)
	s.collector.UpdateQueueStats(len(candidates), s.registry.Len())
	if len(candidates) == 0 {
		return
	}
	s.stats.Found.Add(int64(len(candidates)))

	dispatched := 0
	slots := s.maxConcurrent - s.registry.Len()
	for _, job := range candidates {
		if slots <= 0 {
			break
		}
		// Batch jobs arrive pre-filtered by the store query
		if s.modeFilter != "" && !job.IsBatch() && job.Mode != s.modeFilter {
			continue
		}
		if s.registry.Contains(job.ID) {
			continue
		}

		s.execWG.Add(1)
		go func(job *store.Job) {
			defer s.execWG.Done()
			s.executor.ProcessJob(s.baseCtx, job)
		}(job)
		slots--
		dispatched++
	}

	if dispatched > 0 {
		s.log.Debugw("Dispatched jobs",
			logger.FieldCount, dispatched,
			"candidates", len(candidates))
	}
}

// fetchCandidates pulls frontend-queued and batch-queued jobs in parallel.
// Either source failing degrades to an empty slice; polling never halts on
// a fetch error.
func (s *Scheduler) fetchCandidates() (frontendJobs, batchJobs []*store.Job) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		jobs, err := s.frontend.ListQueued(s.ctx, s.fetchLimit)
		if err != nil {
			s.log.Warnw("Failed to fetch frontend jobs", logger.FieldError, err)
			return
		}
		frontendJobs = jobs
	}()

	go func() {
		defer wg.Done()
		jobs, err := s.store.FetchBatchQueued(s.ctx, s.fetchLimit, s.modeFilter)
		if err != nil {
			s.log.Warnw("Failed to fetch batch jobs", logger.FieldError, err)
			return
		}
		batchJobs = jobs
	}()

	wg.Wait()
	return frontendJobs, batchJobs
}

func (s *Scheduler) maybeLogStats() {
	polls := s.stats.Polls.Load()
	if polls == 0 || polls%statsLogEvery != 0 {
		return
	}

	fields := []interface{}{
		"polls", polls,
		"jobs_found", s.stats.Found.Load(),
		"processed", s.stats.Processed.Load(),
		"failed", s.stats.Failed.Load(),
		"active", s.registry.Len(),
	}
	if mem, err := ReadMemoryStats(); err == nil {
		fields = append(fields,
			"mem_used_gb", mem.UsedGB,
			"mem_percent", mem.Percent)
	}
	s.log.Infow("Worker stats", fields...)
}
