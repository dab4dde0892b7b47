package worker

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/flowd/logger"
	"github.com/teranos/flowd/metrics"
	"github.com/teranos/flowd/pipeline"
	"github.com/teranos/flowd/store"
)

// Frontend mirrors job state to the external submission system that owns
// the user-facing view of progress
type Frontend interface {
	ListQueued(ctx context.Context, limit int) ([]*store.Job, error)
	PatchStatus(ctx context.Context, jobID string, status store.JobStatus, errMsg string, completedAt *time.Time) error
}

// Pipeline runs one flow execution to completion
type Pipeline interface {
	Execute(ctx context.Context, projectID string, globalVariables map[string]string, clearResults bool) (*pipeline.Result, error)
}

// FallbackFailureMessage is stored when a pipeline reports failure without
// saying why
const FallbackFailureMessage = "Pipeline execution failed"

// Executor drives one candidate job through dedup checks, claim, pipeline
// execution, and terminal state. It holds no per-job state of its own; all
// shared state lives in the registry, cache, and store, so one Executor
// serves any number of concurrent ProcessJob calls.
type Executor struct {
	store        *store.Store
	frontend     Frontend
	pipeline     Pipeline
	registry     *Registry
	cache        *CompletionCache
	heartbeat    *Heartbeater
	gate         *ReloadGate
	collector    *metrics.Collector
	stats        *Stats
	workerID     string
	projectID    string
	clearResults bool
	outputDir    string
	shuttingDown *atomic.Bool
	log          *zap.SugaredLogger
}

// ExecutorConfig wires an Executor's collaborators and per-worker settings
type ExecutorConfig struct {
	Store        *store.Store
	Frontend     Frontend
	Pipeline     Pipeline
	Registry     *Registry
	Cache        *CompletionCache
	Heartbeat    *Heartbeater
	Gate         *ReloadGate
	Collector    *metrics.Collector
	Stats        *Stats
	WorkerID     string
	ProjectID    string
	ClearResults bool
	OutputDir    string
	ShuttingDown *atomic.Bool
	Logger       *zap.SugaredLogger
}

// NewExecutor creates an executor from its wiring
func NewExecutor(cfg ExecutorConfig) *Executor {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{
		store:        cfg.Store,
		frontend:     cfg.Frontend,
		pipeline:     cfg.Pipeline,
		registry:     cfg.Registry,
		cache:        cfg.Cache,
		heartbeat:    cfg.Heartbeat,
		gate:         cfg.Gate,
		collector:    cfg.Collector,
		stats:        cfg.Stats,
		workerID:     cfg.WorkerID,
		projectID:    cfg.ProjectID,
		clearResults: cfg.ClearResults,
		outputDir:    cfg.OutputDir,
		shuttingDown: cfg.ShuttingDown,
		log:          log,
	}
}

// ProcessJob runs the full lifecycle for one candidate job and blocks until
// it reaches a terminal state, the claim is lost, or a dedup guard fires.
// The scheduler calls it from a dedicated goroutine per job.
func (e *Executor) ProcessJob(ctx context.Context, job *store.Job) {
	log := e.log.With(logger.FieldJobID, job.ID)

	if e.shuttingDown.Load() {
		log.Debugw("Skipping job, shutdown in progress")
		return
	}
	if e.cache.Contains(job.ID) {
		log.Debugw("Skipping job, completion cached")
		return
	}
	completed, err := e.store.HasCompletedExecution(ctx, job.ID)
	if err != nil {
		// The claim and the execution record still protect correctness,
		// so a failed dedup probe is not fatal
		log.Warnw("Failed to check for completed execution", logger.FieldError, err)
	}
	if completed {
		e.cache.Add(job.ID)
		log.Infow("Skipping job, already completed by a previous run")
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	if !e.registry.Register(job.ID, cancel) {
		cancel()
		log.Debugw("Skipping job, already dispatched")
		return
	}

	stopHeartbeat := e.heartbeat.Start(jobCtx, job.ID)
	e.registry.SetHeartbeatStop(job.ID, stopHeartbeat)

	defer func() {
		stopHeartbeat()
		cancel()
		e.registry.Release(job.ID)
		e.gate.Check(context.Background())
	}()

	claimed, err := e.store.ClaimJob(ctx, job.ID, job, e.workerID)
	if err != nil {
		log.Errorw("Job claim failed", logger.FieldError, err)
		return
	}
	e.collector.RecordClaim(claimed)
	if !claimed {
		log.Debugw("Job claimed by another worker")
		return
	}

	log.Infow("Claimed job",
		logger.FieldWorkerID, e.workerID,
		logger.FieldMode, job.Mode,
		logger.FieldBatchID, job.BatchID)

	// Mirror the claim to the frontend without blocking the pipeline call
	go func() {
		if err := e.frontend.PatchStatus(context.Background(), job.ID, store.JobStatusProcessing, "", nil); err != nil {
			log.Debugw("Failed to mirror processing status", logger.FieldError, err)
		}
	}()

	start := time.Now()
	vars := BuildGlobalVariables(job, e.outputDir)
	result, execErr := e.pipeline.Execute(jobCtx, e.projectID, vars, e.clearResults)
	duration := time.Since(start)

	if execErr != nil && jobCtx.Err() != nil {
		// The run was cancelled by shutdown or the drain deadline; no
		// terminal state is written here because the shutdown path (or
		// the recoverer) re-queues the job
		log.Infow("Job execution cancelled", logger.FieldError, jobCtx.Err())
		return
	}

	e.recordExecution(ctx, job.ID, result, start, duration)

	now := time.Now().UTC()
	if execErr == nil && result != nil && result.Success {
		e.finishCompleted(ctx, log, job.ID, now, duration)
	} else {
		e.finishFailed(ctx, log, job.ID, execErr, result, now, duration)
	}
}

// recordExecution mirrors the pipeline's own record of the run into the
// shared database, making the durable idempotency key visible to every
// worker. Best-effort: a failed write costs a redundant re-run at worst.
func (e *Executor) recordExecution(ctx context.Context, jobID string, result *pipeline.Result, start time.Time, duration time.Duration) {
	if result == nil || result.ExecutionID == "" {
		return
	}
	status := store.ExecutionStatusFailed
	if result.Success {
		status = store.ExecutionStatusCompleted
	}
	completed := time.Now().UTC()
	durationMs := result.Stats.Duration
	if durationMs == 0 {
		durationMs = duration.Milliseconds()
	}
	exec := &store.Execution{
		ID:            result.ExecutionID,
		JobID:         jobID,
		Status:        status,
		ExecutedSteps: result.Stats.Executed,
		FailedSteps:   result.Stats.Failed,
		SkippedSteps:  result.Stats.Skipped,
		StartedAt:     start.UTC(),
		CompletedAt:   &completed,
		DurationMs:    durationMs,
	}
	if err := e.store.RecordExecution(ctx, exec); err != nil {
		e.log.Warnw("Failed to record execution",
			logger.FieldJobID, jobID,
			logger.FieldExecutionID, result.ExecutionID,
			logger.FieldError, err)
	}
}

func (e *Executor) finishCompleted(ctx context.Context, log *zap.SugaredLogger, jobID string, now time.Time, duration time.Duration) {
	if err := e.store.MarkTerminal(ctx, jobID, store.JobStatusCompleted, "", now); err != nil {
		// The job stays processing; the recoverer re-queues it later and
		// the execution record turns the retry into a no-op
		log.Errorw("Failed to mark job completed", logger.FieldError, err)
		return
	}
	e.cache.Add(jobID)
	e.stats.Processed.Add(1)
	e.collector.RecordCompleted(duration.Seconds())
	log.Infow("Job completed", logger.FieldDurationMS, duration.Milliseconds())

	if err := e.frontend.PatchStatus(ctx, jobID, store.JobStatusCompleted, "", &now); err != nil {
		log.Warnw("Failed to mirror completion to frontend", logger.FieldError, err)
	}
}

func (e *Executor) finishFailed(ctx context.Context, log *zap.SugaredLogger, jobID string, execErr error, result *pipeline.Result, now time.Time, duration time.Duration) {
	failMsg := ""
	if execErr != nil {
		failMsg = Sanitize(execErr.Error())
	}
	if failMsg == "" {
		failMsg = FallbackFailureMessage
	}

	if err := e.store.MarkTerminal(ctx, jobID, store.JobStatusFailed, failMsg, now); err != nil {
		// Same recovery path as the completed case: stuck-processing
		// detection re-queues the job eventually
		log.Errorw("Failed to mark job failed", logger.FieldError, err)
	}
	e.stats.Failed.Add(1)
	e.collector.RecordFailed()

	fields := []interface{}{
		logger.FieldError, failMsg,
		logger.FieldDurationMS, duration.Milliseconds(),
	}
	if result != nil {
		fields = append(fields, "failed_steps", result.Stats.Failed)
	}
	log.Warnw("Job failed", fields...)

	if err := e.frontend.PatchStatus(ctx, jobID, store.JobStatusFailed, failMsg, &now); err != nil {
		log.Warnw("Failed to mirror failure to frontend", logger.FieldError, err)
	}
}
