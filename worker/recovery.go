package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/flowd/logger"
	"github.com/teranos/flowd/store"
)

// DefaultRecoveryInterval is the period between stuck-job sweeps
const DefaultRecoveryInterval = time.Hour

// Recoverer re-queues processing jobs whose heartbeat has been silent for
// longer than the maximum runtime. This is the backstop for crashed workers,
// kill -9, and network partitions: the dead worker's claim is released so a
// sibling, or the next instance of this worker, picks the job up.
type Recoverer struct {
	store      *store.Store
	frontend   Frontend
	maxRuntime time.Duration
	interval   time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	log        *zap.SugaredLogger
}

// NewRecoverer creates a recoverer bound to the parent context
func NewRecoverer(ctx context.Context, s *store.Store, fe Frontend, maxRuntime, interval time.Duration, log *zap.SugaredLogger) *Recoverer {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	rCtx, cancel := context.WithCancel(ctx)
	return &Recoverer{
		store:      s,
		frontend:   fe,
		maxRuntime: maxRuntime,
		interval:   interval,
		ctx:        rCtx,
		cancel:     cancel,
		log:        log,
	}
}

// Start begins the periodic sweep loop
func (r *Recoverer) Start() {
	r.wg.Add(1)
	go r.run()
	r.log.Infow("Recoverer started", "interval", r.interval)
}

// Stop halts the sweep loop and waits for it to exit
func (r *Recoverer) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Recoverer) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RecoverOnce(r.ctx); err != nil {
				r.log.Warnw("Stuck-job sweep failed", logger.FieldError, err)
			}
		}
	}
}

// RecoverOnce finds jobs stuck in processing and resets them to queued,
// returning the number recovered. The daemon calls this once at startup;
// the run loop repeats it on every interval tick.
func (r *Recoverer) RecoverOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.maxRuntime)
	stuck, err := r.store.FindStuckProcessing(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	recovered := 0
	for _, job := range stuck {
		if err := r.store.ResetToQueued(ctx, job.ID); err != nil {
			r.log.Warnw("Failed to reset stuck job",
				logger.FieldJobID, job.ID,
				logger.FieldError, err)
			continue
		}
		recovered++
		r.log.Warnw("Recovered stuck job",
			logger.FieldJobID, job.ID,
			logger.FieldWorkerID, job.WorkerID,
			"last_update", job.UpdatedAt)

		if r.frontend != nil {
			go func(jobID string) {
				if err := r.frontend.PatchStatus(context.Background(), jobID, store.JobStatusQueued, "", nil); err != nil {
					r.log.Debugw("Failed to mirror recovery to frontend",
						logger.FieldJobID, jobID,
						logger.FieldError, err)
				}
			}(job.ID)
		}
	}
	return recovered, nil
}
