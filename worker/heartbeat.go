package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/flowd/logger"
	"github.com/teranos/flowd/store"
)

// DefaultHeartbeatInterval is how often a claimed job's updated_at is
// refreshed. Recovery treats jobs whose updated_at is older than the max
// runtime as abandoned, so this must stay well under that.
const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeater keeps claimed jobs visibly alive by touching their updated_at
// while the pipeline runs
type Heartbeater struct {
	store    *store.Store
	interval time.Duration
	log      *zap.SugaredLogger
}

// NewHeartbeater creates a heartbeater; non-positive intervals fall back to
// the default.
func NewHeartbeater(s *store.Store, interval time.Duration, log *zap.SugaredLogger) *Heartbeater {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeater{store: s, interval: interval, log: log}
}

// Start begins touching the job on the heartbeat interval. The returned stop
// function halts the loop and waits for it to exit; calling it more than
// once is safe.
func (h *Heartbeater) Start(ctx context.Context, jobID string) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				// Best-effort; the recoverer is the backstop if touches
				// keep failing
				if err := h.store.Touch(hbCtx, jobID); err != nil {
					h.log.Warnw("Heartbeat touch failed",
						logger.FieldJobID, jobID,
						logger.FieldError, err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
