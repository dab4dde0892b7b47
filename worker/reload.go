package worker

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/teranos/flowd/logger"
	"github.com/teranos/flowd/store"
)

// ReloadGate exits the process at its first quiescent moment once an
// operator has flagged a pending restart. The flag lives in the shared
// database so every sibling worker sees it; each exits as it drains, and
// whichever worker finds the queue empty clears the flag on its way out.
// An external supervisor relaunches the process with fresh configuration.
type ReloadGate struct {
	store *store.Store
	log   *zap.SugaredLogger
	exit  func(code int)
}

// NewReloadGate creates a gate. The exit hook runs after the flag is
// cleared; nil means os.Exit.
func NewReloadGate(s *store.Store, log *zap.SugaredLogger, exit func(int)) *ReloadGate {
	if exit == nil {
		exit = os.Exit
	}
	return &ReloadGate{store: s, log: log, exit: exit}
}

// Check consults the restart flag after a job finishes. No-op unless the
// flag reads "true" and no queued or processing work remains anywhere.
func (g *ReloadGate) Check(ctx context.Context) {
	value, ok, err := g.store.GetFlag(ctx, store.RestartPendingFlag)
	if err != nil {
		g.log.Warnw("Failed to read restart flag", logger.FieldError, err)
		return
	}
	if !ok || value != "true" {
		return
	}

	active, err := g.store.CountActive(ctx)
	if err != nil {
		g.log.Warnw("Failed to count active jobs for restart", logger.FieldError, err)
		return
	}
	if active > 0 {
		g.log.Infow("Restart pending, jobs still active", logger.FieldCount, active)
		return
	}

	if err := g.store.DeleteFlag(ctx, store.RestartPendingFlag); err != nil {
		g.log.Errorw("Failed to clear restart flag", logger.FieldError, err)
		return
	}
	g.log.Infow("Restart flag honored, exiting for supervisor relaunch")
	g.exit(0)
}
