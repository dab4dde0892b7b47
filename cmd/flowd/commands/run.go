package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/teranos/flowd/config"
	"github.com/teranos/flowd/logger"
	"github.com/teranos/flowd/store"
	"github.com/teranos/flowd/worker"
)

// RunCmd starts a worker daemon in the foreground.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a worker daemon",
	Long: `Run a flowd worker in the foreground.

The worker will:
- Poll the frontend and the shared database for queued jobs
- Claim jobs against sibling workers and heartbeat its claims
- Execute each job through the pipeline engine
- Recover jobs abandoned by crashed workers
- Drain active jobs before exiting (Ctrl+C / SIGTERM)

Editing the resolved config file while the daemon runs schedules a
rolling restart: every worker sharing the database exits with code 0
once idle, so the supervisor relaunches it with the new settings.

Example:
  flowd run        # Start a worker in the foreground
  flowd run -v     # Same, with debug logging`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Re-initialize logging once the configured format is known;
	// production deployments log JSON for the collector.
	if cfg.Log.JSON {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(true, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.ApplyLimits(logger.Logger)
	for _, warning := range cfg.SecurityWarnings() {
		logger.Warnw("Configuration security warning", "warning", warning)
	}

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}

	// The daemon owns the database handle from here; Shutdown closes it.
	daemon, err := worker.NewDaemon(cfg, database, logger.Logger)
	if err != nil {
		database.Close()
		return fmt.Errorf("failed to build worker: %w", err)
	}

	st := store.NewStore(database, logger.Logger.Named("config-reload"))
	watcher := watchConfigFile(st)

	daemon.Start()

	fmt.Printf("flowd worker started\n")
	fmt.Printf("  Worker ID: %s\n", daemon.WorkerID())
	fmt.Printf("  Project: %s (%s)\n", cfg.Project.Name, cfg.Project.ID)
	fmt.Printf("  Poll interval: %v\n", cfg.PollInterval())
	fmt.Printf("  Max concurrent jobs: %d\n", cfg.Worker.MaxConcurrentJobs)
	fmt.Printf("  Database: %s\n", cfg.Database.Path)
	if cfg.Metrics.Addr != "" {
		fmt.Printf("  Metrics: http://%s/metrics\n", cfg.Metrics.Addr)
	}
	fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	fmt.Printf("\nReceived %s, draining active jobs...\n", sig)
	go func() {
		for extra := range sigChan {
			logger.Infow("Already shutting down, ignoring signal",
				"signal", extra.String())
		}
	}()

	if watcher != nil {
		watcher.Stop()
	}

	code := daemon.Shutdown(sig.String(), true)
	logger.Cleanup()
	os.Exit(code)
	return nil
}

// watchConfigFile arranges for config file edits to schedule a rolling
// restart. A live daemon cannot re-point itself at new settings, so the
// restart flag makes every worker on the database exit once idle and the
// supervisor relaunches them against the updated file.
func watchConfigFile(st *store.Store) *config.ConfigWatcher {
	path := config.FindProjectConfig()
	if path == "" {
		if p := config.UserConfigPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if path == "" {
		logger.Debugw("No config file found to watch, live reload disabled")
		return nil
	}

	watcher, err := config.NewConfigWatcher(path)
	if err != nil {
		logger.Warnw("Failed to watch config file, live reload disabled",
			"path", path,
			"error", err)
		return nil
	}

	watcher.OnReload(func(*config.Config) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.SetFlag(ctx, store.RestartPendingFlag, "true"); err != nil {
			return err
		}
		logger.Infow("Config change detected, rolling restart scheduled",
			"path", path)
		return nil
	})

	config.SetGlobalWatcher(watcher)
	watcher.Start()
	logger.Infow("Watching config file for changes", "path", path)
	return watcher
}
