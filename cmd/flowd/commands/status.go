package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/flowd/config"
	"github.com/teranos/flowd/display"
	"github.com/teranos/flowd/logger"
	"github.com/teranos/flowd/store"
)

// StatusCmd shows the state of the shared job queue.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth, stuck jobs, and system flags",
	Long: `Show the state of the shared job database.

Reports job counts by status, processing jobs whose heartbeat has gone
silent for longer than the configured max runtime (candidates for
recovery), and any system flags such as a pending rolling restart.

Example:
  flowd status           # Human-readable dashboard
  flowd status --json    # Machine-readable output`,
	RunE: runStatus,
}

func init() {
	StatusCmd.Flags().Bool("json", false, "Output status as JSON")
}

// queueStatus is the machine-readable shape of `flowd status`.
type queueStatus struct {
	Database       string             `json:"database"`
	Counts         map[string]int     `json:"counts"`
	Total          int                `json:"total"`
	StuckJobs      []stuckJob         `json:"stuck_jobs,omitempty"`
	Flags          []store.SystemFlag `json:"flags,omitempty"`
	RestartPending bool               `json:"restart_pending"`
}

type stuckJob struct {
	ID            string    `json:"id"`
	WorkerID      string    `json:"worker_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	st := store.NewStore(database, logger.Logger)
	cutoff := time.Now().UTC().Add(-cfg.MaxJobRuntime())

	status, err := collectStatus(cmd.Context(), st, cutoff)
	if err != nil {
		return err
	}
	status.Database = cfg.Database.Path

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(status)
	}

	renderStatus(status, cfg.MaxJobRuntime())
	return nil
}

// collectStatus gathers the dashboard data in one pass over the store.
func collectStatus(ctx context.Context, st *store.Store, stuckCutoff time.Time) (*queueStatus, error) {
	counts, err := st.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	stuck, err := st.FindStuckProcessing(ctx, stuckCutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck jobs: %w", err)
	}

	flags, err := st.ListFlags(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list system flags: %w", err)
	}

	status := &queueStatus{
		Counts: make(map[string]int, len(counts)),
		Flags:  flags,
	}
	for s, n := range counts {
		status.Counts[string(s)] = n
		status.Total += n
	}
	for _, job := range stuck {
		status.StuckJobs = append(status.StuckJobs, stuckJob{
			ID:            job.ID,
			WorkerID:      job.WorkerID,
			LastHeartbeat: job.UpdatedAt,
		})
	}
	for _, f := range flags {
		if f.Key == store.RestartPendingFlag && f.Value == "true" {
			status.RestartPending = true
		}
	}

	return status, nil
}

func renderStatus(status *queueStatus, maxRuntime time.Duration) {
	pterm.DefaultHeader.Printf("flowd queue - %s", status.Database)
	pterm.Println()

	fmt.Printf("%-12s %s\n", "STATUS", "JOBS")
	order := []store.JobStatus{
		store.JobStatusQueued,
		store.JobStatusProcessing,
		store.JobStatusCompleted,
		store.JobStatusFailed,
		store.JobStatusCancelled,
	}
	for _, s := range order {
		fmt.Printf("%-12s %6d\n", string(s), status.Counts[string(s)])
	}
	fmt.Printf("%-12s %6d\n", "total", status.Total)
	fmt.Println()

	if len(status.StuckJobs) > 0 {
		pterm.Warning.Printf("%d processing job(s) without a heartbeat for over %v:\n",
			len(status.StuckJobs), maxRuntime)
		fmt.Printf("  %-36s %-28s %s\n", "JOB ID", "WORKER", "LAST HEARTBEAT")
		for _, j := range status.StuckJobs {
			age := time.Since(j.LastHeartbeat).Round(time.Second)
			fmt.Printf("  %-36s %-28s %s ago\n", j.ID, j.WorkerID, age)
		}
		pterm.Info.Println("The recoverer re-queues these on its next sweep")
		fmt.Println()
	}

	if status.RestartPending {
		pterm.Info.Println("Rolling restart pending: each worker exits at its next idle moment")
	}
	for _, f := range status.Flags {
		if f.Key == store.RestartPendingFlag {
			continue
		}
		fmt.Printf("  flag %s = %s (set %s)\n",
			f.Key, f.Value, f.UpdatedAt.Format(time.RFC3339))
	}
}
