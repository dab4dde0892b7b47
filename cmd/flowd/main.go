package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/teranos/flowd/cmd/flowd/commands"
	"github.com/teranos/flowd/logger"
)

var rootCmd = &cobra.Command{
	Use:   "flowd",
	Short: "flowd - job queue worker for report pipelines",
	Long: `flowd - distributed worker daemon for pipeline job processing.

flowd polls a shared SQLite job queue, claims work against sibling
workers, runs each job through the pipeline engine, and mirrors results
back to the frontend. Several instances may share one database; claims,
recovery, and rolling restarts are all coordinated through it.

Available commands:
  run      - Run a worker daemon in the foreground
  status   - Show queue depth, stuck jobs, and system flags
  batch    - Enqueue batch jobs from a YAML manifest
  restart  - Schedule (or cancel) a rolling worker restart
  config   - Inspect and edit flowd configuration
  version  - Show version information

Examples:
  flowd run                          # Start a worker in the foreground
  flowd status                       # Inspect the shared queue
  flowd batch enqueue -m jobs.yaml   # Queue batch files for processing
  flowd restart                      # Ask all workers to restart when idle
  flowd config show                  # Show effective configuration`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize the global logger before any command runs. The run
		// command re-initializes once it knows the configured log format.
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(false, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json", false, "Output machine-readable JSON where supported")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.BatchCmd)
	rootCmd.AddCommand(commands.RestartCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logger.Cleanup()
		os.Exit(1)
	}
	logger.Cleanup()
}
