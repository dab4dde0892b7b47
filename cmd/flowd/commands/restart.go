package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/flowd/logger"
	"github.com/teranos/flowd/store"
)

// RestartCmd schedules a rolling restart of every worker on the database.
var RestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Schedule a rolling restart of all workers",
	Long: `Set the restart flag in the shared database.

Every worker checks the flag whenever it has no active jobs; a worker
that sees it exits with code 0 so the supervisor relaunches it with
fresh configuration. Workers mid-job finish their work first, so the
restart rolls through the fleet without dropping anything.

Example:
  flowd restart          # All workers restart at their next idle moment
  flowd restart --clear  # Cancel a pending restart`,
	RunE: runRestart,
}

func init() {
	RestartCmd.Flags().Bool("clear", false, "Clear a pending restart instead of scheduling one")
}

func runRestart(cmd *cobra.Command, args []string) error {
	clearFlag, _ := cmd.Flags().GetBool("clear")

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	st := store.NewStore(database, logger.Logger)
	ctx := cmd.Context()

	if clearFlag {
		if err := st.DeleteFlag(ctx, store.RestartPendingFlag); err != nil {
			return fmt.Errorf("failed to clear restart flag: %w", err)
		}
		pterm.Success.Println("Pending restart cleared")
		return nil
	}

	if err := st.SetFlag(ctx, store.RestartPendingFlag, "true"); err != nil {
		return fmt.Errorf("failed to set restart flag: %w", err)
	}

	pterm.Success.Println("Restart scheduled: each worker exits at its next idle moment")
	if active, err := st.CountActive(ctx); err == nil && active > 0 {
		pterm.Info.Printf("%d job(s) still in flight; workers restart once they drain\n", active)
	}
	return nil
}
