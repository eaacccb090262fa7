package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/engine"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/synclock"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/task"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync between Todoist and Things",
	Long: `Run a sync in one or both directions.

Each direction reads the source system's active tasks, matches them
against the mapping store, creates missing counterparts, propagates
one-sided edits, and resolves or stores conflicts.

Example usage:
  ttsync sync                       # Both directions
  ttsync sync --from todoist        # One direction only
  ttsync sync --request-id hook-42  # Deduplicate webhook retries`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		requestID, _ := cmd.Flags().GetString("request-id")

		var directions []task.System
		switch from {
		case "both":
			directions = []task.System{task.SystemTodoist, task.SystemThings}
		case string(task.SystemTodoist), string(task.SystemThings):
			directions = []task.System{task.System(from)}
		default:
			return fmt.Errorf("invalid --from value %q (todoist, things, or both)", from)
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, sys := range directions {
			result, err := a.engine.Sync(cmd.Context(), sys, requestID)
			if err != nil {
				if errors.Is(err, synclock.ErrSyncInProgress) {
					return fmt.Errorf("another sync is in progress, retry later")
				}
				return err
			}
			printResult(sys, result)
		}
		return nil
	},
}

func printResult(from task.System, result *engine.BatchResult) {
	fmt.Println(ui.Title.Render(fmt.Sprintf("Sync from %s", from)))
	fmt.Println(ui.Pass("%d created, %d existing", result.Created, result.Existing))
	if result.ConflictsDetected > 0 {
		fmt.Println(ui.Warn.Render(fmt.Sprintf("  %d conflicts detected, %d auto-resolved", result.ConflictsDetected, result.ConflictsResolved)))
	}
	if result.Errors > 0 {
		fmt.Println(ui.Cross("%d errors", result.Errors))
		for _, r := range result.Results {
			if r.Status == engine.StatusError {
				fmt.Println(ui.Bullet("%s: %s", r.Title, r.Error))
			}
		}
	}
	if result.Skipped > 0 {
		fmt.Println(ui.Dim.Render(fmt.Sprintf("  %d skipped by filters", result.Skipped)))
	}
}

func init() {
	syncCmd.Flags().String("from", "both", "Source system: todoist, things, or both")
	syncCmd.Flags().String("request-id", "", "Idempotency key for retried invocations")
	rootCmd.AddCommand(syncCmd)
}
