package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mapping and conflict counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.engine.CurrentStatus(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println(ui.Title.Render("ttsync status"))
		fmt.Println(ui.Bullet("mappings: %d", status.Mappings))
		if status.UnresolvedConflicts > 0 {
			fmt.Println(ui.Warn.Render(fmt.Sprintf("• unresolved conflicts: %d (run 'ttsync conflicts list')", status.UnresolvedConflicts)))
		} else {
			fmt.Println(ui.Bullet("unresolved conflicts: 0"))
		}
		if status.SyncInProgress {
			fmt.Println(ui.Accent.Render("• a sync run is currently in progress"))
		}
		fmt.Println(ui.Dim.Render("store: " + a.cfg.Paths.Store))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
