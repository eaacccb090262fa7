package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/mapping"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/ui"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Fold legacy per-mapping records into the aggregate store",
	Long: `Migrate mapping records written by older versions.

Old installs stored one record per mapping; the current format keeps a
single aggregate record. Migration is paginated and safe to re-run:
already-migrated fingerprints are skipped. A repair pass afterwards
rebuilds any inconsistent index entries.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pageSize, _ := cmd.Flags().GetInt("page-size")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		store := mapping.NewStore(a.kv, a.logger)

		total := 0
		for {
			n, err := store.MigrateLegacy(cmd.Context(), pageSize)
			if err != nil {
				return err
			}
			total += n
			if n == 0 {
				break
			}
			fmt.Println(ui.Bullet("migrated %d legacy mappings...", total))
		}

		fixed, err := store.Repair(cmd.Context())
		if err != nil {
			return err
		}
		if err := store.Flush(cmd.Context()); err != nil {
			return err
		}

		fmt.Println(ui.Pass("migration complete: %d legacy mappings migrated, %d index entries repaired", total, fixed))
		return nil
	},
}

func init() {
	migrateCmd.Flags().Int("page-size", 100, "Legacy records processed per page")
	rootCmd.AddCommand(migrateCmd)
}
