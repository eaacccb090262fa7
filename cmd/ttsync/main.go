// ttsync bridges Todoist and Things, mirroring tasks in both directions
// without creating duplicates.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/ui"
)

var (
	flagConfig  string
	flagNoColor bool
)

var rootCmd = &cobra.Command{
	Use:   "ttsync",
	Short: "Bidirectional Todoist ↔ Things sync",
	Long: `ttsync mirrors tasks between Todoist and Things.

It fingerprints every task, keeps a durable bidirectional mapping, and
detects edit conflicts when both sides changed since the last sync.
Conflicts are resolved by a configurable strategy or stored for manual
review.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagNoColor {
			ui.Plain()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default ~/.ttsync/ttsync.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.Cross("%v", err))
		os.Exit(1)
	}
}
