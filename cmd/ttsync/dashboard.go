package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/config"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/dashboard"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/ui"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Serve the WebSocket status dashboard",
	Long: `Serve the WebSocket dashboard on its own.

Clients connecting to /ws receive sync-run summaries and status
snapshots as JSON messages. Useful when the daemon runs elsewhere and
publishes into the same store.

Example usage:
  ttsync dashboard
  ttsync dashboard --addr 0.0.0.0:9000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if addr == "" {
			addr = cfg.Dashboard.Addr
		}

		server := dashboard.NewServer(addr, log.New(os.Stderr, "[dashboard] ", log.LstdFlags))
		if err := server.Start(); err != nil {
			return err
		}

		fmt.Println(ui.Pass("dashboard on http://%s", server.Addr()))
		fmt.Println(ui.Dim.Render("websocket endpoint: ws://" + server.Addr() + "/ws"))
		fmt.Println(ui.Dim.Render("press Ctrl+C to stop"))

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		return server.Stop()
	},
}

func init() {
	dashboardCmd.Flags().String("addr", "", "Listen address (default from config)")
	rootCmd.AddCommand(dashboardCmd)
}
