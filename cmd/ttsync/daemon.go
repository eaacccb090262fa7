package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/daemon"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/dashboard"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/engine"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/task"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Watch both systems and sync continuously",
	Long: `Run ttsync as a daemon.

The daemon watches both task directories, triggers a debounced sync
when files change, runs a periodic full sync as a safety net, and
sweeps expired conflicts and idempotency records.

Example usage:
  ttsync daemon                    # Log to the configured daemon log
  ttsync daemon --foreground       # Log to stderr
  ttsync daemon --with-dashboard   # Also serve the WebSocket dashboard`,
	RunE: func(cmd *cobra.Command, args []string) error {
		foreground, _ := cmd.Flags().GetBool("foreground")
		withDashboard, _ := cmd.Flags().GetBool("with-dashboard")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := daemon.DefaultConfig()
		cfg.SyncInterval = time.Duration(a.cfg.Daemon.IntervalSeconds) * time.Second
		cfg.DebounceInterval = time.Duration(a.cfg.Daemon.DebounceSeconds) * time.Second
		if !foreground {
			cfg.Logger = daemon.NewRotatingLogger(a.cfg.Daemon.LogPath)
		}

		dirs := map[task.System]string{
			task.SystemTodoist: a.cfg.Paths.TodoistDir,
			task.SystemThings:  a.cfg.Paths.ThingsDir,
		}

		d, err := daemon.New(a.engine, a.kv, dirs, cfg)
		if err != nil {
			return err
		}

		if withDashboard {
			server := dashboard.NewServer(a.cfg.Dashboard.Addr, cfg.Logger)
			if err := server.Start(); err != nil {
				return err
			}
			defer func() { _ = server.Stop() }()
			d.OnResult = func(from task.System, result *engine.BatchResult) {
				server.PublishSyncResult(from, result)
			}
			fmt.Println(ui.Pass("dashboard on http://%s (ws://%s/ws)", server.Addr(), server.Addr()))
		}

		fmt.Println(ui.Pass("daemon started, watching %s and %s", dirs[task.SystemTodoist], dirs[task.SystemThings]))
		fmt.Println(ui.Dim.Render("press Ctrl+C to stop"))

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return d.Start(ctx)
	},
}

func init() {
	daemonCmd.Flags().Bool("foreground", false, "Log to stderr instead of the rotating log file")
	daemonCmd.Flags().Bool("with-dashboard", false, "Serve the WebSocket dashboard alongside the daemon")
	rootCmd.AddCommand(daemonCmd)
}
