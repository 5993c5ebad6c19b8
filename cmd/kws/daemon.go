package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kwspace/kws/internal/metrics"
	"github.com/kwspace/kws/internal/vfs/daemon"
	"github.com/kwspace/kws/internal/vfs/dashboard"
	"github.com/kwspace/kws/internal/vfs/schema"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon [workspace...]",
	GroupID: "advanced",
	Short:   "Watch workspace sources and keep them in sync (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Sync every local_path source of the given workspaces (default: all)
  2. Watch those directories recursively for changes
  3. Re-sync a source once its changes settle (debounce)
  4. Flush pending virtual edits back every --flush-interval, if set

With --dashboard a WebSocket dashboard and Prometheus metrics are served
on --addr while the daemon runs.`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		addr := cfg.Dashboard.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}

		daemonConfig := daemon.DefaultConfig()
		daemonConfig.DebounceInterval = cfg.Daemon.DebounceInterval
		daemonConfig.FlushInterval = cfg.Daemon.FlushInterval
		if cmd.Flags().Changed("flush-interval") {
			daemonConfig.FlushInterval, _ = cmd.Flags().GetDuration("flush-interval")
		}
		daemonConfig.SyncOptions = cfg.SyncOptions()
		daemonConfig.FlushOptions = cfg.FlushOptions()
		daemonConfig.Logger = newLogger("[daemon] ")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		database := openStore()
		defer database.Close()

		var workspaces []*schema.Workspace
		if len(args) > 0 {
			for _, name := range args {
				workspaces = append(workspaces, lookupWorkspace(ctx, database, name))
			}
		} else {
			all, err := database.ListWorkspaces(ctx)
			if err != nil {
				fatal("%v", err)
			}
			workspaces = all
		}

		var bindings []daemon.Binding
		for _, ws := range workspaces {
			for _, src := range ws.LocalSources() {
				bindings = append(bindings, daemon.Binding{
					WorkspaceID: ws.ID,
					Root:        src.Location,
					Prefix:      src.Prefix,
				})
			}
		}
		if len(bindings) == 0 {
			fatal("no local sources to watch (see 'kws workspace create --source')")
		}

		engine := newEngine(database)
		collector := metrics.NewCollector(nil)
		engine.AddObserver(collector)

		var server *dashboard.Server
		if withDashboard {
			server = dashboard.NewServer(&dashboard.Config{
				Addr:    addr,
				Metrics: collector.Handler(),
				Logger:  newLogger("[dashboard] "),
			})
			handler := dashboard.NewHandler(server, newLogger("[dashboard] "))
			engine.AddObserver(handler)
			if err := handler.RefreshStats(ctx, database, ""); err != nil {
				fatal("loading stats: %v", err)
			}
			if err := server.Start(); err != nil {
				fatal("failed to start dashboard: %v", err)
			}
			defer server.Stop()
		}

		d, err := daemon.NewWithConfig(engine, bindings, daemonConfig)
		if err != nil {
			fatal("creating daemon: %v", err)
		}

		fmt.Printf("%s Starting kws daemon...\n", renderAccent("kws"))
		for _, b := range d.Bindings() {
			fmt.Printf("   Watching: %s\n", b.Root)
		}
		fmt.Printf("   Store: %s\n", database.Path())
		if server != nil {
			fmt.Printf("   Dashboard: http://%s (ws at /ws, metrics at /metrics)\n", server.GetAddr())
		}
		if daemonConfig.FlushInterval > 0 {
			fmt.Printf("   Flush every: %v\n", daemonConfig.FlushInterval)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		// Start blocks until ctx is cancelled.
		if err := d.Start(ctx); err != nil {
			fatal("daemon stopped with error: %v", err)
		}
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Serve store statistics over WebSocket",
	Long: `Start a WebSocket dashboard that broadcasts node counts from the store
every --refresh interval. Use 'kws daemon --dashboard' to also stream flush,
sync and conflict events as they happen.

WebSocket messages include:
- stats: node counts by status
- flush_complete, sync_complete, conflict: engine events (daemon only)

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		addr := cfg.Dashboard.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}
		refresh, _ := cmd.Flags().GetDuration("refresh")
		if refresh <= 0 {
			fatal("--refresh must be positive")
		}

		database := openStore()
		defer database.Close()

		serverConfig := &dashboard.Config{
			Addr:   addr,
			Logger: newLogger("[dashboard] "),
		}
		if cfg.Dashboard.Metrics {
			serverConfig.Metrics = metrics.NewCollector(nil).Handler()
		}
		server := dashboard.NewServer(serverConfig)
		handler := dashboard.NewHandler(server, serverConfig.Logger)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := handler.RefreshStats(ctx, database, ""); err != nil {
			fatal("loading stats: %v", err)
		}
		if err := server.Start(); err != nil {
			fatal("failed to start dashboard: %v", err)
		}

		fmt.Printf("Dashboard server started on http://%s\n", server.GetAddr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.GetAddr())
		fmt.Printf("Health check: http://%s/health\n", server.GetAddr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				if err := handler.RefreshStats(ctx, database, ""); err != nil && ctx.Err() == nil {
					serverConfig.Logger.Printf("Failed to refresh stats: %v", err)
				}
			}
		}

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fatal("during shutdown: %v", err)
		}
		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the WebSocket dashboard and /metrics")
	daemonCmd.Flags().String("addr", ":8080", "Dashboard listen address")
	daemonCmd.Flags().Duration("flush-interval", 0, "Flush pending edits this often (0 disables)")

	dashboardCmd.Flags().String("addr", ":8080", "Listen address")
	dashboardCmd.Flags().Duration("refresh", 5*time.Second, "How often to reload stats from the store")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(dashboardCmd)
}
