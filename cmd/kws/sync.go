package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kwspace/kws/internal/vfs/materialize"
	"github.com/kwspace/kws/internal/vfs/schema"
)

var syncCmd = &cobra.Command{
	Use:     "sync <workspace>",
	GroupID: "sync",
	Short:   "Import a directory into the workspace",
	Long: `Walk a directory and bring the workspace in line with it.

Without --source every local_path source of the workspace is synced.
Files edited on both sides since the last flush are marked conflict
unless --auto-resolve is given, in which case the disk version wins.
Resolve conflicts with 'kws resolve'.

Examples:
  kws sync notes
  kws sync notes --source ./export --prefix imported`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		source, _ := cmd.Flags().GetString("source")
		prefix, _ := cmd.Flags().GetString("prefix")

		opts := cfg.SyncOptions()
		if cmd.Flags().Changed("auto-resolve") {
			opts.AutoResolveConflicts, _ = cmd.Flags().GetBool("auto-resolve")
		}
		if cmd.Flags().Changed("follow-symlinks") {
			opts.FollowSymlinks, _ = cmd.Flags().GetBool("follow-symlinks")
		}
		if cmd.Flags().Changed("include-hidden") {
			include, _ := cmd.Flags().GetBool("include-hidden")
			opts.SkipHidden = !include
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		database := openStore()
		defer database.Close()
		ws := lookupWorkspace(ctx, database, args[0])
		engine := newEngine(database)

		sources := ws.LocalSources()
		if source != "" {
			sources = []schema.SyncSource{{Kind: schema.SourceLocalPath, Location: source, Prefix: prefix}}
		}
		if len(sources) == 0 {
			fatal("workspace %s has no local source; pass --source", ws.Name)
		}

		var reports []*materialize.SyncReport
		failed := false
		for _, src := range sources {
			report, err := engine.SyncFromFilesystem(ctx, ws.ID, src.Location, src.Prefix, opts)
			if err != nil {
				fatal("syncing %s: %v", src.Location, err)
			}
			reports = append(reports, report)
			if len(report.Errors) > 0 {
				failed = true
			}

			if !jsonOut {
				printSyncReport(src, report)
			}
		}

		if jsonOut {
			printJSON(reports)
		}
		if failed {
			os.Exit(1)
		}
	},
}

var flushCmd = &cobra.Command{
	Use:     "flush <workspace> [target]",
	GroupID: "sync",
	Short:   "Write pending virtual edits to disk",
	Long: `Materialize every created, modified or deleted node of the workspace
below target. Target defaults to the workspace's root-mapped local source.

With --atomic (implies --backup) a failed flush restores the target from
the backup taken before writing.

Examples:
  kws flush notes
  kws flush notes /tmp/notes-copy --path drafts
  kws flush notes --atomic --workers 16`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		pathPrefix, _ := cmd.Flags().GetString("path")

		opts := cfg.FlushOptions()
		if cmd.Flags().Changed("atomic") {
			opts.Atomic, _ = cmd.Flags().GetBool("atomic")
		}
		if cmd.Flags().Changed("backup") {
			opts.CreateBackup, _ = cmd.Flags().GetBool("backup")
		}
		if opts.Atomic {
			opts.CreateBackup = true
		}
		if sequential, _ := cmd.Flags().GetBool("sequential"); sequential {
			opts.Parallel = false
		}
		if cmd.Flags().Changed("workers") {
			opts.MaxWorkers, _ = cmd.Flags().GetInt("workers")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		database := openStore()
		defer database.Close()
		ws := lookupWorkspace(ctx, database, args[0])
		engine := newEngine(database)

		var target string
		if len(args) == 2 {
			target = args[1]
		} else if src, ok := rootSource(ws); ok {
			target = src.Location
		} else {
			fatal("workspace %s has no root-mapped local source; pass a target", ws.Name)
		}

		scope := materialize.ScopeWorkspace(ws.ID)
		if pathPrefix != "" {
			scope = materialize.ScopePath(ws.ID, pathPrefix)
		}

		report, err := engine.Flush(ctx, scope, target, opts)
		if jsonOut && report != nil {
			printJSON(report)
		}
		if err != nil {
			if report != nil && report.RolledBack {
				fmt.Fprintf(os.Stderr, "%s target restored from backup\n", renderWarn("⚠"))
			}
			fatal("flush failed: %v", err)
		}
		if jsonOut {
			if len(report.Errors) > 0 {
				os.Exit(1)
			}
			return
		}

		if report.Items() == 0 && len(report.Errors) == 0 {
			fmt.Printf("%s Nothing to flush\n", renderPass("✓"))
			return
		}
		fmt.Printf("%s Flushed %s to %s\n", renderPass("✓"), ws.Name, target)
		fmt.Printf("   %s\n", report)
		printItemErrors(report.Errors)
		if len(report.Errors) > 0 {
			os.Exit(1)
		}
	},
}

func printSyncReport(src schema.SyncSource, report *materialize.SyncReport) {
	fmt.Printf("%s Synced %s\n", renderPass("✓"), describeSource(src))
	fmt.Printf("   %s\n", report)
	for _, p := range report.Conflicts {
		fmt.Printf("   %s %s\n", renderStatus(schema.StatusConflict), p)
	}
	printItemErrors(report.Errors)
}

func printItemErrors(errs []string) {
	width := terminalWidth()
	for _, e := range errs {
		line := e
		if width > 0 {
			line = truncatePath(e, width-6)
		}
		fmt.Printf("   %s %s\n", renderFail("✗"), line)
	}
}

func init() {
	syncCmd.Flags().String("source", "", "Directory to import instead of the workspace sources")
	syncCmd.Flags().String("prefix", "", "Virtual path --source maps to")
	syncCmd.Flags().Bool("auto-resolve", false, "Let disk content win over unflushed edits")
	syncCmd.Flags().Bool("follow-symlinks", false, "Record symlinks as nodes")
	syncCmd.Flags().Bool("include-hidden", false, "Import dot files and directories")

	flushCmd.Flags().String("path", "", "Only flush nodes at or below this virtual path")
	flushCmd.Flags().Bool("atomic", false, "Restore the target from backup if any write fails")
	flushCmd.Flags().Bool("backup", false, "Back up the target before writing")
	flushCmd.Flags().Bool("sequential", false, "Write files one at a time")
	flushCmd.Flags().Int("workers", 0, "Maximum concurrent writes (default: one per CPU)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(flushCmd)
}
