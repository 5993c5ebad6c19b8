package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/kwspace/kws/internal/vfs/materialize"
	"github.com/kwspace/kws/internal/vfs/schema"
)

var statusOrder = []schema.SyncStatus{
	schema.StatusSynced,
	schema.StatusCreated,
	schema.StatusModified,
	schema.StatusDeleted,
	schema.StatusConflict,
}

var statusCmd = &cobra.Command{
	Use:     "status [workspace]",
	GroupID: "sync",
	Short:   "Show node counts by sync status",
	Long: `Show how many nodes are synced, pending or in conflict, for one
workspace or for all of them, plus content store totals.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database := openStore()
		defer database.Close()

		var workspaces []*schema.Workspace
		if len(args) == 1 {
			workspaces = []*schema.Workspace{lookupWorkspace(ctx, database, args[0])}
		} else {
			all, err := database.ListWorkspaces(ctx)
			if err != nil {
				fatal("%v", err)
			}
			workspaces = all
		}

		type workspaceStatus struct {
			Workspace string                    `json:"workspace"`
			ID        string                    `json:"id"`
			Counts    map[schema.SyncStatus]int `json:"counts"`
		}
		var out []workspaceStatus
		for _, ws := range workspaces {
			counts, err := database.StatusCounts(ctx, ws.ID)
			if err != nil {
				fatal("%v", err)
			}
			out = append(out, workspaceStatus{Workspace: ws.Name, ID: ws.ID, Counts: counts})
		}

		stats, err := database.GetContentStats(ctx)
		if err != nil {
			fatal("%v", err)
		}

		if jsonOut {
			printJSON(map[string]any{
				"database":   database.Path(),
				"workspaces": out,
				"content":    stats,
			})
			return
		}

		fmt.Printf("\n%s Store: %s\n\n", renderAccent("kws"), database.Path())
		for _, ws := range out {
			fmt.Printf("%s\n", renderAccent(ws.Workspace))
			total := 0
			for _, status := range statusOrder {
				n := ws.Counts[status]
				total += n
				if n > 0 {
					fmt.Printf("   %-10s %d\n", renderStatus(status), n)
				}
			}
			if total == 0 {
				fmt.Printf("   %s\n", renderMuted("empty"))
			}
		}
		fmt.Printf("\nContent: %d objects, %s logical, %s stored\n\n",
			stats.Objects, formatBytes(stats.LogicalSize), formatBytes(stats.StoredSize))
	},
}

var conflictsCmd = &cobra.Command{
	Use:     "conflicts <workspace>",
	GroupID: "sync",
	Short:   "List nodes in conflict",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database := openStore()
		defer database.Close()
		ws := lookupWorkspace(ctx, database, args[0])

		nodes, err := database.ListConflicts(ctx, ws.ID)
		if err != nil {
			fatal("%v", err)
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })

		if jsonOut {
			printJSON(nodes)
			return
		}
		if len(nodes) == 0 {
			fmt.Printf("%s No conflicts in %s\n", renderPass("✓"), ws.Name)
			return
		}
		for _, node := range nodes {
			detected := node.Metadata[schema.MetaConflictDetectedAt]
			if t, err := time.Parse(time.RFC3339, detected); err == nil {
				detected = t.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s %s  %s\n", renderStatus(node.Status), node.Path, renderMuted(detected))
		}
		fmt.Printf("\nResolve with: kws resolve %s <path> --keep local|filesystem\n", ws.Name)
	},
}

var resolveCmd = &cobra.Command{
	Use:     "resolve <workspace> <path>",
	GroupID: "sync",
	Short:   "Resolve a conflict",
	Long: `Resolve a conflicted node.

  --keep local       keep the workspace content; the next flush overwrites disk
  --keep filesystem  adopt the content found on disk`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		keep, _ := cmd.Flags().GetString("keep")
		choice, err := materialize.ParseResolution(keep)
		if err != nil {
			fatal("%v", err)
		}

		ctx := context.Background()
		database := openStore()
		defer database.Close()
		ws := lookupWorkspace(ctx, database, args[0])

		node, err := newEngine(database).ResolveConflict(ctx, ws.ID, args[1], choice)
		if err != nil {
			fatal("%v", err)
		}

		if jsonOut {
			printJSON(node)
			return
		}
		fmt.Printf("%s %s resolved (%s): now %s v%d\n",
			renderPass("✓"), node.Path, choice, renderStatus(node.Status), node.Version)
	},
}

var restoreCmd = &cobra.Command{
	Use:     "restore <target>",
	GroupID: "maint",
	Short:   "Restore a directory from its flush backup",
	Long: `Replace target with the backup a flush left next to it
(<target>` + materialize.BackupSuffix + `). Backups remain when a flush fails
without --atomic or when its results could not be recorded.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		engine := materialize.New(nil, &materialize.Config{Logger: newLogger("[materialize] ")})

		has, err := engine.HasBackup(args[0])
		if err != nil {
			fatal("%v", err)
		}
		if !has {
			fatal("no backup found at %s", materialize.BackupPath(args[0]))
		}
		if err := engine.RestoreBackup(args[0]); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Restored %s\n", renderPass("✓"), args[0])
	},
}

var gcCmd = &cobra.Command{
	Use:     "gc",
	GroupID: "maint",
	Short:   "Delete content objects no node references",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database := openStore()
		defer database.Close()

		removed, err := database.GarbageCollect(ctx)
		if err != nil {
			fatal("%v", err)
		}
		if jsonOut {
			printJSON(map[string]int{"removed": removed})
			return
		}
		fmt.Printf("%s Removed %d unreferenced content object(s)\n", renderPass("✓"), removed)
	},
}

func formatBytes(n int64) string {
	switch {
	case n > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	case n > 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func init() {
	resolveCmd.Flags().String("keep", "", "Side to keep: local or filesystem")
	_ = resolveCmd.MarkFlagRequired("keep")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(gcCmd)
}
