package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kwspace/kws/internal/config"
	"github.com/kwspace/kws/internal/vfs/db"
	"github.com/kwspace/kws/internal/vfs/schema"
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	GroupID: "workspace",
	Short:   "Create, list and import workspaces",
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a workspace, optionally bound to a local directory",
	Long: `Create a new workspace.

With --source the workspace mirrors a local directory. Sources mapped at
the root (no --prefix) are also the default flush target.

Examples:
  kws workspace create notes --source ~/notes
  kws workspace create site --source ./public --prefix www`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		source, _ := cmd.Flags().GetString("source")
		prefix, _ := cmd.Flags().GetString("prefix")
		ctx := context.Background()

		database := openStore()
		defer database.Close()

		if _, err := database.GetWorkspace(ctx, args[0]); err == nil {
			fatal("workspace %q already exists", args[0])
		} else if !db.IsNotFound(err) {
			fatal("%v", err)
		}

		ws := schema.NewWorkspace(args[0])
		if source != "" {
			abs, err := filepath.Abs(source)
			if err != nil {
				fatal("resolving %s: %v", source, err)
			}
			ws.Sources = []schema.SyncSource{{
				Kind:     schema.SourceLocalPath,
				Location: abs,
				Prefix:   prefix,
			}}
		} else if prefix != "" {
			fatal("--prefix needs --source")
		}

		if err := database.UpsertWorkspace(ctx, ws); err != nil {
			fatal("%v", err)
		}

		if jsonOut {
			printJSON(ws)
			return
		}
		fmt.Printf("%s Created workspace %s (%s)\n", renderPass("✓"), renderAccent(ws.Name), ws.ID)
		for _, src := range ws.Sources {
			fmt.Printf("   Source: %s\n", describeSource(src))
		}
	},
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces and their sources",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		database := openStore()
		defer database.Close()

		workspaces, err := database.ListWorkspaces(context.Background())
		if err != nil {
			fatal("%v", err)
		}

		if jsonOut {
			printJSON(workspaces)
			return
		}
		if len(workspaces) == 0 {
			fmt.Println("No workspaces. Create one with 'kws workspace create <name>'.")
			return
		}
		for _, ws := range workspaces {
			fmt.Printf("%s  %s\n", renderAccent(ws.Name), renderMuted(ws.ID))
			for _, src := range ws.Sources {
				fmt.Printf("   %s\n", describeSource(src))
			}
		}
	},
}

var workspaceImportCmd = &cobra.Command{
	Use:   "import <manifest.toml>",
	Short: "Create or update workspaces from a TOML manifest",
	Long: `Import workspace declarations from a TOML manifest:

  [[workspace]]
  name = "app"

  [[workspace.source]]
  kind = "local_path"
  location = "./app"

Existing workspaces keep their ID; their sources are replaced.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		manifest, err := config.LoadManifest(args[0])
		if err != nil {
			fatal("%v", err)
		}

		database := openStore()
		defer database.Close()

		imported, err := manifest.Import(context.Background(), database)
		if err != nil {
			fatal("%v", err)
		}

		if jsonOut {
			printJSON(imported)
			return
		}
		for _, ws := range imported {
			fmt.Printf("%s %s (%d sources)\n", renderPass("✓"), ws.Name, len(ws.Sources))
		}
	},
}

func describeSource(src schema.SyncSource) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", src.Kind, src.Location)
	if src.Prefix != "" {
		fmt.Fprintf(&b, " -> /%s", src.Prefix)
	}
	return b.String()
}

func init() {
	workspaceCreateCmd.Flags().String("source", "", "Local directory the workspace mirrors")
	workspaceCreateCmd.Flags().String("prefix", "", "Virtual path the source maps to")

	workspaceCmd.AddCommand(workspaceCreateCmd)
	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceImportCmd)
	rootCmd.AddCommand(workspaceCmd)
}
