package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var writeCmd = &cobra.Command{
	Use:     "write <workspace> <path>",
	GroupID: "workspace",
	Short:   "Record a virtual file edit",
	Long: `Store new content for a file in the workspace. The content is read from
--from, or from stdin when --from is not given. Missing parent directories
are created. Nothing touches disk until the next flush.

Examples:
  echo "hello" | kws write notes todo.txt
  kws write notes docs/readme.md --from README.md`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		from, _ := cmd.Flags().GetString("from")
		ctx := context.Background()

		var data []byte
		var err error
		if from != "" {
			data, err = os.ReadFile(from)
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			fatal("reading content: %v", err)
		}

		database := openStore()
		defer database.Close()
		ws := lookupWorkspace(ctx, database, args[0])

		node, err := database.WriteFile(ctx, ws.ID, args[1], data)
		if err != nil {
			fatal("%v", err)
		}

		if jsonOut {
			printJSON(node)
			return
		}
		fmt.Printf("%s %s %s (v%d, %d bytes)\n", renderPass("✓"), node.Path, renderStatus(node.Status), node.Version, node.Size)
	},
}

var catCmd = &cobra.Command{
	Use:     "cat <workspace> <path>",
	GroupID: "workspace",
	Short:   "Print the virtual content of a file",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database := openStore()
		defer database.Close()
		ws := lookupWorkspace(ctx, database, args[0])

		data, err := database.ReadFile(ctx, ws.ID, args[1])
		if err != nil {
			fatal("%v", err)
		}
		_, _ = os.Stdout.Write(data)
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <workspace> <path>",
	GroupID: "workspace",
	Short:   "Mark a file or directory tree deleted",
	Long: `Mark the node at path, and everything below it, deleted. The next flush
removes the entries from disk.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database := openStore()
		defer database.Close()
		ws := lookupWorkspace(ctx, database, args[0])

		removed, err := database.RemoveFile(ctx, ws.ID, args[1])
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Marked %d node(s) deleted\n", renderPass("✓"), removed)
	},
}

var mkdirCmd = &cobra.Command{
	Use:     "mkdir <workspace> <path>",
	GroupID: "workspace",
	Short:   "Create a virtual directory",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		parents, _ := cmd.Flags().GetBool("parents")
		ctx := context.Background()
		database := openStore()
		defer database.Close()
		ws := lookupWorkspace(ctx, database, args[0])

		if err := database.CreateDirectory(ctx, ws.ID, args[1], parents); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Created %s\n", renderPass("✓"), args[1])
	},
}

func init() {
	writeCmd.Flags().String("from", "", "Read content from this file instead of stdin")
	mkdirCmd.Flags().BoolP("parents", "p", false, "Create missing parent directories")

	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mkdirCmd)
}
