package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kwspace/kws/internal/vfs/loadtest"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "maint",
	Short:   "Benchmark sequential against parallel flush",
	Long: `Populate a scratch store with --files files of --size bytes, then time
--rounds flushes of every file sequentially and the same number in parallel.

The scratch directory is removed afterwards unless --keep is given. The
configured store is not touched.

Examples:
  kws bench
  kws bench --files 5000 --size 16384 --workers 8 --json`,
	Args: cobra.NoArgs,
	Run:  runBench,
}

func init() {
	benchCmd.Flags().Int("files", 1000, "Number of files to flush per round")
	benchCmd.Flags().Int("size", 4096, "Size of each file in bytes")
	benchCmd.Flags().Int("rounds", 5, "Flush rounds per mode")
	benchCmd.Flags().Int("workers", runtime.NumCPU(), "Workers for the parallel runs")
	benchCmd.Flags().Bool("keep", false, "Keep the scratch store and target directory")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) {
	files, _ := cmd.Flags().GetInt("files")
	size, _ := cmd.Flags().GetInt("size")
	rounds, _ := cmd.Flags().GetInt("rounds")
	workers, _ := cmd.Flags().GetInt("workers")
	keep, _ := cmd.Flags().GetBool("keep")

	if files <= 0 {
		fatal("--files must be positive")
	}
	if size < 0 {
		fatal("--size must not be negative")
	}
	if rounds <= 0 {
		fatal("--rounds must be positive")
	}
	if workers <= 0 {
		fatal("--workers must be positive")
	}

	dir, err := os.MkdirTemp("", "kws-bench-")
	if err != nil {
		fatal("%v", err)
	}
	if !keep {
		defer os.RemoveAll(dir)
	}

	if !jsonOut {
		fmt.Printf("Populating %d files of %d bytes in %s...\n", files, size, dir)
	}
	tw, err := loadtest.CreateTestWorkspace(filepath.Join(dir, "bench.db"), filepath.Join(dir, "out"), files, size)
	if err != nil {
		fatal("%v", err)
	}
	defer tw.Close()

	result, err := tw.Compare(context.Background(), rounds, workers)
	if err != nil {
		fatal("%v", err)
	}

	if jsonOut {
		printJSON(map[string]any{
			"files":      result.Files,
			"workers":    result.Workers,
			"rounds":     rounds,
			"sequential": benchJSON(result.Sequential),
			"parallel":   benchJSON(result.Parallel),
			"speedup":    result.Speedup,
		})
		return
	}

	fmt.Println()
	result.PrintComparison(os.Stdout)
	if keep {
		fmt.Printf("\nScratch data kept in %s\n", dir)
	}
}

func benchJSON(s *loadtest.LatencyStats) map[string]any {
	return map[string]any{
		"runs":             s.TotalRuns,
		"errors":           s.Errors,
		"min_ms":           s.Min.Seconds() * 1000,
		"p50_ms":           s.P50.Seconds() * 1000,
		"mean_ms":          s.Mean.Seconds() * 1000,
		"p95_ms":           s.P95.Seconds() * 1000,
		"max_ms":           s.Max.Seconds() * 1000,
		"files_per_second": s.FilesPerSecond,
	}
}
