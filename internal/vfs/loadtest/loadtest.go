// Package loadtest measures flush latency against a populated store.
//
// A TestWorkspace holds N files spread over directories. Each round dirties
// every file with a virtual edit and times the flush that materializes them,
// so sequential and parallel flushes can be compared on the same data.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/kwspace/kws/internal/vfs/db"
	"github.com/kwspace/kws/internal/vfs/materialize"
	"github.com/kwspace/kws/internal/vfs/schema"
)

// filesPerDir controls how generated files are spread over directories.
const filesPerDir = 100

// TestWorkspace is a populated store plus the directory it flushes to.
type TestWorkspace struct {
	DB        *db.DB
	Engine    *materialize.Engine
	Workspace *schema.Workspace
	Target    string
	Paths     []string
	FileSize  int

	round int
	rng   *rand.Rand
}

// LatencyStats summarizes timed runs.
type LatencyStats struct {
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
	P50       time.Duration // Median
	P95       time.Duration
	P99       time.Duration
	TotalRuns int
	Errors    int
	// FilesPerSecond is files written divided by total flush time.
	FilesPerSecond float64
	Durations      []time.Duration
}

// Comparison holds sequential and parallel results over the same workspace.
type Comparison struct {
	Files      int
	Workers    int
	Sequential *LatencyStats
	Parallel   *LatencyStats
	// Speedup is sequential mean divided by parallel mean.
	Speedup float64
}

// CreateTestWorkspace opens (or creates) the store at dbPath and writes
// numFiles virtual files of fileSize bytes into a fresh workspace. Nothing
// is flushed yet. target is where flushes materialize.
func CreateTestWorkspace(dbPath, target string, numFiles, fileSize int) (*TestWorkspace, error) {
	if numFiles <= 0 {
		return nil, fmt.Errorf("numFiles must be positive")
	}
	if fileSize < 0 {
		return nil, fmt.Errorf("fileSize must not be negative")
	}

	database, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx := context.Background()
	ws := schema.NewWorkspace(fmt.Sprintf("loadtest-%d", time.Now().UnixNano()))
	if err := database.UpsertWorkspace(ctx, ws); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	tw := &TestWorkspace{
		DB:        database,
		Engine:    materialize.New(database, &materialize.Config{Logger: materialize.DiscardLogger()}),
		Workspace: ws,
		Target:    target,
		Paths:     generatePaths(numFiles),
		FileSize:  fileSize,
		// Deterministic content for reproducible runs.
		rng: rand.New(rand.NewSource(42)),
	}

	if err := tw.Dirty(ctx); err != nil {
		_ = database.Close()
		return nil, err
	}
	return tw, nil
}

// Close closes the store.
func (tw *TestWorkspace) Close() error {
	if tw.DB != nil {
		return tw.DB.Close()
	}
	return nil
}

// Dirty rewrites every file with new content so the next flush has to
// write all of them.
func (tw *TestWorkspace) Dirty(ctx context.Context) error {
	tw.round++
	for _, p := range tw.Paths {
		if _, err := tw.DB.WriteFile(ctx, tw.Workspace.ID, p, tw.content(p)); err != nil {
			return fmt.Errorf("failed to write %s: %w", p, err)
		}
	}
	return nil
}

// RunFlushes dirties and flushes the workspace rounds times with opts and
// returns the flush latency. Dirtying is not timed.
func (tw *TestWorkspace) RunFlushes(ctx context.Context, rounds int, opts materialize.FlushOptions) (*LatencyStats, error) {
	if rounds <= 0 {
		return nil, fmt.Errorf("rounds must be positive")
	}

	durations := make([]time.Duration, 0, rounds)
	errorCount := 0
	filesWritten := 0
	var total time.Duration

	for i := 0; i < rounds; i++ {
		if i > 0 || tw.clean(ctx) {
			if err := tw.Dirty(ctx); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		report, err := tw.Engine.Flush(ctx, materialize.ScopeWorkspace(tw.Workspace.ID), tw.Target, opts)
		elapsed := time.Since(start)
		if err != nil {
			return nil, fmt.Errorf("flush round %d failed: %w", i, err)
		}

		durations = append(durations, elapsed)
		total += elapsed
		errorCount += len(report.Errors)
		filesWritten += report.FilesWritten
	}

	stats := computeLatencyStats(durations)
	stats.Errors = errorCount
	if total > 0 {
		stats.FilesPerSecond = float64(filesWritten) / total.Seconds()
	}
	return stats, nil
}

// Compare runs the same number of sequential and parallel flush rounds.
func (tw *TestWorkspace) Compare(ctx context.Context, rounds, workers int) (*Comparison, error) {
	seqOpts := materialize.DefaultFlushOptions()
	seqOpts.Parallel = false

	parOpts := materialize.DefaultFlushOptions()
	parOpts.Parallel = true
	parOpts.MaxWorkers = workers

	seq, err := tw.RunFlushes(ctx, rounds, seqOpts)
	if err != nil {
		return nil, fmt.Errorf("sequential run: %w", err)
	}
	par, err := tw.RunFlushes(ctx, rounds, parOpts)
	if err != nil {
		return nil, fmt.Errorf("parallel run: %w", err)
	}

	c := &Comparison{
		Files:      len(tw.Paths),
		Workers:    workers,
		Sequential: seq,
		Parallel:   par,
	}
	if par.Mean > 0 {
		c.Speedup = float64(seq.Mean) / float64(par.Mean)
	}
	return c, nil
}

// RunConcurrentReads has numReaders goroutines read every file readsPerReader
// times through the store, recording per-read latency.
func (tw *TestWorkspace) RunConcurrentReads(numReaders, readsPerReader int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, numReaders)
	errorsChan := make(chan error, numReaders)

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			ctx := context.Background()
			durations := make([]time.Duration, 0, readsPerReader)
			for j := 0; j < readsPerReader; j++ {
				p := tw.Paths[(readerID+j)%len(tw.Paths)]

				start := time.Now()
				_, err := tw.DB.ReadFile(ctx, tw.Workspace.ID, p)
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("reader %d read %d failed: %w", readerID, j, err)
					return
				}
			}
			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	errorCount := 0
	for range errorsChan {
		errorCount++
	}

	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no successful reads completed")
	}

	stats := computeLatencyStats(all)
	stats.Errors = errorCount
	return stats, nil
}

// GetStats returns counts describing the workspace.
func (tw *TestWorkspace) GetStats(ctx context.Context) (map[schema.SyncStatus]int, error) {
	return tw.DB.StatusCounts(ctx, tw.Workspace.ID)
}

// clean reports whether nothing is pending, i.e. the previous run already
// flushed the current content.
func (tw *TestWorkspace) clean(ctx context.Context) bool {
	counts, err := tw.DB.StatusCounts(ctx, tw.Workspace.ID)
	if err != nil {
		return true
	}
	for _, s := range schema.PendingStatuses {
		if counts[s] > 0 {
			return false
		}
	}
	return true
}

func (tw *TestWorkspace) content(p string) []byte {
	header := fmt.Sprintf("%s round %d\n", p, tw.round)
	if len(header) >= tw.FileSize {
		return []byte(header)
	}
	data := make([]byte, tw.FileSize)
	n := copy(data, header)
	for i := n; i < len(data); i++ {
		data[i] = byte('a' + tw.rng.Intn(26))
	}
	return data
}

// generatePaths spreads count files over dir-NN directories.
func generatePaths(count int) []string {
	paths := make([]string, count)
	for i := 0; i < count; i++ {
		paths[i] = fmt.Sprintf("dir-%02d/file-%05d.txt", i/filesPerDir, i)
	}
	return paths
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		Mean:      sum / time.Duration(len(durations)),
		P50:       sorted[len(sorted)*50/100],
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		TotalRuns: len(durations),
		Durations: sorted,
	}
}

// PrintStats writes the statistics in a fixed layout.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Runs:          %d\n", s.TotalRuns)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
	if s.FilesPerSecond > 0 {
		fmt.Fprintf(w, "  Throughput:    %.0f files/s\n", s.FilesPerSecond)
	}
}

// PrintComparison writes both runs and the speedup.
func (c *Comparison) PrintComparison(w io.Writer) {
	fmt.Fprintf(w, "Flush benchmark: %d files, %d workers\n\n", c.Files, c.Workers)
	fmt.Fprintf(w, "Sequential\n")
	c.Sequential.PrintStats(w)
	fmt.Fprintf(w, "\nParallel\n")
	c.Parallel.PrintStats(w)
	fmt.Fprintf(w, "\nSpeedup: %.2fx\n", c.Speedup)
}
