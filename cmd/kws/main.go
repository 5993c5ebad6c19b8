// Command kws manages virtual workspaces: it records edits in a local
// store, materializes them onto disk and imports disk changes back.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kwspace/kws/internal/config"
	"github.com/kwspace/kws/internal/vfs/db"
	"github.com/kwspace/kws/internal/vfs/materialize"
	"github.com/kwspace/kws/internal/vfs/schema"
)

var (
	cfgFile string
	dbPath  string
	logFile string
	verbose bool
	noColor bool
	jsonOut bool

	// cfg is the effective configuration, set before any command runs.
	cfg = config.Default()

	logWriter io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "kws",
	Short: "Materialize virtual workspaces to disk and sync them back",
	Long: `kws keeps a virtual file tree in a local SQLite store and reconciles it
with real directories.

  write/rm/mkdir  record virtual edits
  flush           write pending edits to a target directory
  sync            import a directory into the store, detecting conflicts
  daemon          watch directories and keep both sides in step

Settings come from kws.yaml or kws.toml (see 'kws config init'), KWS_*
environment variables and the flags below.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("db") {
			loaded.Database = dbPath
		}
		if cmd.Flags().Changed("log-file") {
			loaded.LogFile = logFile
		}
		if cmd.Flags().Changed("verbose") {
			loaded.Verbose = verbose
		}
		cfg = loaded

		if cfg.LogFile != "" {
			logWriter = io.MultiWriter(os.Stderr, &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			})
		}
		initColor(noColor)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: kws.yaml in . or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Store database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file, rotated")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every file operation")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print results as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "workspace", Title: "Workspace Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Services:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("encoding JSON: %v", err)
	}
}

// fatal prints an error and exits.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s "+format+"\n", append([]any{renderFail("Error:")}, args...)...)
	os.Exit(1)
}

func newLogger(prefix string) *log.Logger {
	return log.New(logWriter, prefix, log.LstdFlags)
}

// openStore opens the configured database and makes sure the schema exists.
func openStore() *db.DB {
	database, err := db.Open(cfg.Database)
	if err != nil {
		fatal("opening store %s: %v", cfg.Database, err)
	}
	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		fatal("initializing schema: %v", err)
	}
	return database
}

func newEngine(database *db.DB) *materialize.Engine {
	return materialize.New(database, &materialize.Config{
		MaxWorkers: cfg.Flush.MaxWorkers,
		Logger:     newLogger("[materialize] "),
		Verbose:    cfg.Verbose,
	})
}

// lookupWorkspace resolves a workspace by ID or name, exiting when it does
// not exist.
func lookupWorkspace(ctx context.Context, database *db.DB, idOrName string) *schema.Workspace {
	ws, err := database.GetWorkspace(ctx, idOrName)
	if errors.Is(err, db.ErrNotFound) {
		fatal("workspace %q not found (see 'kws workspace list')", idOrName)
	}
	if err != nil {
		fatal("%v", err)
	}
	return ws
}

// rootSource returns the local source mapped at the workspace root, the
// default flush target.
func rootSource(ws *schema.Workspace) (schema.SyncSource, bool) {
	for _, src := range ws.LocalSources() {
		if src.Prefix == "" {
			return src, true
		}
	}
	return schema.SyncSource{}, false
}
