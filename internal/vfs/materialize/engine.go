package materialize

import (
	"io"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/spf13/afero"

	"github.com/kwspace/kws/internal/vfs/schema"
)

// Config holds engine configuration.
type Config struct {
	// Fs is the physical filesystem. Defaults to the OS filesystem.
	Fs afero.Fs

	// MaxWorkers is the default write concurrency of a parallel flush.
	MaxWorkers int

	// Logger receives summaries and per-item failures.
	Logger *log.Logger

	// Verbose logs every item written or synced.
	Verbose bool

	// Observers are notified after each flush and sync.
	Observers []Observer

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a configuration backed by the OS filesystem.
func DefaultConfig() *Config {
	return &Config{
		Fs:         afero.NewOsFs(),
		MaxWorkers: runtime.NumCPU(),
		Logger:     log.New(os.Stderr, "[materialize] ", log.LstdFlags),
		Now:        time.Now,
	}
}

// Engine reconciles a VFS with a physical directory tree.
//
// An Engine holds no locks over the store. Callers must not run two flushes
// or syncs against the same workspace concurrently.
type Engine struct {
	vfs    VFS
	fs     afero.Fs
	config *Config
	logger *log.Logger
}

// New creates an engine over vfs. A nil config uses DefaultConfig; zero
// fields of a supplied config are filled from the defaults.
//
// Example:
//
//	database, err := db.Open(".kws/kws.db")
//	if err != nil {
//	    return err
//	}
//	engine := materialize.New(database, nil)
//	report, err := engine.Flush(ctx, materialize.ScopeWorkspace(ws.ID), "/srv/notes",
//	    materialize.DefaultFlushOptions())
func New(vfs VFS, config *Config) *Engine {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Fs == nil {
		config.Fs = defaults.Fs
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = defaults.MaxWorkers
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	return &Engine{
		vfs:    vfs,
		fs:     config.Fs,
		config: config,
		logger: config.Logger,
	}
}

// Fs returns the physical filesystem the engine writes to.
func (e *Engine) Fs() afero.Fs {
	return e.fs
}

// AddObserver registers an observer. It must be called before the engine
// is shared between goroutines.
func (e *Engine) AddObserver(o Observer) {
	e.config.Observers = append(e.config.Observers, o)
}

func (e *Engine) debugf(format string, args ...any) {
	if e.config.Verbose {
		e.logger.Printf(format, args...)
	}
}

func (e *Engine) notifyFlush(report *FlushReport, err error) {
	for _, o := range e.config.Observers {
		o.FlushCompleted(report, err)
	}
}

func (e *Engine) notifySync(workspaceID string, report *SyncReport, err error) {
	for _, o := range e.config.Observers {
		o.SyncCompleted(workspaceID, report, err)
	}
}

func (e *Engine) notifyConflict(node *schema.VNode) {
	for _, o := range e.config.Observers {
		o.ConflictDetected(node.Clone())
	}
}

// DiscardLogger returns a logger that drops everything. Useful in tests
// and for quiet CLI output.
func DiscardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
