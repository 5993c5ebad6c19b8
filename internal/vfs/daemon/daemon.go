package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kwspace/kws/internal/vfs/materialize"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a workspace must be quiet before its
	// queued changes are synced. This batches rapid updates together.
	DebounceInterval time.Duration

	// FlushInterval is how often pending virtual edits are flushed back to
	// the watched directories. Zero disables flushing.
	FlushInterval time.Duration

	// SyncOptions are passed to every SyncFromFilesystem and also decide
	// which paths the watcher ignores.
	SyncOptions materialize.SyncOptions

	// FlushOptions are passed to every periodic flush.
	FlushOptions materialize.FlushOptions

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		SyncOptions:      materialize.DefaultSyncOptions(),
		FlushOptions:     materialize.DefaultFlushOptions(),
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Binding ties a workspace to the local directory it mirrors.
type Binding struct {
	WorkspaceID string
	// Root is the directory watched and synced.
	Root string
	// Prefix is the virtual path Root maps to. Bindings with a prefix are
	// synced but never flushed back, because a flush writes full virtual
	// paths below its target.
	Prefix string
}

// Daemon keeps workspaces in step with their local directories: file
// events trigger a debounced SyncFromFilesystem, and pending virtual edits
// are optionally flushed back on a timer.
//
// Engine calls for one workspace are serialized; different workspaces
// proceed independently.
type Daemon struct {
	engine   *materialize.Engine
	bindings []Binding
	config   *Config

	watcher       *FileWatcher
	changeQueue   map[int]time.Time // binding index -> last event
	changeQueueMu sync.Mutex

	locks map[string]*sync.Mutex // per workspace

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon with the default configuration.
func New(engine *materialize.Engine, bindings []Binding) (*Daemon, error) {
	return NewWithConfig(engine, bindings, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(engine *materialize.Engine, bindings []Binding, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if len(bindings) == 0 {
		return nil, fmt.Errorf("at least one binding is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	locks := make(map[string]*sync.Mutex)
	resolved := make([]Binding, len(bindings))
	for i, b := range bindings {
		if b.WorkspaceID == "" {
			return nil, fmt.Errorf("binding %d: workspace id cannot be empty", i)
		}
		if b.Root == "" {
			return nil, fmt.Errorf("binding %d: root cannot be empty", i)
		}
		abs, err := filepath.Abs(b.Root)
		if err != nil {
			return nil, fmt.Errorf("binding %d: failed to resolve root: %w", i, err)
		}
		b.Root = abs
		resolved[i] = b
		if _, ok := locks[b.WorkspaceID]; !ok {
			locks[b.WorkspaceID] = &sync.Mutex{}
		}
	}

	watcher, err := NewFileWatcher(config.SyncOptions)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:      engine,
		bindings:    resolved,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[int]time.Time),
		locks:       locks,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Bindings returns the daemon's bindings with absolute roots.
func (d *Daemon) Bindings() []Binding {
	return append([]Binding(nil), d.bindings...)
}

// Start runs the daemon:
// 1. Sync every binding once
// 2. Watch every root recursively
// 3. Sync a binding after its changes settle for DebounceInterval
// 4. Flush pending edits every FlushInterval, if set
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	for i := range d.bindings {
		if _, err := d.syncBinding(ctx, i); err != nil {
			return fmt.Errorf("initial sync failed: %w", err)
		}
	}

	roots := make([]string, len(d.bindings))
	for i, b := range d.bindings {
		roots[i] = b.Root
	}
	if err := d.watcher.Start(roots...); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	d.config.Logger.Printf("Watching %d directories under %v", d.watcher.WatchCount(), roots)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()
	if d.config.FlushInterval > 0 {
		d.wg.Add(1)
		go d.flushLoop()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// SyncWorkspace syncs every binding of a workspace now.
func (d *Daemon) SyncWorkspace(ctx context.Context, workspaceID string) error {
	found := false
	for i, b := range d.bindings {
		if b.WorkspaceID != workspaceID {
			continue
		}
		found = true
		if _, err := d.syncBinding(ctx, i); err != nil {
			return err
		}
	}
	if !found {
		return fmt.Errorf("workspace %s is not watched", workspaceID)
	}
	return nil
}

// FlushAll flushes pending edits of every flushable binding now.
func (d *Daemon) FlushAll(ctx context.Context) {
	for i, b := range d.bindings {
		if b.Prefix != "" {
			continue
		}
		if _, err := d.flushBinding(ctx, i); err != nil {
			d.config.Logger.Printf("Error flushing %s: %v", b.WorkspaceID, err)
		}
	}
}

func (d *Daemon) syncBinding(ctx context.Context, i int) (*materialize.SyncReport, error) {
	b := d.bindings[i]
	mu := d.locks[b.WorkspaceID]
	mu.Lock()
	defer mu.Unlock()

	report, err := d.engine.SyncFromFilesystem(ctx, b.WorkspaceID, b.Root, b.Prefix, d.config.SyncOptions)
	if err != nil {
		return report, fmt.Errorf("failed to sync %s from %s: %w", b.WorkspaceID, b.Root, err)
	}
	if report.ConflictsDetected > 0 {
		d.config.Logger.Printf("Workspace %s: %d new conflicts: %v", b.WorkspaceID, report.ConflictsDetected, report.Conflicts)
	}
	return report, nil
}

func (d *Daemon) flushBinding(ctx context.Context, i int) (*materialize.FlushReport, error) {
	b := d.bindings[i]
	mu := d.locks[b.WorkspaceID]
	mu.Lock()
	defer mu.Unlock()

	report, err := d.engine.Flush(ctx, materialize.ScopeWorkspace(b.WorkspaceID), b.Root, d.config.FlushOptions)
	if err != nil {
		return report, fmt.Errorf("failed to flush %s to %s: %w", b.WorkspaceID, b.Root, err)
	}
	return report, nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, event.Path)
			d.queueChange(event)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange marks every binding rooted at the event's root as dirty.
func (d *Daemon) queueChange(event FileEvent) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for i, b := range d.bindings {
		if b.Root == event.Root {
			d.changeQueue[i] = now
		}
	}
}

// processChangeQueue processes queued changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges syncs bindings that have been quiet long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []int
	for i, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, i)
		delete(d.changeQueue, i)
	}
	d.changeQueueMu.Unlock()

	for _, i := range ready {
		if _, err := d.syncBinding(d.ctx, i); err != nil {
			d.config.Logger.Printf("Error syncing %s: %v", d.bindings[i].WorkspaceID, err)
		}
	}
}

// flushLoop periodically writes pending virtual edits to disk.
func (d *Daemon) flushLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.FlushAll(d.ctx)
		}
	}
}
