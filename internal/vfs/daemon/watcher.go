package daemon

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/kwspace/kws/internal/vfs/materialize"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change below one of the watched roots.
type FileEvent struct {
	// Root is the watched root the path belongs to.
	Root string
	// Path is the absolute path that changed.
	Path string
	// Rel is Path relative to Root, slash separated.
	Rel string
	Op  EventOp
}

// FileWatcher watches directory trees recursively. fsnotify only reports
// direct children, so every directory below a root gets its own watch and
// directories created later are added as they appear.
//
// Entries are filtered with the same rules SyncFromFilesystem uses: hidden
// names (when SkipHidden is set), exclusion patterns, and flush backups.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	filter  materialize.SyncOptions
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
	roots   []string
}

// NewFileWatcher creates a watcher that filters with opts.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher(opts materialize.SyncOptions) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		filter:  opts,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the given roots and everything below them.
func (fw *FileWatcher) Start(roots ...string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}
	if fw.stopped {
		return fmt.Errorf("watcher already stopped")
	}
	if len(roots) == 0 {
		return fmt.Errorf("no directories to watch")
	}

	fw.roots = fw.roots[:0]
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", root, err)
		}
		if err := fw.addTree(abs, abs); err != nil {
			for _, w := range fw.watcher.WatchList() {
				fw.watcher.Remove(w)
			}
			return fmt.Errorf("failed to watch %s: %w", abs, err)
		}
		fw.roots = append(fw.roots, abs)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching and closes the event channels.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if fw.stopped {
		fw.mu.Unlock()
		return nil
	}
	wasRunning := fw.running
	fw.running = false
	fw.stopped = true
	fw.mu.Unlock()

	close(fw.done)

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	if wasRunning {
		fw.wg.Wait()
	}
	close(fw.events)
	close(fw.errors)
	return nil
}

// Events returns the channel that emits FileEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits watcher errors.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// WatchCount returns the number of directories currently watched.
func (fw *FileWatcher) WatchCount() int {
	return len(fw.watcher.WatchList())
}

// addTree watches dir and every non-ignored directory below it.
func (fw *FileWatcher) addTree(root, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// Vanished while walking.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && fw.ignored(root, path) {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event to a FileEvent, watching new
// directories on the way. Returns false for events that should be ignored.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	root, ok := fw.rootOf(event.Name)
	if !ok || fw.ignored(root, event.Name) {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if err := fw.addTree(root, event.Name); err != nil {
				select {
				case fw.errors <- fmt.Errorf("failed to watch new directory %s: %w", event.Name, err):
				default:
				}
			}
		}
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// The new name of a rename arrives as its own Create.
		op = OpDelete
	default:
		// Chmod only.
		return FileEvent{}, false
	}

	rel, _ := filepath.Rel(root, event.Name)
	return FileEvent{
		Root: root,
		Path: event.Name,
		Rel:  filepath.ToSlash(rel),
		Op:   op,
	}, true
}

// rootOf returns the most specific watched root containing path.
func (fw *FileWatcher) rootOf(path string) (string, bool) {
	best := ""
	for _, root := range fw.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			if len(root) > len(best) {
				best = root
			}
		}
	}
	return best, best != ""
}

// ignored applies the sync filter to path relative to root.
func (fw *FileWatcher) ignored(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if fw.filter.SkipHidden && strings.HasPrefix(part, ".") {
			return true
		}
		if strings.HasSuffix(part, materialize.BackupSuffix) {
			return true
		}
	}
	for _, pattern := range fw.filter.ExcludePatterns {
		if materialize.MatchesPattern(rel, pattern) {
			return true
		}
	}
	return false
}
