package materialize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/kwspace/kws/internal/vfs/schema"
)

// SyncFromFilesystem imports the directory tree at source into workspace
// workspaceID below the virtual path prefix.
//
// The walk is depth-first and single threaded. Files whose fingerprint
// matches their node are left alone. A changed file replaces the virtual
// content (status Modified) unless the node carries an unflushed edit, in
// which case the node is marked Conflict and the disk version is kept
// aside under the fs_content_hash metadata key. With
// opts.AutoResolveConflicts the disk version always wins.
//
// Only a missing source (KindNotFound) or a source that is not a directory
// (KindInvalidInput) fails the call. Everything else is recorded in
// report.Errors and the walk continues.
func (e *Engine) SyncFromFilesystem(ctx context.Context, workspaceID, source, prefix string, opts SyncOptions) (*SyncReport, error) {
	start := time.Now()
	report := &SyncReport{}

	fail := func(err error) (*SyncReport, error) {
		report.Duration = time.Since(start)
		e.notifySync(workspaceID, report, err)
		return report, err
	}

	if workspaceID == "" {
		return fail(invalidInput("sync", source, "empty workspace id"))
	}
	info, err := e.fs.Stat(source)
	if errors.Is(err, os.ErrNotExist) {
		return fail(newError(KindNotFound, "sync", source, err))
	}
	if err != nil {
		return fail(ioError("sync", source, err))
	}
	if !info.IsDir() {
		return fail(invalidInput("sync", source, "not a directory"))
	}
	vprefix, err := schema.CleanPath(prefix)
	if err != nil {
		return fail(newError(KindInvalidInput, "sync", prefix, err))
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}

	e.logger.Printf("Syncing %s into workspace %s at %q", source, workspaceID, vprefix)

	if vprefix != "" {
		if err := e.vfs.CreateDirectory(ctx, workspaceID, vprefix, true); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", vprefix, vfsError("sync", vprefix, err)))
		}
	}

	w := &walker{
		engine:    e,
		workspace: workspaceID,
		opts:      opts,
		report:    report,
	}
	if err := w.walk(ctx, source, vprefix, 0); err != nil {
		return fail(err)
	}

	report.Duration = time.Since(start)
	e.logger.Printf("Sync complete: %s", report)
	e.notifySync(workspaceID, report, nil)
	return report, nil
}

type walker struct {
	engine    *Engine
	workspace string
	opts      SyncOptions
	report    *SyncReport
}

func (w *walker) fs() afero.Fs { return w.engine.fs }

func (w *walker) errorf(vpath string, err error) {
	w.report.Errors = append(w.report.Errors, fmt.Sprintf("%s: %v", vpath, err))
	w.engine.logger.Printf("Failed to sync %s: %v", vpath, err)
}

// walk syncs the entries of dir. It only returns an error when ctx is done.
func (w *walker) walk(ctx context.Context, dir, vdir string, depth int) error {
	if depth > w.opts.MaxDepth {
		return nil
	}
	entries, err := afero.ReadDir(w.fs(), dir)
	if err != nil {
		w.errorf(vdir, ioError("readdir", dir, err))
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if w.opts.SkipHidden && strings.HasPrefix(name, ".") {
			continue
		}
		vpath := schema.JoinPath(vdir, name)
		if matchesAny(vpath, w.opts.ExcludePatterns) {
			w.engine.debugf("Excluded %s", vpath)
			continue
		}
		full := filepath.Join(dir, name)

		switch mode := entry.Mode(); {
		case mode&os.ModeSymlink != 0:
			if w.opts.FollowSymlinks {
				w.syncSymlink(ctx, full, vpath)
			}
		case mode.IsDir():
			if w.syncDirectory(ctx, vpath) {
				if err := w.walk(ctx, full, vpath, depth+1); err != nil {
					return err
				}
			}
		case mode.IsRegular():
			w.syncFile(ctx, full, vpath, mode)
		default:
			w.engine.debugf("Skipped special file %s", full)
		}
	}
	return nil
}

// syncDirectory ensures a directory node exists. It reports whether the walk
// should descend.
func (w *walker) syncDirectory(ctx context.Context, vpath string) bool {
	node, err := w.engine.vfs.GetVNode(ctx, w.workspace, vpath)
	if err != nil {
		w.errorf(vpath, vfsError("sync", vpath, err))
		return false
	}
	if node != nil && node.Kind != schema.KindDirectory {
		w.errorf(vpath, invalidInput("sync", vpath, "is a directory on disk but a %s in the workspace", node.Kind))
		return false
	}
	if node == nil {
		node = schema.NewNode(w.workspace, vpath, schema.KindDirectory)
		if err := w.engine.vfs.SaveVNode(ctx, node); err != nil {
			w.errorf(vpath, vfsError("sync", vpath, err))
			return false
		}
	}
	w.report.DirectoriesSynced++
	return true
}

func (w *walker) syncFile(ctx context.Context, full, vpath string, mode os.FileMode) {
	e := w.engine
	data, err := afero.ReadFile(w.fs(), full)
	if err != nil {
		w.errorf(vpath, ioError("read", full, err))
		return
	}
	hash := schema.Fingerprint(data)
	size := int64(len(data))

	node, err := e.vfs.GetVNode(ctx, w.workspace, vpath)
	if err != nil {
		w.errorf(vpath, vfsError("sync", vpath, err))
		return
	}

	if node == nil {
		if err := e.vfs.StoreContent(ctx, hash, data); err != nil {
			w.errorf(vpath, vfsError("store content", vpath, err))
			return
		}
		node = schema.NewNode(w.workspace, vpath, schema.KindFile)
		node.ContentHash = hash
		node.Size = size
		node.SetMode(uint32(mode.Perm()))
		if err := e.vfs.SaveVNode(ctx, node); err != nil {
			w.errorf(vpath, vfsError("sync", vpath, err))
			return
		}
		w.report.FilesSynced++
		w.report.BytesSynced += size
		e.debugf("Imported %s (%d bytes)", vpath, size)
		return
	}

	if !node.Kind.HasContent() {
		w.errorf(vpath, invalidInput("sync", vpath, "is a file on disk but a %s in the workspace", node.Kind))
		return
	}

	if node.ContentHash == hash {
		w.report.FilesSynced++
		return
	}

	// Deleted counts as an unflushed edit too: the workspace wants the
	// file gone while the disk copy changed.
	pending := node.Status.HasLocalEdit() || node.Status == schema.StatusDeleted || node.InConflict()
	if pending && !w.opts.AutoResolveConflicts {
		if node.InConflict() && node.Metadata[schema.MetaFSContentHash] == hash {
			// Already recorded.
			return
		}
		if err := e.vfs.StoreContent(ctx, hash, data); err != nil {
			w.errorf(vpath, vfsError("store content", vpath, err))
			return
		}
		if node.Metadata == nil {
			node.Metadata = make(map[string]string)
		}
		node.Status = schema.StatusConflict
		node.Metadata[schema.MetaFSContentHash] = hash
		node.Metadata[schema.MetaConflictDetectedAt] = e.config.Now().UTC().Format(time.RFC3339)
		node.Touch()
		if err := e.vfs.SaveVNode(ctx, node); err != nil {
			w.errorf(vpath, vfsError("sync", vpath, err))
			return
		}
		w.report.ConflictsDetected++
		w.report.Conflicts = append(w.report.Conflicts, vpath)
		e.logger.Printf("Conflict: %s changed on disk and in the workspace", vpath)
		e.notifyConflict(node)
		return
	}

	if err := e.vfs.StoreContent(ctx, hash, data); err != nil {
		w.errorf(vpath, vfsError("store content", vpath, err))
		return
	}
	node.ApplyContent(hash, size)
	node.SetMode(uint32(mode.Perm()))
	node.Status = schema.StatusModified
	delete(node.Metadata, schema.MetaFSContentHash)
	delete(node.Metadata, schema.MetaConflictDetectedAt)
	if err := e.vfs.SaveVNode(ctx, node); err != nil {
		w.errorf(vpath, vfsError("sync", vpath, err))
		return
	}
	w.report.FilesSynced++
	w.report.BytesSynced += size
	e.debugf("Updated %s from disk (%d bytes, v%d)", vpath, size, node.Version)
}

// syncSymlink records the link itself. Links are never followed.
func (w *walker) syncSymlink(ctx context.Context, full, vpath string) {
	e := w.engine
	linkTarget, err := readlink(w.fs(), full)
	if err != nil {
		w.errorf(vpath, ioError("readlink", full, err))
		return
	}

	node, err := e.vfs.GetVNode(ctx, w.workspace, vpath)
	if err != nil {
		w.errorf(vpath, vfsError("sync", vpath, err))
		return
	}
	switch {
	case node == nil:
		node = schema.NewNode(w.workspace, vpath, schema.KindSymlink)
		node.Metadata = map[string]string{schema.MetaSymlinkTarget: linkTarget}
	case node.Kind != schema.KindSymlink:
		w.errorf(vpath, invalidInput("sync", vpath, "is a symlink on disk but a %s in the workspace", node.Kind))
		return
	case node.Metadata[schema.MetaSymlinkTarget] == linkTarget:
		w.report.SymlinksSynced++
		return
	default:
		if node.Metadata == nil {
			node.Metadata = make(map[string]string)
		}
		node.Metadata[schema.MetaSymlinkTarget] = linkTarget
		node.Status = schema.StatusModified
		node.Version++
		node.Touch()
	}

	if err := e.vfs.SaveVNode(ctx, node); err != nil {
		w.errorf(vpath, vfsError("sync", vpath, err))
		return
	}
	w.report.SymlinksSynced++
}
