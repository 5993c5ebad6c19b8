package materialize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kwspace/kws/internal/vfs/schema"
)

// Flush writes pending virtual changes (Created, Modified, Deleted) in scope
// to the directory tree rooted at target. A relative target is resolved
// against the working directory.
//
// Deletions run first, sequentially. Creates and updates follow, in parallel
// when opts.Parallel is set and there are more than ten of them. Directory
// modes are applied after all writes, so a read-only directory does not
// block its own children. Every node processed successfully is then
// persisted as Synced; flushed deletions are purged from the store.
//
// In atomic mode the first failure aborts the flush. If a backup was taken
// the target is restored from it and report.RolledBack is set; the original
// error is returned together with the partial report. Without atomic mode
// per-item failures are collected in report.Errors and Flush returns nil.
//
// Observers are notified exactly once per call, whatever the outcome.
func (e *Engine) Flush(ctx context.Context, scope Scope, target string, opts FlushOptions) (*FlushReport, error) {
	start := time.Now()
	report, err := e.flush(ctx, scope, target, opts)
	report.Duration = time.Since(start)
	if err == nil {
		e.logger.Printf("Flush complete: %s", report)
	}
	e.notifyFlush(report, err)
	return report, err
}

func (e *Engine) flush(ctx context.Context, scope Scope, target string, opts FlushOptions) (*FlushReport, error) {
	report := &FlushReport{}

	if target == "" {
		return report, invalidInput("flush", target, "empty target directory")
	}
	target = absPath(target)

	if scope.matchesNothing() {
		return report, nil
	}
	q, err := scope.query()
	if err != nil {
		return report, newError(KindInvalidInput, "flush", scope.PathPrefix, err)
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = e.config.MaxWorkers
	}

	if opts.CreateBackup {
		ok, err := exists(e.fs, target)
		if err != nil {
			return report, ioError("backup", target, err)
		}
		if ok {
			backup, err := e.CreateBackup(target)
			if err != nil {
				return report, err
			}
			report.BackupPath = backup
		}
	}

	nodes, err := e.vfs.QueryVNodesByStatus(ctx, q)
	if err != nil {
		e.discardBackup(report)
		return report, vfsError("flush", "", err)
	}
	if len(nodes) == 0 {
		e.discardBackup(report)
		return report, nil
	}

	var deletions, writes []*schema.VNode
	for _, node := range nodes {
		if node.Status == schema.StatusDeleted {
			deletions = append(deletions, node)
		} else {
			writes = append(writes, node)
		}
	}
	// Deepest first, so a directory's children go before the directory.
	sort.SliceStable(deletions, func(i, j int) bool {
		return deletions[i].Path > deletions[j].Path
	})
	// Parents before children.
	sort.SliceStable(writes, func(i, j int) bool {
		return writes[i].Path < writes[j].Path
	})

	e.logger.Printf("Flushing %d deletions and %d writes (%s) to %s",
		len(deletions), len(writes), scope, target)

	run := &flushRun{
		engine: e,
		target: target,
		opts:   opts,
		report: report,
	}

	err = run.deleteAll(ctx, deletions)
	if err == nil {
		if opts.Parallel && len(writes) > parallelThreshold {
			err = run.writeParallel(ctx, writes, workers)
		} else {
			err = run.writeSequential(ctx, writes)
		}
	}
	if err == nil {
		err = run.applyDirModes()
	}

	if err != nil {
		if opts.Atomic && report.BackupPath != "" {
			if rerr := e.RestoreBackup(target); rerr != nil {
				e.logger.Printf("Rollback of %s failed: %v", target, rerr)
			} else {
				report.RolledBack = true
				report.BackupPath = ""
				e.logger.Printf("Rolled back %s from backup", target)
			}
		}
		return report, err
	}

	// The tree now matches the store, so a failure to record that is not
	// rolled back; the backup is kept for manual recovery.
	if err := run.persist(ctx); err != nil {
		return report, err
	}

	e.discardBackup(report)
	return report, nil
}

func (e *Engine) discardBackup(report *FlushReport) {
	if report.BackupPath == "" {
		return
	}
	if err := e.fs.RemoveAll(report.BackupPath); err != nil {
		e.logger.Printf("Warning: failed to remove backup %s: %v", report.BackupPath, err)
		return
	}
	report.BackupPath = ""
}

// flushRun carries the state of one Flush. The report and the done list are
// shared with write workers and guarded by mu.
type flushRun struct {
	engine *Engine
	target string
	opts   FlushOptions

	mu       sync.Mutex
	report   *FlushReport
	done     []*schema.VNode
	dirModes []dirMode
}

// dirMode is a directory whose mode is applied once the writes are done.
type dirMode struct {
	node *schema.VNode
	path string
}

type itemResult struct {
	kind    schema.NodeKind
	bytes   int64
	deleted bool
	skipped bool // nothing to do on disk
}

// record folds one item's outcome into the report. It returns a non-nil
// error only when the flush must stop.
func (r *flushRun) record(node *schema.VNode, res itemResult, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.report.Errors = append(r.report.Errors, fmt.Sprintf("%s: %v", node.Path, err))
		r.engine.logger.Printf("Failed to flush %s: %v", node.Path, err)
		if r.opts.Atomic {
			return err
		}
		return nil
	}

	switch {
	case res.skipped:
	case res.deleted:
		r.report.FilesDeleted++
	case res.kind == schema.KindDirectory:
		r.report.DirectoriesCreated++
	case res.kind == schema.KindSymlink:
		r.report.SymlinksCreated++
	default:
		r.report.FilesWritten++
		r.report.BytesWritten += res.bytes
	}
	r.done = append(r.done, node)
	return nil
}

func (r *flushRun) deleteAll(ctx context.Context, nodes []*schema.VNode) error {
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := r.deleteNode(node)
		if err := r.record(node, res, err); err != nil {
			return err
		}
	}
	return nil
}

func (r *flushRun) deleteNode(node *schema.VNode) (itemResult, error) {
	res := itemResult{kind: node.Kind}
	p, err := r.resolve(node)
	if err != nil {
		return res, err
	}

	info, err := lstat(r.engine.fs, p)
	if errors.Is(err, os.ErrNotExist) {
		// Already gone; purge the record without counting it.
		res.skipped = true
		return res, nil
	}
	if err != nil {
		return res, ioError("delete", p, err)
	}

	if info.IsDir() {
		err = r.engine.fs.RemoveAll(p)
	} else {
		err = r.engine.fs.Remove(p)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return res, ioError("delete", p, err)
	}
	res.deleted = true
	r.engine.debugf("Deleted %s", p)
	return res, nil
}

func (r *flushRun) writeSequential(ctx context.Context, nodes []*schema.VNode) error {
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := r.writeNode(ctx, node)
		if err := r.record(node, res, err); err != nil {
			return err
		}
	}
	return nil
}

// writeParallel writes nodes with at most workers in flight. Parents are
// created with MkdirAll by each writer, so ordering between workers does
// not matter.
func (r *flushRun) writeParallel(ctx context.Context, nodes []*schema.VNode, workers int) error {
	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(ctx)

	var acquireErr error
	for _, node := range nodes {
		if err := sem.Acquire(gctx, 1); err != nil {
			acquireErr = err
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			res, err := r.writeNode(gctx, node)
			return r.record(node, res, err)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return acquireErr
}

func (r *flushRun) writeNode(ctx context.Context, node *schema.VNode) (itemResult, error) {
	res := itemResult{kind: node.Kind}
	p, err := r.resolve(node)
	if err != nil {
		return res, err
	}
	fs := r.engine.fs

	switch node.Kind {
	case schema.KindDirectory:
		if err := fs.MkdirAll(p, defaultDirPerm); err != nil {
			return res, ioError("mkdir", p, err)
		}
		if r.opts.PreservePermissions && node.Mode != nil {
			r.mu.Lock()
			r.dirModes = append(r.dirModes, dirMode{node: node, path: p})
			r.mu.Unlock()
		}

	case schema.KindFile, schema.KindDocument:
		if err := fs.MkdirAll(filepath.Dir(p), defaultDirPerm); err != nil {
			return res, ioError("mkdir", filepath.Dir(p), err)
		}
		data := []byte{}
		if node.ContentHash != "" {
			data, err = r.engine.vfs.ReadContent(ctx, node.ContentHash)
			if err != nil {
				return res, vfsError("read content", node.Path, err)
			}
		}
		if err := afero.WriteFile(fs, p, data, defaultFilePerm); err != nil {
			return res, ioError("write", p, err)
		}
		if err := r.applyMode(node, p); err != nil {
			return res, err
		}
		res.bytes = int64(len(data))

	case schema.KindSymlink:
		linkTarget := node.Metadata[schema.MetaSymlinkTarget]
		if linkTarget == "" {
			return res, invalidInput("symlink", node.Path, "symlink node has no target")
		}
		if err := fs.MkdirAll(filepath.Dir(p), defaultDirPerm); err != nil {
			return res, ioError("mkdir", filepath.Dir(p), err)
		}
		if info, err := lstat(fs, p); err == nil && !info.IsDir() {
			if err := fs.Remove(p); err != nil {
				return res, ioError("symlink", p, err)
			}
		}
		if err := symlink(fs, linkTarget, p); err != nil {
			if errors.Is(err, ErrUnsupportedPlatform) {
				return res, newError(KindInvalidInput, "symlink", p, err)
			}
			return res, ioError("symlink", p, err)
		}

	default:
		return res, invalidInput("flush", node.Path, "unknown node kind %d", int(node.Kind))
	}

	r.engine.debugf("Wrote %s %s", node.Kind, p)
	return res, nil
}

// resolve maps node to its physical path. Besides the textual escape check,
// no existing parent between the target and the node may be a symlink, or
// the write would land wherever the link points.
func (r *flushRun) resolve(node *schema.VNode) (string, error) {
	p, err := physicalPath(r.target, node.Path)
	if err != nil {
		return "", newError(KindInvalidInput, "flush", node.Path, err)
	}
	link, err := symlinkedParent(r.engine.fs, r.target, p)
	if err != nil {
		return "", ioError("flush", p, err)
	}
	if link != "" {
		return "", invalidInput("flush", node.Path, "parent %s is a symlink", link)
	}
	return p, nil
}

// applyDirModes sets directory modes deepest first. A failure is handled
// like a write failure: fatal in atomic mode, otherwise recorded and the
// directory left pending.
func (r *flushRun) applyDirModes() error {
	sort.SliceStable(r.dirModes, func(i, j int) bool {
		return r.dirModes[i].path > r.dirModes[j].path
	})
	var failed map[*schema.VNode]bool
	for _, d := range r.dirModes {
		err := r.applyMode(d.node, d.path)
		if err == nil {
			continue
		}
		r.report.Errors = append(r.report.Errors, fmt.Sprintf("%s: %v", d.node.Path, err))
		r.engine.logger.Printf("Failed to flush %s: %v", d.node.Path, err)
		if r.opts.Atomic {
			return err
		}
		if failed == nil {
			failed = make(map[*schema.VNode]bool)
		}
		failed[d.node] = true
		r.report.DirectoriesCreated--
	}
	if failed != nil {
		done := r.done[:0]
		for _, node := range r.done {
			if !failed[node] {
				done = append(done, node)
			}
		}
		r.done = done
	}
	return nil
}

func (r *flushRun) applyMode(node *schema.VNode, p string) error {
	if !r.opts.PreservePermissions || node.Mode == nil {
		return nil
	}
	if err := r.engine.fs.Chmod(p, os.FileMode(*node.Mode&0o777)); err != nil {
		return ioError("chmod", p, err)
	}
	return nil
}

// persist records the flushed state: written nodes become Synced at their
// current version, deleted nodes are purged.
func (r *flushRun) persist(ctx context.Context) error {
	for _, node := range r.done {
		var err error
		if node.Status == schema.StatusDeleted {
			err = r.engine.vfs.DeleteVNode(ctx, node.ID)
		} else {
			node.Status = schema.StatusSynced
			node.Touch()
			err = r.engine.vfs.SaveVNode(ctx, node)
		}
		if err != nil {
			verr := vfsError("persist", node.Path, err)
			r.report.Errors = append(r.report.Errors, fmt.Sprintf("%s: %v", node.Path, verr))
			if r.opts.Atomic {
				return verr
			}
		}
	}
	return nil
}
