package materialize

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/kwspace/kws/internal/vfs/schema"
)

const helloHash = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func nodePaths(t *testing.T, vfs *memVFS) []string {
	t.Helper()
	nodes, err := vfs.QueryVNodesByStatus(context.Background(), schema.NodeQuery{WorkspaceID: ws})
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, n := range nodes {
		paths = append(paths, n.Path)
	}
	sort.Strings(paths)
	return paths
}

func TestSync_ImportsTree(t *testing.T) {
	vfs := newMemVFS()
	fs := afero.NewMemMapFs()
	engine := newTestEngine(t, vfs, fs)

	writeFile(t, fs, "/src/a.txt", "hello")
	writeFile(t, fs, "/src/dir/b.txt", "bee")
	writeFile(t, fs, "/src/.hidden", "secret")
	writeFile(t, fs, "/src/node_modules/pkg.json", "{}")
	writeFile(t, fs, "/src/dir/cache.pyc", "bytecode")

	report, err := engine.SyncFromFilesystem(context.Background(), ws, "/src", "", DefaultSyncOptions())
	if err != nil {
		t.Fatalf("SyncFromFilesystem failed: %v", err)
	}

	if report.FilesSynced != 2 || report.DirectoriesSynced != 1 {
		t.Errorf("unexpected report: %s", report)
	}
	if report.BytesSynced != int64(len("hello")+len("bee")) {
		t.Errorf("BytesSynced = %d", report.BytesSynced)
	}
	if diff := cmp.Diff([]string{"a.txt", "dir", "dir/b.txt"}, nodePaths(t, vfs)); diff != "" {
		t.Errorf("imported paths mismatch (-want +got):\n%s", diff)
	}

	a := vfs.get(t, ws, "a.txt")
	if a.ContentHash != helloHash {
		t.Errorf("ContentHash = %s, want %s", a.ContentHash, helloHash)
	}
	if a.Status != schema.StatusCreated || a.Version != 1 || a.Size != 5 {
		t.Errorf("unexpected node: status=%s version=%d size=%d", a.Status, a.Version, a.Size)
	}
	if a.Mode == nil || *a.Mode != 0o644 {
		t.Errorf("Mode = %v, want 0644", a.Mode)
	}
	if data, err := vfs.ReadContent(context.Background(), helloHash); err != nil || string(data) != "hello" {
		t.Errorf("ReadContent = %q, %v", data, err)
	}
}

func TestSync_Idempotent(t *testing.T) {
	vfs := newMemVFS()
	fs := afero.NewMemMapFs()
	engine := newTestEngine(t, vfs, fs)

	writeFile(t, fs, "/src/a.txt", "hello")
	writeFile(t, fs, "/src/sub/b.txt", "b")

	first, err := engine.SyncFromFilesystem(context.Background(), ws, "/src", "", DefaultSyncOptions())
	if err != nil {
		t.Fatal(err)
	}
	before := vfs.get(t, ws, "sub/b.txt")

	second, err := engine.SyncFromFilesystem(context.Background(), ws, "/src", "", DefaultSyncOptions())
	if err != nil {
		t.Fatal(err)
	}
	if second.FilesSynced != first.FilesSynced {
		t.Errorf("FilesSynced changed: %d -> %d", first.FilesSynced, second.FilesSynced)
	}
	if second.ConflictsDetected != 0 {
		t.Errorf("ConflictsDetected = %d, want 0", second.ConflictsDetected)
	}
	if diff := cmp.Diff(before, vfs.get(t, ws, "sub/b.txt")); diff != "" {
		t.Errorf("node changed by second sync (-before +after):\n%s", diff)
	}
}

func TestSync_ChangedOnDiskWithoutLocalEdit(t *testing.T) {
	vfs := newMemVFS()
	fs := afero.NewMemMapFs()
	engine := newTestEngine(t, vfs, fs)

	vfs.put(t, ws, "a.txt", schema.KindFile, schema.StatusSynced, []byte("old"))
	writeFile(t, fs, "/src/a.txt", "hello")

	report, err := engine.SyncFromFilesystem(context.Background(), ws, "/src", "", DefaultSyncOptions())
	if err != nil {
		t.Fatal(err)
	}
	if report.FilesSynced != 1 || report.ConflictsDetected != 0 {
		t.Errorf("unexpected report: %s", report)
	}
	a := vfs.get(t, ws, "a.txt")
	if a.Status != schema.StatusModified || a.Version != 2 || a.ContentHash != helloHash {
		t.Errorf("got status=%s version=%d hash=%s", a.Status, a.Version, a.ContentHash)
	}
}

func TestSync_DetectsConflict(t *testing.T) {
	vfs := newMemVFS()
	fs := afero.NewMemMapFs()
	engine := newTestEngine(t, vfs, fs)

	local := vfs.put(t, ws, "a.txt", schema.KindFile, schema.StatusModified, []byte("local edit"))
	writeFile(t, fs, "/src/a.txt", "hello")

	var seen []string
	engine.AddObserver(conflictRecorder(func(n *schema.VNode) { seen = append(seen, n.Path) }))

	report, err := engine.SyncFromFilesystem(context.Background(), ws, "/src", "", DefaultSyncOptions())
	if err != nil {
		t.Fatal(err)
	}
	if report.ConflictsDetected != 1 || report.FilesSynced != 0 {
		t.Errorf("unexpected report: %s", report)
	}
	if diff := cmp.Diff([]string{"a.txt"}, report.Conflicts); diff != "" {
		t.Errorf("Conflicts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a.txt"}, seen); diff != "" {
		t.Errorf("observer mismatch (-want +got):\n%s", diff)
	}

	a := vfs.get(t, ws, "a.txt")
	if a.Status != schema.StatusConflict {
		t.Errorf("status = %s, want conflict", a.Status)
	}
	if a.ContentHash != local.ContentHash || a.Version != local.Version {
		t.Error("conflict must keep the local content and version")
	}
	if a.Metadata[schema.MetaFSContentHash] != helloHash {
		t.Errorf("fs_content_hash = %q", a.Metadata[schema.MetaFSContentHash])
	}
	if _, err := time.Parse(time.RFC3339, a.Metadata[schema.MetaConflictDetectedAt]); err != nil {
		t.Errorf("conflict_detected_at not RFC3339: %v", err)
	}
	if _, err := vfs.ReadContent(context.Background(), helloHash); err != nil {
		t.Errorf("filesystem content should be stored: %v", err)
	}

	again, err := engine.SyncFromFilesystem(context.Background(), ws, "/src", "", DefaultSyncOptions())
	if err != nil {
		t.Fatal(err)
	}
	if again.ConflictsDetected != 0 {
		t.Errorf("recorded conflict counted again: %d", again.ConflictsDetected)
	}
}

func TestSync_AutoResolve(t *testing.T) {
	vfs := newMemVFS()
	fs := afero.NewMemMapFs()
	engine := newTestEngine(t, vfs, fs)

	vfs.put(t, ws, "a.txt", schema.KindFile, schema.StatusCreated, []byte("local edit"))
	writeFile(t, fs, "/src/a.txt", "hello")

	opts := DefaultSyncOptions()
	opts.AutoResolveConflicts = true
	report, err := engine.SyncFromFilesystem(context.Background(), ws, "/src", "", opts)
	if err != nil {
		t.Fatal(err)
	}
	if report.ConflictsDetected != 0 || report.FilesSynced != 1 {
		t.Errorf("unexpected report: %s", report)
	}
	a := vfs.get(t, ws, "a.txt")
	if a.Status != schema.StatusModified || a.ContentHash != helloHash || a.Version != 2 {
		t.Errorf("got status=%s hash=%s version=%d", a.Status, a.ContentHash, a.Version)
	}
}

func TestSync_Prefix(t *testing.T) {
	vfs := newMemVFS()
	fs := afero.NewMemMapFs()
	engine := newTestEngine(t, vfs, fs)

	writeFile(t, fs, "/src/a.txt", "hello")

	if _, err := engine.SyncFromFilesystem(context.Background(), ws, "/src", "/imported/", DefaultSyncOptions()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"imported", "imported/a.txt"}, nodePaths(t, vfs)); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestSync_MaxDepth(t *testing.T) {
	vfs := newMemVFS()
	fs := afero.NewMemMapFs()
	engine := newTestEngine(t, vfs, fs)

	writeFile(t, fs, "/src/top.txt", "top")
	writeFile(t, fs, "/src/d1/mid.txt", "mid")
	writeFile(t, fs, "/src/d1/d2/deep.txt", "deep")

	opts := DefaultSyncOptions()
	opts.MaxDepth = 1
	if _, err := engine.SyncFromFilesystem(context.Background(), ws, "/src", "", opts); err != nil {
		t.Fatal(err)
	}
	want := []string{"d1", "d1/d2", "d1/mid.txt", "top.txt"}
	if diff := cmp.Diff(want, nodePaths(t, vfs)); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestSync_ExcludeMatchesVirtualPath(t *testing.T) {
	vfs := newMemVFS()
	fs := afero.NewMemMapFs()
	engine := newTestEngine(t, vfs, fs)

	writeFile(t, fs, "/work/target/a.txt", "hello")
	writeFile(t, fs, "/work/target/target/b.txt", "skip")

	opts := DefaultSyncOptions()
	opts.ExcludePatterns = []string{"target"}
	if _, err := engine.SyncFromFilesystem(context.Background(), ws, "/work/target", "", opts); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a.txt"}, nodePaths(t, vfs)); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestSync_SourceErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	engine := newTestEngine(t, newMemVFS(), fs)
	writeFile(t, fs, "/file.txt", "x")

	_, err := engine.SyncFromFilesystem(context.Background(), ws, "/missing", "", DefaultSyncOptions())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing source: err = %v, want ErrNotFound", err)
	}
	_, err = engine.SyncFromFilesystem(context.Background(), ws, "/file.txt", "", DefaultSyncOptions())
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("file source: err = %v, want ErrInvalidInput", err)
	}
}

func TestSync_KindMismatchIsRecorded(t *testing.T) {
	vfs := newMemVFS()
	fs := afero.NewMemMapFs()
	engine := newTestEngine(t, vfs, fs)

	vfs.put(t, ws, "thing", schema.KindDirectory, schema.StatusSynced, nil)
	writeFile(t, fs, "/src/thing", "now a file")
	writeFile(t, fs, "/src/ok.txt", "fine")

	report, err := engine.SyncFromFilesystem(context.Background(), ws, "/src", "", DefaultSyncOptions())
	if err != nil {
		t.Fatalf("per-entry problems must not fail the sync: %v", err)
	}
	if len(report.Errors) != 1 || report.FilesSynced != 1 {
		t.Errorf("unexpected report: %s %v", report, report.Errors)
	}
}

func TestSync_RoundTrip(t *testing.T) {
	vfs := newMemVFS()
	fs := afero.NewMemMapFs()
	engine := newTestEngine(t, vfs, fs)

	files := map[string]string{
		"/src/readme.md":        "# readme\n",
		"/src/cmd/main.go":      "package main\n",
		"/src/internal/x/x.go":  "package x\n",
		"/src/internal/x/empty": "",
	}
	for name, content := range files {
		writeFile(t, fs, name, content)
	}

	if _, err := engine.SyncFromFilesystem(context.Background(), ws, "/src", "", DefaultSyncOptions()); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Flush(context.Background(), ScopeWorkspace(ws), "/dst", DefaultFlushOptions()); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		out := "/dst" + name[len("/src"):]
		if got := readFile(t, fs, out); got != content {
			t.Errorf("%s = %q, want %q", out, got, content)
		}
	}
}

type conflictRecorder func(*schema.VNode)

func (f conflictRecorder) FlushCompleted(*FlushReport, error)       {}
func (f conflictRecorder) SyncCompleted(string, *SyncReport, error) {}
func (f conflictRecorder) ConflictDetected(n *schema.VNode)         { f(n) }
