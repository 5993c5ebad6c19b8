package materialize_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwspace/kws/internal/vfs/db"
	"github.com/kwspace/kws/internal/vfs/materialize"
	"github.com/kwspace/kws/internal/vfs/schema"
)

// TestEngineWithStore drives a full edit → flush → disk edit → sync cycle
// against the SQLite store and the OS filesystem.
func TestEngineWithStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := db.Open(filepath.Join(dir, "kws.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	ws := schema.NewWorkspace("notes")
	require.NoError(t, store.UpsertWorkspace(ctx, ws))

	engine := materialize.New(store, &materialize.Config{
		Fs:     afero.NewOsFs(),
		Logger: materialize.DiscardLogger(),
	})
	target := filepath.Join(dir, "out")

	// Virtual edit, then flush.
	_, err = store.WriteFile(ctx, ws.ID, "notes/a.txt", []byte("hello"))
	require.NoError(t, err)

	report, err := engine.Flush(ctx, materialize.ScopeWorkspace(ws.ID), target, materialize.DefaultFlushOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesWritten)
	assert.Equal(t, 1, report.DirectoriesCreated)
	assert.Empty(t, report.Errors)

	data, err := os.ReadFile(filepath.Join(target, "notes", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	node, err := store.GetVNode(ctx, ws.ID, "notes/a.txt")
	require.NoError(t, err)
	assert.Equal(t, schema.StatusSynced, node.Status)
	assert.Equal(t, int64(1), node.Version)

	// Edit on disk, then sync back.
	require.NoError(t, os.WriteFile(filepath.Join(target, "notes", "a.txt"), []byte("hello, disk"), 0o644))
	syncReport, err := engine.SyncFromFilesystem(ctx, ws.ID, target, "", materialize.DefaultSyncOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, syncReport.ConflictsDetected)

	node, err = store.GetVNode(ctx, ws.ID, "notes/a.txt")
	require.NoError(t, err)
	assert.Equal(t, schema.StatusModified, node.Status)
	assert.Equal(t, int64(2), node.Version)
	got, err := store.ReadFile(ctx, ws.ID, "notes/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello, disk", string(got))

	// Concurrent edits on both sides become a conflict.
	_, err = engine.Flush(ctx, materialize.ScopeWorkspace(ws.ID), target, materialize.DefaultFlushOptions())
	require.NoError(t, err)
	_, err = store.WriteFile(ctx, ws.ID, "notes/a.txt", []byte("virtual side"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(target, "notes", "a.txt"), []byte("disk side"), 0o644))

	syncReport, err = engine.SyncFromFilesystem(ctx, ws.ID, target, "", materialize.DefaultSyncOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"notes/a.txt"}, syncReport.Conflicts)

	conflicts, err := store.ListConflicts(ctx, ws.ID)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	// The disk version is referenced from metadata and survives GC.
	_, err = store.GarbageCollect(ctx)
	require.NoError(t, err)
	resolved, err := engine.ResolveConflict(ctx, ws.ID, "notes/a.txt", materialize.ResolveKeepFilesystem)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusSynced, resolved.Status)
	got, err = store.ReadFile(ctx, ws.ID, "notes/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "disk side", string(got))

	// Virtual delete, then flush removes the file and purges the node.
	_, err = store.RemoveFile(ctx, ws.ID, "notes")
	require.NoError(t, err)
	report, err = engine.Flush(ctx, materialize.ScopeWorkspace(ws.ID), target, materialize.DefaultFlushOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesDeleted, "file and its directory")

	_, err = os.Stat(filepath.Join(target, "notes"))
	assert.True(t, os.IsNotExist(err))
	node, err = store.GetVNode(ctx, ws.ID, "notes")
	require.NoError(t, err)
	assert.Nil(t, node)
}
