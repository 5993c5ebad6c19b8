package db

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/kwspace/kws/internal/vfs/schema"
)

// setupTestDB opens a schema-initialized database in a temp dir with one
// workspace named "notes".
func setupTestDB(t *testing.T) (*DB, *schema.Workspace) {
	t.Helper()

	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	ws := schema.NewWorkspace("notes")
	if err := database.UpsertWorkspace(context.Background(), ws); err != nil {
		t.Fatalf("UpsertWorkspace() failed: %v", err)
	}
	return database, ws
}

func TestOpen_AcceptsFilePrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefixed.db")
	database, err := Open("file:" + path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer database.Close()

	if database.Path() != path {
		t.Errorf("Path() = %q, want %q", database.Path(), path)
	}
}

func TestOpen_PragmasOnEveryConnection(t *testing.T) {
	database, _ := setupTestDB(t)
	ctx := context.Background()

	// Hold several connections at once so the pool has to open new ones.
	for i := 0; i < 3; i++ {
		conn, err := database.RawDB().Conn(ctx)
		if err != nil {
			t.Fatalf("Conn() failed: %v", err)
		}
		defer conn.Close()

		var foreignKeys, busyTimeout int
		if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
			t.Fatalf("conn %d: PRAGMA foreign_keys failed: %v", i, err)
		}
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
			t.Fatalf("conn %d: PRAGMA busy_timeout failed: %v", i, err)
		}
		if foreignKeys != 1 {
			t.Errorf("conn %d: foreign_keys = %d, want 1", i, foreignKeys)
		}
		if busyTimeout != 5000 {
			t.Errorf("conn %d: busy_timeout = %d, want 5000", i, busyTimeout)
		}
	}
}

func TestDSN(t *testing.T) {
	got := dsn("/tmp/kws.db")
	want := "file:/tmp/kws.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(wal)"
	if got != want {
		t.Errorf("dsn() = %q, want %q", got, want)
	}
	if got := dsn("/tmp/kws.db?mode=rwc"); !strings.HasPrefix(got, "file:/tmp/kws.db?mode=rwc&_pragma=") {
		t.Errorf("dsn() with query = %q", got)
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	database, _ := setupTestDB(t)

	if err := database.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}

	for _, table := range []string{"workspaces", "sync_sources", "vnodes", "content_objects"} {
		var count int
		err := database.conn.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestWorkspace_UpsertAndGet(t *testing.T) {
	database, ws := setupTestDB(t)
	ctx := context.Background()

	ws.Sources = []schema.SyncSource{{Kind: schema.SourceLocalPath, Location: "/srv/notes", Prefix: "docs"}}
	if err := database.UpsertWorkspace(ctx, ws); err != nil {
		t.Fatalf("UpsertWorkspace() failed: %v", err)
	}

	byName, err := database.GetWorkspace(ctx, "notes")
	if err != nil {
		t.Fatalf("GetWorkspace(name) failed: %v", err)
	}
	if byName.ID != ws.ID {
		t.Errorf("GetWorkspace(name).ID = %s, want %s", byName.ID, ws.ID)
	}
	if len(byName.Sources) != 1 || byName.Sources[0].Prefix != "docs" {
		t.Errorf("Sources = %+v", byName.Sources)
	}

	if _, err := database.GetWorkspace(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("GetWorkspace(missing) error = %v, want ErrNotFound", err)
	}

	all, err := database.ListWorkspaces(ctx)
	if err != nil {
		t.Fatalf("ListWorkspaces() failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListWorkspaces() = %d, want 1", len(all))
	}
}

func TestContent_StoreIsIdempotent(t *testing.T) {
	database, _ := setupTestDB(t)
	ctx := context.Background()

	data := []byte("hello")
	hash := schema.Fingerprint(data)

	for i := 0; i < 2; i++ {
		if err := database.StoreContent(ctx, hash, data); err != nil {
			t.Fatalf("StoreContent() #%d failed: %v", i, err)
		}
	}

	got, err := database.ReadContent(ctx, hash)
	if err != nil {
		t.Fatalf("ReadContent() failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("ReadContent() = %q", got)
	}

	stats, err := database.GetContentStats(ctx)
	if err != nil {
		t.Fatalf("GetContentStats() failed: %v", err)
	}
	if stats.Objects != 1 {
		t.Errorf("Objects = %d, want 1", stats.Objects)
	}
}

func TestContent_RejectsMismatchedHash(t *testing.T) {
	database, _ := setupTestDB(t)

	err := database.StoreContent(context.Background(), schema.Fingerprint([]byte("a")), []byte("b"))
	if !errors.Is(err, ErrContentMismatch) {
		t.Errorf("StoreContent() error = %v, want ErrContentMismatch", err)
	}
}

func TestContent_CompressesLargePayloads(t *testing.T) {
	database, _ := setupTestDB(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("all work and no play\n"), 1000)
	hash := schema.Fingerprint(data)
	if err := database.StoreContent(ctx, hash, data); err != nil {
		t.Fatalf("StoreContent() failed: %v", err)
	}

	obj, err := database.GetContentObject(ctx, hash)
	if err != nil {
		t.Fatalf("GetContentObject() failed: %v", err)
	}
	if obj.Compression != schema.CompressionZstd {
		t.Errorf("Compression = %q, want zstd", obj.Compression)
	}
	if obj.StoredSize >= obj.Size {
		t.Errorf("StoredSize = %d, want < %d", obj.StoredSize, obj.Size)
	}
	if obj.LineCount != 1000 {
		t.Errorf("LineCount = %d, want 1000", obj.LineCount)
	}

	got, err := database.ReadContent(ctx, hash)
	if err != nil {
		t.Fatalf("ReadContent() failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("ReadContent() returned different bytes after decompression")
	}
}

func TestContent_EmptyPayload(t *testing.T) {
	database, _ := setupTestDB(t)
	ctx := context.Background()

	hash := schema.Fingerprint(nil)
	if err := database.StoreContent(ctx, hash, nil); err != nil {
		t.Fatalf("StoreContent(nil) failed: %v", err)
	}
	got, err := database.ReadContent(ctx, hash)
	if err != nil {
		t.Fatalf("ReadContent() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadContent() = %q, want empty", got)
	}
}

func TestReadContent_NotFound(t *testing.T) {
	database, _ := setupTestDB(t)

	_, err := database.ReadContent(context.Background(), schema.Fingerprint([]byte("nope")))
	if !IsNotFound(err) {
		t.Errorf("ReadContent() error = %v, want ErrNotFound", err)
	}
}

func TestVNode_SaveAndGet(t *testing.T) {
	database, ws := setupTestDB(t)
	ctx := context.Background()

	node := schema.NewNode(ws.ID, "docs", schema.KindDirectory)
	node.SetMode(0o755)
	node.Metadata["origin"] = "test"
	if err := database.SaveVNode(ctx, node); err != nil {
		t.Fatalf("SaveVNode() failed: %v", err)
	}

	got, err := database.GetVNode(ctx, ws.ID, "/docs")
	if err != nil {
		t.Fatalf("GetVNode() failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetVNode() returned nil")
	}
	if got.ID != node.ID || got.Kind != schema.KindDirectory {
		t.Errorf("GetVNode() = %+v", got)
	}
	if got.Mode == nil || *got.Mode != 0o755 {
		t.Errorf("Mode = %v, want 0755", got.Mode)
	}
	if got.Metadata["origin"] != "test" {
		t.Errorf("Metadata = %v", got.Metadata)
	}

	missing, err := database.GetVNode(ctx, ws.ID, "nope")
	if err != nil {
		t.Fatalf("GetVNode(nope) failed: %v", err)
	}
	if missing != nil {
		t.Error("GetVNode(nope) should return nil")
	}

	if _, err := database.GetVNodeByID(ctx, "vn-missing"); !IsNotFound(err) {
		t.Errorf("GetVNodeByID() error = %v, want ErrNotFound", err)
	}
}

func TestVNode_SaveRejectsInvalid(t *testing.T) {
	database, ws := setupTestDB(t)

	node := schema.NewNode(ws.ID, "a.txt", schema.KindFile)
	node.Version = 0
	if err := database.SaveVNode(context.Background(), node); err == nil {
		t.Error("SaveVNode() should reject an invalid node")
	}
}

func TestVNode_SaveRejectsUnknownWorkspace(t *testing.T) {
	database, _ := setupTestDB(t)

	for i := 0; i < 5; i++ {
		node := schema.NewNode("ws-missing", "a.txt", schema.KindDirectory)
		if err := database.SaveVNode(context.Background(), node); err == nil {
			t.Fatalf("attempt %d: SaveVNode() should fail the workspace foreign key", i)
		}
	}
}

func TestQueryVNodesByStatus_Filters(t *testing.T) {
	database, ws := setupTestDB(t)
	ctx := context.Background()

	other := schema.NewWorkspace("other")
	if err := database.UpsertWorkspace(ctx, other); err != nil {
		t.Fatalf("UpsertWorkspace() failed: %v", err)
	}

	mk := func(wsID, path string, status schema.SyncStatus) *schema.VNode {
		n := schema.NewNode(wsID, path, schema.KindDirectory)
		n.Status = status
		if err := database.SaveVNode(ctx, n); err != nil {
			t.Fatalf("SaveVNode(%s) failed: %v", path, err)
		}
		return n
	}
	a := mk(ws.ID, "a", schema.StatusCreated)
	mk(ws.ID, "a/b", schema.StatusModified)
	mk(ws.ID, "ab", schema.StatusCreated)
	mk(ws.ID, "c", schema.StatusSynced)
	mk(other.ID, "a", schema.StatusCreated)

	tests := []struct {
		name  string
		query schema.NodeQuery
		want  []string
	}{
		{"pending in workspace", schema.NodeQuery{WorkspaceID: ws.ID, Statuses: schema.PendingStatuses}, []string{"a", "a/b", "ab"}},
		{"prefix stops at separator", schema.NodeQuery{WorkspaceID: ws.ID, PathPrefix: "a"}, []string{"a", "a/b"}},
		{"all workspaces", schema.NodeQuery{Statuses: []schema.SyncStatus{schema.StatusCreated}}, []string{"a", "a", "ab"}},
		{"ids", schema.NodeQuery{IDs: []string{a.ID}}, []string{"a"}},
		{"synced only", schema.NodeQuery{WorkspaceID: ws.ID, Statuses: []schema.SyncStatus{schema.StatusSynced}}, []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := database.QueryVNodesByStatus(ctx, tt.query)
			if err != nil {
				t.Fatalf("QueryVNodesByStatus() failed: %v", err)
			}
			var got []string
			for _, n := range nodes {
				got = append(got, n.Path)
			}
			sort.Strings(got)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("paths = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWriteFile_CreatesThenModifies(t *testing.T) {
	database, ws := setupTestDB(t)
	ctx := context.Background()

	node, err := database.WriteFile(ctx, ws.ID, "docs/intro.md", []byte("v1"))
	if err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if node.Status != schema.StatusCreated || node.Version != 1 {
		t.Errorf("after create: status=%s version=%d", node.Status, node.Version)
	}

	parent, err := database.GetVNode(ctx, ws.ID, "docs")
	if err != nil || parent == nil || parent.Kind != schema.KindDirectory {
		t.Fatalf("parent directory not created: %v %+v", err, parent)
	}

	// Pretend a flush happened.
	node.Status = schema.StatusSynced
	if err := database.SaveVNode(ctx, node); err != nil {
		t.Fatalf("SaveVNode() failed: %v", err)
	}

	node, err = database.WriteFile(ctx, ws.ID, "docs/intro.md", []byte("v2"))
	if err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if node.Status != schema.StatusModified || node.Version != 2 {
		t.Errorf("after modify: status=%s version=%d", node.Status, node.Version)
	}

	data, err := database.ReadFile(ctx, ws.ID, "docs/intro.md")
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("ReadFile() = %q, want v2", data)
	}

	if _, err := database.ReadFile(ctx, ws.ID, "docs"); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("ReadFile(dir) error = %v, want ErrKindMismatch", err)
	}
}

func TestRemoveFile_MarksSubtreeDeleted(t *testing.T) {
	database, ws := setupTestDB(t)
	ctx := context.Background()

	for _, p := range []string{"d/one.txt", "d/two.txt", "keep.txt"} {
		if _, err := database.WriteFile(ctx, ws.ID, p, []byte(p)); err != nil {
			t.Fatalf("WriteFile(%s) failed: %v", p, err)
		}
	}

	n, err := database.RemoveFile(ctx, ws.ID, "d")
	if err != nil {
		t.Fatalf("RemoveFile() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("RemoveFile() = %d, want 3", n)
	}

	exists, err := database.Exists(ctx, ws.ID, "d/one.txt")
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if exists {
		t.Error("Exists(d/one.txt) = true after removal")
	}
	if exists, _ := database.Exists(ctx, ws.ID, "keep.txt"); !exists {
		t.Error("Exists(keep.txt) = false")
	}

	if _, err := database.RemoveFile(ctx, ws.ID, "d"); !IsNotFound(err) {
		t.Errorf("second RemoveFile() error = %v, want ErrNotFound", err)
	}
}

func TestCreateDirectory(t *testing.T) {
	database, ws := setupTestDB(t)
	ctx := context.Background()

	if err := database.CreateDirectory(ctx, ws.ID, "a/b/c", false); !IsNotFound(err) {
		t.Errorf("non-recursive CreateDirectory() error = %v, want ErrNotFound", err)
	}
	if err := database.CreateDirectory(ctx, ws.ID, "a/b/c", true); err != nil {
		t.Fatalf("CreateDirectory() failed: %v", err)
	}
	if err := database.CreateDirectory(ctx, ws.ID, "a/b/c", true); err != nil {
		t.Errorf("repeated CreateDirectory() failed: %v", err)
	}
	if err := database.CreateDirectory(ctx, ws.ID, "a/b/d", false); err != nil {
		t.Errorf("CreateDirectory() with existing parent failed: %v", err)
	}

	if _, err := database.WriteFile(ctx, ws.ID, "f.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if err := database.CreateDirectory(ctx, ws.ID, "f.txt/sub", true); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("CreateDirectory() under a file error = %v, want ErrKindMismatch", err)
	}
}

func TestRefCounts_FollowNodes(t *testing.T) {
	database, ws := setupTestDB(t)
	ctx := context.Background()

	one := []byte("same bytes")
	hash := schema.Fingerprint(one)

	a, err := database.WriteFile(ctx, ws.ID, "a.txt", one)
	if err != nil {
		t.Fatalf("WriteFile(a) failed: %v", err)
	}
	if _, err := database.WriteFile(ctx, ws.ID, "b.txt", one); err != nil {
		t.Fatalf("WriteFile(b) failed: %v", err)
	}

	obj, err := database.GetContentObject(ctx, hash)
	if err != nil {
		t.Fatalf("GetContentObject() failed: %v", err)
	}
	if obj.RefCount != 2 {
		t.Errorf("RefCount = %d, want 2", obj.RefCount)
	}

	if err := database.DeleteVNode(ctx, a.ID); err != nil {
		t.Fatalf("DeleteVNode() failed: %v", err)
	}
	obj, _ = database.GetContentObject(ctx, hash)
	if obj.RefCount != 1 {
		t.Errorf("RefCount after delete = %d, want 1", obj.RefCount)
	}
}

func TestGarbageCollect_KeepsConflictArtifacts(t *testing.T) {
	database, ws := setupTestDB(t)
	ctx := context.Background()

	local := []byte("local edit")
	fsSide := []byte("filesystem edit")
	orphan := []byte("nobody points here")

	node, err := database.WriteFile(ctx, ws.ID, "c.txt", local)
	if err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	for _, data := range [][]byte{fsSide, orphan} {
		if err := database.StoreContent(ctx, schema.Fingerprint(data), data); err != nil {
			t.Fatalf("StoreContent() failed: %v", err)
		}
	}
	node.Status = schema.StatusConflict
	node.Metadata[schema.MetaFSContentHash] = schema.Fingerprint(fsSide)
	if err := database.SaveVNode(ctx, node); err != nil {
		t.Fatalf("SaveVNode() failed: %v", err)
	}

	removed, err := database.GarbageCollect(ctx)
	if err != nil {
		t.Fatalf("GarbageCollect() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("GarbageCollect() removed %d, want 1", removed)
	}

	if _, err := database.ReadContent(ctx, schema.Fingerprint(fsSide)); err != nil {
		t.Errorf("conflict artifact was collected: %v", err)
	}
	if _, err := database.ReadContent(ctx, schema.Fingerprint(orphan)); !IsNotFound(err) {
		t.Errorf("orphan survived: %v", err)
	}
}

func TestStatusCountsAndConflicts(t *testing.T) {
	database, ws := setupTestDB(t)
	ctx := context.Background()

	n, err := database.WriteFile(ctx, ws.ID, "x.txt", []byte("x"))
	if err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if _, err := database.WriteFile(ctx, ws.ID, "y.txt", []byte("y")); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	n.Status = schema.StatusConflict
	if err := database.SaveVNode(ctx, n); err != nil {
		t.Fatalf("SaveVNode() failed: %v", err)
	}

	counts, err := database.StatusCounts(ctx, ws.ID)
	if err != nil {
		t.Fatalf("StatusCounts() failed: %v", err)
	}
	if counts[schema.StatusCreated] != 1 || counts[schema.StatusConflict] != 1 {
		t.Errorf("StatusCounts() = %v", counts)
	}

	conflicts, err := database.ListConflicts(ctx, ws.ID)
	if err != nil {
		t.Fatalf("ListConflicts() failed: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Path != "x.txt" {
		t.Errorf("ListConflicts() = %v", conflicts)
	}
}
