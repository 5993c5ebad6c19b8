package materialize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/kwspace/kws/internal/vfs/schema"
)

// memVFS is an in-memory VFS for engine tests.
type memVFS struct {
	mu      sync.Mutex
	content map[string][]byte
	nodes   map[string]*schema.VNode // workspace + "\x00" + path
	deleted []string
}

func newMemVFS() *memVFS {
	return &memVFS{
		content: make(map[string][]byte),
		nodes:   make(map[string]*schema.VNode),
	}
}

func nodeKey(workspaceID, path string) string {
	return workspaceID + "\x00" + path
}

func (m *memVFS) ReadFile(ctx context.Context, workspaceID, path string) ([]byte, error) {
	m.mu.Lock()
	node := m.nodes[nodeKey(workspaceID, path)]
	m.mu.Unlock()
	if node == nil || node.Status == schema.StatusDeleted {
		return nil, schema.ErrNotFound
	}
	if node.ContentHash == "" {
		return []byte{}, nil
	}
	return m.ReadContent(ctx, node.ContentHash)
}

func (m *memVFS) ReadContent(ctx context.Context, hash string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.content[hash]
	if !ok {
		return nil, schema.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memVFS) StoreContent(ctx context.Context, hash string, data []byte) error {
	if schema.Fingerprint(data) != hash {
		return errors.New("content does not match fingerprint")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.content[hash]; !ok {
		m.content[hash] = append([]byte(nil), data...)
	}
	return nil
}

func (m *memVFS) Exists(ctx context.Context, workspaceID, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.nodes[nodeKey(workspaceID, path)]
	return node != nil && node.Status != schema.StatusDeleted, nil
}

func (m *memVFS) GetVNode(ctx context.Context, workspaceID, path string) (*schema.VNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.nodes[nodeKey(workspaceID, path)]
	if node == nil {
		return nil, nil
	}
	return node.Clone(), nil
}

func (m *memVFS) SaveVNode(ctx context.Context, node *schema.VNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[nodeKey(node.WorkspaceID, node.Path)] = node.Clone()
	return nil
}

func (m *memVFS) DeleteVNode(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, node := range m.nodes {
		if node.ID == id {
			delete(m.nodes, key)
			m.deleted = append(m.deleted, node.Path)
		}
	}
	return nil
}

func (m *memVFS) QueryVNodesByStatus(ctx context.Context, q schema.NodeQuery) ([]*schema.VNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*schema.VNode
	for _, node := range m.nodes {
		if len(q.Statuses) > 0 && !containsStatus(q.Statuses, node.Status) {
			continue
		}
		if q.WorkspaceID != "" && node.WorkspaceID != q.WorkspaceID {
			continue
		}
		if q.PathPrefix != "" && node.Path != q.PathPrefix && !strings.HasPrefix(node.Path, q.PathPrefix+"/") {
			continue
		}
		if len(q.IDs) > 0 && !containsString(q.IDs, node.ID) {
			continue
		}
		out = append(out, node.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WorkspaceID != out[j].WorkspaceID {
			return out[i].WorkspaceID < out[j].WorkspaceID
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

func (m *memVFS) CreateDirectory(ctx context.Context, workspaceID, path string, recursive bool) error {
	cleaned, err := schema.CleanPath(path)
	if err != nil {
		return err
	}
	parts := strings.Split(cleaned, "/")
	for i := range parts {
		current := strings.Join(parts[:i+1], "/")
		existing, _ := m.GetVNode(ctx, workspaceID, current)
		if existing != nil {
			continue
		}
		if err := m.SaveVNode(ctx, schema.NewNode(workspaceID, current, schema.KindDirectory)); err != nil {
			return err
		}
	}
	return nil
}

func containsStatus(list []schema.SyncStatus, s schema.SyncStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// put stores a node with content and returns it.
func (m *memVFS) put(t *testing.T, ws, path string, kind schema.NodeKind, status schema.SyncStatus, data []byte) *schema.VNode {
	t.Helper()
	node := schema.NewNode(ws, path, kind)
	node.Status = status
	if kind.HasContent() {
		hash := schema.Fingerprint(data)
		if err := m.StoreContent(context.Background(), hash, data); err != nil {
			t.Fatalf("StoreContent(%s) failed: %v", path, err)
		}
		node.ContentHash = hash
		node.Size = int64(len(data))
	}
	if err := m.SaveVNode(context.Background(), node); err != nil {
		t.Fatalf("SaveVNode(%s) failed: %v", path, err)
	}
	return node
}

func (m *memVFS) get(t *testing.T, ws, path string) *schema.VNode {
	t.Helper()
	node, err := m.GetVNode(context.Background(), ws, path)
	if err != nil {
		t.Fatalf("GetVNode(%s) failed: %v", path, err)
	}
	return node
}

// faultFs fails every write to a file whose base name is in failNames.
type faultFs struct {
	afero.Fs
	failNames map[string]bool
}

var errInjected = errors.New("injected write failure")

func (f *faultFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE) != 0 && f.failNames[filepath.Base(name)] {
		return nil, &os.PathError{Op: "open", Path: name, Err: errInjected}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func (f *faultFs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, vfs VFS, fs afero.Fs) *Engine {
	t.Helper()
	return New(vfs, &Config{
		Fs:         fs,
		MaxWorkers: 4,
		Logger:     DiscardLogger(),
		Now:        func() time.Time { return fixedNow },
	})
}

func writeFile(t *testing.T, fs afero.Fs, name, content string) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := afero.WriteFile(fs, name, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) failed: %v", name, err)
	}
}

func readFile(t *testing.T, fs afero.Fs, name string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		t.Fatalf("ReadFile(%s) failed: %v", name, err)
	}
	return string(data)
}

func fileExists(t *testing.T, fs afero.Fs, name string) bool {
	t.Helper()
	ok, err := afero.Exists(fs, name)
	if err != nil {
		t.Fatalf("Exists(%s) failed: %v", name, err)
	}
	return ok
}
