package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kwspace/kws/internal/vfs/db"
	"github.com/kwspace/kws/internal/vfs/schema"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return database
}

func TestLoadManifest(t *testing.T) {
	path := writeConfig(t, "workspaces.toml", `
[[workspace]]
name = "app"

[[workspace.source]]
kind = "local_path"
location = "src/app"

[[workspace.source]]
location = "/abs/docs"
prefix = "docs"

[[workspace]]
name = "remote"

[[workspace.source]]
kind = "remote_repository"
location = "https://example.com/repo.git"
`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() failed: %v", err)
	}
	if len(m.Workspaces) != 2 {
		t.Fatalf("got %d workspaces, want 2", len(m.Workspaces))
	}

	app := m.Workspaces[0]
	if want := filepath.Join(filepath.Dir(path), "src", "app"); app.Sources[0].Location != want {
		t.Errorf("relative location = %q, want %q", app.Sources[0].Location, want)
	}
	if app.Sources[1].Kind != schema.SourceLocalPath {
		t.Errorf("default kind = %q, want local_path", app.Sources[1].Kind)
	}
	if app.Sources[1].Prefix != "docs" {
		t.Errorf("prefix = %q", app.Sources[1].Prefix)
	}
	if got := m.Workspaces[1].Sources[0].Location; got != "https://example.com/repo.git" {
		t.Errorf("remote location rewritten to %q", got)
	}
}

func TestLoadManifest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown key", "[[workspace]]\nname = \"a\"\ncolour = \"red\"\n", "unknown keys"},
		{"missing name", "[[workspace]]\n", "name is required"},
		{"duplicate", "[[workspace]]\nname = \"a\"\n[[workspace]]\nname = \"a\"\n", "declared twice"},
		{"bad kind", "[[workspace]]\nname = \"a\"\n[[workspace.source]]\nkind = \"ftp\"\nlocation = \"x\"\n", "unknown kind"},
		{"escaping prefix", "[[workspace]]\nname = \"a\"\n[[workspace.source]]\nlocation = \"/x\"\nprefix = \"../up\"\n", "workspace \"a\""},
		{"syntax", "[[workspace]\n", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "workspaces.toml", tt.content)
			_, err := LoadManifest(path)
			if err == nil {
				t.Fatal("LoadManifest() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestManifest_Import(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	existing := schema.NewWorkspace("app")
	if err := database.UpsertWorkspace(ctx, existing); err != nil {
		t.Fatalf("UpsertWorkspace() failed: %v", err)
	}

	m := &Manifest{Workspaces: []WorkspaceEntry{
		{Name: "app", Sources: []schema.SyncSource{{Kind: schema.SourceLocalPath, Location: "/srv/app"}}},
		{Name: "docs", Sources: []schema.SyncSource{{Kind: schema.SourceLocalPath, Location: "/srv/docs", Prefix: "site"}}},
	}}

	imported, err := m.Import(ctx, database)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if len(imported) != 2 {
		t.Fatalf("imported %d workspaces, want 2", len(imported))
	}
	if imported[0].ID != existing.ID {
		t.Errorf("existing workspace got new ID %s, want %s", imported[0].ID, existing.ID)
	}

	app, err := database.GetWorkspace(ctx, "app")
	if err != nil {
		t.Fatalf("GetWorkspace(app) failed: %v", err)
	}
	if len(app.Sources) != 1 || app.Sources[0].Location != "/srv/app" {
		t.Errorf("app sources = %+v", app.Sources)
	}

	docs, err := database.GetWorkspace(ctx, "docs")
	if err != nil {
		t.Fatalf("GetWorkspace(docs) failed: %v", err)
	}
	if docs.Sources[0].Prefix != "site" {
		t.Errorf("docs prefix = %q", docs.Sources[0].Prefix)
	}

	// Importing again is idempotent.
	if _, err := m.Import(ctx, database); err != nil {
		t.Fatalf("second Import() failed: %v", err)
	}
	all, err := database.ListWorkspaces(ctx)
	if err != nil {
		t.Fatalf("ListWorkspaces() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d workspaces after re-import, want 2", len(all))
	}
}
