package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/kwspace/kws/internal/vfs/schema"
)

// Manifest declares workspaces and their sources, usually in
// workspaces.toml:
//
//	[[workspace]]
//	name = "app"
//
//	[[workspace.source]]
//	kind = "local_path"
//	location = "./app"
//	prefix = ""
type Manifest struct {
	Workspaces []WorkspaceEntry `toml:"workspace"`
}

// WorkspaceEntry is one declared workspace.
type WorkspaceEntry struct {
	Name    string              `toml:"name"`
	Sources []schema.SyncSource `toml:"source"`
}

// WorkspaceStore is the part of the store the manifest import needs.
type WorkspaceStore interface {
	GetWorkspace(ctx context.Context, idOrName string) (*schema.Workspace, error)
	UpsertWorkspace(ctx context.Context, ws *schema.Workspace) error
}

// LoadManifest parses a manifest file. Unknown keys are rejected and
// relative local_path locations are resolved against the manifest's
// directory.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("manifest %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest directory: %w", err)
	}
	for i := range m.Workspaces {
		for j := range m.Workspaces[i].Sources {
			src := &m.Workspaces[i].Sources[j]
			if src.Kind == "" {
				src.Kind = schema.SourceLocalPath
			}
			if src.Kind == schema.SourceLocalPath && src.Location != "" && !filepath.IsAbs(src.Location) {
				src.Location = filepath.Join(base, src.Location)
			}
		}
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks names are present and unique and that every source is
// well formed.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Workspaces))
	for i, entry := range m.Workspaces {
		if entry.Name == "" {
			return fmt.Errorf("workspace %d: name is required", i)
		}
		if seen[entry.Name] {
			return fmt.Errorf("workspace %q declared twice", entry.Name)
		}
		seen[entry.Name] = true

		probe := schema.Workspace{ID: "probe", Name: entry.Name, Sources: entry.Sources}
		if err := probe.Validate(); err != nil {
			return fmt.Errorf("workspace %q: %w", entry.Name, err)
		}
	}
	return nil
}

// Import creates or updates every declared workspace. Existing workspaces
// keep their ID and have their sources replaced.
func (m *Manifest) Import(ctx context.Context, store WorkspaceStore) ([]*schema.Workspace, error) {
	out := make([]*schema.Workspace, 0, len(m.Workspaces))
	for _, entry := range m.Workspaces {
		ws, err := store.GetWorkspace(ctx, entry.Name)
		switch {
		case errors.Is(err, schema.ErrNotFound):
			ws = schema.NewWorkspace(entry.Name)
		case err != nil:
			return out, fmt.Errorf("failed to look up workspace %s: %w", entry.Name, err)
		}

		ws.Sources = append([]schema.SyncSource(nil), entry.Sources...)
		if err := store.UpsertWorkspace(ctx, ws); err != nil {
			return out, fmt.Errorf("failed to import workspace %s: %w", entry.Name, err)
		}
		out = append(out, ws)
	}
	return out, nil
}
