package schema

import (
	"fmt"
	"time"
)

// SourceKind is the type of a workspace synchronization source.
type SourceKind string

const (
	// SourceLocalPath mirrors a directory on the local filesystem.
	SourceLocalPath SourceKind = "local_path"
	// SourceRemoteRepository is a remote repository; not handled by the engine.
	SourceRemoteRepository SourceKind = "remote_repository"
	// SourceArchive is an imported archive; not handled by the engine.
	SourceArchive SourceKind = "archive"
)

// SyncSource is one place a workspace's content comes from.
type SyncSource struct {
	Kind     SourceKind `json:"kind" toml:"kind"`
	Location string     `json:"location" toml:"location"`
	// Prefix is the virtual path the source is mapped under ("" = root).
	Prefix string `json:"prefix,omitempty" toml:"prefix"`
}

// Workspace is a named container of virtual nodes.
type Workspace struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Sources   []SyncSource `json:"sources,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewWorkspace returns a workspace with a fresh ID.
func NewWorkspace(name string) *Workspace {
	now := time.Now().UTC()
	return &Workspace{
		ID:        NewID("ws"),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the workspace fields and its sources.
func (w *Workspace) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("id is required")
	}
	if w.Name == "" {
		return fmt.Errorf("name is required")
	}
	for i, src := range w.Sources {
		switch src.Kind {
		case SourceLocalPath, SourceRemoteRepository, SourceArchive:
		default:
			return fmt.Errorf("source %d: unknown kind %q", i, src.Kind)
		}
		if src.Location == "" {
			return fmt.Errorf("source %d: location is required", i)
		}
		if _, err := CleanPath(src.Prefix); err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
	}
	return nil
}

// LocalSources returns the sources the engine can reconcile.
func (w *Workspace) LocalSources() []SyncSource {
	var out []SyncSource
	for _, src := range w.Sources {
		if src.Kind == SourceLocalPath {
			out = append(out, src)
		}
	}
	return out
}

// NodeQuery filters nodes by status and scope. Empty fields do not filter.
type NodeQuery struct {
	Statuses    []SyncStatus
	WorkspaceID string
	// PathPrefix matches the node at the prefix and everything below it.
	PathPrefix string
	IDs        []string
}
