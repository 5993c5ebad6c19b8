package materialize

import (
	"fmt"
	"strings"

	"github.com/kwspace/kws/internal/vfs/schema"
)

// parallelThreshold is the number of create/update items above which a
// parallel flush actually fans out.
const parallelThreshold = 10

// DefaultMaxDepth bounds the sync walk.
const DefaultMaxDepth = 64

// DefaultExcludePatterns are skipped by SyncFromFilesystem unless the caller
// supplies its own list.
var DefaultExcludePatterns = []string{
	"node_modules",
	".git",
	"__pycache__",
	"**.pyc",
	".DS_Store",
}

// FlushOptions control Flush.
type FlushOptions struct {
	// PreservePermissions applies each node's mode bits after writing.
	PreservePermissions bool

	// PreserveTimestamps is accepted for compatibility; timestamps are not
	// applied to physical files.
	PreserveTimestamps bool

	// CreateBackup copies the target tree aside before any mutation.
	CreateBackup bool

	// Atomic stops at the first failure and restores the backup, if one
	// was taken.
	Atomic bool

	// Parallel writes files concurrently when there are more than ten.
	Parallel bool

	// MaxWorkers bounds concurrent writes. Zero means the engine default.
	MaxWorkers int
}

// DefaultFlushOptions returns the options used by the CLI and the daemon.
func DefaultFlushOptions() FlushOptions {
	return FlushOptions{
		PreservePermissions: true,
		PreserveTimestamps:  true,
		Parallel:            true,
	}
}

// SyncOptions control SyncFromFilesystem.
type SyncOptions struct {
	// SkipHidden skips entries whose name starts with a dot.
	SkipHidden bool

	// FollowSymlinks records symlinks as symlink nodes. Links are never
	// traversed. Without it symlinks are skipped.
	FollowSymlinks bool

	// MaxDepth stops descending below this many directory levels.
	MaxDepth int

	// AutoResolveConflicts lets the filesystem version win over unflushed
	// virtual edits instead of marking the node Conflict.
	AutoResolveConflicts bool

	// ExcludePatterns are matched against the workspace-relative virtual
	// path with MatchesPattern.
	ExcludePatterns []string
}

// DefaultSyncOptions returns SkipHidden, MaxDepth 64 and the default
// exclusion list.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		SkipHidden:      true,
		MaxDepth:        DefaultMaxDepth,
		ExcludePatterns: append([]string(nil), DefaultExcludePatterns...),
	}
}

// Scope selects the nodes a flush considers.
type Scope struct {
	WorkspaceID string
	PathPrefix  string

	// IDs restricts the scope to these nodes. A non-nil empty list selects
	// nothing.
	IDs []string

	byID bool
}

// ScopeAll selects every pending node in every workspace.
func ScopeAll() Scope { return Scope{} }

// ScopeWorkspace selects the pending nodes of one workspace.
func ScopeWorkspace(workspaceID string) Scope {
	return Scope{WorkspaceID: workspaceID}
}

// ScopePath selects the pending nodes at or below prefix. An empty
// workspaceID matches the prefix in every workspace.
func ScopePath(workspaceID, prefix string) Scope {
	return Scope{WorkspaceID: workspaceID, PathPrefix: prefix}
}

// ScopeIDs selects specific nodes. With no ids it selects nothing.
func ScopeIDs(ids ...string) Scope {
	return Scope{IDs: ids, byID: true}
}

func (s Scope) matchesNothing() bool {
	return (s.byID || s.IDs != nil) && len(s.IDs) == 0
}

func (s Scope) query() (schema.NodeQuery, error) {
	prefix, err := schema.CleanPath(s.PathPrefix)
	if err != nil {
		return schema.NodeQuery{}, err
	}
	return schema.NodeQuery{
		Statuses:    schema.PendingStatuses,
		WorkspaceID: s.WorkspaceID,
		PathPrefix:  prefix,
		IDs:         s.IDs,
	}, nil
}

func (s Scope) String() string {
	var parts []string
	if s.WorkspaceID != "" {
		parts = append(parts, "workspace="+s.WorkspaceID)
	}
	if s.PathPrefix != "" {
		parts = append(parts, "path="+s.PathPrefix)
	}
	if s.byID || s.IDs != nil {
		parts = append(parts, fmt.Sprintf("ids=%d", len(s.IDs)))
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, " ")
}
