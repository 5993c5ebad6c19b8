package materialize

import (
	"context"

	"github.com/kwspace/kws/internal/vfs/schema"
)

// VFS is the slice of the virtual file store the engine depends on.
//
// The engine never talks to a database directly; *db.DB satisfies this
// interface, and tests use an in-memory implementation. Implementations
// must be safe for concurrent use because the flush write phase reads
// content from several goroutines.
//
// Misses are reported by wrapping schema.ErrNotFound, except GetVNode which
// returns (nil, nil) for an absent path.
type VFS interface {
	// ReadFile returns the content of the live file at path.
	ReadFile(ctx context.Context, workspaceID, path string) ([]byte, error)

	// ReadContent returns the bytes stored under a fingerprint.
	ReadContent(ctx context.Context, hash string) ([]byte, error)

	// StoreContent stores data under its fingerprint. Storing the same
	// fingerprint twice is a no-op.
	StoreContent(ctx context.Context, hash string, data []byte) error

	// Exists reports whether a live node exists at path.
	Exists(ctx context.Context, workspaceID, path string) (bool, error)

	// GetVNode returns the node at path, or nil if there is none.
	GetVNode(ctx context.Context, workspaceID, path string) (*schema.VNode, error)

	// SaveVNode inserts or replaces a node.
	SaveVNode(ctx context.Context, node *schema.VNode) error

	// DeleteVNode purges a node record. Deleting a missing node is a no-op.
	DeleteVNode(ctx context.Context, id string) error

	// QueryVNodesByStatus returns the nodes matching q, ordered by path.
	QueryVNodesByStatus(ctx context.Context, q schema.NodeQuery) ([]*schema.VNode, error)

	// CreateDirectory creates a directory node, and its ancestors when
	// recursive is set. Creating an existing directory is a no-op.
	CreateDirectory(ctx context.Context, workspaceID, path string, recursive bool) error
}

// Observer receives engine events. Implementations must not block: they are
// called synchronously from Flush and SyncFromFilesystem.
type Observer interface {
	// FlushCompleted is called once per Flush, with the error Flush returns.
	FlushCompleted(report *FlushReport, err error)

	// SyncCompleted is called once per SyncFromFilesystem.
	SyncCompleted(workspaceID string, report *SyncReport, err error)

	// ConflictDetected is called for every node moved to Conflict.
	ConflictDetected(node *schema.VNode)
}

// NopObserver ignores all events. Embed it to implement a subset of Observer.
type NopObserver struct{}

func (NopObserver) FlushCompleted(*FlushReport, error)       {}
func (NopObserver) SyncCompleted(string, *SyncReport, error) {}
func (NopObserver) ConflictDetected(*schema.VNode)           {}
