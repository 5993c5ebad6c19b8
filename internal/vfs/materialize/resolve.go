package materialize

import (
	"context"
	"fmt"

	"github.com/kwspace/kws/internal/vfs/schema"
)

// Resolution picks the winning side of a conflict.
type Resolution int

const (
	// ResolveKeepLocal keeps the workspace content. The node becomes
	// Modified so the next flush overwrites the disk copy.
	ResolveKeepLocal Resolution = iota + 1

	// ResolveKeepFilesystem adopts the disk content recorded when the
	// conflict was detected. The node becomes Synced.
	ResolveKeepFilesystem
)

func (r Resolution) String() string {
	switch r {
	case ResolveKeepLocal:
		return "local"
	case ResolveKeepFilesystem:
		return "filesystem"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

// ParseResolution accepts "local" or "filesystem" (also "fs").
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "local", "workspace":
		return ResolveKeepLocal, nil
	case "filesystem", "fs", "disk":
		return ResolveKeepFilesystem, nil
	default:
		return 0, fmt.Errorf("unknown resolution %q (want local or filesystem)", s)
	}
}

// ResolveConflict settles a node in Conflict status. The engine never does
// this on its own; it is the hook for an external actor such as the CLI.
func (e *Engine) ResolveConflict(ctx context.Context, workspaceID, path string, choice Resolution) (*schema.VNode, error) {
	vpath, err := schema.CleanPath(path)
	if err != nil {
		return nil, newError(KindInvalidInput, "resolve", path, err)
	}
	node, err := e.vfs.GetVNode(ctx, workspaceID, vpath)
	if err != nil {
		return nil, vfsError("resolve", vpath, err)
	}
	if node == nil {
		return nil, newError(KindNotFound, "resolve", vpath, schema.ErrNotFound)
	}
	if !node.InConflict() {
		return nil, invalidInput("resolve", vpath, "node is %s, not in conflict", node.Status)
	}

	switch choice {
	case ResolveKeepLocal:
		node.Status = schema.StatusModified
		node.Version++
		node.Touch()

	case ResolveKeepFilesystem:
		hash := node.Metadata[schema.MetaFSContentHash]
		if hash == "" {
			return nil, invalidInput("resolve", vpath, "conflict has no recorded filesystem content")
		}
		data, err := e.vfs.ReadContent(ctx, hash)
		if err != nil {
			return nil, vfsError("resolve", vpath, err)
		}
		node.ApplyContent(hash, int64(len(data)))
		node.Status = schema.StatusSynced

	default:
		return nil, invalidInput("resolve", vpath, "unknown resolution %d", int(choice))
	}

	delete(node.Metadata, schema.MetaFSContentHash)
	delete(node.Metadata, schema.MetaConflictDetectedAt)
	if err := e.vfs.SaveVNode(ctx, node); err != nil {
		return nil, vfsError("resolve", vpath, err)
	}
	e.logger.Printf("Resolved conflict on %s in favor of %s", vpath, choice)
	return node, nil
}
