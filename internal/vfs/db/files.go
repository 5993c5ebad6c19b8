package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/kwspace/kws/internal/vfs/schema"
)

// Exists reports whether a live (not Deleted) node exists at path.
func (db *DB) Exists(ctx context.Context, workspaceID, path string) (bool, error) {
	node, err := db.GetVNode(ctx, workspaceID, path)
	if err != nil {
		return false, err
	}
	return node != nil && node.Status != schema.StatusDeleted, nil
}

// ReadFile returns the content of the file or document at path.
// Returns ErrNotFound if there is no live node, ErrKindMismatch if the node
// has no content kind.
func (db *DB) ReadFile(ctx context.Context, workspaceID, path string) ([]byte, error) {
	node, err := db.GetVNode(ctx, workspaceID, path)
	if err != nil {
		return nil, err
	}
	if node == nil || node.Status == schema.StatusDeleted {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if !node.Kind.HasContent() {
		return nil, fmt.Errorf("%s is a %s: %w", path, node.Kind, ErrKindMismatch)
	}
	if node.ContentHash == "" {
		return []byte{}, nil
	}
	return db.ReadContent(ctx, node.ContentHash)
}

// WriteFile records a virtual edit: the content is stored and the node at
// path is created (status Created) or updated (status Modified, version+1).
// Missing parent directories are created.
func (db *DB) WriteFile(ctx context.Context, workspaceID, path string, data []byte) (*schema.VNode, error) {
	cleaned, err := schema.CleanPath(path)
	if err != nil {
		return nil, err
	}
	if cleaned == "" {
		return nil, fmt.Errorf("cannot write to the workspace root")
	}

	hash := schema.Fingerprint(data)
	if err := db.StoreContent(ctx, hash, data); err != nil {
		return nil, err
	}

	if parent := schema.ParentPath(cleaned); parent != "" {
		if err := db.CreateDirectory(ctx, workspaceID, parent, true); err != nil {
			return nil, err
		}
	}

	node, err := db.GetVNode(ctx, workspaceID, cleaned)
	if err != nil {
		return nil, err
	}

	switch {
	case node == nil:
		node = schema.NewNode(workspaceID, cleaned, schema.KindFile)
		node.ContentHash = hash
		node.Size = int64(len(data))
	case !node.Kind.HasContent():
		return nil, fmt.Errorf("%s is a %s: %w", cleaned, node.Kind, ErrKindMismatch)
	case node.Status == schema.StatusDeleted:
		node.ApplyContent(hash, int64(len(data)))
		node.Status = schema.StatusModified
	default:
		if !node.ApplyContent(hash, int64(len(data))) {
			return node, nil
		}
		// Created stays Created until the first flush; Conflict stays
		// Conflict until someone resolves it.
		if node.Status == schema.StatusSynced {
			node.Status = schema.StatusModified
		}
	}

	if err := db.SaveVNode(ctx, node); err != nil {
		return nil, err
	}
	return node, nil
}

// RemoveFile marks the node at path, and everything below it, Deleted.
// Returns ErrNotFound if there is no live node at path.
func (db *DB) RemoveFile(ctx context.Context, workspaceID, path string) (int, error) {
	cleaned, err := schema.CleanPath(path)
	if err != nil {
		return 0, err
	}
	if cleaned == "" {
		return 0, fmt.Errorf("cannot remove the workspace root")
	}

	nodes, err := db.QueryVNodesByStatus(ctx, schema.NodeQuery{
		WorkspaceID: workspaceID,
		PathPrefix:  cleaned,
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, node := range nodes {
		if node.Status == schema.StatusDeleted {
			continue
		}
		node.Status = schema.StatusDeleted
		node.Touch()
		if err := db.SaveVNode(ctx, node); err != nil {
			return removed, err
		}
		removed++
	}
	if removed == 0 {
		return 0, fmt.Errorf("%s: %w", cleaned, ErrNotFound)
	}
	return removed, nil
}

// CreateDirectory creates a directory node at path. With recursive set,
// missing ancestors are created too; otherwise the parent must exist.
// Creating an existing directory is a no-op.
func (db *DB) CreateDirectory(ctx context.Context, workspaceID, path string, recursive bool) error {
	cleaned, err := schema.CleanPath(path)
	if err != nil {
		return err
	}
	if cleaned == "" {
		return nil
	}

	parts := strings.Split(cleaned, "/")
	for i := range parts {
		current := strings.Join(parts[:i+1], "/")
		isTarget := i == len(parts)-1

		node, err := db.GetVNode(ctx, workspaceID, current)
		if err != nil {
			return err
		}
		if node != nil && node.Status != schema.StatusDeleted {
			if node.Kind != schema.KindDirectory {
				return fmt.Errorf("%s is a %s: %w", current, node.Kind, ErrKindMismatch)
			}
			continue
		}
		if !isTarget && !recursive {
			return fmt.Errorf("parent directory %s: %w", current, ErrNotFound)
		}

		if node == nil {
			node = schema.NewNode(workspaceID, current, schema.KindDirectory)
		} else {
			if node.Kind != schema.KindDirectory {
				return fmt.Errorf("%s is a deleted %s: %w", current, node.Kind, ErrKindMismatch)
			}
			node.Status = schema.StatusModified
			node.Touch()
		}
		if err := db.SaveVNode(ctx, node); err != nil {
			return err
		}
	}
	return nil
}
