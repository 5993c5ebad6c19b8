package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kwspace/kws/internal/vfs/schema"
)

// UpsertWorkspace inserts or updates a workspace and replaces its sources.
func (db *DB) UpsertWorkspace(ctx context.Context, ws *schema.Workspace) error {
	if err := ws.Validate(); err != nil {
		return fmt.Errorf("invalid workspace: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO workspaces (id, name, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query,
		ws.ID, ws.Name, formatTime(ws.CreatedAt), formatTime(ws.UpdatedAt),
	); err != nil {
		return fmt.Errorf("failed to upsert workspace %s: %w", ws.Name, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_sources WHERE workspace_id = ?`, ws.ID); err != nil {
		return fmt.Errorf("failed to clear sources of %s: %w", ws.Name, err)
	}
	for i, src := range ws.Sources {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_sources (workspace_id, position, kind, location, prefix)
		VALUES (?, ?, ?, ?, ?)`,
			ws.ID, i, string(src.Kind), src.Location, src.Prefix,
		); err != nil {
			return fmt.Errorf("failed to insert source %d of %s: %w", i, ws.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetWorkspace looks a workspace up by ID, falling back to its name.
// Returns ErrNotFound if neither matches.
func (db *DB) GetWorkspace(ctx context.Context, idOrName string) (*schema.Workspace, error) {
	var ws schema.Workspace
	var createdAt, updatedAt string
	err := db.conn.QueryRowContext(ctx, `
	SELECT id, name, created_at, updated_at FROM workspaces
	WHERE id = ? OR name = ?
	ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END
	LIMIT 1`, idOrName, idOrName, idOrName,
	).Scan(&ws.ID, &ws.Name, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workspace %q: %w", idOrName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	ws.CreatedAt = parseTime(createdAt)
	ws.UpdatedAt = parseTime(updatedAt)

	sources, err := db.getSources(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	ws.Sources = sources
	return &ws, nil
}

// ListWorkspaces returns all workspaces ordered by name.
func (db *DB) ListWorkspaces(ctx context.Context) ([]*schema.Workspace, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM workspaces ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*schema.Workspace
	for rows.Next() {
		var ws schema.Workspace
		var createdAt, updatedAt string
		if err := rows.Scan(&ws.ID, &ws.Name, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		ws.CreatedAt = parseTime(createdAt)
		ws.UpdatedAt = parseTime(updatedAt)
		out = append(out, &ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workspaces: %w", err)
	}

	for _, ws := range out {
		sources, err := db.getSources(ctx, ws.ID)
		if err != nil {
			return nil, err
		}
		ws.Sources = sources
	}
	return out, nil
}

func (db *DB) getSources(ctx context.Context, workspaceID string) ([]schema.SyncSource, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT kind, location, prefix FROM sync_sources
	WHERE workspace_id = ? ORDER BY position ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []schema.SyncSource
	for rows.Next() {
		var src schema.SyncSource
		var kind string
		if err := rows.Scan(&kind, &src.Location, &src.Prefix); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		src.Kind = schema.SourceKind(kind)
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}
	return sources, nil
}
