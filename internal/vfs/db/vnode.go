package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kwspace/kws/internal/vfs/schema"
)

const vnodeColumns = `id, workspace_id, path, kind, content_hash, size, mode,
	status, version, metadata, created_at, updated_at, accessed_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// SaveVNode inserts or updates a full node record.
//
// Reference counts of the content objects the node points at (its content
// hash and any conflict artifact in metadata) are adjusted in the same
// transaction.
func (db *DB) SaveVNode(ctx context.Context, node *schema.VNode) error {
	if err := node.Validate(); err != nil {
		return fmt.Errorf("invalid node: %w", err)
	}

	metaJSON, err := json.Marshal(node.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	oldRefs, err := currentRefs(ctx, tx, node.ID)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO vnodes (` + vnodeColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		workspace_id = excluded.workspace_id,
		path = excluded.path,
		kind = excluded.kind,
		content_hash = excluded.content_hash,
		size = excluded.size,
		mode = excluded.mode,
		status = excluded.status,
		version = excluded.version,
		metadata = excluded.metadata,
		updated_at = excluded.updated_at,
		accessed_at = excluded.accessed_at
	`
	_, err = tx.ExecContext(ctx, query,
		node.ID,
		node.WorkspaceID,
		node.Path,
		node.Kind.String(),
		stringToNull(node.ContentHash),
		node.Size,
		modeToNull(node.Mode),
		string(node.Status),
		node.Version,
		string(metaJSON),
		formatTime(node.CreatedAt),
		formatTime(node.UpdatedAt),
		formatTime(node.AccessedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save node %s: %w", node.Path, err)
	}

	if err := adjustRefs(ctx, tx, oldRefs, nodeRefs(node)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteVNode purges a node record and releases its content references.
// Returns nil if the node doesn't exist (idempotent).
func (db *DB) DeleteVNode(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	oldRefs, err := currentRefs(ctx, tx, id)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vnodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete node %s: %w", id, err)
	}

	if err := adjustRefs(ctx, tx, oldRefs, nil); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetVNode returns the node at path in the workspace, or nil if there is none.
func (db *DB) GetVNode(ctx context.Context, workspaceID, path string) (*schema.VNode, error) {
	cleaned, err := schema.CleanPath(path)
	if err != nil {
		return nil, err
	}
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+vnodeColumns+` FROM vnodes WHERE workspace_id = ? AND path = ?`,
		workspaceID, cleaned)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

// GetVNodeByID returns a node by ID.
// Returns ErrNotFound if the node does not exist.
func (db *DB) GetVNodeByID(ctx context.Context, id string) (*schema.VNode, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+vnodeColumns+` FROM vnodes WHERE id = ?`, id)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

// QueryVNodesByStatus returns nodes matching the query, ordered by path.
func (db *DB) QueryVNodesByStatus(ctx context.Context, q schema.NodeQuery) ([]*schema.VNode, error) {
	var conditions []string
	var args []any

	if len(q.Statuses) > 0 {
		conditions = append(conditions, "status IN ("+placeholders(len(q.Statuses))+")")
		for _, s := range q.Statuses {
			args = append(args, string(s))
		}
	}

	if q.WorkspaceID != "" {
		conditions = append(conditions, "workspace_id = ?")
		args = append(args, q.WorkspaceID)
	}

	if q.PathPrefix != "" {
		prefix, err := schema.CleanPath(q.PathPrefix)
		if err != nil {
			return nil, err
		}
		if prefix != "" {
			conditions = append(conditions, `(path = ? OR path LIKE ? ESCAPE '\')`)
			args = append(args, prefix, escapeLike(prefix)+"/%")
		}
	}

	if len(q.IDs) > 0 {
		conditions = append(conditions, "id IN ("+placeholders(len(q.IDs))+")")
		for _, id := range q.IDs {
			args = append(args, id)
		}
	}

	query := `SELECT ` + vnodeColumns + ` FROM vnodes`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY workspace_id ASC, path ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// ListVNodes returns every node of a workspace, ordered by path.
func (db *DB) ListVNodes(ctx context.Context, workspaceID string) ([]*schema.VNode, error) {
	return db.QueryVNodesByStatus(ctx, schema.NodeQuery{WorkspaceID: workspaceID})
}

// ListConflicts returns the nodes of a workspace awaiting resolution.
func (db *DB) ListConflicts(ctx context.Context, workspaceID string) ([]*schema.VNode, error) {
	return db.QueryVNodesByStatus(ctx, schema.NodeQuery{
		WorkspaceID: workspaceID,
		Statuses:    []schema.SyncStatus{schema.StatusConflict},
	})
}

// StatusCounts returns the number of nodes per status in a workspace.
// An empty workspaceID counts across all workspaces.
func (db *DB) StatusCounts(ctx context.Context, workspaceID string) (map[schema.SyncStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM vnodes`
	var args []any
	if workspaceID != "" {
		query += ` WHERE workspace_id = ?`
		args = append(args, workspaceID)
	}
	query += ` GROUP BY status`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[schema.SyncStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[schema.SyncStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

func scanNodes(rows *sql.Rows) ([]*schema.VNode, error) {
	var nodes []*schema.VNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}
	return nodes, nil
}

func scanNode(row rowScanner) (*schema.VNode, error) {
	var node schema.VNode
	var kind, status string
	var contentHash, metaJSON sql.NullString
	var mode sql.NullInt64
	var createdAt, updatedAt, accessedAt string

	err := row.Scan(
		&node.ID,
		&node.WorkspaceID,
		&node.Path,
		&kind,
		&contentHash,
		&node.Size,
		&mode,
		&status,
		&node.Version,
		&metaJSON,
		&createdAt,
		&updatedAt,
		&accessedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}

	if node.Kind, err = schema.ParseNodeKind(kind); err != nil {
		return nil, fmt.Errorf("node %s: %w", node.ID, err)
	}
	if node.Status, err = schema.ParseSyncStatus(status); err != nil {
		return nil, fmt.Errorf("node %s: %w", node.ID, err)
	}
	node.ContentHash = contentHash.String
	if mode.Valid {
		node.SetMode(uint32(mode.Int64))
	}

	node.Metadata = map[string]string{}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &node.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata of %s: %w", node.ID, err)
		}
	}

	node.CreatedAt = parseTime(createdAt)
	node.UpdatedAt = parseTime(updatedAt)
	node.AccessedAt = parseTime(accessedAt)
	return &node, nil
}

// nodeRefs lists the content objects a node keeps alive.
func nodeRefs(node *schema.VNode) []string {
	var refs []string
	if node.ContentHash != "" {
		refs = append(refs, node.ContentHash)
	}
	if h := node.Metadata[schema.MetaFSContentHash]; h != "" {
		refs = append(refs, h)
	}
	return refs
}

func currentRefs(ctx context.Context, tx *sql.Tx, id string) ([]string, error) {
	var contentHash, metaJSON sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT content_hash, metadata FROM vnodes WHERE id = ?`, id,
	).Scan(&contentHash, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read references of %s: %w", id, err)
	}

	node := &schema.VNode{ContentHash: contentHash.String, Metadata: map[string]string{}}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &node.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata of %s: %w", id, err)
		}
	}
	return nodeRefs(node), nil
}

// adjustRefs applies the difference between two reference lists.
func adjustRefs(ctx context.Context, tx *sql.Tx, before, after []string) error {
	delta := make(map[string]int)
	for _, h := range before {
		delta[h]--
	}
	for _, h := range after {
		delta[h]++
	}
	for hash, d := range delta {
		if d == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE content_objects SET ref_count = MAX(ref_count + ?, 0) WHERE hash = ?`, d, hash,
		); err != nil {
			return fmt.Errorf("failed to adjust references of %s: %w", shortHash(hash), err)
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func stringToNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func modeToNull(mode *uint32) sql.NullInt64 {
	if mode == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*mode), Valid: true}
}
