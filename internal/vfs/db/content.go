package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/kwspace/kws/internal/vfs/schema"
)

// compressThreshold is the smallest payload worth trying to compress.
const compressThreshold = 4 << 10

var (
	// EncodeAll and DecodeAll are safe for concurrent use.
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// StoreContent writes data under its fingerprint.
//
// The write is idempotent: storing the same bytes twice keeps one object.
// The reference count is not touched here; it follows the nodes that point
// at the object (see SaveVNode).
func (db *DB) StoreContent(ctx context.Context, hash string, data []byte) error {
	if got := schema.Fingerprint(data); got != hash {
		return fmt.Errorf("%w: stored under %s, hashes to %s", ErrContentMismatch, hash, got)
	}

	obj := schema.NewContentObject(data)
	payload := data
	if payload == nil {
		payload = []byte{}
	}
	if len(data) >= compressThreshold {
		if compressed := zstdEncoder.EncodeAll(data, nil); len(compressed) < len(data) {
			payload = compressed
			obj.Compression = schema.CompressionZstd
			obj.StoredSize = int64(len(compressed))
		}
	}

	query := `
	INSERT INTO content_objects (hash, data, size, stored_size, line_count, compression, ref_count, created_at)
	VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	ON CONFLICT(hash) DO NOTHING
	`
	_, err := db.conn.ExecContext(ctx, query,
		obj.Hash,
		payload,
		obj.Size,
		obj.StoredSize,
		obj.LineCount,
		obj.Compression,
		formatTime(obj.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store content %s: %w", shortHash(hash), err)
	}
	return nil
}

// ReadContent returns the bytes stored under hash.
// Returns ErrNotFound if no such object exists.
func (db *DB) ReadContent(ctx context.Context, hash string) ([]byte, error) {
	var payload []byte
	var compression string
	err := db.conn.QueryRowContext(ctx,
		`SELECT data, compression FROM content_objects WHERE hash = ?`, hash,
	).Scan(&payload, &compression)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content %s: %w", shortHash(hash), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read content %s: %w", shortHash(hash), err)
	}

	switch compression {
	case schema.CompressionNone:
		if payload == nil {
			payload = []byte{}
		}
		return payload, nil
	case schema.CompressionZstd:
		data, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress content %s: %w", shortHash(hash), err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("content %s uses unknown compression %q", shortHash(hash), compression)
	}
}

// GetContentObject returns the metadata of a stored object.
func (db *DB) GetContentObject(ctx context.Context, hash string) (*schema.ContentObject, error) {
	var obj schema.ContentObject
	var createdAt string
	err := db.conn.QueryRowContext(ctx, `
	SELECT hash, size, stored_size, line_count, compression, ref_count, created_at
	FROM content_objects WHERE hash = ?`, hash,
	).Scan(&obj.Hash, &obj.Size, &obj.StoredSize, &obj.LineCount, &obj.Compression, &obj.RefCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content %s: %w", shortHash(hash), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content object: %w", err)
	}
	obj.CreatedAt = parseTime(createdAt)
	return &obj, nil
}

// GarbageCollect recomputes reference counts from the node table and
// deletes objects nothing points at. Conflict artifacts referenced through
// the fs_content_hash metadata key count as references.
// Returns the number of objects removed.
func (db *DB) GarbageCollect(ctx context.Context) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	recount := `
	UPDATE content_objects SET ref_count = (
		SELECT COUNT(*) FROM vnodes WHERE vnodes.content_hash = content_objects.hash
	) + (
		SELECT COUNT(*) FROM vnodes
		WHERE json_extract(vnodes.metadata, '$.` + schema.MetaFSContentHash + `') = content_objects.hash
	)
	`
	if _, err := tx.ExecContext(ctx, recount); err != nil {
		return 0, fmt.Errorf("failed to recount references: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM content_objects WHERE ref_count <= 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete unreferenced content: %w", err)
	}
	removed, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(removed), nil
}

// ContentStats summarizes the content store.
type ContentStats struct {
	Objects     int
	LogicalSize int64
	StoredSize  int64
}

// GetContentStats returns object count and logical/stored byte totals.
func (db *DB) GetContentStats(ctx context.Context) (*ContentStats, error) {
	var stats ContentStats
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(stored_size), 0) FROM content_objects`,
	).Scan(&stats.Objects, &stats.LogicalSize, &stats.StoredSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get content stats: %w", err)
	}
	return &stats, nil
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
