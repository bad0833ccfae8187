// Package sqlite records segment manifests in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
)

const schema = `
CREATE TABLE IF NOT EXISTS segments (
	run_id     TEXT    NOT NULL,
	sequence   INTEGER NOT NULL,
	uri        TEXT    NOT NULL,
	records    INTEGER NOT NULL,
	min_id     INTEGER NOT NULL,
	max_id     INTEGER NOT NULL,
	bytes      INTEGER NOT NULL,
	hash       TEXT    NOT NULL,
	flushed_at INTEGER NOT NULL,
	PRIMARY KEY (run_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_segments_flushed_at ON segments(flushed_at DESC);
`

// Manifest stores segment rows in SQLite.
type Manifest struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Manifest, error) {
	if path == "" {
		return nil, errors.New("manifest.sqlite.path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Writers are serialized by the buffer lock; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Manifest{db: db}, nil
}

// RecordSegment inserts a manifest row. Re-recording the same segment is a no-op.
func (m *Manifest) RecordSegment(ctx context.Context, info crawler.SegmentInfo) error {
	if info.RunID == "" || info.URI == "" {
		return errors.New("segment run id and uri are required")
	}
	_, err := m.db.ExecContext(ctx, `
INSERT OR IGNORE INTO segments (run_id, sequence, uri, records, min_id, max_id, bytes, hash, flushed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.RunID, info.Sequence, info.URI, info.Records,
		info.MinID, info.MaxID, info.Bytes, info.Hash, info.FlushedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

// Segments lists the rows of one run in sequence order.
func (m *Manifest) Segments(ctx context.Context, runID string) ([]crawler.SegmentInfo, error) {
	rows, err := m.db.QueryContext(ctx, `
SELECT run_id, sequence, uri, records, min_id, max_id, bytes, hash, flushed_at
FROM segments WHERE run_id = ? ORDER BY sequence`, runID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crawler.SegmentInfo
	for rows.Next() {
		var info crawler.SegmentInfo
		var flushedAt int64
		if err := rows.Scan(&info.RunID, &info.Sequence, &info.URI, &info.Records,
			&info.MinID, &info.MaxID, &info.Bytes, &info.Hash, &flushedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		info.FlushedAt = time.UnixMilli(flushedAt).UTC()
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (m *Manifest) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
