// Package postgres records segment manifests in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
)

const defaultTable = "crawl_segments"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for manifest rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Manifest writes one row per flushed segment.
type Manifest struct {
	pool  execCloser
	table string
}

// New connects to Postgres and ensures the manifest table exists.
func New(ctx context.Context, cfg Config) (*Manifest, error) {
	if cfg.DSN == "" {
		return nil, errors.New("manifest.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	m := &Manifest{pool: pool, table: table}
	if err := m.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return m, nil
}

// NewWithPool constructs a manifest from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Manifest, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Manifest{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the manifest table if it is missing.
func (m *Manifest) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT        NOT NULL,
	sequence    INTEGER     NOT NULL,
	uri         TEXT        NOT NULL,
	records     INTEGER     NOT NULL,
	min_id      BIGINT      NOT NULL,
	max_id      BIGINT      NOT NULL,
	bytes       INTEGER     NOT NULL,
	hash        TEXT        NOT NULL,
	flushed_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, sequence)
)`, m.table)
	if _, err := m.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create manifest table: %w", err)
	}
	return nil
}

// RecordSegment inserts a manifest row. Re-recording the same segment is a no-op.
func (m *Manifest) RecordSegment(ctx context.Context, info crawler.SegmentInfo) error {
	if m == nil || m.pool == nil {
		return errors.New("manifest is not configured")
	}
	if info.RunID == "" || info.URI == "" {
		return errors.New("segment run id and uri are required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	sequence,
	uri,
	records,
	min_id,
	max_id,
	bytes,
	hash,
	flushed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
) ON CONFLICT (run_id, sequence) DO NOTHING`, m.table)

	args := []any{
		info.RunID,
		info.Sequence,
		info.URI,
		info.Records,
		info.MinID,
		info.MaxID,
		info.Bytes,
		info.Hash,
		info.FlushedAt,
	}
	if _, err := m.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (m *Manifest) Close() error {
	if m != nil && m.pool != nil {
		m.pool.Close()
	}
	return nil
}
