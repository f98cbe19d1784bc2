// Package postgres records completed media downloads in a Postgres ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sipeto/internal/media"
)

const defaultTable = "media_downloads"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for ledger rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

const columns = `id, job_id, platform, media_id, media_type, source_url, location,
	content_type, bytes, sha256, chat_id, downloaded_at`

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// DownloadStore keeps download rows in Postgres. It implements media.DownloadLedger.
type DownloadStore struct {
	pool  pool
	table string
}

// NewDownloadStore connects a pool using cfg.
func NewDownloadStore(ctx context.Context, cfg Config) (*DownloadStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return &DownloadStore{pool: pool, table: table}, nil
}

// NewDownloadStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewDownloadStoreWithPool(p pool, table string) (*DownloadStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &DownloadStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *DownloadStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the ledger table when it does not exist.
func (s *DownloadStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL,
	platform      TEXT NOT NULL,
	media_id      TEXT NOT NULL,
	media_type    TEXT NOT NULL,
	source_url    TEXT NOT NULL,
	location      TEXT NOT NULL,
	content_type  TEXT NOT NULL,
	bytes         BIGINT NOT NULL,
	sha256        TEXT NOT NULL,
	chat_id       BIGINT NOT NULL,
	downloaded_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// RecordDownload inserts a ledger row.
func (s *DownloadStore) RecordDownload(ctx context.Context, record media.DownloadRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("download store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	%s
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`, s.table, columns)

	args := []any{
		record.ID,
		record.JobID,
		string(record.Platform),
		record.MediaID,
		record.MediaType,
		record.SourceURL,
		record.Location,
		record.ContentType,
		record.Bytes,
		record.SHA256,
		record.ChatID,
		record.DownloadedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert download: %w", err)
	}
	return nil
}

// ListDownloads returns rows newest first, optionally filtered by platform.
func (s *DownloadStore) ListDownloads(ctx context.Context, q media.DownloadQuery) ([]media.DownloadRecord, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE ($1 = '' OR platform = $1)
ORDER BY downloaded_at DESC, id DESC
LIMIT $2 OFFSET $3`, columns, s.table)

	rows, err := s.pool.Query(ctx, query, string(q.Platform), q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	defer rows.Close()

	var out []media.DownloadRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate downloads: %w", err)
	}
	return out, nil
}

// GetDownload loads one row by id, returning media.ErrNotFound when absent.
func (s *DownloadStore) GetDownload(ctx context.Context, id string) (media.DownloadRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, columns, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return media.DownloadRecord{}, fmt.Errorf("download %s: %w", id, media.ErrNotFound)
		}
		return media.DownloadRecord{}, err
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (media.DownloadRecord, error) {
	var (
		rec      media.DownloadRecord
		platform string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.JobID,
		&platform,
		&rec.MediaID,
		&rec.MediaType,
		&rec.SourceURL,
		&rec.Location,
		&rec.ContentType,
		&rec.Bytes,
		&rec.SHA256,
		&rec.ChatID,
		&rec.DownloadedAt,
	); err != nil {
		return media.DownloadRecord{}, fmt.Errorf("scan download: %w", err)
	}
	rec.Platform = media.Platform(platform)
	return rec, nil
}
