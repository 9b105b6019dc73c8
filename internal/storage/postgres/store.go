// Package postgres provides Postgres-backed persistence for title records.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/newswire-ingest/internal/ingest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for title records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querierCloser interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Store persists title records in a Postgres table keyed by (scope,
// normalized title). Expected schema:
//
//	CREATE TABLE titles (
//	    scope       TEXT        NOT NULL,
//	    normalized  TEXT        NOT NULL,
//	    title       TEXT        NOT NULL,
//	    first_seen  TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (scope, normalized)
//	);
type Store struct {
	pool  querierCloser
	table string
}

// New creates a Postgres-backed store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "titles"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(pool querierCloser, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "titles"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// LoadPriorRecords reads every record saved under scope, oldest first.
func (s *Store) LoadPriorRecords(ctx context.Context, scope string) ([]ingest.TitledRecord, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("store is not configured")
	}
	query := fmt.Sprintf(
		`SELECT title, normalized, first_seen FROM %s WHERE scope = $1 ORDER BY first_seen`,
		s.table,
	)
	rows, err := s.pool.Query(ctx, query, scope)
	if err != nil {
		return nil, fmt.Errorf("query scope %q: %w", scope, err)
	}
	defer rows.Close()

	var records []ingest.TitledRecord
	for rows.Next() {
		var rec ingest.TitledRecord
		if err := rows.Scan(&rec.Title, &rec.Normalized, &rec.FirstSeen); err != nil {
			return nil, fmt.Errorf("scan scope %q: %w", scope, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scope %q: %w", scope, err)
	}
	return records, nil
}

// SaveRecords upserts the given records. Existing (scope, normalized) rows
// keep their original title and first_seen so earlier sightings win.
func (s *Store) SaveRecords(ctx context.Context, scope string, records []ingest.TitledRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (scope, normalized, title, first_seen)
VALUES ($1, $2, $3, $4)
ON CONFLICT (scope, normalized) DO NOTHING`, s.table)

	for _, rec := range records {
		if rec.Normalized == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, query, scope, rec.Normalized, rec.Title, rec.FirstSeen); err != nil {
			return fmt.Errorf("insert record %q: %w", rec.Normalized, err)
		}
	}
	return nil
}
