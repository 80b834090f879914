// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rufuslabs/rufus/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// FragmentStoreConfig controls the Postgres connection pool used for
// archived fragments.
type FragmentStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// FragmentStore archives retained fragments per run into Postgres.
type FragmentStore struct {
	pool  pgxPool
	table string
}

// NewFragmentStore creates a Postgres-backed FragmentStore using the
// provided config.
func NewFragmentStore(ctx context.Context, cfg FragmentStoreConfig) (*FragmentStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "fragments"
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
	return &FragmentStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewFragmentStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewFragmentStoreWithPool(pool pgxPool, table string) (*FragmentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "fragments"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &FragmentStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *FragmentStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveResult inserts one row per retained fragment, preserving the
// retention order through the position column.
func (s *FragmentStore) SaveResult(ctx context.Context, result crawler.Result) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("fragment store is not configured")
	}
	if result.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	position,
	source_url,
	fragment_text,
	relevance_score,
	crawled_at
) VALUES (
	$1,$2,$3,$4,$5,$6
)`, s.table)

	for i, frag := range result.Fragments {
		args := []any{
			result.RunID,
			i,
			frag.URL,
			frag.Text,
			frag.Score,
			result.StartedAt,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert fragment %d: %w", i, err)
		}
	}
	return nil
}

// ListFragments returns the archived fragments for one run in retention
// order.
func (s *FragmentStore) ListFragments(ctx context.Context, runID string) ([]crawler.Fragment, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("fragment store is not configured")
	}
	query := fmt.Sprintf(`
SELECT source_url, fragment_text, relevance_score
FROM %s
WHERE run_id = $1
ORDER BY position`, s.table)

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query fragments: %w", err)
	}
	defer rows.Close()

	var fragments []crawler.Fragment
	for rows.Next() {
		var frag crawler.Fragment
		if err := rows.Scan(&frag.URL, &frag.Text, &frag.Score); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		fragments = append(fragments, frag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fragments: %w", err)
	}
	return fragments, nil
}
