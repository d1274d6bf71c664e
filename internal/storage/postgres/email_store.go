// Package postgres mirrors resolved rows into a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/profile-email-enricher/internal/enricher"
)

const defaultTable = "profile_emails"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for the mirror table.
type Config struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	Table           string        `mapstructure:"table" yaml:"table"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// EmailStore upserts resolved rows keyed by their identifier.
type EmailStore struct {
	pool  execCloser
	table string
	runID string
	now   func() time.Time
}

// NewEmailStore connects to Postgres using cfg.
func NewEmailStore(ctx context.Context, cfg Config, runID string) (*EmailStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
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
	return newEmailStore(pool, table, runID), nil
}

// NewEmailStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEmailStoreWithPool(pool execCloser, table, runID string) (*EmailStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return newEmailStore(pool, name, runID), nil
}

func newEmailStore(pool execCloser, table, runID string) *EmailStore {
	return &EmailStore{
		pool:  pool,
		table: table,
		runID: runID,
		now:   func() time.Time { return time.Now().UTC() },
	}
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
func (s *EmailStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the mirror table when it does not exist.
func (s *EmailStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	identifier  TEXT PRIMARY KEY,
	username    TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	profile_url TEXT NOT NULL,
	email       TEXT NOT NULL,
	run_id      TEXT NOT NULL,
	resolved_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Persist upserts rows[i]. Unresolved rows are ignored.
func (s *EmailStore) Persist(ctx context.Context, rows []enricher.Row, i int) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("email store is not configured")
	}
	if i < 0 || i >= len(rows) {
		return fmt.Errorf("row index %d out of range", i)
	}
	row := rows[i]
	if !row.Done() || row.Email == "" {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	identifier,
	username,
	user_id,
	profile_url,
	email,
	run_id,
	resolved_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (identifier) DO UPDATE SET
	email = EXCLUDED.email,
	run_id = EXCLUDED.run_id,
	resolved_at = EXCLUDED.resolved_at`, s.table)

	args := []any{
		row.Identifier(),
		row.Username,
		row.UserID,
		row.ProfileURL,
		row.Email,
		s.runID,
		s.now(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert email: %w", err)
	}
	return nil
}

// Flush is a no-op; rows are written as they resolve.
func (s *EmailStore) Flush(context.Context, []enricher.Row) error {
	return nil
}
