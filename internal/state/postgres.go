package state

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillfeed/quillwatch/internal/watch"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres connection pool used for
// monitor entries.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore keeps monitor entries in a Postgres table, one row per
// post identifier. Save replaces the whole table so the persisted
// shape matches the full-overwrite contract of the file store.
//
// Expected schema:
//
//	CREATE TABLE monitor_entries (
//	    id         TEXT PRIMARY KEY,
//	    replies    INTEGER NOT NULL DEFAULT 0,
//	    reposts    INTEGER NOT NULL DEFAULT 0,
//	    likes      INTEGER NOT NULL DEFAULT 0,
//	    checked_at TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	pool  pgxPool
	table string
}

// NewPostgresStore creates a Postgres-backed store using the provided
// config.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("state.dsn is required")
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
	return NewPostgresStoreWithPool(pool, cfg.Table)
}

// NewPostgresStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewPostgresStoreWithPool(pool pgxPool, table string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "monitor_entries"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Load reads every entry row. Transport failures surface as errors so
// the caller can skip the cycle instead of mistaking an unreachable
// database for a cold start.
func (s *PostgresStore) Load(ctx context.Context) (watch.MonitorState, error) {
	query := fmt.Sprintf("SELECT id, replies, reposts, likes, checked_at FROM %s", s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return watch.MonitorState{}, fmt.Errorf("load monitor entries: %w", err)
	}
	defer rows.Close()

	st := watch.NewMonitorState()
	for rows.Next() {
		var (
			id    string
			entry watch.MonitorEntry
		)
		if err := rows.Scan(&id, &entry.Replies, &entry.Reposts, &entry.Likes, &entry.CheckedAt); err != nil {
			return watch.MonitorState{}, fmt.Errorf("scan monitor entry: %w", err)
		}
		st.Entries[id] = entry
	}
	if err := rows.Err(); err != nil {
		return watch.MonitorState{}, fmt.Errorf("iterate monitor entries: %w", err)
	}
	return st, nil
}

// Save replaces all rows with the given state inside one transaction.
func (s *PostgresStore) Save(ctx context.Context, st watch.MonitorState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return fmt.Errorf("clear monitor entries: %w", err)
	}

	ids := make([]string, 0, len(st.Entries))
	for id := range st.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	insert := fmt.Sprintf(
		"INSERT INTO %s (id, replies, reposts, likes, checked_at) VALUES ($1, $2, $3, $4, $5)",
		s.table,
	)
	for _, id := range ids {
		e := st.Entries[id]
		if _, err := tx.Exec(ctx, insert, id, e.Replies, e.Reposts, e.Likes, e.CheckedAt); err != nil {
			return fmt.Errorf("insert monitor entry %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}
