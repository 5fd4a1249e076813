// Package pgstore implements monitor.Store on PostgreSQL via a pgx pool.
//
// It is the store for deployments that share one database between several
// web frontends. Row-level locking (SELECT ... FOR UPDATE) keeps concurrent
// reconciliation passes from notifying the same transition twice.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/nodemon/internal/model"
	"github.com/roach88/nodemon/internal/monitor"
)

// PgStore is a PostgreSQL-backed subscription store.
type PgStore struct {
	pool *pgxpool.Pool
}

var _ monitor.Store = (*PgStore)(nil)

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPgStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

// EnsureSchema creates the tables if they don't exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id     TEXT PRIMARY KEY,
			name   TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('unknown', 'online', 'offline'))
		)`,
		`CREATE TABLE IF NOT EXISTS monitors (
			id                   BIGSERIAL PRIMARY KEY,
			email                TEXT NOT NULL,
			node_id              TEXT NOT NULL,
			last_notified_status TEXT NOT NULL DEFAULT 'unknown'
				CHECK (last_notified_status IN ('unknown', 'online', 'offline')),
			UNIQUE (email, node_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_monitors_email ON monitors(email)`,
		`CREATE TABLE IF NOT EXISTS confirmed_emails (
			email        TEXT PRIMARY KEY,
			confirmed_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InTx runs fn inside a transaction. The transaction commits if fn returns
// nil and rolls back otherwise.
func (s *PgStore) InTx(ctx context.Context, fn func(monitor.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MonitorsForEmail returns the monitors of one address ordered by node ID.
func (s *PgStore) MonitorsForEmail(ctx context.Context, email string) ([]model.Monitor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email, node_id, last_notified_status
		FROM monitors WHERE email = $1
		ORDER BY node_id COLLATE "C"`, email)
	if err != nil {
		return nil, fmt.Errorf("query monitors for email: %w", err)
	}
	return collectMonitors(rows)
}

// ListNodes returns all cached nodes ordered by name, then ID.
func (s *PgStore) ListNodes(ctx context.Context) ([]model.Node, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, status FROM nodes
		ORDER BY lower(name), id COLLATE "C"`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	nodes := []model.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

// LookupNode returns the cached node with the given ID.
func (s *PgStore) LookupNode(ctx context.Context, id string) (model.Node, bool, error) {
	n, err := scanNode(s.pool.QueryRow(ctx, `SELECT id, name, status FROM nodes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Node{}, false, nil
	}
	if err != nil {
		return model.Node{}, false, fmt.Errorf("lookup node %s: %w", id, err)
	}
	return n, true, nil
}

// ConfirmedAt returns when email was confirmed.
func (s *PgStore) ConfirmedAt(ctx context.Context, email string) (time.Time, bool, error) {
	var at time.Time
	err := s.pool.QueryRow(ctx, `SELECT confirmed_at FROM confirmed_emails WHERE email = $1`, email).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query confirmed email: %w", err)
	}
	return at, true, nil
}

func scanMonitor(row pgx.Row) (model.Monitor, error) {
	var (
		m      model.Monitor
		status string
	)
	if err := row.Scan(&m.ID, &m.Email, &m.NodeID, &status); err != nil {
		return model.Monitor{}, err
	}
	st, err := model.ParseStatus(status)
	if err != nil {
		return model.Monitor{}, fmt.Errorf("monitor %d: %w", m.ID, err)
	}
	m.LastNotified = st
	return m, nil
}

func scanNode(row pgx.Row) (model.Node, error) {
	var (
		n      model.Node
		status string
	)
	if err := row.Scan(&n.ID, &n.Name, &status); err != nil {
		return model.Node{}, err
	}
	st, err := model.ParseStatus(status)
	if err != nil {
		return model.Node{}, fmt.Errorf("node %s: %w", n.ID, err)
	}
	n.Status = st
	return n, nil
}

func collectMonitors(rows pgx.Rows) ([]model.Monitor, error) {
	defer rows.Close()

	monitors := []model.Monitor{}
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan monitor: %w", err)
		}
		monitors = append(monitors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monitors: %w", err)
	}
	return monitors, nil
}
