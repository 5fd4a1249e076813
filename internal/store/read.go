package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/nodemon/internal/model"
)

// MonitorsForEmail returns the monitors of one address ordered by node ID.
//
// Returns an empty slice (not nil) if the address has no monitors.
func (s *Store) MonitorsForEmail(ctx context.Context, email string) ([]model.Monitor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+monitorColumns+`
		FROM monitors
		WHERE email = ?
		ORDER BY node_id COLLATE BINARY ASC
	`, email)
	if err != nil {
		return nil, fmt.Errorf("query monitors for email: %w", err)
	}
	return collectMonitors(rows)
}

// ListNodes returns all cached nodes ordered by name, then ID.
func (s *Store) ListNodes(ctx context.Context) ([]model.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status
		FROM nodes
		ORDER BY name COLLATE NOCASE ASC, id COLLATE BINARY ASC
	`)
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
func (s *Store) LookupNode(ctx context.Context, id string) (model.Node, bool, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx, `
		SELECT id, name, status FROM nodes WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Node{}, false, nil
	}
	if err != nil {
		return model.Node{}, false, fmt.Errorf("lookup node %s: %w", id, err)
	}
	return n, true, nil
}

// ConfirmedAt returns when email was confirmed.
func (s *Store) ConfirmedAt(ctx context.Context, email string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT confirmed_at FROM confirmed_emails WHERE email = ?
	`, email).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query confirmed email: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse confirmed_at %q: %w", raw, err)
	}
	return at, true, nil
}
