package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/nodemon/internal/model"
	"github.com/roach88/nodemon/internal/monitor"
)

// sqlTx implements monitor.Tx on a database/sql transaction.
type sqlTx struct {
	tx *sql.Tx
}

var _ monitor.Tx = (*sqlTx)(nil)

const monitorColumns = `id, email, node_id, last_notified_status`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMonitor(row rowScanner) (model.Monitor, error) {
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

func scanNode(row rowScanner) (model.Node, error) {
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

// FindMonitor looks up the monitor for (email, nodeID).
func (t *sqlTx) FindMonitor(ctx context.Context, email, nodeID string) (model.Monitor, bool, error) {
	m, err := scanMonitor(t.tx.QueryRowContext(ctx, `
		SELECT `+monitorColumns+`
		FROM monitors
		WHERE email = ? AND node_id = ?
	`, email, nodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Monitor{}, false, nil
	}
	if err != nil {
		return model.Monitor{}, false, fmt.Errorf("find monitor: %w", err)
	}
	return m, true, nil
}

// GetMonitor looks up a monitor by ID.
func (t *sqlTx) GetMonitor(ctx context.Context, id int64) (model.Monitor, bool, error) {
	m, err := scanMonitor(t.tx.QueryRowContext(ctx, `
		SELECT `+monitorColumns+`
		FROM monitors
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Monitor{}, false, nil
	}
	if err != nil {
		return model.Monitor{}, false, fmt.Errorf("get monitor %d: %w", id, err)
	}
	return m, true, nil
}

// InsertMonitor creates a monitor row. An existing (email, nodeID) row is
// returned unchanged with created=false.
func (t *sqlTx) InsertMonitor(ctx context.Context, email, nodeID string, st model.Status) (model.Monitor, bool, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO monitors (email, node_id, last_notified_status)
		VALUES (?, ?, ?)
		ON CONFLICT(email, node_id) DO NOTHING
		RETURNING id
	`, email, nodeID, string(st)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return t.existingMonitor(ctx, email, nodeID)
	}
	if err != nil {
		return model.Monitor{}, false, fmt.Errorf("insert monitor: %w", err)
	}
	return model.Monitor{ID: id, Email: email, NodeID: nodeID, LastNotified: st}, true, nil
}

func (t *sqlTx) existingMonitor(ctx context.Context, email, nodeID string) (model.Monitor, bool, error) {
	m, found, err := t.FindMonitor(ctx, email, nodeID)
	if err != nil {
		return model.Monitor{}, false, fmt.Errorf("insert monitor: %w", err)
	}
	if !found {
		return model.Monitor{}, false, fmt.Errorf("insert monitor: conflicting row for %s/%s not found", email, nodeID)
	}
	return m, false, nil
}

// DeleteMonitor removes the monitor for (email, nodeID).
func (t *sqlTx) DeleteMonitor(ctx context.Context, email, nodeID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM monitors
		WHERE email = ? AND node_id = ?
	`, email, nodeID)
	if err != nil {
		return false, fmt.Errorf("delete monitor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete monitor: %w", err)
	}
	return n > 0, nil
}

// ListMonitors returns all monitors ordered by ID.
func (t *sqlTx) ListMonitors(ctx context.Context) ([]model.Monitor, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+monitorColumns+`
		FROM monitors
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query monitors: %w", err)
	}
	return collectMonitors(rows)
}

// UpsertNode inserts the node or refreshes its name and status.
func (t *sqlTx) UpsertNode(ctx context.Context, n model.Node) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO nodes (id, name, status)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status
	`, n.ID, n.Name, string(n.Status))
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", n.ID, err)
	}
	return nil
}

// UpdateLastNotified records the status a monitor was last told about.
func (t *sqlTx) UpdateLastNotified(ctx context.Context, id int64, st model.Status) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE monitors
		SET last_notified_status = ?
		WHERE id = ?
	`, string(st), id)
	if err != nil {
		return fmt.Errorf("update monitor %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update monitor %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update monitor %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

// ConfirmEmail records a confirmation. An address that is already confirmed
// keeps its original timestamp and false is returned.
func (t *sqlTx) ConfirmEmail(ctx context.Context, email string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO confirmed_emails (email, confirmed_at)
		VALUES (?, ?)
		ON CONFLICT(email) DO NOTHING
	`, email, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("confirm email: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("confirm email: %w", err)
	}
	return n > 0, nil
}

func collectMonitors(rows *sql.Rows) ([]model.Monitor, error) {
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
