package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/nodemon/internal/model"
	"github.com/roach88/nodemon/internal/monitor"
)

type pgTx struct {
	tx pgx.Tx
}

var _ monitor.Tx = (*pgTx)(nil)

func (t *pgTx) FindMonitor(ctx context.Context, email, nodeID string) (model.Monitor, bool, error) {
	m, err := scanMonitor(t.tx.QueryRow(ctx, `
		SELECT id, email, node_id, last_notified_status
		FROM monitors WHERE email = $1 AND node_id = $2`, email, nodeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Monitor{}, false, nil
	}
	if err != nil {
		return model.Monitor{}, false, fmt.Errorf("find monitor: %w", err)
	}
	return m, true, nil
}

// GetMonitor locks the row until the transaction ends, so a concurrent
// tick re-reading the same monitor waits for this one's decision.
func (t *pgTx) GetMonitor(ctx context.Context, id int64) (model.Monitor, bool, error) {
	m, err := scanMonitor(t.tx.QueryRow(ctx, `
		SELECT id, email, node_id, last_notified_status
		FROM monitors WHERE id = $1
		FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Monitor{}, false, nil
	}
	if err != nil {
		return model.Monitor{}, false, fmt.Errorf("get monitor %d: %w", id, err)
	}
	return m, true, nil
}

// InsertMonitor waits for a concurrent insert of the same (email, nodeID)
// to finish and then returns that row with created=false.
func (t *pgTx) InsertMonitor(ctx context.Context, email, nodeID string, st model.Status) (model.Monitor, bool, error) {
	m := model.Monitor{Email: email, NodeID: nodeID, LastNotified: st}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO monitors (email, node_id, last_notified_status)
		VALUES ($1, $2, $3)
		ON CONFLICT (email, node_id) DO NOTHING
		RETURNING id`, email, nodeID, string(st)).Scan(&m.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, found, err := t.FindMonitor(ctx, email, nodeID)
		if err != nil {
			return model.Monitor{}, false, fmt.Errorf("insert monitor: %w", err)
		}
		if !found {
			return model.Monitor{}, false, fmt.Errorf("insert monitor: conflicting row for %s/%s not found", email, nodeID)
		}
		return existing, false, nil
	}
	if err != nil {
		return model.Monitor{}, false, fmt.Errorf("insert monitor: %w", err)
	}
	return m, true, nil
}

func (t *pgTx) DeleteMonitor(ctx context.Context, email, nodeID string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM monitors WHERE email = $1 AND node_id = $2`, email, nodeID)
	if err != nil {
		return false, fmt.Errorf("delete monitor: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) ListMonitors(ctx context.Context) ([]model.Monitor, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, email, node_id, last_notified_status
		FROM monitors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query monitors: %w", err)
	}
	return collectMonitors(rows)
}

func (t *pgTx) UpsertNode(ctx context.Context, n model.Node) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO nodes (id, name, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, status = EXCLUDED.status`,
		n.ID, n.Name, string(n.Status))
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", n.ID, err)
	}
	return nil
}

func (t *pgTx) UpdateLastNotified(ctx context.Context, id int64, st model.Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE monitors SET last_notified_status = $1 WHERE id = $2`, string(st), id)
	if err != nil {
		return fmt.Errorf("update monitor %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update monitor %d: %w", id, pgx.ErrNoRows)
	}
	return nil
}

func (t *pgTx) ConfirmEmail(ctx context.Context, email string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO confirmed_emails (email, confirmed_at)
		VALUES ($1, $2)
		ON CONFLICT (email) DO NOTHING`, email, at.UTC())
	if err != nil {
		return false, fmt.Errorf("confirm email: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
