package monitor

import (
	"context"
	"time"

	"github.com/roach88/nodemon/internal/mail"
	"github.com/roach88/nodemon/internal/model"
)

// Store opens transactions. fn's writes are committed if it returns nil and
// rolled back otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of operations the core issues inside one transaction.
type Tx interface {
	// FindMonitor looks up the monitor for (email, nodeID).
	FindMonitor(ctx context.Context, email, nodeID string) (model.Monitor, bool, error)

	// GetMonitor looks up a monitor by ID.
	GetMonitor(ctx context.Context, id int64) (model.Monitor, bool, error)

	// InsertMonitor creates a monitor row unless one exists for (email,
	// nodeID). It reports whether the row was created; on conflict the
	// existing row is returned and nothing is written.
	InsertMonitor(ctx context.Context, email, nodeID string, st model.Status) (model.Monitor, bool, error)

	// DeleteMonitor removes the monitor for (email, nodeID), reporting whether a row existed.
	DeleteMonitor(ctx context.Context, email, nodeID string) (bool, error)

	// ListMonitors returns all monitors ordered by ID.
	ListMonitors(ctx context.Context) ([]model.Monitor, error)

	// UpsertNode refreshes the cached node row.
	UpsertNode(ctx context.Context, n model.Node) error

	// UpdateLastNotified records the status a monitor was last told about.
	UpdateLastNotified(ctx context.Context, id int64, st model.Status) error

	// ConfirmEmail records a confirmation, reporting whether it is new.
	ConfirmEmail(ctx context.Context, email string, at time.Time) (bool, error)
}

// Sender delivers a rendered message. Synchronous from the caller's view.
type Sender interface {
	Send(ctx context.Context, to string, msg mail.Message) error
}

// Renderer turns a template name and data into a message.
type Renderer interface {
	Render(name string, data any) (mail.Message, error)
}

// Source returns the current observed state of all known nodes.
type Source interface {
	Snapshot(ctx context.Context) (model.Snapshot, error)
}
