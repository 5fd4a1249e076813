package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/nodemon/internal/action"
	"github.com/roach88/nodemon/internal/model"
	"github.com/roach88/nodemon/internal/telemetry"
)

// Executor applies verified actions to persisted subscription state.
//
// Thread-safety: safe for concurrent use; every Execute runs in its own
// store transaction.
type Executor struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorClock overrides the time source for confirmation timestamps.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// WithExecutorLogger sets the logger. Defaults to slog.Default().
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = l
	}
}

// NewExecutor creates an Executor on top of s.
func NewExecutor(s Store, opts ...ExecutorOption) *Executor {
	e := &Executor{store: s, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies a in a single transaction.
//
// Returns true if state changed and false if the action was already in
// effect (subscribing twice, unsubscribing from a missing monitor,
// confirming an already confirmed address). Execution is idempotent: running
// the same action again never errors and never double-creates or
// double-deletes.
//
// Store failures are returned as *StoreError; the transaction is rolled back
// and nothing is changed.
func (e *Executor) Execute(ctx context.Context, a action.Action) (bool, error) {
	var apply func(ctx context.Context, tx Tx) (bool, error)

	switch v := a.(type) {
	case action.Subscribe:
		apply = func(ctx context.Context, tx Tx) (bool, error) {
			// A single conflict-tolerant insert; a concurrent execution of
			// the same action yields false instead of a constraint error.
			_, created, err := tx.InsertMonitor(ctx, v.Email, v.NodeID, model.StatusUnknown)
			return created, err
		}
	case action.Unsubscribe:
		apply = func(ctx context.Context, tx Tx) (bool, error) {
			return tx.DeleteMonitor(ctx, v.Email, v.NodeID)
		}
	case action.ConfirmEmail:
		apply = func(ctx context.Context, tx Tx) (bool, error) {
			return tx.ConfirmEmail(ctx, v.Email, e.now().UTC())
		}
	default:
		return false, fmt.Errorf("execute: unsupported action %T", a)
	}

	kind := string(a.Kind())
	var changed bool
	err := e.store.InTx(ctx, func(tx Tx) error {
		var err error
		changed, err = apply(ctx, tx)
		return err
	})
	if err != nil {
		telemetry.ActionsTotal.WithLabelValues(kind, "error").Inc()
		return false, &StoreError{Op: kind, Err: err}
	}

	result := "noop"
	if changed {
		result = "changed"
	}
	telemetry.ActionsTotal.WithLabelValues(kind, result).Inc()
	e.logger.Info("action executed",
		"kind", kind,
		"email", a.Address(),
		"node", action.NodeOf(a),
		"changed", changed,
	)
	return changed, nil
}
