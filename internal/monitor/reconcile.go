package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/nodemon/internal/model"
	"github.com/roach88/nodemon/internal/telemetry"
)

// Transition is a change between what a monitor was last told and what is
// observed now.
type Transition struct {
	Monitor model.Monitor
	Node    model.Node
	From    model.Status
	To      model.Status
}

// Notifier sends the notification for one transition.
// Implemented by Emitter.
type Notifier interface {
	SendTransition(ctx context.Context, t Transition) error
}

// MonitorFailure records a monitor whose transition could not be completed
// in this tick. It will be retried on the next one.
type MonitorFailure struct {
	MonitorID int64  `json:"monitor_id"`
	Email     string `json:"email"`
	NodeID    string `json:"node_id"`
	Error     string `json:"error"`
}

// TickReport summarizes one reconciliation tick.
type TickReport struct {
	TickID    string           `json:"tick_id"`
	Nodes     int              `json:"nodes"`
	Monitors  int              `json:"monitors"`
	Notified  int              `json:"notified"`
	Failed    []MonitorFailure `json:"failed,omitempty"`
	Cancelled bool             `json:"cancelled,omitempty"`
}

// Reconciler compares observed node status with each monitor's last
// notified status and notifies every transition exactly once per committed
// change.
//
// A Reconciler does not serialize its own ticks; wrap it in a Scheduler.
type Reconciler struct {
	store    Store
	source   Source
	notifier Notifier
	absent   model.Status
	timeout  time.Duration
	logger   *slog.Logger
	newID    func() string
}

// DefaultTransitionTimeout bounds one monitor's notify-and-commit
// transaction, mail delivery included.
const DefaultTransitionTimeout = time.Minute

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithAbsentStatus sets the status assumed for monitored nodes missing from
// the snapshot. Default: model.StatusOffline.
func WithAbsentStatus(st model.Status) ReconcilerOption {
	return func(r *Reconciler) {
		r.absent = st
	}
}

// WithTransitionTimeout sets the upper bound of a single transition.
// Default: DefaultTransitionTimeout.
func WithTransitionTimeout(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		r.timeout = d
	}
}

// WithReconcilerLogger sets the logger. Defaults to slog.Default().
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// WithTickIDs overrides the tick ID generator (for testing).
func WithTickIDs(gen func() string) ReconcilerOption {
	return func(r *Reconciler) {
		r.newID = gen
	}
}

// NewReconciler creates a Reconciler.
func NewReconciler(s Store, src Source, n Notifier, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:    s,
		source:   src,
		notifier: n,
		absent:   model.StatusOffline,
		timeout:  DefaultTransitionTimeout,
		logger:   slog.Default(),
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tick runs one reconciliation pass.
//
// Returns an error only if the pass could not start: snapshot fetch or the
// node refresh transaction failed. Failures of individual monitors are
// reported in TickReport.Failed and do not stop the other monitors.
//
// Cancellation of ctx is checked between monitors. A transition that has
// started runs to commit or rollback regardless, within the transition
// timeout.
func (r *Reconciler) Tick(ctx context.Context) (TickReport, error) {
	start := time.Now()
	report := TickReport{TickID: r.newID()}
	log := r.logger.With("tick", report.TickID)

	report, err := r.tick(ctx, report, log)

	telemetry.TickDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.TicksTotal.WithLabelValues("error").Inc()
		log.Error("tick failed", "error", err)
		return report, err
	}
	telemetry.TicksTotal.WithLabelValues("ok").Inc()
	log.Info("tick complete",
		"nodes", report.Nodes,
		"monitors", report.Monitors,
		"notified", report.Notified,
		"failed", len(report.Failed),
		"cancelled", report.Cancelled,
	)
	return report, nil
}

func (r *Reconciler) tick(ctx context.Context, report TickReport, log *slog.Logger) (TickReport, error) {
	snap, err := r.source.Snapshot(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch snapshot: %w", err)
	}
	report.Nodes = len(snap.Nodes)

	// Node IDs sorted for deterministic write order.
	ids := make([]string, 0, len(snap.Nodes))
	for id := range snap.Nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var monitors []model.Monitor
	err = r.store.InTx(ctx, func(tx Tx) error {
		for _, id := range ids {
			if err := tx.UpsertNode(ctx, snap.Nodes[id]); err != nil {
				return fmt.Errorf("upsert node %s: %w", id, err)
			}
		}
		var err error
		monitors, err = tx.ListMonitors(ctx)
		return err
	})
	if err != nil {
		return report, &StoreError{Op: "refresh nodes", Err: err}
	}
	report.Monitors = len(monitors)
	telemetry.MonitorsGauge.Set(float64(len(monitors)))

	for _, m := range monitors {
		if ctx.Err() != nil {
			report.Cancelled = true
			log.Warn("tick cancelled between monitors", "remaining_from", m.ID)
			break
		}

		observed := r.observe(snap, m.NodeID)
		if observed.Status == m.LastNotified {
			continue
		}

		sent, err := r.transition(context.WithoutCancel(ctx), m, observed)
		if err != nil {
			telemetry.NotificationsTotal.WithLabelValues("failed").Inc()
			log.Warn("transition not committed, will retry next tick",
				"monitor", m.ID,
				"node", m.NodeID,
				"error", err,
			)
			report.Failed = append(report.Failed, MonitorFailure{
				MonitorID: m.ID,
				Email:     m.Email,
				NodeID:    m.NodeID,
				Error:     err.Error(),
			})
			continue
		}
		if sent {
			telemetry.NotificationsTotal.WithLabelValues("sent").Inc()
			report.Notified++
		}
	}
	return report, nil
}

// observe returns the snapshot node for id, or a placeholder carrying the
// absent-node status.
func (r *Reconciler) observe(snap model.Snapshot, id string) model.Node {
	if n, ok := snap.Lookup(id); ok {
		return n
	}
	return model.Node{ID: id, Name: id, Status: r.absent}
}

// transition notifies and records one monitor's status change atomically.
//
// The monitor row is re-read inside the transaction: if it was deleted or
// already updated since the listing, nothing is sent. The status update is
// only written after the send succeeded; a send failure rolls back.
func (r *Reconciler) transition(ctx context.Context, m model.Monitor, observed model.Node) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var sent bool
	err := r.store.InTx(ctx, func(tx Tx) error {
		cur, found, err := tx.GetMonitor(ctx, m.ID)
		if err != nil {
			return &StoreError{Op: "get monitor", Err: err}
		}
		if !found || cur.LastNotified == observed.Status {
			return nil
		}

		t := Transition{Monitor: cur, Node: observed, From: cur.LastNotified, To: observed.Status}
		if err := r.notifier.SendTransition(ctx, t); err != nil {
			return err
		}
		if err := tx.UpdateLastNotified(ctx, cur.ID, t.To); err != nil {
			return &StoreError{Op: "update last notified", Err: err}
		}
		sent = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return sent, nil
}
