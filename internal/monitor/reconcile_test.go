package monitor_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodemon/internal/action"
	"github.com/roach88/nodemon/internal/model"
	"github.com/roach88/nodemon/internal/monitor"
)

func TestTick_NotifiesEachTransitionOnce(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	m := e.addMonitor(t, "a@example.com", "node1", model.StatusOnline)

	steps := []struct {
		observed model.Status
		sends    int
	}{
		{model.StatusOffline, 1},
		{model.StatusOnline, 2},
		{model.StatusOnline, 2},
	}
	for i, step := range steps {
		e.source.Set(node("node1", step.observed))
		report, err := e.rec.Tick(ctx)
		require.NoError(t, err, "tick %d", i)
		assert.Empty(t, report.Failed)
		assert.Len(t, e.outbox.Sent(), step.sends, "tick %d", i)
		assert.Equal(t, step.observed, e.lastNotified(t, m.ID), "tick %d", i)
	}

	sent := e.outbox.Sent()
	assert.Contains(t, sent[0].Msg.Subject, "is now offline")
	assert.Contains(t, sent[1].Msg.Subject, "is now online")
}

func TestTick_OfflineOnlineOfflineStartingOnline(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	e.addMonitor(t, "a@example.com", "node1", model.StatusOnline)

	for _, st := range []model.Status{model.StatusOnline, model.StatusOffline, model.StatusOnline} {
		e.source.Set(node("node1", st))
		_, err := e.rec.Tick(ctx)
		require.NoError(t, err)
	}
	assert.Len(t, e.outbox.Sent(), 2)
}

func TestTick_Report(t *testing.T) {
	e := setupEnv(t)
	e.addMonitor(t, "a@example.com", "node1", model.StatusUnknown)
	e.addMonitor(t, "b@example.com", "node2", model.StatusOnline)
	e.source.Set(node("node1", model.StatusOnline), node("node2", model.StatusOnline), node("node3", model.StatusOffline))

	report, err := e.rec.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, monitor.TickReport{TickID: "tick-1", Nodes: 3, Monitors: 2, Notified: 1}, report)

	report, err = e.rec.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tick-2", report.TickID)
	assert.Equal(t, 0, report.Notified)
}

func TestTick_RefreshesNodeCache(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	e.source.Set(node("node1", model.StatusOnline))

	_, err := e.rec.Tick(ctx)
	require.NoError(t, err)

	n, found, err := e.store.LookupNode(ctx, "node1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StatusOnline, n.Status)
}

func TestTick_SendFailureRetriedNextTick(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	m := e.addMonitor(t, "a@example.com", "node1", model.StatusOnline)
	e.source.Set(node("node1", model.StatusOffline))

	e.outbox.FailWith(errors.New("relay down"))
	report, err := e.rec.Tick(ctx)
	require.NoError(t, err, "a failed monitor does not fail the tick")
	require.Len(t, report.Failed, 1)
	assert.Equal(t, m.ID, report.Failed[0].MonitorID)
	assert.Contains(t, report.Failed[0].Error, "relay down")
	assert.Equal(t, model.StatusOnline, e.lastNotified(t, m.ID))
	assert.Empty(t, e.outbox.Sent())

	e.outbox.FailWith(nil)
	report, err = e.rec.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 1, report.Notified)
	assert.Equal(t, model.StatusOffline, e.lastNotified(t, m.ID))
}

func TestTick_FailureDoesNotBlockOtherMonitors(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	e.addMonitor(t, "a@example.com", "node1", model.StatusOnline)
	e.addMonitor(t, "b@example.com", "node1", model.StatusOnline)
	e.source.Set(node("node1", model.StatusOffline))

	e.store.FailOn("UpdateLastNotified", errors.New("locked"))
	report, err := e.rec.Tick(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Failed, 2)
	for _, m := range e.store.Monitors() {
		assert.Equal(t, model.StatusOnline, m.LastNotified, "rolled back status for %s", m.Email)
	}

	e.store.FailOn("UpdateLastNotified", nil)
	report, err = e.rec.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Notified)
}

func TestTick_AbsentNodeDefaultsOffline(t *testing.T) {
	e := setupEnv(t)
	m := e.addMonitor(t, "a@example.com", "gone", model.StatusOnline)
	e.source.Set(node("other", model.StatusOnline))

	report, err := e.rec.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Notified)
	assert.Equal(t, model.StatusOffline, e.lastNotified(t, m.ID))

	last, ok := e.outbox.Last()
	require.True(t, ok)
	assert.Contains(t, last.Msg.Body, "the node gone (gone)")
}

func TestTick_AbsentNodeUnknownPolicy(t *testing.T) {
	e := setupEnv(t, monitor.WithAbsentStatus(model.StatusUnknown))
	m := e.addMonitor(t, "a@example.com", "gone", model.StatusUnknown)

	report, err := e.rec.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Notified)
	assert.Equal(t, model.StatusUnknown, e.lastNotified(t, m.ID))
}

func TestTick_SnapshotFailure(t *testing.T) {
	e := setupEnv(t)
	e.addMonitor(t, "a@example.com", "node1", model.StatusOnline)
	e.source.FailWith(errors.New("map server down"))

	_, err := e.rec.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch snapshot")
	assert.Empty(t, e.outbox.Sent())
}

func TestTick_RefreshFailure(t *testing.T) {
	e := setupEnv(t)
	e.source.Set(node("node1", model.StatusOnline))
	e.store.FailOn("UpsertNode", errors.New("readonly"))

	_, err := e.rec.Tick(context.Background())
	require.Error(t, err)
	assert.True(t, monitor.IsStoreError(err))
}

// cancelAfterFirst cancels the tick context once the first notification
// went out.
type cancelAfterFirst struct {
	inner  monitor.Notifier
	cancel context.CancelFunc
}

func (n *cancelAfterFirst) SendTransition(ctx context.Context, t monitor.Transition) error {
	err := n.inner.SendTransition(ctx, t)
	n.cancel()
	return err
}

func TestTick_CancelledBetweenMonitors(t *testing.T) {
	e := setupEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := e.addMonitor(t, "a@example.com", "node1", model.StatusOnline)
	second := e.addMonitor(t, "b@example.com", "node1", model.StatusOnline)
	e.source.Set(node("node1", model.StatusOffline))

	rec := monitor.NewReconciler(e.store, e.source, &cancelAfterFirst{inner: e.emitter, cancel: cancel})
	report, err := rec.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.Notified)

	// The started transition committed, the next one never started.
	assert.Equal(t, model.StatusOffline, e.lastNotified(t, first.ID))
	assert.Equal(t, model.StatusOnline, e.lastNotified(t, second.ID))
}

func TestSubscribeThenTick(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	token, err := e.signer.SignToken(action.Subscribe{Email: "a@example.com", NodeID: "node1"})
	require.NoError(t, err)

	a, err := e.signer.Open(token)
	require.NoError(t, err)
	changed, err := e.exec.Execute(ctx, a)
	require.NoError(t, err)
	require.True(t, changed)

	ms := e.store.Monitors()
	require.Len(t, ms, 1)
	assert.Equal(t, model.StatusUnknown, ms[0].LastNotified)

	e.source.Set(node("node1", model.StatusOnline))
	report, err := e.rec.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Notified)

	sent := e.outbox.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "a@example.com", sent[0].To)
	assert.True(t, strings.HasSuffix(sent[0].Msg.Subject, "name-node1 is now online"))
	assert.Equal(t, model.StatusOnline, e.lastNotified(t, ms[0].ID))

	// The notification carries a working one-click unsubscribe link.
	unsub, err := e.signer.Open(tokenFromMail(t, sent[0].Msg.Body))
	require.NoError(t, err)
	assert.Equal(t, action.Unsubscribe{Email: "a@example.com", NodeID: "node1"}, unsub)
}

func TestTick_MonitorDeletedBeforeTransition(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	m := e.addMonitor(t, "a@example.com", "node1", model.StatusUnknown)
	e.source.Set(node("node1", model.StatusOnline))

	// The first transaction refreshes nodes and lists monitors. The
	// unsubscribe lands right after it.
	s := &hookStore{Store: e.store, afterTx: func(n int) {
		if n != 1 {
			return
		}
		_, err := e.exec.Execute(ctx, action.Unsubscribe{Email: m.Email, NodeID: m.NodeID})
		require.NoError(t, err)
	}}
	rec := monitor.NewReconciler(s, e.source, e.emitter)

	report, err := rec.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Monitors)
	assert.Equal(t, 0, report.Notified)
	assert.Empty(t, report.Failed)
	assert.Empty(t, e.outbox.Sent())
	assert.Empty(t, e.store.Monitors())
}

func TestTick_MonitorUpdatedBeforeTransition(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	m := e.addMonitor(t, "a@example.com", "node1", model.StatusUnknown)
	e.source.Set(node("node1", model.StatusOnline))

	// Another tick notified and committed in between.
	s := &hookStore{Store: e.store, afterTx: func(n int) {
		if n != 1 {
			return
		}
		require.NoError(t, e.store.InTx(ctx, func(tx monitor.Tx) error {
			return tx.UpdateLastNotified(ctx, m.ID, model.StatusOnline)
		}))
	}}
	rec := monitor.NewReconciler(s, e.source, e.emitter)

	report, err := rec.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Notified)
	assert.Empty(t, report.Failed)
	assert.Empty(t, e.outbox.Sent())
	assert.Equal(t, model.StatusOnline, e.lastNotified(t, m.ID))
}

// stalledNotifier blocks until its context ends.
type stalledNotifier struct{}

func (stalledNotifier) SendTransition(ctx context.Context, t monitor.Transition) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestTick_TransitionTimeout(t *testing.T) {
	e := setupEnv(t)
	m := e.addMonitor(t, "a@example.com", "node1", model.StatusUnknown)
	e.source.Set(node("node1", model.StatusOnline))

	rec := monitor.NewReconciler(e.store, e.source, stalledNotifier{},
		monitor.WithTransitionTimeout(50*time.Millisecond))

	start := time.Now()
	report, err := rec.Tick(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Error, context.DeadlineExceeded.Error())
	assert.Equal(t, model.StatusUnknown, e.lastNotified(t, m.ID), "timed out transition is rolled back")

	// The store is usable again once the transition gave up.
	ms := e.store.Monitors()
	assert.Len(t, ms, 1)
}
