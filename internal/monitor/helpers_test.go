package monitor_test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/nodemon/internal/action"
	"github.com/roach88/nodemon/internal/mail"
	"github.com/roach88/nodemon/internal/model"
	"github.com/roach88/nodemon/internal/monitor"
	"github.com/roach88/nodemon/internal/testutil"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

const testRoot = "https://monitor.example.net/"

// env wires the monitor components on in-memory fakes.
type env struct {
	store   *testutil.MemStore
	source  *testutil.StaticSource
	outbox  *testutil.Outbox
	clock   *testutil.Clock
	signer  *action.Signer
	emitter *monitor.Emitter
	exec    *monitor.Executor
	rec     *monitor.Reconciler
}

func setupEnv(t *testing.T, opts ...monitor.ReconcilerOption) *env {
	t.Helper()

	e := &env{
		store:  testutil.NewMemStore(),
		source: testutil.NewStaticSource(),
		outbox: testutil.NewOutbox(),
		clock:  testutil.NewClock(testutil.Epoch),
	}

	var err error
	e.signer, err = action.NewSigner(testKey, action.WithClock(e.clock.Now), action.WithMaxAge(72*time.Hour))
	require.NoError(t, err)

	templates, err := mail.ParseTemplates()
	require.NoError(t, err)

	root, err := url.Parse(testRoot)
	require.NoError(t, err)

	e.emitter = monitor.NewEmitter(e.signer, templates, e.outbox, root, "Freifunk Test")
	e.exec = monitor.NewExecutor(e.store, monitor.WithExecutorClock(e.clock.Now))
	opts = append([]monitor.ReconcilerOption{monitor.WithTickIDs(testutil.SequenceIDs("tick"))}, opts...)
	e.rec = monitor.NewReconciler(e.store, e.source, e.emitter, opts...)
	return e
}

// addMonitor inserts a monitor with the given last notified status.
func (e *env) addMonitor(t *testing.T, email, nodeID string, st model.Status) model.Monitor {
	t.Helper()
	var m model.Monitor
	require.NoError(t, e.store.InTx(context.Background(), func(tx monitor.Tx) error {
		var err error
		m, _, err = tx.InsertMonitor(context.Background(), email, nodeID, st)
		return err
	}))
	return m
}

// lastNotified returns the committed status of monitor id.
func (e *env) lastNotified(t *testing.T, id int64) model.Status {
	t.Helper()
	for _, m := range e.store.Monitors() {
		if m.ID == id {
			return m.LastNotified
		}
	}
	t.Fatalf("monitor %d not found", id)
	return ""
}

// tokenFromMail extracts the signed_action parameter of the first run_action
// link in a mail body.
func tokenFromMail(t *testing.T, body string) string {
	t.Helper()
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, testRoot+"run_action?") {
			continue
		}
		u, err := url.Parse(line)
		require.NoError(t, err)
		return u.Query().Get("signed_action")
	}
	t.Fatalf("no run_action link in mail:\n%s", body)
	return ""
}

func node(id string, st model.Status) model.Node {
	return model.Node{ID: id, Name: "name-" + id, Status: st}
}

// hookStore wraps a Store so tests can intercept transactions. wrap replaces
// the Tx handed to fn; afterTx runs after the n-th transaction returned.
type hookStore struct {
	monitor.Store
	wrap    func(monitor.Tx) monitor.Tx
	afterTx func(n int)
	txs     int
}

func (s *hookStore) InTx(ctx context.Context, fn func(monitor.Tx) error) error {
	err := s.Store.InTx(ctx, func(tx monitor.Tx) error {
		if s.wrap != nil {
			tx = s.wrap(tx)
		}
		return fn(tx)
	})
	s.txs++
	if s.afterTx != nil {
		s.afterTx(s.txs)
	}
	return err
}

// blindFindTx never sees existing monitors through FindMonitor, like a
// transaction whose read missed a concurrent, not yet committed insert.
type blindFindTx struct {
	monitor.Tx
}

func (blindFindTx) FindMonitor(ctx context.Context, email, nodeID string) (model.Monitor, bool, error) {
	return model.Monitor{}, false, nil
}
