package testutil

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/nodemon/internal/model"
	"github.com/roach88/nodemon/internal/monitor"
)

// MemStore is an in-memory monitor.Store.
//
// Transactions are serialized and work on a copy of the state that replaces
// the committed state only when fn returns nil, so rollback semantics match
// the SQL stores.
//
// Thread-safety: All methods are safe for concurrent use.
type MemStore struct {
	mu    sync.Mutex // held for the duration of a transaction
	state memState

	failMu sync.Mutex
	fail   map[string]error
}

type memState struct {
	nextID    int64
	monitors  map[int64]model.Monitor
	nodes     map[string]model.Node
	confirmed map[string]time.Time
}

func (s memState) clone() memState {
	return memState{
		nextID:    s.nextID,
		monitors:  maps.Clone(s.monitors),
		nodes:     maps.Clone(s.nodes),
		confirmed: maps.Clone(s.confirmed),
	}
}

var _ monitor.Store = (*MemStore)(nil)

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		state: memState{
			monitors:  map[int64]model.Monitor{},
			nodes:     map[string]model.Node{},
			confirmed: map[string]time.Time{},
		},
		fail: map[string]error{},
	}
}

// FailOn makes every call of the named Tx method (e.g. "UpdateLastNotified")
// return err until FailOn(op, nil) is called.
func (s *MemStore) FailOn(op string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *MemStore) injected(op string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.fail[op]
}

// InTx runs fn on a copy of the state and commits it if fn returns nil.
func (s *MemStore) InTx(ctx context.Context, fn func(monitor.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.injected("Begin"); err != nil {
		return err
	}

	tx := &memTx{store: s, state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := s.injected("Commit"); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// Monitors returns the committed monitors ordered by ID.
func (s *MemStore) Monitors() []model.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedMonitors(s.state.monitors, nil)
}

// Confirmed reports whether email is confirmed in the committed state.
func (s *MemStore) Confirmed(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.confirmed[email]
	return ok
}

// MonitorsForEmail returns the monitors of email ordered by node ID.
func (s *MemStore) MonitorsForEmail(ctx context.Context, email string) ([]model.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := sortedMonitors(s.state.monitors, func(m model.Monitor) bool { return m.Email == email })
	slices.SortFunc(ms, func(a, b model.Monitor) int { return strings.Compare(a.NodeID, b.NodeID) })
	return ms, nil
}

// ListNodes returns all nodes ordered by name, then ID.
func (s *MemStore) ListNodes(ctx context.Context) ([]model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := slices.Collect(maps.Values(s.state.nodes))
	slices.SortFunc(nodes, func(a, b model.Node) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if nodes == nil {
		nodes = []model.Node{}
	}
	return nodes, nil
}

// LookupNode returns the committed node with id.
func (s *MemStore) LookupNode(ctx context.Context, id string) (model.Node, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.state.nodes[id]
	return n, ok, nil
}

func sortedMonitors(all map[int64]model.Monitor, keep func(model.Monitor) bool) []model.Monitor {
	ms := []model.Monitor{}
	for _, m := range all {
		if keep == nil || keep(m) {
			ms = append(ms, m)
		}
	}
	slices.SortFunc(ms, func(a, b model.Monitor) int { return cmp.Compare(a.ID, b.ID) })
	return ms
}

type memTx struct {
	store *MemStore
	state memState
}

func (t *memTx) FindMonitor(ctx context.Context, email, nodeID string) (model.Monitor, bool, error) {
	if err := t.store.injected("FindMonitor"); err != nil {
		return model.Monitor{}, false, err
	}
	for _, m := range t.state.monitors {
		if m.Email == email && m.NodeID == nodeID {
			return m, true, nil
		}
	}
	return model.Monitor{}, false, nil
}

func (t *memTx) GetMonitor(ctx context.Context, id int64) (model.Monitor, bool, error) {
	if err := t.store.injected("GetMonitor"); err != nil {
		return model.Monitor{}, false, err
	}
	m, ok := t.state.monitors[id]
	return m, ok, nil
}

func (t *memTx) InsertMonitor(ctx context.Context, email, nodeID string, st model.Status) (model.Monitor, bool, error) {
	if err := t.store.injected("InsertMonitor"); err != nil {
		return model.Monitor{}, false, err
	}
	for _, m := range t.state.monitors {
		if m.Email == email && m.NodeID == nodeID {
			return m, false, nil
		}
	}
	t.state.nextID++
	m := model.Monitor{ID: t.state.nextID, Email: email, NodeID: nodeID, LastNotified: st}
	t.state.monitors[m.ID] = m
	return m, true, nil
}

func (t *memTx) DeleteMonitor(ctx context.Context, email, nodeID string) (bool, error) {
	if err := t.store.injected("DeleteMonitor"); err != nil {
		return false, err
	}
	for id, m := range t.state.monitors {
		if m.Email == email && m.NodeID == nodeID {
			delete(t.state.monitors, id)
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) ListMonitors(ctx context.Context) ([]model.Monitor, error) {
	if err := t.store.injected("ListMonitors"); err != nil {
		return nil, err
	}
	return sortedMonitors(t.state.monitors, nil), nil
}

func (t *memTx) UpsertNode(ctx context.Context, n model.Node) error {
	if err := t.store.injected("UpsertNode"); err != nil {
		return err
	}
	t.state.nodes[n.ID] = n
	return nil
}

func (t *memTx) UpdateLastNotified(ctx context.Context, id int64, st model.Status) error {
	if err := t.store.injected("UpdateLastNotified"); err != nil {
		return err
	}
	m, ok := t.state.monitors[id]
	if !ok {
		return fmt.Errorf("update monitor %d: not found", id)
	}
	m.LastNotified = st
	t.state.monitors[id] = m
	return nil
}

func (t *memTx) ConfirmEmail(ctx context.Context, email string, at time.Time) (bool, error) {
	if err := t.store.injected("ConfirmEmail"); err != nil {
		return false, err
	}
	if _, ok := t.state.confirmed[email]; ok {
		return false, nil
	}
	t.state.confirmed[email] = at
	return true, nil
}
