package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodemon/internal/model"
	"github.com/roach88/nodemon/internal/monitor"
)

func TestMonitorsForEmail(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	inTx(t, s, func(tx monitor.Tx) error {
		for _, row := range []struct{ email, node string }{
			{"a@example.com", "n2"},
			{"b@example.com", "n1"},
			{"a@example.com", "n1"},
		} {
			if _, _, err := tx.InsertMonitor(ctx, row.email, row.node, model.StatusUnknown); err != nil {
				return err
			}
		}
		return nil
	})

	ms, err := s.MonitorsForEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "n1", ms[0].NodeID)
	assert.Equal(t, "n2", ms[1].NodeID)

	ms, err = s.MonitorsForEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.NotNil(t, ms)
	assert.Empty(t, ms)
}

func TestListNodes_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	inTx(t, s, func(tx monitor.Tx) error {
		for _, n := range []model.Node{
			{ID: "c", Name: "beta", Status: model.StatusOnline},
			{ID: "b", Name: "Alpha", Status: model.StatusOffline},
			{ID: "a", Name: "beta", Status: model.StatusUnknown},
		} {
			if err := tx.UpsertNode(ctx, n); err != nil {
				return err
			}
		}
		return nil
	})

	nodes, err := s.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{nodes[0].ID, nodes[1].ID, nodes[2].ID})
}
