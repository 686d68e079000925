package archive

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-sre/cortex/pkg/domain"
)

// RunStoreContract verifies that a Store implementation adheres to the
// interface contract. Each adapter's test suite calls this.
func RunStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	wfID := "wf-contract" + time.Now().Format("150405")

	record := func(id string) *Record {
		return &Record{
			WorkflowID: id,
			SessionID:  "sess-contract",
			Query:      "why is checkout slow",
			Status:     domain.WorkflowCompleted,
			Events: []json.RawMessage{
				json.RawMessage(`{"type":"node","payload":{"id":"node-1"}}`),
				json.RawMessage(`{"type":"node","payload":{"id":"node-2"}}`),
			},
			ArchivedAt: time.Now().UTC(),
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, record(wfID)))

		loaded, err := store.Load(ctx, wfID)
		require.NoError(t, err)
		assert.Equal(t, wfID, loaded.WorkflowID)
		assert.Equal(t, domain.WorkflowCompleted, loaded.Status)
		require.Len(t, loaded.Events, 2)
		assert.JSONEq(t, `{"type":"node","payload":{"id":"node-1"}}`, string(loaded.Events[0]))
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "wf-nonexistent")
		assert.ErrorIs(t, err, domain.ErrUnknownWorkflow)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, record(wfID)))
		require.NoError(t, store.Delete(ctx, wfID))

		_, err := store.Load(ctx, wfID)
		assert.ErrorIs(t, err, domain.ErrUnknownWorkflow)
	})

	t.Run("List", func(t *testing.T) {
		id1, id2 := wfID+"-1", wfID+"-2"
		require.NoError(t, store.Save(ctx, record(id1)))
		require.NoError(t, store.Save(ctx, record(id2)))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
