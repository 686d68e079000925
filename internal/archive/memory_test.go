package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-sre/cortex/pkg/domain"
)

func TestMemoryStore_Contract(t *testing.T) {
	RunStoreContract(t, NewMemory())
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	store := NewMemory(WithMemoryTTL(10*time.Minute), withClock(clock))

	ctx := context.Background()
	rec := &Record{
		WorkflowID: "wf-ttl",
		Status:     domain.WorkflowCompleted,
		ArchivedAt: now,
	}
	require.NoError(t, store.Save(ctx, rec))

	_, err := store.Load(ctx, "wf-ttl")
	require.NoError(t, err)

	now = now.Add(11 * time.Minute)
	_, err = store.Load(ctx, "wf-ttl")
	assert.ErrorIs(t, err, domain.ErrUnknownWorkflow)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
