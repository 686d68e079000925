package archive_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-sre/cortex/internal/archive"
	"github.com/cortex-sre/cortex/pkg/domain"
)

func TestRedisStore_Contract(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	archive.RunStoreContract(t, archive.NewRedisFromClient(client))
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := archive.NewRedisFromClient(client, archive.WithRedisTTL(10*time.Minute))

	ctx := context.Background()
	rec := &archive.Record{
		WorkflowID: "wf-ttl",
		Status:     domain.WorkflowCompleted,
		ArchivedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Save(ctx, rec))

	mr.FastForward(11 * time.Minute)

	_, err = store.Load(ctx, "wf-ttl")
	assert.ErrorIs(t, err, domain.ErrUnknownWorkflow)
}
