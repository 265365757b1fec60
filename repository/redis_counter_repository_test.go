package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/amirphl/counterseq/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisCounterRepository(t *testing.T) (*miniredis.Miniredis, CounterRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := NewRedisCounterRepository(client, "test:", "counters")
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return mr, repo
}

func TestRedisCounterRepository(t *testing.T) {
	_, repo := newMiniredisCounterRepository(t)
	runCounterRepositoryContract(t, repo)
}

func TestRedisCounterRepositoryLayout(t *testing.T) {
	mr, repo := newMiniredisCounterRepository(t)
	ctx := context.Background()

	_, err := repo.Allocate(ctx, "invoice", nil)
	require.NoError(t, err)
	_, err = repo.Allocate(ctx, "invoice", models.ReferenceKey{"country": "FR"})
	require.NoError(t, err)

	assert.Equal(t, "1", mr.HGet("test:counters:invoice", "-"))
	assert.Equal(t, "1", mr.HGet("test:counters:invoice", `{"country":"FR"}`))
}

func TestRedisCounterRepositoryUnavailable(t *testing.T) {
	mr, repo := newMiniredisCounterRepository(t)
	mr.Close()

	_, err := repo.Allocate(context.Background(), "invoice", nil)
	require.Error(t, err)
	assert.True(t, IsStorageError(err))

	err = repo.EnsureSchema(context.Background())
	assert.True(t, IsStorageError(err))
}
