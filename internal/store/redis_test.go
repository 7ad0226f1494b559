package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, "test:")
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t)
	data, err := s.Get(context.Background(), StateKey("KJFK"))
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestPutGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, StateKey("KJFK"), []byte(`{"airport":"KJFK"}`)))

	data, err := s.Get(ctx, StateKey("KJFK"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"airport":"KJFK"}`, string(data))

	require.NoError(t, s.Delete(ctx, StateKey("KJFK")))
	data, err = s.Get(ctx, StateKey("KJFK"))
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestActiveHubsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, ActiveHubEntry{
		HubID:     "hub-KJFK",
		Label:     "KJFK/2/1/0",
		UpdatedAt: time.Now(),
	}))

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "KJFK/2/1/0", entries[0].Label)

	require.NoError(t, s.Remove(ctx, "hub-KJFK"))
	entries, err = s.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEntriesPrunesStaleRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, ActiveHubEntry{
		HubID:     "hub-old",
		Label:     "EGLL/0/0/0",
		UpdatedAt: time.Now().Add(-3 * 24 * time.Hour),
	}))
	require.NoError(t, s.Upsert(ctx, ActiveHubEntry{
		HubID:     "hub-new",
		Label:     "KJFK/1/0/0",
		UpdatedAt: time.Now(),
	}))

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hub-new", entries[0].HubID)

	// The stale row is gone from the hash, not just filtered.
	entries, err = s.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConnectionCounterClampsAtZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddConnections(ctx, 2))
	require.NoError(t, s.AddConnections(ctx, -5))
	require.NoError(t, s.AddConnections(ctx, 1))

	n, err := s.client.Get(ctx, "test:"+connectionsKey).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
