package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBlobStore_GetSet(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisBlobStore(rdb)
	ctx := context.Background()

	_, found, err := s.Get(ctx, "vault")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "vault", `["a","b"]`))
	require.NoError(t, s.Set(ctx, "vault", `["c"]`))

	v, found, err := s.Get(ctx, "vault")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `["c"]`, v)
}

func TestRedisBlobStore_KeepAlive(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisBlobStore(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartKeepAlive(ctx, 10*time.Millisecond, nil)

	require.Eventually(t, func() bool {
		return mr.Exists(KeepAliveKey)
	}, time.Second, 5*time.Millisecond)

	v, err := mr.Get(KeepAliveKey)
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339Nano, v)
	assert.NoError(t, err)
}

func TestMemoryBlobStore_GetSet(t *testing.T) {
	s := NewMemoryBlobStore()
	ctx := context.Background()

	_, found, _ := s.Get(ctx, "k")
	assert.False(t, found)
	require.NoError(t, s.Set(ctx, "k", "v"))
	v, found, _ := s.Get(ctx, "k")
	assert.True(t, found)
	assert.Equal(t, "v", v)
}
