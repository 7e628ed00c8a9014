package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	backend := NewMemoryBackend().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "incident:a", []byte("x"), time.Hour))
	require.NoError(t, backend.Set(ctx, "metrics:data", []byte("y"), 0))

	got, err := backend.Get(ctx, "incident:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	now = now.Add(time.Hour)
	_, err = backend.Get(ctx, "incident:a")
	assert.ErrorIs(t, err, ErrMiss)

	now = now.Add(365 * 24 * time.Hour)
	got, err = backend.Get(ctx, "metrics:data")
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), got)
}

func TestMemoryBackendCopiesValues(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, backend.Set(ctx, "k", value, 0))
	value[0] = 'z'

	got, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	require.NoError(t, backend.Del(ctx, "k"))
	_, err = backend.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}
