package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-statuswatch/internal/kv"
	"github.com/miradorstack/mirador-statuswatch/internal/models"
	"github.com/miradorstack/mirador-statuswatch/internal/store"
)

type markerFunc func(context.Context) (time.Time, bool, error)

func (f markerFunc) LastNotification(ctx context.Context) (time.Time, bool, error) { return f(ctx) }

func TestIsRateLimited(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		marker  time.Time
		present bool
		want    bool
	}{
		{"no marker", time.Time{}, false, false},
		{"inside cooldown", now.Add(-30 * time.Second), true, true},
		{"exactly at cooldown", now.Add(-time.Minute), true, false},
		{"after cooldown", now.Add(-2 * time.Minute), true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := New(markerFunc(func(context.Context) (time.Time, bool, error) {
				return tc.marker, tc.present, nil
			}), 0).WithClock(func() time.Time { return now })

			got, err := l.IsRateLimited(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIsRateLimitedPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("store down")
	l := New(markerFunc(func(context.Context) (time.Time, bool, error) {
		return time.Time{}, false, boom
	}), time.Minute)

	_, err := l.IsRateLimited(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestLimiterReadsStoreMarker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := store.New(kv.NewMemoryBackend(), store.WithClock(func() time.Time { return now }))
	l := New(s, time.Minute).WithClock(func() time.Time { return now.Add(10 * time.Second) })

	limited, err := l.IsRateLimited(ctx)
	require.NoError(t, err)
	assert.False(t, limited)

	sent := 1
	_, err = s.PutMetrics(ctx, models.MetricsPatch{NotificationsSent: &sent})
	require.NoError(t, err)

	limited, err = l.IsRateLimited(ctx)
	require.NoError(t, err)
	assert.True(t, limited)
}
