// Package store persists per-incident status, run metrics and the
// last-notification marker on top of a kv.Backend.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-statuswatch/internal/kv"
	"github.com/miradorstack/mirador-statuswatch/internal/models"
	"github.com/miradorstack/mirador-statuswatch/internal/utils"
)

// DefaultIncidentTTL is how long an incident's state is remembered.
const DefaultIncidentTTL = 30 * 24 * time.Hour

const (
	incidentKeyPrefix   = "incident:"
	metricsKey          = "metrics:data"
	lastNotificationKey = "metrics:last_notification"
	legacyStatus        = models.StatusIdentified
)

// Store is the incident state store. It holds no business logic; every
// backend error is wrapped and returned to the caller.
type Store struct {
	backend kv.Backend
	ttl     time.Duration
	now     func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithTTL overrides the incident retention window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps backend.
func New(backend kv.Backend, opts ...Option) *Store {
	s := &Store{backend: backend, ttl: DefaultIncidentTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func incidentKey(id string) string { return incidentKeyPrefix + id }

// Get returns the stored state for id, or nil when none exists.
func (s *Store) Get(ctx context.Context, id string) (*models.StoredIncidentState, error) {
	raw, err := s.backend.Get(ctx, incidentKey(id))
	if errors.Is(err, kv.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError("store.get", "read incident "+id, err)
	}
	state := decodeState(raw)
	return &state, nil
}

// BatchGet reads every id concurrently. The result has an entry for each id;
// absent incidents map to nil.
func (s *Store) BatchGet(ctx context.Context, ids []string) (map[string]*models.StoredIncidentState, error) {
	states := make([]*models.StoredIncidentState, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			state, err := s.Get(gctx, id)
			if err != nil {
				return err
			}
			states[i] = state
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*models.StoredIncidentState, len(ids))
	for i, id := range ids {
		out[id] = states[i]
	}
	return out, nil
}

// Put records status for id with the retention TTL.
func (s *Store) Put(ctx context.Context, id, status string) error {
	data, err := json.Marshal(models.StoredIncidentState{Status: status, Timestamp: s.now().UTC()})
	if err != nil {
		return utils.NewAppError("store.put", "encode incident "+id, err)
	}
	if err := s.backend.Set(ctx, incidentKey(id), data, s.ttl); err != nil {
		return utils.NewAppError("store.put", "write incident "+id, err)
	}
	return nil
}

// GetMetrics returns the last run metrics, zero-valued when never written.
func (s *Store) GetMetrics(ctx context.Context) (models.RunMetrics, error) {
	raw, err := s.backend.Get(ctx, metricsKey)
	if errors.Is(err, kv.ErrMiss) {
		return models.RunMetrics{}, nil
	}
	if err != nil {
		return models.RunMetrics{}, utils.NewAppError("store.metrics", "read metrics", err)
	}
	var m models.RunMetrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return models.RunMetrics{}, utils.NewAppError("store.metrics", "decode metrics", err)
	}
	return m, nil
}

// PutMetrics merges patch over the stored metrics. When the patch records at
// least one sent notification the last-notification marker moves to now.
func (s *Store) PutMetrics(ctx context.Context, patch models.MetricsPatch) (models.RunMetrics, error) {
	current, err := s.GetMetrics(ctx)
	if err != nil {
		return models.RunMetrics{}, err
	}
	merged := patch.Apply(current)

	data, err := json.Marshal(merged)
	if err != nil {
		return models.RunMetrics{}, utils.NewAppError("store.metrics", "encode metrics", err)
	}
	if err := s.backend.Set(ctx, metricsKey, data, 0); err != nil {
		return models.RunMetrics{}, utils.NewAppError("store.metrics", "write metrics", err)
	}

	if patch.NotificationsSent != nil && *patch.NotificationsSent > 0 {
		marker := []byte(utils.FormatEpochMillis(s.now()))
		if err := s.backend.Set(ctx, lastNotificationKey, marker, 0); err != nil {
			return merged, utils.NewAppError("store.metrics", "write notification marker", err)
		}
	}
	return merged, nil
}

// LastNotification returns when a run last sent a notification.
func (s *Store) LastNotification(ctx context.Context) (time.Time, bool, error) {
	raw, err := s.backend.Get(ctx, lastNotificationKey)
	if errors.Is(err, kv.ErrMiss) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, utils.NewAppError("store.marker", "read notification marker", err)
	}
	ts, err := utils.ParseTimestamp(string(raw))
	if err != nil {
		// unreadable marker never blocks a run
		return time.Time{}, false, nil
	}
	return ts, true, nil
}

// decodeState reads the JSON form and falls back to the legacy layout, where
// the value was only the time the incident was first seen.
func decodeState(raw []byte) models.StoredIncidentState {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var record struct {
			Status    string          `json:"status"`
			Timestamp json.RawMessage `json:"timestamp"`
		}
		if err := json.Unmarshal(trimmed, &record); err == nil && record.Status != "" {
			state := models.StoredIncidentState{Status: record.Status}
			if ts, err := utils.ParseTimestamp(string(record.Timestamp)); err == nil {
				state.Timestamp = ts
			}
			return state
		}
	}

	state := models.StoredIncidentState{Status: legacyStatus}
	if ts, err := utils.ParseTimestamp(string(trimmed)); err == nil {
		state.Timestamp = ts
	}
	return state
}
