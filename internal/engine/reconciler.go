package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-statuswatch/internal/bus"
	"github.com/miradorstack/mirador-statuswatch/internal/format"
	"github.com/miradorstack/mirador-statuswatch/internal/metrics"
	"github.com/miradorstack/mirador-statuswatch/internal/models"
)

const (
	// DefaultRecencyWindow bounds how old an incident's start may be.
	DefaultRecencyWindow = 7 * 24 * time.Hour
	// DefaultDigestThreshold is the number of new incidents that collapses
	// into one digest.
	DefaultDigestThreshold = 3
)

// Fetcher returns the current incident snapshot.
type Fetcher interface {
	FetchIncidents(ctx context.Context) ([]models.Incident, error)
}

// StateStore is the subset of the incident store a run needs.
type StateStore interface {
	BatchGet(ctx context.Context, ids []string) (map[string]*models.StoredIncidentState, error)
	Put(ctx context.Context, id, status string) error
	PutMetrics(ctx context.Context, patch models.MetricsPatch) (models.RunMetrics, error)
}

// Limiter gates runs on the notification cooldown.
type Limiter interface {
	IsRateLimited(ctx context.Context) (bool, error)
}

// Dispatcher delivers a rendered payload.
type Dispatcher interface {
	Send(ctx context.Context, payload any) error
}

// Publisher mirrors dispatch outcomes; optional.
type Publisher interface {
	Publish(ctx context.Context, evt bus.NotificationEvent) error
}

// Options tunes a run. Zero values fall back to the defaults.
type Options struct {
	RecencyWindow   time.Duration
	DigestThreshold int
	// MinImpact drops incidents below this impact level; empty disables.
	MinImpact string
}

// Report summarises one run.
type Report struct {
	RunID          string                 `json:"runId"`
	Message        string                 `json:"message"`
	RateLimited    bool                   `json:"rateLimited"`
	TotalIncidents int                    `json:"totalIncidents"`
	Results        []models.ProcessResult `json:"results"`
	Sent           int                    `json:"sent"`
	Failed         int                    `json:"failed"`
}

// Engine reconciles the status page against stored state. It keeps nothing
// between runs; overlapping runs are not excluded.
type Engine struct {
	logger     *slog.Logger
	fetcher    Fetcher
	store      StateStore
	limiter    Limiter
	dispatcher Dispatcher
	formatter  *format.Formatter
	publisher  Publisher
	opts       Options
	now        func() time.Time
}

// New constructs an Engine. publisher may be nil.
func New(
	logger *slog.Logger,
	fetcher Fetcher,
	store StateStore,
	limiter Limiter,
	dispatcher Dispatcher,
	formatter *format.Formatter,
	publisher Publisher,
	opts Options,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RecencyWindow <= 0 {
		opts.RecencyWindow = DefaultRecencyWindow
	}
	if opts.DigestThreshold <= 0 {
		opts.DigestThreshold = DefaultDigestThreshold
	}
	return &Engine{
		logger:     logger,
		fetcher:    fetcher,
		store:      store,
		limiter:    limiter,
		dispatcher: dispatcher,
		formatter:  formatter,
		publisher:  publisher,
		opts:       opts,
		now:        time.Now,
	}
}

// WithClock replaces the wall clock; intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

type notification struct {
	kind        format.Kind
	cardID      string
	incidentIDs []string
	message     format.Message
}

// Run performs one reconciliation pass. Fetch and store failures abort the
// run and are returned; individual delivery failures are only counted.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString(), Results: []models.ProcessResult{}}
	logger := e.logger.With(slog.String("run_id", report.RunID))

	limited, err := e.limiter.IsRateLimited(ctx)
	if err != nil {
		return report, fmt.Errorf("check rate limit: %w", err)
	}
	if limited {
		logger.Info("run skipped inside notification cooldown")
		report.RateLimited = true
		report.Message = "Rate limited"
		return report, nil
	}

	incidents, err := e.fetcher.FetchIncidents(ctx)
	if err != nil {
		return report, err
	}

	now := e.now()
	recent := e.recent(incidents, now)
	ids := make([]string, len(recent))
	for i, inc := range recent {
		ids[i] = inc.ID
	}
	logger.Debug("snapshot fetched", slog.Int("total", len(incidents)), slog.Int("recent", len(recent)))

	states, err := e.store.BatchGet(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("read incident state: %w", err)
	}

	var (
		queue        []notification
		newIncidents []models.Incident
	)
	for _, inc := range recent {
		prior := states[inc.ID]
		result := models.ProcessResult{ID: inc.ID, Name: inc.Name, Impact: inc.Impact, Status: inc.Status}
		if prior != nil {
			status := prior.Status
			result.StoredStatus = &status
		}

		if belowMinimum(inc.Impact, e.opts.MinImpact) {
			result.Action = models.ActionFiltered
			report.Results = append(report.Results, result)
			metrics.ObserveIncidentAction(string(result.Action))
			continue
		}

		decision := Classify(prior, inc)
		result.Action = decision.Action
		report.Results = append(report.Results, result)
		metrics.ObserveIncidentAction(string(decision.Action))

		if decision.Persist {
			if err := e.store.Put(ctx, inc.ID, inc.Status); err != nil {
				return report, fmt.Errorf("write incident state: %w", err)
			}
		}
		if !decision.Notify {
			continue
		}

		switch decision.Action {
		case models.ActionNew:
			newIncidents = append(newIncidents, inc)
		case models.ActionResolved:
			queue = append(queue, single(inc, e.formatter.Resolved(inc)))
		case models.ActionMonitoring:
			queue = append(queue, single(inc, e.formatter.Monitoring(inc)))
		case models.ActionStatusChange:
			queue = append(queue, single(inc, e.formatter.StatusProgressed(inc, prior.Status)))
		}
	}

	if len(newIncidents) >= e.opts.DigestThreshold {
		digestIDs := make([]string, len(newIncidents))
		for i, inc := range newIncidents {
			digestIDs[i] = inc.ID
		}
		queue = append(queue, notification{
			kind:        format.KindDigest,
			cardID:      "digest-" + report.RunID,
			incidentIDs: digestIDs,
			message:     e.formatter.Digest(newIncidents),
		})
	} else {
		for _, inc := range newIncidents {
			queue = append(queue, single(inc, e.formatter.NewIncident(inc)))
		}
	}

	report.Sent, report.Failed = e.dispatch(ctx, logger, report.RunID, queue)
	report.TotalIncidents = len(recent)
	report.Message = fmt.Sprintf("Processed %d incidents, sent %d notifications", len(recent), report.Sent)

	lastRun := e.now().UTC()
	processed := len(recent)
	if _, err := e.store.PutMetrics(ctx, models.MetricsPatch{
		LastRun:            &lastRun,
		NotificationsSent:  &report.Sent,
		IncidentsProcessed: &processed,
		Errors:             &report.Failed,
	}); err != nil {
		return report, fmt.Errorf("record run metrics: %w", err)
	}

	logger.Info("run complete",
		slog.Int("incidents", processed),
		slog.Int("sent", report.Sent),
		slog.Int("failed", report.Failed))
	return report, nil
}

func (e *Engine) recent(incidents []models.Incident, now time.Time) []models.Incident {
	cutoff := now.Add(-e.opts.RecencyWindow)
	out := make([]models.Incident, 0, len(incidents))
	for _, inc := range incidents {
		if inc.Started().Before(cutoff) {
			continue
		}
		out = append(out, inc)
	}
	return out
}

func single(inc models.Incident, msg format.Message) notification {
	return notification{
		kind:        msg.Kind,
		cardID:      inc.ID,
		incidentIDs: []string{inc.ID},
		message:     msg,
	}
}

// dispatch sends every notification concurrently and waits for all of them.
// A failure never cancels its siblings.
func (e *Engine) dispatch(ctx context.Context, logger *slog.Logger, runID string, queue []notification) (sent, failed int) {
	errs := make([]error, len(queue))
	var wg sync.WaitGroup
	for i, n := range queue {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = e.dispatcher.Send(ctx, n.message.Card(n.cardID))
		}()
	}
	wg.Wait()

	for i, n := range queue {
		delivered := errs[i] == nil
		metrics.ObserveNotification(string(n.kind), delivered)
		if delivered {
			sent++
		} else {
			failed++
			logger.Error("notification delivery failed",
				slog.String("kind", string(n.kind)),
				slog.Any("incident_ids", n.incidentIDs),
				slog.Any("error", errs[i]))
		}
		e.publish(ctx, logger, runID, n, errs[i])
	}
	return sent, failed
}

func (e *Engine) publish(ctx context.Context, logger *slog.Logger, runID string, n notification, sendErr error) {
	if e.publisher == nil {
		return
	}
	evt := bus.NotificationEvent{
		RunID:       runID,
		Kind:        string(n.kind),
		IncidentIDs: n.incidentIDs,
		Delivered:   sendErr == nil,
		At:          e.now().UTC(),
	}
	if sendErr != nil {
		evt.Error = sendErr.Error()
	}
	if err := e.publisher.Publish(ctx, evt); err != nil {
		logger.Warn("publish notification event failed", slog.Any("error", err))
	}
}
