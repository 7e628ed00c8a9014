package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-statuswatch/internal/engine"
	"github.com/miradorstack/mirador-statuswatch/internal/metrics"
	"github.com/miradorstack/mirador-statuswatch/internal/models"
	"github.com/miradorstack/mirador-statuswatch/internal/utils"
)

const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// Runner performs one reconciliation pass.
type Runner interface {
	Run(ctx context.Context) (engine.Report, error)
}

// MetricsStore reads and records the persisted run metrics.
type MetricsStore interface {
	GetMetrics(ctx context.Context) (models.RunMetrics, error)
	PutMetrics(ctx context.Context, patch models.MetricsPatch) (models.RunMetrics, error)
}

// HealthReport is served by the health endpoint.
type HealthReport struct {
	Status        string             `json:"status"`
	Version       string             `json:"version"`
	Metrics       *models.RunMetrics `json:"metrics,omitempty"`
	Error         string             `json:"error,omitempty"`
	RunLatencyP95 string             `json:"runLatencyP95,omitempty"`
}

// Monitor drives the engine on a schedule and on demand.
type Monitor struct {
	logger    *slog.Logger
	runner    Runner
	store     MetricsStore
	version   string
	latencies *utils.LatencyTracker
	onRun     func(err error)
	now       func() time.Time
}

// NewMonitor constructs the monitor facade.
func NewMonitor(logger *slog.Logger, runner Runner, store MetricsStore, version string) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger:    logger,
		runner:    runner,
		store:     store,
		version:   version,
		latencies: utils.NewLatencyTracker(1024),
		now:       time.Now,
	}
}

// OnRunComplete registers fn to be called after every run with its error.
func (m *Monitor) OnRunComplete(fn func(err error)) {
	m.onRun = fn
}

// RunOnce executes a single pass and returns its report. A failed pass is
// recorded in the persisted metrics on a best-effort basis.
func (m *Monitor) RunOnce(ctx context.Context) (engine.Report, error) {
	start := time.Now()
	report, err := m.runner.Run(ctx)
	duration := time.Since(start)

	if m.onRun != nil {
		defer m.onRun(err)
	}

	if err != nil {
		metrics.ObserveRun(duration, metrics.OutcomeError)
		m.logger.Error("reconciliation run failed", slog.String("run_id", report.RunID), slog.Any("error", err))
		m.recordFailure(ctx)
		return report, err
	}

	outcome := metrics.OutcomeSuccess
	if report.RateLimited {
		outcome = metrics.OutcomeRateLimited
	}
	metrics.ObserveRun(duration, outcome)
	m.latencies.Observe(duration)
	if count := m.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := m.latencies.Percentile(95)
		m.logger.Info("run latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}
	return report, nil
}

func (m *Monitor) recordFailure(ctx context.Context) {
	if m.store == nil {
		return
	}
	lastRun := m.now().UTC()
	one := 1
	if _, err := m.store.PutMetrics(ctx, models.MetricsPatch{LastRun: &lastRun, Errors: &one}); err != nil {
		m.logger.Warn("record failed run", slog.Any("error", err))
	}
}

// Start runs immediately and then every interval until ctx is done. Run
// errors are logged and counted, never returned.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	m.logger.Info("scheduler started", slog.Duration("interval", interval))

	_, _ = m.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			_, _ = m.RunOnce(ctx)
		}
	}
}

// Health reports whether the persisted metrics can be read.
func (m *Monitor) Health(ctx context.Context) HealthReport {
	report := HealthReport{Status: HealthHealthy, Version: m.version}
	if count := m.latencies.Count(); count > 0 {
		report.RunLatencyP95 = m.latencies.Percentile(95).String()
	}
	if m.store == nil {
		return report
	}

	metricsRecord, err := m.store.GetMetrics(ctx)
	if err != nil {
		report.Status = HealthUnhealthy
		report.Error = err.Error()
		return report
	}
	report.Metrics = &metricsRecord
	return report
}

// LatencyP95 returns the current p95 run latency.
func (m *Monitor) LatencyP95() time.Duration {
	if m.latencies == nil {
		return 0
	}
	return m.latencies.Percentile(95)
}
