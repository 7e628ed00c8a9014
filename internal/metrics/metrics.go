package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels runs and deliveries that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels runs aborted by a fetch or store failure, and
	// deliveries that exhausted their retries.
	OutcomeError = "error"
	// OutcomeRateLimited labels runs skipped inside the cooldown.
	OutcomeRateLimited = "rate_limited"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statuswatch",
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "statuswatch",
			Name:      "run_seconds",
			Help:      "Reconciliation run latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statuswatch",
			Name:      "notifications_total",
			Help:      "Webhook notifications dispatched, partitioned by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	incidentActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statuswatch",
			Name:      "incident_actions_total",
			Help:      "Incident classifications made by reconciliation runs.",
		},
		[]string{"action"},
	)
)

// Register attaches statuswatch collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		notificationsTotal,
		incidentActionsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a run duration and outcome label.
func ObserveRun(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeError, OutcomeRateLimited:
	default:
		outcome = OutcomeSuccess
	}
	runsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveNotification counts one dispatch.
func ObserveNotification(kind string, delivered bool) {
	outcome := OutcomeSuccess
	if !delivered {
		outcome = OutcomeError
	}
	notificationsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveIncidentAction counts one classification.
func ObserveIncidentAction(action string) {
	incidentActionsTotal.WithLabelValues(action).Inc()
}
