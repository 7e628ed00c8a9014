package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/miradorstack/mirador-statuswatch/internal/engine"
	"github.com/miradorstack/mirador-statuswatch/internal/models"
	"github.com/miradorstack/mirador-statuswatch/internal/services"
)

// Monitor is what the HTTP surface needs from the service layer.
type Monitor interface {
	RunOnce(ctx context.Context) (engine.Report, error)
	Health(ctx context.Context) services.HealthReport
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	AllowedOrigins []string
	TriggerSecret  string
	// RunTimeout bounds a manual run; zero means no limit beyond the client's.
	RunTimeout time.Duration
	// Metrics, when set, is mounted on /metrics.
	Metrics http.Handler
}

type handler struct {
	logger  *slog.Logger
	monitor Monitor
	timeout time.Duration
}

type triggerResponse struct {
	RunID          string                 `json:"runId,omitempty"`
	Message        string                 `json:"message"`
	TotalIncidents int                    `json:"totalIncidents"`
	Results        []models.ProcessResult `json:"results"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// NewRouter builds the HTTP surface: /trigger, /health and optionally /metrics.
func NewRouter(logger *slog.Logger, monitor Monitor, cfg RouterConfig) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{logger: logger, monitor: monitor, timeout: cfg.RunTimeout}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		if cfg.TriggerSecret != "" {
			r.Use(requireBearer([]byte(cfg.TriggerSecret)))
		}
		r.HandleFunc("/trigger", h.trigger)
	})
	r.Get("/health", h.health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(r)
}

func (h *handler) trigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	report, err := h.monitor.RunOnce(ctx)
	if err != nil {
		h.logger.Error("manual run failed", slog.String("run_id", report.RunID), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "Failed to process incidents",
			Details: err.Error(),
		})
		return
	}

	results := report.Results
	if results == nil {
		results = []models.ProcessResult{}
	}
	writeJSON(w, http.StatusOK, triggerResponse{
		RunID:          report.RunID,
		Message:        report.Message,
		TotalIncidents: report.TotalIncidents,
		Results:        results,
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	report := h.monitor.Health(r.Context())
	status := http.StatusOK
	if report.Status != services.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
