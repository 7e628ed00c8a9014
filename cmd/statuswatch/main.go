package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-statuswatch/internal/api"
	"github.com/miradorstack/mirador-statuswatch/internal/bus"
	"github.com/miradorstack/mirador-statuswatch/internal/config"
	"github.com/miradorstack/mirador-statuswatch/internal/engine"
	"github.com/miradorstack/mirador-statuswatch/internal/format"
	"github.com/miradorstack/mirador-statuswatch/internal/kv"
	"github.com/miradorstack/mirador-statuswatch/internal/metrics"
	"github.com/miradorstack/mirador-statuswatch/internal/notify"
	"github.com/miradorstack/mirador-statuswatch/internal/ratelimit"
	"github.com/miradorstack/mirador-statuswatch/internal/services"
	"github.com/miradorstack/mirador-statuswatch/internal/statuspage"
	"github.com/miradorstack/mirador-statuswatch/internal/store"
	"github.com/miradorstack/mirador-statuswatch/internal/utils"
)

var version = "dev"

func main() {
	var (
		configPath string
		once       bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&once, "once", false, "Run a single reconciliation pass and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting statuswatch",
		slog.String("version", version),
		slog.String("source", cfg.Source.URL),
		slog.String("store", cfg.Store.Backend))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg.Store)
	if err != nil {
		logger.Error("failed to open state store", slog.String("backend", cfg.Store.Backend), slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close()

	stateStore := store.New(backend, store.WithTTL(cfg.Store.IncidentTTL))

	statusPageURL := cfg.Notifications.StatusPageURL
	if statusPageURL == "" {
		statusPageURL = format.StatusPageFromSource(cfg.Source.URL)
	}
	formatter, err := format.New(format.Options{
		Timezone:      cfg.Notifications.Timezone,
		StatusPageURL: statusPageURL,
		DigestLines:   cfg.Notifications.DigestLines,
	})
	if err != nil {
		logger.Error("invalid notification settings", slog.Any("error", err))
		os.Exit(1)
	}

	dispatcher := notify.NewWebhookDispatcher(cfg.Webhook.URL, cfg.Webhook.Timeout,
		notify.WithRetry(utils.RetryPolicy{MaxAttempts: cfg.Webhook.MaxAttempts, BaseDelay: cfg.Webhook.RetryBackoff}),
		notify.WithLogger(logger))

	var publisher engine.Publisher
	if cfg.Bus.NATSURL != "" {
		p, err := bus.NewPublisher(cfg.Bus.NATSURL, cfg.Bus.Subject)
		if err != nil {
			logger.Warn("nats unavailable, notification events disabled", slog.Any("error", err))
		} else {
			defer p.Close()
			publisher = p
		}
	}

	eng := engine.New(
		logger,
		statuspage.NewClient(cfg.Source.URL, cfg.Source.Timeout, cfg.Source.UserAgent+"/"+version),
		stateStore,
		ratelimit.New(stateStore, cfg.Reconcile.Cooldown),
		dispatcher,
		formatter,
		publisher,
		engine.Options{
			RecencyWindow:   cfg.Reconcile.RecencyWindow,
			DigestThreshold: cfg.Reconcile.DigestThreshold,
			MinImpact:       cfg.Reconcile.MinImpact,
		},
	)
	monitor := services.NewMonitor(logger, eng, stateStore, version)

	if once {
		if _, err := monitor.RunOnce(ctx); err != nil {
			os.Exit(1)
		}
		return
	}

	grpcServer, err := api.NewServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}
	monitor.OnRunComplete(grpcServer.RecordRun)

	httpServer := &http.Server{
		Addr: cfg.Server.HTTPAddress,
		Handler: api.NewRouter(logger, monitor, api.RouterConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			TriggerSecret:  cfg.Server.TriggerSecret,
			RunTimeout:     2 * time.Minute,
			Metrics:        promhttp.Handler(),
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

	go func() {
		logger.Info("grpc server listening", slog.String("address", grpcServer.Address()))
		if serveErr := grpcServer.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	go monitor.Start(ctx, cfg.Reconcile.Interval)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	grpcServer.Shutdown(shutdownCtx)

	logger.Info("statuswatch stopped")
}

func openBackend(ctx context.Context, cfg config.StoreConfig) (kv.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return kv.NewMemoryBackend(), nil
	case config.BackendValkey:
		return kv.NewValkeyBackend(ctx, kv.ValkeyConfig{
			Addr:         cfg.Valkey.Addr,
			Username:     cfg.Valkey.Username,
			Password:     cfg.Valkey.Password,
			DB:           cfg.Valkey.DB,
			DialTimeout:  cfg.Valkey.DialTimeout,
			ReadTimeout:  cfg.Valkey.ReadTimeout,
			WriteTimeout: cfg.Valkey.WriteTimeout,
			MaxRetries:   cfg.Valkey.MaxRetries,
			TLS:          cfg.Valkey.TLS,
			PoolSize:     cfg.Valkey.PoolSize,
		})
	case config.BackendPostgres:
		return kv.NewPostgresBackend(ctx, cfg.Postgres.DSN, cfg.Postgres.Table)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
