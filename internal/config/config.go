package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every setting statuswatch needs to boot.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Source        SourceConfig        `yaml:"source"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Reconcile     ReconcileConfig     `yaml:"reconcile"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Store         StoreConfig         `yaml:"store"`
	Bus           BusConfig           `yaml:"bus"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig controls the HTTP and gRPC listeners.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"httpAddress"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	// TriggerSecret, when set, requires an HS256 bearer token on /trigger.
	TriggerSecret string `yaml:"triggerSecret"`
}

// SourceConfig points at the status page incidents API.
type SourceConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"userAgent"`
}

// WebhookConfig configures chat delivery. URL is a secret.
type WebhookConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
}

// ReconcileConfig tunes each run.
type ReconcileConfig struct {
	Interval        time.Duration `yaml:"interval"`
	Cooldown        time.Duration `yaml:"cooldown"`
	RecencyWindow   time.Duration `yaml:"recencyWindow"`
	DigestThreshold int           `yaml:"digestThreshold"`
	// MinImpact is one of none, minor, major, critical; empty disables filtering.
	MinImpact string `yaml:"minImpact"`
}

// NotificationsConfig shapes rendered cards.
type NotificationsConfig struct {
	Timezone      string `yaml:"timezone"`
	StatusPageURL string `yaml:"statusPageURL"`
	DigestLines   int    `yaml:"digestLines"`
}

// StoreConfig selects and configures the state backend.
type StoreConfig struct {
	Backend     string         `yaml:"backend"`
	IncidentTTL time.Duration  `yaml:"incidentTTL"`
	Valkey      ValkeyConfig   `yaml:"valkey"`
	Postgres    PostgresConfig `yaml:"postgres"`
}

// ValkeyConfig mirrors kv.ValkeyConfig.
type ValkeyConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	PoolSize     int           `yaml:"poolSize"`
}

// PostgresConfig configures the SQL backend.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// BusConfig enables the NATS event mirror.
type BusConfig struct {
	NATSURL string `yaml:"natsURL"`
	Subject string `yaml:"subject"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

const (
	BackendMemory   = "memory"
	BackendValkey   = "valkey"
	BackendPostgres = "postgres"
)

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("STATUSWATCH_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if err := requireURL("source.url", c.Source.URL); err != nil {
		errs = append(errs, err)
	}
	if err := requireURL("webhook.url", c.Webhook.URL); err != nil {
		errs = append(errs, err)
	}
	switch c.Reconcile.MinImpact {
	case "", "none", "minor", "major", "critical":
	default:
		errs = append(errs, fmt.Errorf("reconcile.minImpact must be one of none, minor, major, critical; got %q", c.Reconcile.MinImpact))
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendValkey:
		if c.Store.Valkey.Addr == "" {
			errs = append(errs, errors.New("store.valkey.addr is required for the valkey backend"))
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	if c.Webhook.MaxAttempts < 1 {
		errs = append(errs, errors.New("webhook.maxAttempts must be at least 1"))
	}
	return errors.Join(errs...)
}

func requireURL(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		// the value itself may be a secret
		return fmt.Errorf("%s is not an absolute URL", field)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:     ":8080",
			GRPCAddress:     ":50051",
			GracefulTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Source: SourceConfig{
			Timeout:   10 * time.Second,
			UserAgent: "mirador-statuswatch",
		},
		Webhook: WebhookConfig{
			Timeout:      10 * time.Second,
			MaxAttempts:  3,
			RetryBackoff: time.Second,
		},
		Reconcile: ReconcileConfig{
			Interval:        5 * time.Minute,
			Cooldown:        time.Minute,
			RecencyWindow:   7 * 24 * time.Hour,
			DigestThreshold: 3,
		},
		Notifications: NotificationsConfig{
			Timezone:    "UTC",
			DigestLines: 10,
		},
		Store: StoreConfig{
			Backend:     BackendMemory,
			IncidentTTL: 30 * 24 * time.Hour,
			Valkey: ValkeyConfig{
				DialTimeout:  2 * time.Second,
				ReadTimeout:  500 * time.Millisecond,
				WriteTimeout: 500 * time.Millisecond,
				MaxRetries:   2,
				PoolSize:     16,
			},
			Postgres: PostgresConfig{Table: "statuswatch_kv"},
		},
		Bus:     BusConfig{Subject: "statuswatch.notifications"},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := firstEnv("STATUSWATCH_SOURCE_URL", "STATUS_API_URL"); v != "" {
		cfg.Source.URL = v
	}
	if v := firstEnv("STATUSWATCH_WEBHOOK_URL", "WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
	}
	if v := firstEnv("STATUSWATCH_MIN_IMPACT_LEVEL", "MIN_IMPACT_LEVEL"); v != "" {
		cfg.Reconcile.MinImpact = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("STATUSWATCH_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("STATUSWATCH_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("STATUSWATCH_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("STATUSWATCH_TRIGGER_SECRET"); v != "" {
		cfg.Server.TriggerSecret = v
	}
	if v := os.Getenv("STATUSWATCH_STATUS_PAGE_URL"); v != "" {
		cfg.Notifications.StatusPageURL = v
	}
	if v := os.Getenv("STATUSWATCH_TIMEZONE"); v != "" {
		cfg.Notifications.Timezone = v
	}
	if v := os.Getenv("STATUSWATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reconcile.Interval = d
		}
	}
	if v := os.Getenv("STATUSWATCH_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reconcile.Cooldown = d
		}
	}
	if v := os.Getenv("STATUSWATCH_DIGEST_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reconcile.DigestThreshold = n
		}
	}
	if v := os.Getenv("STATUSWATCH_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("STATUSWATCH_VALKEY_ADDR"); v != "" {
		cfg.Store.Valkey.Addr = v
	}
	if v := os.Getenv("STATUSWATCH_VALKEY_USERNAME"); v != "" {
		cfg.Store.Valkey.Username = v
	}
	if v := os.Getenv("STATUSWATCH_VALKEY_PASSWORD"); v != "" {
		cfg.Store.Valkey.Password = v
	}
	if v := os.Getenv("STATUSWATCH_VALKEY_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Store.Valkey.DB = db
		}
	}
	if v := os.Getenv("STATUSWATCH_VALKEY_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Store.Valkey.TLS = true
	}
	if v := os.Getenv("STATUSWATCH_POSTGRES_DSN"); v != "" {
		cfg.Store.Postgres.DSN = v
	}
	if v := os.Getenv("STATUSWATCH_NATS_URL"); v != "" {
		cfg.Bus.NATSURL = v
	}
	if v := os.Getenv("STATUSWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STATUSWATCH_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
