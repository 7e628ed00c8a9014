package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"STATUSWATCH_CONFIG", "STATUS_API_URL", "STATUSWATCH_SOURCE_URL",
		"WEBHOOK_URL", "STATUSWATCH_WEBHOOK_URL", "MIN_IMPACT_LEVEL",
		"STATUSWATCH_MIN_IMPACT_LEVEL", "STATUSWATCH_STORE_BACKEND",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, time.Minute, cfg.Reconcile.Cooldown)
	assert.Equal(t, 7*24*time.Hour, cfg.Reconcile.RecencyWindow)
	assert.Equal(t, 3, cfg.Reconcile.DigestThreshold)
	assert.Equal(t, 3, cfg.Webhook.MaxAttempts)
	assert.Equal(t, 30*24*time.Hour, cfg.Store.IncidentTTL)
	assert.Empty(t, cfg.Reconcile.MinImpact)

	assert.Error(t, cfg.Validate(), "source and webhook URLs are required")
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "statuswatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source:
  url: https://status.example.com/api/v2/incidents.json
webhook:
  url: https://chat.example.com/v1/spaces/AAA/messages?key=k
reconcile:
  interval: 2m
  minImpact: minor
store:
  backend: valkey
  valkey:
    addr: 127.0.0.1:6379
`), 0o600))

	t.Setenv("MIN_IMPACT_LEVEL", "Major")
	t.Setenv("STATUSWATCH_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, "major", cfg.Reconcile.MinImpact)
	assert.Equal(t, BackendValkey, cfg.Store.Backend)
	assert.Equal(t, 16, cfg.Store.Valkey.PoolSize, "defaults survive partial YAML")
}

func TestLegacyEnvNames(t *testing.T) {
	clearEnv(t)
	t.Setenv("STATUS_API_URL", "https://status.example.com/api/v2/incidents.json")
	t.Setenv("WEBHOOK_URL", "https://chat.example.com/hook")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://status.example.com/api/v2/incidents.json", cfg.Source.URL)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	clearEnv(t)
	base, err := Load("")
	require.NoError(t, err)
	base.Source.URL = "https://status.example.com/api/v2/incidents.json"
	base.Webhook.URL = "https://chat.example.com/hook?key=secret"

	cases := map[string]func(c *Config){
		"unknown impact":    func(c *Config) { c.Reconcile.MinImpact = "severe" },
		"relative webhook":  func(c *Config) { c.Webhook.URL = "/hook?key=secret" },
		"valkey no addr":    func(c *Config) { c.Store.Backend = BackendValkey },
		"postgres no dsn":   func(c *Config) { c.Store.Backend = BackendPostgres },
		"unknown backend":   func(c *Config) { c.Store.Backend = "etcd" },
		"zero max attempts": func(c *Config) { c.Webhook.MaxAttempts = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := *base
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.NotContains(t, err.Error(), "secret")
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestExampleConfigValidates(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join("..", "..", "configs", "statuswatch.example.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 168*time.Hour, cfg.Reconcile.RecencyWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.Store.Valkey.ReadTimeout)
	assert.Equal(t, "statuswatch.notifications", cfg.Bus.Subject)
}
