package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// chdir switches the working directory for the duration of the test
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, BackendMemory, cfg.Backend.Type)
	assert.Equal(t, 1000, cfg.History.ChunkSize)
	assert.Equal(t, 10000, cfg.Cache.MaxSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10, cfg.Task.MaxRetries)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9100
backend:
  type: bolt
bolt:
  path: /var/lib/metastore/meta.db
history:
  chunk_size: 64
cache:
  ttl: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, BackendBolt, cfg.Backend.Type)
	assert.Equal(t, "/var/lib/metastore/meta.db", cfg.Bolt.Path)
	assert.Equal(t, 64, cfg.History.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	// untouched keys keep their defaults
	assert.Equal(t, 10000, cfg.Cache.MaxSize)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("METASTORE_SERVER_PORT", "9200")
	t.Setenv("METASTORE_BACKEND_TYPE", "postgres")
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("DATABASE_PORT", "6543")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, BackendPostgres, cfg.Backend.Type)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"unknown backend", func(c *Config) { c.Backend.Type = "cassandra" }, true},
		{"postgres without host", func(c *Config) {
			c.Backend.Type = BackendPostgres
			c.Database.Host = ""
		}, true},
		{"redis", func(c *Config) { c.Backend.Type = BackendRedis }, false},
		{"bolt without path", func(c *Config) {
			c.Backend.Type = BackendBolt
			c.Bolt.Path = ""
		}, true},
		{"zero chunk size", func(c *Config) { c.History.ChunkSize = 0 }, true},
		{"rate limiter without rate", func(c *Config) { c.RateLimiter.RequestsPerSecond = 0 }, true},
		{"rate limiter disabled", func(c *Config) {
			c.RateLimiter.Enabled = false
			c.RateLimiter.RequestsPerSecond = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_FillsLoggingDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging = LoggingConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestDump_MasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Password = "hunter2"

	out, err := Dump(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.Equal(t, "hunter2", cfg.Database.Password)

	var parsed map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &parsed))
	assert.Contains(t, parsed, "history")
}
