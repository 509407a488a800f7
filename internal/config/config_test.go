package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.RateLimit.PerIP.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.PerIP.Window.D())
	assert.Equal(t, 15, cfg.RateLimit.Global.Limit)
	assert.False(t, cfg.RateLimit.FailOpen)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL.D())
	assert.Equal(t, time.Hour, cfg.Jobs.TTL.D())
	assert.Equal(t, "extraction_jobs", cfg.Jobs.QueueName)
	assert.Equal(t, 5, cfg.Worker.Count)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, "rule", cfg.Extractor.Kind)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
ratelimit:
  per_ip:
    limit: 2
    window: 60s
  global:
    limit: 5
    window: 2m
  fail_open: true
cache:
  ttl: 1h
worker:
  count: 2
  backoff_base: 250ms
extractor:
  kind: remote
  endpoint: http://inference.local/v1/extract
  timeout: 10s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 2, cfg.RateLimit.PerIP.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.PerIP.Window.D())
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.Global.Window.D())
	assert.True(t, cfg.RateLimit.FailOpen)
	assert.Equal(t, time.Hour, cfg.Cache.TTL.D())
	assert.Equal(t, 2, cfg.Worker.Count)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.BackoffBase.D())
	assert.Equal(t, "remote", cfg.Extractor.Kind)

	// Unset fields keep their defaults.
	assert.Equal(t, "extraction_jobs", cfg.Jobs.QueueName)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
}

func TestDurationAcceptsBareSeconds(t *testing.T) {
	path := writeConfig(t, `
cache:
  ttl: 3600
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Cache.TTL.D())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("API_KEY", "sekrit")
	t.Setenv("EXTRACTOR_KIND", "rule")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "sekrit", cfg.Server.APIKey)
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"zero per-ip limit", "ratelimit:\n  per_ip:\n    limit: 0\n"},
		{"zero workers", "worker:\n  count: 0\n"},
		{"zero attempts", "worker:\n  max_attempts: 0\n"},
		{"unknown extractor", "extractor:\n  kind: psychic\n"},
		{"remote without endpoint", "extractor:\n  kind: remote\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestMissingFileIsAnError(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}
