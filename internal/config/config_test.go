package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_ValidWithStub(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Stub = true
	assert.NoError(t, cfg.Validate())
}

func TestDefault_RequiresEndpoint(t *testing.T) {
	err := Default().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway.endpoint")
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
gateway:
  endpoint: https://platform.example/api
  timeout: 5s
storage:
  backend: postgres
  postgres_dsn: postgres://u:p@localhost/db
  clickhouse_dsn: clickhouse://localhost/db
  cache_backend: redis
  redis_addr: localhost:6379
discovery:
  max_probes: 9
wfo:
  degradation_margin: 2.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://platform.example/api", cfg.Gateway.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 3, cfg.Gateway.MaxRetries, "unset fields keep defaults")
	assert.Equal(t, 9, cfg.Discovery.MaxProbes)
	assert.Equal(t, 3, cfg.Discovery.ProbeRetries)
	assert.InDelta(t, 2.5, cfg.WFO.DegradationMargin, 1e-9)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BTLAB_GATEWAY_ENDPOINT", "http://env")
	t.Setenv("BTLAB_MONITOR_CONCURRENCY", "3")
	t.Setenv("BTLAB_GATEWAY_STUB", "true")
	t.Setenv("BTLAB_DISCOVERY_PROBE_TIMEOUT", "250ms")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, "http://env", cfg.Gateway.Endpoint)
	assert.Equal(t, 3, cfg.Monitor.Concurrency)
	assert.True(t, cfg.Gateway.Stub)
	assert.Equal(t, 250*time.Millisecond, cfg.Discovery.ProbeTimeout)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	t.Setenv("BTLAB_MONITOR_CONCURRENCY", "many")
	t.Setenv("BTLAB_GATEWAY_TIMEOUT", "soon")

	err := Default().ApplyEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BTLAB_MONITOR_CONCURRENCY")
	assert.Contains(t, err.Error(), "BTLAB_GATEWAY_TIMEOUT")
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BTLAB_TEST_ENV_FILE=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("BTLAB_TEST_ENV_FILE") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("BTLAB_TEST_ENV_FILE"))

	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "absent.env")))
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Stub = true
	cfg.Storage.Backend = "mongo"
	cfg.Monitor.Concurrency = 0
	cfg.Robustness.RiskBudget = 2
	cfg.Log.Output = "file"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"storage.backend", "monitor.concurrency", "robustness.risk_budget", "log.file"} {
		assert.Contains(t, err.Error(), want)
	}
}
