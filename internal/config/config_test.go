package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orderwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfigFile(t, "api:\n  base_url: http://localhost:8080\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 30*time.Second, cfg.RequestTimeout())
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, time.Second, cfg.BackoffBase())
	require.Equal(t, 2*time.Second, cfg.PollInterval())
	require.Equal(t, 300, cfg.Poll.MaxTicks)
	require.Equal(t, time.Duration(0), cfg.PollJitter())
	require.True(t, cfg.Logging.Development)
}

func TestLoad_MissingBaseURL(t *testing.T) {
	path := writeConfigFile(t, "http:\n  timeout_ms: 5000\n")

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "api.base_url")
}

func TestLoad_RejectsInvalidBaseURL(t *testing.T) {
	path := writeConfigFile(t, "api:\n  base_url: not-a-url\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ORDERWATCH_API_BASE_URL", "http://example.com:9000")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://example.com:9000", cfg.API.BaseURL)
}

func TestPollInterval_Clamped(t *testing.T) {
	t.Parallel()

	low := Config{Poll: PollConfig{IntervalMs: 200}}
	require.Equal(t, MinPollInterval, low.PollInterval())

	high := Config{Poll: PollConfig{IntervalMs: 60000}}
	require.Equal(t, MaxPollInterval, high.PollInterval())

	mid := Config{Poll: PollConfig{IntervalMs: 4000}}
	require.Equal(t, 4*time.Second, mid.PollInterval())
}

func TestValidate_Bounds(t *testing.T) {
	t.Parallel()

	base := Config{
		API:   APIConfig{BaseURL: "http://localhost:8080"},
		HTTP:  HTTPConfig{TimeoutMs: 30000},
		Retry: RetryConfig{MaxAttempts: 3, BackoffBaseMs: 1000},
		Poll:  PollConfig{IntervalMs: 2000, MaxTicks: 300},
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.Retry.MaxAttempts = 0
	require.Error(t, bad.Validate())

	bad = base
	bad.HTTP.TimeoutMs = -1
	require.Error(t, bad.Validate())

	bad = base
	bad.Poll.MaxTicks = 0
	require.Error(t, bad.Validate())
}
