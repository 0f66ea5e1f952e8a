package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fansync/fansync/internal/configtypes"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGetConfigDefaults(t *testing.T) {
	cfg, meta, err := GetConfig(nil, "")
	require.NoError(t, err)
	require.False(t, meta.FileNotFound)
	require.Empty(t, meta.UnknownKeys)

	defaults := DefaultConfig()
	require.Equal(t, defaults.HTTP.Port, cfg.HTTP.Port)
	require.Equal(t, defaults.Cloud.WSEndpoint, cfg.Cloud.WSEndpoint)
	require.Equal(t, defaults.Cloud.HTTPTimeout, cfg.Cloud.HTTPTimeout)
	require.Equal(t, defaults.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.FailureThreshold)
	require.Equal(t, defaults.Reconnect.BaseDelay, cfg.Reconnect.BaseDelay)
	require.NoError(t, cfg.Validate())
}

func TestGetConfigFromJSONFile(t *testing.T) {
	path := writeConfigFile(t, "config.json", `{
		"log": {"level": "debug"},
		"cloud": {"ws_timeout": "15s"},
		"reconnect": {"base_delay": "250ms", "max_delay": "10s"}
	}`)

	cfg, meta, err := GetConfig(nil, path)
	require.NoError(t, err)
	require.False(t, meta.FileNotFound)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 15*time.Second, cfg.Cloud.WSTimeout.ToDuration())
	require.Equal(t, 250*time.Millisecond, cfg.Reconnect.BaseDelay.ToDuration())
	require.Equal(t, 10*time.Second, cfg.Reconnect.MaxDelay.ToDuration())
}

func TestGetConfigFromTOMLFile(t *testing.T) {
	path := writeConfigFile(t, "config.toml", `
[log]
level = "warn"

[circuit_breaker]
failure_threshold = 7
`)
	cfg, _, err := GetConfig(nil, path)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, 7, cfg.CircuitBreaker.FailureThreshold)
}

func TestGetConfigFromYAMLFile(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
log:
  level: error
auth:
  email: someone@example.com
`)
	cfg, _, err := GetConfig(nil, path)
	require.NoError(t, err)
	require.Equal(t, "error", cfg.Log.Level)
	require.Equal(t, "someone@example.com", cfg.Auth.Email)
}

func TestGetConfigFileNotFound(t *testing.T) {
	_, meta, err := GetConfig(nil, filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	require.True(t, meta.FileNotFound)
}

func TestGetConfigUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, "config.json", `{
		"log": {"level": "info", "verbosity": 3},
		"banana": true
	}`)
	_, meta, err := GetConfig(nil, path)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"banana", "log.verbosity"}, meta.UnknownKeys)
}

func TestGetConfigEnvOverride(t *testing.T) {
	t.Setenv("FANSYNC_LOG_LEVEL", "trace")
	t.Setenv("FANSYNC_AUTH_PASSWORD", "hunter2")

	cfg, _, err := GetConfig(nil, "")
	require.NoError(t, err)
	require.Equal(t, "trace", cfg.Log.Level)
	require.Equal(t, "hunter2", cfg.Auth.Password)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "http timeout too small",
			mutate:  func(c *Config) { c.Cloud.HTTPTimeout = 0 },
			wantErr: "cloud.http_timeout",
		},
		{
			name:    "ws timeout too large",
			mutate:  func(c *Config) { c.Cloud.WSTimeout = configtypes.Duration(10 * time.Minute) },
			wantErr: "cloud.ws_timeout",
		},
		{
			name:    "api endpoint wrong scheme",
			mutate:  func(c *Config) { c.Cloud.APIEndpoint = "ftp://example.com" },
			wantErr: "cloud.api_endpoint",
		},
		{
			name:    "ws endpoint wrong scheme",
			mutate:  func(c *Config) { c.Cloud.WSEndpoint = "https://example.com" },
			wantErr: "cloud.ws_endpoint",
		},
		{
			name:    "zero failure threshold",
			mutate:  func(c *Config) { c.CircuitBreaker.FailureThreshold = 0 },
			wantErr: "circuit_breaker.failure_threshold",
		},
		{
			name:    "max delay below base delay",
			mutate:  func(c *Config) { c.Reconnect.MaxDelay = configtypes.Duration(time.Millisecond) },
			wantErr: "reconnect.max_delay",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.HTTP.Port = 70000 },
			wantErr: "http_server.port",
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateCredentials(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.ValidateCredentials())

	cfg.Auth.Email = "user@example.com"
	require.Error(t, cfg.ValidateCredentials())

	cfg.Auth.Password = "secret"
	require.NoError(t, cfg.ValidateCredentials())
}
