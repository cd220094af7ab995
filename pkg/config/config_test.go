package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Mapillary.AccessToken = "MLY|token"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://graph.mapillary.com", cfg.Mapillary.BaseURL)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 3, cfg.Download.ConcurrentDownloads)
	assert.Equal(t, 0, cfg.Download.JPEGQuality)
	assert.Equal(t, "./downloads", cfg.Output.BaseDirectory)
	assert.True(t, cfg.Output.WriteRunSummary)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.Mapillary.AccessToken = "" }},
		{"missing base url", func(c *Config) { c.Mapillary.BaseURL = "" }},
		{"zero rate limit", func(c *Config) { c.RateLimit.RequestsPerMinute = 0 }},
		{"zero retries", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"multiplier below one", func(c *Config) { c.Retry.Multiplier = 0.5 }},
		{"zero concurrency", func(c *Config) { c.Download.ConcurrentDownloads = 0 }},
		{"excessive concurrency", func(c *Config) { c.Download.ConcurrentDownloads = 11 }},
		{"quality above range", func(c *Config) { c.Download.JPEGQuality = 101 }},
		{"quality below range", func(c *Config) { c.Download.JPEGQuality = -1 }},
		{"missing output dir", func(c *Config) { c.Output.BaseDirectory = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
mapillary:
  access_token: file-token
rate_limit:
  requests_per_minute: 30
download:
  concurrent_downloads: 5
  jpeg_quality: 85
output:
  base_directory: /data/imagery
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "file-token", cfg.Mapillary.AccessToken)
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 5, cfg.Download.ConcurrentDownloads)
	assert.Equal(t, 85, cfg.Download.JPEGQuality)
	assert.Equal(t, "/data/imagery", cfg.Output.BaseDirectory)
	// Untouched values keep their defaults.
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
}

func TestLoadFromFileMissingIsNotAnError(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.LoadFromFile(""))
}

func TestLoadFromFileBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mapillary: ["), 0644))

	cfg := DefaultConfig()
	assert.Error(t, cfg.LoadFromFile(path))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MAPGRAB_ACCESS_TOKEN", "env-token")
	t.Setenv("MAPGRAB_REQUESTS_PER_MINUTE", "45")
	t.Setenv("MAPGRAB_OUTPUT_DIR", "/env/out")
	t.Setenv("MAPGRAB_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "env-token", cfg.Mapillary.AccessToken)
	assert.Equal(t, 45, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, "/env/out", cfg.Output.BaseDirectory)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := validConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"access-token": "flag-token",
		"output":       "/flag/out",
		"concurrent":   7,
		"rate-limit":   90,
		"max-retries":  2,
		"quality":      70,
		"log-level":    "warn",
	})

	assert.Equal(t, "flag-token", cfg.Mapillary.AccessToken)
	assert.Equal(t, "/flag/out", cfg.Output.BaseDirectory)
	assert.Equal(t, 7, cfg.Download.ConcurrentDownloads)
	assert.Equal(t, 90, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, 70, cfg.Download.JPEGQuality)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mapillary:\n  access_token: file-token\n"), 0644))

	t.Setenv("MAPGRAB_ACCESS_TOKEN", "env-token")

	// Environment beats file.
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Mapillary.AccessToken)

	// Flags beat environment.
	cfg, err = Load(path, map[string]interface{}{"access-token": "flag-token"})
	require.NoError(t, err)
	assert.Equal(t, "flag-token", cfg.Mapillary.AccessToken)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := validConfig()
	cfg.RateLimit.CooldownPeriod = 3 * time.Minute
	require.NoError(t, cfg.Save(path))

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, cfg.Mapillary.AccessToken, loaded.Mapillary.AccessToken)
	assert.Equal(t, 3*time.Minute, loaded.RateLimit.CooldownPeriod)
}
