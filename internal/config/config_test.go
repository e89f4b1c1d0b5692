package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "database", cfg.Jobs.Store)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, 100, cfg.Pipeline.MaxPages)
	assert.Equal(t, "eleven_multilingual_v2", cfg.TTS.Model)
	assert.Equal(t, "EXAVITQu4vr4xnSDxMaL", cfg.TTS.VoiceID)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9191
database:
  driver: memory
jobs:
  store: memory
pipeline:
  max_concurrent_jobs: 5
  job_timeout: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Jobs.Store)
	assert.Equal(t, 5, cfg.Pipeline.MaxConcurrentJobs)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.JobTimeout)
	// Untouched sections keep their defaults.
	assert.Equal(t, 85, cfg.Pipeline.ImageQuality)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/lessons?sslmode=disable")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("LLM_MODEL", "anthropic/claude")
	t.Setenv("ELEVENLABS_API_KEY", "el-key")
	t.Setenv("BLOB_DIR", "/var/blobs")
	t.Setenv("MAX_CONCURRENT_JOBS", "8")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://u:p@localhost:5432/lessons?sslmode=disable", cfg.DatabaseDSN())
	assert.Equal(t, "redis", cfg.Jobs.Store)
	assert.Equal(t, "cache:6379", cfg.Jobs.Redis.Addr)
	assert.Equal(t, "anthropic/claude", cfg.LLM.SegmentationModel)
	assert.Equal(t, "/var/blobs", cfg.Storage.Local.Dir)
	assert.Equal(t, 8, cfg.Pipeline.MaxConcurrentJobs)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.NoError(t, cfg.RequireProviders())
}

func TestLoad_SQLiteURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:/tmp/x.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.DatabaseDSN())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "invalid database driver"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "requires a dsn"},
		{"database jobs on memory", func(c *Config) { c.Database.Driver = "memory" }, "needs a sql database driver"},
		{"bad job store", func(c *Config) { c.Jobs.Store = "etcd" }, "invalid job store"},
		{"minio without endpoint", func(c *Config) { c.Storage.Driver = "minio" }, "requires endpoint and bucket"},
		{"bad storage", func(c *Config) { c.Storage.Driver = "gcs" }, "invalid storage driver"},
		{"zero concurrency", func(c *Config) { c.Pipeline.MaxConcurrentJobs = 0 }, "max_concurrent_jobs"},
		{"bad quality", func(c *Config) { c.Pipeline.ImageQuality = 101 }, "image_quality"},
		{"zero pages", func(c *Config) { c.Pipeline.MaxPages = 0 }, "max_pages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRequireProviders(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorContains(t, cfg.RequireProviders(), "OPENROUTER_API_KEY")

	cfg.LLM.APIKey = "x"
	assert.ErrorContains(t, cfg.RequireProviders(), "ELEVENLABS_API_KEY")

	cfg.TTS.APIKey = "y"
	assert.NoError(t, cfg.RequireProviders())
	assert.Equal(t, "0.0.0.0:8090", cfg.Addr())
}
