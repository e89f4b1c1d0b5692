// Package config provides unified configuration loading for the lesson digitizer.
// Supports YAML files, .env files, environment variables and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the lesson digitizer.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Storage       StorageConfig       `yaml:"storage"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	LLM           LLMConfig           `yaml:"llm"`
	TTS           TTSConfig           `yaml:"tts"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

// DatabaseConfig holds database connection settings for lessons and topics.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // memory, sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// JobsConfig selects where job status lives.
type JobsConfig struct {
	Store string      `yaml:"store"` // memory, database or redis
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// StorageConfig holds blob storage settings for PDFs, figures and audio.
type StorageConfig struct {
	Driver string      `yaml:"driver"` // local or minio
	Local  LocalConfig `yaml:"local"`
	Minio  MinioConfig `yaml:"minio"`
}

// LocalConfig stores blobs on the filesystem.
type LocalConfig struct {
	Dir           string `yaml:"dir"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// MinioConfig stores blobs in an S3-compatible bucket.
type MinioConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	OCRConcurrency    int           `yaml:"ocr_concurrency"`
	ImageQuality      int           `yaml:"image_quality"`
	MaxPages          int           `yaml:"max_pages"`
	CropImages        bool          `yaml:"crop_images"`
}

// LLMConfig holds OpenRouter settings used by OCR and segmentation.
type LLMConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	OCRModel          string        `yaml:"ocr_model"`
	SegmentationModel string        `yaml:"segmentation_model"`
	MaxInputChars     int           `yaml:"max_input_chars"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// TTSConfig holds ElevenLabs settings.
type TTSConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	VoiceID        string        `yaml:"voice_id"`
	Model          string        `yaml:"model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	ServiceName    string `yaml:"service_name"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	_ = godotenv.Load() // Ignore error if .env doesn't exist

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
			MaxUploadBytes:   100 << 20,
			AllowedOrigins:   []string{"*"},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/lesson-digitizer.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Jobs: JobsConfig{
			Store: "database",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "ld:",
				TTL:      7 * 24 * time.Hour,
			},
		},
		Storage: StorageConfig{
			Driver: "local",
			Local: LocalConfig{
				Dir:           "/tmp/lesson-digitizer-files",
				PublicBaseURL: "http://localhost:8090/files",
			},
			Minio: MinioConfig{
				Bucket: "lesson-assets",
			},
		},
		Pipeline: PipelineConfig{
			MaxConcurrentJobs: 2,
			JobTimeout:        30 * time.Minute,
			OCRConcurrency:    4,
			ImageQuality:      85,
			MaxPages:          100,
			CropImages:        true,
		},
		LLM: LLMConfig{
			BaseURL:           "https://openrouter.ai/api/v1",
			OCRModel:          "google/gemini-2.5-flash",
			SegmentationModel: "openai/gpt-4o",
			MaxInputChars:     120000,
			RequestTimeout:    2 * time.Minute,
		},
		TTS: TTSConfig{
			BaseURL:        "https://api.elevenlabs.io/v1",
			VoiceID:        "EXAVITQu4vr4xnSDxMaL",
			Model:          "eleven_multilingual_v2",
			RequestTimeout: time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			ServiceName:    "lesson-digitizer",
			MetricsEnabled: true,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver requires a dsn")
	}

	switch c.Jobs.Store {
	case "memory", "redis":
	case "database":
		if c.Database.Driver == "memory" {
			return fmt.Errorf("job store %q needs a sql database driver", c.Jobs.Store)
		}
	default:
		return fmt.Errorf("invalid job store: %s", c.Jobs.Store)
	}

	switch c.Storage.Driver {
	case "local":
		if c.Storage.Local.Dir == "" {
			return fmt.Errorf("local storage requires a dir")
		}
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("minio storage requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("invalid storage driver: %s", c.Storage.Driver)
	}

	if c.Pipeline.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be at least 1")
	}
	if c.Pipeline.OCRConcurrency < 1 {
		return fmt.Errorf("ocr_concurrency must be at least 1")
	}
	if c.Pipeline.ImageQuality < 1 || c.Pipeline.ImageQuality > 100 {
		return fmt.Errorf("image_quality must be between 1 and 100")
	}
	if c.Pipeline.MaxPages < 1 {
		return fmt.Errorf("max_pages must be at least 1")
	}

	return nil
}

// RequireProviders checks that the provider credentials needed to actually
// run the pipeline are present.
func (c *Config) RequireProviders() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is not set")
	}
	if c.TTS.APIKey == "" {
		return fmt.Errorf("ELEVENLABS_API_KEY is not set")
	}
	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		switch {
		case v == "memory":
			cfg.Database.Driver = "memory"
		case strings.HasPrefix(v, "sqlite:"):
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		case strings.HasPrefix(v, "postgres"):
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Jobs.Store = "redis"
		cfg.Jobs.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("JOB_STORE"); v != "" {
		cfg.Jobs.Store = v
	}

	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.SegmentationModel = v
	}

	if v := os.Getenv("OCR_MODEL"); v != "" {
		cfg.LLM.OCRModel = v
	}

	if v := os.Getenv("ELEVENLABS_API_KEY"); v != "" {
		cfg.TTS.APIKey = v
	}

	if v := os.Getenv("ELEVENLABS_VOICE_ID"); v != "" {
		cfg.TTS.VoiceID = v
	}

	if v := os.Getenv("BLOB_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}

	if v := os.Getenv("BLOB_DIR"); v != "" {
		cfg.Storage.Local.Dir = v
	}

	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.Storage.Local.PublicBaseURL = v
		cfg.Storage.Minio.PublicBaseURL = v
	}

	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Storage.Minio.Endpoint = v
	}

	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.Storage.Minio.Bucket = v
	}

	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Storage.Minio.AccessKey = v
	}

	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Storage.Minio.SecretKey = v
	}

	if v := os.Getenv("MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxConcurrentJobs = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
