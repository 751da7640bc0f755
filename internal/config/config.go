package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults mirror the production deployment values.
const (
	DefaultMaxUploadBytes = 10 << 20 // 10 MiB
	DefaultTargetSize     = 50
	DefaultJPEGQuality    = 75
	DefaultTickInterval   = 120 * time.Millisecond
	DefaultMinProgress    = 2 * time.Second
	DefaultModelVersion   = "ResNet50 v2.1"
	DefaultImageType      = "Histopathologie"
)

// Config carries all runtime settings for the analysis service.
type Config struct {
	ListenAddr  string
	DatabaseDSN string
	RedisAddr   string
	JWTSecret   string
	JWTAudience string

	// Remote prediction endpoint.
	PredictBaseURL string
	PredictTimeout time.Duration

	// Upload validation and normalization.
	MaxUploadBytes int64
	TargetSize     int
	JPEGQuality    int

	// Progress animation.
	TickInterval time.Duration
	MinProgress  time.Duration

	// Record labels and report output.
	ModelVersion string
	ImageType    string
	ReportDir    string
}

// Load reads configuration from the environment, honoring an optional .env file.
func Load() (*Config, error) {
	// Missing .env is fine, real env vars take precedence anyway.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=breastcare port=5432 sslmode=disable"),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience:    os.Getenv("JWT_AUDIENCE"),
		PredictBaseURL: getEnv("PREDICT_BASE_URL", "http://fastapi:8000"),
		PredictTimeout: getEnvDuration("PREDICT_TIMEOUT", 30*time.Second),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
		TargetSize:     getEnvInt("NORMALIZE_TARGET_SIZE", DefaultTargetSize),
		JPEGQuality:    getEnvInt("NORMALIZE_JPEG_QUALITY", DefaultJPEGQuality),
		TickInterval:   getEnvDuration("PROGRESS_TICK_INTERVAL", DefaultTickInterval),
		MinProgress:    getEnvDuration("PROGRESS_MIN_DURATION", DefaultMinProgress),
		ModelVersion:   getEnv("MODEL_VERSION", DefaultModelVersion),
		ImageType:      getEnv("IMAGE_TYPE", DefaultImageType),
		ReportDir:      getEnv("REPORT_DIR", "reports"),
	}

	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}
	if cfg.TargetSize <= 0 {
		return nil, fmt.Errorf("NORMALIZE_TARGET_SIZE must be positive, got %d", cfg.TargetSize)
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return nil, fmt.Errorf("NORMALIZE_JPEG_QUALITY must be in [1,100], got %d", cfg.JPEGQuality)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
