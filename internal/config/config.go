// Package config loads mealsync settings from MEALSYNC_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Version is set at build time through -ldflags.
var Version = "dev"

// Config holds all runtime settings.
type Config struct {
	// Root directory for the database and photos.
	DataDir string
	// Derived: <DataDir>/meals.db
	DBPath string
	// Derived: <DataDir>/photos
	PhotoDir string

	// Meal API base URL; empty disables upload, feedback and pull-sync.
	APIURL string
	// Push channel websocket URL; empty disables the push client.
	PushURL string
	// Bearer token for both endpoints.
	Token string

	Retention           time.Duration
	SweepInterval       time.Duration
	StaleAnalyzingAfter time.Duration
	StaleCheckInterval  time.Duration
	// SyncOverlap is how far each pull-sync re-reads the previous window.
	SyncOverlap time.Duration

	HTTPTimeout     time.Duration
	UploadTimeout   time.Duration
	AnalysisTimeout time.Duration

	DedupeSize int
	DedupeTTL  time.Duration

	LogLevel  slog.Level
	LogFormat string

	// Basal metabolic rate in kcal/day, 0 when unknown.
	BMR float64
}

// Options adjusts Load.
type Options struct {
	// EnvFile is loaded before reading the environment when it exists.
	// Variables already set in the environment win.
	EnvFile string
	// DataDir overrides MEALSYNC_DATA_DIR.
	DataDir string
}

// Load reads, validates and returns the configuration.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	cfg := &Config{}
	var err error

	cfg.DataDir = strings.TrimSpace(opts.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir, err = getEnvRequired("MEALSYNC_DATA_DIR")
		if err != nil {
			return nil, err
		}
	}
	cfg.DBPath = filepath.Join(cfg.DataDir, "meals.db")
	cfg.PhotoDir = filepath.Join(cfg.DataDir, "photos")

	cfg.APIURL = getEnvDefault("MEALSYNC_API_URL", "")
	cfg.PushURL = getEnvDefault("MEALSYNC_PUSH_URL", "")
	cfg.Token = getEnvDefault("MEALSYNC_TOKEN", "")

	days, err := getEnvInt("MEALSYNC_RETENTION_DAYS", 30)
	if err != nil {
		return nil, fmt.Errorf("MEALSYNC_RETENTION_DAYS: %w", err)
	}
	if days <= 0 {
		return nil, fmt.Errorf("MEALSYNC_RETENTION_DAYS: must be positive, got %d", days)
	}
	cfg.Retention = time.Duration(days) * 24 * time.Hour

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"MEALSYNC_SWEEP_INTERVAL", 24 * time.Hour, &cfg.SweepInterval},
		{"MEALSYNC_STALE_ANALYZING_AFTER", 15 * time.Minute, &cfg.StaleAnalyzingAfter},
		{"MEALSYNC_STALE_CHECK_INTERVAL", 5 * time.Minute, &cfg.StaleCheckInterval},
		{"MEALSYNC_SYNC_OVERLAP", time.Minute, &cfg.SyncOverlap},
		{"MEALSYNC_HTTP_TIMEOUT", 20 * time.Second, &cfg.HTTPTimeout},
		{"MEALSYNC_UPLOAD_TIMEOUT", 60 * time.Second, &cfg.UploadTimeout},
		{"MEALSYNC_ANALYSIS_TIMEOUT", 2 * time.Minute, &cfg.AnalysisTimeout},
		{"MEALSYNC_DEDUPE_TTL", 10 * time.Minute, &cfg.DedupeTTL},
	}
	for _, d := range durations {
		value, err := getEnvDuration(d.key, d.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if value <= 0 {
			return nil, fmt.Errorf("%s: must be positive, got %s", d.key, value)
		}
		*d.dest = value
	}

	cfg.DedupeSize, err = getEnvInt("MEALSYNC_DEDUPE_SIZE", 512)
	if err != nil {
		return nil, fmt.Errorf("MEALSYNC_DEDUPE_SIZE: %w", err)
	}
	if cfg.DedupeSize <= 0 {
		return nil, fmt.Errorf("MEALSYNC_DEDUPE_SIZE: must be positive, got %d", cfg.DedupeSize)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MEALSYNC_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("MEALSYNC_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("MEALSYNC_LOG_FORMAT", "text")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MEALSYNC_LOG_FORMAT: invalid value %q, allowed: json, text", cfg.LogFormat)
	}

	cfg.BMR, err = getEnvFloat("MEALSYNC_BMR", 0)
	if err != nil {
		return nil, fmt.Errorf("MEALSYNC_BMR: %w", err)
	}
	if cfg.BMR < 0 {
		return nil, fmt.Errorf("MEALSYNC_BMR: must not be negative")
	}

	return cfg, nil
}

// NewLogger builds a logger writing to w in the configured format.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func getEnvRequired(key string) (string, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return "", fmt.Errorf("%s: required environment variable is not set", key)
	}
	return val, nil
}

func getEnvDefault(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %q", val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %q", val)
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q (use Go format: 30s, 15m, 24h)", val)
	}
	return d, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid level %q, allowed: debug, info, warn, error", level)
	}
}
