package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultKPIAPIURL  = "http://localhost:3001"
	DefaultThrottle   = 100 * time.Millisecond
	DefaultOutputDir  = "."
	DefaultTrialDays  = 15
	DefaultLogLevel   = "info"
	defaultEnvFile    = ".env"
	envDatabaseURL    = "SUPABASE_DB_URL"
	envDatabaseURLAlt = "DATABASE_URL"
	envServiceKey     = "SUPABASE_SERVICE_ROLE_KEY"
)

var ErrMissing = errors.New("missing required configuration")

type Config struct {
	// Database
	DatabaseURL string
	Driver      string

	// KPI API
	ServiceRoleKey string
	KPIAPIURL      string

	// Runs
	Throttle  time.Duration
	OutputDir string
	TrialDays int
	LogLevel  slog.Level
}

// Load reads .env (when present) and the environment. Malformed numbers
// fall back to their defaults with a warning.
func Load() *Config {
	return LoadFile(defaultEnvFile)
}

func LoadFile(envFile string) *Config {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			slog.Debug("no env file loaded", "file", envFile, "error", err)
		}
	}

	cfg := &Config{
		DatabaseURL:    getEnv(envDatabaseURL, os.Getenv(envDatabaseURLAlt)),
		Driver:         strings.ToLower(getEnv("METRICS_DB_DRIVER", "")),
		ServiceRoleKey: getEnv(envServiceKey, ""),
		KPIAPIURL:      strings.TrimRight(getEnv("KPI_API_URL", DefaultKPIAPIURL), "/"),
		Throttle:       time.Duration(getInt("METRICS_THROTTLE_MS", int(DefaultThrottle/time.Millisecond))) * time.Millisecond,
		OutputDir:      getEnv("METRICS_OUTPUT_DIR", DefaultOutputDir),
		TrialDays:      getInt("METRICS_TRIAL_DAYS", DefaultTrialDays),
	}
	level, err := ParseLevel(getEnv("LOG_LEVEL", DefaultLogLevel))
	if err != nil {
		slog.Warn("invalid LOG_LEVEL, using info", "error", err)
	}
	cfg.LogLevel = level
	return cfg
}

// Validate reports every missing variable the database commands need.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.DatabaseURL) == "" {
		missing = append(missing, envDatabaseURL)
	}
	if strings.TrimSpace(c.ServiceRoleKey) == "" {
		missing = append(missing, envServiceKey)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	switch c.Driver {
	case "", "pgx", "sqlite3":
	default:
		return fmt.Errorf("invalid METRICS_DB_DRIVER %q (want pgx or sqlite3)", c.Driver)
	}
	if c.TrialDays < 0 {
		return fmt.Errorf("invalid METRICS_TRIAL_DAYS %d", c.TrialDays)
	}
	return nil
}

func ParseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		slog.Warn("invalid integer setting, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return v
}
