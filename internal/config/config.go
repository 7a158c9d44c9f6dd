package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const ServiceName = "campuscal"

type Config struct {
	Env          string
	Port         int
	SettingsPath string

	SyncInterval    time.Duration
	SyncInitialWait time.Duration
	BackendTimeout  time.Duration

	CORSOrigins []string

	OTELEnabled     bool
	OTELEndpoint    string
	OTELSampleRatio float64

	SeedDemo bool

	// Storage is the settings file with environment overrides applied.
	Storage Settings
}

// Load reads .env (if present), the settings file and the environment, in
// increasing order of precedence.
func Load() (Config, error) {
	_ = godotenv.Load()

	settingsPath := getEnv("SETTINGS_PATH", DefaultSettingsPath())

	settings, err := LoadSettings(settingsPath)
	if err != nil {
		return Config{}, err
	}
	settings = settings.WithEnv()

	return Config{
		Env:             getEnv("APP_ENV", "dev"),
		Port:            getEnvInt("PORT", 8080),
		SettingsPath:    settingsPath,
		SyncInterval:    getEnvDuration("SYNC_INTERVAL", 30*time.Second),
		SyncInitialWait: getEnvDuration("SYNC_INITIAL_WAIT", 5*time.Second),
		BackendTimeout:  getEnvDuration("BACKEND_TIMEOUT", 10*time.Second),
		CORSOrigins:     getEnvList("CORS_ORIGINS"),
		OTELEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:    getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTELSampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 1),
		SeedDemo:        getEnvBool("SEED_DEMO", true),
		Storage:         settings,
	}, nil
}

func buildDBURL() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}

	if os.Getenv("DB_HOST") == "" {
		return ""
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "campuscal")
	pass := getEnv("DB_PASSWORD", "campuscal")
	name := getEnv("DB_NAME", "campuscal")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			slog.Warn("invalid integer env, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return b
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid number env, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return f
	}
	return fallback
}

// getEnvDuration accepts Go durations ("45s") or bare seconds ("45").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}

	slog.Warn("invalid duration env, using default", "key", key, "value", v, "default", fallback.String())
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
