package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	BackendLocal    = "local"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendAirtable = "airtable"
	BackendPostgres = "postgres"
)

// Settings is the persisted part of the configuration, written by
// `calctl configure`.
type Settings struct {
	// Backend is one of local, memory, redis, airtable, postgres.
	Backend      string `yaml:"backend"`
	CalendarName string `yaml:"calendar_name"`
	// Timezone is the IANA zone event dates and times are written in.
	Timezone string `yaml:"timezone"`

	Local    LocalSettings    `yaml:"local"`
	Airtable AirtableSettings `yaml:"airtable"`
	Postgres PostgresSettings `yaml:"postgres"`
	Redis    RedisSettings    `yaml:"redis"`
}

type LocalSettings struct {
	DataDir string `yaml:"data_dir"`
}

type AirtableSettings struct {
	APIKey string `yaml:"api_key"`
	BaseID string `yaml:"base_id"`
	Table  string `yaml:"table"`
}

type PostgresSettings struct {
	URL string `yaml:"url"`
}

type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

func DefaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "campuscal.yaml"
	}
	return filepath.Join(dir, "campuscal", "settings.yaml")
}

func DefaultSettings() Settings {
	return Settings{
		Backend:      BackendLocal,
		CalendarName: "Campus Events",
		Timezone:     "UTC",
		Local:        LocalSettings{DataDir: "data"},
		Airtable:     AirtableSettings{Table: "Events"},
		Redis:        RedisSettings{Addr: "127.0.0.1:6379", Prefix: "campuscal"},
	}
}

// Normalize fills zero values with defaults.
func (s *Settings) Normalize() {
	d := DefaultSettings()

	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = d.Backend
	}
	if s.CalendarName == "" {
		s.CalendarName = d.CalendarName
	}
	if s.Timezone == "" {
		s.Timezone = d.Timezone
	}
	if s.Local.DataDir == "" {
		s.Local.DataDir = d.Local.DataDir
	}
	if s.Airtable.Table == "" {
		s.Airtable.Table = d.Airtable.Table
	}
	if s.Redis.Addr == "" {
		s.Redis.Addr = d.Redis.Addr
	}
	if s.Redis.Prefix == "" {
		s.Redis.Prefix = d.Redis.Prefix
	}
}

// LoadSettings reads path. A missing file yields defaults.
func LoadSettings(path string) (Settings, error) {
	if path == "" {
		return Settings{}, errors.New("settings path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}
	s.Normalize()

	return s, nil
}

// SaveSettings writes s atomically (temp file + rename) with 0600 perms;
// the file may hold credentials.
func SaveSettings(path string, s Settings) error {
	if path == "" {
		return errors.New("settings path is empty")
	}

	s.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".campuscal-settings-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// WithEnv applies environment overrides.
func (s Settings) WithEnv() Settings {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	override(&s.Backend, "STORAGE_BACKEND")
	override(&s.CalendarName, "CALENDAR_NAME")
	override(&s.Timezone, "CALENDAR_TIMEZONE")
	override(&s.Local.DataDir, "LOCAL_DATA_DIR")
	override(&s.Airtable.APIKey, "AIRTABLE_API_KEY")
	override(&s.Airtable.BaseID, "AIRTABLE_BASE_ID")
	override(&s.Airtable.Table, "AIRTABLE_TABLE")
	override(&s.Redis.Addr, "REDIS_ADDR")
	override(&s.Redis.Password, "REDIS_PASSWORD")
	override(&s.Redis.Prefix, "REDIS_PREFIX")

	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Redis.DB = n
		}
	}

	if url := buildDBURL(); url != "" {
		s.Postgres.URL = url
	}

	s.Normalize()

	return s
}

// Resolve returns the backend that will actually be used. A remote backend
// without credentials falls back to local storage.
func (s Settings) Resolve(log *slog.Logger) Settings {
	if log == nil {
		log = slog.Default()
	}

	missing := ""

	switch s.Backend {
	case BackendLocal, BackendMemory:
		return s
	case BackendAirtable:
		if s.Airtable.APIKey == "" || s.Airtable.BaseID == "" {
			missing = "AIRTABLE_API_KEY/AIRTABLE_BASE_ID"
		}
	case BackendPostgres:
		if s.Postgres.URL == "" {
			missing = "DATABASE_URL"
		}
	case BackendRedis:
		if s.Redis.Addr == "" {
			missing = "REDIS_ADDR"
		}
	default:
		log.Warn("unknown storage backend, using local", "backend", s.Backend)
		s.Backend = BackendLocal
		return s
	}

	if missing != "" {
		log.Warn("storage backend not configured, using local", "backend", s.Backend, "missing", missing)
		s.Backend = BackendLocal
	}

	return s
}
