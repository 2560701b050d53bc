package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
)

// envPrefix scopes environment overrides: RELAY_HTTP__PORT sets http.port.
const envPrefix = "RELAY_"

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

type Settings struct {
	Database DatabaseSettings `koanf:"database"`
	HTTP     HTTPSettings     `koanf:"http"`
	Log      LogSettings      `koanf:"log"`
	GitHub   GitHubSettings   `koanf:"github"`
	Restore  RestoreSettings  `koanf:"restore"`
	Ingest   IngestSettings   `koanf:"ingest"`
	// Relay is handed to the core config provider as a raw tree.
	Relay map[string]any `koanf:"relay"`
}

type DatabaseSettings struct {
	URL         string        `koanf:"url" validate:"required"`
	Driver      string        `koanf:"driver" validate:"omitempty,oneof=postgres sqlite"`
	Debug       bool          `koanf:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" validate:"gte=0"`
}

type HTTPSettings struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
}

type LogSettings struct {
	Dir     string `koanf:"dir"`
	File    string `koanf:"file" validate:"required"`
	Level   string `koanf:"level" validate:"oneof=debug info warn error"`
	Console bool   `koanf:"console"`
}

type GitHubSettings struct {
	Token      string `koanf:"token"`
	Repository string `koanf:"repository" validate:"omitempty,contains=/"`
	Ref        string `koanf:"ref"`
	Directory  string `koanf:"directory"`
}

type RestoreSettings struct {
	AdministratorsURL string `koanf:"administrators_url" validate:"omitempty,url"`
	ServersURL        string `koanf:"servers_url" validate:"omitempty,url"`
	BindingsURL       string `koanf:"bindings_url" validate:"omitempty,url"`
}

type IngestSettings struct {
	Secret         string        `koanf:"secret"`
	MaxBodyBytes   int64         `koanf:"max_body_bytes" validate:"gte=0"`
	IdempotencyTTL time.Duration `koanf:"idempotency_ttl" validate:"gte=0"`
}

func DefaultSettings() Settings {
	return Settings{
		Database: DatabaseSettings{
			URL:         "relay.db",
			PingTimeout: 5 * time.Second,
		},
		HTTP: HTTPSettings{
			Port:            3000,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogSettings{
			Dir:   "logs",
			File:  "relay.log",
			Level: "info",
		},
		GitHub: GitHubSettings{
			Ref:       "main",
			Directory: "data",
		},
		Ingest: IngestSettings{
			MaxBodyBytes:   1 << 20,
			IdempotencyTTL: 10 * time.Minute,
		},
	}
}

var validate = validator.New()

// LoadSettings merges defaults < YAML file < RELAY_ environment < overrides.
// An optional .env next to the working directory is loaded first; a missing
// path or .env is not an error.
func LoadSettings(path string, overrides map[string]any) (Settings, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if path = strings.TrimSpace(path); path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Settings{}, fmt.Errorf("relay: load config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Settings{}, fmt.Errorf("relay: stat config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(key string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, envPrefix), "__", "."))
	}), nil); err != nil {
		return Settings{}, fmt.Errorf("relay: load environment: %w", err)
	}

	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return Settings{}, fmt.Errorf("relay: override %s: %w", key, err)
		}
	}

	settings := DefaultSettings()
	if err := k.Unmarshal("", &settings); err != nil {
		return Settings{}, fmt.Errorf("relay: decode config: %w", err)
	}
	if settings.Database.Driver == "" {
		settings.Database.Driver = inferDriver(settings.Database.URL)
	}
	if err := validate.Struct(settings); err != nil {
		return Settings{}, fmt.Errorf("relay: invalid config: %w", err)
	}
	return settings, nil
}

// inferDriver treats postgres URLs and key/value DSNs as postgres and
// anything else as a sqlite path.
func inferDriver(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return driverPostgres
	case strings.Contains(dsn, "host=") && strings.Contains(dsn, "dbname="):
		return driverPostgres
	default:
		return driverSQLite
	}
}

func (s Settings) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.HTTP.Host, s.HTTP.Port)
}

func (s RestoreSettings) Configured() bool {
	return s.AdministratorsURL != "" || s.ServersURL != "" || s.BindingsURL != ""
}
