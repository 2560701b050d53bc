package core

import (
	"fmt"
	"strings"
	"time"
)

type DeliveryConfig struct {
	Timeout              time.Duration `koanf:"timeout" mapstructure:"timeout"`
	ValidationTimeout    time.Duration `koanf:"validation_timeout" mapstructure:"validation_timeout"`
	MaxResponseBodyBytes int64         `koanf:"max_response_body_bytes" mapstructure:"max_response_body_bytes"`
	ChannelBuffer        int           `koanf:"channel_buffer" mapstructure:"channel_buffer"`
}

type RegistryConfig struct {
	RequireHTTPS           bool `koanf:"require_https" mapstructure:"require_https"`
	MaxConsecutiveFailures int  `koanf:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
}

type SnapshotConfig struct {
	Directory        string `koanf:"directory" mapstructure:"directory"`
	Retain           int    `koanf:"retain" mapstructure:"retain"`
	Schedule         string `koanf:"schedule" mapstructure:"schedule"`
	FormatVersion    string `koanf:"format_version" mapstructure:"format_version"`
	ColdStartRestore bool   `koanf:"cold_start_restore" mapstructure:"cold_start_restore"`
}

type CacheConfig struct {
	Enabled   bool          `koanf:"enabled" mapstructure:"enabled"`
	LookupTTL time.Duration `koanf:"lookup_ttl" mapstructure:"lookup_ttl"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Delivery    DeliveryConfig `koanf:"delivery" mapstructure:"delivery"`
	Registry    RegistryConfig `koanf:"registry" mapstructure:"registry"`
	Snapshot    SnapshotConfig `koanf:"snapshot" mapstructure:"snapshot"`
	Cache       CacheConfig    `koanf:"cache" mapstructure:"cache"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "relay",
		Delivery: DeliveryConfig{
			Timeout:              10 * time.Second,
			ValidationTimeout:    3 * time.Second,
			MaxResponseBodyBytes: 1 << 20,
			ChannelBuffer:        64,
		},
		Registry: RegistryConfig{
			RequireHTTPS:           true,
			MaxConsecutiveFailures: MaxConsecutiveFailures,
		},
		Snapshot: SnapshotConfig{
			Directory:        "data",
			Retain:           24,
			Schedule:         "0 * * * *",
			FormatVersion:    SnapshotFormatVersion,
			ColdStartRestore: true,
		},
		Cache: CacheConfig{
			Enabled:   true,
			LookupTTL: 30 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Delivery.Timeout <= 0 {
		return fmt.Errorf("core: delivery.timeout must be positive")
	}
	if c.Delivery.ValidationTimeout <= 0 {
		return fmt.Errorf("core: delivery.validation_timeout must be positive")
	}
	if c.Delivery.MaxResponseBodyBytes <= 0 {
		return fmt.Errorf("core: delivery.max_response_body_bytes must be positive")
	}
	if c.Delivery.ChannelBuffer <= 0 {
		return fmt.Errorf("core: delivery.channel_buffer must be positive")
	}
	if c.Registry.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("core: registry.max_consecutive_failures must be positive")
	}
	if c.Snapshot.Retain < 0 {
		return fmt.Errorf("core: snapshot.retain must not be negative")
	}
	if strings.TrimSpace(c.Snapshot.FormatVersion) == "" {
		return fmt.Errorf("core: snapshot.format_version is required")
	}
	if c.Cache.Enabled && c.Cache.LookupTTL <= 0 {
		return fmt.Errorf("core: cache.lookup_ttl must be positive when cache is enabled")
	}
	return nil
}
