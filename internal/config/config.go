package config

import (
	"time"

	"github.com/veylan/armory/internal/auth"
	"github.com/veylan/armory/internal/credstore"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig     `yaml:"server"`
	Logging  LoggingConfig    `yaml:"logging"`
	Platform PlatformConfig   `yaml:"platform"`
	OAuth    auth.OAuthConfig `yaml:"oauth"`
	Store    StoreConfig      `yaml:"store"`
	Pacing   PacingConfig     `yaml:"pacing"`
}

// ServerConfig holds health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// PlatformConfig holds remote platform API settings.
type PlatformConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig selects and configures the credential store.
// Type is one of: memory, file, redis, postgres.
type StoreConfig struct {
	Type     string                   `yaml:"type"`
	Path     string                   `yaml:"path"` // for type: file
	Redis    credstore.RedisConfig    `yaml:"redis"`
	Database credstore.PostgresConfig `yaml:"database"`
}

// PacingConfig overrides the built-in pacing table.
type PacingConfig struct {
	GlobalMin time.Duration  `yaml:"global_min"`
	Families  []FamilyConfig `yaml:"families"`
}

// FamilyConfig is one pacing-table row.
type FamilyConfig struct {
	Name          string        `yaml:"name"`
	Match         string        `yaml:"match"`
	MinInterval   time.Duration `yaml:"min_interval"`
	StateChanging bool          `yaml:"state_changing"`
}
