// Package config loads the sync-server configuration from YAML, applies
// defaults, environment secret overrides and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" decode naturally.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration tree for the sync server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Vault     VaultConfig     `yaml:"vault"`
	Providers ProvidersConfig `yaml:"providers"`
	Sync      SyncConfig      `yaml:"sync"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string   `yaml:"host" default:"0.0.0.0"`
	Port            int      `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// SetDefaults implements defaults.Setter for the duration fields.
func (c *ServerConfig) SetDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = Duration(30 * time.Second)
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = Duration(60 * time.Second)
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = Duration(90 * time.Second)
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = Duration(30 * time.Second)
	}
}

// DatabaseConfig contains Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost" validate:"required"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user" default:"insights"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"insights" validate:"required"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
}

// AuthConfig contains the shared secrets protecting the HTTP surface.
// Both secrets are normally injected via environment variables rather than
// the YAML file.
type AuthConfig struct {
	CronSecret string `yaml:"cron_secret" validate:"required"`
	JWTSecret  string `yaml:"jwt_secret" validate:"required"`
	JWTIssuer  string `yaml:"jwt_issuer" default:"insights-middleware"`
}

// VaultConfig contains credential encryption settings.
type VaultConfig struct {
	// EncryptionKey is the master secret the AES key is derived from.
	EncryptionKey string `yaml:"encryption_key" validate:"required,min=16"`
	// RefreshMargin refreshes access secrets that expire within this window.
	RefreshMargin Duration `yaml:"refresh_margin"`
}

func (c *VaultConfig) SetDefaults() {
	if c.RefreshMargin == 0 {
		c.RefreshMargin = Duration(5 * time.Minute)
	}
}

// ProvidersConfig contains upstream OAuth client settings shared by the
// provider adapters.
type ProvidersConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// TokenURL overrides the provider token endpoint; used by tests.
	TokenURL string `yaml:"token_url"`
	// AdsDeveloperToken is required by the ads reporting API only.
	AdsDeveloperToken string `yaml:"ads_developer_token"`
}

// SyncConfig contains the knobs of the ingestion pipeline.
type SyncConfig struct {
	BackfillDays     int      `yaml:"backfill_days" default:"90" validate:"gt=0"`
	ChunkSize        int      `yaml:"chunk_size" default:"50" validate:"gt=0"`
	ChunkTimeout     Duration `yaml:"chunk_timeout"`
	ChunkDelay       Duration `yaml:"chunk_delay"`
	PeriodDelay      Duration `yaml:"period_delay"`
	IntegrationDelay Duration `yaml:"integration_delay"`
	RunBudget        Duration `yaml:"run_budget"`
	// Scheduler settings for the in-process periodic sweeps. When disabled
	// only the HTTP cron endpoints trigger runs.
	SchedulerEnabled bool     `yaml:"scheduler_enabled" default:"true"`
	BackfillInterval Duration `yaml:"backfill_interval"`
	DailyInterval    Duration `yaml:"daily_interval"`
}

func (c *SyncConfig) SetDefaults() {
	if c.ChunkTimeout == 0 {
		c.ChunkTimeout = Duration(15 * time.Second)
	}
	if c.ChunkDelay == 0 {
		c.ChunkDelay = Duration(100 * time.Millisecond)
	}
	if c.PeriodDelay == 0 {
		c.PeriodDelay = Duration(time.Second)
	}
	if c.IntegrationDelay == 0 {
		c.IntegrationDelay = Duration(2 * time.Second)
	}
	if c.RunBudget == 0 {
		c.RunBudget = Duration(10 * time.Minute)
	}
	if c.BackfillInterval == 0 {
		c.BackfillInterval = Duration(15 * time.Minute)
	}
	if c.DailyInterval == 0 {
		c.DailyInterval = Duration(24 * time.Hour)
	}
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// Load reads configuration from path, applies defaults, environment
// overrides for secrets, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides injects secrets from the environment. Environment values
// win over the file so secrets never need to live on disk.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		cfg.Vault.EncryptionKey = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		cfg.Auth.CronSecret = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("PROVIDER_CLIENT_ID"); v != "" {
		cfg.Providers.ClientID = v
	}
	if v := os.Getenv("PROVIDER_CLIENT_SECRET"); v != "" {
		cfg.Providers.ClientSecret = v
	}
	if v := os.Getenv("ADS_DEVELOPER_TOKEN"); v != "" {
		cfg.Providers.AdsDeveloperToken = v
	}
}
