package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/spice-rules/internal/common"
)

// EnvPrefix is prepended to environment variable overrides, e.g. SPICE_DATABASE_PATH.
const EnvPrefix = "SPICE"

// Config is the full application configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	User      UserConfig      `mapstructure:"user"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Reapply   ReapplyConfig   `mapstructure:"reapply"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Advisory  AdvisoryConfig  `mapstructure:"advisory"`
	Server    ServerConfig    `mapstructure:"server"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// UserConfig selects whose rules and transactions commands operate on.
type UserConfig struct {
	ID string `mapstructure:"id"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ReapplyConfig sizes reapplication passes.
type ReapplyConfig struct {
	Workers  int `mapstructure:"workers"`
	PageSize int `mapstructure:"page_size"`
}

// DiscoveryConfig holds rule discovery defaults.
type DiscoveryConfig struct {
	MinOccurrences  int `mapstructure:"min_occurrences"`
	Limit           int `mapstructure:"limit"`
	SignatureLength int `mapstructure:"signature_length"`
}

// AdvisoryConfig configures the optional language model advisor. An empty provider disables it.
type AdvisoryConfig struct {
	Provider   string        `mapstructure:"provider"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxRetries int           `mapstructure:"max_retries"`
	RateLimit  int           `mapstructure:"rate_limit"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// Enabled reports whether an advisory provider is configured.
func (a AdvisoryConfig) Enabled() bool {
	return a.Provider != ""
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	CertDir        string   `mapstructure:"cert_dir"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	Port           int      `mapstructure:"port"`
	TLS            bool     `mapstructure:"tls"`
}

// SetDefaults registers every key with its default so env overrides resolve during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath())
	v.SetDefault("user.id", "default")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("reapply.workers", 4)
	v.SetDefault("reapply.page_size", 500)
	v.SetDefault("discovery.min_occurrences", 2)
	v.SetDefault("discovery.limit", 50)
	v.SetDefault("discovery.signature_length", 0)
	v.SetDefault("advisory.provider", "")
	v.SetDefault("advisory.api_key", "")
	v.SetDefault("advisory.model", "")
	v.SetDefault("advisory.base_url", "")
	v.SetDefault("advisory.max_retries", 3)
	v.SetDefault("advisory.rate_limit", 30)
	v.SetDefault("advisory.cache_ttl", 15*time.Minute)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.tls", false)
	v.SetDefault("server.cert_dir", DefaultCertDir())
}

// Init prepares v to read config.yaml from cfgFile, or from the default search path when empty.
// A missing config file is not an error.
func Init(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(ExpandPath(cfgFile))
	} else {
		v.AddConfigPath(DefaultConfigDir())
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Server.CertDir = ExpandPath(cfg.Server.CertDir)
	cfg.Advisory.Provider = strings.ToLower(strings.TrimSpace(cfg.Advisory.Provider))
	if cfg.Advisory.APIKey == "" {
		cfg.Advisory.APIKey = providerKeyFromEnv(cfg.Advisory.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail deep inside a command.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	if strings.TrimSpace(c.User.ID) == "" {
		return fmt.Errorf("%w: user.id", common.ErrMissingConfig)
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: logging.format %q (want console or json)", common.ErrInvalidConfig, c.Logging.Format)
	}
	if c.Reapply.Workers < 1 {
		return fmt.Errorf("%w: reapply.workers must be positive", common.ErrInvalidConfig)
	}
	if c.Reapply.PageSize < 1 {
		return fmt.Errorf("%w: reapply.page_size must be positive", common.ErrInvalidConfig)
	}
	if c.Discovery.MinOccurrences < 0 || c.Discovery.Limit < 0 || c.Discovery.SignatureLength < 0 {
		return fmt.Errorf("%w: discovery settings cannot be negative", common.ErrInvalidConfig)
	}
	switch c.Advisory.Provider {
	case "":
	case "anthropic", "openai":
		if c.Advisory.APIKey == "" {
			return fmt.Errorf("%w: advisory.api_key for provider %s", common.ErrMissingConfig, c.Advisory.Provider)
		}
	default:
		return fmt.Errorf("%w: advisory.provider %q", common.ErrInvalidConfig, c.Advisory.Provider)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d", common.ErrInvalidConfig, c.Server.Port)
	}
	return nil
}

func providerKeyFromEnv(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}
