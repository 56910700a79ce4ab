package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/niftyoracle/internal/credentials"
	"github.com/rewired-gh/niftyoracle/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	Kite        KiteConfig        `mapstructure:"kite"`
	Feed        FeedConfig        `mapstructure:"feed"`
	Contest     ContestConfig     `mapstructure:"contest"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// KiteConfig holds Kite Connect API configuration
type KiteConfig struct {
	APIURL       string        `mapstructure:"api_url"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	RequestToken string        `mapstructure:"request_token"`
	AccessToken  string        `mapstructure:"access_token"`
	Instrument   string        `mapstructure:"instrument"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"` // requests per second
}

// FeedConfig holds price polling configuration
type FeedConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RetryBase    time.Duration `mapstructure:"retry_base"`
	RetryMax     time.Duration `mapstructure:"retry_max"`
}

// ContestConfig holds contest rules
type ContestConfig struct {
	BandPct     float64 `mapstructure:"band_pct"`
	TopN        int     `mapstructure:"top_n"`
	DefaultName string  `mapstructure:"default_name"`
}

// AdminConfig holds admin login configuration
type AdminConfig struct {
	PIN        string        `mapstructure:"pin"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// CredentialsConfig locates the dotenv file holding broker secrets
type CredentialsConfig struct {
	EnvPath string `mapstructure:"env_path"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath     string `mapstructure:"db_path"`
	MaxSamples int    `mapstructure:"max_samples"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables, then fills
// any secret left empty from the credentials dotenv file.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override, e.g. NIFTY_ORACLE_KITE_API_KEY
	v.SetEnvPrefix("NIFTY_ORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Credentials.EnvPath != "" {
		secrets, err := credentials.NewEnvFile(cfg.Credentials.EnvPath).Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials: %w", err)
		}
		cfg.ApplySecrets(secrets)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Kite defaults; empty secrets are declared so env overrides bind
	v.SetDefault("kite.api_url", "https://api.kite.trade")
	v.SetDefault("kite.api_key", "")
	v.SetDefault("kite.api_secret", "")
	v.SetDefault("kite.request_token", "")
	v.SetDefault("kite.access_token", "")
	v.SetDefault("kite.instrument", "NSE:NIFTY 50")
	v.SetDefault("kite.timeout", "10s")
	v.SetDefault("kite.rate_limit", 3.0)

	// Feed defaults
	v.SetDefault("feed.poll_interval", "1m")
	v.SetDefault("feed.retry_base", "1m")
	v.SetDefault("feed.retry_max", "10m")

	// Contest defaults
	v.SetDefault("contest.band_pct", models.DefaultBandPct)
	v.SetDefault("contest.top_n", 3)
	v.SetDefault("contest.default_name", "Default Contest")

	// Admin defaults
	v.SetDefault("admin.pin", "")
	v.SetDefault("admin.session_ttl", "12h")

	v.SetDefault("credentials.env_path", ".env")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/nifty-oracle.db")
	v.SetDefault("storage.max_samples", 100000)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9095")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// ApplySecrets fills empty secret fields from s. Values already set by the
// config file or environment win.
func (c *Config) ApplySecrets(s credentials.Secrets) {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&c.Kite.APIKey, s.APIKey)
	fill(&c.Kite.APISecret, s.APISecret)
	fill(&c.Kite.RequestToken, s.RequestToken)
	fill(&c.Kite.AccessToken, s.AccessToken)
	fill(&c.Admin.PIN, s.AdminPIN)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Kite config
	if c.Kite.APIURL == "" {
		return fmt.Errorf("kite.api_url is required")
	}
	if c.Kite.Instrument == "" {
		return fmt.Errorf("kite.instrument is required")
	}
	if c.Kite.Timeout <= 0 {
		return fmt.Errorf("kite.timeout must be positive")
	}
	if c.Kite.RateLimit <= 0 {
		return fmt.Errorf("kite.rate_limit must be positive")
	}

	// Validate Feed config
	if c.Feed.PollInterval < 10*time.Second {
		return fmt.Errorf("feed.poll_interval must be at least 10 seconds")
	}
	if c.Feed.RetryBase <= 0 {
		return fmt.Errorf("feed.retry_base must be positive")
	}
	if c.Feed.RetryMax < c.Feed.RetryBase {
		return fmt.Errorf("feed.retry_max must not be less than feed.retry_base")
	}

	// Validate Contest config
	if c.Contest.BandPct <= 0 || c.Contest.BandPct >= 1 {
		return fmt.Errorf("contest.band_pct must be between 0 and 1")
	}
	if c.Contest.TopN < 1 {
		return fmt.Errorf("contest.top_n must be at least 1")
	}
	if strings.TrimSpace(c.Contest.DefaultName) == "" {
		return fmt.Errorf("contest.default_name is required")
	}

	// Validate Admin config
	if c.Admin.PIN == "" {
		return fmt.Errorf("admin.pin is required (or ADMIN_PIN in %s)", c.Credentials.EnvPath)
	}
	if c.Admin.SessionTTL < time.Minute {
		return fmt.Errorf("admin.session_ttl must be at least 1 minute")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxSamples < 1 {
		return fmt.Errorf("storage.max_samples must be at least 1")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
