// Package config loads and validates application configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Gamma      GammaConfig      `mapstructure:"gamma"`
	Forecaster ForecasterConfig `mapstructure:"forecaster"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Server     ServerConfig     `mapstructure:"server"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// GammaConfig holds upstream market API configuration.
type GammaConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PageSize     int           `mapstructure:"page_size"`
	MaxEvents    int           `mapstructure:"max_events"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// ForecasterConfig holds external calibration service configuration.
type ForecasterConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	RateBurst   int           `mapstructure:"rate_burst"`
	Concurrency int           `mapstructure:"concurrency"`
}

// EngineConfig holds the selector constants and digest size. They flow into
// the engine as explicit configuration so tests can vary them freely.
type EngineConfig struct {
	MinOddsThreshold float64 `mapstructure:"min_odds_threshold"`
	MinMarkets       int     `mapstructure:"min_markets"`
	MaxMarkets       int     `mapstructure:"max_markets"`
	DigestTopK       int     `mapstructure:"digest_top_k"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// StorageConfig holds storage and persistence configuration.
type StorageConfig struct {
	DBPath    string `mapstructure:"db_path"`
	MaxEvents int    `mapstructure:"max_events"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("ODDSLENS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("gamma.base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("gamma.poll_interval", "10m")
	v.SetDefault("gamma.page_size", 50)
	v.SetDefault("gamma.max_events", 200)
	v.SetDefault("gamma.timeout", "30s")
	v.SetDefault("gamma.max_retries", 3)
	v.SetDefault("gamma.retry_delay", "1s")
	v.SetDefault("gamma.rate_limit", 10.0)
	v.SetDefault("gamma.rate_burst", 5)

	v.SetDefault("forecaster.enabled", true)
	v.SetDefault("forecaster.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("forecaster.model", "gemini-2.0-flash")
	v.SetDefault("forecaster.timeout", "60s")
	v.SetDefault("forecaster.max_retries", 3)
	v.SetDefault("forecaster.retry_delay", "2s")
	v.SetDefault("forecaster.rate_limit", 2.0)
	v.SetDefault("forecaster.rate_burst", 1)
	v.SetDefault("forecaster.concurrency", 5)

	v.SetDefault("engine.min_odds_threshold", 0.05)
	v.SetDefault("engine.min_markets", 2)
	v.SetDefault("engine.max_markets", 5)
	v.SetDefault("engine.digest_top_k", 10)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", "1s")

	v.SetDefault("storage.db_path", "./data/oddslens.db")
	v.SetDefault("storage.max_events", 1000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if c.Gamma.BaseURL == "" {
		return fmt.Errorf("gamma.base_url is required")
	}
	if c.Gamma.PollInterval < time.Minute {
		return fmt.Errorf("gamma.poll_interval must be at least 1 minute")
	}
	if c.Gamma.PageSize < 1 || c.Gamma.PageSize > 500 {
		return fmt.Errorf("gamma.page_size must be between 1 and 500")
	}
	if c.Gamma.MaxEvents < 1 {
		return fmt.Errorf("gamma.max_events must be at least 1")
	}
	if c.Gamma.RateLimit <= 0 {
		return fmt.Errorf("gamma.rate_limit must be positive")
	}

	if c.Forecaster.Enabled {
		if c.Forecaster.BaseURL == "" {
			return fmt.Errorf("forecaster.base_url is required when forecaster is enabled")
		}
		if c.Forecaster.APIKey == "" {
			return fmt.Errorf("forecaster.api_key is required when forecaster is enabled")
		}
		if c.Forecaster.Model == "" {
			return fmt.Errorf("forecaster.model is required when forecaster is enabled")
		}
		if c.Forecaster.Concurrency < 1 {
			return fmt.Errorf("forecaster.concurrency must be at least 1")
		}
	}

	if c.Engine.MinOddsThreshold < 0 || c.Engine.MinOddsThreshold > 1 {
		return fmt.Errorf("engine.min_odds_threshold must be between 0.0 and 1.0")
	}
	if c.Engine.MinMarkets < 1 {
		return fmt.Errorf("engine.min_markets must be at least 1")
	}
	if c.Engine.MaxMarkets < c.Engine.MinMarkets {
		return fmt.Errorf("engine.max_markets must be >= engine.min_markets")
	}
	if c.Engine.DigestTopK < 1 {
		return fmt.Errorf("engine.digest_top_k must be at least 1")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxEvents < 1 {
		return fmt.Errorf("storage.max_events must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, console")
	}

	return nil
}

// SelectorConfig returns the engine selector constants.
func (c *Config) SelectorConfig() (minOdds float64, minMarkets, maxMarkets int) {
	return c.Engine.MinOddsThreshold, c.Engine.MinMarkets, c.Engine.MaxMarkets
}
