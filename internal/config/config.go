package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rewired-gh/soulwatch/internal/apperr"
)

// Config represents the complete application configuration
type Config struct {
	Roblox    RobloxConfig    `mapstructure:"roblox"`
	Discord   DiscordConfig   `mapstructure:"discord"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Events    EventsConfig    `mapstructure:"events"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Changelog ChangelogConfig `mapstructure:"changelog"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// RobloxConfig holds the credential pool and the consumed API endpoints
type RobloxConfig struct {
	Credentials      []string      `mapstructure:"credentials"`
	UsersAPIURL      string        `mapstructure:"users_api_url"`
	PresenceAPIURL   string        `mapstructure:"presence_api_url"`
	ThumbnailsAPIURL string        `mapstructure:"thumbnails_api_url"`
	EconomyAPIURL    string        `mapstructure:"economy_api_url"`
	CatalogAPIURL    string        `mapstructure:"catalog_api_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelayBase   time.Duration `mapstructure:"retry_delay_base"`
	SearchLimit      int           `mapstructure:"search_limit"`
}

// DiscordConfig holds the bot token and the channel layout used to resolve destinations
type DiscordConfig struct {
	BotToken         string        `mapstructure:"bot_token"`
	Category         string        `mapstructure:"category"`
	StatusChannel    string        `mapstructure:"status_channel"`
	ItemChannel      string        `mapstructure:"item_channel"`
	ChangelogChannel string        `mapstructure:"changelog_channel"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelayBase   time.Duration `mapstructure:"retry_delay_base"`
}

// PollerConfig holds the tick intervals of the periodic tasks
type PollerConfig struct {
	PresenceInterval  time.Duration `mapstructure:"presence_interval"`
	ItemInterval      time.Duration `mapstructure:"item_interval"`
	ChangelogInterval time.Duration `mapstructure:"changelog_interval"`
}

// StorageConfig selects where tracking lists and changelog state are persisted
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	DBPath   string `mapstructure:"db_path"`
	FilePath string `mapstructure:"file_path"`
}

// CacheConfig selects the presence state cache backend
type CacheConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// EventsConfig configures the optional Kafka mirror of transition events
type EventsConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// TelegramConfig holds operator alert configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ChangelogConfig configures the changelog broadcast trigger
type ChangelogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first when present;
// a missing config file is not an error, so env-only deployments work.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// SOULWATCH_ROBLOX_CREDENTIALS overrides roblox.credentials, and so on
	v.SetEnvPrefix("SOULWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Roblox.Credentials = splitList(cfg.Roblox.Credentials)
	cfg.Events.Brokers = splitList(cfg.Events.Brokers)

	return &cfg, nil
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Roblox defaults
	v.SetDefault("roblox.credentials", []string{})
	v.SetDefault("roblox.users_api_url", "https://users.roblox.com")
	v.SetDefault("roblox.presence_api_url", "https://presence.roblox.com")
	v.SetDefault("roblox.thumbnails_api_url", "https://thumbnails.roblox.com")
	v.SetDefault("roblox.economy_api_url", "https://economy.roblox.com")
	v.SetDefault("roblox.catalog_api_url", "https://economy.roblox.com")
	v.SetDefault("roblox.timeout", "10s")
	v.SetDefault("roblox.max_retries", 1) // a failed fetch waits for the next tick
	v.SetDefault("roblox.retry_delay_base", "1s")
	v.SetDefault("roblox.search_limit", 10)

	// Discord defaults
	v.SetDefault("discord.bot_token", "")
	v.SetDefault("discord.category", "Soul")
	v.SetDefault("discord.status_channel", "status-updates")
	v.SetDefault("discord.item_channel", "item-updates")
	v.SetDefault("discord.changelog_channel", "changelogs")
	v.SetDefault("discord.max_retries", 3)
	v.SetDefault("discord.retry_delay_base", "1s")

	// Poller defaults
	v.SetDefault("poller.presence_interval", "30s")
	v.SetDefault("poller.item_interval", "10m")
	v.SetDefault("poller.changelog_interval", "10m")

	// Storage defaults
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.db_path", "./data/soulwatch.db")
	v.SetDefault("storage.file_path", "./data/tracking.yaml")

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "soulwatch")

	// Events defaults
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.brokers", []string{"localhost:9092"})
	v.SetDefault("events.topic", "soulwatch.transitions")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Changelog defaults
	v.SetDefault("changelog.enabled", true)
	v.SetDefault("changelog.path", "changelog.md")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid.
// Every failure is an apperr configuration error; the process must not start.
func (c *Config) Validate() error {
	// Validate Roblox config
	if len(c.Roblox.Credentials) == 0 {
		return apperr.Configuration("roblox.credentials must contain at least one credential")
	}
	if c.Roblox.UsersAPIURL == "" || c.Roblox.PresenceAPIURL == "" || c.Roblox.ThumbnailsAPIURL == "" ||
		c.Roblox.EconomyAPIURL == "" || c.Roblox.CatalogAPIURL == "" {
		return apperr.Configuration("roblox API URLs must not be empty")
	}
	if c.Roblox.Timeout <= 0 {
		return apperr.Configuration("roblox.timeout must be positive")
	}
	if c.Roblox.MaxRetries < 1 {
		return apperr.Configuration("roblox.max_retries must be at least 1")
	}
	if c.Roblox.SearchLimit < 1 || c.Roblox.SearchLimit > 100 {
		return apperr.Configuration("roblox.search_limit must be between 1 and 100")
	}

	// Validate Discord config
	if c.Discord.BotToken == "" {
		return apperr.Configuration("discord.bot_token is required")
	}
	if c.Discord.Category == "" || c.Discord.StatusChannel == "" || c.Discord.ItemChannel == "" || c.Discord.ChangelogChannel == "" {
		return apperr.Configuration("discord category and channel names must not be empty")
	}

	// Validate Poller config
	if c.Poller.PresenceInterval < time.Second {
		return apperr.Configuration("poller.presence_interval must be at least 1 second")
	}
	if c.Poller.ItemInterval < time.Second {
		return apperr.Configuration("poller.item_interval must be at least 1 second")
	}
	if c.Poller.ChangelogInterval < time.Second {
		return apperr.Configuration("poller.changelog_interval must be at least 1 second")
	}

	// Validate Storage config
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return apperr.Configuration("storage.db_path is required for the sqlite backend")
		}
	case "file":
		if c.Storage.FilePath == "" {
			return apperr.Configuration("storage.file_path is required for the file backend")
		}
	default:
		return apperr.Configuration("storage.backend must be one of: sqlite, file")
	}

	// Validate Cache config
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return apperr.Configuration("cache.redis_addr is required for the redis backend")
		}
	default:
		return apperr.Configuration("cache.backend must be one of: memory, redis")
	}

	// Validate Events config
	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			return apperr.Configuration("events.brokers is required when events are enabled")
		}
		if c.Events.Topic == "" {
			return apperr.Configuration("events.topic is required when events are enabled")
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return apperr.Configuration("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return apperr.Configuration("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Changelog config
	if c.Changelog.Enabled && c.Changelog.Path == "" {
		return apperr.Configuration("changelog.path is required when the changelog trigger is enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return apperr.Configuration("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return apperr.Configuration("logging.format must be one of: json, text")
	}

	return nil
}
