// Package config defines the top-level configuration for the bot runtime and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BOTCORE_* environment
// variables.
type Config struct {
	Bot      BotConfig      `toml:"bot"`
	Executor ExecutorConfig `toml:"executor"`
	Feed     FeedConfig     `toml:"feed"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BotConfig selects and parameterizes the strategy to run.
type BotConfig struct {
	Name         string            `toml:"name"`
	Strategy     string            `toml:"strategy"`
	Pairs        []string          `toml:"pairs"`
	Timeframe    string            `toml:"timeframe"`
	PollInterval duration          `toml:"poll_interval"`
	Params       map[string]string `toml:"params"`
}

// ExecutorConfig tunes the paper execution model.
type ExecutorConfig struct {
	DefaultQuantity float64  `toml:"default_quantity"`
	SlippageBps     float64  `toml:"slippage_bps"`
	DedupTTL        duration `toml:"dedup_ttl"`
}

// FeedConfig tunes the synthetic market data source.
type FeedConfig struct {
	StartPrice     float64  `toml:"start_price"`
	Volatility     float64  `toml:"volatility"`
	TickInterval   duration `toml:"tick_interval"`
	CandleInterval duration `toml:"candle_interval"`
	Seed           uint64   `toml:"seed"`
}

// RedisConfig holds Redis connection parameters. The event bus mirrors onto
// Redis pub/sub when enabled; otherwise an in-process bus is used.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade
// journal.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for snapshot
// archiving.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP status server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials and the event filter.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig tunes the periodic snapshot archiver.
type ArchiveConfig struct {
	Interval duration `toml:"interval"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Bot: BotConfig{
			Name:         "botcore",
			Strategy:     "mean_reversion",
			Pairs:        []string{"BTC/USDT"},
			Timeframe:    "1m",
			PollInterval: duration{100 * time.Millisecond},
			Params:       map[string]string{},
		},
		Executor: ExecutorConfig{
			DefaultQuantity: 1.0,
			SlippageBps:     5,
			DedupTTL:        duration{2 * time.Minute},
		},
		Feed: FeedConfig{
			StartPrice:     100,
			Volatility:     0.002,
			TickInterval:   duration{100 * time.Millisecond},
			CandleInterval: duration{time.Second},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "botcore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "botcore-data",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"order_filled", "position_closed", "error"},
		},
		Archive: ArchiveConfig{
			Interval: duration{5 * time.Minute},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade": true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Bot
	if c.Bot.Name == "" {
		errs = append(errs, "bot: name must not be empty")
	}
	if c.Bot.Strategy == "" {
		errs = append(errs, "bot: strategy must not be empty")
	}
	if len(c.Bot.Pairs) == 0 {
		errs = append(errs, "bot: at least one pair must be configured")
	}
	if c.Bot.Timeframe == "" {
		errs = append(errs, "bot: timeframe must not be empty")
	}
	if c.Bot.PollInterval.Duration < 0 {
		errs = append(errs, "bot: poll_interval must not be negative")
	}

	// Executor
	if c.Executor.DefaultQuantity <= 0 {
		errs = append(errs, "executor: default_quantity must be > 0")
	}
	if c.Executor.SlippageBps < 0 {
		errs = append(errs, "executor: slippage_bps must not be negative")
	}

	// Feed
	if c.Feed.StartPrice <= 0 {
		errs = append(errs, "feed: start_price must be > 0")
	}
	if c.Feed.Volatility <= 0 {
		errs = append(errs, "feed: volatility must be > 0")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0 when s3 is enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify: token and chat id go together.
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
