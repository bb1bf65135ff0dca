package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BOTCORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BOTCORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Bot ──
	setStr(&cfg.Bot.Name, "BOTCORE_BOT_NAME")
	setStr(&cfg.Bot.Strategy, "BOTCORE_BOT_STRATEGY")
	setStringSlice(&cfg.Bot.Pairs, "BOTCORE_BOT_PAIRS")
	setStr(&cfg.Bot.Timeframe, "BOTCORE_BOT_TIMEFRAME")
	setDuration(&cfg.Bot.PollInterval, "BOTCORE_BOT_POLL_INTERVAL")

	// ── Executor ──
	setFloat64(&cfg.Executor.DefaultQuantity, "BOTCORE_EXECUTOR_DEFAULT_QUANTITY")
	setFloat64(&cfg.Executor.SlippageBps, "BOTCORE_EXECUTOR_SLIPPAGE_BPS")
	setDuration(&cfg.Executor.DedupTTL, "BOTCORE_EXECUTOR_DEDUP_TTL")

	// ── Feed ──
	setFloat64(&cfg.Feed.StartPrice, "BOTCORE_FEED_START_PRICE")
	setFloat64(&cfg.Feed.Volatility, "BOTCORE_FEED_VOLATILITY")
	setDuration(&cfg.Feed.TickInterval, "BOTCORE_FEED_TICK_INTERVAL")
	setDuration(&cfg.Feed.CandleInterval, "BOTCORE_FEED_CANDLE_INTERVAL")
	setUint64(&cfg.Feed.Seed, "BOTCORE_FEED_SEED")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BOTCORE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BOTCORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BOTCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BOTCORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BOTCORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BOTCORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BOTCORE_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "BOTCORE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "BOTCORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BOTCORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BOTCORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BOTCORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BOTCORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BOTCORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BOTCORE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BOTCORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BOTCORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BOTCORE_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BOTCORE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BOTCORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BOTCORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "BOTCORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BOTCORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BOTCORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BOTCORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BOTCORE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BOTCORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BOTCORE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BOTCORE_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BOTCORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BOTCORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BOTCORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BOTCORE_NOTIFY_EVENTS")

	// ── Archive ──
	setDuration(&cfg.Archive.Interval, "BOTCORE_ARCHIVE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "BOTCORE_MODE")
	setStr(&cfg.LogLevel, "BOTCORE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
