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
// built-in defaults, applies SETTLED_* environment variable overrides, and
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

// applyEnvOverrides reads well-known SETTLED_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Backend, "SETTLED_STORAGE_BACKEND")

	// ── Database ──
	setStr(&cfg.Database.DSN, "SETTLED_DATABASE_DSN")
	setStr(&cfg.Database.Host, "SETTLED_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SETTLED_DATABASE_PORT")
	setStr(&cfg.Database.Database, "SETTLED_DATABASE_NAME")
	setStr(&cfg.Database.User, "SETTLED_DATABASE_USER")
	setStr(&cfg.Database.Password, "SETTLED_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SETTLED_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "SETTLED_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "SETTLED_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "SETTLED_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SETTLED_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SETTLED_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SETTLED_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SETTLED_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SETTLED_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SETTLED_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SETTLED_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SETTLED_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SETTLED_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SETTLED_S3_REGION")
	setStr(&cfg.S3.Bucket, "SETTLED_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SETTLED_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SETTLED_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SETTLED_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SETTLED_S3_FORCE_PATH_STYLE")

	// ── Resolver ──
	setStr(&cfg.Resolver.PrivateKey, "SETTLED_RESOLVER_PRIVATE_KEY")
	setStr(&cfg.Resolver.EncryptedKeyPath, "SETTLED_RESOLVER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Resolver.KeyPassword, "SETTLED_RESOLVER_KEY_PASSWORD")
	setStr(&cfg.Resolver.Measurement, "SETTLED_RESOLVER_MEASUREMENT")

	// ── Registry ──
	setStr(&cfg.Registry.Admin, "SETTLED_REGISTRY_ADMIN")
	setStr(&cfg.Registry.FeeRecipient, "SETTLED_REGISTRY_FEE_RECIPIENT")
	setInt(&cfg.Registry.ProtocolFeeBps, "SETTLED_REGISTRY_PROTOCOL_FEE_BPS")

	// ── Watcher ──
	setBool(&cfg.Watcher.Enabled, "SETTLED_WATCHER_ENABLED")
	setDuration(&cfg.Watcher.SweepInterval, "SETTLED_WATCHER_SWEEP_INTERVAL")
	setInt(&cfg.Watcher.BatchSize, "SETTLED_WATCHER_BATCH_SIZE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SETTLED_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SETTLED_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "SETTLED_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SETTLED_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SETTLED_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SETTLED_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SETTLED_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SETTLED_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "SETTLED_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SETTLED_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SETTLED_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SETTLED_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SETTLED_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SETTLED_MODE")
	setStr(&cfg.LogLevel, "SETTLED_LOG_LEVEL")
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
