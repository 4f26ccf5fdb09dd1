package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "hybrid" },
			wantMsg: "unknown mode",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "trace" },
			wantMsg: "unknown log_level",
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "sqlite" },
			wantMsg: "unknown storage backend",
		},
		{
			name: "postgres without host or dsn",
			mutate: func(c *Config) {
				c.Database.DSN = ""
				c.Database.Host = ""
			},
			wantMsg: "database: host must not be empty",
		},
		{
			name:    "pool min exceeds max",
			mutate:  func(c *Config) { c.Database.PoolMinConns = 50 },
			wantMsg: "pool_min_conns must not exceed",
		},
		{
			name: "redis enabled without addr",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Addr = ""
			},
			wantMsg: "redis: addr must not be empty",
		},
		{
			name: "s3 enabled without bucket",
			mutate: func(c *Config) {
				c.S3.Enabled = true
				c.S3.Bucket = ""
			},
			wantMsg: "s3: bucket must not be empty",
		},
		{
			name: "encrypted key without password",
			mutate: func(c *Config) {
				c.Resolver.EncryptedKeyPath = "/etc/settled/key.json"
			},
			wantMsg: "resolver: key_password is required",
		},
		{
			name:    "protocol fee out of range",
			mutate:  func(c *Config) { c.Registry.ProtocolFeeBps = 10001 },
			wantMsg: "protocol_fee_bps must be 0-10000",
		},
		{
			name: "watcher with zero interval",
			mutate: func(c *Config) {
				c.Watcher.SweepInterval = duration{}
			},
			wantMsg: "sweep_interval must be > 0",
		},
		{
			name: "archive without s3",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.S3.Enabled = false
			},
			wantMsg: "archive: s3 must be enabled",
		},
		{
			name: "server rate limit without window",
			mutate: func(c *Config) {
				c.Server.RateLimit = 100
				c.Server.RateLimitWindow = duration{}
			},
			wantMsg: "rate_limit_window must be > 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantMsg)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "bogus"
	cfg.Storage.Backend = "bogus"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "unknown mode")
	assert.ErrorContains(t, err, "unknown log_level")
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestMemoryBackendSkipsDatabaseChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Backend = "memory"
	cfg.Database = DatabaseConfig{}
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"
log_level = "debug"

[storage]
backend = "memory"

[watcher]
sweep_interval = "30s"
batch_size = 25
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 30*time.Second, cfg.Watcher.SweepInterval.Duration)
	assert.Equal(t, 25, cfg.Watcher.BatchSize)

	// Untouched sections keep their defaults.
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SETTLED_MODE", "watch")
	t.Setenv("SETTLED_STORAGE_BACKEND", "memory")
	t.Setenv("SETTLED_DATABASE_PASSWORD", "s3cret")
	t.Setenv("SETTLED_DATABASE_PORT", "5433")
	t.Setenv("SETTLED_REDIS_ENABLED", "false")
	t.Setenv("SETTLED_WATCHER_SWEEP_INTERVAL", "2m")
	t.Setenv("SETTLED_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "watch", cfg.Mode)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Watcher.SweepInterval.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestEnvOverridesIgnoreMalformedValues(t *testing.T) {
	t.Setenv("SETTLED_DATABASE_PORT", "not-a-number")
	t.Setenv("SETTLED_REDIS_ENABLED", "maybe")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.True(t, cfg.Redis.Enabled)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Resolver.PrivateKey = "deadbeef"
	cfg.Server.APIKey = "api-secret"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Database.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Resolver.PrivateKey)
	assert.Equal(t, "***", red.Server.APIKey)

	// Empty secrets stay empty and non-secret fields pass through.
	assert.Empty(t, red.Database.DSN)
	assert.Equal(t, "localhost", red.Database.Host)

	// The original is untouched.
	assert.Equal(t, "pg-secret", cfg.Database.Password)

	// Slices are copied, not aliased.
	red.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
