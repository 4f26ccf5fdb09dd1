package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/truthmarkets/settled/internal/blob/s3"
	"github.com/truthmarkets/settled/internal/cache/redis"
	"github.com/truthmarkets/settled/internal/config"
	"github.com/truthmarkets/settled/internal/domain"
	"github.com/truthmarkets/settled/internal/notify"
	"github.com/truthmarkets/settled/internal/store/memory"
	"github.com/truthmarkets/settled/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	ClaimStore      domain.ClaimStore
	PositionStore   domain.PositionStore
	SettlementStore domain.SettlementStore
	ResolverStore   domain.ResolverStore
	ParamsStore     domain.ParamsStore
	AuditStore      domain.AuditStore

	// Redis-backed infra; nil when redis is disabled.
	ClaimCache  domain.ClaimCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage; nil when s3 is disabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Persistence ---
	switch cfg.Storage.Backend {
	case "memory":
		claims := memory.NewClaimStore()
		positions := memory.NewPositionStore()
		deps.ClaimStore = claims
		deps.PositionStore = positions
		deps.SettlementStore = memory.NewSettlementStore(claims, positions)
		deps.ResolverStore = memory.NewResolverStore()
		deps.ParamsStore = memory.NewParamsStore(bootstrapParams(cfg))
		deps.AuditStore = memory.NewAuditStore()
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.ClaimStore = postgres.NewClaimStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.SettlementStore = postgres.NewSettlementStore(pool)
		deps.ResolverStore = postgres.NewResolverStore(pool)
		deps.ParamsStore = postgres.NewParamsStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)

		if err := ensureParams(ctx, deps.ParamsStore, cfg); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: bootstrap params: %w", err)
		}
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.ClaimCache = redis.NewClaimCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.AuditStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// bootstrapParams builds the initial protocol parameters record from
// configuration.
func bootstrapParams(cfg *config.Config) domain.Params {
	return domain.Params{
		Admin:          cfg.Registry.Admin,
		FeeRecipient:   cfg.Registry.FeeRecipient,
		ProtocolFeeBps: cfg.Registry.ProtocolFeeBps,
	}
}

// ensureParams seeds the singleton params record on first startup. An
// existing record is left untouched so config changes never silently
// override an admin handover done through the API.
func ensureParams(ctx context.Context, store domain.ParamsStore, cfg *config.Config) error {
	_, err := store.Get(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return store.Update(ctx, bootstrapParams(cfg))
}
