package app

import (
	"context"
	"fmt"

	s3blob "github.com/openperps/perpdesk/internal/blob/s3"
	memcache "github.com/openperps/perpdesk/internal/cache/memory"
	"github.com/openperps/perpdesk/internal/cache/redis"
	"github.com/openperps/perpdesk/internal/config"
	"github.com/openperps/perpdesk/internal/domain"
	"github.com/openperps/perpdesk/internal/store"
	"github.com/openperps/perpdesk/internal/store/file"
	memstore "github.com/openperps/perpdesk/internal/store/memory"
	"github.com/openperps/perpdesk/internal/store/postgres"
)

// Dependencies bundles the infrastructure the application modes build on. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Persistence. Repository carries the session and the demo ledger;
	// AuditStore carries the operation journal.
	Repository *store.Repository
	AuditStore domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter

	// Blob storage, wired only when archival is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- State and audit persistence ---
	switch cfg.Store.Backend {
	case "file":
		deps.Repository = store.NewRepository(file.New(cfg.Store.Path), cfg.Store.Key, cfg.Store.Passphrase)
		deps.AuditStore = memstore.NewAuditLog()
	case "memory":
		deps.Repository = store.NewRepository(memstore.New(), cfg.Store.Key, cfg.Store.Passphrase)
		deps.AuditStore = memstore.NewAuditLog()
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Repository = store.NewRepository(postgres.NewStateStore(pool), cfg.Store.Key, cfg.Store.Passphrase)
		deps.AuditStore = postgres.NewAuditStore(pool)
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown store backend %q", cfg.Store.Backend)
	}

	// --- Price cache and rate limiter ---
	switch cfg.Cache.Backend {
	case "memory":
		deps.PriceCache = memcache.NewPriceCache()
		deps.RateLimiter = memcache.NewRateLimiter()
	case "redis":
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

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown cache backend %q", cfg.Cache.Backend)
	}

	// --- S3 blob storage (only when the audit archive is enabled) ---
	if cfg.Archive.Enabled {
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

		// Fail the boot on a misconfigured archive rather than the
		// first sweep.
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	return deps, cleanup, nil
}
