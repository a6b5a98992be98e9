package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/marketplace/internal/health"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/postgres"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/redis"
)

const redisPingTimeout = 2 * time.Second

// runtimeDependencies — хранилище и связанные с ним ресурсы процесса.
type runtimeDependencies struct {
	store           domain.Store
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

// initRuntimeDependencies поднимает хранилище выбранного драйвера.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		return runtimeDependencies{
			store:           store,
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageChecker: healthcheck.NewSimpleChecker("storage", func(context.Context) error {
				return nil
			}),
		}, nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return runtimeDependencies{}, fmt.Errorf("postgres storage requires a DSN")
		}
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return runtimeDependencies{}, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		return runtimeDependencies{
			store:           store,
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker:  healthcheck.NewSimpleChecker("storage", store.Ping),
			closeFn:         store.Close,
		}, nil

	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// initCartCache подключает Redis. Недоступный Redis не мешает старту:
// ошибки кэша только логируются, health показывает degraded.
func initCartCache(ctx context.Context, cfg Config, logger *log.Entry) (*redis.CartCache, func() error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, nil
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	cache := redis.NewCartCache(client, redis.WithTTL(cfg.RedisCartTTL))

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		logger.WithError(err).WithField("addr", addr).Warn("redis is not reachable, continuing with cache misses")
	} else {
		logger.WithField("addr", addr).Info("cart cache connected")
	}
	return cache, client.Close
}
