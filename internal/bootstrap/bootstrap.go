package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/civiclens/civiclens/backend/internal/adapters/cache"
	"github.com/civiclens/civiclens/backend/internal/adapters/database"
	"github.com/civiclens/civiclens/backend/internal/adapters/events"
	"github.com/civiclens/civiclens/backend/internal/adapters/locking"
	"github.com/civiclens/civiclens/backend/internal/adapters/memory"
	"github.com/civiclens/civiclens/backend/internal/adapters/pdftext"
	"github.com/civiclens/civiclens/backend/internal/adapters/search"
	"github.com/civiclens/civiclens/backend/internal/adapters/storage"
	"github.com/civiclens/civiclens/backend/internal/application/services"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/clients/gcs"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/clients/postgres"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/clients/redis"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/clients/typesense"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/observability"
	"github.com/civiclens/civiclens/backend/pkg/config"
	"github.com/rs/zerolog/log"
)

// Components is the wired processing pipeline shared by the api and batch binaries
type Components struct {
	Policies      repositories.PolicyRepository
	ProcessingLog repositories.ProcessingLogRepository
	Search        repositories.PolicySearchRepository
	Blobs         providers.BlobStore
	Cache         providers.CacheProvider
	EventBus      providers.EventBus
	Locker        providers.Locker

	Registry    *services.StageRegistry
	Coordinator *services.PipelineCoordinator
	Policy      *services.PolicyService

	closers []func() error
}

// Close releases every client opened by Build, last opened first
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build connects the configured backends and wires the pipeline services.
// Redis and Typesense are optional; a failure to reach them downgrades to
// in-process implementations instead of aborting.
func Build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*Components, error) {
	c := &Components{}
	if err := c.build(ctx, cfg, metrics); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) error {
	// Record store
	switch cfg.Database.Driver {
	case config.DriverMemory:
		store := memory.NewStore()
		c.Policies = store.Policies()
		c.ProcessingLog = store.ProcessingLog()
		log.Warn().Msg("Using in-memory record store; data is lost on restart")
	default:
		pgClient, err := postgres.NewClient(ctx, &cfg.Database)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, pgClient.Close)

		if err := database.EnsureSchema(ctx, pgClient); err != nil {
			return err
		}
		c.Policies = database.NewPolicyAdapter(pgClient)
		c.ProcessingLog = database.NewProcessingLogAdapter(pgClient)
	}

	// Redis backs the cache, the event bus and the attempt lock when available
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable; continuing with in-process event bus and locks")
		} else {
			redisClient = client
			c.closers = append(c.closers, client.Close)
		}
	}

	if redisClient != nil {
		c.Cache = cache.NewRedisAdapter(redisClient)
		c.ProcessingLog = database.NewCachedProcessingLogAdapter(c.ProcessingLog, c.Cache, metrics)
		c.EventBus = events.NewRedisEventBus(redisClient)
		c.Locker = locking.NewRedisLocker(redisClient)
	} else {
		c.EventBus = events.NewMemoryEventBus()
		c.Locker = locking.NewMemoryLocker()
	}
	c.closers = append(c.closers, c.EventBus.Close)

	// Blob storage
	switch cfg.Storage.Driver {
	case config.StorageGCS:
		gcsClient, err := gcs.NewClient(ctx, &cfg.Storage)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, gcsClient.Close)
		c.Blobs = storage.NewGCSStore(gcsClient)
	default:
		local, err := storage.NewLocalStore(cfg.Storage.LocalDir)
		if err != nil {
			return err
		}
		c.Blobs = local
	}

	// Stages
	executors := []providers.StageExecutor{services.NewTextExtractionStage(pdftext.NewReader())}

	if cfg.Typesense.Enabled {
		tsClient, err := typesense.NewClient(ctx, &cfg.Typesense)
		if err != nil {
			log.Warn().Err(err).Msg("Typesense unavailable; search indexing disabled")
		} else if err := tsClient.InitSchema(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to init Typesense schema; search indexing disabled")
		} else {
			adapter := search.NewTypesenseAdapter(tsClient)
			c.Search = adapter
			executors = append(executors, services.NewSearchIndexingStage(adapter, typesense.PoliciesCollection))
		}
	}

	registry, err := services.NewStageRegistry(executors...)
	if err != nil {
		return fmt.Errorf("failed to register pipeline stages: %w", err)
	}
	c.Registry = registry

	c.Coordinator = services.NewPipelineCoordinator(
		c.Policies, c.ProcessingLog, registry, c.Blobs, c.Locker, c.EventBus, metrics,
		services.CoordinatorOptions{
			StaleAfter:   cfg.Pipeline.StaleAfter,
			StageTimeout: cfg.Pipeline.StageTimeout,
			LockTTL:      cfg.Pipeline.LockTTL,
		},
	)

	c.Policy = services.NewPolicyService(c.Policies, c.Blobs, c.Search, c.EventBus, services.UploadOptions{
		MaxBytes:     cfg.Upload.MaxBytes,
		AllowedTypes: cfg.Upload.AllowedTypes,
	})

	log.Info().
		Str("db_driver", cfg.Database.Driver).
		Str("storage_driver", cfg.Storage.Driver).
		Bool("redis", redisClient != nil).
		Bool("search", c.Search != nil).
		Strs("stages", stageNames(registry)).
		Msg("Pipeline components initialized")
	return nil
}

func stageNames(registry *services.StageRegistry) []string {
	stages := registry.Stages()
	names := make([]string, 0, len(stages))
	for _, stage := range stages {
		names = append(names, string(stage))
	}
	return names
}
