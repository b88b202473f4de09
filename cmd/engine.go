package cmd

import (
	"context"
	"fmt"

	"github.com/nexus-scanner/nexus/internal/cache"
	"github.com/nexus-scanner/nexus/internal/config"
	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/internal/database"
	"github.com/nexus-scanner/nexus/internal/detectors/cdn"
	"github.com/nexus-scanner/nexus/internal/detectors/headers"
	"github.com/nexus-scanner/nexus/internal/detectors/ports"
	"github.com/nexus-scanner/nexus/internal/detectors/sslcheck"
	"github.com/nexus-scanner/nexus/internal/detectors/techfp"
	"github.com/nexus-scanner/nexus/internal/detectors/waf"
	"github.com/nexus-scanner/nexus/internal/events"
	"github.com/nexus-scanner/nexus/internal/httpclient"
	"github.com/nexus-scanner/nexus/internal/logger"
	"github.com/nexus-scanner/nexus/internal/orchestrator"
	"github.com/nexus-scanner/nexus/internal/ratelimit"
	"github.com/nexus-scanner/nexus/internal/registry"
	"github.com/nexus-scanner/nexus/internal/telemetry"
	"github.com/nexus-scanner/nexus/internal/worker"
)

// runtime bundles the engine and everything that must be shut down with it.
type runtime struct {
	engine *orchestrator.Engine
	bus    core.EventBus
	cache  core.CacheStore
	store  core.ScanStore
	tel    core.Telemetry
}

func (r *runtime) close(ctx context.Context, log *logger.Logger) {
	r.engine.Close()
	if err := r.cache.Close(); err != nil {
		log.Warnw("Failed to close cache", "error", err)
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			log.Warnw("Failed to close store", "error", err)
		}
	}
	if err := r.tel.Close(ctx); err != nil {
		log.Warnw("Failed to shut down telemetry", "error", err)
	}
}

// buildRuntime wires the full engine from configuration. Persistence is
// enabled only when a database DSN is configured.
func buildRuntime(ctx context.Context, cfg config.Config, log *logger.Logger) (*runtime, error) {
	reg, err := registry.New(
		headers.New(),
		techfp.New(),
		waf.New(),
		cdn.New(),
		sslcheck.New(),
		ports.New(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build detector registry: %w", err)
	}

	var cacheStore core.CacheStore
	switch cfg.Cache.Backend {
	case "redis":
		cacheStore, err = cache.NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis cache: %w", err)
		}
	case "memory", "":
		cacheStore = cache.NewMemoryStore(cfg.Cache.MaxEntries)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	pool, err := worker.NewPool(cfg.Engine.Workers, log)
	if err != nil {
		cacheStore.Close()
		return nil, fmt.Errorf("failed to build worker pool: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		cacheStore.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	var store core.ScanStore
	if cfg.Database.DSN != "" {
		store, err = database.NewStore(cfg.Database, log)
		if err != nil {
			cacheStore.Close()
			tel.Close(ctx)
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	bus := events.NewBus(cfg.Engine.EventBufferSize, log)
	limiter := ratelimit.New(cfg.RateLimit)
	client := httpclient.New(httpclient.Config{
		Timeout:         cfg.Engine.FetchTimeout,
		FollowRedirects: true,
		MaxRedirects:    5,
		UserAgent:       cfg.Engine.UserAgent,
	})

	engine, err := orchestrator.NewEngine(orchestrator.Options{
		Registry:  reg,
		Cache:     cacheStore,
		Pool:      pool,
		Bus:       bus,
		Store:     store,
		Telemetry: tel,
		Client:    client,
		Limiter:   limiter,
		Logger:    log,
		Config:    cfg.Engine,
	})
	if err != nil {
		cacheStore.Close()
		tel.Close(ctx)
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	return &runtime{
		engine: engine,
		bus:    bus,
		cache:  cacheStore,
		store:  store,
		tel:    tel,
	}, nil
}
