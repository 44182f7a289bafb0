package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/bazaar/internal/catalog"
	"github.com/gosuda/bazaar/internal/config"
	"github.com/gosuda/bazaar/internal/metrics"
	"github.com/gosuda/bazaar/internal/notify"
	"github.com/gosuda/bazaar/internal/provision"
	"github.com/gosuda/bazaar/internal/server"
	"github.com/gosuda/bazaar/internal/storage"
	"github.com/gosuda/bazaar/internal/store/postgres"
	redisstore "github.com/gosuda/bazaar/internal/store/redis"
)

type configKey struct{}

func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(configKey{}).(*config.Config)
	return cfg
}

func int32Conns(name string, n int) (int32, error) {
	if n < 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%s %d out of int32 range", name, n)
	}
	return int32(n), nil //nolint:gosec // bounds checked above
}

func serve(ctx context.Context, cfg *config.Config) error {
	maxConns, err := int32Conns("database max_conns", cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	tenantMaxConns, err := int32Conns("database tenant_max_conns", cfg.Database.TenantMaxConns)
	if err != nil {
		return err
	}

	// Control-plane schema first; the catalog is unusable without it.
	err = postgres.Migrate(cfg.Database.DSN())
	if err != nil {
		return err
	}

	store, err := postgres.New(ctx, cfg.Database.DSN(), maxConns)
	if err != nil {
		return err
	}
	defer store.Close()

	pools, err := postgres.NewPoolRegistry(ctx, cfg.Database.SharedDSN(), postgres.RegistryConfig{
		SharedDatabase: cfg.Database.SharedDBName,
		AdminDatabase:  cfg.Database.AdminDBName,
		SharedMaxConns: maxConns,
		TenantMaxConns: tenantMaxConns,
		AcquireTimeout: cfg.Database.AcquireTimeout,
	})
	if err != nil {
		return err
	}
	defer pools.Close()

	pubsub, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	images, err := imageReleaser(ctx, cfg.S3)
	if err != nil {
		return err
	}

	m := metrics.New()
	m.TrackPools(pools.Len)

	router := postgres.NewCatalogRouter(pools)
	provisioner := provision.New(store.Tenants(), postgres.NewDDL(pools),
		provision.WithRecorder(m),
		provision.WithPrefix(cfg.Storage.Prefix),
	)
	products := catalog.NewService(store.Tenants(), router, notify.New(pubsub), images)
	aggregator := catalog.NewAggregator(store.Tenants(), router, cfg.Catalog.AggregateParallelism, m)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Pool.IdleEvict > 0 {
		go sweepIdlePools(ctx, pools, cfg.Pool.IdleEvict)
	}

	srv := server.New(ctx, cfg, server.Services{
		Provisioner: provisioner,
		Tenants:     store.Tenants(),
		Users:       store.Users(),
		Products:    products,
		Aggregator:  aggregator,
		Events:      pubsub,
		Metrics:     m.Handler(),
		Checks: map[string]func(context.Context) error{
			"control_plane": store.Ping,
			"shared_store":  pools.Shared().Ping,
			"redis":         pubsub.Ping,
		},
	})

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
			cancel()
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}

func imageReleaser(ctx context.Context, cfg config.S3Config) (catalog.ImageReleaser, error) {
	if cfg.Bucket == "" {
		log.Info().Msg("image cleanup disabled; orphaned image references are only logged")
		return storage.LogReaper{}, nil
	}

	return storage.NewS3Reaper(ctx, storage.S3Config{
		Endpoint:     cfg.Endpoint,
		Bucket:       cfg.Bucket,
		Region:       cfg.Region,
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
		UsePathStyle: cfg.PathStyle,
	})
}

// sweepIdlePools closes dedicated pools that have not been used for maxIdle.
func sweepIdlePools(ctx context.Context, pools *postgres.PoolRegistry, maxIdle time.Duration) {
	ticker := time.NewTicker(maxIdle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := pools.SweepIdle(maxIdle); n > 0 {
				log.Debug().Int("closed", n).Int("open", pools.Len()).Msg("pool registry: idle sweep")
			}
		case <-ctx.Done():
			return
		}
	}
}
