package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lostfound/im-realtime-service/config"
	"github.com/lostfound/im-realtime-service/internal/adapter/memory"
	"github.com/lostfound/im-realtime-service/internal/adapter/mongostore"
	"github.com/lostfound/im-realtime-service/internal/adapter/presence"
	"github.com/lostfound/im-realtime-service/internal/domain/registry"
	"github.com/lostfound/im-realtime-service/internal/handler/rest"
	"github.com/lostfound/im-realtime-service/internal/service"
	"github.com/lostfound/im-realtime-service/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// ProvideLogger builds the JSON logger. The level lives in a LevelVar so a
// config file edit can change it at runtime.
func ProvideLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar, error) {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	lv := new(slog.LevelVar)
	lv.Set(level)

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv})
	logger := slog.New(newTraceHandler(h)).With(
		"service", cfg.Service.Name,
		"version", version,
	)
	slog.SetDefault(logger)
	return logger, lv, nil
}

// ProvideTracer installs the SDK tracer provider so spans carry real ids
// into the logs.
func ProvideTracer(lc fx.Lifecycle, cfg *config.Config) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.Service.Name),
		attribute.String("service.namespace", ServiceNamespace),
		attribute.String("service.version", version),
	)
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{OnStop: tp.Shutdown})
	return tp
}

// ProvideStore selects the persistence gateway by storage.driver.
func ProvideStore(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (service.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("STORAGE_IN_MEMORY", "reason", "storage.driver=memory, data is lost on restart")
		return memory.New(), nil

	case "mongo":
		client, err := mongostore.Connect(context.Background(), cfg.Storage.URI, cfg.Storage.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		store := mongostore.New(client.Database(cfg.Storage.Database), cfg.Storage.QueryTimeout)

		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := store.EnsureIndexes(ctx); err != nil {
					return err
				}
				logger.Info("STORAGE_READY", "driver", "mongo", "database", cfg.Storage.Database)
				return nil
			},
			OnStop: func(ctx context.Context) error { return client.Disconnect(ctx) },
		})
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// ProvideWorkerPool runs notification and email side effects.
func ProvideWorkerPool(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, drops worker.DropRecorder) (*worker.Pool, worker.Submitter) {
	pool := worker.New(cfg.Worker.Size, cfg.Worker.TaskTimeout, logger.With("component", "worker"), drops)
	lc.Append(fx.Hook{OnStop: pool.Shutdown})
	return pool, pool
}

// ProvidePresence mirrors presence into Redis when redis.addr is set. The
// returned reader is nil otherwise.
func ProvidePresence(lc fx.Lifecycle, cfg *config.Config, hub *registry.Hub, logger *slog.Logger) rest.PresenceReader {
	if cfg.Redis.Addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	mirror := presence.NewMirror(client, cfg.Redis.Prefix, cfg.Redis.TTL, hub.OnlineUsers, logger.With("component", "presence"))
	hub.Observe(mirror)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				// presence mirroring is optional; the hub keeps working
				logger.Warn("REDIS_UNREACHABLE", "addr", cfg.Redis.Addr, "err", err)
			}
			mirror.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := mirror.Stop(ctx)
			_ = client.Close()
			return err
		},
	})
	return mirror
}

// WatchLogLevel hooks the level variable to config file changes.
func WatchLogLevel(cfg *config.Config, lv *slog.LevelVar, logger *slog.Logger) {
	cfg.WatchLogLevel(lv, logger)
}
