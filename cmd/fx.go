package cmd

import (
	"log/slog"

	"github.com/lostfound/im-realtime-service/config"
	"github.com/lostfound/im-realtime-service/infra/metrics"
	"github.com/lostfound/im-realtime-service/internal/adapter/pubsub"
	"github.com/lostfound/im-realtime-service/internal/domain/registry"
	amqpdi "github.com/lostfound/im-realtime-service/internal/handler/amqp"
	"github.com/lostfound/im-realtime-service/internal/handler/rest"
	"github.com/lostfound/im-realtime-service/internal/handler/ws"
	"github.com/lostfound/im-realtime-service/internal/service"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideTracer,
			ProvideStore,
			ProvideWorkerPool,
			ProvidePresence,
		),
		fx.Invoke(
			WatchLogLevel,
			func(*sdktrace.TracerProvider) {},
		),
		metrics.Module,
		pubsub.Module,
		registry.Module,
		service.Module,
		ws.Module,
		rest.Module,
		amqpdi.Module,
	)
}
