package amqp

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lostfound/im-realtime-service/config"
	"github.com/lostfound/im-realtime-service/internal/adapter/pubsub"
	"go.uber.org/fx"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		NewEventHandler,
		NewWatermillRouter,
	),

	fx.Invoke(Start),
)

// Start wires the consumer pipeline when a broker is configured.
func Start(lc fx.Lifecycle, cfg *config.Config, provider *pubsub.Provider, router *message.Router, h *EventHandler, logger *slog.Logger) error {
	if !provider.Enabled() {
		logger.Info("AMQP_DISABLED", "reason", "amqp.uri is empty")
		return nil
	}

	poisonPub, err := provider.BuildPublisher(cfg.AMQP.EventsExchange)
	if err != nil {
		return err
	}
	if err := h.RegisterHandlers(router, provider, poisonPub, cfg.AMQP); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					logger.Error("AMQP_ROUTER_STOPPED", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			if err := router.Close(); err != nil {
				logger.Warn("AMQP_ROUTER_CLOSE_FAILED", "err", err)
			}
			return poisonPub.Close()
		},
	})
	return nil
}
