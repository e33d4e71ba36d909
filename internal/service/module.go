package service

import (
	"log/slog"

	"github.com/lostfound/im-realtime-service/config"
	"github.com/lostfound/im-realtime-service/internal/domain/registry"
	"github.com/lostfound/im-realtime-service/internal/worker"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Collaborators
		fx.Annotate(
			func(store Store, cfg *config.Config) *UserDirectory {
				return NewUserDirectory(store, cfg.Messaging.UserCacheSize, cfg.Messaging.UserCacheTTL)
			},
			fx.As(new(Directory)),
		),
		fx.Annotate(
			func(cfg *config.Config, users Directory) *AuthService {
				return NewAuthService(cfg.Auth.JWTSecret, users)
			},
			fx.As(new(Auther)),
		),

		// Domain services
		fx.Annotate(
			func(hub registry.Hubber, store Store, recorder Recorder, logger *slog.Logger) *NotificationService {
				return NewNotificationService(hub, store, recorder, logger)
			},
			fx.As(new(Notifier)),
		),
		fx.Annotate(
			func(
				hub registry.Hubber,
				users Directory,
				store Store,
				notifier Notifier,
				email EmailPublisher,
				pool worker.Submitter,
				cfg *config.Config,
				recorder Recorder,
				logger *slog.Logger,
			) *DeliveryService {
				return NewDeliveryService(hub, users, store, store, notifier, email, pool, cfg.Messaging, recorder, logger)
			},
			fx.As(new(Deliverer)),
		),
		fx.Annotate(
			NewRoomService,
			fx.As(new(Roomer)),
		),
	),

	// [DECORATION_LAYER] Intercept Directory to add cross-cutting concerns
	fx.Decorate(func(orig Directory, logger *slog.Logger) Directory {
		return NewDirectoryMiddleware(orig, logger)
	}),
)
