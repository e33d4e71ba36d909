package pubsub

import (
	"context"
	"log/slog"

	"github.com/lostfound/im-realtime-service/config"
	"github.com/lostfound/im-realtime-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		NewWatermillLogger,
		NewProvider,
		ProvideEmailPublisher,
	),
)

// ProvideEmailPublisher returns a nil publisher when no broker is configured,
// which turns the email side effect off.
func ProvideEmailPublisher(lc fx.Lifecycle, cfg *config.Config, p *Provider, logger *slog.Logger) (service.EmailPublisher, error) {
	if !p.Enabled() {
		return nil, nil
	}

	pub, err := p.BuildPublisher(cfg.AMQP.EmailExchange)
	if err != nil {
		return nil, err
	}
	email := NewEmailPublisher(pub, BreakerSettings{}, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return email.Close() },
	})
	return email, nil
}
