package registry

import (
	"context"
	"log/slog"

	"github.com/lostfound/im-realtime-service/config"
	"go.uber.org/fx"
)

type Params struct {
	fx.In

	Config    *config.Config
	Logger    *slog.Logger
	Recorder  Recorder           `optional:"true"`
	Observers []PresenceObserver `group:"presence"`
}

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(p Params) *Hub {
			opts := []Option{
				WithHeartbeatInterval(p.Config.WS.HeartbeatInterval),
				WithPongTimeout(p.Config.WS.PongTimeout),
				WithSendBuffer(p.Config.WS.SendBuffer),
				WithSendTimeout(p.Config.WS.SendTimeout),
				WithLogger(p.Logger.With("component", "registry")),
				WithRecorder(p.Recorder),
			}
			for _, o := range p.Observers {
				opts = append(opts, WithObserver(o))
			}
			return NewHub(opts...)
		},
		func(h *Hub) Hubber { return h },
	),
	fx.Invoke(func(lc fx.Lifecycle, h *Hub) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return h.Shutdown(ctx) // [GRACEFUL_SHUTDOWN] stop every connection goroutine
			},
		})
	}),
)
