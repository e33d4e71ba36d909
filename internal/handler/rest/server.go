package rest

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/lostfound/im-realtime-service/config"
	"go.uber.org/fx"
)

type Server struct {
	cfg    config.HTTPConfig
	srv    *http.Server
	logger *slog.Logger
}

func NewServer(cfg *config.Config, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		cfg: cfg.HTTP,
		// no WriteTimeout: WebSocket writes carry per-frame deadlines
		srv: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.HTTP.ReadTimeout,
			ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		},
		logger: logger,
	}
}

// Start binds the listener synchronously so address errors fail startup.
func (s *Server) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP_SERVER_STARTED", "addr", ln.Addr().String())

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP_SERVER_FAILED", "err", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	s.logger.Info("HTTP_SERVER_STOPPING")
	return s.srv.Shutdown(ctx)
}

var Module = fx.Module("http-server",
	fx.Provide(
		NewRouter,
		NewServer,
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{OnStart: s.Start, OnStop: s.Stop})
	}),
)
