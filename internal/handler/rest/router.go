package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/lostfound/im-realtime-service/config"
	"github.com/lostfound/im-realtime-service/internal/domain/registry"
	"github.com/lostfound/im-realtime-service/internal/handler/ws"
	"github.com/lostfound/im-realtime-service/internal/service"
	"go.uber.org/fx"
)

type Deps struct {
	fx.In

	Config    *config.Config
	Logger    *slog.Logger
	Auth      service.Auther
	Hub       registry.Hubber
	Deliverer service.Deliverer
	Notifier  service.Notifier
	Rooms     service.Roomer
	Store     service.Store
	WS        *ws.WSHandler
	Metrics   http.Handler   `name:"metrics" optional:"true"`
	Presence  PresenceReader `optional:"true"`
}

func NewRouter(d Deps) http.Handler {
	a := &API{
		hub:       d.Hub,
		deliverer: d.Deliverer,
		notifier:  d.Notifier,
		rooms:     d.Rooms,
		presence:  d.Presence,
		store:     d.Store,
		logger:    d.Logger,
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(d.Logger))

	origins := d.Config.HTTP.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// ops
	r.Get("/healthz", a.Health)
	r.Get("/stats", a.Stats)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	// realtime
	r.Get("/ws/{username}", d.WS.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireBearer(d.Auth))
		if t := d.Config.HTTP.WriteTimeout; t > 0 {
			r.Use(middleware.Timeout(t))
		}

		r.Route("/messages", func(r chi.Router) {
			r.Post("/", a.SendMessage)
			r.Get("/unread-count", a.UnreadMessages)
			r.Patch("/{id}", a.EditMessage)
			r.Delete("/{id}", a.DeleteMessage)
			r.Post("/{id}/read", a.MarkMessageRead)
		})

		r.Get("/conversations", a.ListConversations)
		r.Get("/conversations/{username}/messages", a.ListMessages)
		r.Post("/conversations/{username}/read", a.MarkConversationRead)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", a.ListNotifications)
			r.Get("/unread-count", a.UnreadNotifications)
			r.Post("/read-all", a.MarkAllNotificationsRead)
			r.Post("/{id}/read", a.MarkNotificationRead)
		})

		r.Get("/online-users", a.OnlineUsers)
		r.Get("/presence/{username}", a.Presence)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(RequireInternalKey(d.Config.Auth.InternalKey))
		if t := d.Config.HTTP.WriteTimeout; t > 0 {
			r.Use(middleware.Timeout(t))
		}

		r.Post("/notifications", a.Notify)
		r.Post("/posts/{postID}/comments", a.PublishComment)
	})

	return r
}
