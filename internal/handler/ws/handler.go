package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/lostfound/im-realtime-service/config"
	"github.com/lostfound/im-realtime-service/internal/domain/event"
	"github.com/lostfound/im-realtime-service/internal/domain/frame"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"github.com/lostfound/im-realtime-service/internal/domain/registry"
	"github.com/lostfound/im-realtime-service/internal/service"
	"golang.org/x/time/rate"
)

// frameTimeout bounds the work one inbound frame may trigger.
const frameTimeout = 10 * time.Second

type WSHandler struct {
	logger    *slog.Logger
	auth      service.Auther
	hub       registry.Hubber
	rooms     service.Roomer
	deliverer service.Deliverer
	cfg       config.WSConfig
	upgrader  websocket.Upgrader
}

func NewWSHandler(
	cfg *config.Config,
	logger *slog.Logger,
	auth service.Auther,
	hub registry.Hubber,
	rooms service.Roomer,
	deliverer service.Deliverer,
) *WSHandler {
	return &WSHandler{
		logger:    logger,
		auth:      auth,
		hub:       hub,
		rooms:     rooms,
		deliverer: deliverer,
		cfg:       cfg.WS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.HTTP.AllowedOrigins),
		},
	}
}

// checkOrigin accepts everything when no origins are configured or "*" is
// listed.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

type rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// reject answers a handshake that failed before the upgrade.
func reject(w http.ResponseWriter, status int, code string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rejection{Code: code, Message: err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrMissingToken):
		return http.StatusUnauthorized, "missing_token"
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, service.ErrIdentityMismatch):
		return http.StatusForbidden, "identity_mismatch"
	case errors.Is(err, service.ErrInactiveAccount):
		return http.StatusForbidden, "inactive_account"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "invalid_identity"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// ServeHTTP handles GET /ws/{username}?token=<jwt>.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "username")

	// 1. AUTHORIZE BEFORE UPGRADE
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = service.BearerToken(r.Header.Get("Authorization"))
	}
	if _, err := h.auth.AuthorizeConnection(r.Context(), identity, token); err != nil {
		status, code := classify(err)
		h.logger.Warn("WS_HANDSHAKE_REJECTED", "user", identity, "code", code, "error", err)
		reject(w, status, code, err)
		return
	}

	// 2. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "user", identity, "error", err)
		return
	}

	// 3. REGISTER
	conn, err := h.hub.Register(identity, &transport{conn: ws, writeWait: h.cfg.WriteWait})
	if err != nil {
		h.logger.Warn("WS_REGISTER_FAILED", "user", identity, "error", err)
		_ = ws.Close()
		return
	}
	defer h.hub.Release(conn)

	// 4. READ PUMP
	h.readLoop(ws, conn)
}

func (h *WSHandler) readLoop(ws *websocket.Conn, conn *registry.Conn) {
	if h.cfg.ReadLimit > 0 {
		ws.SetReadLimit(h.cfg.ReadLimit)
	}
	// control-level pongs count as heartbeat acknowledgments too
	ws.SetPongHandler(func(string) error {
		conn.Ack()
		return nil
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if h.cfg.FrameRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.cfg.FrameRate), max(h.cfg.FrameBurst, 1))
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !conn.Closed() {
				h.logger.Debug("WS_READ_FAILED", "user", conn.Identity(), "conn_id", conn.ID(), "error", err)
			}
			return
		}

		if !limiter.Allow() {
			h.logger.Warn("FRAME_RATE_LIMITED", "user", conn.Identity(), "conn_id", conn.ID())
			continue
		}

		f, err := frame.Decode(data)
		if err != nil {
			h.logger.Debug("FRAME_REJECTED", "user", conn.Identity(), "error", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		if err := h.dispatch(ctx, conn, f); err != nil {
			h.logger.Warn("FRAME_FAILED", "user", conn.Identity(), "type", f.Type(), "error", err)
		}
		cancel()
	}
}

// [FRAME_DISPATCH]
func (h *WSHandler) dispatch(ctx context.Context, conn *registry.Conn, f frame.Inbound) error {
	identity := conn.Identity()

	switch f := f.(type) {
	case frame.Ping:
		conn.Ack()
		h.hub.SendTo(identity, event.NewPong(time.Now()))
	case frame.Pong:
		conn.Ack()
	case frame.JoinPostRoom:
		return h.rooms.JoinPostRoom(identity, f.PostID)
	case frame.LeavePostRoom:
		h.rooms.LeavePostRoom(identity, f.PostID)
	case frame.TypingStart:
		_, err := h.deliverer.Typing(ctx, identity, f.ConversationID, f.OtherUser, true)
		return err
	case frame.TypingStop:
		_, err := h.deliverer.Typing(ctx, identity, f.ConversationID, f.OtherUser, false)
		return err
	case frame.MarkMessageRead:
		_, err := h.deliverer.MarkRead(ctx, f.MessageID, identity)
		return err
	}
	return nil
}
