package rest

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lostfound/im-realtime-service/internal/adapter/presence"
	"github.com/lostfound/im-realtime-service/internal/domain/event"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"github.com/lostfound/im-realtime-service/internal/domain/registry"
	"github.com/lostfound/im-realtime-service/internal/service"
)

// PresenceReader answers last-seen queries from the presence mirror.
type PresenceReader interface {
	Get(ctx context.Context, identity string) (presence.Status, bool, error)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API holds the handlers behind /api, /internal and the ops endpoints.
type API struct {
	hub       registry.Hubber
	deliverer service.Deliverer
	notifier  service.Notifier
	rooms     service.Roomer
	presence  PresenceReader
	store     Pinger
	logger    *slog.Logger
}

// ------------------- MESSAGES -------------------

// POST /api/messages
func (a *API) SendMessage(w http.ResponseWriter, r *http.Request) {
	var in service.SendMessageInput
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	in.From = IdentityFrom(r.Context())

	msg, err := a.deliverer.SendMessage(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	created(w, msg)
}

type editRequest struct {
	Content string `json:"content"`
}

// PATCH /api/messages/{id}
func (a *API) EditMessage(w http.ResponseWriter, r *http.Request) {
	var in editRequest
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	msg, err := a.deliverer.EditMessage(r.Context(), chi.URLParam(r, "id"), IdentityFrom(r.Context()), in.Content)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ok(w, msg)
}

// DELETE /api/messages/{id}
func (a *API) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := a.deliverer.DeleteMessage(r.Context(), chi.URLParam(r, "id"), IdentityFrom(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ok(w, msg)
}

// POST /api/messages/{id}/read
func (a *API) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	msg, err := a.deliverer.MarkRead(r.Context(), chi.URLParam(r, "id"), IdentityFrom(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ok(w, msg)
}

// GET /api/messages/unread-count
func (a *API) UnreadMessages(w http.ResponseWriter, r *http.Request) {
	n, err := a.deliverer.UnreadCount(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ok(w, envelope{"count": n})
}

// ------------------- CONVERSATIONS -------------------

// GET /api/conversations
func (a *API) ListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := a.deliverer.ListConversations(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*model.ConversationSummary{}
	}
	ok(w, list)
}

// GET /api/conversations/{username}/messages
func (a *API) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit, skip, err := paging(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	msgs, err := a.deliverer.ListMessages(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "username"), limit, skip)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	ok(w, msgs)
}

// POST /api/conversations/{username}/read
func (a *API) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	n, err := a.deliverer.MarkConversationRead(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "username"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ok(w, envelope{"count": n})
}

// ------------------- NOTIFICATIONS -------------------

// GET /api/notifications
func (a *API) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, skip, err := paging(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	list, err := a.notifier.List(r.Context(), IdentityFrom(r.Context()), limit, skip)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*model.Notification{}
	}
	ok(w, list)
}

// POST /api/notifications/{id}/read
func (a *API) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	n, err := a.notifier.MarkRead(r.Context(), chi.URLParam(r, "id"), IdentityFrom(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ok(w, n)
}

// POST /api/notifications/read-all
func (a *API) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := a.notifier.MarkAllRead(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ok(w, envelope{"count": n})
}

// GET /api/notifications/unread-count
func (a *API) UnreadNotifications(w http.ResponseWriter, r *http.Request) {
	n, err := a.notifier.UnreadCount(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ok(w, envelope{"count": n})
}

// ------------------- PRESENCE -------------------

// GET /api/online-users
func (a *API) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	ok(w, envelope{"users": a.hub.OnlineUsers()})
}

// GET /api/presence/{username}
// The local registry is authoritative for "online"; the mirror adds
// last_seen for users that are offline here.
func (a *API) Presence(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "username")
	if err := model.ValidateIdentity(identity); err != nil {
		a.fail(w, r, err)
		return
	}

	st := presence.Status{Username: identity, Status: event.StatusOffline}
	if a.hub.IsOnline(identity) {
		st.Status = event.StatusOnline
		st.LastSeen = time.Now().UTC()
		ok(w, st)
		return
	}
	if a.presence != nil {
		mirrored, found, err := a.presence.Get(r.Context(), identity)
		if err != nil {
			a.logger.Warn("PRESENCE_LOOKUP_FAILED", "user", identity, "err", err)
		} else if found {
			st.LastSeen = mirrored.LastSeen
		}
	}
	ok(w, st)
}

// ------------------- INTERNAL -------------------

// POST /internal/notifications
func (a *API) Notify(w http.ResponseWriter, r *http.Request) {
	var in service.NotifyInput
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	n, err := a.notifier.Notify(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	created(w, n)
}

// POST /internal/posts/{postID}/comments
func (a *API) PublishComment(w http.ResponseWriter, r *http.Request) {
	var ev service.CommentEvent
	if err := decode(r, &ev); err != nil {
		a.fail(w, r, err)
		return
	}
	ev.PostID = chi.URLParam(r, "postID")
	if ev.Action == "" {
		ev.Action = service.CommentCreated
	}

	n, err := a.rooms.PublishComment(r.Context(), ev)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ok(w, envelope{"delivered": n})
}

// ------------------- OPS -------------------

// GET /healthz
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("HEALTHCHECK_FAILED", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, envelope{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": "ok"})
}

// GET /stats
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	ok(w, a.hub.Stats())
}
