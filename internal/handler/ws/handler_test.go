package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/lostfound/im-realtime-service/config"
	"github.com/lostfound/im-realtime-service/internal/adapter/memory"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"github.com/lostfound/im-realtime-service/internal/domain/registry"
	"github.com/lostfound/im-realtime-service/internal/service"
	"github.com/lostfound/im-realtime-service/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type env struct {
	server *httptest.Server
	hub    *registry.Hub
	auth   *service.AuthService
	rooms  *service.RoomService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store := memory.New()
	store.PutUser(model.User{Username: "alice", IsActive: true})
	store.PutUser(model.User{Username: "bob", IsActive: true})
	store.PutUser(model.User{Username: "dave", IsActive: true, IsBanned: true})

	cfg := &config.Config{
		WS: config.WSConfig{WriteWait: time.Second, ReadLimit: 4096, FrameRate: 100, FrameBurst: 100},
		Messaging: config.MessagingConfig{
			EditWindow:       15 * time.Minute,
			DeleteWindow:     24 * time.Hour,
			ReplySnippetLen:  100,
			MaxContentLength: 2000,
		},
	}

	hub := registry.NewHub(registry.WithHeartbeatInterval(time.Hour), registry.WithLogger(discard))
	dir := service.NewUserDirectory(store, 64, time.Minute)
	auth := service.NewAuthService("test-secret", dir)
	notifier := service.NewNotificationService(hub, store, nil, discard)
	pool := worker.New(4, time.Second, discard, nil)
	deliverer := service.NewDeliveryService(hub, dir, store, store, notifier, nil, pool, cfg.Messaging, nil, discard)
	rooms := service.NewRoomService(hub, notifier, discard)

	r := chi.NewRouter()
	r.Get("/ws/{username}", NewWSHandler(cfg, discard, auth, hub, rooms, deliverer).ServeHTTP)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		_ = hub.Shutdown(context.Background())
		_ = pool.Shutdown(context.Background())
	})
	return &env{server: srv, hub: hub, auth: auth, rooms: rooms}
}

func (e *env) url(identity, token string) string {
	u := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/" + identity
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (e *env) token(t *testing.T, identity string) string {
	t.Helper()
	tok, err := e.auth.Issue(identity, time.Minute)
	require.NoError(t, err)
	return tok
}

func (e *env) dial(t *testing.T, identity string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(e.url(identity, e.token(t, identity)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// expectFrame reads until a frame of type typ arrives.
func expectFrame(t *testing.T, c *websocket.Conn, typ string) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := c.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var f map[string]any
		require.NoError(t, json.Unmarshal(data, &f))
		if f["type"] == typ {
			return f
		}
	}
}

func send(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(v))
}

func TestHandshakeRejections(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name     string
		identity string
		token    string
		status   int
		code     string
	}{
		{name: "missing token", identity: "alice", status: http.StatusUnauthorized, code: "missing_token"},
		{name: "garbage token", identity: "alice", token: "not-a-jwt", status: http.StatusUnauthorized, code: "invalid_token"},
		{name: "token of another user", identity: "alice", token: e.token(t, "bob"), status: http.StatusForbidden, code: "identity_mismatch"},
		{name: "unknown user", identity: "ghost", token: e.token(t, "ghost"), status: http.StatusNotFound, code: "user_not_found"},
		{name: "banned user", identity: "dave", token: e.token(t, "dave"), status: http.StatusForbidden, code: "inactive_account"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(e.url(tt.identity, tt.token), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var body rejection
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Code)
		})
	}

	assert.Empty(t, e.hub.OnlineUsers())
}

func TestPresenceOnConnect(t *testing.T) {
	e := newEnv(t)

	alice := e.dial(t, "alice")
	snapshot := expectFrame(t, alice, "online_users")
	assert.Equal(t, []any{"alice"}, snapshot["users"])

	bob := e.dial(t, "bob")
	snapshot = expectFrame(t, bob, "online_users")
	assert.ElementsMatch(t, []any{"alice", "bob"}, snapshot["users"])

	status := expectFrame(t, alice, "user_status")
	assert.Equal(t, "bob", status["username"])
	assert.Equal(t, "online", status["status"])

	require.NoError(t, bob.Close())
	status = expectFrame(t, alice, "user_status")
	assert.Equal(t, "bob", status["username"])
	assert.Equal(t, "offline", status["status"])
	assert.Eventually(t, func() bool { return !e.hub.IsOnline("bob") }, 2*time.Second, 10*time.Millisecond)
}

func TestPingFrameGetsPong(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "alice")
	expectFrame(t, alice, "online_users")

	send(t, alice, map[string]string{"type": "ping"})
	pong := expectFrame(t, alice, "pong")
	assert.NotEmpty(t, pong["timestamp"])
}

func TestJoinPostRoomReceivesComments(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "alice")
	expectFrame(t, alice, "online_users")

	send(t, alice, map[string]string{"type": "join_post_room", "post_id": "42"})
	require.Eventually(t, func() bool {
		return len(e.hub.RoomMembers(service.PostRoom("42"))) == 1
	}, 2*time.Second, 10*time.Millisecond)

	n, err := e.rooms.PublishComment(context.Background(), service.CommentEvent{
		Action:  service.CommentCreated,
		PostID:  "42",
		Comment: &model.Comment{ID: "c1", Author: "bob", Content: "seen it at the library"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f := expectFrame(t, alice, "new_comment")
	assert.Equal(t, "42", f["post_id"])

	send(t, alice, map[string]string{"type": "leave_post_room", "post_id": "42"})
	assert.Eventually(t, func() bool {
		return len(e.hub.RoomMembers(service.PostRoom("42"))) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTypingIsForwarded(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "alice")
	bob := e.dial(t, "bob")
	expectFrame(t, bob, "online_users")

	send(t, alice, map[string]string{"type": "typing_start", "conversation_id": "c1", "other_user": "bob"})
	f := expectFrame(t, bob, "typing_start")
	assert.Equal(t, "alice", f["username"])
	assert.Equal(t, "c1", f["conversation_id"])
}

func TestBadFramesKeepConnection(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "alice")
	expectFrame(t, alice, "online_users")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{oops")))
	send(t, alice, map[string]string{"type": "teleport"})
	send(t, alice, map[string]string{"type": "join_post_room"})

	send(t, alice, map[string]string{"type": "ping"})
	expectFrame(t, alice, "pong")
	assert.True(t, e.hub.IsOnline("alice"))
}

func TestCheckOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws/alice", nil)
	req.Header.Set("Origin", "https://evil.example")

	assert.True(t, checkOrigin(nil)(req))
	assert.True(t, checkOrigin([]string{"*"})(req))
	assert.False(t, checkOrigin([]string{"https://lostfound.example"})(req))

	req.Header.Set("Origin", "https://lostfound.example")
	assert.True(t, checkOrigin([]string{"https://lostfound.example"})(req))
}
