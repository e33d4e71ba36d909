package service_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lostfound/im-realtime-service/config"
	"github.com/lostfound/im-realtime-service/internal/adapter/memory"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"github.com/lostfound/im-realtime-service/internal/domain/registry"
	"github.com/lostfound/im-realtime-service/internal/service"
	"github.com/lostfound/im-realtime-service/internal/worker"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	poll    = 5 * time.Millisecond
)

type transport struct {
	mu     sync.Mutex
	frames []map[string]any
	closed bool
}

func (t *transport) WriteFrame(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	t.mu.Lock()
	t.frames = append(t.frames, m)
	t.mu.Unlock()
	return nil
}

func (t *transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *transport) of(kind string) []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []map[string]any
	for _, f := range t.frames {
		if f["type"] == kind {
			out = append(out, f)
		}
	}
	return out
}

// inlinePool runs side effects synchronously so tests can observe them.
type inlinePool struct{}

func (inlinePool) Submit(_ string, task worker.Task) bool {
	_ = task(context.Background())
	return true
}

func (inlinePool) SubmitDurable(_ string, task worker.Task) {
	_ = task(context.Background())
}

var _ worker.Submitter = inlinePool{}

type emailRecorder struct {
	mu      sync.Mutex
	intents []service.EmailIntent
}

func (e *emailRecorder) PublishEmail(_ context.Context, in service.EmailIntent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.intents = append(e.intents, in)
	return nil
}

type fixture struct {
	hub      *registry.Hub
	store    *memory.Store
	delivery *service.DeliveryService
	notifier *service.NotificationService
	rooms    *service.RoomService
	email    *emailRecorder
	cfg      config.MessagingConfig
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithPool(t, inlinePool{})
}

func newFixtureWithPool(t *testing.T, pool worker.Submitter) *fixture {
	t.Helper()

	logger := quietLogger()
	hub := registry.NewHub(registry.WithLogger(logger), registry.WithHeartbeatInterval(time.Hour))
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	store := memory.New()
	for _, name := range []string{"alice", "bob", "carol"} {
		store.PutUser(model.User{Username: name, FullName: "User " + name, IsActive: true})
	}
	store.PutUser(model.User{Username: "dave", IsActive: true, IsBanned: true})
	store.PutUser(model.User{Username: "erin", IsActive: false})

	cfg := config.MessagingConfig{
		EditWindow:       15 * time.Minute,
		DeleteWindow:     24 * time.Hour,
		ReplySnippetLen:  100,
		MaxContentLength: 2000,
	}
	users := service.NewUserDirectory(store, 16, time.Minute)
	notifier := service.NewNotificationService(hub, store, nil, logger)
	email := &emailRecorder{}

	return &fixture{
		hub:      hub,
		store:    store,
		delivery: service.NewDeliveryService(hub, users, store, store, notifier, email, pool, cfg, nil, logger),
		notifier: notifier,
		rooms:    service.NewRoomService(hub, notifier, logger),
		email:    email,
		cfg:      cfg,
	}
}

func (f *fixture) connect(t *testing.T, identity string) *transport {
	t.Helper()
	tr := &transport{}
	_, err := f.hub.Register(identity, tr)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(tr.of("online_users")) == 1 }, waitFor, poll)
	return tr
}

// seed stores a message with an arbitrary timestamp, bypassing the service.
func (f *fixture) seed(t *testing.T, id, from, to, content string, at time.Time) *model.Message {
	t.Helper()
	ctx := context.Background()
	pair, err := model.NewPair(from, to)
	require.NoError(t, err)
	conv, err := f.store.UpsertConversation(ctx, pair, at)
	require.NoError(t, err)
	msg := &model.Message{ID: id, ConversationID: conv.ID, From: from, To: to, Content: content, Timestamp: at}
	require.NoError(t, f.store.InsertMessage(ctx, msg))
	return msg
}
