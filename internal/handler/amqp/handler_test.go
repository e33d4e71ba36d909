package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/lostfound/im-realtime-service/config"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"github.com/lostfound/im-realtime-service/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeRooms struct {
	service.Roomer
	mu     sync.Mutex
	events []service.CommentEvent
	err    error
	seen   chan struct{}
}

func (f *fakeRooms) PublishComment(_ context.Context, ev service.CommentEvent) (int, error) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	if f.seen != nil {
		f.seen <- struct{}{}
	}
	return 1, f.err
}

type fakeNotifier struct {
	service.Notifier
	inputs []service.NotifyInput
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, in service.NotifyInput) (*model.Notification, error) {
	f.inputs = append(f.inputs, in)
	return &model.Notification{ID: "n1"}, f.err
}

func newMessage(t *testing.T, v any) *message.Message {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	return message.NewMessage(watermill.NewUUID(), payload)
}

func TestBindCommentCreated(t *testing.T) {
	rooms := &fakeRooms{}
	h := NewEventHandler(rooms, &fakeNotifier{}, discard)

	err := Bind(h, h.OnCommentCreatedV1)(newMessage(t, map[string]any{
		"post_id":     "42",
		"post_author": "bob",
		"comment":     map[string]any{"id": "c1", "author": "alice", "content": "is it blue?"},
	}))
	require.NoError(t, err)

	require.Len(t, rooms.events, 1)
	ev := rooms.events[0]
	assert.Equal(t, service.CommentCreated, ev.Action)
	assert.Equal(t, "42", ev.PostID)
	assert.Equal(t, "alice", ev.Comment.Author)
}

func TestBindCommentDeletedForcesAction(t *testing.T) {
	rooms := &fakeRooms{}
	h := NewEventHandler(rooms, &fakeNotifier{}, discard)

	err := Bind(h, h.OnCommentDeletedV1)(newMessage(t, map[string]any{
		"action":     "created",
		"post_id":    "42",
		"comment_id": "c1",
	}))
	require.NoError(t, err)
	assert.Equal(t, service.CommentDeleted, rooms.events[0].Action)
}

func TestBindNotificationRequested(t *testing.T) {
	notifier := &fakeNotifier{}
	h := NewEventHandler(&fakeRooms{}, notifier, discard)

	err := Bind(h, h.OnNotificationRequestedV1)(newMessage(t, map[string]any{
		"target_user": "bob",
		"type":        "post",
		"title":       "Item claimed",
		"message":     "alice claimed your item",
	}))
	require.NoError(t, err)

	require.Len(t, notifier.inputs, 1)
	assert.Equal(t, "bob", notifier.inputs[0].Target)
	assert.Equal(t, model.CategoryPost, notifier.inputs[0].Category)
	assert.Equal(t, "alice claimed your item", notifier.inputs[0].Body)
}

func TestBindAckDecisions(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		err     error
		wantErr bool
	}{
		{name: "malformed payload is acked", payload: []byte("{not json")},
		{name: "validation error is acked", payload: []byte(`{"post_id":"42"}`), err: model.Invalid("comment", "is required")},
		{name: "not found is acked", payload: []byte(`{"post_id":"42"}`), err: model.ErrUserNotFound},
		{name: "transient error is retried", payload: []byte(`{"post_id":"42"}`), err: errors.New("mongo down"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewEventHandler(&fakeRooms{err: tt.err}, &fakeNotifier{}, discard)
			err := Bind(h, h.OnCommentCreatedV1)(message.NewMessage(watermill.NewUUID(), tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBindRecoversPanic(t *testing.T) {
	h := NewEventHandler(&fakeRooms{}, &fakeNotifier{}, discard)
	handler := Bind(h, func(context.Context, *service.CommentEvent) error {
		panic("boom")
	})

	var err error
	require.NotPanics(t, func() {
		err = handler(newMessage(t, map[string]any{"post_id": "42"}))
	})
	assert.ErrorContains(t, err, "PANIC_RECOVERED")
}

func TestTraceIDMiddleware(t *testing.T) {
	var got string
	next := func(msg *message.Message) ([]*message.Message, error) {
		got = TraceIDFromContext(msg.Context())
		return nil, nil
	}

	msg := message.NewMessage(watermill.NewUUID(), nil)
	msg.Metadata.Set("trace_id", "abc")
	_, err := TraceIDMiddleware(next)(msg)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	fresh := message.NewMessage(watermill.NewUUID(), nil)
	_, err = TraceIDMiddleware(next)(fresh)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.Equal(t, got, fresh.Metadata.Get("trace_id"))
}

type channelBuilder struct {
	bus    *gochannel.GoChannel
	queues []string
}

func (b *channelBuilder) Build(queue, _, _ string) (message.Subscriber, error) {
	b.queues = append(b.queues, queue)
	return b.bus, nil
}

func TestRouterDeliversCommentEvents(t *testing.T) {
	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = bus.Close() })

	rooms := &fakeRooms{seen: make(chan struct{}, 1)}
	h := NewEventHandler(rooms, &fakeNotifier{}, discard)

	router, err := NewWatermillRouter(watermill.NopLogger{})
	require.NoError(t, err)

	builder := &channelBuilder{bus: bus}
	cfg := config.AMQPConfig{EventsExchange: "lostfound.events", Queue: "im-realtime-service"}
	require.NoError(t, h.RegisterHandlers(router, builder, bus, cfg))
	assert.Equal(t, []string{
		"im-realtime-service.ON_COMMENT_CREATED",
		"im-realtime-service.ON_COMMENT_DELETED",
		"im-realtime-service.ON_NOTIFICATION_REQUESTED",
	}, builder.queues)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = router.Run(ctx) }()
	t.Cleanup(func() { _ = router.Close() })
	<-router.Running()

	require.NoError(t, bus.Publish(TopicCommentDeleted, newMessage(t, map[string]any{
		"post_id":    "42",
		"comment_id": "c1",
		"actor":      "alice",
	})))

	select {
	case <-rooms.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("comment event not handled")
	}

	rooms.mu.Lock()
	defer rooms.mu.Unlock()
	require.Len(t, rooms.events, 1)
	assert.Equal(t, "c1", rooms.events[0].CommentID)
	assert.Equal(t, "alice", rooms.events[0].Actor)
}
