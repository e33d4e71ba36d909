package service_test

import (
	"context"
	"testing"

	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"github.com/lostfound/im-realtime-service/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotify_PersistsThenPushes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	offline, err := f.notifier.Notify(ctx, service.NotifyInput{Target: "bob", Title: "Welcome"})
	require.NoError(t, err)
	assert.Equal(t, model.CategorySystem, offline.Category, "category defaults to system")

	bob := f.connect(t, "bob")
	n, err := f.notifier.Notify(ctx, service.NotifyInput{
		Target:        "bob",
		Category:      model.CategoryPost,
		Title:         "Item matched",
		Body:          "Someone found a wallet",
		RelatedPostID: "42",
		Payload:       map[string]any{"score": 0.9},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(bob.of("notification")) == 1 }, waitFor, poll)
	data := bob.of("notification")[0]["data"].(map[string]any)
	assert.Equal(t, n.ID, data["id"])
	assert.Equal(t, "post", data["type"])
	assert.Equal(t, "Someone found a wallet", data["message"])

	list, err := f.notifier.List(ctx, "bob", 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestNotify_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.notifier.Notify(ctx, service.NotifyInput{Target: "", Title: "x"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.notifier.Notify(ctx, service.NotifyInput{Target: "bob", Category: "gossip", Title: "x"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.notifier.Notify(ctx, service.NotifyInput{Target: "bob"})
	assert.ErrorIs(t, err, model.ErrValidation)

	n, err := f.notifier.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNotification_ReadState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.notifier.Notify(ctx, service.NotifyInput{Target: "bob", Title: "one"})
	require.NoError(t, err)
	_, err = f.notifier.Notify(ctx, service.NotifyInput{Target: "bob", Title: "two"})
	require.NoError(t, err)

	_, err = f.notifier.MarkRead(ctx, first.ID, "alice")
	assert.ErrorIs(t, err, model.ErrNotOwner)
	_, err = f.notifier.MarkRead(ctx, "missing", "bob")
	assert.ErrorIs(t, err, model.ErrNotificationNotFound)

	read, err := f.notifier.MarkRead(ctx, first.ID, "bob")
	require.NoError(t, err)
	assert.True(t, read.IsRead)
	_, err = f.notifier.MarkRead(ctx, first.ID, "bob")
	require.NoError(t, err)

	unread, err := f.notifier.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread)

	n, err := f.notifier.MarkAllRead(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	unread, err = f.notifier.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, unread)
}
