package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"github.com/lostfound/im-realtime-service/internal/domain/registry"
	"github.com/lostfound/im-realtime-service/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishComment_PostRoomFanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	viewers := map[string]*transport{}
	for _, id := range []string{"alice", "bob", "carol"} {
		viewers[id] = f.connect(t, id)
		require.NoError(t, f.rooms.JoinPostRoom(id, "42"))
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, f.hub.RoomMembers("post_42"))

	n, err := f.rooms.PublishComment(ctx, service.CommentEvent{
		Action:     service.CommentCreated,
		PostID:     "42",
		PostAuthor: "alice",
		PostTitle:  "Lost umbrella",
		Comment:    &model.Comment{ID: "c1", Author: "carol", Content: "I saw it in B1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"alice", "bob"} {
		require.Eventually(t, func() bool { return len(viewers[id].of("new_comment")) == 1 }, waitFor, poll, id)
		assert.Equal(t, "42", viewers[id].of("new_comment")[0]["post_id"])
	}
	assert.Empty(t, viewers["carol"].of("new_comment"), "the author is excluded")

	require.Eventually(t, func() bool { return len(viewers["alice"].of("notification")) == 1 }, waitFor, poll)
	inbox, err := f.notifier.List(ctx, "alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, model.CategoryComment, inbox[0].Category)
	assert.Equal(t, "carol", inbox[0].RelatedUser)

	// a disconnected viewer leaves every room
	f.hub.Unregister("bob")
	n, err = f.rooms.PublishComment(ctx, service.CommentEvent{
		Action: service.CommentDeleted, PostID: "42", CommentID: "c1", Actor: "carol",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Eventually(t, func() bool { return len(viewers["alice"].of("deleted_comment")) == 1 }, waitFor, poll)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, viewers["bob"].of("deleted_comment"))
	assert.Empty(t, viewers["carol"].of("deleted_comment"))
}

func TestPublishComment_AuthorCommentingOwnPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rooms.PublishComment(ctx, service.CommentEvent{
		Action:     service.CommentCreated,
		PostID:     "7",
		PostAuthor: "alice",
		Comment:    &model.Comment{ID: "c9", Author: "alice", Content: "bump"},
	})
	require.NoError(t, err)

	inbox, err := f.notifier.List(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, inbox)
}

func TestRooms_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.rooms.JoinPostRoom("alice", "42"), registry.ErrNotConnected)
	f.connect(t, "alice")
	assert.ErrorIs(t, f.rooms.JoinPostRoom("alice", " "), model.ErrValidation)
	require.NoError(t, f.rooms.JoinPostRoom("alice", "42"))
	assert.True(t, f.rooms.LeavePostRoom("alice", "42"))
	assert.False(t, f.rooms.LeavePostRoom("alice", "42"))

	_, err := f.rooms.PublishComment(ctx, service.CommentEvent{Action: "edited", PostID: "42"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.rooms.PublishComment(ctx, service.CommentEvent{Action: service.CommentCreated, PostID: "42"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.rooms.PublishComment(ctx, service.CommentEvent{Action: service.CommentDeleted})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, "post_42", service.PostRoom("42"))
}
