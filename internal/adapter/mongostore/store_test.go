package mongostore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestUnreadFilter(t *testing.T) {
	assert.Equal(t, bson.M{"to_user": "bob", "is_read": false}, unreadFilter("", "bob"))
	assert.Equal(t, bson.M{"to_user": "bob", "is_read": false, "conversation_id": "c1"}, unreadFilter("c1", "bob"))
}

// newIntegrationStore needs a reachable MongoDB in LOSTFOUND_TEST_MONGO_URI.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("LOSTFOUND_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("LOSTFOUND_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, uri, 5*time.Second)
	require.NoError(t, err)

	db := client.Database("lostfound_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	s := New(db, 5*time.Second)
	require.NoError(t, s.EnsureIndexes(ctx))
	return s
}

func TestStore_ConcurrentUpsert(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	pair, err := model.NewPair("bob", "alice")
	require.NoError(t, err)

	ids := make([]string, 16)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.UpsertConversation(ctx, pair, time.Now())
			if assert.NoError(t, err) {
				ids[i] = c.ID
			}
		}()
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	convs, err := s.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, pair, convs[0].Participants)
}

func TestStore_MessageLifecycle(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	msg := &model.Message{ID: uuid.NewString(), ConversationID: "c1", From: "alice", To: "bob", Content: "hi", Timestamp: now}
	require.NoError(t, s.InsertMessage(ctx, msg))
	assert.ErrorIs(t, s.InsertMessage(ctx, msg), model.ErrConflict)

	changed, err := s.MarkMessageRead(ctx, msg.ID, now)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.MarkMessageRead(ctx, msg.ID, now)
	require.NoError(t, err)
	assert.False(t, changed)
	_, err = s.MarkMessageRead(ctx, "missing", now)
	assert.ErrorIs(t, err, model.ErrMessageNotFound)

	require.NoError(t, s.SoftDeleteMessage(ctx, msg.ID, model.TombstoneContent, now))
	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.Equal(t, model.TombstoneContent, got.Content)

	_, err = s.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrMessageNotFound)
	_, err = s.FindUser(ctx, "nobody")
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}
