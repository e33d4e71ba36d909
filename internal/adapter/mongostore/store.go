package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"github.com/lostfound/im-realtime-service/internal/service"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	usersCollection         = "users"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	notificationsCollection = "notifications"
)

type Store struct {
	db            *mongo.Database
	users         *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
	notifications *mongo.Collection
	timeout       time.Duration
}

var _ service.Store = (*Store)(nil)

// New binds the store to db. Call EnsureIndexes before serving traffic; the
// unique pair_key index backs the conversation upsert.
func New(db *mongo.Database, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{
		db:            db,
		users:         db.Collection(usersCollection),
		conversations: db.Collection(conversationsCollection),
		messages:      db.Collection(messagesCollection),
		notifications: db.Collection(notificationsCollection),
		timeout:       timeout,
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 4*s.timeout)
	defer cancel()

	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.conversations, []mongo.IndexModel{
			{Keys: bson.D{{Key: "pair_key", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "participants.a", Value: 1}, {Key: "updated_at", Value: -1}}},
			{Keys: bson.D{{Key: "participants.b", Value: 1}, {Key: "updated_at", Value: -1}}},
		}},
		{s.messages, []mongo.IndexModel{
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "to_user", Value: 1}, {Key: "is_read", Value: 1}}},
		}},
		{s.notifications, []mongo.IndexModel{
			{Keys: bson.D{{Key: "target_user", Value: 1}, {Key: "created_at", Value: -1}}},
		}},
	}
	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateMany(ctx, spec.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", spec.coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.Client().Ping(ctx, readpref.Primary())
}

func (s *Store) FindUser(ctx context.Context, username string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var u model.User
	err := s.users.FindOne(ctx, bson.M{"username": username}).Decode(&u)
	if err != nil {
		return nil, notFound(err, model.ErrUserNotFound)
	}
	return &u, nil
}

// UpsertConversation relies on the unique pair_key index: two concurrent
// first contacts both try to insert, one wins and the other retries as a
// plain find.
func (s *Store) UpsertConversation(ctx context.Context, pair model.Pair, at time.Time) (*model.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{"pair_key": pair.Key()}
	update := bson.M{"$setOnInsert": bson.M{
		"_id":          uuid.NewString(),
		"participants": pair,
		"pair_key":     pair.Key(),
		"created_at":   at,
		"updated_at":   at,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var c model.Conversation
	err := s.conversations.FindOneAndUpdate(ctx, filter, update, opts).Decode(&c)
	if mongo.IsDuplicateKeyError(err) {
		err = s.conversations.FindOne(ctx, filter).Decode(&c)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert conversation %s: %w", pair.Key(), err)
	}
	return &c, nil
}

func (s *Store) FindConversation(ctx context.Context, pair model.Pair) (*model.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var c model.Conversation
	if err := s.conversations.FindOne(ctx, bson.M{"pair_key": pair.Key()}).Decode(&c); err != nil {
		return nil, notFound(err, model.ErrConversationNotFound)
	}
	return &c, nil
}

func (s *Store) TouchConversation(ctx context.Context, id, lastMessageID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.conversations.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"updated_at":      at,
		"last_message_id": lastMessageID,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return model.ErrConversationNotFound
	}
	return nil
}

func (s *Store) ListConversations(ctx context.Context, identity string) ([]*model.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{"$or": bson.A{
		bson.M{"participants.a": identity},
		bson.M{"participants.b": identity},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	return findAll[model.Conversation](ctx, s.conversations, filter, opts)
}

func (s *Store) InsertMessage(ctx context.Context, msg *model.Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: message %s exists", model.ErrConflict, msg.ID)
		}
		return err
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var m model.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, notFound(err, model.ErrMessageNotFound)
	}
	return &m, nil
}

func (s *Store) SoftDeleteMessage(ctx context.Context, id, tombstone string, at time.Time) error {
	return s.setMessage(ctx, id, bson.M{
		"content":    tombstone,
		"is_deleted": true,
		"deleted_at": at,
	})
}

func (s *Store) EditMessage(ctx context.Context, id, content string, at time.Time) error {
	return s.setMessage(ctx, id, bson.M{
		"content":   content,
		"is_edited": true,
		"edited_at": at,
	})
}

func (s *Store) setMessage(ctx context.Context, id string, fields bson.M) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.messages.UpdateByID(ctx, id, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return model.ErrMessageNotFound
	}
	return nil
}

// MarkMessageRead only matches unread documents, so exactly one caller
// observes the transition.
func (s *Store) MarkMessageRead(ctx context.Context, id string, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": id, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": at}},
	)
	if err != nil {
		return false, err
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	if n, err := s.messages.CountDocuments(ctx, bson.M{"_id": id}); err != nil {
		return false, err
	} else if n == 0 {
		return false, model.ErrMessageNotFound
	}
	return false, nil
}

func (s *Store) MarkConversationRead(ctx context.Context, conversationID, reader string, at time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.messages.UpdateMany(ctx,
		unreadFilter(conversationID, reader),
		bson.M{"$set": bson.M{"is_read": true, "read_at": at}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, skip int) ([]*model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	return findAll[model.Message](ctx, s.messages, bson.M{"conversation_id": conversationID}, opts)
}

func (s *Store) CountUnread(ctx context.Context, conversationID, reader string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.messages.CountDocuments(ctx, unreadFilter(conversationID, reader))
}

func (s *Store) InsertNotification(ctx context.Context, n *model.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.notifications.InsertOne(ctx, n)
	return err
}

func (s *Store) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n model.Notification
	if err := s.notifications.FindOne(ctx, bson.M{"_id": id}).Decode(&n); err != nil {
		return nil, notFound(err, model.ErrNotificationNotFound)
	}
	return &n, nil
}

func (s *Store) ListNotifications(ctx context.Context, target string, limit, skip int) ([]*model.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	return findAll[model.Notification](ctx, s.notifications, bson.M{"target_user": target}, opts)
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.notifications.UpdateByID(ctx, id, bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return model.ErrNotificationNotFound
	}
	return nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, target string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.notifications.UpdateMany(ctx,
		bson.M{"target_user": target, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) CountUnreadNotifications(ctx context.Context, target string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.notifications.CountDocuments(ctx, bson.M{"target_user": target, "is_read": false})
}

func unreadFilter(conversationID, reader string) bson.M {
	f := bson.M{"to_user": reader, "is_read": false}
	if conversationID != "" {
		f["conversation_id"] = conversationID
	}
	return f
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter any, opts *options.FindOptions) ([]*T, error) {
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]*T, 0)
	for cur.Next(ctx) {
		var v T
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, cur.Err()
}

func notFound(err, sentinel error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return sentinel
	}
	return err
}
