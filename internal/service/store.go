package service

import (
	"context"
	"time"

	"github.com/lostfound/im-realtime-service/internal/domain/model"
)

// The persistence gateway. Implementations live in internal/adapter and must
// report missing records with the matching model.Err*NotFound sentinel.

type UserFinder interface {
	FindUser(ctx context.Context, username string) (*model.User, error)
}

type ConversationStore interface {
	// UpsertConversation atomically finds or creates the conversation of pair.
	UpsertConversation(ctx context.Context, pair model.Pair, at time.Time) (*model.Conversation, error)
	FindConversation(ctx context.Context, pair model.Pair) (*model.Conversation, error)
	TouchConversation(ctx context.Context, id, lastMessageID string, at time.Time) error
	// ListConversations returns the conversations of identity, most recent first.
	ListConversations(ctx context.Context, identity string) ([]*model.Conversation, error)
}

type MessageStore interface {
	InsertMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	SoftDeleteMessage(ctx context.Context, id, tombstone string, at time.Time) error
	EditMessage(ctx context.Context, id, content string, at time.Time) error
	// MarkMessageRead reports whether the message was unread before the call.
	MarkMessageRead(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkConversationRead marks every unread message addressed to reader in
	// the conversation and returns how many changed.
	MarkConversationRead(ctx context.Context, conversationID, reader string, at time.Time) (int64, error)
	// ListMessages returns messages in chronological order.
	ListMessages(ctx context.Context, conversationID string, limit, skip int) ([]*model.Message, error)
	// CountUnread counts unread messages addressed to reader. An empty
	// conversationID counts across all conversations.
	CountUnread(ctx context.Context, conversationID, reader string) (int64, error)
}

type NotificationStore interface {
	InsertNotification(ctx context.Context, n *model.Notification) error
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	// ListNotifications returns the inbox of target, newest first.
	ListNotifications(ctx context.Context, target string, limit, skip int) ([]*model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, target string) (int64, error)
	CountUnreadNotifications(ctx context.Context, target string) (int64, error)
}

// Store bundles the gateway for wiring.
type Store interface {
	UserFinder
	ConversationStore
	MessageStore
	NotificationStore
	Ping(ctx context.Context) error
}
