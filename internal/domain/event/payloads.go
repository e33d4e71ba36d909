package event

import (
	"time"

	"github.com/lostfound/im-realtime-service/internal/domain/model"
)

type OnlineUsersPayload struct {
	Users []string `json:"users"`
}

type UserStatusPayload struct {
	Username  string    `json:"username"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type MessagePayload struct {
	Message *model.Message `json:"message"`
}

type MessageDeletedPayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	DeletedBy      string    `json:"deleted_by"`
	Content        string    `json:"content"`
	DeletedAt      time.Time `json:"deleted_at"`
}

type MessageReadPayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Reader         string    `json:"reader"`
	ReadAt         time.Time `json:"read_at"`
}

type MessagesReadPayload struct {
	Reader string    `json:"reader"`
	Count  int64     `json:"count"`
	ReadAt time.Time `json:"read_at"`
}

type CommentPayload struct {
	PostID  string         `json:"post_id"`
	Comment *model.Comment `json:"comment"`
}

type DeletedCommentPayload struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id"`
}

type NotificationPayload struct {
	Data *model.Notification `json:"data"`
}

type TypingPayload struct {
	Username       string `json:"username"`
	ConversationID string `json:"conversation_id"`
}

type KeepalivePayload struct {
	Timestamp time.Time `json:"timestamp"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)
