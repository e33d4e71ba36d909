package event

import (
	"time"

	"github.com/lostfound/im-realtime-service/internal/domain/model"
)

func NewOnlineUsers(users []string) *Event {
	if users == nil {
		users = []string{}
	}
	return New(OnlineUsers, PriorityNormal, &OnlineUsersPayload{Users: users})
}

func NewUserStatus(username string, online bool, at time.Time) *Event {
	status := StatusOffline
	if online {
		status = StatusOnline
	}
	return New(UserStatus, PriorityLow, &UserStatusPayload{Username: username, Status: status, Timestamp: at})
}

func NewMessageCreated(msg *model.Message) *Event {
	return New(NewMessage, PriorityHigh, &MessagePayload{Message: msg})
}

func NewMessageEdited(msg *model.Message) *Event {
	return New(MessageEdited, PriorityHigh, &MessagePayload{Message: msg})
}

func NewMessageDeleted(msg *model.Message, by string, at time.Time) *Event {
	return New(MessageDeleted, PriorityHigh, &MessageDeletedPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		DeletedBy:      by,
		Content:        msg.Content,
		DeletedAt:      at,
	})
}

func NewMessageRead(msg *model.Message, reader string, at time.Time) *Event {
	return New(MessageRead, PriorityNormal, &MessageReadPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Reader:         reader,
		ReadAt:         at,
	})
}

func NewMessagesRead(reader string, count int64, at time.Time) *Event {
	return New(MessagesRead, PriorityNormal, &MessagesReadPayload{Reader: reader, Count: count, ReadAt: at})
}

func NewCommentCreated(c *model.Comment) *Event {
	return New(NewComment, PriorityNormal, &CommentPayload{PostID: c.PostID, Comment: c})
}

func NewCommentDeleted(postID, commentID string) *Event {
	return New(DeletedComment, PriorityNormal, &DeletedCommentPayload{PostID: postID, CommentID: commentID})
}

func NewNotification(n *model.Notification) *Event {
	return New(Notification, PriorityHigh, &NotificationPayload{Data: n})
}

func NewTyping(username, conversationID string, started bool) *Event {
	kind := TypingStop
	if started {
		kind = TypingStart
	}
	return New(kind, PriorityLow, &TypingPayload{Username: username, ConversationID: conversationID})
}

func NewPing(at time.Time) *Event {
	return New(Ping, PriorityNormal, &KeepalivePayload{Timestamp: at})
}

func NewPong(at time.Time) *Event {
	return New(Pong, PriorityNormal, &KeepalivePayload{Timestamp: at})
}
