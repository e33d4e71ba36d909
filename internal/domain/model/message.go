package model

import (
	"time"
	"unicode/utf8"
)

// TombstoneContent replaces the body of a recalled message. The record
// itself is kept so ids and ordering stay stable for clients.
const TombstoneContent = "Tin nhắn đã được thu hồi"

// Message is a single direct message.
//
// ReplyContent and ReplyAuthor are a snapshot taken when the reply is written;
// they are not refreshed when the referenced message is edited or recalled.
type Message struct {
	ID             string     `json:"id" bson:"_id"`
	ConversationID string     `json:"conversation_id" bson:"conversation_id"`
	From           string     `json:"from_user" bson:"from_user"`
	To             string     `json:"to_user" bson:"to_user"`
	Content        string     `json:"content" bson:"content"`
	PostID         string     `json:"post_id,omitempty" bson:"post_id,omitempty"`
	PostLink       string     `json:"post_link,omitempty" bson:"post_link,omitempty"`
	ReplyTo        string     `json:"reply_to,omitempty" bson:"reply_to,omitempty"`
	ReplyContent   string     `json:"reply_content,omitempty" bson:"reply_content,omitempty"`
	ReplyAuthor    string     `json:"reply_author,omitempty" bson:"reply_author,omitempty"`
	Timestamp      time.Time  `json:"timestamp" bson:"timestamp"`
	IsRead         bool       `json:"is_read" bson:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty" bson:"read_at,omitempty"`
	IsDeleted      bool       `json:"is_deleted" bson:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty" bson:"deleted_at,omitempty"`
	IsEdited       bool       `json:"is_edited" bson:"is_edited"`
	EditedAt       *time.Time `json:"edited_at,omitempty" bson:"edited_at,omitempty"`
}

// Participants returns the canonical pair of the message's endpoints.
func (m *Message) Participants() Pair {
	if m.To < m.From {
		return Pair{A: m.To, B: m.From}
	}
	return Pair{A: m.From, B: m.To}
}

// Snippet truncates s to at most n runes.
func Snippet(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
