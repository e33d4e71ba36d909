package model

import "time"

// Conversation is the durable container of a direct message thread between
// exactly two users. At most one exists per Pair.
type Conversation struct {
	ID            string    `json:"id" bson:"_id"`
	Participants  Pair      `json:"participants" bson:"participants"`
	PairKey       string    `json:"-" bson:"pair_key"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
	LastMessageID string    `json:"last_message_id,omitempty" bson:"last_message_id,omitempty"`
}

// ConversationSummary is the per-user inbox row.
type ConversationSummary struct {
	ID          string    `json:"id"`
	OtherUser   string    `json:"other_user"`
	OtherInfo   *User     `json:"other_user_info,omitempty"`
	IsOnline    bool      `json:"is_online"`
	LastMessage *Message  `json:"last_message,omitempty"`
	UnreadCount int64     `json:"unread_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}
