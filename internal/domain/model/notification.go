package model

import "time"

type NotificationCategory string

const (
	CategoryMessage NotificationCategory = "message"
	CategoryComment NotificationCategory = "comment"
	CategoryPost    NotificationCategory = "post"
	CategoryReport  NotificationCategory = "report"
	CategorySystem  NotificationCategory = "system"
)

// Valid reports whether c is a known category.
func (c NotificationCategory) Valid() bool {
	switch c {
	case CategoryMessage, CategoryComment, CategoryPost, CategoryReport, CategorySystem:
		return true
	}
	return false
}

// Notification is a durable, per-user inbox entry.
type Notification struct {
	ID            string               `json:"id" bson:"_id"`
	Target        string               `json:"target_user" bson:"target_user"`
	Category      NotificationCategory `json:"type" bson:"type"`
	Title         string               `json:"title" bson:"title"`
	Body          string               `json:"message" bson:"message"`
	RelatedPostID string               `json:"related_post_id,omitempty" bson:"related_post_id,omitempty"`
	RelatedUser   string               `json:"related_user,omitempty" bson:"related_user,omitempty"`
	Payload       map[string]any       `json:"data,omitempty" bson:"data,omitempty"`
	CreatedAt     time.Time            `json:"created_at" bson:"created_at"`
	IsRead        bool                 `json:"is_read" bson:"is_read"`
}
