package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lostfound/im-realtime-service/internal/domain/event"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"github.com/lostfound/im-realtime-service/internal/domain/registry"
)

const roomPrefix = "post_"

// PostRoom returns the room of viewers of a post.
func PostRoom(postID string) string { return roomPrefix + postID }

type CommentAction string

const (
	CommentCreated CommentAction = "created"
	CommentDeleted CommentAction = "deleted"
)

// CommentEvent is emitted by the post service after it committed a comment
// change. Actor performed the change and is not echoed the frame.
type CommentEvent struct {
	Action     CommentAction  `json:"action"`
	PostID     string         `json:"post_id"`
	PostAuthor string         `json:"post_author,omitempty"`
	PostTitle  string         `json:"post_title,omitempty"`
	Comment    *model.Comment `json:"comment,omitempty"`
	CommentID  string         `json:"comment_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
}

type Roomer interface {
	JoinPostRoom(identity, postID string) error
	LeavePostRoom(identity, postID string) bool
	PublishComment(ctx context.Context, ev CommentEvent) (int, error)
}

type RoomService struct {
	hub      registry.Hubber
	notifier Notifier
	logger   *slog.Logger
}

var _ Roomer = (*RoomService)(nil)

func NewRoomService(hub registry.Hubber, notifier Notifier, logger *slog.Logger) *RoomService {
	return &RoomService{hub: hub, notifier: notifier, logger: logger}
}

func (s *RoomService) JoinPostRoom(identity, postID string) error {
	if strings.TrimSpace(postID) == "" {
		return model.Invalid("post_id", "is required")
	}
	return s.hub.JoinRoom(identity, PostRoom(postID))
}

func (s *RoomService) LeavePostRoom(identity, postID string) bool {
	return s.hub.LeaveRoom(identity, PostRoom(postID))
}

// PublishComment fans a comment change out to the post's viewers, excluding
// the actor, and notifies the post author about comments by other users.
// It returns how many connections accepted the frame.
func (s *RoomService) PublishComment(ctx context.Context, ev CommentEvent) (int, error) {
	if strings.TrimSpace(ev.PostID) == "" {
		return 0, model.Invalid("post_id", "is required")
	}
	room := PostRoom(ev.PostID)

	switch ev.Action {
	case CommentCreated:
		c := ev.Comment
		if c == nil || c.ID == "" {
			return 0, model.Invalid("comment", "is required")
		}
		if err := model.ValidateIdentity(c.Author); err != nil {
			return 0, err
		}
		c.PostID = ev.PostID
		n := s.hub.BroadcastToRoom(room, event.NewCommentCreated(c), c.Author)

		if ev.PostAuthor != "" && ev.PostAuthor != c.Author {
			title := "New comment on your post"
			if ev.PostTitle != "" {
				title = fmt.Sprintf("New comment on %q", ev.PostTitle)
			}
			if _, err := s.notifier.Notify(ctx, NotifyInput{
				Target:        ev.PostAuthor,
				Category:      model.CategoryComment,
				Title:         title,
				Body:          model.Snippet(c.Content, 100),
				RelatedPostID: ev.PostID,
				RelatedUser:   c.Author,
				Payload:       map[string]any{"comment_id": c.ID},
			}); err != nil {
				// the fan-out already happened; the notification is best effort
				s.logger.Warn("COMMENT_NOTIFICATION_FAILED", "post_id", ev.PostID, "comment_id", c.ID, "err", err)
			}
		}
		return n, nil

	case CommentDeleted:
		id := ev.CommentID
		if id == "" && ev.Comment != nil {
			id = ev.Comment.ID
		}
		if id == "" {
			return 0, model.Invalid("comment_id", "is required")
		}
		var exclude []string
		if ev.Actor != "" {
			exclude = append(exclude, ev.Actor)
		}
		return s.hub.BroadcastToRoom(room, event.NewCommentDeleted(ev.PostID, id), exclude...), nil

	default:
		return 0, model.Invalid("action", fmt.Sprintf("unknown action %q", ev.Action))
	}
}
