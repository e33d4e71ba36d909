package amqp

import (
	"context"

	"github.com/lostfound/im-realtime-service/internal/service"
)

// [ON_COMMENT_CREATED]
func (h *EventHandler) OnCommentCreatedV1(ctx context.Context, ev *service.CommentEvent) error {
	ev.Action = service.CommentCreated
	n, err := h.rooms.PublishComment(ctx, *ev)
	if err != nil {
		return err
	}
	h.logger.Debug("COMMENT_FANNED_OUT", "post_id", ev.PostID, "delivered", n)
	return nil
}

// [ON_COMMENT_DELETED]
func (h *EventHandler) OnCommentDeletedV1(ctx context.Context, ev *service.CommentEvent) error {
	ev.Action = service.CommentDeleted
	_, err := h.rooms.PublishComment(ctx, *ev)
	return err
}

// [ON_NOTIFICATION_REQUESTED]
// Other services ask for a user notification without calling the HTTP API.
func (h *EventHandler) OnNotificationRequestedV1(ctx context.Context, in *service.NotifyInput) error {
	_, err := h.notifier.Notify(ctx, *in)
	return err
}
