package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lostfound/im-realtime-service/internal/domain/event"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"github.com/lostfound/im-realtime-service/internal/domain/registry"
	"go.opentelemetry.io/otel/attribute"
)

// Notifier is the notification dispatcher: persist first, then push to the
// target if online.
type Notifier interface {
	Notify(ctx context.Context, in NotifyInput) (*model.Notification, error)
	List(ctx context.Context, target string, limit, skip int) ([]*model.Notification, error)
	MarkRead(ctx context.Context, id, owner string) (*model.Notification, error)
	MarkAllRead(ctx context.Context, owner string) (int64, error)
	UnreadCount(ctx context.Context, owner string) (int64, error)
}

type NotifyInput struct {
	Target        string                     `json:"target_user"`
	Category      model.NotificationCategory `json:"type"`
	Title         string                     `json:"title"`
	Body          string                     `json:"message"`
	RelatedPostID string                     `json:"related_post_id,omitempty"`
	RelatedUser   string                     `json:"related_user,omitempty"`
	Payload       map[string]any             `json:"data,omitempty"`
}

type NotificationService struct {
	hub      registry.Hubber
	store    NotificationStore
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

var _ Notifier = (*NotificationService)(nil)

func NewNotificationService(hub registry.Hubber, store NotificationStore, recorder Recorder, logger *slog.Logger) *NotificationService {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &NotificationService{
		hub:      hub,
		store:    store,
		recorder: recorder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Notify persists the notification and pushes it, with its assigned id, when
// the target is online. A failed push is not retried; the stored record is
// what clients fetch.
func (s *NotificationService) Notify(ctx context.Context, in NotifyInput) (n *model.Notification, err error) {
	ctx, span := startSpan(ctx, "NotificationService.Notify",
		attribute.String("target", in.Target), attribute.String("category", string(in.Category)))
	defer func() { endSpan(span, err) }()

	if err := model.ValidateIdentity(in.Target); err != nil {
		return nil, err
	}
	if in.Category == "" {
		in.Category = model.CategorySystem
	}
	if !in.Category.Valid() {
		return nil, model.Invalid("type", fmt.Sprintf("unknown category %q", in.Category))
	}
	if strings.TrimSpace(in.Title) == "" && strings.TrimSpace(in.Body) == "" {
		return nil, model.Invalid("title", "title or message is required")
	}

	n = &model.Notification{
		ID:            model.NewSortableID(),
		Target:        in.Target,
		Category:      in.Category,
		Title:         in.Title,
		Body:          in.Body,
		RelatedPostID: in.RelatedPostID,
		RelatedUser:   in.RelatedUser,
		Payload:       in.Payload,
		CreatedAt:     s.now(),
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	s.recorder.NotificationCreated(string(n.Category))

	if s.hub.SendTo(n.Target, event.NewNotification(n)) {
		s.logger.Debug("NOTIFICATION_PUSHED", "notification_id", n.ID, "target", n.Target)
	}
	return n, nil
}

func (s *NotificationService) List(ctx context.Context, target string, limit, skip int) ([]*model.Notification, error) {
	if err := model.ValidateIdentity(target); err != nil {
		return nil, err
	}
	limit, skip = page(limit, skip)
	return s.store.ListNotifications(ctx, target, limit, skip)
}

// MarkRead marks one notification of owner as read. It is idempotent.
func (s *NotificationService) MarkRead(ctx context.Context, id, owner string) (*model.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, model.Invalid("notification_id", "is required")
	}
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Target != owner {
		return nil, model.ErrNotOwner
	}
	if n.IsRead {
		return n, nil
	}
	if err := s.store.MarkNotificationRead(ctx, id); err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	n.IsRead = true
	return n, nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, owner string) (int64, error) {
	if err := model.ValidateIdentity(owner); err != nil {
		return 0, err
	}
	return s.store.MarkAllNotificationsRead(ctx, owner)
}

func (s *NotificationService) UnreadCount(ctx context.Context, owner string) (int64, error) {
	if err := model.ValidateIdentity(owner); err != nil {
		return 0, err
	}
	return s.store.CountUnreadNotifications(ctx, owner)
}
