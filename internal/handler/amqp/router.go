package amqp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/lostfound/im-realtime-service/config"
	"github.com/lostfound/im-realtime-service/internal/service"
)

const (
	// ------------------- TOPICS (ROUTING KEYS) -----------------
	TopicCommentCreated        = "comment.created.v1"
	TopicCommentDeleted        = "comment.deleted.v1"
	TopicNotificationRequested = "notification.requested.v1"

	// ------------------- POISON --------------------------------
	PoisonSuffix = ".poison"
)

// SubscriberBuilder builds a subscriber consuming queue bound to exchange
// with topic as binding key.
type SubscriberBuilder interface {
	Build(queue, exchange, topic string) (message.Subscriber, error)
}

type EventHandler struct {
	rooms    service.Roomer
	notifier service.Notifier
	logger   *slog.Logger
}

func NewEventHandler(rooms service.Roomer, notifier service.Notifier, logger *slog.Logger) *EventHandler {
	return &EventHandler{rooms: rooms, notifier: notifier, logger: logger}
}

func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
}

// [REGISTRATION_PIPELINE]
// Every handler owns a durable queue named <queue>.<handler>; instances of
// this service compete on it so each event is handled once.
func (h *EventHandler) RegisterHandlers(router *message.Router, subs SubscriberBuilder, poisonPub message.Publisher, cfg config.AMQPConfig) error {
	poison, err := middleware.PoisonQueue(poisonPub, cfg.Queue+PoisonSuffix)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	configs := []struct {
		name    string
		topic   string
		handler message.NoPublishHandlerFunc
	}{
		{"ON_COMMENT_CREATED", TopicCommentCreated, Bind(h, h.OnCommentCreatedV1)},
		{"ON_COMMENT_DELETED", TopicCommentDeleted, Bind(h, h.OnCommentDeletedV1)},
		{"ON_NOTIFICATION_REQUESTED", TopicNotificationRequested, Bind(h, h.OnNotificationRequestedV1)},
	}

	for _, c := range configs {
		handlerQueue := fmt.Sprintf("%s.%s", cfg.Queue, c.name)

		sub, err := subs.Build(handlerQueue, cfg.EventsExchange, c.topic)
		if err != nil {
			return err
		}

		router.AddConsumerHandler(c.name, c.topic, sub, c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(h.logger),
			NewRetryMiddleware(h.logger).Middleware,
			poison,
			middleware.NewThrottle(100, time.Second).Middleware,
			middleware.Timeout(time.Second*30),
		)
	}

	h.logger.Info("AMQP_PIPELINE_READY", "exchange", cfg.EventsExchange, "queue", cfg.Queue)
	return nil
}
