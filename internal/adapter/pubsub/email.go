package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lostfound/im-realtime-service/internal/service"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/trace"
)

// RoutingKeyEmailReceived is consumed by the mail sender.
const RoutingKeyEmailReceived = "email.message.received.v1"

// ErrEmailUnavailable is returned while the breaker is open.
var ErrEmailUnavailable = errors.New("email publisher unavailable")

type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

var defaultBreaker = BreakerSettings{MaxFailures: 5, OpenTimeout: 30 * time.Second}

// EmailPublisher implements service.EmailPublisher on top of a watermill
// publisher. Consecutive broker failures open the breaker so message sends
// stop paying for a dead broker.
type EmailPublisher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

var _ service.EmailPublisher = (*EmailPublisher)(nil)

func NewEmailPublisher(pub message.Publisher, settings BreakerSettings, logger *slog.Logger) *EmailPublisher {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = defaultBreaker.MaxFailures
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = defaultBreaker.OpenTimeout
	}

	st := gobreaker.Settings{
		Name:        "email-publisher",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("BREAKER_STATE_CHANGED", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &EmailPublisher{
		publisher: pub,
		breaker:   gobreaker.NewCircuitBreaker(st),
		logger:    logger,
	}
}

func (p *EmailPublisher) PublishEmail(ctx context.Context, intent service.EmailIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("email publisher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.Metadata.Set("trace_id", sc.TraceID().String())
	}

	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.publisher.Publish(RoutingKeyEmailReceived, msg)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %w", ErrEmailUnavailable, err)
	case err != nil:
		return fmt.Errorf("email publisher: failed to publish to topic %s: %w", RoutingKeyEmailReceived, err)
	}

	p.logger.Debug("EMAIL_INTENT_PUBLISHED", "msg_id", msg.UUID, "recipient", intent.Recipient)
	return nil
}

func (p *EmailPublisher) State() string { return p.breaker.State().String() }

func (p *EmailPublisher) Close() error { return p.publisher.Close() }
