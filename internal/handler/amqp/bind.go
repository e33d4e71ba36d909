package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
)

// DomainHandler defines the functional signature for business logic.
type DomainHandler[T any] func(ctx context.Context, payload *T) error

// [INFRASTRUCTURE_BRIDGE]
// Bind connects Watermill to Domain logic, handling Panic Recovery and the
// ack/nack decision.
func Bind[T any](h *EventHandler, fn DomainHandler[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) (err error) {
		// [PANIC_RECOVERY]
		// A panicking handler must not take the consumer down; the message
		// ends up in the poison queue after retries.
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("PANIC_RECOVERED",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
				err = fmt.Errorf("PANIC_RECOVERED: %v", r)
			}
		}()

		// [DECODING]
		payload := new(T)
		if err := json.Unmarshal(msg.Payload, payload); err != nil {
			h.logger.Error("DECODE_FAILED", "err", err, "msg_id", msg.UUID)
			return nil // ACK: Poison Pill protection.
		}

		// [EXECUTION]
		if err := fn(msg.Context(), payload); err != nil {
			if errors.Is(err, model.ErrValidation) || errors.Is(err, model.ErrNotFound) {
				h.logger.Warn("EVENT_REJECTED", "err", err, "msg_id", msg.UUID)
				return nil // ACK: redelivery cannot fix the payload.
			}
			return err // NACK: triggers Retry policy.
		}
		return nil
	}
}
