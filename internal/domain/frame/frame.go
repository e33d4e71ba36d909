// Package frame decodes client-to-server WebSocket frames into a closed set
// of types. Decoding happens once at the transport boundary; handlers switch
// on the concrete type.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lostfound/im-realtime-service/internal/domain/model"
)

var (
	ErrMalformed    = fmt.Errorf("%w: malformed frame", model.ErrValidation)
	ErrUnknownFrame = errors.New("unknown frame type")
)

// Inbound is implemented only by the frame types of this package.
type Inbound interface {
	Type() string
	inbound()
}

type Ping struct{}

type Pong struct{}

type JoinPostRoom struct {
	PostID string `json:"post_id"`
}

type LeavePostRoom struct {
	PostID string `json:"post_id"`
}

type TypingStart struct {
	ConversationID string `json:"conversation_id"`
	OtherUser      string `json:"other_user"`
}

type TypingStop struct {
	ConversationID string `json:"conversation_id"`
	OtherUser      string `json:"other_user"`
}

type MarkMessageRead struct {
	MessageID string `json:"message_id"`
}

func (Ping) Type() string            { return "ping" }
func (Pong) Type() string            { return "pong" }
func (JoinPostRoom) Type() string    { return "join_post_room" }
func (LeavePostRoom) Type() string   { return "leave_post_room" }
func (TypingStart) Type() string     { return "typing_start" }
func (TypingStop) Type() string      { return "typing_stop" }
func (MarkMessageRead) Type() string { return "mark_message_read" }

func (Ping) inbound()            {}
func (Pong) inbound()            {}
func (JoinPostRoom) inbound()    {}
func (LeavePostRoom) inbound()   {}
func (TypingStart) inbound()     {}
func (TypingStop) inbound()      {}
func (MarkMessageRead) inbound() {}

type envelope struct {
	Type string `json:"type"`
}

// Decode parses one raw frame. Unknown types yield ErrUnknownFrame so the
// caller can log and move on; malformed or incomplete frames yield a
// validation error.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case "ping":
		return Ping{}, nil
	case "pong":
		return Pong{}, nil
	case "join_post_room":
		return decodeAs(data, func(f JoinPostRoom) error { return requireField("post_id", f.PostID) })
	case "leave_post_room":
		return decodeAs(data, func(f LeavePostRoom) error { return requireField("post_id", f.PostID) })
	case "typing_start":
		return decodeAs(data, func(f TypingStart) error { return requireTyping(f.ConversationID, f.OtherUser) })
	case "typing_stop":
		return decodeAs(data, func(f TypingStop) error { return requireTyping(f.ConversationID, f.OtherUser) })
	case "mark_message_read":
		return decodeAs(data, func(f MarkMessageRead) error { return requireField("message_id", f.MessageID) })
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, env.Type)
	}
}

func decodeAs[T Inbound](data []byte, validate func(T) error) (Inbound, error) {
	var f T
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate(f); err != nil {
		return nil, err
	}
	return f, nil
}

func requireField(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return model.Invalid(field, "is required")
	}
	return nil
}

func requireTyping(conversationID, other string) error {
	if err := requireField("conversation_id", conversationID); err != nil {
		return err
	}
	return model.ValidateIdentity(other)
}
