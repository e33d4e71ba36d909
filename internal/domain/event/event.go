// Package event defines the server-to-client frames pushed through the
// connection registry.
package event

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind int16

const (
	OnlineUsers Kind = iota + 1 // [PRESENCE]
	UserStatus
	NewMessage // [MESSAGING]
	MessageDeleted
	MessageEdited
	MessageRead
	MessagesRead
	NewComment // [ROOM]
	DeletedComment
	Notification
	TypingStart // [EPHEMERAL]
	TypingStop
	Ping // [KEEPALIVE]
	Pong
)

var kindNames = map[Kind]string{
	OnlineUsers:    "online_users",
	UserStatus:     "user_status",
	NewMessage:     "new_message",
	MessageDeleted: "message_deleted",
	MessageEdited:  "message_edited",
	MessageRead:    "message_read",
	MessagesRead:   "messages_read",
	NewComment:     "new_comment",
	DeletedComment: "deleted_comment",
	Notification:   "notification",
	TypingStart:    "typing_start",
	TypingStop:     "typing_stop",
	Ping:           "ping",
	Pong:           "pong",
}

// String returns the wire name carried in the "type" discriminator.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int16(k))
}

type Priority int32

// Low priority frames may be shed when a connection's queue is saturated.
// Anything above Low that cannot be queued marks the connection as dead.
const (
	PriorityLow    Priority = 10
	PriorityNormal Priority = 20
	PriorityHigh   Priority = 30
)

// Eventer defines the contract for all frames flowing through the Hub.
type Eventer interface {
	GetID() string
	GetKind() Kind
	GetPriority() Priority
	GetOccurredAt() int64
	GetPayload() any
	// Encode returns the wire encoding. It is computed once and shared by
	// every recipient of a fan-out.
	Encode() ([]byte, error)
}

var _ Eventer = (*Event)(nil)

// Event is the generic envelope used for every server frame.
type Event struct {
	id         string
	kind       Kind
	priority   Priority
	occurredAt int64
	payload    any

	once    sync.Once
	encoded []byte
	err     error
}

// New is the universal factory; the typed constructors in this package
// should be preferred.
func New(kind Kind, priority Priority, payload any) *Event {
	return &Event{
		id:         uuid.NewString(),
		kind:       kind,
		priority:   priority,
		occurredAt: time.Now().UnixMilli(),
		payload:    payload,
	}
}

func (e *Event) GetID() string         { return e.id }
func (e *Event) GetKind() Kind         { return e.kind }
func (e *Event) GetPriority() Priority { return e.priority }
func (e *Event) GetOccurredAt() int64  { return e.occurredAt }
func (e *Event) GetPayload() any       { return e.payload }

// Encode flattens the payload object into {"type": <kind>, ...fields}.
func (e *Event) Encode() ([]byte, error) {
	e.once.Do(func() {
		e.encoded, e.err = encode(e.kind, e.payload)
	})
	return e.encoded, e.err
}

func encode(kind Kind, payload any) ([]byte, error) {
	head, err := json.Marshal(kind.String())
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 64)
	out = append(out, `{"type":`...)
	out = append(out, head...)

	if payload == nil {
		return append(out, '}'), nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event %s: marshal payload: %w", kind, err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("event %s: payload must encode to a JSON object", kind)
	}
	if len(body) == 2 {
		return append(out, '}'), nil
	}
	out = append(out, ',')
	return append(out, body[1:]...), nil
}
