package registry

import (
	"log/slog"
	"time"
)

type hubConfig struct {
	heartbeatInterval time.Duration
	pongTimeout       time.Duration
	sendBuffer        int
	sendTimeout       time.Duration
}

func defaultHubConfig() hubConfig {
	return hubConfig{
		heartbeatInterval: 30 * time.Second,
		sendBuffer:        256,
		sendTimeout:       500 * time.Millisecond,
	}
}

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithHeartbeatInterval sets how often an idle connection is pinged.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.config.heartbeatInterval = d
		}
	}
}

// WithPongTimeout bounds the wait for an acknowledgment after a ping.
// Zero means one heartbeat interval.
func WithPongTimeout(d time.Duration) Option {
	return func(h *Hub) { h.config.pongTimeout = d }
}

// WithSendBuffer sets the [BACKPRESSURE] threshold of each connection queue.
func WithSendBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.config.sendBuffer = size
		}
	}
}

// WithSendTimeout is how long a normal or high priority frame may wait for
// queue space before the connection is considered dead.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.config.sendTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(h *Hub) {
		if r != nil {
			h.recorder = r
		}
	}
}

func WithObserver(o PresenceObserver) Option {
	return func(h *Hub) {
		if o != nil {
			h.observers = append(h.observers, o)
		}
	}
}

func (c hubConfig) pongWindow() time.Duration {
	if c.pongTimeout > 0 {
		return c.pongTimeout
	}
	return c.heartbeatInterval
}
