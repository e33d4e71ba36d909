package registry

import (
	"time"

	"github.com/lostfound/im-realtime-service/internal/domain/event"
)

type HeartbeatState int32

const (
	StateAlive HeartbeatState = iota
	StatePingSent
	StateTerminated
)

func (s HeartbeatState) String() string {
	switch s {
	case StateAlive:
		return "ALIVE"
	case StatePingSent:
		return "PING_SENT"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// heartbeat supervises one connection:
// ALIVE -tick-> PING_SENT -ack-> ALIVE, PING_SENT -timeout|send failure-> TERMINATED.
// It stops as soon as the connection closes.
func (h *Hub) heartbeat(c *Conn) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		// acknowledgments received while ALIVE do not answer the next ping
		select {
		case <-c.ackCh:
		default:
		}

		if !h.deliver(c, event.NewPing(time.Now())) {
			h.terminate(c, "ping_undeliverable")
			return
		}
		c.state.Store(int32(StatePingSent))

		if !h.awaitAck(c) {
			return
		}
	}
}

func (h *Hub) awaitAck(c *Conn) bool {
	timer := time.NewTimer(h.config.pongWindow())
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return false
	case <-c.ackCh:
		c.state.CompareAndSwap(int32(StatePingSent), int32(StateAlive))
		return true
	case <-timer.C:
		h.terminate(c, "pong_timeout")
		return false
	}
}

func (h *Hub) terminate(c *Conn, reason string) {
	c.state.Store(int32(StateTerminated))
	h.logger.Warn("HEARTBEAT_TERMINATED", "user", c.identity, "conn_id", c.id, "reason", reason,
		"last_ack", c.LastAck())
	h.Release(c)
}
