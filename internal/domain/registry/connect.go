package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lostfound/im-realtime-service/internal/domain/event"
)

// Transport is the write side of a live client connection. WriteFrame is
// only ever called from the connection's writer goroutine; Close may be
// called concurrently with it.
type Transport interface {
	WriteFrame(data []byte) error
	Close() error
}

var (
	errClosed    = errors.New("connection closed")
	errSaturated = errors.New("send queue saturated")
	errShed      = errors.New("low priority frame shed")
)

// Conn is a registered connection. The Hub owns its lifecycle; transport
// handlers only read from it and acknowledge heartbeats.
type Conn struct {
	id          uuid.UUID
	identity    string
	transport   Transport
	connectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// [MAILBOX] drained by exactly one writer goroutine
	sendCh chan event.Eventer
	// [HEARTBEAT] capacity 1, pending acknowledgments coalesce
	ackCh chan struct{}

	closeOnce sync.Once

	lastAckAt atomic.Int64 // [ATOMIC_FIELD] unix nano
	dropped   atomic.Uint64
	state     atomic.Int32
}

func newConn(identity string, t Transport, bufferSize int) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	c := &Conn{
		id:          uuid.New(),
		identity:    identity,
		transport:   t,
		connectedAt: now,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan event.Eventer, bufferSize),
		ackCh:       make(chan struct{}, 1),
	}
	c.lastAckAt.Store(now.UnixNano())
	return c
}

func (c *Conn) ID() uuid.UUID          { return c.id }
func (c *Conn) Identity() string       { return c.identity }
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// Done is closed once the Hub has let go of the connection.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// Closed reports whether the connection has been torn down.
func (c *Conn) Closed() bool { return c.ctx.Err() != nil }

// Dropped counts frames that never reached the queue.
func (c *Conn) Dropped() uint64 { return c.dropped.Load() }

// LastAck is the time of the most recent heartbeat acknowledgment.
func (c *Conn) LastAck() time.Time { return time.Unix(0, c.lastAckAt.Load()) }

// HeartbeatState reports the supervisor state.
func (c *Conn) HeartbeatState() HeartbeatState { return HeartbeatState(c.state.Load()) }

// Ack records proof of liveness: a client pong or ping frame, or a
// transport-level pong.
func (c *Conn) Ack() {
	c.lastAckAt.Store(time.Now().UnixNano())
	select {
	case c.ackCh <- struct{}{}:
	default:
	}
}

// enqueue places ev on the outbound queue. Low priority frames never wait;
// everything else waits up to timeout for room before giving up.
func (c *Conn) enqueue(ev event.Eventer, timeout time.Duration) error {
	if c.ctx.Err() != nil {
		return errClosed
	}

	select {
	case c.sendCh <- ev:
		return nil
	default:
	}

	// [BACKPRESSURE] typing and presence noise is not worth a connection
	if ev.GetPriority() <= event.PriorityLow {
		c.dropped.Add(1)
		return errShed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return errClosed
	case c.sendCh <- ev:
		return nil
	case <-timer.C:
		c.dropped.Add(1)
		return errSaturated
	}
}

// close is idempotent. sendCh is never closed so late producers can not panic;
// the writer exits on ctx instead.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.state.Store(int32(StateTerminated))
		_ = c.transport.Close()
	})
}
