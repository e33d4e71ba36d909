/*
Package registry tracks the live realtime connections of the service.

Key concepts:
  - One connection per identity. Registering a second connection replaces
    and closes the first, so presence is simply the key set of the registry.
  - Each connection owns a bounded outbound queue drained by a single writer
    goroutine; nothing else writes to the transport.
  - Rooms are indexed both ways (room to members, identity to rooms) so a
    disconnect removes an identity from every room in one step.
  - Frames are encoded once per event and shared by every recipient.
*/
package registry

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/lostfound/im-realtime-service/internal/domain/event"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
)

var (
	ErrHubClosed    = errors.New("registry: hub is shut down")
	ErrNotConnected = errors.New("registry: identity is not connected")
)

// Hubber is the registry surface consumed by services and transports.
type Hubber interface {
	Register(identity string, t Transport) (*Conn, error)
	Unregister(identity string) bool
	Release(c *Conn) bool

	SendTo(identity string, ev event.Eventer) bool
	BroadcastAll(ev event.Eventer, exclude ...string) int

	JoinRoom(identity, room string) error
	LeaveRoom(identity, room string) bool
	BroadcastToRoom(room string, ev event.Eventer, exclude ...string) int
	RoomMembers(room string) []string

	IsOnline(identity string) bool
	OnlineUsers() []string
	Stats() model.HubStats
}

var _ Hubber = (*Hub)(nil)

type Hub struct {
	// [CONCURRENCY_CONTROL] guards conns, rooms, memberOf, closed and observers
	mu       sync.RWMutex
	conns    map[string]*Conn
	rooms    map[string]map[string]struct{}
	memberOf map[string]map[string]struct{}
	closed   bool

	config    hubConfig
	logger    *slog.Logger
	recorder  Recorder
	observers []PresenceObserver

	// [PRESENCE_ORDER] notices are queued while mu is held and announced in
	// that order, so observers never see offline overtaken by online
	noticeMu sync.Mutex
	notices  []presenceNotice
	draining bool

	wg sync.WaitGroup
}

type presenceNotice struct {
	identity string
	online   bool
	at       time.Time
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		conns:    make(map[string]*Conn),
		rooms:    make(map[string]map[string]struct{}),
		memberOf: make(map[string]map[string]struct{}),
		config:   defaultHubConfig(),
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Observe adds a presence observer after construction.
func (h *Hub) Observe(o PresenceObserver) {
	h.mu.Lock()
	h.observers = append(h.observers, o)
	h.mu.Unlock()
}

// Register binds t to identity. Any previous connection of the identity is
// closed. The new connection receives the online snapshot; everybody else
// learns about the identity only if it was offline before.
func (h *Hub) Register(identity string, t Transport) (*Conn, error) {
	if err := model.ValidateIdentity(identity); err != nil {
		return nil, err
	}
	c := newConn(identity, t, h.config.sendBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = t.Close()
		return nil, ErrHubClosed
	}
	old := h.conns[identity]
	h.conns[identity] = c
	h.wg.Add(2)
	if old == nil {
		h.queueNotice(identity, true)
	}
	h.mu.Unlock()

	h.recorder.ConnectionOpened()
	if old != nil {
		old.close()
		h.recorder.ConnectionClosed()
		h.logger.Info("CONNECTION_REPLACED", "user", identity, "old_conn_id", old.id, "conn_id", c.id)
	} else {
		h.logger.Info("CONNECTION_REGISTERED", "user", identity, "conn_id", c.id)
	}

	go h.writeLoop(c)
	go h.heartbeat(c)

	h.deliver(c, event.NewOnlineUsers(h.OnlineUsers()))
	h.announce()
	return c, nil
}

// Unregister removes identity from the registry and every room. It is
// idempotent and reports whether anything was removed.
func (h *Hub) Unregister(identity string) bool {
	h.mu.Lock()
	c, ok := h.conns[identity]
	if ok {
		h.removeLocked(identity)
		h.queueNotice(identity, false)
	}
	h.mu.Unlock()

	if !ok {
		return false
	}
	h.finish(c, "unregister")
	return true
}

// Release unregisters c only while it is still the current connection of its
// identity. A replaced connection is closed without touching its successor.
func (h *Hub) Release(c *Conn) bool {
	if c == nil {
		return false
	}
	h.mu.Lock()
	current := h.conns[c.identity] == c
	if current {
		h.removeLocked(c.identity)
		h.queueNotice(c.identity, false)
	}
	h.mu.Unlock()

	if !current {
		c.close()
		return false
	}
	h.finish(c, "release")
	return true
}

func (h *Hub) removeLocked(identity string) {
	delete(h.conns, identity)
	for room := range h.memberOf[identity] {
		members := h.rooms[room]
		delete(members, identity)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.memberOf, identity)
}

func (h *Hub) finish(c *Conn, reason string) {
	c.close()
	h.recorder.ConnectionClosed()
	h.logger.Info("CONNECTION_UNREGISTERED", "user", c.identity, "conn_id", c.id, "reason", reason)
	h.announce()
}

// queueNotice records a presence transition. Callers hold mu.
func (h *Hub) queueNotice(identity string, online bool) {
	h.noticeMu.Lock()
	h.notices = append(h.notices, presenceNotice{identity: identity, online: online, at: time.Now()})
	h.noticeMu.Unlock()
}

// announce broadcasts queued presence notices in queue order. Only one
// goroutine drains at a time; a caller that finds a drain in progress leaves
// its notice to that goroutine.
func (h *Hub) announce() {
	h.noticeMu.Lock()
	if h.draining {
		h.noticeMu.Unlock()
		return
	}
	h.draining = true
	for len(h.notices) > 0 {
		n := h.notices[0]
		h.notices = h.notices[1:]
		h.noticeMu.Unlock()

		h.BroadcastAll(event.NewUserStatus(n.identity, n.online, n.at), n.identity)
		h.notify(n.identity, n.online, n.at)

		h.noticeMu.Lock()
	}
	h.draining = false
	h.noticeMu.Unlock()
}

func (h *Hub) notify(identity string, online bool, at time.Time) {
	h.mu.RLock()
	observers := slices.Clone(h.observers)
	h.mu.RUnlock()

	for _, o := range observers {
		o.PresenceChanged(identity, online, at)
	}
}

// SendTo enqueues ev for identity. It reports false when the identity is
// offline or the frame could not be queued.
func (h *Hub) SendTo(identity string, ev event.Eventer) bool {
	h.mu.RLock()
	c := h.conns[identity]
	h.mu.RUnlock()

	if c == nil {
		return false
	}
	return h.deliver(c, ev)
}

// BroadcastAll sends ev to every connection except the excluded identities
// and returns how many accepted it.
func (h *Hub) BroadcastAll(ev event.Eventer, exclude ...string) int {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for id, c := range h.conns {
		if !slices.Contains(exclude, id) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	return h.fanOut(targets, ev)
}

// JoinRoom adds a connected identity to room.
func (h *Hub) JoinRoom(identity, room string) error {
	if room == "" {
		return model.Invalid("room", "is empty")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[identity]; !ok {
		return ErrNotConnected
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[identity] = struct{}{}

	joined, ok := h.memberOf[identity]
	if !ok {
		joined = make(map[string]struct{})
		h.memberOf[identity] = joined
	}
	joined[room] = struct{}{}
	return nil
}

// LeaveRoom removes identity from room, pruning the room when it empties.
func (h *Hub) LeaveRoom(identity, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[identity]; !ok {
		return false
	}
	delete(members, identity)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if joined, ok := h.memberOf[identity]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(h.memberOf, identity)
		}
	}
	return true
}

// BroadcastToRoom sends ev to the members of room, skipping the excluded
// identities. Unknown rooms are a no-op.
func (h *Hub) BroadcastToRoom(room string, ev event.Eventer, exclude ...string) int {
	h.mu.RLock()
	members := h.rooms[room]
	targets := make([]*Conn, 0, len(members))
	for id := range members {
		if slices.Contains(exclude, id) {
			continue
		}
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	return h.fanOut(targets, ev)
}

// RoomMembers returns the sorted members of room.
func (h *Hub) RoomMembers(room string) []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		out = append(out, id)
	}
	h.mu.RUnlock()

	slices.Sort(out)
	return out
}

func (h *Hub) IsOnline(identity string) bool {
	h.mu.RLock()
	_, ok := h.conns[identity]
	h.mu.RUnlock()
	return ok
}

// OnlineUsers returns the sorted set of connected identities.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.conns))
	for id := range h.conns {
		out = append(out, id)
	}
	h.mu.RUnlock()

	slices.Sort(out)
	return out
}

func (h *Hub) Stats() model.HubStats {
	users := h.OnlineUsers()

	h.mu.RLock()
	rooms := len(h.rooms)
	h.mu.RUnlock()

	return model.HubStats{
		TotalConnections: len(users),
		OnlineUsers:      len(users),
		ActiveRooms:      rooms,
		Users:            users,
	}
}

// Shutdown closes every connection without announcing presence changes and
// waits for the connection goroutines to exit or ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	conns := h.conns
	h.conns = make(map[string]*Conn)
	h.rooms = make(map[string]map[string]struct{})
	h.memberOf = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
		h.recorder.ConnectionClosed()
	}
	h.logger.Info("HUB_SHUTDOWN", "connections", len(conns))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) fanOut(targets []*Conn, ev event.Eventer) int {
	if len(targets) == 0 {
		return 0
	}
	// [ENCODE_ONCE] fail fast instead of failing every recipient
	if _, err := ev.Encode(); err != nil {
		h.logger.Error("EVENT_ENCODE_FAILED", "kind", ev.GetKind().String(), "error", err)
		return 0
	}
	delivered := 0
	for _, c := range targets {
		if h.deliver(c, ev) {
			delivered++
		}
	}
	return delivered
}

// deliver enqueues ev on c. A closed or stuck connection is released; a
// shed low priority frame is only counted.
func (h *Hub) deliver(c *Conn, ev event.Eventer) bool {
	err := c.enqueue(ev, h.config.sendTimeout)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errShed):
		h.recorder.FrameDropped(ev.GetKind().String(), "shed")
		h.logger.Debug("FRAME_SHED", "user", c.identity, "kind", ev.GetKind().String())
		return false
	default:
		h.recorder.FrameDropped(ev.GetKind().String(), "dead")
		h.logger.Warn("FRAME_UNDELIVERABLE", "user", c.identity, "conn_id", c.id, "kind", ev.GetKind().String(), "error", err)
		h.Release(c)
		return false
	}
}

// writeLoop is the only writer of c.transport.
func (h *Hub) writeLoop(c *Conn) {
	defer h.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.sendCh:
			data, err := ev.Encode()
			if err != nil {
				h.logger.Error("EVENT_ENCODE_FAILED", "user", c.identity, "kind", ev.GetKind().String(), "error", err)
				continue
			}
			if err := c.transport.WriteFrame(data); err != nil {
				h.logger.Warn("TRANSPORT_WRITE_FAILED", "user", c.identity, "conn_id", c.id, "error", err)
				h.Release(c)
				return
			}
			h.recorder.FrameSent(ev.GetKind().String())
		}
	}
}
