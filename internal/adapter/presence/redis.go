// Package presence mirrors the in-process presence set into Redis so other
// services can answer "is this user online, and since when was it seen".
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lostfound/im-realtime-service/internal/domain/registry"
	"github.com/redis/go-redis/v9"
)

// Status is the value stored under <prefix><username>.
type Status struct {
	Username string    `json:"username"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

type change struct {
	identity string
	online   bool
	at       time.Time
}

// Mirror implements registry.PresenceObserver. Changes are queued and written
// by one goroutine so the registry never waits on Redis.
type Mirror struct {
	client  redis.Cmdable
	prefix  string
	ttl     time.Duration
	logger  *slog.Logger
	online  func() []string
	queue   chan change
	stop    chan struct{}
	stopped sync.WaitGroup
	once    sync.Once
}

var _ registry.PresenceObserver = (*Mirror)(nil)

// NewMirror returns a mirror writing through client. online lists the
// identities whose keys are refreshed every ttl/2.
func NewMirror(client redis.Cmdable, prefix string, ttl time.Duration, online func() []string, logger *slog.Logger) *Mirror {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Mirror{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
		online: online,
		queue:  make(chan change, 1024),
		stop:   make(chan struct{}),
	}
}

func (m *Mirror) key(identity string) string { return m.prefix + identity }

func (m *Mirror) PresenceChanged(identity string, online bool, at time.Time) {
	select {
	case m.queue <- change{identity: identity, online: online, at: at}:
	default:
		m.logger.Warn("PRESENCE_MIRROR_QUEUE_FULL", "user", identity, "online", online)
	}
}

// Start launches the writer and the refresher.
func (m *Mirror) Start() {
	m.stopped.Add(1)
	go m.run()
}

// Stop drains queued changes and stops the goroutines.
func (m *Mirror) Stop(ctx context.Context) error {
	m.once.Do(func() { close(m.stop) })

	done := make(chan struct{})
	go func() {
		m.stopped.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mirror) run() {
	defer m.stopped.Done()

	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case c := <-m.queue:
			m.write(c)
		case <-ticker.C:
			m.refresh()
		case <-m.stop:
			for {
				select {
				case c := <-m.queue:
					m.write(c)
				default:
					return
				}
			}
		}
	}
}

func (m *Mirror) write(c change) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.set(ctx, c.identity, c.online, c.at); err != nil {
		m.logger.Warn("PRESENCE_MIRROR_WRITE_FAILED", "user", c.identity, "online", c.online, "err", err)
	}
}

// set stores the status. Online keys expire unless refreshed; offline keys
// keep last_seen indefinitely.
func (m *Mirror) set(ctx context.Context, identity string, online bool, at time.Time) error {
	st := Status{Username: identity, Status: "offline", LastSeen: at.UTC()}
	ttl := time.Duration(0)
	if online {
		st.Status = "online"
		ttl = m.ttl
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.key(identity), b, ttl).Err()
}

func (m *Mirror) refresh() {
	if m.online == nil {
		return
	}
	users := m.online()
	if len(users) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	_, err := m.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, u := range users {
			st := Status{Username: u, Status: "online", LastSeen: now.UTC()}
			b, _ := json.Marshal(st)
			p.Set(ctx, m.key(u), b, m.ttl)
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("PRESENCE_MIRROR_REFRESH_FAILED", "users", len(users), "err", err)
	}
}

// Get reads the mirrored status. ok is false when nothing is known.
func (m *Mirror) Get(ctx context.Context, identity string) (st Status, ok bool, err error) {
	b, err := m.client.Get(ctx, m.key(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, err
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return Status{}, false, err
	}
	return st, true, nil
}
