package presence

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newIntegrationMirror needs a Redis in LOSTFOUND_TEST_REDIS_ADDR.
func newIntegrationMirror(t *testing.T, online func() []string) (*Mirror, *redis.Client) {
	t.Helper()
	addr := os.Getenv("LOSTFOUND_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LOSTFOUND_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	prefix := "test:" + uuid.NewString()[:8] + ":"
	m := NewMirror(client, prefix, 200*time.Millisecond, online, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return m, client
}

func TestMirror_WritesChanges(t *testing.T) {
	m, client := newIntegrationMirror(t, nil)
	ctx := context.Background()
	m.Start()

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m.PresenceChanged("alice", true, at)
	m.PresenceChanged("bob", true, at)
	m.PresenceChanged("bob", false, at.Add(time.Minute))
	require.NoError(t, m.Stop(ctx))

	st, ok, err := m.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "online", st.Status)

	st, ok, err = m.Get(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "offline", st.Status)
	assert.Equal(t, at.Add(time.Minute), st.LastSeen)

	ttl, err := client.TTL(ctx, m.key("bob")).Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl, "offline entries keep last_seen")

	_, ok, err = m.Get(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMirror_RefreshKeepsOnlineKeysAlive(t *testing.T) {
	m, _ := newIntegrationMirror(t, func() []string { return []string{"carol"} })
	ctx := context.Background()
	m.Start()
	t.Cleanup(func() { _ = m.Stop(ctx) })

	m.PresenceChanged("carol", true, time.Now())
	time.Sleep(500 * time.Millisecond)

	st, ok, err := m.Get(ctx, "carol")
	require.NoError(t, err)
	require.True(t, ok, "refresh should outlive the ttl")
	assert.Equal(t, "online", st.Status)
}

func TestMirror_QueueFullDoesNotBlock(t *testing.T) {
	m := NewMirror(nil, "p:", time.Minute, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	done := make(chan struct{})
	go func() {
		for range cap(m.queue) + 10 {
			m.PresenceChanged("alice", true, time.Now())
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PresenceChanged blocked")
	}
	assert.Equal(t, "p:alice", m.key("alice"))
}
