package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.WS.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.WS.PongWindow())
	assert.Equal(t, 15*time.Minute, cfg.Messaging.EditWindow)
	assert.Equal(t, 24*time.Hour, cfg.Messaging.DeleteWindow)
	assert.Equal(t, 100, cfg.Messaging.ReplySnippetLen)
	assert.Equal(t, 2000, cfg.Messaging.MaxContentLength)
	assert.Equal(t, "mongo", cfg.Storage.Driver)
	assert.Equal(t, "lostfound.events", cfg.AMQP.EventsExchange)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadConfig_Layers(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
http:
  addr: ":9000"
ws:
  heartbeat_interval: 10s
  pong_timeout: 4s
storage:
  driver: memory
log:
  level: debug
`), 0o600))

	t.Setenv("LOSTFOUND_MESSAGING_EDIT_WINDOW", "5m")
	t.Setenv("LOSTFOUND_HTTP_ADDR", ":9100")

	cfg, err := LoadConfig(file, []string{"--log.level=warn"})
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.HTTP.Addr, "env overrides file")
	assert.Equal(t, 10*time.Second, cfg.WS.HeartbeatInterval)
	assert.Equal(t, 4*time.Second, cfg.WS.PongWindow())
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Messaging.EditWindow)
	assert.Equal(t, "warn", cfg.Log.Level, "flag overrides file")
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOSTFOUND_AUTH_JWT_SECRET=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LOSTFOUND_AUTH_JWT_SECRET") })

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Auth.JWTSecret)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "driver", env: map[string]string{"LOSTFOUND_STORAGE_DRIVER": "postgres"}},
		{name: "log level", env: map[string]string{"LOSTFOUND_LOG_LEVEL": "loud"}},
		{name: "send buffer", env: map[string]string{"LOSTFOUND_WS_SEND_BUFFER": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("", nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := LoadConfig("does-not-exist.yaml", nil)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel(" DEBUG ")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
