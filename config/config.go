// Package config loads the service configuration from defaults, an optional
// YAML file, a .env file, LOSTFOUND_* environment variables and command line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "LOSTFOUND"

type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	WS        WSConfig        `mapstructure:"ws"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Log       LogConfig       `mapstructure:"log"`

	// path of the file the values were read from, empty when none was used
	file string
	v    *viper.Viper
}

type ServiceConfig struct {
	Name string `mapstructure:"name"`
	// PublicURL prefixes post links rendered into outgoing notifications.
	PublicURL string `mapstructure:"public_url"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type WSConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// PongTimeout defaults to HeartbeatInterval when zero.
	PongTimeout time.Duration `mapstructure:"pong_timeout"`
	SendBuffer  int           `mapstructure:"send_buffer"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	WriteWait   time.Duration `mapstructure:"write_wait"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	FrameRate   float64       `mapstructure:"frame_rate"`
	FrameBurst  int           `mapstructure:"frame_burst"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	InternalKey string `mapstructure:"internal_key"`
}

type MessagingConfig struct {
	EditWindow       time.Duration `mapstructure:"edit_window"`
	DeleteWindow     time.Duration `mapstructure:"delete_window"`
	ReplySnippetLen  int           `mapstructure:"reply_snippet_len"`
	MaxContentLength int           `mapstructure:"max_content_length"`
	UserCacheSize    int           `mapstructure:"user_cache_size"`
	UserCacheTTL     time.Duration `mapstructure:"user_cache_ttl"`
}

type StorageConfig struct {
	// Driver is "mongo" or "memory".
	Driver         string        `mapstructure:"driver"`
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
}

type RedisConfig struct {
	// Addr enables the presence mirror when set.
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type AMQPConfig struct {
	// URI enables the event consumer and the email publisher when set.
	URI            string `mapstructure:"uri"`
	EventsExchange string `mapstructure:"events_exchange"`
	EmailExchange  string `mapstructure:"email_exchange"`
	Queue          string `mapstructure:"queue"`
}

type WorkerConfig struct {
	Size        int           `mapstructure:"size"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "im-realtime-service")
	v.SetDefault("service.public_url", "")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.allowed_origins", []string{})

	v.SetDefault("ws.heartbeat_interval", 30*time.Second)
	v.SetDefault("ws.pong_timeout", 0)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.send_timeout", 500*time.Millisecond)
	v.SetDefault("ws.write_wait", 10*time.Second)
	v.SetDefault("ws.read_limit", 64*1024)
	v.SetDefault("ws.frame_rate", 20.0)
	v.SetDefault("ws.frame_burst", 40)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.internal_key", "")

	v.SetDefault("messaging.edit_window", 15*time.Minute)
	v.SetDefault("messaging.delete_window", 24*time.Hour)
	v.SetDefault("messaging.reply_snippet_len", 100)
	v.SetDefault("messaging.max_content_length", 2000)
	v.SetDefault("messaging.user_cache_size", 4096)
	v.SetDefault("messaging.user_cache_ttl", 2*time.Minute)

	v.SetDefault("storage.driver", "mongo")
	v.SetDefault("storage.uri", "mongodb://localhost:27017")
	v.SetDefault("storage.database", "lostfound")
	v.SetDefault("storage.connect_timeout", 10*time.Second)
	v.SetDefault("storage.query_timeout", 5*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "presence:")
	v.SetDefault("redis.ttl", 2*time.Minute)

	v.SetDefault("amqp.uri", "")
	v.SetDefault("amqp.events_exchange", "lostfound.events")
	v.SetDefault("amqp.email_exchange", "lostfound.email")
	v.SetDefault("amqp.queue", "im-realtime-service")

	v.SetDefault("worker.size", 64)
	v.SetDefault("worker.task_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
}

// flags are the command line overrides. Names match the viper keys.
func flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("im-realtime-service", pflag.ContinueOnError)
	fs.String("http.addr", "", "HTTP listen address")
	fs.String("log.level", "", "log level (debug, info, warn, error)")
	fs.String("storage.driver", "", "storage driver (mongo, memory)")
	fs.String("storage.uri", "", "MongoDB connection URI")
	fs.String("redis.addr", "", "Redis address for the presence mirror")
	fs.String("amqp.uri", "", "AMQP broker URI")
	fs.Duration("ws.heartbeat_interval", 0, "heartbeat ping interval")
	return fs
}

// LoadConfig builds a Config. file may be empty; args are parsed as pflag
// overrides and may be nil.
func LoadConfig(file string, args []string) (*Config, error) {
	// a missing .env is the normal case outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file == "" {
		file = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	fs := flags()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}
	// only flags that were actually set override lower layers
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("config: bind flags: %w", bindErr)
	}

	cfg := &Config{file: file, v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent value.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "mongo", "memory":
	default:
		return fmt.Errorf("config: storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.WS.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: ws.heartbeat_interval must be positive")
	}
	if c.WS.SendBuffer <= 0 {
		return fmt.Errorf("config: ws.send_buffer must be positive")
	}
	if c.Messaging.MaxContentLength <= 0 {
		return fmt.Errorf("config: messaging.max_content_length must be positive")
	}
	if c.Worker.Size <= 0 {
		return fmt.Errorf("config: worker.size must be positive")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// PongWindow is the effective pong timeout.
func (c WSConfig) PongWindow() time.Duration {
	if c.PongTimeout > 0 {
		return c.PongTimeout
	}
	return c.HeartbeatInterval
}

// ParseLevel maps a textual log level onto slog.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("config: log.level %q: %w", s, err)
	}
	return l, nil
}

// WatchLogLevel re-reads the config file on change and applies a new
// log.level to lv. Other sections require a restart. It is a no-op when the
// configuration was not loaded from a file.
func (c *Config) WatchLogLevel(lv *slog.LevelVar, logger *slog.Logger) {
	if c.file == "" || c.v == nil {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level, err := ParseLevel(c.v.GetString("log.level"))
		if err != nil {
			logger.Warn("CONFIG_RELOAD_REJECTED", "file", e.Name, "error", err)
			return
		}
		if level != lv.Level() {
			lv.Set(level)
			logger.Info("LOG_LEVEL_CHANGED", "level", level.String())
		}
	})
	c.v.WatchConfig()
}
