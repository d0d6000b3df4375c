package config

import (
	"strings"
	"time"

	"go-groupchat/internal/logging"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

type Config struct {
	Server  ServerConfig
	Auth    AuthConfig
	Store   StoreConfig
	Redis   RedisConfig
	WS      WSConfig `mapstructure:"ws"`
	Message MessageConfig
	History HistoryConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type StoreConfig struct {
	Driver  string
	Path    string
	Timeout time.Duration
}

type RedisConfig struct {
	// URL enables the event journal. Empty disables it.
	URL string `mapstructure:"url"`
}

type WSConfig struct {
	MaxMessageSize int64 `mapstructure:"maxMessageSize"`
	SendBuffer     int   `mapstructure:"sendBuffer"`
	RateLimit      int   `mapstructure:"rateLimit"`
}

type MessageConfig struct {
	MaxContentLength int `mapstructure:"maxContentLength"`
}

type HistoryConfig struct {
	Limit int
}

type LogConfig struct {
	Level  string
	Format string
}

// New returns a viper instance with defaults and CHAT_ environment
// overrides, ready for flag binding.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "chat.db")
	v.SetDefault("store.timeout", "5s")
	v.SetDefault("redis.url", "")
	v.SetDefault("ws.maxMessageSize", 64*1024)
	v.SetDefault("ws.sendBuffer", 256)
	v.SetDefault("ws.rateLimit", 20)
	v.SetDefault("message.maxContentLength", 4000)
	v.SetDefault("history.limit", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path into v and decodes it. With an
// empty path a "chatcore.yaml" in the working directory is used if present.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("chatcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret is required")
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.Timeout <= 0 {
		return errors.New("store.timeout must be positive")
	}
	if c.WS.MaxMessageSize <= 0 || c.WS.SendBuffer <= 0 {
		return errors.New("ws.maxMessageSize and ws.sendBuffer must be positive")
	}
	if c.WS.RateLimit < 0 {
		return errors.New("ws.rateLimit must not be negative")
	}
	if c.Message.MaxContentLength <= 0 || c.History.Limit <= 0 {
		return errors.New("message.maxContentLength and history.limit must be positive")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return errors.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}
