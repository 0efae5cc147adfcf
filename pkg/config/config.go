package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all the configuration for our application
// The structure tags (mapstructure) tell Viper which YAML field maps to which Go struct field.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	App       AppConfig       `mapstructure:"app"`
	AccessLog AccessLogConfig `mapstructure:"accesslog"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Session   SessionConfig   `mapstructure:"session"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

type ServerConfig struct {
	Port      string `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`
}

type AppConfig struct {
	Root     string `mapstructure:"root"`
	LogLevel string `mapstructure:"log_level"`
}

// AccessLogConfig mirrors the accesslog.* keys. Log2Play duplicates lines
// into the application log; LogPost appends POST bodies.
type AccessLogConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Log2Play     bool          `mapstructure:"log2play"`
	LogPost      bool          `mapstructure:"logpost"`
	Path         string        `mapstructure:"path"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	Archive      ArchiveConfig `mapstructure:"archive"`
}

type ArchiveConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RetentionDays int  `mapstructure:"retention_days"`
	QueueSize     int  `mapstructure:"queue_size"`
}

type ProxyConfig struct {
	Target string `mapstructure:"target"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"requests_per_second"`
	Burst   int     `mapstructure:"burst"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type SessionConfig struct {
	Cookie        string        `mapstructure:"cookie"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
}

type AuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	AdminKey string `mapstructure:"admin_key"`
}

// DefaultAccessLogPath is used when accesslog.path is not set.
const DefaultAccessLogPath = "logs/access.log"

const keyDelimiter = "::"

var defaults = map[string]any{
	"server::port":                       ":8080",
	"server::static_dir":                 "public",
	"app::root":                          "",
	"app::log_level":                     "info",
	"accesslog::enabled":                 true,
	"accesslog::log2play":                false,
	"accesslog::logpost":                 false,
	"accesslog::path":                    DefaultAccessLogPath,
	"accesslog::max_body_bytes":          1 << 20,
	"accesslog::archive::enabled":        false,
	"accesslog::archive::retention_days": 30,
	"accesslog::archive::queue_size":     1024,
	"proxy::target":                      "http://localhost:9000",
	"ratelimit::enabled":                 false,
	"ratelimit::requests_per_second":     10.0,
	"ratelimit::burst":                   20,
	"redis::enabled":                     false,
	"redis::address":                     "localhost:6379",
	"redis::password":                    "",
	"redis::db":                          0,
	"session::cookie":                    "session",
	"session::key_prefix":                "session:",
	"session::lookup_timeout":            "250ms",
	"auth::enabled":                      false,
	"auth::admin_key":                    "",
}

// AccessLogPath resolves accesslog.path against app.root (or the working
// directory when no root is set) unless it is already absolute.
func (c *Config) AccessLogPath() (string, error) {
	return ResolvePath(c.App.Root, c.AccessLog.Path)
}

// ResolvePath joins a relative path onto root.
func ResolvePath(root, path string) (string, error) {
	if path == "" {
		path = DefaultAccessLogPath
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve application root: %w", err)
		}
		root = wd
	}
	return filepath.Join(root, path), nil
}

// Store wraps configuration with thread-safe access and hot-reload updates.
type Store struct {
	mu        sync.RWMutex
	cfg       *Config
	listeners []func(*Config)
}

// NewStore returns a Store holding cfg, for callers that build configuration
// without viper.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil
	}
	cpy := *s.cfg
	return &cpy
}

// OnChange registers fn to run with the new configuration after every reload.
func (s *Store) OnChange(fn func(*Config)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		cpy := *cfg
		fn(&cpy)
	}
}

// LoadAndWatch loads the config and watches for on-disk changes. With an
// empty path it looks for config.yaml under ./configs; a missing file there
// is not an error and leaves the defaults in place.
func LoadAndWatch(path string) (*Store, error) {
	v, found, err := read(path)
	if err != nil {
		return nil, err
	}

	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}

	if found {
		v.OnConfigChange(func(e fsnotify.Event) {
			if err := refresh(v, store); err != nil {
				log.Error().Err(err).Msg("[CONFIG] reload failed")
			} else {
				log.Info().Str("file", e.Name).Msg("[CONFIG] reloaded")
			}
		})
		v.WatchConfig()
	}

	return store, nil
}

// Load reads the configuration once without watching it.
func Load(path string) (*Config, error) {
	v, _, err := read(path)
	if err != nil {
		return nil, err
	}
	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}
	return store.Get(), nil
}

func read(path string) (*viper.Viper, bool, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix("ACCESSLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./configs")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return v, false, nil
		}
		return nil, false, fmt.Errorf("read config: %w", err)
	}
	return v, true, nil
}

func refresh(v *viper.Viper, store *Store) error {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	store.set(&cfg)
	return nil
}
