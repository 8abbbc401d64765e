// Package verssai is the Go client SDK for the VERSSAI venture-intelligence
// platform. It keeps one managed realtime connection to the orchestration
// backend, tracks workflow sessions and assistant chats locally, and exposes
// a subscription surface for UIs. Most programs use the Hub, which shares a
// single connection across everything in the process that needs one.
package verssai

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/verssai/verssai-go/pkg/realtime"
	"github.com/verssai/verssai-go/pkg/session"
)

// Config is the top-level client configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Realtime    RealtimeConfig    `yaml:"realtime,omitempty"`
	ChatHistory ChatHistoryConfig `yaml:"chat_history,omitempty"`
	Metrics     MetricsConfig     `yaml:"metrics,omitempty"`
}

// ServerConfig locates the VERSSAI backend.
type ServerConfig struct {
	// BaseURL is the REST endpoint, e.g. "https://api.verssai.com".
	BaseURL string `yaml:"base_url"`

	// SocketURL is the realtime WebSocket endpoint,
	// e.g. "wss://api.verssai.com/mcp".
	SocketURL string `yaml:"socket_url"`

	// Role is announced at connect time.
	// Default: "analyst".
	Role string `yaml:"role"`
}

// RealtimeConfig tunes the connection and command behaviour. Durations are
// strings in time.ParseDuration format (e.g. "30s").
type RealtimeConfig struct {
	// QueueLimit bounds commands held while disconnected.
	// Default: 32.
	QueueLimit int `yaml:"queue_limit"`

	// QueryTimeout bounds retrieval query round trips.
	// Default: "30s".
	QueryTimeout string `yaml:"query_timeout"`

	// BackoffBase, BackoffCap, and BackoffJitter shape reconnect delays.
	// Defaults: "500ms", "30s", "250ms".
	BackoffBase   string `yaml:"backoff_base"`
	BackoffCap    string `yaml:"backoff_cap"`
	BackoffJitter string `yaml:"backoff_jitter"`

	// RateLimit throttles outbound commands per second; 0 disables.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// ChatHistoryConfig selects the chat transcript mirror.
type ChatHistoryConfig struct {
	// Store is "none", "memory", or "redis".
	// Default: "none".
	Store string `yaml:"store"`

	Redis RedisHistoryConfig `yaml:"redis,omitempty"`
}

// RedisHistoryConfig configures the Redis transcript mirror.
type RedisHistoryConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix,omitempty"`
	// TTL is the transcript expiry, e.g. "168h"; empty means never expire.
	TTL      string `yaml:"ttl,omitempty"`
	PoolSize int    `yaml:"pool_size,omitempty"`
}

// MetricsConfig controls the /metrics and /health HTTP server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Port the server listens on. Default: 9090.
	Port int `yaml:"port"`
}

// LoadConfig reads and parses a YAML config file, applying defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes, applying defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Role == "" {
		c.Server.Role = "analyst"
	}
	if c.ChatHistory.Store == "" {
		c.ChatHistory.Store = "none"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
}

func (c *Config) validate() error {
	if c.Server.SocketURL == "" {
		return fmt.Errorf("config: server.socket_url is required")
	}
	switch c.ChatHistory.Store {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("config: unknown chat_history.store %q", c.ChatHistory.Store)
	}
	if c.ChatHistory.Store == "redis" && c.ChatHistory.Redis.Addr == "" {
		return fmt.Errorf("config: chat_history.redis.addr is required for the redis store")
	}
	return nil
}

// clientOptions translates the config into realtime client options,
// constructing the chat history backend it names.
func (c *Config) clientOptions() (realtime.Options, error) {
	opts := realtime.Options{
		URL:        c.Server.SocketURL,
		Role:       c.Server.Role,
		QueueLimit: c.Realtime.QueueLimit,
		RateBurst:  c.Realtime.RateBurst,
	}
	if c.Realtime.RateLimit > 0 {
		opts.RateLimit = rate.Limit(c.Realtime.RateLimit)
	}

	var err error
	if opts.QueryTimeout, err = parseDuration("realtime.query_timeout", c.Realtime.QueryTimeout); err != nil {
		return realtime.Options{}, err
	}
	if opts.Backoff.Base, err = parseDuration("realtime.backoff_base", c.Realtime.BackoffBase); err != nil {
		return realtime.Options{}, err
	}
	if opts.Backoff.Cap, err = parseDuration("realtime.backoff_cap", c.Realtime.BackoffCap); err != nil {
		return realtime.Options{}, err
	}
	if opts.Backoff.Jitter, err = parseDuration("realtime.backoff_jitter", c.Realtime.BackoffJitter); err != nil {
		return realtime.Options{}, err
	}

	switch c.ChatHistory.Store {
	case "memory":
		opts.ChatHistory = session.NewMemoryHistory()
	case "redis":
		ttl, err := parseDuration("chat_history.redis.ttl", c.ChatHistory.Redis.TTL)
		if err != nil {
			return realtime.Options{}, err
		}
		history, err := session.NewRedisHistory(session.RedisConfig{
			Addr:     c.ChatHistory.Redis.Addr,
			Password: c.ChatHistory.Redis.Password,
			DB:       c.ChatHistory.Redis.DB,
			Prefix:   c.ChatHistory.Redis.Prefix,
			TTL:      ttl,
			PoolSize: c.ChatHistory.Redis.PoolSize,
		})
		if err != nil {
			return realtime.Options{}, fmt.Errorf("config: chat history: %w", err)
		}
		opts.ChatHistory = history
	}
	return opts, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", field, err)
	}
	return d, nil
}
