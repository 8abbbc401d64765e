package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisHistory implements HistoryBackend using Redis lists, one list per
// chat thread. It is suitable when transcripts should outlive the client
// process or be visible to other services.
type RedisHistory struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration for chat history.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all history keys (default: "verssai:chat:").
	Prefix string
	// TTL is the transcript expiry duration (0 = never expire).
	TTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

const defaultHistoryPrefix = "verssai:chat:"

// NewRedisHistory creates a Redis-backed chat history and verifies
// connectivity with a ping.
func NewRedisHistory(cfg RedisConfig) (*RedisHistory, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultHistoryPrefix
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisHistory{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
	}, nil
}

// NewRedisHistoryFromClient creates a Redis history from an existing client.
// This is useful for testing with miniredis.
func NewRedisHistoryFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisHistory {
	if prefix == "" {
		prefix = defaultHistoryPrefix
	}
	return &RedisHistory{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (h *RedisHistory) threadKey(chatID string) string {
	return h.prefix + "thread:" + chatID
}

// AppendMessage records one message on a thread.
func (h *RedisHistory) AppendMessage(ctx context.Context, chatID string, msg Message) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHistoryClosed
	}
	h.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pipe := h.client.Pipeline()
	pipe.RPush(ctx, h.threadKey(chatID), data)
	if h.ttl > 0 {
		pipe.Expire(ctx, h.threadKey(chatID), h.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// LoadMessages retrieves all recorded messages for a thread in order.
func (h *RedisHistory) LoadMessages(ctx context.Context, chatID string) ([]Message, error) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return nil, ErrHistoryClosed
	}
	h.mu.RUnlock()

	raw, err := h.client.LRange(ctx, h.threadKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Close releases the underlying Redis client.
func (h *RedisHistory) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	return h.client.Close()
}
