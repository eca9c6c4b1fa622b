package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"courserag/internal/domain"
)

// Config configures the Redis history store.
type Config struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	MaxMessages int
	// TTL expires idle sessions; zero keeps them forever.
	TTL time.Duration
}

// Store keeps each session as a Redis list trimmed to the newest messages.
type Store struct {
	client *redis.Client
	prefix string
	max    int
	ttl    time.Duration
}

// Connect establishes a connection to Redis.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return newStore(client, cfg), nil
}

func newStore(client *redis.Client, cfg Config) *Store {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "courserag:history:"
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 4
	}
	return &Store{client: client, prefix: cfg.KeyPrefix, max: cfg.MaxMessages, ttl: cfg.TTL}
}

// Append pushes msgs and trims the list in a single MULTI/EXEC.
func (s *Store) Append(ctx context.Context, sessionID string, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, len(msgs))
	for i, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values[i] = string(data)
	}
	key := s.prefix + sessionID
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, values...)
		p.LTrim(ctx, key, int64(-s.max), -1)
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error appending history: %w", err)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, sessionID string) ([]domain.Message, error) {
	raw, err := s.client.LRange(ctx, s.prefix+sessionID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("error reading history: %w", err)
	}
	out := make([]domain.Message, 0, len(raw))
	for _, r := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
