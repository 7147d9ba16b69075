package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces keys written by RedisSet.
const DefaultPrefix = "portal:seen:"

// DefaultTimeout bounds a single SETNX.
const DefaultTimeout = 2 * time.Second

// RedisConfig configures a RedisSet.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Prefix is prepended to every key (default portal:seen:).
	Prefix string
	// TTL is how long a key is remembered (required).
	TTL time.Duration
	// Timeout is the per-call timeout (default 2s).
	Timeout time.Duration
}

// RedisSet is a Set shared across server replicas. Retention is bounded by
// the key TTL.
type RedisSet struct {
	config RedisConfig
	client *goredis.Client
}

// NewRedisSet parses the URL and builds a client. It does not dial.
func NewRedisSet(cfg RedisConfig) (*RedisSet, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis seen set requires a URL")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("redis seen set requires a positive ttl, got %s", cfg.TTL)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis seen set: invalid URL: %w", err)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &RedisSet{config: cfg, client: goredis.NewClient(opts)}, nil
}

func (s *RedisSet) MarkOnce(ctx context.Context, key string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	ok, err := s.client.SetNX(callCtx, s.config.Prefix+key, 1, s.config.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis seen set: %w", err)
	}
	return ok, nil
}

// Ping checks connectivity.
func (s *RedisSet) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisSet) Close() error {
	return s.client.Close()
}

var _ Set = (*RedisSet)(nil)
