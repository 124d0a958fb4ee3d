package installs

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
	"github.com/redis/go-redis/v9"
)

const (
	redisSortPrefix = "commentwidget:sort:"
	redisSortTTL    = 365 * 24 * time.Hour
)

// RedisSortStore keeps sort preferences in Redis instead of the database.
type RedisSortStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSortStore connects to the Redis server at redisURL.
func NewRedisSortStore(redisURL string) (*RedisSortStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisSortStoreWithClient(client), nil
}

// NewRedisSortStoreWithClient wraps an existing Redis client.
func NewRedisSortStoreWithClient(client *redis.Client) *RedisSortStore {
	return &RedisSortStore{
		client: client,
		prefix: redisSortPrefix,
		ttl:    redisSortTTL,
	}
}

func (s *RedisSortStore) key(installID string) string {
	return s.prefix + installID
}

// LoadSort returns the stored sorting, or an empty Sorting on a miss.
func (s *RedisSortStore) LoadSort(ctx context.Context, installID string) (comments.Sorting, error) {
	raw, err := s.client.Get(ctx, s.key(installID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load sort: %w", err)
	}
	return comments.NewSorting(raw)
}

// SaveSort stores the sorting and refreshes its expiry.
func (s *RedisSortStore) SaveSort(ctx context.Context, installID string, sorting comments.Sorting) error {
	if _, err := comments.NewSorting(sorting.String()); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(installID), sorting.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("save sort: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisSortStore) Close() error {
	return s.client.Close()
}
