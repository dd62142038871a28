package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// NewClient builds a client from a redis:// URL or a bare host:port
func NewClient(url string) (*redis.Client, error) {
	if url == "" {
		url = "localhost:6379"
	}
	if !strings.Contains(url, "://") {
		return redis.NewClient(&redis.Options{Addr: url}), nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Connect creates a client and verifies it answers PING
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	client, err := NewClient(url)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
