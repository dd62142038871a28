// Package unread tracks per-viewer unread message counts for each booking.
package unread

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Counter stores one integer per (booking, viewer)
type Counter interface {
	Incr(ctx context.Context, bookingID, viewerID string) (int64, error)
	Reset(ctx context.Context, bookingID, viewerID string) error
	Get(ctx context.Context, bookingID, viewerID string) (int64, error)
}

// RedisCounter keeps one hash per booking, one field per viewer
type RedisCounter struct {
	client redis.Cmdable
	prefix string
}

func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client, prefix: "chat:unread:"}
}

func (c *RedisCounter) key(bookingID string) string {
	return c.prefix + bookingID
}

func (c *RedisCounter) Incr(ctx context.Context, bookingID, viewerID string) (int64, error) {
	return c.client.HIncrBy(ctx, c.key(bookingID), viewerID, 1).Result()
}

func (c *RedisCounter) Reset(ctx context.Context, bookingID, viewerID string) error {
	return c.client.HDel(ctx, c.key(bookingID), viewerID).Err()
}

func (c *RedisCounter) Get(ctx context.Context, bookingID, viewerID string) (int64, error) {
	n, err := c.client.HGet(ctx, c.key(bookingID), viewerID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

type key struct{ booking, viewer string }

// MemoryCounter is used when Redis is disabled
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[key]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[key]int64)}
}

func (c *MemoryCounter) Incr(_ context.Context, bookingID, viewerID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{bookingID, viewerID}
	c.counts[k]++
	return c.counts[k], nil
}

func (c *MemoryCounter) Reset(_ context.Context, bookingID, viewerID string) error {
	c.mu.Lock()
	delete(c.counts, key{bookingID, viewerID})
	c.mu.Unlock()
	return nil
}

func (c *MemoryCounter) Get(_ context.Context, bookingID, viewerID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key{bookingID, viewerID}], nil
}
