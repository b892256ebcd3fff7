package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClaimer claims (rule, record) pairs via SETNX so that concurrent
// engine replicas do not build the same violation twice. Claims expire,
// leaving the violation store's unique-pair check as the backstop.
type RedisClaimer struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisClaimer(addr, password string, db int, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisClaimer{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: "complyscan:claim:",
		ttl:    ttl,
	}
}

// Claim returns true when this caller won the pair.
func (c *RedisClaimer) Claim(ctx context.Context, key string) (bool, error) {
	return c.client.SetNX(ctx, c.prefix+key, 1, c.ttl).Result()
}

// Close releases the redis connection.
func (c *RedisClaimer) Close() error {
	return c.client.Close()
}
