// Package cache provides the Redis-backed event dedupe store. The
// gateway delivers events at-least-once; replays within the TTL are
// detected here so a redelivered message is moderated only once.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long an event id is remembered. Gateway
// redeliveries happen within seconds; an hour is generous.
const DefaultTTL = time.Hour

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Dedupe remembers processed event ids.
type Dedupe struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDedupe wraps a Redis client as a dedupe store.
func NewDedupe(rdb *redis.Client, ttl time.Duration) *Dedupe {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Dedupe{rdb: rdb, ttl: ttl}
}

func dedupeKey(eventID string) string {
	return "modgpt:event:" + eventID
}

// Seen atomically records the event id and reports whether it had
// already been recorded. Callers should fail open on error: processing
// an event twice is preferable to dropping it when Redis is down.
func (d *Dedupe) Seen(ctx context.Context, eventID string) (bool, error) {
	set, err := d.rdb.SetNX(ctx, dedupeKey(eventID), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe check: %w", err)
	}
	return !set, nil
}

// Healthy reports Redis connectivity for readiness checks.
func (d *Dedupe) Healthy(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}
