// Package ephemeral wraps the redis key/value store holding router liveness
// and other short-lived state shared across cloud instances.
package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence tracks router liveness with TTL keys. A key that expires without
// a heartbeat refresh means the router went silent; the periodic sweeper then
// demotes it in the relational store.
type Presence struct {
	rdb *redis.Client
	ttl time.Duration
}

// Open connects to redis and returns a Presence with the given liveness TTL.
func Open(ctx context.Context, redisURL string, ttl time.Duration) (*Presence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("ephemeral: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ephemeral: ping: %w", err)
	}
	return &Presence{rdb: rdb, ttl: ttl}, nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(rdb *redis.Client, ttl time.Duration) *Presence {
	return &Presence{rdb: rdb, ttl: ttl}
}

// Close releases the redis client.
func (p *Presence) Close() error { return p.rdb.Close() }

func statusKey(routerID string) string   { return "router:" + routerID + ":status" }
func sessionsKey(routerID string) string { return "router:" + routerID + ":sessions" }

// SetOnline marks the router ONLINE with the liveness TTL.
func (p *Presence) SetOnline(ctx context.Context, routerID string) error {
	return p.rdb.Set(ctx, statusKey(routerID), "ONLINE", p.ttl).Err()
}

// Refresh extends the liveness TTL on a heartbeat. A refresh on a missing key
// recreates it: a heartbeat is proof of life even if the status message was
// lost.
func (p *Presence) Refresh(ctx context.Context, routerID string) error {
	ok, err := p.rdb.Expire(ctx, statusKey(routerID), p.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return p.SetOnline(ctx, routerID)
	}
	return nil
}

// SetOffline removes the liveness key immediately.
func (p *Presence) SetOffline(ctx context.Context, routerID string) error {
	return p.rdb.Del(ctx, statusKey(routerID), sessionsKey(routerID)).Err()
}

// IsOnline reports whether the router's liveness key exists.
func (p *Presence) IsOnline(ctx context.Context, routerID string) (bool, error) {
	_, err := p.rdb.Get(ctx, statusKey(routerID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetSessionCount records the router's live session count from its heartbeat.
func (p *Presence) SetSessionCount(ctx context.Context, routerID string, n int) error {
	return p.rdb.Set(ctx, sessionsKey(routerID), n, p.ttl).Err()
}

// SessionCount reads the last reported session count; 0 when absent.
func (p *Presence) SessionCount(ctx context.Context, routerID string) (int, error) {
	v, err := p.rdb.Get(ctx, sessionsKey(routerID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("ephemeral: malformed session count %q: %w", v, err)
	}
	return n, nil
}
