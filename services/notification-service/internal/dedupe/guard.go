// Package dedupe remembers which events already produced a notification.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "notification:sent:"

// Claim is held for one event. Release gives it back when the send failed.
type Claim interface {
	Release(ctx context.Context) error
}

type Guard interface {
	// Claim returns ok=false when eventID was already claimed.
	Claim(ctx context.Context, eventID string) (claim Claim, ok bool, err error)
}

func Key(eventID string) string {
	return keyPrefix + eventID
}

// Nop claims everything.
type Nop struct{}

func (Nop) Claim(context.Context, string) (Claim, bool, error) { return nopClaim{}, true, nil }

type nopClaim struct{}

func (nopClaim) Release(context.Context) error { return nil }

type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Claim(ctx context.Context, eventID string) (Claim, bool, error) {
	key := Key(eventID)
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("claim %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisClaim{client: g.client, key: key, token: token}, true, nil
}

type redisClaim struct {
	client *redis.Client
	key    string
	token  string
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (c *redisClaim) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, c.client, []string{c.key}, c.token).Err()
}

// NewClient connects and pings a Redis client.
func NewClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func ReadyCheck(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
