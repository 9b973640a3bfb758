package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AllowFunc reports whether another connection attempt under key may proceed
type AllowFunc func(ctx context.Context, key string) (bool, error)

const connLimitTimeout = 100 * time.Millisecond

// connWindowScript keeps one sorted-set member per attempt, scored by its
// millisecond timestamp.
//
// KEYS[1] window key, ARGV[1] window seconds, ARGV[2] limit,
// ARGV[3] now in ms, ARGV[4] attempt id
var connWindowScript = `
local key = KEYS[1]
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window * 1000)
if redis.call('ZCARD', key) < limit then
    redis.call('ZADD', key, now, ARGV[4])
    redis.call('EXPIRE', key, window + 60)
    return 1
end
return 0
`

// ConnWindow is a sliding-window limit on websocket connection attempts,
// shared through Redis by every server instance.
type ConnWindow struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
	script *redis.Script
}

// NewConnWindow allows limit attempts per key within window
func NewConnWindow(client *redis.Client, prefix string, limit int64, window time.Duration) *ConnWindow {
	return &ConnWindow{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		script: redis.NewScript(connWindowScript),
	}
}

// Allow records one attempt. On Redis errors it allows the attempt and
// returns the error.
func (cw *ConnWindow) Allow(ctx context.Context, key string) (bool, error) {
	secs := int64(cw.window.Seconds())
	if secs < 1 {
		secs = 1
	}
	res, err := cw.script.Run(ctx, cw.client,
		[]string{cw.prefix + key},
		secs,
		cw.limit,
		time.Now().UnixMilli(),
		uuid.NewString(),
	).Int()
	if err != nil {
		return true, fmt.Errorf("redis conn window: %w", err)
	}
	return res == 1, nil
}

// ConnectRedis dials and pings Redis
func ConnectRedis(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		PoolSize:     20,
		MinIdleConns: 2,
		ReadTimeout:  connLimitTimeout,
		WriteTimeout: connLimitTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}
