package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "digistore:idempotency:"

type cmdable interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisGuard разделяет состояние между экземплярами через Redis.
type RedisGuard struct {
	store  cmdable
	window time.Duration
	now    func() time.Time
}

// NewRedisGuard создаёт guard поверх клиента redis.
func NewRedisGuard(client *redis.Client, window time.Duration) *RedisGuard {
	return newRedisGuard(client, window)
}

func newRedisGuard(store cmdable, window time.Duration) *RedisGuard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisGuard{store: store, window: window, now: time.Now}
}

// NewRedisClient разбирает url и проверяет соединение.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// CheckAndRecord реализует Guard.
func (g *RedisGuard) CheckAndRecord(ctx context.Context, userID int64, requestID string) (Result, error) {
	now := g.now()
	if requestID == "" {
		return Result{Fresh: true, FirstSeenAt: now}, nil
	}

	k := keyPrefix + key(userID, requestID)

	// Ключ может истечь между SetNX и Get, повторный SetNX это решает.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := g.store.SetNX(ctx, k, strconv.FormatInt(now.UnixMilli(), 10), g.window).Result()
		if err != nil {
			return Result{}, fmt.Errorf("record request id: %w", err)
		}
		if ok {
			return Result{Fresh: true, FirstSeenAt: now}, nil
		}

		stored, err := g.store.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("read request id: %w", err)
		}

		ms, err := strconv.ParseInt(stored, 10, 64)
		if err != nil {
			return Result{Fresh: false, FirstSeenAt: now}, nil
		}
		return Result{Fresh: false, FirstSeenAt: time.UnixMilli(ms)}, nil
	}

	return Result{Fresh: false, FirstSeenAt: now}, nil
}
