package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tweet-digest/internal/infra/metrics"
)

// Connect создаёт клиент Redis и проверяет соединение.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Locker выполняет действие не чаще одного раза на ключ в пределах TTL.
type Locker struct {
	client *redis.Client
}

// NewLocker создаёт блокировку поверх Redis.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Once выполняет fn, если ключ ещё не задан. При ошибке fn ключ снимается,
// чтобы следующая попытка могла повторить действие.
func (l *Locker) Once(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	start := time.Now()
	ok, err := l.client.SetNX(ctx, key, "1", ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "lock", start, err)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := fn(ctx); err != nil {
		_ = l.client.Del(context.WithoutCancel(ctx), key).Err()
		return true, err
	}
	return true, nil
}
