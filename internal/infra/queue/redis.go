package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/metrics"
)

// RedisDigestQueue реализует очередь задач на базе Redis lists.
type RedisDigestQueue struct {
	client *redis.Client
	key    string
}

var _ domain.DigestQueue = (*RedisDigestQueue)(nil)

// NewRedisDigestQueue создаёт очередь по указанному ключу.
func NewRedisDigestQueue(client *redis.Client, key string) *RedisDigestQueue {
	return &RedisDigestQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisDigestQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. Неподтверждённая задача
// возвращается в хвост списка.
func (q *RedisDigestQueue) Receive(ctx context.Context) (domain.DigestJob, domain.DigestAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.DigestJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return domain.DigestJob{}, nil, ctx.Err()
			}
			return domain.DigestJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.DigestJob{}, nil, errors.New("redis queue: unexpected response")
		}
		payload := res[1]
		var job domain.DigestJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return domain.DigestJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, q.ackFunc(payload), nil
	}
}

// ackFunc возвращает подтверждение для задачи. Отклонённая задача кладётся
// в хвост очереди, с той же стороны, что и новые.
func (q *RedisDigestQueue) ackFunc(payload string) domain.DigestAckFunc {
	return func(success bool) error {
		if success {
			return nil
		}
		start := time.Now()
		err := q.client.LPush(context.Background(), q.key, payload).Err()
		metrics.ObserveNetworkRequest("redis", "requeue", q.key, start, err)
		return err
	}
}
