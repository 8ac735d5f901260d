package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"tweet-digest/internal/domain"
)

// Поддерживаемые бэкенды очереди.
const (
	BackendRabbitMQ = "rabbitmq"
	BackendRedis    = "redis"
)

// Open создаёт очередь дайджестов для выбранного бэкенда. Возвращаемая
// функция освобождает соединение с брокером.
func Open(backend, rabbitURL string, redisClient *redis.Client, key string, prefetch int) (domain.DigestQueue, func() error, error) {
	switch backend {
	case BackendRabbitMQ, "":
		q, err := NewRabbitDigestQueue(rabbitURL, key, prefetch)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	case BackendRedis:
		if redisClient == nil {
			return nil, nil, fmt.Errorf("queue backend %q requires REDIS_ADDR", backend)
		}
		return NewRedisDigestQueue(redisClient, key), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", backend)
	}
}
