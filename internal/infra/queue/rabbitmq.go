package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/metrics"
)

// ErrQueueClosed возвращается, когда брокер закрыл канал доставки.
var ErrQueueClosed = errors.New("rabbitmq: delivery channel closed")

// RabbitDigestQueue реализует очередь задач через AMQP.
type RabbitDigestQueue struct {
	conn     *amqp.Connection
	publish  *amqp.Channel
	queue    string
	prefetch int

	mu         sync.Mutex
	consume    *amqp.Channel
	deliveries <-chan amqp.Delivery
}

var _ domain.DigestQueue = (*RabbitDigestQueue)(nil)

// NewRabbitDigestQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitDigestQueue(amqpURL, queue string, prefetch int) (*RabbitDigestQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitDigestQueue{conn: conn, publish: ch, queue: queue, prefetch: prefetch}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitDigestQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.publish.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.RequestedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RabbitDigestQueue) Receive(ctx context.Context) (domain.DigestJob, domain.DigestAckFunc, error) {
	deliveries, err := q.ensureConsumer()
	if err != nil {
		return domain.DigestJob{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.DigestJob{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			q.resetConsumer()
			return domain.DigestJob{}, nil, ErrQueueClosed
		}
		var job domain.DigestJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			_ = d.Nack(false, false)
			return domain.DigestJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return job, ack, nil
	}
}

// Close закрывает соединение с брокером.
func (q *RabbitDigestQueue) Close() error {
	return q.conn.Close()
}

func (q *RabbitDigestQueue) ensureConsumer() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.consume = ch
	q.deliveries = deliveries
	return deliveries, nil
}

func (q *RabbitDigestQueue) resetConsumer() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.consume != nil {
		_ = q.consume.Close()
	}
	q.consume = nil
	q.deliveries = nil
}
