package intake

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Queue is the worker-facing view of the intake transport.
type Queue interface {
	// Push queues a raw event and returns its envelope.
	Push(ctx context.Context, event []byte, submitter string) (Envelope, error)

	// Pop removes the oldest envelope, blocking up to the pop timeout.
	// It returns (nil, nil) when nothing arrived in time.
	Pop(ctx context.Context) (*Envelope, error)

	// Requeue puts an envelope back for redelivery.
	Requeue(ctx context.Context, env Envelope) error

	// DeadLetter parks an envelope that can never be processed.
	DeadLetter(ctx context.Context, letter DeadLetter) error

	// PublishOutcome broadcasts the outcome of one envelope.
	PublishOutcome(ctx context.Context, outcome Outcome) error

	// SubscribeOutcomes streams outcomes until ctx is cancelled.
	SubscribeOutcomes(ctx context.Context) (<-chan Outcome, error)

	// Depth returns the number of queued envelopes.
	Depth(ctx context.Context) (int64, error)

	// Heartbeat updates the health key for a worker with a 30s TTL.
	Heartbeat(ctx context.Context, workerID string) error

	// WorkerCount returns the number of registered worker goroutines.
	WorkerCount(ctx context.Context) (int, error)

	// IncrementWorkerCount adds n to the worker count.
	IncrementWorkerCount(ctx context.Context, n int) error

	// DecrementWorkerCount subtracts n from the worker count.
	DecrementWorkerCount(ctx context.Context, n int) error

	// Close closes the Redis connection.
	Close() error
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration
}

// Dial connects to Redis and verifies the connection with PING. The client
// is shared by the queue, the Redis tracker store and the Redis channel.
func Dial(opts RedisOptions) (*redis.Client, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if opts.TLS != nil {
		redisOpts.TLSConfig = opts.TLS
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisQueue implements Queue over go-redis.
type RedisQueue struct {
	client     *redis.Client
	keys       Keys
	popTimeout time.Duration
	now        func() time.Time
}

// NewRedisQueue creates a queue over an established client.
func NewRedisQueue(client *redis.Client, keys Keys) *RedisQueue {
	if keys.Findings == "" {
		keys = DefaultKeys()
	}
	return &RedisQueue{
		client:     client,
		keys:       keys,
		popTimeout: 5 * time.Second,
		now:        time.Now,
	}
}

// SetPopTimeout sets how long Pop blocks. Redis rounds it up to a second.
func (q *RedisQueue) SetPopTimeout(d time.Duration) {
	if d > 0 {
		q.popTimeout = d
	}
}

// Client returns the underlying Redis client.
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

// Push queues a raw event.
func (q *RedisQueue) Push(ctx context.Context, event []byte, submitter string) (Envelope, error) {
	env := Envelope{
		ID:          uuid.New().String(),
		Event:       json.RawMessage(event),
		Submitter:   submitter,
		SubmittedAt: q.now().UnixMilli(),
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	if err := q.push(ctx, q.keys.Findings, env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Requeue puts env back at the tail of the queue.
func (q *RedisQueue) Requeue(ctx context.Context, env Envelope) error {
	return q.push(ctx, q.keys.Findings, env)
}

func (q *RedisQueue) push(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := q.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to push to queue %s: %w", key, err)
	}
	return nil
}

// Pop removes and returns the oldest envelope.
func (q *RedisQueue) Pop(ctx context.Context) (*Envelope, error) {
	// BRPOP returns [queue_name, value] or redis.Nil on timeout
	result, err := q.client.BRPop(ctx, q.popTimeout, q.keys.Findings).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from queue %s: %w", q.keys.Findings, err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP result length: %d", len(result))
	}

	env := q.decode([]byte(result[1]))
	env.Deliveries++
	return &env, nil
}

// decode reads an Envelope, wrapping anything else as a bare event.
func (q *RedisQueue) decode(data []byte) Envelope {
	var env Envelope
	if err := json.Unmarshal(data, &env); err == nil && env.ID != "" && len(env.Event) > 0 {
		return env
	}
	return Envelope{
		ID:          uuid.New().String(),
		Event:       json.RawMessage(data),
		SubmittedAt: q.now().UnixMilli(),
	}
}

// DeadLetter parks letter on the dead-letter list.
func (q *RedisQueue) DeadLetter(ctx context.Context, letter DeadLetter) error {
	if letter.FailedAt == 0 {
		letter.FailedAt = q.now().UnixMilli()
	}
	return q.push(ctx, q.keys.DeadLetter, letter)
}

// DeadLetters returns up to n parked events, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, n int64) ([]DeadLetter, error) {
	values, err := q.client.LRange(ctx, q.keys.DeadLetter, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	letters := make([]DeadLetter, 0, len(values))
	for _, v := range values {
		var letter DeadLetter
		if err := json.Unmarshal([]byte(v), &letter); err != nil {
			continue
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

// PublishOutcome broadcasts outcome on the outcomes channel.
func (q *RedisQueue) PublishOutcome(ctx context.Context, outcome Outcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	if err := q.client.Publish(ctx, q.keys.Outcomes, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", q.keys.Outcomes, err)
	}
	return nil
}

// SubscribeOutcomes streams outcomes until ctx is cancelled.
func (q *RedisQueue) SubscribeOutcomes(ctx context.Context) (<-chan Outcome, error) {
	pubsub := q.client.Subscribe(ctx, q.keys.Outcomes)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", q.keys.Outcomes, err)
	}

	out := make(chan Outcome)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var outcome Outcome
				if err := json.Unmarshal([]byte(msg.Payload), &outcome); err != nil {
					continue
				}

				select {
				case out <- outcome:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Depth returns the number of queued envelopes.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.keys.Findings).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return n, nil
}

// Heartbeat updates the health key for a worker with a 30s TTL.
func (q *RedisQueue) Heartbeat(ctx context.Context, workerID string) error {
	key := formatKeyName(q.keys.Prefix, "worker", workerID, "health")
	if err := q.client.Set(ctx, key, "ok", 30*time.Second).Err(); err != nil {
		return fmt.Errorf("failed to set heartbeat for worker %s: %w", workerID, err)
	}
	return nil
}

// WorkerCount returns the number of registered worker goroutines.
func (q *RedisQueue) WorkerCount(ctx context.Context) (int, error) {
	countStr, err := q.client.Get(ctx, q.workersKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get worker count: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, fmt.Errorf("invalid worker count value: %w", err)
	}
	return count, nil
}

// IncrementWorkerCount adds n to the worker count.
func (q *RedisQueue) IncrementWorkerCount(ctx context.Context, n int) error {
	if err := q.client.IncrBy(ctx, q.workersKey(), int64(n)).Err(); err != nil {
		return fmt.Errorf("failed to increment worker count: %w", err)
	}
	return nil
}

// DecrementWorkerCount subtracts n from the worker count.
func (q *RedisQueue) DecrementWorkerCount(ctx context.Context, n int) error {
	if err := q.client.DecrBy(ctx, q.workersKey(), int64(n)).Err(); err != nil {
		return fmt.Errorf("failed to decrement worker count: %w", err)
	}
	return nil
}

func (q *RedisQueue) workersKey() string {
	return formatKeyName(q.keys.Prefix, "workers")
}

// Ping checks the Redis connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// formatKeyName joins key parts with ':'.
func formatKeyName(parts ...string) string {
	return strings.Join(parts, ":")
}
