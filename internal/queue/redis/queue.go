// Package redis provides a job queue backed by a Redis list so queued jobs
// survive a process restart.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/bizregistry-scraper/internal/queue"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

const (
	defaultKey         = "scraper:jobs:ready"
	defaultPollTimeout = time.Second
)

// Config holds connection and key settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
	// PollTimeout bounds each blocking pop so cancellation is noticed.
	PollTimeout time.Duration
}

// Queue pushes JSON-encoded items to the tail of a list and pops from the head.
type Queue struct {
	client      redis.UniversalClient
	key         string
	pollTimeout time.Duration
	closed      atomic.Bool
}

// New connects a Queue using cfg.
func New(cfg Config) (*Queue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("queue.redis_addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, cfg Config) *Queue {
	key := cfg.Key
	if key == "" {
		key = defaultKey
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = defaultPollTimeout
	}
	return &Queue{client: client, key: key, pollTimeout: poll}
}

// Ping checks connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Enqueue appends item to the ready list.
func (q *Queue) Enqueue(ctx context.Context, item scraper.QueueItem) error {
	if q.closed.Load() {
		return queue.ErrClosed
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("push queue item: %w", err)
	}
	return nil
}

// Dequeue blocks until an item is available, ctx ends, or the queue closes.
func (q *Queue) Dequeue(ctx context.Context) (scraper.QueueItem, error) {
	for {
		if q.closed.Load() {
			return scraper.QueueItem{}, queue.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return scraper.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		res, err := q.client.BLPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return scraper.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctxErr)
			}
			if q.closed.Load() {
				return scraper.QueueItem{}, queue.ErrClosed
			}
			return scraper.QueueItem{}, fmt.Errorf("pop queue item: %w", err)
		}
		if len(res) != 2 {
			return scraper.QueueItem{}, fmt.Errorf("unexpected blpop reply length %d", len(res))
		}
		var item scraper.QueueItem
		if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
			return scraper.QueueItem{}, fmt.Errorf("decode queue item: %w", err)
		}
		return item, nil
	}
}

// Len reports the number of queued items.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// Close releases the client; it is safe to call more than once.
func (q *Queue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
