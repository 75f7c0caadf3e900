package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisBodyField    = "body"
	redisAttemptField = "attempt"
	redisReadBlock    = 2 * time.Second
)

// RedisBroker implements the broker over Redis Streams: one stream per destination and
// one consumer group per consuming queue.
type RedisBroker struct {
	rdb      *redis.Client
	prefix   string
	consumer string
	log      *slog.Logger
	opts     Options
	block    time.Duration
}

// NewRedisBroker creates a Streams-backed broker. Stream keys are "<prefix>:<queue>".
func NewRedisBroker(log *slog.Logger, rdb *redis.Client, prefix string, opts Options) *RedisBroker {
	host, _ := os.Hostname()
	return &RedisBroker{
		rdb:      rdb,
		prefix:   prefix,
		consumer: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		log:      log,
		opts:     opts.withDefaults(),
		block:    redisReadBlock,
	}
}

func (b *RedisBroker) stream(queue string) string {
	return b.prefix + ":" + queue
}

func (b *RedisBroker) add(ctx context.Context, queue string, body []byte, attempt int) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream(queue),
		Values: map[string]interface{}{
			redisBodyField:    string(body),
			redisAttemptField: attempt,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Publish appends the encoded message to the destination stream.
func (b *RedisBroker) Publish(ctx context.Context, destination string, out Outbound) error {
	body, _, err := Encode(out, time.Now())
	if err != nil {
		return err
	}
	if err := b.add(ctx, destination, body, 1); err != nil {
		return err
	}
	b.opts.Observer.Published(destination, out.Payload.Kind())
	return nil
}

// Consume reads the queue stream through a consumer group until ctx is cancelled.
// Entries idle longer than AckWait, including those left by crashed consumers, are
// claimed and requeued with an incremented attempt.
func (b *RedisBroker) Consume(ctx context.Context, queue string, h Handler) error {
	stream := b.stream(queue)
	if err := b.rdb.XGroupCreateMkStream(ctx, stream, queue, "0").Err(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: create group %s: %v", ErrUnavailable, queue, err)
	}

	workCtx := context.WithoutCancel(ctx)
	b.log.Info("redis consumer started", slog.String("queue", queue), slog.String("consumer", b.consumer))

	for {
		if ctx.Err() != nil {
			return nil
		}
		b.reclaim(ctx, queue)

		res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    queue,
			Consumer: b.consumer,
			Streams:  []string{stream, ">"},
			Count:    int64(b.opts.Concurrency),
			Block:    b.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			b.log.Warn("redis read failed", slog.String("queue", queue), "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		var wg sync.WaitGroup
		for _, s := range res {
			for _, entry := range s.Messages {
				wg.Add(1)
				go func(entry redis.XMessage) {
					defer wg.Done()
					b.handle(workCtx, queue, entry, h)
				}(entry)
			}
		}
		wg.Wait()
	}
}

func (b *RedisBroker) handle(ctx context.Context, queue string, entry redis.XMessage, h Handler) {
	body, attempt := parseEntry(entry)
	ack := &redisAck{broker: b, queue: queue, id: entry.ID, body: body, attempt: attempt}
	deliver(ctx, b.log, b.opts, queue, body, attempt, ack, h)
}

// reclaim moves entries whose consumer never settled them back onto the stream.
func (b *RedisBroker) reclaim(ctx context.Context, queue string) {
	entries, _, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   b.stream(queue),
		Group:    queue,
		Consumer: b.consumer,
		MinIdle:  b.opts.AckWait,
		Start:    "0-0",
		Count:    int64(b.opts.Concurrency),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			b.log.Debug("redis reclaim skipped", slog.String("queue", queue), "error", err)
		}
		return
	}
	for _, entry := range entries {
		body, attempt := parseEntry(entry)
		ack := &redisAck{broker: b, queue: queue, id: entry.ID, body: body, attempt: attempt}
		if attempt >= b.opts.MaxDeliver {
			err = ack.Reject(ctx, "max deliveries exceeded")
		} else {
			err = ack.Nak(ctx)
		}
		if err != nil {
			b.log.Warn("redis reclaim failed", slog.String("queue", queue), slog.String("id", entry.ID), "error", err)
		}
	}
}

func parseEntry(entry redis.XMessage) ([]byte, int) {
	var body []byte
	if v, ok := entry.Values[redisBodyField].(string); ok {
		body = []byte(v)
	}
	attempt := 1
	if v, ok := entry.Values[redisAttemptField].(string); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			attempt = n
		}
	}
	return body, attempt
}

// Close is a no-op; the Redis client is shared with the caller, which closes it.
func (b *RedisBroker) Close() error {
	return nil
}

type redisAck struct {
	broker  *RedisBroker
	queue   string
	id      string
	body    []byte
	attempt int
}

func (a *redisAck) Ack(ctx context.Context) error {
	return a.broker.rdb.XAck(ctx, a.broker.stream(a.queue), a.queue, a.id).Err()
}

func (a *redisAck) Nak(ctx context.Context) error {
	if err := a.broker.add(ctx, a.queue, a.body, a.attempt+1); err != nil {
		return err
	}
	return a.Ack(ctx)
}

func (a *redisAck) Reject(ctx context.Context, reason string) error {
	record, err := json.Marshal(newDeadLetter(a.queue, reason, a.attempt, a.body))
	if err != nil {
		return err
	}
	err = a.broker.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: a.broker.stream(a.broker.opts.DeadLetterQueue),
		Values: map[string]interface{}{redisBodyField: string(record)},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: dead-letter publish: %v", ErrUnavailable, err)
	}
	return a.Ack(ctx)
}
