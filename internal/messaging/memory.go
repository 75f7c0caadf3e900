package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const memoryQueueSize = 1024

type memoryItem struct {
	body    []byte
	attempt int
}

// MemoryBroker is an in-process broker with per-queue buffered channels. It is used
// by tests and by the single-binary development setup.
type MemoryBroker struct {
	log  *slog.Logger
	opts Options

	mu          sync.Mutex
	queues      map[string]chan memoryItem
	deadLetters []DeadLetter
	done        chan struct{}
	closeOnce   sync.Once
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker(log *slog.Logger, opts Options) *MemoryBroker {
	return &MemoryBroker{
		log:    log,
		opts:   opts.withDefaults(),
		queues: make(map[string]chan memoryItem),
		done:   make(chan struct{}),
	}
}

func (b *MemoryBroker) queue(name string) chan memoryItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan memoryItem, memoryQueueSize)
		b.queues[name] = q
	}
	return q
}

// Publish encodes the message and enqueues it on destination.
func (b *MemoryBroker) Publish(ctx context.Context, destination string, out Outbound) error {
	body, _, err := Encode(out, time.Now())
	if err != nil {
		return err
	}
	if err := b.enqueue(ctx, destination, memoryItem{body: body, attempt: 1}); err != nil {
		return err
	}
	b.opts.Observer.Published(destination, out.Payload.Kind())
	return nil
}

func (b *MemoryBroker) enqueue(ctx context.Context, destination string, item memoryItem) error {
	select {
	case <-b.done:
		return fmt.Errorf("%w: broker closed", ErrUnavailable)
	default:
	}
	q := b.queue(destination)
	select {
	case q <- item:
		return nil
	case <-b.done:
		return fmt.Errorf("%w: broker closed", ErrUnavailable)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

// Consume runs Concurrency workers over queue until ctx is cancelled or the broker closes.
func (b *MemoryBroker) Consume(ctx context.Context, queue string, h Handler) error {
	q := b.queue(queue)
	var wg sync.WaitGroup
	for i := 0; i < b.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-b.done:
					return
				case item := <-q:
					ack := &memoryAck{broker: b, queue: queue, item: item}
					deliver(context.WithoutCancel(ctx), b.log, b.opts, queue, item.body, item.attempt, ack, h)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// DeadLetters returns a copy of every dead-lettered record.
func (b *MemoryBroker) DeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DeadLetter, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

// Close stops consumers and rejects further publishes.
func (b *MemoryBroker) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

type memoryAck struct {
	broker *MemoryBroker
	queue  string
	item   memoryItem
}

func (a *memoryAck) Ack(context.Context) error { return nil }

func (a *memoryAck) Nak(ctx context.Context) error {
	next := memoryItem{body: a.item.body, attempt: a.item.attempt + 1}
	return a.broker.enqueue(ctx, a.queue, next)
}

func (a *memoryAck) Reject(_ context.Context, reason string) error {
	a.broker.mu.Lock()
	defer a.broker.mu.Unlock()
	a.broker.deadLetters = append(a.broker.deadLetters, newDeadLetter(a.queue, reason, a.item.attempt, a.item.body))
	return nil
}
