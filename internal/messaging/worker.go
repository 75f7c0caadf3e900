package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// Worker runs a handler over one queue as a long-lived component with Start and Stop.
type Worker struct {
	consumer Consumer
	queue    string
	handler  Handler
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker binds handler to queue on consumer.
func NewWorker(log *slog.Logger, consumer Consumer, queue string, handler Handler) *Worker {
	return &Worker{consumer: consumer, queue: queue, handler: handler, log: log}
}

// Start blocks consuming until Stop is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()
	defer close(done)

	w.log.Info("worker started", slog.String("queue", w.queue))
	err := w.consumer.Consume(ctx, w.queue, w.handler)
	w.log.Info("worker stopped", slog.String("queue", w.queue))
	return err
}

// Stop cancels consumption and waits for in-flight handlers or ctx expiry.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
