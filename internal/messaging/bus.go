package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultMaxDeliver      = 5
	defaultAckWait         = 30 * time.Second
	defaultConcurrency     = 8
	defaultDeadLetterQueue = "dlq"
	defaultNakDelay        = time.Second
)

// Publisher sends messages toward a destination queue.
type Publisher interface {
	Publish(ctx context.Context, destination string, out Outbound) error
}

// Consumer delivers messages of a queue to a handler until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, queue string, h Handler) error
}

// Broker is an explicitly owned connection to a message backend.
type Broker interface {
	Publisher
	Consumer
	Close() error
}

// Handler processes one delivery. It settles the delivery with Ack, Nak or Reject;
// a delivery left unsettled when the handler returns is redelivered.
type Handler func(ctx context.Context, d *Delivery)

// Acknowledger is the backend-specific settlement of a delivery.
type Acknowledger interface {
	Ack(ctx context.Context) error
	Nak(ctx context.Context) error
	Reject(ctx context.Context, reason string) error
}

// Delivery outcomes reported to an Observer.
const (
	OutcomeAcked        = "acked"
	OutcomeNacked       = "nacked"
	OutcomeDeadLettered = "dead_lettered"
)

// Observer receives broker activity, typically to export metrics.
type Observer interface {
	Published(destination string, kind Kind)
	Settled(queue string, kind Kind, outcome string)
}

type nopObserver struct{}

func (nopObserver) Published(string, Kind)       {}
func (nopObserver) Settled(string, Kind, string) {}

// Options tunes delivery behaviour shared by all backends.
type Options struct {
	// MaxDeliver is the number of delivery attempts before a message is dead-lettered.
	MaxDeliver      int
	AckWait         time.Duration
	NakDelay        time.Duration
	Concurrency     int
	DeadLetterQueue string
	Observer        Observer
}

func (o Options) withDefaults() Options {
	if o.MaxDeliver <= 0 {
		o.MaxDeliver = defaultMaxDeliver
	}
	if o.AckWait <= 0 {
		o.AckWait = defaultAckWait
	}
	if o.NakDelay <= 0 {
		o.NakDelay = defaultNakDelay
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.DeadLetterQueue == "" {
		o.DeadLetterQueue = defaultDeadLetterQueue
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

// DeadLetter is the record written to the dead-letter queue.
type DeadLetter struct {
	Queue    string    `json:"queue"`
	Reason   string    `json:"reason"`
	Attempt  int       `json:"attempt"`
	Body     string    `json:"body"`
	FailedAt time.Time `json:"failedAt"`
}

// Delivery is a message handed to a Handler together with its settlement controls.
type Delivery struct {
	Message

	acker      Acknowledger
	maxDeliver int
	observer   Observer

	mu      sync.Mutex
	settled bool
}

// NewDelivery wraps a message with an acknowledger. Backends and tests use it to
// hand messages to handlers.
func NewDelivery(msg Message, ack Acknowledger) *Delivery {
	return &Delivery{Message: msg, acker: ack, observer: nopObserver{}}
}

func (d *Delivery) settle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return false
	}
	d.settled = true
	return true
}

// Settled reports whether Ack, Nak or Reject has been called.
func (d *Delivery) Settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}

func (d *Delivery) kind() Kind {
	if d.Payload == nil {
		return ""
	}
	return d.Payload.Kind()
}

// Ack confirms the message was processed.
func (d *Delivery) Ack(ctx context.Context) error {
	if !d.settle() {
		return nil
	}
	d.observer.Settled(d.Queue, d.kind(), OutcomeAcked)
	return d.acker.Ack(ctx)
}

// Nak asks for redelivery. Once the attempt reaches the retry ceiling the message
// is dead-lettered instead.
func (d *Delivery) Nak(ctx context.Context) error {
	if !d.settle() {
		return nil
	}
	if d.maxDeliver > 0 && d.Attempt >= d.maxDeliver {
		d.observer.Settled(d.Queue, d.kind(), OutcomeDeadLettered)
		return d.acker.Reject(ctx, "max deliveries exceeded")
	}
	d.observer.Settled(d.Queue, d.kind(), OutcomeNacked)
	return d.acker.Nak(ctx)
}

// Reject routes the message to the dead-letter queue without retrying.
func (d *Delivery) Reject(ctx context.Context, reason string) error {
	if !d.settle() {
		return nil
	}
	d.observer.Settled(d.Queue, d.kind(), OutcomeDeadLettered)
	return d.acker.Reject(ctx, reason)
}

// deliver decodes a raw body and runs the handler, enforcing the retry ceiling and
// dead-lettering malformed input.
func deliver(ctx context.Context, log *slog.Logger, opts Options, queue string, body []byte, attempt int, ack Acknowledger, h Handler) {
	msg, err := Decode(body)
	msg.Queue = queue
	msg.Attempt = attempt

	d := NewDelivery(msg, ack)
	d.maxDeliver = opts.MaxDeliver
	d.observer = opts.Observer

	if err != nil {
		log.Warn("dead-lettering malformed message", slog.String("queue", queue), "error", err)
		if rejErr := d.Reject(ctx, err.Error()); rejErr != nil {
			log.Error("dead-letter failed", slog.String("queue", queue), "error", rejErr)
		}
		return
	}
	if attempt > opts.MaxDeliver {
		log.Warn("dead-lettering message past retry ceiling",
			slog.String("queue", queue),
			slog.String("correlation_id", msg.CorrelationID),
			slog.Int("attempt", attempt))
		if rejErr := d.Reject(ctx, "max deliveries exceeded"); rejErr != nil {
			log.Error("dead-letter failed", slog.String("queue", queue), "error", rejErr)
		}
		return
	}

	h(ctx, d)

	if !d.Settled() {
		if err := d.Nak(ctx); err != nil {
			log.Error("nak failed", slog.String("queue", queue), slog.String("message_id", msg.ID), "error", err)
		}
	}
}

func newDeadLetter(queue, reason string, attempt int, body []byte) DeadLetter {
	return DeadLetter{
		Queue:    queue,
		Reason:   reason,
		Attempt:  attempt,
		Body:     string(body),
		FailedAt: time.Now().UTC(),
	}
}
