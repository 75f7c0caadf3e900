package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSBroker publishes and consumes through a single JetStream stream that captures
// every subject under the configured prefix. Each queue is a durable pull consumer.
type NATSBroker struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
	prefix string
	log    *slog.Logger
	opts   Options
}

// NewNATSBroker ensures the stream exists and returns a broker bound to it.
func NewNATSBroker(ctx context.Context, log *slog.Logger, nc *nats.Conn, stream, prefix string, opts Options) (*NATSBroker, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       stream,
		Subjects:   []string{prefix + ".>"},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", stream, err)
	}
	return &NATSBroker{nc: nc, js: js, stream: stream, prefix: prefix, log: log, opts: opts.withDefaults()}, nil
}

func (b *NATSBroker) subject(queue string) string {
	return b.prefix + "." + queue
}

// Publish sends the message with its id as the JetStream dedupe header.
func (b *NATSBroker) Publish(ctx context.Context, destination string, out Outbound) error {
	body, id, err := Encode(out, time.Now())
	if err != nil {
		return err
	}
	if _, err := b.js.Publish(ctx, b.subject(destination), body, jetstream.WithMsgID(id)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	b.opts.Observer.Published(destination, out.Payload.Kind())
	return nil
}

// Consume attaches a durable consumer named after queue and processes messages with
// up to Concurrency handlers in flight.
func (b *NATSBroker) Consume(ctx context.Context, queue string, h Handler) error {
	cons, err := b.js.CreateOrUpdateConsumer(ctx, b.stream, jetstream.ConsumerConfig{
		Durable:       queue,
		FilterSubject: b.subject(queue),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.opts.AckWait,
		// One spare delivery so a message redelivered after an ack timeout on its last
		// attempt still reaches the dead-letter path instead of being dropped.
		MaxDeliver:    b.opts.MaxDeliver + 1,
		MaxAckPending: b.opts.Concurrency * 4,
	})
	if err != nil {
		return fmt.Errorf("%w: consumer %s: %v", ErrUnavailable, queue, err)
	}

	workCtx := context.WithoutCancel(ctx)
	sem := make(chan struct{}, b.opts.Concurrency)
	var wg sync.WaitGroup

	cc, err := cons.Consume(func(m jetstream.Msg) {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			attempt := 1
			if meta, err := m.Metadata(); err == nil {
				attempt = int(meta.NumDelivered)
			}
			ack := &natsAck{broker: b, msg: m, queue: queue, attempt: attempt}
			deliver(workCtx, b.log, b.opts, queue, m.Data(), attempt, ack, h)
		}()
	})
	if err != nil {
		return fmt.Errorf("%w: consume %s: %v", ErrUnavailable, queue, err)
	}

	b.log.Info("nats consumer started", slog.String("queue", queue), slog.String("stream", b.stream))
	<-ctx.Done()
	cc.Stop()
	wg.Wait()
	return nil
}

// Close drains the underlying connection.
func (b *NATSBroker) Close() error {
	return b.nc.Drain()
}

type natsAck struct {
	broker  *NATSBroker
	msg     jetstream.Msg
	queue   string
	attempt int
}

func (a *natsAck) Ack(context.Context) error {
	return a.msg.Ack()
}

func (a *natsAck) Nak(context.Context) error {
	return a.msg.NakWithDelay(a.broker.opts.NakDelay * time.Duration(a.attempt))
}

func (a *natsAck) Reject(ctx context.Context, reason string) error {
	record, err := json.Marshal(newDeadLetter(a.queue, reason, a.attempt, a.msg.Data()))
	if err != nil {
		return err
	}
	if _, err := a.broker.js.Publish(ctx, a.broker.subject(a.broker.opts.DeadLetterQueue), record); err != nil {
		// Leave the message unacknowledged so it is redelivered and dead-lettered again.
		return fmt.Errorf("%w: dead-letter publish: %v", ErrUnavailable, err)
	}
	return a.msg.Term()
}
