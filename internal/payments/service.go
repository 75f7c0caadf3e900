package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/congo-pay/fundflow/internal/messaging"
)

// ErrInvalidRequest marks a request the processor will never be able to route.
var ErrInvalidRequest = errors.New("invalid fund movement request")

// Service is the payment processor. It turns fund movement requests into ledger
// instructions addressed to the reply queue of the requesting service. It never
// touches a balance itself.
type Service struct {
	publisher messaging.Publisher
	log       *slog.Logger
}

// NewService constructs a payment processor publishing through publisher.
func NewService(log *slog.Logger, publisher messaging.Publisher) *Service {
	return &Service{publisher: publisher, log: log}
}

// Route decides which instructions a request produces. Credit and debit requests map
// to a single instruction; a transfer fans out into a debit and a credit leg.
func (s *Service) Route(msg messaging.Message) ([]messaging.Outbound, error) {
	out := func(p messaging.Payload) messaging.Outbound {
		return messaging.Outbound{CorrelationID: msg.CorrelationID, Payload: p}
	}

	if msg.Payload.Kind().IsInstruction() {
		return nil, fmt.Errorf("%w: %s is not a request", ErrInvalidRequest, msg.Payload.Kind())
	}

	switch p := msg.Payload.(type) {
	case messaging.CreditRequest:
		return []messaging.Outbound{
			out(messaging.CreditInstruction{UserID: p.UserID, Amount: p.Amount, Currency: p.Currency, Legs: 1}),
		}, nil
	case messaging.DebitRequest:
		return []messaging.Outbound{
			out(messaging.DebitInstruction{UserID: p.UserID, Amount: p.Amount, Currency: p.Currency, Legs: 1}),
		}, nil
	case messaging.TransferRequest:
		if p.FromUserID == p.ToUserID {
			return nil, fmt.Errorf("%w: transfer from %s to itself", ErrInvalidRequest, p.FromUserID)
		}
		return []messaging.Outbound{
			out(messaging.DebitInstruction{UserID: p.FromUserID, Amount: p.Amount, Currency: p.Currency, Legs: 2}),
			out(messaging.CreditInstruction{UserID: p.ToUserID, Amount: p.Amount, Currency: p.Currency, Legs: 2}),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported payload %T", ErrInvalidRequest, msg.Payload)
	}
}

// Handle consumes one request delivery. The delivery is acknowledged only after every
// instruction was published; a publish failure asks for redelivery.
func (s *Service) Handle(ctx context.Context, d *messaging.Delivery) {
	log := s.log.With(
		slog.String("correlation_id", d.CorrelationID),
		slog.String("message_id", d.ID),
		slog.Int("attempt", d.Attempt),
	)

	if d.ReplyTo == "" {
		log.Warn("request without reply address, acknowledging without instructions")
		if err := d.Ack(ctx); err != nil {
			log.Error("ack failed", "error", err)
		}
		return
	}

	instructions, err := s.Route(d.Message)
	if err != nil {
		log.Warn("rejecting request", "error", err)
		if rejErr := d.Reject(ctx, err.Error()); rejErr != nil {
			log.Error("reject failed", "error", rejErr)
		}
		return
	}

	for _, instruction := range instructions {
		instruction.ReplyTo = ""
		if err := s.publisher.Publish(ctx, d.ReplyTo, instruction); err != nil {
			log.Error("publish instruction failed",
				slog.String("kind", string(instruction.Payload.Kind())),
				slog.String("reply_to", d.ReplyTo),
				"error", err)
			if nakErr := d.Nak(ctx); nakErr != nil {
				log.Error("nak failed", "error", nakErr)
			}
			return
		}
	}

	if err := d.Ack(ctx); err != nil {
		log.Error("ack failed", "error", err)
		return
	}
	log.Info("request routed",
		slog.String("kind", string(d.Payload.Kind())),
		slog.Int("instructions", len(instructions)))
}
