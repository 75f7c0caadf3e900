package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	// KindWithdrawalApproved is sent when a withdrawal debit settled.
	KindWithdrawalApproved = "withdrawal_approved"
	// KindWithdrawalRejected is sent when a withdrawal failed or was abandoned.
	KindWithdrawalRejected = "withdrawal_rejected"
	// KindSubscriptionActivated is sent when the first subscription charge settled.
	KindSubscriptionActivated = "subscription_activated"
	// KindSubscriptionFailed is sent when the subscription charge did not settle.
	KindSubscriptionFailed = "subscription_failed"
	// KindSupportReceived is sent to an author after a support transfer settled.
	KindSupportReceived = "support_received"
	// KindSupportFailed is sent to a supporter whose transfer did not settle.
	KindSupportFailed = "support_failed"
)

// Message describes a notification payload.
type Message struct {
	Kind          string    `json:"kind"`
	Destination   string    `json:"destination"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Body          string    `json:"body"`
	SentAt        time.Time `json:"sentAt"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"destination", message.Destination,
		"correlation_id", message.CorrelationID,
		"body", message.Body)
	return nil
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

// Send delivers to all notifiers even when some fail.
func (m Multi) Send(ctx context.Context, message Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
