package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundflow/internal/ledger"
	"github.com/congo-pay/fundflow/internal/messaging"
	"github.com/congo-pay/fundflow/internal/money"
	"github.com/congo-pay/fundflow/internal/notification"
	"github.com/congo-pay/fundflow/internal/wallet"
)

// PaymentMethods resolves an owner's registered payment methods.
type PaymentMethods interface {
	PaymentMethod(ctx context.Context, ownerID, id string) (wallet.PaymentMethod, error)
}

// Recorder receives coordinator metrics.
type Recorder interface {
	RequestDispatched(purpose string)
	SettlementResolved(purpose, status string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RequestDispatched(string)                         {}
func (nopRecorder) SettlementResolved(string, string, time.Duration) {}

// Config holds the addressing and timing of the coordinator.
type Config struct {
	PaymentQueue      string
	ReplyQueue        string
	SettlementTimeout time.Duration
}

// Service is the transaction coordinator. It records every fund movement intent as a
// settlement, hands the request to the payment service and applies the instructions
// that come back.
type Service struct {
	cfg       Config
	store     Store
	ledger    ledger.Ledger
	methods   PaymentMethods
	publisher messaging.Publisher
	notifier  notification.Notifier
	recorder  Recorder
	log       *slog.Logger
	now       func() time.Time
}

// NewService wires a coordinator. A nil notifier or recorder disables that output.
func NewService(log *slog.Logger, cfg Config, store Store, ledgerBackend ledger.Ledger, methods PaymentMethods,
	publisher messaging.Publisher, notifier notification.Notifier, recorder Recorder) (*Service, error) {
	if store == nil || ledgerBackend == nil || methods == nil || publisher == nil {
		return nil, fmt.Errorf("coordinator: store, ledger, payment methods and publisher are required")
	}
	if cfg.PaymentQueue == "" || cfg.ReplyQueue == "" {
		return nil, fmt.Errorf("coordinator: payment and reply queues are required")
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = 2 * time.Minute
	}
	if notifier == nil {
		notifier = notification.Multi{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		ledger:    ledgerBackend,
		methods:   methods,
		publisher: publisher,
		notifier:  notifier,
		recorder:  recorder,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithdrawalInput captures a withdrawal request.
type WithdrawalInput struct {
	OwnerID         string
	Amount          decimal.Decimal
	Currency        string
	PaymentMethodID string
}

// TransferInput captures a subscription or one-shot support of an author.
type TransferInput struct {
	FromOwnerID     string
	ToOwnerID       string
	Amount          decimal.Decimal
	PaymentMethodID string
}

// RequestWithdrawal records a pending withdrawal and asks the payment service to debit
// the owner. It returns before the debit is applied.
func (s *Service) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (WithdrawalRequest, error) {
	currency, err := s.precheck(ctx, in.OwnerID, in.Amount, in.Currency, in.PaymentMethodID)
	if err != nil {
		return WithdrawalRequest{}, err
	}

	settlement := s.newSettlement(PurposeWithdrawal, IntentDebit, in.OwnerID, "", in.Amount, currency)
	w := WithdrawalRequest{
		ID:              settlement.RequestID,
		OwnerID:         in.OwnerID,
		Amount:          in.Amount,
		Currency:        currency,
		PaymentMethodID: in.PaymentMethodID,
		CorrelationID:   settlement.CorrelationID,
		Status:          WithdrawalPending,
		RequestedAt:     settlement.CreatedAt,
	}
	record := func(ctx context.Context) error { return s.store.RecordWithdrawal(ctx, settlement, w) }
	payload := messaging.DebitRequest{UserID: in.OwnerID, Amount: in.Amount, Currency: currency, SourceDebitID: w.ID}
	if err := s.dispatch(ctx, settlement, record, payload); err != nil {
		return WithdrawalRequest{}, err
	}
	return w, nil
}

// RequestSubscription records a pending subscription and asks the payment service to
// transfer the first charge from the subscriber to the author.
func (s *Service) RequestSubscription(ctx context.Context, in TransferInput) (Subscription, error) {
	currency, err := s.precheckTransfer(ctx, in)
	if err != nil {
		return Subscription{}, err
	}

	settlement := s.newSettlement(PurposeSubscription, IntentTransfer, in.FromOwnerID, in.ToOwnerID, in.Amount, currency)
	sub := Subscription{
		ID:              settlement.RequestID,
		SubscriberID:    in.FromOwnerID,
		AuthorID:        in.ToOwnerID,
		Amount:          in.Amount,
		Currency:        currency,
		PaymentMethodID: in.PaymentMethodID,
		CorrelationID:   settlement.CorrelationID,
		Status:          SubscriptionPending,
		StartedAt:       settlement.CreatedAt,
		NextChargeAt:    settlement.CreatedAt.AddDate(0, 1, 0),
	}
	record := func(ctx context.Context) error { return s.store.RecordSubscription(ctx, settlement, sub) }
	payload := messaging.TransferRequest{FromUserID: in.FromOwnerID, ToUserID: in.ToOwnerID, Amount: in.Amount, Currency: currency}
	if err := s.dispatch(ctx, settlement, record, payload); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// RequestSupport asks the payment service for a one-shot transfer to an author. Only
// the settlement is recorded.
func (s *Service) RequestSupport(ctx context.Context, in TransferInput) (Settlement, error) {
	currency, err := s.precheckTransfer(ctx, in)
	if err != nil {
		return Settlement{}, err
	}

	settlement := s.newSettlement(PurposeSupport, IntentTransfer, in.FromOwnerID, in.ToOwnerID, in.Amount, currency)
	settlement.RequestID = ""
	record := func(ctx context.Context) error { return s.store.RecordSettlement(ctx, settlement) }
	payload := messaging.TransferRequest{FromUserID: in.FromOwnerID, ToUserID: in.ToOwnerID, Amount: in.Amount, Currency: currency}
	if err := s.dispatch(ctx, settlement, record, payload); err != nil {
		return Settlement{}, err
	}
	return settlement, nil
}

// CancelSubscription stops a pending or active subscription of the subscriber.
func (s *Service) CancelSubscription(ctx context.Context, subscriberID, id string) (Subscription, error) {
	return s.store.CancelSubscription(ctx, subscriberID, id, s.now())
}

// Withdrawal returns one of the owner's withdrawal requests.
func (s *Service) Withdrawal(ctx context.Context, ownerID, id string) (WithdrawalRequest, error) {
	w, err := s.store.Withdrawal(ctx, id)
	if err != nil {
		return WithdrawalRequest{}, err
	}
	if w.OwnerID != ownerID {
		return WithdrawalRequest{}, ErrNotFound
	}
	return w, nil
}

// Subscription returns a subscription visible to its subscriber or author.
func (s *Service) Subscription(ctx context.Context, ownerID, id string) (Subscription, error) {
	sub, err := s.store.Subscription(ctx, id)
	if err != nil {
		return Subscription{}, err
	}
	if sub.SubscriberID != ownerID && sub.AuthorID != ownerID {
		return Subscription{}, ErrNotFound
	}
	return sub, nil
}

// Settlement returns a settlement the owner takes part in.
func (s *Service) Settlement(ctx context.Context, ownerID, correlationID string) (Settlement, error) {
	st, err := s.store.Settlement(ctx, correlationID)
	if err != nil {
		return Settlement{}, err
	}
	if !st.involves(ownerID) {
		return Settlement{}, ErrNotFound
	}
	return st, nil
}

func (s *Service) newSettlement(purpose Purpose, kind IntentKind, from, to string, amount decimal.Decimal, currency string) Settlement {
	now := s.now()
	return Settlement{
		CorrelationID: uuid.NewString(),
		Purpose:       purpose,
		RequestID:     uuid.NewString(),
		Kind:          kind,
		FromOwnerID:   from,
		ToOwnerID:     to,
		Amount:        amount,
		Currency:      currency,
		Status:        SettlementPending,
		CreatedAt:     now,
		Deadline:      now.Add(s.cfg.SettlementTimeout),
	}
}

// precheck validates the payer side of a request and returns the currency to charge in.
// The balance check is optimistic; the ledger decides when the instruction arrives.
func (s *Service) precheck(ctx context.Context, ownerID string, amount decimal.Decimal, currency, methodID string) (string, error) {
	if ownerID == "" {
		return "", fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}
	if err := money.Validate(amount); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if currency != "" && !wallet.SupportedCurrency(currency) {
		return "", fmt.Errorf("%w: unsupported currency %s", ErrInvalidRequest, currency)
	}
	if methodID == "" {
		return "", fmt.Errorf("%w: payment method is required", ErrInvalidRequest)
	}
	if _, err := s.methods.PaymentMethod(ctx, ownerID, methodID); err != nil {
		if errors.Is(err, wallet.ErrPaymentMethodNotFound) {
			return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return "", err
	}

	balance, err := s.ledger.Balance(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if balance.LessThan(amount) {
		return "", fmt.Errorf("%w: balance %s is below %s", ledger.ErrInsufficientFunds, balance, amount)
	}

	w, err := s.ledger.Wallet(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if currency != "" && currency != w.Currency {
		return "", fmt.Errorf("%w: wallet holds %s, not %s", ErrInvalidRequest, w.Currency, currency)
	}
	return w.Currency, nil
}

func (s *Service) precheckTransfer(ctx context.Context, in TransferInput) (string, error) {
	if in.ToOwnerID == "" {
		return "", fmt.Errorf("%w: author is required", ErrInvalidRequest)
	}
	if in.FromOwnerID == in.ToOwnerID {
		return "", fmt.Errorf("%w: cannot pay yourself", ErrInvalidRequest)
	}
	currency, err := s.precheck(ctx, in.FromOwnerID, in.Amount, "", in.PaymentMethodID)
	if err != nil {
		return "", err
	}
	author, err := s.ledger.Wallet(ctx, in.ToOwnerID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return "", fmt.Errorf("%w: author %s has no wallet", ErrInvalidRequest, in.ToOwnerID)
		}
		return "", err
	}
	if author.Currency != currency {
		return "", fmt.Errorf("%w: author wallet holds %s, not %s", ErrInvalidRequest, author.Currency, currency)
	}
	return currency, nil
}

// dispatch records first and publishes second. When the publish fails the records are
// discarded again so no request is left waiting for an intent the broker never saw.
func (s *Service) dispatch(ctx context.Context, settlement Settlement, record func(context.Context) error, payload messaging.Payload) error {
	log := s.log.With(
		slog.String("correlation_id", settlement.CorrelationID),
		slog.String("purpose", string(settlement.Purpose)))

	if err := record(ctx); err != nil {
		return fmt.Errorf("record %s: %w", settlement.Purpose, err)
	}

	err := s.publisher.Publish(ctx, s.cfg.PaymentQueue, messaging.Outbound{
		CorrelationID: settlement.CorrelationID,
		ReplyTo:       s.cfg.ReplyQueue,
		Payload:       payload,
	})
	if err != nil {
		log.Error("publish intent failed", "error", err)
		if dErr := s.store.Discard(context.WithoutCancel(ctx), settlement.CorrelationID); dErr != nil {
			log.Error("discard settlement failed", "error", dErr)
		}
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	s.recorder.RequestDispatched(string(settlement.Purpose))
	log.Info("intent dispatched",
		slog.String("kind", string(payload.Kind())),
		slog.String("amount", settlement.Amount.String()))
	return nil
}

// announce reports a settlement that just reached a terminal status.
func (s *Service) announce(ctx context.Context, st Settlement) {
	elapsed := time.Duration(0)
	if st.ResolvedAt != nil {
		elapsed = st.ResolvedAt.Sub(st.CreatedAt)
	}
	s.recorder.SettlementResolved(string(st.Purpose), string(st.Status), elapsed)

	for _, msg := range notificationsFor(st) {
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.log.Warn("notification failed",
				slog.String("correlation_id", st.CorrelationID),
				slog.String("kind", msg.Kind),
				"error", err)
		}
	}
}

func notificationsFor(st Settlement) []notification.Message {
	settled := st.Status == SettlementSettled
	msg := func(kind, destination, body string) notification.Message {
		return notification.Message{Kind: kind, Destination: destination, CorrelationID: st.CorrelationID, Body: body}
	}
	amount := st.Amount.String() + " " + st.Currency

	switch st.Purpose {
	case PurposeWithdrawal:
		if settled {
			return []notification.Message{msg(notification.KindWithdrawalApproved, st.FromOwnerID, "withdrawal of "+amount+" approved")}
		}
		return []notification.Message{msg(notification.KindWithdrawalRejected, st.FromOwnerID, "withdrawal of "+amount+" rejected: "+st.Reason)}
	case PurposeSubscription:
		if settled {
			return []notification.Message{
				msg(notification.KindSubscriptionActivated, st.FromOwnerID, "subscription of "+amount+" is active"),
				msg(notification.KindSubscriptionActivated, st.ToOwnerID, "new subscriber for "+amount),
			}
		}
		return []notification.Message{msg(notification.KindSubscriptionFailed, st.FromOwnerID, "subscription of "+amount+" failed: "+st.Reason)}
	case PurposeSupport:
		if settled {
			return []notification.Message{msg(notification.KindSupportReceived, st.ToOwnerID, "received support of "+amount)}
		}
		return []notification.Message{msg(notification.KindSupportFailed, st.FromOwnerID, "support of "+amount+" failed: "+st.Reason)}
	default:
		return nil
	}
}
