package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundflow/internal/messaging"
)

var (
	// ErrNotFound is returned for unknown or foreign records.
	ErrNotFound = errors.New("not found")
	// ErrServiceUnavailable means the request could not be handed to the broker; nothing was recorded.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrInvalidRequest rejects malformed caller input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrConflict rejects a state transition from a terminal state.
	ErrConflict = errors.New("conflict")
)

// Purpose names the caller operation behind a settlement.
type Purpose string

const (
	PurposeWithdrawal   Purpose = "withdrawal"
	PurposeSubscription Purpose = "subscription"
	PurposeSupport      Purpose = "support"
)

// IntentKind is the shape of the fund movement requested from the payment service.
type IntentKind string

const (
	IntentCredit   IntentKind = "credit"
	IntentDebit    IntentKind = "debit"
	IntentTransfer IntentKind = "transfer"
)

// SettlementStatus tracks an intent from dispatch to a terminal outcome.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementSettling  SettlementStatus = "settling"
	SettlementSettled   SettlementStatus = "settled"
	SettlementFailed    SettlementStatus = "failed"
	SettlementAbandoned SettlementStatus = "abandoned"
)

// Terminal reports whether no further transition is possible.
func (s SettlementStatus) Terminal() bool {
	return s == SettlementSettled || s == SettlementFailed || s == SettlementAbandoned
}

// Leg kinds.
const (
	LegDebit  = "debit"
	LegCredit = "credit"
)

// Leg is one received instruction of a settlement.
type Leg struct {
	CorrelationID string          `json:"correlationId"`
	Kind          string          `json:"kind"`
	OwnerID       string          `json:"ownerId"`
	Amount        decimal.Decimal `json:"amount"`
	ReceivedAt    time.Time       `json:"receivedAt"`
}

// Settlement is the durable record of one fund movement intent.
type Settlement struct {
	CorrelationID string           `json:"correlationId"`
	Purpose       Purpose          `json:"purpose"`
	RequestID     string           `json:"requestId,omitempty"`
	Kind          IntentKind       `json:"kind"`
	FromOwnerID   string           `json:"fromOwnerId,omitempty"`
	ToOwnerID     string           `json:"toOwnerId,omitempty"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      string           `json:"currency"`
	Status        SettlementStatus `json:"status"`
	Reason        string           `json:"reason,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	Deadline      time.Time        `json:"deadline"`
	ResolvedAt    *time.Time       `json:"resolvedAt,omitempty"`
	Legs          []Leg            `json:"legs"`
}

// RequiredLegs is the number of instructions that settle the intent.
func (s Settlement) RequiredLegs() int {
	if s.Kind == IntentTransfer {
		return 2
	}
	return 1
}

// Complete reports whether every required leg was received.
func (s Settlement) Complete() bool {
	return len(s.Legs) >= s.RequiredLegs()
}

// MutationID is the ledger mutation id applied for this settlement.
func (s Settlement) MutationID() string {
	return s.CorrelationID + ":" + string(s.Kind)
}

// involves reports whether owner is a party of the settlement.
func (s Settlement) involves(ownerID string) bool {
	return ownerID != "" && (s.FromOwnerID == ownerID || s.ToOwnerID == ownerID)
}

// accepts checks that an instruction matches what the intent asked for.
func (s Settlement) accepts(in incoming) error {
	leg := in.leg
	if in.legs != s.RequiredLegs() {
		return fmt.Errorf("instruction declares %d legs, settlement needs %d", in.legs, s.RequiredLegs())
	}
	if in.currency != s.Currency {
		return fmt.Errorf("instruction currency %s does not match %s", in.currency, s.Currency)
	}
	if !leg.Amount.Equal(s.Amount) {
		return fmt.Errorf("instruction amount %s does not match %s", leg.Amount, s.Amount)
	}
	switch leg.Kind {
	case LegDebit:
		if s.Kind == IntentCredit || leg.OwnerID != s.FromOwnerID {
			return fmt.Errorf("unexpected debit leg for %s", leg.OwnerID)
		}
	case LegCredit:
		if s.Kind == IntentDebit || leg.OwnerID != s.ToOwnerID {
			return fmt.Errorf("unexpected credit leg for %s", leg.OwnerID)
		}
	default:
		return fmt.Errorf("unknown leg kind %q", leg.Kind)
	}
	return nil
}

// incoming is a received leg together with what its message declared.
type incoming struct {
	leg      Leg
	legs     int
	currency string
}

func incomingFromMessage(msg messaging.Message, now time.Time) (incoming, error) {
	switch p := msg.Payload.(type) {
	case messaging.DebitInstruction:
		return incoming{
			leg:      Leg{CorrelationID: msg.CorrelationID, Kind: LegDebit, OwnerID: p.UserID, Amount: p.Amount, ReceivedAt: now},
			legs:     p.Legs,
			currency: p.Currency,
		}, nil
	case messaging.CreditInstruction:
		return incoming{
			leg:      Leg{CorrelationID: msg.CorrelationID, Kind: LegCredit, OwnerID: p.UserID, Amount: p.Amount, ReceivedAt: now},
			legs:     p.Legs,
			currency: p.Currency,
		}, nil
	default:
		return incoming{}, fmt.Errorf("%s is not an instruction", msg.Payload.Kind())
	}
}

// WithdrawalStatus values.
const (
	WithdrawalPending  = "pending"
	WithdrawalApproved = "approved"
	WithdrawalRejected = "rejected"
)

// WithdrawalRequest is an owner's request to move funds out to a payment method.
type WithdrawalRequest struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"ownerId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaymentMethodID string          `json:"paymentMethodId"`
	CorrelationID   string          `json:"correlationId"`
	Status          string          `json:"status"`
	RequestedAt     time.Time       `json:"requestedAt"`
	ProcessedAt     *time.Time      `json:"processedAt,omitempty"`
}

// SubscriptionStatus values.
const (
	SubscriptionPending   = "pending"
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
	SubscriptionFailed    = "failed"
)

// Subscription is a recurring support of an author.
type Subscription struct {
	ID              string          `json:"id"`
	SubscriberID    string          `json:"subscriberId"`
	AuthorID        string          `json:"authorId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaymentMethodID string          `json:"paymentMethodId"`
	CorrelationID   string          `json:"correlationId"`
	Status          string          `json:"status"`
	StartedAt       time.Time       `json:"startedAt"`
	CancelledAt     *time.Time      `json:"cancelledAt,omitempty"`
	NextChargeAt    time.Time       `json:"nextChargeAt"`
}

// requestStatus maps a settlement status onto the status of the request it backs. A
// request follows its settlement only while it still shows the settlement's previous
// status, so a cancelled subscription stays cancelled.
func requestStatus(purpose Purpose, status SettlementStatus) string {
	switch purpose {
	case PurposeWithdrawal:
		if !status.Terminal() {
			return WithdrawalPending
		}
		if status == SettlementSettled {
			return WithdrawalApproved
		}
		return WithdrawalRejected
	case PurposeSubscription:
		if !status.Terminal() {
			return SubscriptionPending
		}
		if status == SettlementSettled {
			return SubscriptionActive
		}
		return SubscriptionFailed
	default:
		return ""
	}
}

// Resolution moves a settlement to a terminal status when it is currently in one of From.
type Resolution struct {
	CorrelationID string
	Status        SettlementStatus
	Reason        string
	At            time.Time
	From          []SettlementStatus
}

func (r Resolution) allows(current SettlementStatus) bool {
	for _, s := range r.From {
		if s == current {
			return true
		}
	}
	return false
}
