package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists settlements and the requests they back. A request and its
// settlement are always written and discarded together.
type Store interface {
	RecordWithdrawal(ctx context.Context, s Settlement, w WithdrawalRequest) error
	RecordSubscription(ctx context.Context, s Settlement, sub Subscription) error
	RecordSettlement(ctx context.Context, s Settlement) error
	// Discard removes a settlement and its request after a failed dispatch.
	Discard(ctx context.Context, correlationID string) error

	Settlement(ctx context.Context, correlationID string) (Settlement, error)
	Withdrawal(ctx context.Context, id string) (WithdrawalRequest, error)
	Subscription(ctx context.Context, id string) (Subscription, error)

	// RecordLeg stores a leg once per (correlation id, kind) and returns the settlement
	// with every leg received so far.
	RecordLeg(ctx context.Context, leg Leg) (Settlement, error)
	// Claim moves a pending settlement to settling. It reports false when the settlement
	// is already terminal.
	Claim(ctx context.Context, correlationID string) (Settlement, bool, error)
	// Resolve applies a Resolution and updates the backing request. It reports false
	// when the settlement was not in an allowed source status.
	Resolve(ctx context.Context, r Resolution) (Settlement, bool, error)
	// Expired lists non-terminal settlements whose deadline is before now.
	Expired(ctx context.Context, now time.Time, limit int) ([]Settlement, error)

	CancelSubscription(ctx context.Context, subscriberID, id string, at time.Time) (Subscription, error)
}

type memoryStore struct {
	mu            sync.RWMutex
	settlements   map[string]*Settlement
	withdrawals   map[string]*WithdrawalRequest
	subscriptions map[string]*Subscription
}

// NewMemoryStore constructs an in-memory store for tests and development.
func NewMemoryStore() Store {
	return &memoryStore{
		settlements:   make(map[string]*Settlement),
		withdrawals:   make(map[string]*WithdrawalRequest),
		subscriptions: make(map[string]*Subscription),
	}
}

func cloneSettlement(s *Settlement) Settlement {
	out := *s
	out.Legs = append([]Leg(nil), s.Legs...)
	return out
}

func (m *memoryStore) RecordWithdrawal(_ context.Context, s Settlement, w WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.settlements[s.CorrelationID]; exists {
		return ErrConflict
	}
	m.settlements[s.CorrelationID] = &s
	m.withdrawals[w.ID] = &w
	return nil
}

func (m *memoryStore) RecordSubscription(_ context.Context, s Settlement, sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.settlements[s.CorrelationID]; exists {
		return ErrConflict
	}
	m.settlements[s.CorrelationID] = &s
	m.subscriptions[sub.ID] = &sub
	return nil
}

func (m *memoryStore) RecordSettlement(_ context.Context, s Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.settlements[s.CorrelationID]; exists {
		return ErrConflict
	}
	m.settlements[s.CorrelationID] = &s
	return nil
}

func (m *memoryStore) Discard(_ context.Context, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settlements[correlationID]
	if !ok {
		return nil
	}
	switch s.Purpose {
	case PurposeWithdrawal:
		delete(m.withdrawals, s.RequestID)
	case PurposeSubscription:
		delete(m.subscriptions, s.RequestID)
	}
	delete(m.settlements, correlationID)
	return nil
}

func (m *memoryStore) Settlement(_ context.Context, correlationID string) (Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settlements[correlationID]
	if !ok {
		return Settlement{}, ErrNotFound
	}
	return cloneSettlement(s), nil
}

func (m *memoryStore) Withdrawal(_ context.Context, id string) (WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return WithdrawalRequest{}, ErrNotFound
	}
	return *w, nil
}

func (m *memoryStore) Subscription(_ context.Context, id string) (Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return *sub, nil
}

func (m *memoryStore) RecordLeg(_ context.Context, leg Leg) (Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settlements[leg.CorrelationID]
	if !ok {
		return Settlement{}, ErrNotFound
	}
	for _, existing := range s.Legs {
		if existing.Kind == leg.Kind {
			return cloneSettlement(s), nil
		}
	}
	if !s.Status.Terminal() {
		s.Legs = append(s.Legs, leg)
	}
	return cloneSettlement(s), nil
}

func (m *memoryStore) Claim(_ context.Context, correlationID string) (Settlement, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settlements[correlationID]
	if !ok {
		return Settlement{}, false, ErrNotFound
	}
	if s.Status.Terminal() {
		return cloneSettlement(s), false, nil
	}
	s.Status = SettlementSettling
	return cloneSettlement(s), true, nil
}

func (m *memoryStore) Resolve(_ context.Context, r Resolution) (Settlement, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settlements[r.CorrelationID]
	if !ok {
		return Settlement{}, false, ErrNotFound
	}
	if !r.allows(s.Status) {
		return cloneSettlement(s), false, nil
	}
	at := r.At.UTC()
	prev := requestStatus(s.Purpose, s.Status)
	s.Status = r.Status
	s.Reason = r.Reason
	s.ResolvedAt = &at

	next := requestStatus(s.Purpose, r.Status)
	switch s.Purpose {
	case PurposeWithdrawal:
		if w, ok := m.withdrawals[s.RequestID]; ok && w.Status == prev {
			w.Status = next
			w.ProcessedAt = &at
		}
	case PurposeSubscription:
		if sub, ok := m.subscriptions[s.RequestID]; ok && sub.Status == prev {
			sub.Status = next
		}
	}
	return cloneSettlement(s), true, nil
}

func (m *memoryStore) Expired(_ context.Context, now time.Time, limit int) ([]Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Settlement
	for _, s := range m.settlements {
		if !s.Status.Terminal() && s.Deadline.Before(now) {
			out = append(out, cloneSettlement(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) CancelSubscription(_ context.Context, subscriberID, id string, at time.Time) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	if !ok || sub.SubscriberID != subscriberID {
		return Subscription{}, ErrNotFound
	}
	if sub.Status != SubscriptionPending && sub.Status != SubscriptionActive {
		return *sub, ErrConflict
	}
	at = at.UTC()
	sub.Status = SubscriptionCancelled
	sub.CancelledAt = &at
	return *sub, nil
}
