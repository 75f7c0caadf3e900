package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists settlements, legs, withdrawals and subscriptions in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const settlementColumns = `correlation_id, purpose, request_id, kind, from_owner_id, to_owner_id,
        amount::text, currency, status, reason, created_at, deadline, resolved_at`

const withdrawalColumns = `id::text, owner_id, amount::text, currency, payment_method_id, correlation_id,
        status, requested_at, processed_at`

const subscriptionColumns = `id::text, subscriber_id, author_id, amount::text, currency, payment_method_id,
        correlation_id, status, started_at, cancelled_at, next_charge_at`

func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return d, nil
}

func scanSettlement(row pgx.Row) (Settlement, error) {
	var s Settlement
	var amount string
	var purpose, kind, status string
	err := row.Scan(&s.CorrelationID, &purpose, &s.RequestID, &kind, &s.FromOwnerID, &s.ToOwnerID,
		&amount, &s.Currency, &status, &s.Reason, &s.CreatedAt, &s.Deadline, &s.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settlement{}, ErrNotFound
		}
		return Settlement{}, err
	}
	s.Purpose, s.Kind, s.Status = Purpose(purpose), IntentKind(kind), SettlementStatus(status)
	if s.Amount, err = parseAmount(amount); err != nil {
		return Settlement{}, err
	}
	return s, nil
}

func scanWithdrawal(row pgx.Row) (WithdrawalRequest, error) {
	var w WithdrawalRequest
	var amount string
	err := row.Scan(&w.ID, &w.OwnerID, &amount, &w.Currency, &w.PaymentMethodID, &w.CorrelationID,
		&w.Status, &w.RequestedAt, &w.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WithdrawalRequest{}, ErrNotFound
		}
		return WithdrawalRequest{}, err
	}
	if w.Amount, err = parseAmount(amount); err != nil {
		return WithdrawalRequest{}, err
	}
	return w, nil
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var s Subscription
	var amount string
	err := row.Scan(&s.ID, &s.SubscriberID, &s.AuthorID, &amount, &s.Currency, &s.PaymentMethodID,
		&s.CorrelationID, &s.Status, &s.StartedAt, &s.CancelledAt, &s.NextChargeAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, err
	}
	if s.Amount, err = parseAmount(amount); err != nil {
		return Subscription{}, err
	}
	return s, nil
}

func insertSettlement(ctx context.Context, tx pgx.Tx, s Settlement) error {
	_, err := tx.Exec(ctx, `INSERT INTO settlements (correlation_id, purpose, request_id, kind, from_owner_id,
            to_owner_id, amount, currency, status, reason, created_at, deadline)
        VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, '', $10, $11)`,
		s.CorrelationID, string(s.Purpose), s.RequestID, string(s.Kind), s.FromOwnerID, s.ToOwnerID,
		s.Amount.String(), s.Currency, string(s.Status), s.CreatedAt.UTC(), s.Deadline.UTC())
	return err
}

func (p *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordWithdrawal writes the settlement and the withdrawal request in one transaction.
func (p *PostgresStore) RecordWithdrawal(ctx context.Context, s Settlement, w WithdrawalRequest) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertSettlement(ctx, tx, s); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO withdrawal_requests (id, owner_id, amount, currency, payment_method_id,
                correlation_id, status, requested_at)
            VALUES ($1::uuid, $2, $3::numeric, $4, $5, $6, $7, $8)`,
			w.ID, w.OwnerID, w.Amount.String(), w.Currency, w.PaymentMethodID, w.CorrelationID, w.Status, w.RequestedAt.UTC())
		return err
	})
}

// RecordSubscription writes the settlement and the subscription in one transaction.
func (p *PostgresStore) RecordSubscription(ctx context.Context, s Settlement, sub Subscription) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertSettlement(ctx, tx, s); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO subscriptions (id, subscriber_id, author_id, amount, currency,
                payment_method_id, correlation_id, status, started_at, next_charge_at)
            VALUES ($1::uuid, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10)`,
			sub.ID, sub.SubscriberID, sub.AuthorID, sub.Amount.String(), sub.Currency, sub.PaymentMethodID,
			sub.CorrelationID, sub.Status, sub.StartedAt.UTC(), sub.NextChargeAt.UTC())
		return err
	})
}

// RecordSettlement writes a settlement without a backing request.
func (p *PostgresStore) RecordSettlement(ctx context.Context, s Settlement) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		return insertSettlement(ctx, tx, s)
	})
}

// Discard deletes the settlement, its legs and its request.
func (p *PostgresStore) Discard(ctx context.Context, correlationID string) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM withdrawal_requests WHERE correlation_id = $1`, correlationID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM subscriptions WHERE correlation_id = $1`, correlationID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM settlements WHERE correlation_id = $1`, correlationID)
		return err
	})
}

// Settlement loads a settlement with its legs.
func (p *PostgresStore) Settlement(ctx context.Context, correlationID string) (Settlement, error) {
	s, err := scanSettlement(p.db.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE correlation_id = $1`, correlationID))
	if err != nil {
		return Settlement{}, err
	}
	if s.Legs, err = loadLegs(ctx, p.db, correlationID); err != nil {
		return Settlement{}, err
	}
	return s, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLegs(ctx context.Context, q querier, correlationID string) ([]Leg, error) {
	rows, err := q.Query(ctx, `SELECT kind, owner_id, amount::text, received_at
        FROM settlement_legs WHERE correlation_id = $1 ORDER BY received_at`, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var legs []Leg
	for rows.Next() {
		leg := Leg{CorrelationID: correlationID}
		var amount string
		if err := rows.Scan(&leg.Kind, &leg.OwnerID, &amount, &leg.ReceivedAt); err != nil {
			return nil, err
		}
		if leg.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}

// Withdrawal loads a withdrawal request.
func (p *PostgresStore) Withdrawal(ctx context.Context, id string) (WithdrawalRequest, error) {
	return scanWithdrawal(p.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id::text = $1`, id))
}

// Subscription loads a subscription.
func (p *PostgresStore) Subscription(ctx context.Context, id string) (Subscription, error) {
	return scanSubscription(p.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id::text = $1`, id))
}

func lockSettlement(ctx context.Context, tx pgx.Tx, correlationID string) (Settlement, error) {
	return scanSettlement(tx.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements
        WHERE correlation_id = $1 FOR UPDATE`, correlationID))
}

// RecordLeg stores the leg under the settlement row lock so concurrent legs observe each other.
func (p *PostgresStore) RecordLeg(ctx context.Context, leg Leg) (Settlement, error) {
	var out Settlement
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		s, err := lockSettlement(ctx, tx, leg.CorrelationID)
		if err != nil {
			return err
		}
		if !s.Status.Terminal() {
			if _, err := tx.Exec(ctx, `INSERT INTO settlement_legs (correlation_id, kind, owner_id, amount, received_at)
                VALUES ($1, $2, $3, $4::numeric, $5) ON CONFLICT (correlation_id, kind) DO NOTHING`,
				leg.CorrelationID, leg.Kind, leg.OwnerID, leg.Amount.String(), leg.ReceivedAt.UTC()); err != nil {
				return err
			}
		}
		if s.Legs, err = loadLegs(ctx, tx, leg.CorrelationID); err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// Claim moves a non-terminal settlement to settling.
func (p *PostgresStore) Claim(ctx context.Context, correlationID string) (Settlement, bool, error) {
	var out Settlement
	var claimed bool
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		s, err := lockSettlement(ctx, tx, correlationID)
		if err != nil {
			return err
		}
		out = s
		if s.Status.Terminal() {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE settlements SET status = $2 WHERE correlation_id = $1`,
			correlationID, string(SettlementSettling)); err != nil {
			return err
		}
		out.Status = SettlementSettling
		claimed = true
		return nil
	})
	return out, claimed, err
}

// Resolve moves the settlement to a terminal status and updates its pending request.
func (p *PostgresStore) Resolve(ctx context.Context, r Resolution) (Settlement, bool, error) {
	var out Settlement
	var resolved bool
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		s, err := lockSettlement(ctx, tx, r.CorrelationID)
		if err != nil {
			return err
		}
		out = s
		if !r.allows(s.Status) {
			return nil
		}
		at := r.At.UTC()
		if _, err := tx.Exec(ctx, `UPDATE settlements SET status = $2, reason = $3, resolved_at = $4
            WHERE correlation_id = $1`, r.CorrelationID, string(r.Status), r.Reason, at); err != nil {
			return err
		}
		prev, next := requestStatus(s.Purpose, s.Status), requestStatus(s.Purpose, r.Status)
		switch s.Purpose {
		case PurposeWithdrawal:
			_, err = tx.Exec(ctx, `UPDATE withdrawal_requests SET status = $2, processed_at = $3
                WHERE correlation_id = $1 AND status = $4`, r.CorrelationID, next, at, prev)
		case PurposeSubscription:
			_, err = tx.Exec(ctx, `UPDATE subscriptions SET status = $2
                WHERE correlation_id = $1 AND status = $3`, r.CorrelationID, next, prev)
		}
		if err != nil {
			return err
		}
		out.Status, out.Reason, out.ResolvedAt = r.Status, r.Reason, &at
		resolved = true
		return nil
	})
	return out, resolved, err
}

// Expired lists non-terminal settlements past their deadline, oldest first.
func (p *PostgresStore) Expired(ctx context.Context, now time.Time, limit int) ([]Settlement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.Query(ctx, `SELECT `+settlementColumns+` FROM settlements
        WHERE status IN ('pending', 'settling') AND deadline < $1
        ORDER BY deadline LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CancelSubscription cancels a pending or active subscription owned by subscriberID.
func (p *PostgresStore) CancelSubscription(ctx context.Context, subscriberID, id string, at time.Time) (Subscription, error) {
	var out Subscription
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		sub, err := scanSubscription(tx.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
            WHERE id::text = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if sub.SubscriberID != subscriberID {
			return ErrNotFound
		}
		out = sub
		if sub.Status != SubscriptionPending && sub.Status != SubscriptionActive {
			return ErrConflict
		}
		at := at.UTC()
		if _, err := tx.Exec(ctx, `UPDATE subscriptions SET status = $2, cancelled_at = $3 WHERE id::text = $1`,
			id, SubscriptionCancelled, at); err != nil {
			return err
		}
		out.Status, out.CancelledAt = SubscriptionCancelled, &at
		return nil
	})
	return out, err
}
