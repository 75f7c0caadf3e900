package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// PostgresLedger persists wallet balances in PostgreSQL. Rows are locked with
// SELECT ... FOR UPDATE and every mutation id is written to ledger_mutations in
// the same transaction as the balance change.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// CreateWallet inserts a zero-balance wallet for the owner.
func (l *PostgresLedger) CreateWallet(ctx context.Context, ownerID, currency string) (Wallet, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	const query = `
        INSERT INTO wallets (owner_id, balance, currency)
        VALUES ($1, 0, $2)
        RETURNING balance::text, currency, created_at, updated_at`
	w := Wallet{OwnerID: ownerID}
	var balance string
	if err := l.db.QueryRow(ctx, query, ownerID, currency).Scan(&balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Wallet{}, ErrWalletExists
		}
		return Wallet{}, err
	}
	var err error
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return Wallet{}, fmt.Errorf("parse balance: %w", err)
	}
	return w, nil
}

// Wallet loads the wallet for the owner.
func (l *PostgresLedger) Wallet(ctx context.Context, ownerID string) (Wallet, error) {
	const query = `SELECT balance::text, currency, created_at, updated_at FROM wallets WHERE owner_id = $1`
	w := Wallet{OwnerID: ownerID}
	var balance string
	if err := l.db.QueryRow(ctx, query, ownerID).Scan(&balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	var err error
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return Wallet{}, fmt.Errorf("parse balance: %w", err)
	}
	return w, nil
}

// Balance returns the current balance, or zero when the owner has no wallet.
func (l *PostgresLedger) Balance(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	w, err := l.Wallet(ctx, ownerID)
	if errors.Is(err, ErrWalletNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// Credit increases the owner's balance once per mutation id.
func (l *PostgresLedger) Credit(ctx context.Context, ownerID, mutationID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.mutate(ctx, ownerID, mutationID, "credit", amount)
}

// Debit decreases the owner's balance once per mutation id, never below zero.
func (l *PostgresLedger) Debit(ctx context.Context, ownerID, mutationID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.mutate(ctx, ownerID, mutationID, "debit", amount)
}

func (l *PostgresLedger) mutate(ctx context.Context, ownerID, mutationID, kind string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validAmount(amount); err != nil {
		return decimal.Zero, err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	balance, err := lockWallet(ctx, tx, ownerID)
	if err != nil {
		return decimal.Zero, err
	}

	seen, err := mutationExists(ctx, tx, mutationID)
	if err != nil {
		return decimal.Zero, err
	}
	if seen {
		return balance, ErrDuplicateMutation
	}

	next := balance.Add(amount)
	if kind == "debit" {
		if balance.LessThan(amount) {
			return balance, ErrInsufficientFunds
		}
		next = balance.Sub(amount)
	}

	if err := updateBalance(ctx, tx, ownerID, next); err != nil {
		return decimal.Zero, err
	}
	if err := recordMutation(ctx, tx, mutationID, ownerID, kind, amount); err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// Transfer moves amount between two wallets in one transaction. Both rows are
// locked in owner id order to avoid deadlocks between opposite transfers.
func (l *PostgresLedger) Transfer(ctx context.Context, fromID, toID, mutationID string, amount decimal.Decimal) (TransferResult, error) {
	if err := validAmount(amount); err != nil {
		return TransferResult{}, err
	}
	if fromID == toID {
		return TransferResult{}, ErrSelfTransfer
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TransferResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	first, second := fromID, toID
	if first > second {
		first, second = second, first
	}
	balances := make(map[string]decimal.Decimal, 2)
	for _, owner := range []string{first, second} {
		b, err := lockWallet(ctx, tx, owner)
		if err != nil {
			return TransferResult{}, err
		}
		balances[owner] = b
	}

	seen, err := mutationExists(ctx, tx, mutationID)
	if err != nil {
		return TransferResult{}, err
	}
	if seen {
		return TransferResult{MutationID: mutationID, FromBalance: balances[fromID], ToBalance: balances[toID]}, ErrDuplicateMutation
	}

	if balances[fromID].LessThan(amount) {
		return TransferResult{}, ErrInsufficientFunds
	}

	fromBalance := balances[fromID].Sub(amount)
	if err := updateBalance(ctx, tx, fromID, fromBalance); err != nil {
		return TransferResult{}, err
	}
	toBalance := balances[toID].Add(amount)
	if err := updateBalance(ctx, tx, toID, toBalance); err != nil {
		return TransferResult{}, err
	}

	if err := recordMutation(ctx, tx, mutationID, fromID, "transfer", amount); err != nil {
		return TransferResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return TransferResult{}, err
	}

	return TransferResult{MutationID: mutationID, FromBalance: fromBalance, ToBalance: toBalance}, nil
}

// Applied reports whether the mutation id has been committed.
func (l *PostgresLedger) Applied(ctx context.Context, mutationID string) (bool, error) {
	var exists bool
	if err := l.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_mutations WHERE mutation_id = $1)`, mutationID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func lockWallet(ctx context.Context, tx pgx.Tx, ownerID string) (decimal.Decimal, error) {
	const query = `SELECT balance::text FROM wallets WHERE owner_id = $1 FOR UPDATE`
	var raw string
	if err := tx.QueryRow(ctx, query, ownerID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrWalletNotFound
		}
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance for %s: %w", ownerID, err)
	}
	return balance, nil
}

func mutationExists(ctx context.Context, tx pgx.Tx, mutationID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_mutations WHERE mutation_id = $1)`, mutationID).Scan(&exists)
	return exists, err
}

func updateBalance(ctx context.Context, tx pgx.Tx, ownerID string, balance decimal.Decimal) error {
	_, err := tx.Exec(ctx, `UPDATE wallets SET balance = $2::numeric, updated_at = $3 WHERE owner_id = $1`,
		ownerID, balance.String(), time.Now().UTC())
	return err
}

func recordMutation(ctx context.Context, tx pgx.Tx, mutationID, ownerID, kind string, amount decimal.Decimal) error {
	tag, err := tx.Exec(ctx, `INSERT INTO ledger_mutations (mutation_id, owner_id, kind, amount)
        VALUES ($1, $2, $3, $4::numeric) ON CONFLICT (mutation_id) DO NOTHING`,
		mutationID, ownerID, kind, amount.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateMutation
	}
	return nil
}
