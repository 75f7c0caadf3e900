package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists payment methods. Implementations keep at most one default
// method per owner and make the first registered method the default.
type Repository interface {
	Add(ctx context.Context, method PaymentMethod) (PaymentMethod, error)
	List(ctx context.Context, ownerID string) ([]PaymentMethod, error)
	Get(ctx context.Context, ownerID, id string) (PaymentMethod, error)
	Remove(ctx context.Context, ownerID, id string) error
	SetDefault(ctx context.Context, ownerID, id string) (PaymentMethod, error)
}

// PostgresRepository stores payment methods in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const methodColumns = `id, owner_id, kind, masked_details, is_default, created_at, updated_at`

func scanMethod(row pgx.Row) (PaymentMethod, error) {
	var m PaymentMethod
	var id uuid.UUID
	if err := row.Scan(&id, &m.OwnerID, &m.Kind, &m.MaskedDetails, &m.IsDefault, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentMethod{}, ErrPaymentMethodNotFound
		}
		return PaymentMethod{}, err
	}
	m.ID = id.String()
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

// lockOwner serialises payment method changes of one owner for the rest of the transaction.
func lockOwner(ctx context.Context, tx pgx.Tx, ownerID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID)
	return err
}

// Add inserts a method, marking it default when the owner has none yet.
func (r *PostgresRepository) Add(ctx context.Context, method PaymentMethod) (PaymentMethod, error) {
	id, err := uuid.Parse(method.ID)
	if err != nil {
		return PaymentMethod{}, err
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PaymentMethod{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := lockOwner(ctx, tx, method.OwnerID); err != nil {
		return PaymentMethod{}, err
	}
	var existing int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM payment_methods WHERE owner_id = $1`, method.OwnerID).Scan(&existing); err != nil {
		return PaymentMethod{}, err
	}
	method.IsDefault = existing == 0

	if _, err := tx.Exec(ctx, `INSERT INTO payment_methods (`+methodColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, method.OwnerID, method.Kind, method.MaskedDetails, method.IsDefault, method.CreatedAt.UTC(), method.UpdatedAt.UTC()); err != nil {
		return PaymentMethod{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return PaymentMethod{}, err
	}
	return method, nil
}

// List returns the owner's methods, oldest first.
func (r *PostgresRepository) List(ctx context.Context, ownerID string) ([]PaymentMethod, error) {
	rows, err := r.db.Query(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	methods := []PaymentMethod{}
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// Get fetches one of the owner's methods.
func (r *PostgresRepository) Get(ctx context.Context, ownerID, id string) (PaymentMethod, error) {
	methodID, err := uuid.Parse(id)
	if err != nil {
		return PaymentMethod{}, ErrPaymentMethodNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE id = $1 AND owner_id = $2`, methodID, ownerID)
	return scanMethod(row)
}

// Remove deletes a method. When the default is removed the oldest remaining method
// becomes the default.
func (r *PostgresRepository) Remove(ctx context.Context, ownerID, id string) error {
	methodID, err := uuid.Parse(id)
	if err != nil {
		return ErrPaymentMethodNotFound
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := lockOwner(ctx, tx, ownerID); err != nil {
		return err
	}
	var wasDefault bool
	if err := tx.QueryRow(ctx, `DELETE FROM payment_methods WHERE id = $1 AND owner_id = $2 RETURNING is_default`, methodID, ownerID).Scan(&wasDefault); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPaymentMethodNotFound
		}
		return err
	}
	if wasDefault {
		if _, err := tx.Exec(ctx, `UPDATE payment_methods SET is_default = TRUE, updated_at = $2
            WHERE id = (SELECT id FROM payment_methods WHERE owner_id = $1 ORDER BY created_at LIMIT 1)`,
			ownerID, time.Now().UTC()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// SetDefault makes id the only default method of the owner.
func (r *PostgresRepository) SetDefault(ctx context.Context, ownerID, id string) (PaymentMethod, error) {
	methodID, err := uuid.Parse(id)
	if err != nil {
		return PaymentMethod{}, ErrPaymentMethodNotFound
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PaymentMethod{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := lockOwner(ctx, tx, ownerID); err != nil {
		return PaymentMethod{}, err
	}
	now := time.Now().UTC()
	if _, err := scanMethod(tx.QueryRow(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE id = $1 AND owner_id = $2`, methodID, ownerID)); err != nil {
		return PaymentMethod{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE payment_methods SET is_default = FALSE, updated_at = $2
        WHERE owner_id = $1 AND is_default`, ownerID, now); err != nil {
		return PaymentMethod{}, err
	}
	method, err := scanMethod(tx.QueryRow(ctx, `UPDATE payment_methods SET is_default = TRUE, updated_at = $3
        WHERE id = $1 AND owner_id = $2 RETURNING `+methodColumns, methodID, ownerID, now))
	if err != nil {
		return PaymentMethod{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return PaymentMethod{}, err
	}
	return method, nil
}
