package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/tourhub/booking-backend/internal/models"
)

// TransactionRepository handles payment attempt rows
type TransactionRepository struct {
	db *sqlx.DB
}

// NewTransactionRepository creates a new TransactionRepository
func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `
	id, booking_id, reference, amount, provider, status, provider_reference,
	flutterwave_id, receipt_path, receipt_digest, meta, created_at, updated_at`

// Create inserts a new transaction
func (r *TransactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	if txn.Meta == nil {
		txn.Meta = models.JSONB{}
	}
	query := `
		INSERT INTO transactions (booking_id, reference, amount, provider, status, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowxContext(ctx, query,
		txn.BookingID, txn.Reference, txn.Amount, txn.Provider, txn.Status, txn.Meta,
	).Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetByReference returns a transaction or nil when the reference is unknown
func (r *TransactionRepository) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1`
	if err := r.db.GetContext(ctx, &txn, query, reference); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &txn, nil
}

// LockByReference acquires the transaction row for the rest of the transaction
func (r *TransactionRepository) LockByReference(ctx context.Context, tx *sqlx.Tx, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &txn, query, reference); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock transaction: %w", err)
	}
	return &txn, nil
}

// UpdateStatus sets the status of a locked transaction
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id int64, status models.TransactionStatus) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("transaction %d not found", id)
	}
	return nil
}

// MergeMeta adds keys to the metadata blob. Existing keys not in patch are kept.
func (r *TransactionRepository) MergeMeta(ctx context.Context, exec sqlx.ExecerContext, reference string, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal meta patch: %w", err)
	}
	query := `
		UPDATE transactions
		SET meta = COALESCE(meta, '{}'::jsonb) || $2::jsonb, updated_at = NOW()
		WHERE reference = $1`
	if _, err := exec.ExecContext(ctx, query, reference, string(body)); err != nil {
		return fmt.Errorf("failed to merge transaction meta: %w", err)
	}
	return nil
}

// SetFlutterwaveID records the gateway-assigned id if none is stored yet
func (r *TransactionRepository) SetFlutterwaveID(ctx context.Context, reference, flutterwaveID string) error {
	query := `
		UPDATE transactions
		SET flutterwave_id = $2, updated_at = NOW()
		WHERE reference = $1 AND (flutterwave_id IS NULL OR flutterwave_id = '')`
	if _, err := r.db.ExecContext(ctx, query, reference, flutterwaveID); err != nil {
		return fmt.Errorf("failed to set flutterwave id: %w", err)
	}
	return nil
}

// AttachReceipt stores the receipt location on a pending bank transfer.
// Returns false when the transaction is no longer a pending bank transfer.
func (r *TransactionRepository) AttachReceipt(ctx context.Context, reference, path, digest string) (bool, error) {
	query := `
		UPDATE transactions
		SET receipt_path = $2, receipt_digest = $3, updated_at = NOW()
		WHERE reference = $1 AND provider = 'bank_transfer' AND status = 'pending'`
	result, err := r.db.ExecContext(ctx, query, reference, path, digest)
	if err != nil {
		return false, fmt.Errorf("failed to attach receipt: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ListByProviderAndStatus returns transactions of a provider in any of the given statuses, oldest first
func (r *TransactionRepository) ListByProviderAndStatus(ctx context.Context, provider models.TransactionProvider, statuses ...models.TransactionStatus) ([]models.Transaction, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	txns := []models.Transaction{}
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE provider = $1 AND status = ANY($2)
		ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &txns, query, provider, pq.Array(values)); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

// ListByBooking returns all attempts for a booking, newest first
func (r *TransactionRepository) ListByBooking(ctx context.Context, bookingID int64) ([]models.Transaction, error) {
	txns := []models.Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE booking_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &txns, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to list booking transactions: %w", err)
	}
	return txns, nil
}
