package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/tourhub/booking-backend/internal/models"
)

// PaymentRepository handles the one-per-booking payment record
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Upsert writes the paid record for a booking, replacing any earlier one
func (r *PaymentRepository) Upsert(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	query := `
		INSERT INTO payments (booking_id, amount, provider, status, reference, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (booking_id) DO UPDATE
		SET amount = EXCLUDED.amount,
		    provider = EXCLUDED.provider,
		    status = EXCLUDED.status,
		    reference = EXCLUDED.reference,
		    paid_at = EXCLUDED.paid_at
		RETURNING id`
	err := tx.QueryRowxContext(ctx, query,
		payment.BookingID, payment.Amount, payment.Provider, payment.Status, payment.Reference, payment.PaidAt,
	).Scan(&payment.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert payment: %w", err)
	}
	return nil
}

// GetByBookingID returns the payment of a booking or nil when there is none
func (r *PaymentRepository) GetByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error) {
	var payment models.Payment
	query := `
		SELECT id, booking_id, amount, provider, status, reference, paid_at
		FROM payments
		WHERE booking_id = $1`
	if err := r.db.GetContext(ctx, &payment, query, bookingID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

// ListDivergences returns paid payments whose booking is not marked paid
func (r *PaymentRepository) ListDivergences(ctx context.Context) ([]models.PaymentDivergence, error) {
	divergences := []models.PaymentDivergence{}
	query := `
		SELECT p.booking_id, p.reference, b.status AS booking_status, b.payment_status
		FROM payments p
		JOIN bookings b ON b.id = p.booking_id
		WHERE p.status = 'paid' AND b.payment_status <> 'paid'
		ORDER BY p.paid_at`
	if err := r.db.SelectContext(ctx, &divergences, query); err != nil {
		return nil, fmt.Errorf("failed to list payment divergences: %w", err)
	}
	return divergences, nil
}
