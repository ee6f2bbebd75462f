package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tourhub/booking-backend/internal/models"
)

// BookingRepository handles booking database operations
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingSelect = `
	SELECT b.id, b.user_id, b.service_id, b.package_id, b.time_slot_id,
	       b.given_name, b.surname, b.other_names, b.contact_number, b.email,
	       b.full_contact_address, b.num_adults, b.num_children, b.start_date, b.end_date,
	       b.notes, b.is_tnc_accepted, b.status, b.payment_status, b.admin_note,
	       b.created_at, b.updated_at,
	       s.title AS service_title, s.operator_id, s.price AS service_price,
	       p.price AS package_price
	FROM bookings b
	JOIN services s ON s.id = b.service_id
	LEFT JOIN packages p ON p.id = b.package_id`

// Create inserts a booking inside the caller's transaction
func (r *BookingRepository) Create(ctx context.Context, tx *sqlx.Tx, booking *models.Booking) error {
	query := `
		INSERT INTO bookings (
			user_id, service_id, package_id, time_slot_id,
			given_name, surname, other_names, contact_number, email, full_contact_address,
			num_adults, num_children, start_date, end_date, notes, is_tnc_accepted,
			status, payment_status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
		RETURNING id, created_at, updated_at`

	err := tx.QueryRowxContext(ctx, query,
		booking.UserID, booking.ServiceID, booking.PackageID, booking.TimeSlotID,
		booking.GivenName, booking.Surname, booking.OtherNames, booking.ContactNumber,
		booking.Email, booking.FullContactAddress,
		booking.NumAdults, booking.NumChildren, booking.StartDate, booking.EndDate,
		booking.Notes, booking.IsTnCAccepted,
		booking.Status, booking.PaymentStatus,
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// GetByID returns a booking or nil when it does not exist
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.GetContext(ctx, &booking, bookingSelect+` WHERE b.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// LockByID acquires the booking row for the rest of the transaction
func (r *BookingRepository) LockByID(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Booking, error) {
	var booking models.Booking
	if err := tx.GetContext(ctx, &booking, bookingSelect+` WHERE b.id = $1 FOR UPDATE OF b`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}
	return &booking, nil
}

// UpdateState persists status, payment status and admin note of a locked booking
func (r *BookingRepository) UpdateState(ctx context.Context, tx *sqlx.Tx, booking *models.Booking) error {
	query := `
		UPDATE bookings
		SET status = $2, payment_status = $3, admin_note = $4, updated_at = NOW()
		WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, booking.ID, booking.Status, booking.PaymentStatus, booking.AdminNote)
	if err != nil {
		return fmt.Errorf("failed to update booking state: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("booking %d not found", booking.ID)
	}
	return nil
}

// ListByUser returns a customer's bookings, newest first
func (r *BookingRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Booking, error) {
	bookings := []models.Booking{}
	if err := r.db.SelectContext(ctx, &bookings, bookingSelect+` WHERE b.user_id = $1 ORDER BY b.created_at DESC`, userID); err != nil {
		return nil, fmt.Errorf("failed to list user bookings: %w", err)
	}
	return bookings, nil
}

// ListByOperator returns bookings for every service the operator owns, newest first
func (r *BookingRepository) ListByOperator(ctx context.Context, operatorID uuid.UUID) ([]models.Booking, error) {
	bookings := []models.Booking{}
	if err := r.db.SelectContext(ctx, &bookings, bookingSelect+` WHERE s.operator_id = $1 ORDER BY b.created_at DESC`, operatorID); err != nil {
		return nil, fmt.Errorf("failed to list operator bookings: %w", err)
	}
	return bookings, nil
}

// ListAll returns every booking, newest first, optionally filtered by status
func (r *BookingRepository) ListAll(ctx context.Context, status string, limit, offset int) ([]models.Booking, error) {
	bookings := []models.Booking{}
	query := bookingSelect + `
		WHERE ($1 = '' OR b.status = $1)
		ORDER BY b.created_at DESC
		LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &bookings, query, status, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// GetGuestBooking returns a guest booking matching id and email (case-insensitive)
func (r *BookingRepository) GetGuestBooking(ctx context.Context, id int64, email string) (*models.Booking, error) {
	var booking models.Booking
	query := bookingSelect + ` WHERE b.id = $1 AND b.user_id IS NULL AND LOWER(b.email) = LOWER($2)`
	if err := r.db.GetContext(ctx, &booking, query, id, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get guest booking: %w", err)
	}
	return &booking, nil
}
