package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tourhub/booking-backend/internal/models"
)

// ServiceRepository reads services and packages and manages availability windows and slots
type ServiceRepository struct {
	db *sqlx.DB
}

// NewServiceRepository creates a new ServiceRepository
func NewServiceRepository(db *sqlx.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

const serviceColumns = `
	id, operator_id, category, city, country, title, slug, description,
	duration_hours, price, min_age, available_days, is_active, is_approved, created_at`

// ============================================================================
// SERVICES & PACKAGES
// ============================================================================

// GetByID returns a service or nil when it does not exist
func (r *ServiceRepository) GetByID(ctx context.Context, id int64) (*models.Service, error) {
	var service models.Service
	query := `SELECT ` + serviceColumns + ` FROM services WHERE id = $1`
	if err := r.db.GetContext(ctx, &service, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return &service, nil
}

// GetBySlug returns a service by its slug or nil when it does not exist
func (r *ServiceRepository) GetBySlug(ctx context.Context, slug string) (*models.Service, error) {
	var service models.Service
	query := `SELECT ` + serviceColumns + ` FROM services WHERE slug = $1`
	if err := r.db.GetContext(ctx, &service, query, slug); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get service by slug: %w", err)
	}
	return &service, nil
}

// GetPackage returns a package or nil when it does not exist
func (r *ServiceRepository) GetPackage(ctx context.Context, id int64) (*models.Package, error) {
	var pkg models.Package
	query := `
		SELECT id, service_id, name, description, price, duration_days, max_people, is_active
		FROM packages
		WHERE id = $1`
	if err := r.db.GetContext(ctx, &pkg, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return &pkg, nil
}

// ============================================================================
// AVAILABILITY WINDOWS
// ============================================================================

const availabilityColumns = `id, service_id, start_date, end_date, available_days, is_active, created_at`

// ListActiveAvailabilities returns active windows of a service overlapping [from, to]
func (r *ServiceRepository) ListActiveAvailabilities(ctx context.Context, serviceID int64, from, to time.Time) ([]models.ServiceAvailability, error) {
	var availabilities []models.ServiceAvailability
	query := `
		SELECT ` + availabilityColumns + `
		FROM service_availabilities
		WHERE service_id = $1
		  AND is_active = TRUE
		  AND start_date <= $3
		  AND end_date >= $2
		ORDER BY start_date`
	if err := r.db.SelectContext(ctx, &availabilities, query, serviceID, from, to); err != nil {
		return nil, fmt.Errorf("failed to list availabilities: %w", err)
	}
	return availabilities, nil
}

// GetAvailability returns an availability window or nil when it does not exist
func (r *ServiceRepository) GetAvailability(ctx context.Context, id int64) (*models.ServiceAvailability, error) {
	var availability models.ServiceAvailability
	query := `SELECT ` + availabilityColumns + ` FROM service_availabilities WHERE id = $1`
	if err := r.db.GetContext(ctx, &availability, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get availability: %w", err)
	}
	return &availability, nil
}

// LockServiceAvailabilities locks the service row so concurrent window edits
// serialize, then returns its active windows.
func (r *ServiceRepository) LockServiceAvailabilities(ctx context.Context, tx *sqlx.Tx, serviceID int64) ([]models.ServiceAvailability, error) {
	var locked int64
	if err := tx.GetContext(ctx, &locked, `SELECT id FROM services WHERE id = $1 FOR UPDATE`, serviceID); err != nil {
		return nil, fmt.Errorf("failed to lock service: %w", err)
	}

	var availabilities []models.ServiceAvailability
	query := `
		SELECT ` + availabilityColumns + `
		FROM service_availabilities
		WHERE service_id = $1 AND is_active = TRUE`
	if err := tx.SelectContext(ctx, &availabilities, query, serviceID); err != nil {
		return nil, fmt.Errorf("failed to list active availabilities: %w", err)
	}
	return availabilities, nil
}

// CreateAvailability inserts a new availability window
func (r *ServiceRepository) CreateAvailability(ctx context.Context, tx *sqlx.Tx, availability *models.ServiceAvailability) error {
	query := `
		INSERT INTO service_availabilities (service_id, start_date, end_date, available_days, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err := tx.QueryRowxContext(ctx, query,
		availability.ServiceID,
		availability.StartDate,
		availability.EndDate,
		availability.AvailableDays,
		availability.IsActive,
	).Scan(&availability.ID, &availability.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create availability: %w", err)
	}
	return nil
}

// ============================================================================
// TIME SLOTS
// ============================================================================

const slotSelect = `
	SELECT ts.id, ts.availability_id, sa.service_id,
	       to_char(ts.start_time, 'HH24:MI') AS start_time,
	       to_char(ts.end_time, 'HH24:MI') AS end_time,
	       ts.capacity, ts.seats_taken, ts.is_active
	FROM service_time_slots ts
	JOIN service_availabilities sa ON sa.id = ts.availability_id`

// GetSlot returns a slot together with its owning service id, or nil when it does not exist
func (r *ServiceRepository) GetSlot(ctx context.Context, id int64) (*models.ServiceTimeSlot, error) {
	var slot models.ServiceTimeSlot
	if err := r.db.GetContext(ctx, &slot, slotSelect+` WHERE ts.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get time slot: %w", err)
	}
	return &slot, nil
}

// ListActiveSlots returns the active slots of the given availability windows ordered by start time
func (r *ServiceRepository) ListActiveSlots(ctx context.Context, availabilityIDs []int64) ([]models.ServiceTimeSlot, error) {
	if len(availabilityIDs) == 0 {
		return []models.ServiceTimeSlot{}, nil
	}

	query, args, err := sqlx.In(slotSelect+`
		WHERE ts.availability_id IN (?) AND ts.is_active = TRUE
		ORDER BY ts.availability_id, ts.start_time`, availabilityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build slot query: %w", err)
	}
	query = r.db.Rebind(query)

	var slots []models.ServiceTimeSlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list time slots: %w", err)
	}
	return slots, nil
}

// LockSlot acquires the slot row for the rest of the transaction
func (r *ServiceRepository) LockSlot(ctx context.Context, tx *sqlx.Tx, id int64) (*models.ServiceTimeSlot, error) {
	var slot models.ServiceTimeSlot
	if err := tx.GetContext(ctx, &slot, slotSelect+` WHERE ts.id = $1 FOR UPDATE OF ts`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock time slot: %w", err)
	}
	return &slot, nil
}

// SetSeatsTaken persists the seat counter of a locked slot
func (r *ServiceRepository) SetSeatsTaken(ctx context.Context, tx *sqlx.Tx, id int64, seatsTaken int) error {
	result, err := tx.ExecContext(ctx, `UPDATE service_time_slots SET seats_taken = $2 WHERE id = $1`, id, seatsTaken)
	if err != nil {
		return fmt.Errorf("failed to update seats taken: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("time slot %d not found", id)
	}
	return nil
}

// CreateSlot inserts a new time slot
func (r *ServiceRepository) CreateSlot(ctx context.Context, slot *models.ServiceTimeSlot) error {
	query := `
		INSERT INTO service_time_slots (availability_id, start_time, end_time, capacity, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err := r.db.QueryRowxContext(ctx, query,
		slot.AvailabilityID, slot.StartTime, slot.EndTime, slot.Capacity, slot.IsActive,
	).Scan(&slot.ID)
	if err != nil {
		return fmt.Errorf("failed to create time slot: %w", err)
	}
	return nil
}
