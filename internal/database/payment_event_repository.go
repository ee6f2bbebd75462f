package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/models"
)

// PaymentEventRepository appends and reads payment audit events
type PaymentEventRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentEventRepository creates a new payment event repository
func NewPaymentEventRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentEventRepository {
	return &PaymentEventRepository{
		db:     db,
		logger: logger,
	}
}

// Log appends a payment event. Failures are logged loudly; payment events must not vanish.
func (r *PaymentEventRepository) Log(ctx context.Context, event *models.PaymentEvent) error {
	if event == nil {
		return fmt.Errorf("payment event cannot be nil")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_events (
			id, transaction_reference, booking_id, event_type, event_source, actor_id,
			expected_amount, received_amount, amounts_match,
			gateway_status, gateway_transaction_id,
			payload, http_status_code, error_message,
			processing_time_ms, is_duplicate,
			ip_address, user_agent, device_type, platform,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11,
			$12, $13, $14,
			$15, $16,
			$17, $18, $19, $20,
			$21
		)`

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.TransactionReference, event.BookingID, event.EventType, event.EventSource, event.ActorID,
		event.ExpectedAmount, event.ReceivedAmount, event.AmountsMatch,
		event.GatewayStatus, event.GatewayTransactionID,
		event.Payload, event.HTTPStatusCode, event.ErrorMessage,
		event.ProcessingTimeMs, event.IsDuplicate,
		event.IPAddress, event.UserAgent, event.DeviceType, event.Platform,
		event.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.EventType,
			"reference":  event.TransactionReference,
		}).Error("CRITICAL: Failed to log payment event")
		return fmt.Errorf("failed to log payment event: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.EventType,
	}).Debug("Payment event logged")

	return nil
}

// ListByReference returns the event history of a transaction, oldest first
func (r *PaymentEventRepository) ListByReference(ctx context.Context, reference string) ([]models.PaymentEvent, error) {
	events := []models.PaymentEvent{}
	query := `
		SELECT * FROM payment_events
		WHERE transaction_reference = $1
		ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &events, query, reference); err != nil {
		return nil, fmt.Errorf("failed to list payment events: %w", err)
	}
	return events, nil
}

// ListByType returns recent events of one kind, newest first
func (r *PaymentEventRepository) ListByType(ctx context.Context, eventType models.PaymentEventType, limit int) ([]models.PaymentEvent, error) {
	events := []models.PaymentEvent{}
	query := `
		SELECT * FROM payment_events
		WHERE event_type = $1
		ORDER BY created_at DESC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &events, query, eventType, limit); err != nil {
		return nil, fmt.Errorf("failed to list payment events by type: %w", err)
	}
	return events, nil
}
