package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tourhub/booking-backend/internal/models"
)

// NotificationRepository handles notification inbox rows
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (recipient_id, booking_id, message, is_read)
		VALUES ($1, $2, $3, FALSE)
		RETURNING id, created_at`
	if err := r.db.QueryRowxContext(ctx, query, n.RecipientID, n.BookingID, n.Message).Scan(&n.ID, &n.CreatedAt); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListForRecipient returns a user's notifications, newest first
func (r *NotificationRepository) ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.Notification, error) {
	notifications := []models.Notification{}
	query := `
		SELECT id, recipient_id, booking_id, message, is_read, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &notifications, query, recipientID, limit); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// ListBroadcast returns the admin feed, newest first
func (r *NotificationRepository) ListBroadcast(ctx context.Context, limit int) ([]models.Notification, error) {
	notifications := []models.Notification{}
	query := `
		SELECT id, recipient_id, booking_id, message, is_read, created_at
		FROM notifications
		WHERE recipient_id IS NULL
		ORDER BY created_at DESC
		LIMIT $1`
	if err := r.db.SelectContext(ctx, &notifications, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list broadcast notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead flags a recipient's notification as read. Returns false if no such notification.
func (r *NotificationRepository) MarkRead(ctx context.Context, id int64, recipientID uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
