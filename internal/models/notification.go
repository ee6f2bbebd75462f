package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification is an inbox message produced by a booking transition.
// A nil recipient is an admin broadcast.
type Notification struct {
	ID          int64      `json:"id" db:"id"`
	RecipientID *uuid.UUID `json:"recipient_id,omitempty" db:"recipient_id"`
	BookingID   *int64     `json:"booking_id,omitempty" db:"booking_id"`
	Message     string     `json:"message" db:"message"`
	IsRead      bool       `json:"is_read" db:"is_read"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// NewNotification builds an unsent notification for a recipient (nil = broadcast)
func NewNotification(recipient *uuid.UUID, bookingID int64, message string) Notification {
	return Notification{
		RecipientID: recipient,
		BookingID:   &bookingID,
		Message:     message,
	}
}

// IsBroadcast reports whether the notification targets the admin feed
func (n *Notification) IsBroadcast() bool {
	return n.RecipientID == nil
}
