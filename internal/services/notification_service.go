package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/models"
)

const (
	defaultInboxLimit = 50

	// publishTimeout bounds each relay to the broker
	publishTimeout = 5 * time.Second
)

// Dispatcher delivers notifications produced by a committed transition
type Dispatcher interface {
	Dispatch(ctx context.Context, notifications []models.Notification)
}

// NotificationStore is the inbox persistence
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.Notification, error)
	ListBroadcast(ctx context.Context, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id int64, recipientID uuid.UUID) (bool, error)
}

// EventPublisher relays messages to the broker
type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// NotificationService persists notifications and relays them to the broker
type NotificationService struct {
	store      NotificationStore
	publisher  EventPublisher
	routingKey string
	timeout    time.Duration
	logger     *logrus.Logger
}

// NewNotificationService creates a new NotificationService. publisher may be nil.
func NewNotificationService(store NotificationStore, publisher EventPublisher, routingKey string, logger *logrus.Logger) *NotificationService {
	return &NotificationService{
		store:      store,
		publisher:  publisher,
		routingKey: routingKey,
		timeout:    publishTimeout,
		logger:     logger,
	}
}

// Dispatch stores then publishes each notification. Failures are logged and never returned.
func (s *NotificationService) Dispatch(ctx context.Context, notifications []models.Notification) {
	for i := range notifications {
		n := &notifications[i]
		fields := logrus.Fields{
			"booking_id": n.BookingID,
			"recipient":  n.RecipientID,
		}

		if err := s.store.Create(ctx, n); err != nil {
			s.logger.WithError(err).WithFields(fields).Error("Failed to store notification")
			continue
		}

		if s.publisher == nil {
			continue
		}
		pubCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.publisher.PublishJSON(pubCtx, s.routingKey, n)
		cancel()
		if err != nil {
			s.logger.WithError(err).WithFields(fields).Warn("Failed to relay notification")
		}
	}
}

// ListForRecipient returns the actor's inbox, newest first
func (s *NotificationService) ListForRecipient(ctx context.Context, actor models.Actor) ([]models.Notification, error) {
	if !actor.IsAuthenticated() {
		return nil, ErrForbidden
	}
	return s.store.ListForRecipient(ctx, *actor.UserID, defaultInboxLimit)
}

// ListBroadcast returns the admin feed
func (s *NotificationService) ListBroadcast(ctx context.Context, actor models.Actor) ([]models.Notification, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.store.ListBroadcast(ctx, defaultInboxLimit)
}

// MarkRead flags one of the actor's notifications as read
func (s *NotificationService) MarkRead(ctx context.Context, actor models.Actor, id int64) error {
	if !actor.IsAuthenticated() {
		return ErrForbidden
	}
	ok, err := s.store.MarkRead(ctx, id, *actor.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return nil
}
