package services

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/models"
)

// SlotStore is the slot persistence the ledger needs
type SlotStore interface {
	LockSlot(ctx context.Context, tx *sqlx.Tx, id int64) (*models.ServiceTimeSlot, error)
	SetSeatsTaken(ctx context.Context, tx *sqlx.Tx, id int64, seatsTaken int) error
}

// CapacityLedger is the single writer of a slot's seats_taken counter.
// Every call runs inside the caller's transaction and holds the slot row lock until it ends.
type CapacityLedger struct {
	slots  SlotStore
	logger *logrus.Logger
}

// NewCapacityLedger creates a new CapacityLedger
func NewCapacityLedger(slots SlotStore, logger *logrus.Logger) *CapacityLedger {
	return &CapacityLedger{
		slots:  slots,
		logger: logger,
	}
}

// Reserve takes seats on a slot or fails with CapacityExceededError
func (l *CapacityLedger) Reserve(ctx context.Context, tx *sqlx.Tx, slotID int64, seats int) error {
	if seats <= 0 {
		return NewFieldError("num_adults", "At least one traveler is required.")
	}

	slot, err := l.slots.LockSlot(ctx, tx, slotID)
	if err != nil {
		return err
	}
	if slot == nil {
		return fmt.Errorf("time slot %d: %w", slotID, ErrNotFound)
	}

	if slot.SeatsTaken+seats > slot.Capacity {
		return &CapacityExceededError{Remaining: slot.SeatsRemaining()}
	}

	if err := l.slots.SetSeatsTaken(ctx, tx, slotID, slot.SeatsTaken+seats); err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"slot_id":     slotID,
		"seats":       seats,
		"seats_taken": slot.SeatsTaken + seats,
		"capacity":    slot.Capacity,
	}).Debug("Seats reserved")
	return nil
}

// Release returns seats to a slot. The counter never drops below zero.
func (l *CapacityLedger) Release(ctx context.Context, tx *sqlx.Tx, slotID int64, seats int) error {
	if seats <= 0 {
		return nil
	}

	slot, err := l.slots.LockSlot(ctx, tx, slotID)
	if err != nil {
		return err
	}
	if slot == nil {
		return fmt.Errorf("time slot %d: %w", slotID, ErrNotFound)
	}

	next := slot.SeatsTaken - seats
	if next < 0 {
		l.logger.WithError(ErrInconsistent).WithFields(logrus.Fields{
			"slot_id":     slotID,
			"seats":       seats,
			"seats_taken": slot.SeatsTaken,
		}).Error("Seat release would drive seats_taken negative, clamping to zero")
		next = 0
	}

	return l.slots.SetSeatsTaken(ctx, tx, slotID, next)
}
