package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/models"
	"github.com/tourhub/booking-backend/pkg/validator"
)

const defaultRejectReason = "No reason provided."

// BookingStore is the booking persistence the lifecycle needs
type BookingStore interface {
	Create(ctx context.Context, tx *sqlx.Tx, booking *models.Booking) error
	GetByID(ctx context.Context, id int64) (*models.Booking, error)
	LockByID(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Booking, error)
	UpdateState(ctx context.Context, tx *sqlx.Tx, booking *models.Booking) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Booking, error)
	ListByOperator(ctx context.Context, operatorID uuid.UUID) ([]models.Booking, error)
	ListAll(ctx context.Context, status string, limit, offset int) ([]models.Booking, error)
	GetGuestBooking(ctx context.Context, id int64, email string) (*models.Booking, error)
}

// CatalogStore reads the services, packages and slots a booking refers to
type CatalogStore interface {
	GetByID(ctx context.Context, id int64) (*models.Service, error)
	GetPackage(ctx context.Context, id int64) (*models.Package, error)
	GetSlot(ctx context.Context, id int64) (*models.ServiceTimeSlot, error)
}

// BookingService owns the booking state machine
type BookingService struct {
	db         *sqlx.DB
	bookings   BookingStore
	catalog    CatalogStore
	ledger     *CapacityLedger
	dispatcher Dispatcher
	contacts   *validator.ContactValidator
	logger     *logrus.Logger
}

// NewBookingService creates a new BookingService
func NewBookingService(
	db *sqlx.DB,
	bookings BookingStore,
	catalog CatalogStore,
	ledger *CapacityLedger,
	dispatcher Dispatcher,
	logger *logrus.Logger,
) *BookingService {
	return &BookingService{
		db:         db,
		bookings:   bookings,
		catalog:    catalog,
		ledger:     ledger,
		dispatcher: dispatcher,
		contacts:   validator.NewContactValidator(),
		logger:     logger,
	}
}

// CreateBookingInput is a booking request from a guest or customer
type CreateBookingInput struct {
	ServiceID          *int64
	PackageID          *int64
	TimeSlotID         *int64
	StartDate          *time.Time
	EndDate            *time.Time
	GivenName          string
	Surname            string
	OtherNames         string
	ContactNumber      string
	Email              string
	FullContactAddress string
	NumAdults          *int
	NumChildren        int
	Notes              string
	IsTnCAccepted      bool
}

type bookingTarget struct {
	service *models.Service
	pkg     *models.Package
	slot    *models.ServiceTimeSlot
}

// ============================================================================
// CREATE
// ============================================================================

// Create validates the request, reserves slot seats and inserts the booking in one transaction
func (s *BookingService) Create(ctx context.Context, actor models.Actor, input CreateBookingInput) (*models.Booking, error) {
	target, err := s.validateTarget(ctx, input)
	if err != nil {
		return nil, err
	}
	booking, err := s.buildBooking(actor, input)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if target.slot != nil {
		if err := s.ledger.Reserve(ctx, tx, target.slot.ID, booking.Seats()); err != nil {
			return nil, err
		}
	}
	if err := s.bookings.Create(ctx, tx, booking); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.ServiceTitle = target.service.Title
	booking.OperatorID = target.service.OperatorID
	booking.ServicePrice = target.service.Price
	if target.pkg != nil {
		price := target.pkg.Price
		booking.PackagePrice = &price
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"service_id": booking.ServiceID,
		"slot_id":    booking.TimeSlotID,
		"seats":      booking.Seats(),
		"actor_role": actor.Role,
	}).Info("Booking created")

	s.dispatch(ctx, createdNotices(booking))
	return booking, nil
}

// validateTarget checks the service, package, dates and slot, first failure wins
func (s *BookingService) validateTarget(ctx context.Context, input CreateBookingInput) (*bookingTarget, error) {
	if input.ServiceID == nil {
		return nil, NewFieldError("service", "Service is required.")
	}
	service, err := s.catalog.GetByID(ctx, *input.ServiceID)
	if err != nil {
		return nil, err
	}
	if service == nil || !service.IsActive {
		return nil, NewFieldError("service", "Service not found.")
	}
	target := &bookingTarget{service: service}

	if input.TimeSlotID == nil && (input.StartDate == nil || input.EndDate == nil) {
		msg := "Either time_slot_id or start_date & end_date must be provided."
		return nil, &ValidationError{Fields: map[string]string{NonFieldKey: msg}, Message: msg}
	}

	if input.PackageID != nil {
		pkg, err := s.catalog.GetPackage(ctx, *input.PackageID)
		if err != nil {
			return nil, err
		}
		if pkg == nil || pkg.ServiceID != service.ID {
			return nil, NewFieldError("package", "This package does not belong to the selected service.")
		}
		target.pkg = pkg
	}

	if input.StartDate != nil && input.EndDate != nil && input.EndDate.Before(*input.StartDate) {
		return nil, NewFieldError("end_date", "End date cannot be before start date.")
	}

	if input.TimeSlotID != nil {
		slot, err := s.catalog.GetSlot(ctx, *input.TimeSlotID)
		if err != nil {
			return nil, err
		}
		if slot == nil || slot.ServiceID != service.ID || !slot.IsActive {
			return nil, NewFieldError("time_slot_id", "This time slot does not belong to the selected service.")
		}
		target.slot = slot
	}

	return target, nil
}

func (s *BookingService) buildBooking(actor models.Actor, input CreateBookingInput) (*models.Booking, error) {
	adults := 1
	if input.NumAdults != nil {
		adults = *input.NumAdults
	}
	if adults < 1 {
		return nil, NewFieldError("num_adults", "At least one traveler is required.")
	}
	if input.NumChildren < 0 {
		return nil, NewFieldError("num_children", "Number of children cannot be negative.")
	}

	givenName := strings.TrimSpace(input.GivenName)
	if givenName == "" {
		return nil, NewFieldError("given_name", "This field is required.")
	}
	surname := strings.TrimSpace(input.Surname)
	if surname == "" {
		return nil, NewFieldError("surname", "This field is required.")
	}
	email, err := s.contacts.ValidateEmail(input.Email)
	if err != nil {
		return nil, NewFieldError("email", err.Error())
	}
	phone, err := s.contacts.ValidatePhone(input.ContactNumber)
	if err != nil {
		return nil, NewFieldError("contact_number", err.Error())
	}

	booking := &models.Booking{
		ServiceID:          *input.ServiceID,
		PackageID:          input.PackageID,
		TimeSlotID:         input.TimeSlotID,
		GivenName:          givenName,
		Surname:            surname,
		OtherNames:         strings.TrimSpace(input.OtherNames),
		ContactNumber:      phone,
		Email:              email,
		FullContactAddress: strings.TrimSpace(input.FullContactAddress),
		NumAdults:          adults,
		NumChildren:        input.NumChildren,
		StartDate:          input.StartDate,
		EndDate:            input.EndDate,
		Notes:              input.Notes,
		IsTnCAccepted:      input.IsTnCAccepted,
		Status:             models.BookingStatusPending,
		PaymentStatus:      models.PaymentStatusUnpaid,
	}
	if actor.IsAuthenticated() {
		userID := *actor.UserID
		booking.UserID = &userID
	}
	return booking, nil
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// MarkPaid is the only unpaid to paid path. It runs inside the caller's transaction
// and returns the notifications to send once that transaction commits.
func (s *BookingService) MarkPaid(ctx context.Context, tx *sqlx.Tx, bookingID int64) ([]models.Notification, error) {
	booking, err := s.bookings.LockByID(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, fmt.Errorf("booking %d: %w", bookingID, ErrNotFound)
	}
	if booking.IsPaid() {
		return nil, nil
	}
	if booking.Status.IsTerminal() {
		return nil, fmt.Errorf("booking %d is %s: %w", bookingID, booking.Status, ErrInconsistent)
	}

	wasConfirmed := booking.Status == models.BookingStatusConfirmed
	booking.PaymentStatus = models.PaymentStatusPaid
	booking.Status = models.BookingStatusConfirmed
	if err := s.bookings.UpdateState(ctx, tx, booking); err != nil {
		return nil, err
	}

	s.logger.WithField("booking_id", bookingID).Info("Booking marked paid")
	if wasConfirmed {
		return nil, nil
	}
	return approvedNotices(booking), nil
}

// RepairPaid runs MarkPaid in its own transaction; used to heal Payment/Booking divergence
func (s *BookingService) RepairPaid(ctx context.Context, bookingID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	notices, err := s.MarkPaid(ctx, tx, bookingID)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking repair: %w", err)
	}
	s.dispatch(ctx, notices)
	return nil
}

// UpdateStatus applies an admin status change. Only pending, confirmed and cancelled are accepted.
func (s *BookingService) UpdateStatus(ctx context.Context, actor models.Actor, bookingID int64, status string) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	target := models.BookingStatus(status)
	switch target {
	case models.BookingStatusPending, models.BookingStatusConfirmed, models.BookingStatusCancelled:
	default:
		return fmt.Errorf("%q: %w", status, ErrInvalidStatus)
	}

	return s.withLockedBooking(ctx, bookingID, func(tx *sqlx.Tx, booking *models.Booking) ([]models.Notification, error) {
		return s.transition(ctx, tx, booking, target, actor)
	})
}

// Reject refuses a pending booking with an admin note and frees its seats
func (s *BookingService) Reject(ctx context.Context, actor models.Actor, bookingID int64, adminNote string) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}

	return s.withLockedBooking(ctx, bookingID, func(tx *sqlx.Tx, booking *models.Booking) ([]models.Notification, error) {
		if booking.Status == models.BookingStatusPending {
			booking.AdminNote = strings.TrimSpace(adminNote)
		}
		return s.transition(ctx, tx, booking, models.BookingStatusRejected, actor)
	})
}

// Cancel cancels a booking on behalf of its owner or an admin
func (s *BookingService) Cancel(ctx context.Context, actor models.Actor, bookingID int64) error {
	return s.withLockedBooking(ctx, bookingID, func(tx *sqlx.Tx, booking *models.Booking) ([]models.Notification, error) {
		if !canCancel(actor, booking) {
			return nil, ErrForbidden
		}
		return s.transition(ctx, tx, booking, models.BookingStatusCancelled, actor)
	})
}

func (s *BookingService) withLockedBooking(ctx context.Context, bookingID int64, fn func(tx *sqlx.Tx, booking *models.Booking) ([]models.Notification, error)) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	booking, err := s.bookings.LockByID(ctx, tx, bookingID)
	if err != nil {
		return err
	}
	if booking == nil {
		return fmt.Errorf("booking %d: %w", bookingID, ErrNotFound)
	}

	notices, err := fn(tx, booking)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking transition: %w", err)
	}
	s.dispatch(ctx, notices)
	return nil
}

// transition moves a locked booking to the target status.
// Same-state is a silent no-op; anything outside the state machine is AlreadyProcessed.
func (s *BookingService) transition(ctx context.Context, tx *sqlx.Tx, booking *models.Booking, to models.BookingStatus, actor models.Actor) ([]models.Notification, error) {
	from := booking.Status
	if from == to {
		return nil, nil
	}
	if !allowedTransition(booking, to) {
		return nil, fmt.Errorf("booking %d cannot move from %s to %s: %w", booking.ID, from, to, ErrAlreadyProcessed)
	}

	if to == models.BookingStatusCancelled || to == models.BookingStatusRejected {
		if booking.TimeSlotID != nil {
			if err := s.ledger.Release(ctx, tx, *booking.TimeSlotID, booking.Seats()); err != nil {
				return nil, err
			}
		}
	}

	booking.Status = to
	if err := s.bookings.UpdateState(ctx, tx, booking); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"from":       from,
		"to":         to,
		"actor_role": actor.Role,
	}).Info("Booking status changed")

	switch to {
	case models.BookingStatusConfirmed:
		return approvedNotices(booking), nil
	case models.BookingStatusRejected:
		return rejectedNotices(booking), nil
	case models.BookingStatusCancelled:
		return cancelledNotices(booking, actor.Label()), nil
	}
	return nil, nil
}

func allowedTransition(booking *models.Booking, to models.BookingStatus) bool {
	switch booking.Status {
	case models.BookingStatusPending:
		return to == models.BookingStatusConfirmed ||
			to == models.BookingStatusRejected ||
			to == models.BookingStatusCancelled
	case models.BookingStatusConfirmed, models.BookingStatusPaid:
		// a paid booking stays confirmed
		return to == models.BookingStatusCancelled && !booking.IsPaid()
	}
	return false
}

func canCancel(actor models.Actor, booking *models.Booking) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleCustomer, models.RoleOperator:
		return actor.Is(booking.UserID)
	case models.RoleGuest:
		return false
	}
	return false
}

// ============================================================================
// READS
// ============================================================================

// Get returns a booking visible to its owner, the service operator or an admin
func (s *BookingService) Get(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, fmt.Errorf("booking %d: %w", bookingID, ErrNotFound)
	}
	if !canView(actor, booking) {
		return nil, ErrForbidden
	}
	return booking, nil
}

// GetForPayment returns a booking the actor may pay for. Guests must supply the booking email.
func (s *BookingService) GetForPayment(ctx context.Context, actor models.Actor, bookingID int64, email string) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, fmt.Errorf("booking %d: %w", bookingID, ErrNotFound)
	}
	if canView(actor, booking) {
		return booking, nil
	}
	if booking.IsGuest() && email != "" && strings.EqualFold(strings.TrimSpace(email), booking.Email) {
		return booking, nil
	}
	return nil, ErrForbidden
}

// ListMine returns the actor's own bookings
func (s *BookingService) ListMine(ctx context.Context, actor models.Actor) ([]models.Booking, error) {
	if !actor.IsAuthenticated() {
		return nil, ErrForbidden
	}
	return s.bookings.ListByUser(ctx, *actor.UserID)
}

// ListForOperator returns bookings of every service the operator owns
func (s *BookingService) ListForOperator(ctx context.Context, actor models.Actor) ([]models.Booking, error) {
	if actor.Role != models.RoleOperator || actor.UserID == nil {
		return nil, ErrForbidden
	}
	return s.bookings.ListByOperator(ctx, *actor.UserID)
}

// ListAll returns every booking for an admin
func (s *BookingService) ListAll(ctx context.Context, actor models.Actor, status string, limit, offset int) ([]models.Booking, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.bookings.ListAll(ctx, status, limit, offset)
}

// GuestLookup finds a guest booking by id and email, case-insensitively
func (s *BookingService) GuestLookup(ctx context.Context, bookingID int64, email string) (*models.Booking, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, NewFieldError("email", "This field is required.")
	}
	booking, err := s.bookings.GetGuestBooking(ctx, bookingID, email)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, fmt.Errorf("guest booking %d: %w", bookingID, ErrNotFound)
	}
	return booking, nil
}

func canView(actor models.Actor, booking *models.Booking) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleOperator:
		return actor.Is(&booking.OperatorID) || actor.Is(booking.UserID)
	case models.RoleCustomer:
		return actor.Is(booking.UserID)
	case models.RoleGuest:
		return false
	}
	return false
}

// dispatch hands notifications over after commit; the request may already be gone
func (s *BookingService) dispatch(ctx context.Context, notices []models.Notification) {
	if len(notices) == 0 || s.dispatcher == nil {
		return
	}
	s.dispatcher.Dispatch(context.WithoutCancel(ctx), notices)
}

// ============================================================================
// NOTIFICATION TEXT
// ============================================================================

func operatorOf(b *models.Booking) *uuid.UUID {
	if b.OperatorID == uuid.Nil {
		return nil
	}
	id := b.OperatorID
	return &id
}

// appendNotice adds a personal notice; a missing recipient is skipped
func appendNotice(list []models.Notification, recipient *uuid.UUID, bookingID int64, message string) []models.Notification {
	if recipient == nil {
		return list
	}
	return append(list, models.NewNotification(recipient, bookingID, message))
}

func broadcast(list []models.Notification, bookingID int64, message string) []models.Notification {
	return append(list, models.NewNotification(nil, bookingID, message))
}

func createdNotices(b *models.Booking) []models.Notification {
	var list []models.Notification
	list = appendNotice(list, operatorOf(b), b.ID,
		fmt.Sprintf("New booking #%d created for your service '%s'.", b.ID, b.ServiceTitle))
	list = broadcast(list, b.ID,
		fmt.Sprintf("New booking #%d received for '%s' by %s %s.", b.ID, b.ServiceTitle, b.GivenName, b.Surname))
	return list
}

func approvedNotices(b *models.Booking) []models.Notification {
	var list []models.Notification
	list = appendNotice(list, operatorOf(b), b.ID,
		fmt.Sprintf("Booking #%d for '%s' has been approved.", b.ID, b.ServiceTitle))
	list = appendNotice(list, b.UserID, b.ID,
		fmt.Sprintf("Your booking #%d has been approved.", b.ID))
	return list
}

func rejectedNotices(b *models.Booking) []models.Notification {
	reason := b.AdminNote
	if reason == "" {
		reason = defaultRejectReason
	}
	var list []models.Notification
	list = appendNotice(list, operatorOf(b), b.ID,
		fmt.Sprintf("Booking #%d was rejected. Reason: %s", b.ID, reason))
	list = appendNotice(list, b.UserID, b.ID,
		fmt.Sprintf("Your booking #%d was rejected. Reason: %s", b.ID, reason))
	list = broadcast(list, b.ID,
		fmt.Sprintf("Booking #%d for '%s' was rejected by admin. Reason: %s", b.ID, b.ServiceTitle, reason))
	return list
}

func cancelledNotices(b *models.Booking, initiator string) []models.Notification {
	var list []models.Notification
	list = broadcast(list, b.ID,
		fmt.Sprintf("Booking #%d has been cancelled by %s.", b.ID, initiator))
	list = appendNotice(list, operatorOf(b), b.ID,
		fmt.Sprintf("Booking #%d has been cancelled.", b.ID))
	list = appendNotice(list, b.UserID, b.ID,
		fmt.Sprintf("Your booking #%d has been cancelled.", b.ID))
	return list
}
