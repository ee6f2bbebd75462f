package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/models"
)

const (
	dateLayout          = "2006-01-02"
	slotTimeLayout      = "15:04"
	defaultCalendarDays = 60
)

// CalendarStore is the persistence the calendar needs
type CalendarStore interface {
	GetByID(ctx context.Context, id int64) (*models.Service, error)
	GetBySlug(ctx context.Context, slug string) (*models.Service, error)
	ListActiveAvailabilities(ctx context.Context, serviceID int64, from, to time.Time) ([]models.ServiceAvailability, error)
	GetAvailability(ctx context.Context, id int64) (*models.ServiceAvailability, error)
	LockServiceAvailabilities(ctx context.Context, tx *sqlx.Tx, serviceID int64) ([]models.ServiceAvailability, error)
	CreateAvailability(ctx context.Context, tx *sqlx.Tx, availability *models.ServiceAvailability) error
	ListActiveSlots(ctx context.Context, availabilityIDs []int64) ([]models.ServiceTimeSlot, error)
	CreateSlot(ctx context.Context, slot *models.ServiceTimeSlot) error
}

// CalendarService expands availability windows into bookable dates and manages windows and slots
type CalendarService struct {
	db     *sqlx.DB
	store  CalendarStore
	logger *logrus.Logger
	now    func() time.Time
}

// NewCalendarService creates a new CalendarService
func NewCalendarService(db *sqlx.DB, store CalendarStore, logger *logrus.Logger) *CalendarService {
	return &CalendarService{
		db:     db,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// CalendarServiceInfo identifies the service a calendar belongs to
type CalendarServiceInfo struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

// CalendarSlot is one slot offered on a date
type CalendarSlot struct {
	TimeSlotID int64  `json:"time_slot_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Capacity   int    `json:"capacity"`
	Remaining  int    `json:"remaining"`
	Available  bool   `json:"available"`
}

// Calendar maps "YYYY-MM-DD" to the slots offered that day
type Calendar struct {
	Service  CalendarServiceInfo       `json:"service"`
	Calendar map[string][]CalendarSlot `json:"calendar"`
}

// DateRange walks calendar dates from start to end inclusive
type DateRange struct {
	start   time.Time
	end     time.Time
	current time.Time
	started bool
}

// NewDateRange creates a DateRange; times are truncated to their calendar date
func NewDateRange(start, end time.Time) *DateRange {
	return &DateRange{start: dateOnly(start), end: dateOnly(end)}
}

// Next returns the next date, or false once the range is exhausted
func (r *DateRange) Next() (time.Time, bool) {
	if !r.started {
		r.started = true
		r.current = r.start
	} else {
		r.current = r.current.AddDate(0, 0, 1)
	}
	if r.current.After(r.end) {
		return time.Time{}, false
	}
	return r.current, true
}

// Reset rewinds the range to its first date
func (r *DateRange) Reset() {
	r.started = false
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func maxDate(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minDate(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// Expand builds the calendar of a service between from and to.
// A nil from means today; a nil to means from plus 60 days.
func (s *CalendarService) Expand(ctx context.Context, slug string, from, to *time.Time) (*Calendar, error) {
	service, err := s.store.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if service == nil || !service.IsActive {
		return nil, fmt.Errorf("service %q: %w", slug, ErrNotFound)
	}

	start := dateOnly(s.now())
	if from != nil {
		start = dateOnly(*from)
	}
	end := start.AddDate(0, 0, defaultCalendarDays)
	if to != nil {
		end = dateOnly(*to)
	}
	if end.Before(start) {
		return nil, NewFieldError("to", "End date cannot be before start date.")
	}

	availabilities, err := s.store.ListActiveAvailabilities(ctx, service.ID, start, end)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(availabilities))
	for _, a := range availabilities {
		ids = append(ids, a.ID)
	}
	slots, err := s.store.ListActiveSlots(ctx, ids)
	if err != nil {
		return nil, err
	}

	slotsByAvailability := make(map[int64][]CalendarSlot)
	for _, slot := range slots {
		remaining := slot.SeatsRemaining()
		slotsByAvailability[slot.AvailabilityID] = append(slotsByAvailability[slot.AvailabilityID], CalendarSlot{
			TimeSlotID: slot.ID,
			StartTime:  slot.StartTime,
			EndTime:    slot.EndTime,
			Capacity:   slot.Capacity,
			Remaining:  remaining,
			Available:  remaining > 0,
		})
	}

	calendar := &Calendar{
		Service: CalendarServiceInfo{
			ID:    service.ID,
			Title: service.Title,
			Slug:  service.Slug,
		},
		Calendar: make(map[string][]CalendarSlot),
	}

	for _, a := range availabilities {
		daySlots := slotsByAvailability[a.ID]
		dates := NewDateRange(maxDate(dateOnly(a.StartDate), start), minDate(dateOnly(a.EndDate), end))
		for day, ok := dates.Next(); ok; day, ok = dates.Next() {
			if !a.AllowsWeekday(day.Weekday()) {
				continue
			}
			key := day.Format(dateLayout)
			calendar.Calendar[key] = append(calendar.Calendar[key], daySlots...)
		}
	}

	return calendar, nil
}

// AvailabilityInput describes a new availability window
type AvailabilityInput struct {
	StartDate     time.Time
	EndDate       time.Time
	AvailableDays []string
	IsActive      bool
}

// CreateAvailability adds a window to a service the actor manages.
// Active windows of one service may not overlap.
func (s *CalendarService) CreateAvailability(ctx context.Context, actor models.Actor, serviceID int64, input AvailabilityInput) (*models.ServiceAvailability, error) {
	service, err := s.store.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if service == nil {
		return nil, fmt.Errorf("service %d: %w", serviceID, ErrNotFound)
	}
	if !canManageService(actor, service) {
		return nil, ErrForbidden
	}

	availability := &models.ServiceAvailability{
		ServiceID:     serviceID,
		StartDate:     dateOnly(input.StartDate),
		EndDate:       dateOnly(input.EndDate),
		AvailableDays: models.StringArray{},
		IsActive:      input.IsActive,
	}
	if err := validateAvailability(availability, input.AvailableDays); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if availability.IsActive {
		existing, err := s.store.LockServiceAvailabilities(ctx, tx, serviceID)
		if err != nil {
			return nil, err
		}
		for _, other := range existing {
			if other.Overlaps(availability.StartDate, availability.EndDate) {
				return nil, NewValidationError("This availability overlaps with an existing availability range.")
			}
		}
	}

	if err := s.store.CreateAvailability(ctx, tx, availability); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit availability: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"service_id":      serviceID,
		"availability_id": availability.ID,
		"start_date":      availability.StartDate.Format(dateLayout),
		"end_date":        availability.EndDate.Format(dateLayout),
	}).Info("Availability created")

	return availability, nil
}

func validateAvailability(a *models.ServiceAvailability, days []string) error {
	if a.EndDate.Before(a.StartDate) {
		return NewFieldError("end_date", "End date cannot be before start date.")
	}
	for _, name := range days {
		day, ok := models.ParseWeekday(name)
		if !ok {
			return NewFieldError("available_days", fmt.Sprintf("%q is not a valid weekday.", name))
		}
		a.AvailableDays = append(a.AvailableDays, day.String())
	}
	return nil
}

// SlotInput describes a new time slot
type SlotInput struct {
	StartTime string
	EndTime   string
	Capacity  int
	IsActive  bool
}

// CreateTimeSlot adds a slot to an availability window of a service the actor manages
func (s *CalendarService) CreateTimeSlot(ctx context.Context, actor models.Actor, availabilityID int64, input SlotInput) (*models.ServiceTimeSlot, error) {
	availability, err := s.store.GetAvailability(ctx, availabilityID)
	if err != nil {
		return nil, err
	}
	if availability == nil {
		return nil, fmt.Errorf("availability %d: %w", availabilityID, ErrNotFound)
	}
	service, err := s.store.GetByID(ctx, availability.ServiceID)
	if err != nil {
		return nil, err
	}
	if service == nil {
		return nil, fmt.Errorf("service %d: %w", availability.ServiceID, ErrNotFound)
	}
	if !canManageService(actor, service) {
		return nil, ErrForbidden
	}

	if input.Capacity < 1 {
		return nil, NewFieldError("capacity", "Capacity must be at least 1.")
	}
	start, err := time.Parse(slotTimeLayout, input.StartTime)
	if err != nil {
		return nil, NewFieldError("start_time", "Time must be in HH:MM format.")
	}
	end, err := time.Parse(slotTimeLayout, input.EndTime)
	if err != nil {
		return nil, NewFieldError("end_time", "Time must be in HH:MM format.")
	}
	if !end.After(start) {
		return nil, NewFieldError("end_time", "End time must be after start time.")
	}

	slot := &models.ServiceTimeSlot{
		AvailabilityID: availabilityID,
		ServiceID:      service.ID,
		StartTime:      start.Format(slotTimeLayout),
		EndTime:        end.Format(slotTimeLayout),
		Capacity:       input.Capacity,
		IsActive:       input.IsActive,
	}
	if err := s.store.CreateSlot(ctx, slot); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"availability_id": availabilityID,
		"slot_id":         slot.ID,
		"capacity":        slot.Capacity,
	}).Info("Time slot created")

	return slot, nil
}

// canManageService reports whether the actor may edit a service's calendar
func canManageService(actor models.Actor, service *models.Service) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleOperator:
		return actor.Is(&service.OperatorID)
	case models.RoleCustomer, models.RoleGuest:
		return false
	}
	return false
}
