package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ServiceCategory represents what kind of offering a service is
type ServiceCategory string

const (
	CategoryTour       ServiceCategory = "tour"
	CategoryHotel      ServiceCategory = "hotel"
	CategoryCar        ServiceCategory = "car"
	CategoryRestaurant ServiceCategory = "restaurant"
	CategoryEvent      ServiceCategory = "event"
	CategoryOther      ServiceCategory = "other"
)

// Service is an operator-owned sellable item
type Service struct {
	ID            int64           `json:"id" db:"id"`
	OperatorID    uuid.UUID       `json:"operator_id" db:"operator_id"`
	Category      ServiceCategory `json:"category" db:"category"`
	City          string          `json:"city" db:"city"`
	Country       string          `json:"country" db:"country"`
	Title         string          `json:"title" db:"title"`
	Slug          string          `json:"slug" db:"slug"`
	Description   string          `json:"description" db:"description"`
	DurationHours *int            `json:"duration_hours,omitempty" db:"duration_hours"`
	Price         float64         `json:"price" db:"price"`
	MinAge        *int            `json:"min_age,omitempty" db:"min_age"`
	AvailableDays StringArray     `json:"available_days" db:"available_days"`
	IsActive      bool            `json:"is_active" db:"is_active"`
	IsApproved    bool            `json:"is_approved" db:"is_approved"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Package is a priced variant of a service
type Package struct {
	ID           int64   `json:"id" db:"id"`
	ServiceID    int64   `json:"service_id" db:"service_id"`
	Name         string  `json:"name" db:"name"`
	Description  string  `json:"description" db:"description"`
	Price        float64 `json:"price" db:"price"`
	DurationDays *int    `json:"duration_days,omitempty" db:"duration_days"`
	MaxPeople    *int    `json:"max_people,omitempty" db:"max_people"`
	IsActive     bool    `json:"is_active" db:"is_active"`
}

// ServiceAvailability is a bookable date range on a service
type ServiceAvailability struct {
	ID            int64       `json:"id" db:"id"`
	ServiceID     int64       `json:"service_id" db:"service_id"`
	StartDate     time.Time   `json:"start_date" db:"start_date"`
	EndDate       time.Time   `json:"end_date" db:"end_date"`
	AvailableDays StringArray `json:"available_days" db:"available_days"`
	IsActive      bool        `json:"is_active" db:"is_active"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

// Overlaps reports whether two inclusive date ranges share at least one day
func (a *ServiceAvailability) Overlaps(start, end time.Time) bool {
	return !a.StartDate.After(end) && !a.EndDate.Before(start)
}

// AllowsWeekday reports whether the weekday allow-list admits the given day.
// An empty list admits every day.
func (a *ServiceAvailability) AllowsWeekday(day time.Weekday) bool {
	if len(a.AvailableDays) == 0 {
		return true
	}
	for _, name := range a.AvailableDays {
		if strings.EqualFold(strings.TrimSpace(name), day.String()) {
			return true
		}
	}
	return false
}

// ServiceTimeSlot is a capacity-limited time-of-day window within an availability.
// StartTime and EndTime are "HH:MM" strings.
type ServiceTimeSlot struct {
	ID             int64  `json:"id" db:"id"`
	AvailabilityID int64  `json:"availability_id" db:"availability_id"`
	ServiceID      int64  `json:"service_id" db:"service_id"`
	StartTime      string `json:"start_time" db:"start_time"`
	EndTime        string `json:"end_time" db:"end_time"`
	Capacity       int    `json:"capacity" db:"capacity"`
	SeatsTaken     int    `json:"seats_taken" db:"seats_taken"`
	IsActive       bool   `json:"is_active" db:"is_active"`
}

// SeatsRemaining returns capacity minus seats already taken
func (s *ServiceTimeSlot) SeatsRemaining() int {
	remaining := s.Capacity - s.SeatsTaken
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ParseWeekday resolves a weekday name such as "monday" or "Monday"
func ParseWeekday(name string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(strings.TrimSpace(name), d.String()) {
			return d, true
		}
	}
	return 0, false
}
