package models

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusPaid      BookingStatus = "paid"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusRejected  BookingStatus = "rejected"
)

// IsTerminal reports whether no further transitions are allowed
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusRejected
}

// BookingPaymentStatus represents whether a booking has been paid for
type BookingPaymentStatus string

const (
	PaymentStatusUnpaid              BookingPaymentStatus = "unpaid"
	PaymentStatusPendingVerification BookingPaymentStatus = "pending_verification"
	PaymentStatusPaid                BookingPaymentStatus = "paid"
)

// Booking is a reservation against a service, optionally on a capacity-limited slot
type Booking struct {
	ID                 int64                `json:"id" db:"id"`
	UserID             *uuid.UUID           `json:"user_id,omitempty" db:"user_id"`
	ServiceID          int64                `json:"service_id" db:"service_id"`
	PackageID          *int64               `json:"package_id,omitempty" db:"package_id"`
	TimeSlotID         *int64               `json:"time_slot_id,omitempty" db:"time_slot_id"`
	GivenName          string               `json:"given_name" db:"given_name"`
	Surname            string               `json:"surname" db:"surname"`
	OtherNames         string               `json:"other_names" db:"other_names"`
	ContactNumber      string               `json:"contact_number" db:"contact_number"`
	Email              string               `json:"email" db:"email"`
	FullContactAddress string               `json:"full_contact_address" db:"full_contact_address"`
	NumAdults          int                  `json:"num_adults" db:"num_adults"`
	NumChildren        int                  `json:"num_children" db:"num_children"`
	StartDate          *time.Time           `json:"start_date,omitempty" db:"start_date"`
	EndDate            *time.Time           `json:"end_date,omitempty" db:"end_date"`
	Notes              string               `json:"notes" db:"notes"`
	IsTnCAccepted      bool                 `json:"is_tnc_accepted" db:"is_tnc_accepted"`
	Status             BookingStatus        `json:"status" db:"status"`
	PaymentStatus      BookingPaymentStatus `json:"payment_status" db:"payment_status"`
	AdminNote          string               `json:"admin_note" db:"admin_note"`
	CreatedAt          time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at" db:"updated_at"`

	// Joined from services/packages, read-only
	ServiceTitle string    `json:"service_title" db:"service_title"`
	OperatorID   uuid.UUID `json:"-" db:"operator_id"`
	ServicePrice float64   `json:"-" db:"service_price"`
	PackagePrice *float64  `json:"-" db:"package_price"`
}

// Seats returns the number of seats the booking holds on its slot
func (b *Booking) Seats() int {
	return b.NumAdults + b.NumChildren
}

// TotalPrice is the package price when a package is selected, otherwise the service price
func (b *Booking) TotalPrice() float64 {
	if b.PackageID != nil && b.PackagePrice != nil {
		return *b.PackagePrice
	}
	return b.ServicePrice
}

// IsPaid reports whether the booking has been settled
func (b *Booking) IsPaid() bool {
	return b.PaymentStatus == PaymentStatusPaid
}

// IsGuest reports whether the booking was made without an account
func (b *Booking) IsGuest() bool {
	return b.UserID == nil
}

// BookingResponse is the API representation of a booking
type BookingResponse struct {
	*Booking
	TotalPrice float64 `json:"total_price"`
}

// NewBookingResponse wraps a booking with its derived fields
func NewBookingResponse(b *Booking) BookingResponse {
	return BookingResponse{Booking: b, TotalPrice: b.TotalPrice()}
}
