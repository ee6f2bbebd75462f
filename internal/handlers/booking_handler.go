package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/middleware"
	"github.com/tourhub/booking-backend/internal/models"
	"github.com/tourhub/booking-backend/internal/services"
)

// BookingManager is the booking lifecycle used by BookingHandler
type BookingManager interface {
	Create(ctx context.Context, actor models.Actor, input services.CreateBookingInput) (*models.Booking, error)
	Get(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error)
	GuestLookup(ctx context.Context, bookingID int64, email string) (*models.Booking, error)
	Cancel(ctx context.Context, actor models.Actor, bookingID int64) error
	UpdateStatus(ctx context.Context, actor models.Actor, bookingID int64, status string) error
	Reject(ctx context.Context, actor models.Actor, bookingID int64, adminNote string) error
	ListMine(ctx context.Context, actor models.Actor) ([]models.Booking, error)
	ListForOperator(ctx context.Context, actor models.Actor) ([]models.Booking, error)
	ListAll(ctx context.Context, actor models.Actor, status string, limit, offset int) ([]models.Booking, error)
}

// BookingHandler handles booking HTTP requests
type BookingHandler struct {
	bookings BookingManager
	logger   *logrus.Logger
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookings BookingManager, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, logger: logger}
}

// CreateBookingRequest is the body of POST /bookings
type CreateBookingRequest struct {
	ServiceID          *int64 `json:"service_id"`
	PackageID          *int64 `json:"package_id"`
	TimeSlotID         *int64 `json:"time_slot_id"`
	SlotID             *int64 `json:"slot_id"`
	StartDate          string `json:"start_date"`
	EndDate            string `json:"end_date"`
	GivenName          string `json:"given_name"`
	Surname            string `json:"surname"`
	OtherNames         string `json:"other_names"`
	ContactNumber      string `json:"contact_number"`
	Email              string `json:"email"`
	FullContactAddress string `json:"full_contact_address"`
	NumAdults          *int   `json:"num_adults"`
	NumChildren        int    `json:"num_children"`
	Notes              string `json:"notes"`
	IsTnCAccepted      bool   `json:"is_tnc_accepted"`
}

// BookingResponse is a booking with its computed price
type BookingResponse struct {
	*models.Booking
	TotalPrice float64 `json:"total_price"`
}

func bookingResponse(b *models.Booking) BookingResponse {
	return BookingResponse{Booking: b, TotalPrice: b.TotalPrice()}
}

func bookingList(list []models.Booking) []BookingResponse {
	out := make([]BookingResponse, len(list))
	for i := range list {
		out[i] = bookingResponse(&list[i])
	}
	return out
}

func parseDateField(value, field string, fields map[string]string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		fields[field] = "Date has wrong format. Use YYYY-MM-DD."
		return nil
	}
	return &t
}

func (r *CreateBookingRequest) toInput() (services.CreateBookingInput, error) {
	fields := map[string]string{}
	input := services.CreateBookingInput{
		ServiceID:          r.ServiceID,
		PackageID:          r.PackageID,
		TimeSlotID:         r.TimeSlotID,
		StartDate:          parseDateField(r.StartDate, "start_date", fields),
		EndDate:            parseDateField(r.EndDate, "end_date", fields),
		GivenName:          r.GivenName,
		Surname:            r.Surname,
		OtherNames:         r.OtherNames,
		ContactNumber:      r.ContactNumber,
		Email:              r.Email,
		FullContactAddress: r.FullContactAddress,
		NumAdults:          r.NumAdults,
		NumChildren:        r.NumChildren,
		Notes:              r.Notes,
		IsTnCAccepted:      r.IsTnCAccepted,
	}
	if input.TimeSlotID == nil {
		input.TimeSlotID = r.SlotID
	}
	if len(fields) > 0 {
		return input, &services.ValidationError{Fields: fields}
	}
	return input, nil
}

// Create handles POST /api/v1/bookings
func (h *BookingHandler) Create(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	input, err := req.toInput()
	if err != nil {
		respondError(c, h.logger, err, "")
		return
	}

	booking, err := h.bookings.Create(c.Request.Context(), middleware.GetActor(c), input)
	if err != nil {
		respondError(c, h.logger, err, "")
		return
	}

	c.JSON(http.StatusCreated, bookingResponse(booking))
}

// Get handles GET /api/v1/bookings/:id
func (h *BookingHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookings.Get(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, h.logger, err, "Booking not found")
		return
	}

	c.JSON(http.StatusOK, bookingResponse(booking))
}

// GuestLookup handles GET /api/v1/bookings/guest/:id?email=
func (h *BookingHandler) GuestLookup(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookings.GuestLookup(c.Request.Context(), id, c.Query("email"))
	if err != nil {
		respondError(c, h.logger, err, "Booking not found")
		return
	}

	c.JSON(http.StatusOK, bookingResponse(booking))
}

// Cancel handles POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.bookings.Cancel(c.Request.Context(), middleware.GetActor(c), id); err != nil {
		respondError(c, h.logger, err, "Booking not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Booking cancelled"})
}

// UpdateStatus handles POST /api/v1/bookings/:id/status
func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid status", Code: "INVALID_STATUS"})
		return
	}

	if err := h.bookings.UpdateStatus(c.Request.Context(), middleware.GetActor(c), id, req.Status); err != nil {
		respondError(c, h.logger, err, "Booking not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Booking status updated"})
}

// Reject handles POST /api/v1/bookings/:id/reject
func (h *BookingHandler) Reject(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req struct {
		AdminNote string `json:"admin_note"`
	}
	// an empty body falls back to the default reason
	_ = c.ShouldBindJSON(&req)

	if err := h.bookings.Reject(c.Request.Context(), middleware.GetActor(c), id, req.AdminNote); err != nil {
		respondError(c, h.logger, err, "Booking not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Booking rejected"})
}

// ListMine handles GET /api/v1/bookings/mine
func (h *BookingHandler) ListMine(c *gin.Context) {
	bookings, err := h.bookings.ListMine(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		respondError(c, h.logger, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{"bookings": bookingList(bookings), "total": len(bookings)})
}

// ListForOperator handles GET /api/v1/operator/bookings
func (h *BookingHandler) ListForOperator(c *gin.Context) {
	bookings, err := h.bookings.ListForOperator(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		respondError(c, h.logger, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{"bookings": bookingList(bookings), "total": len(bookings)})
}

// ListAll handles GET /api/v1/admin/bookings?status=&limit=&offset=
func (h *BookingHandler) ListAll(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	bookings, err := h.bookings.ListAll(c.Request.Context(), middleware.GetActor(c), c.Query("status"), limit, offset)
	if err != nil {
		respondError(c, h.logger, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": bookingList(bookings),
		"total":    len(bookings),
		"limit":    limit,
		"offset":   offset,
	})
}
