package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/middleware"
	"github.com/tourhub/booking-backend/internal/models"
	"github.com/tourhub/booking-backend/internal/services"
)

// CalendarManager expands and edits service availability
type CalendarManager interface {
	Expand(ctx context.Context, slug string, from, to *time.Time) (*services.Calendar, error)
	CreateAvailability(ctx context.Context, actor models.Actor, serviceID int64, input services.AvailabilityInput) (*models.ServiceAvailability, error)
	CreateTimeSlot(ctx context.Context, actor models.Actor, availabilityID int64, input services.SlotInput) (*models.ServiceTimeSlot, error)
}

// CalendarHandler handles availability calendar HTTP requests
type CalendarHandler struct {
	calendar CalendarManager
	logger   *logrus.Logger
}

// NewCalendarHandler creates a new calendar handler
func NewCalendarHandler(calendar CalendarManager, logger *logrus.Logger) *CalendarHandler {
	return &CalendarHandler{calendar: calendar, logger: logger}
}

// GetCalendar handles GET /api/v1/services/:slug/calendar?from=&to=
func (h *CalendarHandler) GetCalendar(c *gin.Context) {
	fields := map[string]string{}
	from := parseDateField(c.Query("from"), "from", fields)
	to := parseDateField(c.Query("to"), "to", fields)
	if len(fields) > 0 {
		respondError(c, h.logger, &services.ValidationError{Fields: fields}, "")
		return
	}

	calendar, err := h.calendar.Expand(c.Request.Context(), c.Param("slug"), from, to)
	if err != nil {
		respondError(c, h.logger, err, "Service not found")
		return
	}

	c.JSON(http.StatusOK, calendar)
}

// CreateAvailabilityRequest is the body of POST /operator/services/:id/availabilities
type CreateAvailabilityRequest struct {
	StartDate     string   `json:"start_date" binding:"required"`
	EndDate       string   `json:"end_date" binding:"required"`
	AvailableDays []string `json:"available_days"`
	IsActive      *bool    `json:"is_active"`
}

// CreateAvailability handles POST /api/v1/operator/services/:id/availabilities
func (h *CalendarHandler) CreateAvailability(c *gin.Context) {
	serviceID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req CreateAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "start_date and end_date are required")
		return
	}

	fields := map[string]string{}
	start := parseDateField(req.StartDate, "start_date", fields)
	end := parseDateField(req.EndDate, "end_date", fields)
	if len(fields) > 0 {
		respondError(c, h.logger, &services.ValidationError{Fields: fields}, "")
		return
	}

	input := services.AvailabilityInput{
		StartDate:     *start,
		EndDate:       *end,
		AvailableDays: req.AvailableDays,
		IsActive:      req.IsActive == nil || *req.IsActive,
	}
	availability, err := h.calendar.CreateAvailability(c.Request.Context(), middleware.GetActor(c), serviceID, input)
	if err != nil {
		respondError(c, h.logger, err, "Service not found")
		return
	}

	c.JSON(http.StatusCreated, availability)
}

// CreateTimeSlotRequest is the body of POST /operator/availabilities/:id/slots
type CreateTimeSlotRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Capacity  int    `json:"capacity"`
	IsActive  *bool  `json:"is_active"`
}

// CreateTimeSlot handles POST /api/v1/operator/availabilities/:id/slots
func (h *CalendarHandler) CreateTimeSlot(c *gin.Context) {
	availabilityID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req CreateTimeSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	input := services.SlotInput{
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Capacity:  req.Capacity,
		IsActive:  req.IsActive == nil || *req.IsActive,
	}
	slot, err := h.calendar.CreateTimeSlot(c.Request.Context(), middleware.GetActor(c), availabilityID, input)
	if err != nil {
		respondError(c, h.logger, err, "Availability not found")
		return
	}

	c.JSON(http.StatusCreated, slot)
}
