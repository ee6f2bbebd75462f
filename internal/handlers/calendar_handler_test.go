package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourhub/booking-backend/internal/models"
	"github.com/tourhub/booking-backend/internal/services"
)

func TestCalendarHandler_GetCalendar(t *testing.T) {
	stub := &stubCalendar{calendar: &services.Calendar{
		Service: services.CalendarServiceInfo{ID: 1, Title: "Lagos City Tour", Slug: "lagos-city-tour"},
		Calendar: map[string][]services.CalendarSlot{
			"2026-11-02": {{TimeSlotID: 21, StartTime: "09:00", EndTime: "11:00", Capacity: 10, Remaining: 7, Available: true}},
		},
	}}
	router := newRouter(models.Guest())
	router.GET("/services/:slug/calendar", NewCalendarHandler(stub, quietLogger()).GetCalendar)

	w := doJSON(t, router, http.MethodGet, "/services/lagos-city-tour/calendar?from=2026-11-01&to=2026-11-30", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"remaining":7`)
	require.NotNil(t, stub.from)
	require.NotNil(t, stub.to)
	assert.Equal(t, 30, stub.to.Day())

	t.Run("open range", func(t *testing.T) {
		doJSON(t, router, http.MethodGet, "/services/lagos-city-tour/calendar", nil)
		assert.Nil(t, stub.from)
		assert.Nil(t, stub.to)
	})

	t.Run("bad date", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/services/lagos-city-tour/calendar?from=tomorrow", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), `"from"`)
	})

	t.Run("unknown service", func(t *testing.T) {
		stub.err = fmt.Errorf("service %q: %w", "nope", services.ErrNotFound)
		defer func() { stub.err = nil }()

		w := doJSON(t, router, http.MethodGet, "/services/nope/calendar", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Service not found", decode(t, w)["error"])
	})
}

func TestCalendarHandler_CreateAvailability(t *testing.T) {
	stub := &stubCalendar{availability: &models.ServiceAvailability{ID: 5, ServiceID: 1}}
	router := newRouter(models.NewActor(uuid.New(), models.RoleOperator, "Op"))
	router.POST("/operator/services/:id/availabilities", NewCalendarHandler(stub, quietLogger()).CreateAvailability)

	w := doJSON(t, router, http.MethodPost, "/operator/services/1/availabilities", map[string]interface{}{
		"start_date":     "2026-11-02",
		"end_date":       "2026-11-08",
		"available_days": []string{"Monday", "wednesday"},
	})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, stub.availInput.IsActive)
	assert.Equal(t, []string{"Monday", "wednesday"}, stub.availInput.AvailableDays)

	t.Run("inactive window", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/operator/services/1/availabilities", map[string]interface{}{
			"start_date": "2026-11-02",
			"end_date":   "2026-11-08",
			"is_active":  false,
		})
		require.Equal(t, http.StatusCreated, w.Code)
		assert.False(t, stub.availInput.IsActive)
	})

	t.Run("missing dates", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/operator/services/1/availabilities", map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("overlap", func(t *testing.T) {
		stub.err = services.NewFieldError(services.NonFieldKey, "This availability overlaps an existing active window.")
		defer func() { stub.err = nil }()

		w := doJSON(t, router, http.MethodPost, "/operator/services/1/availabilities", map[string]interface{}{
			"start_date": "2026-11-02",
			"end_date":   "2026-11-08",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), services.NonFieldKey)
	})
}

func TestCalendarHandler_CreateTimeSlot(t *testing.T) {
	stub := &stubCalendar{slot: &models.ServiceTimeSlot{ID: 30, StartTime: "07:30", EndTime: "09:00", Capacity: 12}}
	router := newRouter(admin())
	router.POST("/operator/availabilities/:id/slots", NewCalendarHandler(stub, quietLogger()).CreateTimeSlot)

	w := doJSON(t, router, http.MethodPost, "/operator/availabilities/5/slots", map[string]interface{}{
		"start_time": "7:30",
		"end_time":   "09:00",
		"capacity":   12,
	})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "7:30", stub.slotInput.StartTime)
	assert.Equal(t, 12, stub.slotInput.Capacity)
	assert.True(t, stub.slotInput.IsActive)

	stub.err = services.ErrForbidden
	w = doJSON(t, router, http.MethodPost, "/operator/availabilities/5/slots", map[string]interface{}{"capacity": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
