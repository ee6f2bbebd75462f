package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/services"
)

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

// respondError maps a service error onto a status code and error body.
// notFound overrides the default "Not found" message.
func respondError(c *gin.Context, logger *logrus.Logger, err error, notFound string) {
	var validation *services.ValidationError
	var capacity *services.CapacityExceededError

	switch {
	case errors.As(err, &capacity):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:  capacity.Error(),
			Code:   "CAPACITY_EXCEEDED",
			Fields: map[string]string{"time_slot": capacity.Error()},
		})
	case errors.As(err, &validation):
		message := validation.Message
		if message == "" {
			message = "Validation failed"
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: message, Code: "VALIDATION_ERROR", Fields: validation.Fields})
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrUnknownTransaction):
		if notFound == "" {
			notFound = "Not found"
		}
		c.JSON(http.StatusNotFound, ErrorResponse{Error: notFound, Code: "NOT_FOUND"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error: "You don't have permission to perform this action",
			Code:  "FORBIDDEN",
		})
	case errors.Is(err, services.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid status", Code: "INVALID_STATUS"})
	case errors.Is(err, services.ErrAlreadyProcessed):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Already processed", Code: "ALREADY_PROCESSED"})
	case errors.Is(err, services.ErrSweepRunning):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "A reconciliation sweep is already running", Code: "SWEEP_RUNNING"})
	case errors.Is(err, services.ErrUpstreamGateway):
		logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Payment gateway error")
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Payment gateway unavailable", Code: "UPSTREAM_GATEWAY_ERROR"})
	case errors.Is(err, services.ErrInconsistent):
		logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Integrity fault")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Inconsistent state", Code: "INCONSISTENT_STATE"})
	default:
		logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Error("Request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Code: "INTERNAL_ERROR"})
	}
}

// badRequest writes a validation error for malformed input
func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: message, Code: "VALIDATION_ERROR"})
}

// paramID parses a positive integer path parameter
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid "+name)
		return 0, false
	}
	return id, true
}
