package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/models"
	"github.com/tourhub/booking-backend/internal/services"
	"github.com/tourhub/booking-backend/internal/utils"
)

// GuestLimiter throttles guest access to bookings
type GuestLimiter interface {
	CheckGuestAccess(ctx context.Context, bookingID int64, ip string) error
	RecordGuestAccess(ctx context.Context, bookingID int64, ip string) error
}

// GuestRateLimit throttles guest requests that address a booking by the
// given path parameter. Authenticated callers pass through.
func GuestRateLimit(limiter GuestLimiter, param string, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetActor(c).Role != models.RoleGuest {
			c.Next()
			return
		}

		bookingID, _ := strconv.ParseInt(c.Param(param), 10, 64)
		ip := utils.GetRealIP(c)
		ctx := c.Request.Context()

		if err := limiter.CheckGuestAccess(ctx, bookingID, ip); err != nil {
			var rateErr *services.RateLimitError
			if errors.As(err, &rateErr) {
				logger.WithFields(logrus.Fields{
					"booking_id": bookingID,
					"ip":         ip,
					"type":       rateErr.Type,
				}).Warn("Guest access rate limited")
				c.Header("Retry-After", strconv.Itoa(int(time.Until(rateErr.RetryAfter).Seconds())+1))
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error": rateErr.Message,
					"code":  "RATE_LIMITED",
				})
				return
			}
			// fail open
			logger.WithError(err).Error("Guest rate limit check failed")
		}

		if err := limiter.RecordGuestAccess(ctx, bookingID, ip); err != nil {
			logger.WithError(err).Error("Failed to record guest access")
		}

		c.Next()
	}
}
