package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
)

// RateLimitService throttles guest access by booking id and client IP.
// Guest lookups and guest checkouts are keyed by id plus email, so without
// a limit the pair can be enumerated.
type RateLimitService struct {
	db     *sqlx.DB
	config RateLimitConfig
}

// NewRateLimitService creates a new rate limit service
func NewRateLimitService(db *sqlx.DB, config RateLimitConfig) *RateLimitService {
	return &RateLimitService{
		db:     db,
		config: config,
	}
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	MaxBookingRequests int           // Max guest attempts per booking id
	BookingWindow      time.Duration // Time window for booking rate limit
	MaxIPRequests      int           // Max guest attempts per IP
	IPWindow           time.Duration // Time window for IP rate limit
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxBookingRequests: 5,                // 5 attempts
		BookingWindow:      15 * time.Minute, // per 15 minutes
		MaxIPRequests:      30,               // 30 attempts
		IPWindow:           1 * time.Hour,    // per hour
	}
}

// RateLimitError represents a rate limit exceeded error
type RateLimitError struct {
	Message    string
	RetryAfter time.Time
	Type       string // "booking" or "ip"
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// CheckGuestAccess checks if a booking id or IP has exceeded its limit
func (s *RateLimitService) CheckGuestAccess(ctx context.Context, bookingID int64, ip string) error {
	if bookingID > 0 {
		count, lastRequest, err := s.getRequestCount(ctx, strconv.FormatInt(bookingID, 10), "booking", s.config.BookingWindow)
		if err != nil {
			return fmt.Errorf("failed to check booking rate limit: %w", err)
		}

		if count >= s.config.MaxBookingRequests {
			retryAfter := lastRequest.Add(s.config.BookingWindow)
			return &RateLimitError{
				Message:    fmt.Sprintf("Too many attempts for this booking. Please try again after %s", retryAfter.Format("15:04:05")),
				RetryAfter: retryAfter,
				Type:       "booking",
			}
		}
	}

	if ip != "" {
		count, lastRequest, err := s.getRequestCount(ctx, ip, "ip", s.config.IPWindow)
		if err != nil {
			return fmt.Errorf("failed to check IP rate limit: %w", err)
		}

		if count >= s.config.MaxIPRequests {
			retryAfter := lastRequest.Add(s.config.IPWindow)
			return &RateLimitError{
				Message:    fmt.Sprintf("Too many requests from this IP address. Please try again after %s", retryAfter.Format("15:04:05")),
				RetryAfter: retryAfter,
				Type:       "ip",
			}
		}
	}

	return nil
}

// getRequestCount gets the number of attempts within the time window
func (s *RateLimitService) getRequestCount(ctx context.Context, identifier, identifierType string, window time.Duration) (int, time.Time, error) {
	query := `
		SELECT COUNT(*), COALESCE(MAX(created_at), NOW())
		FROM guest_access_attempts
		WHERE identifier = $1
		  AND identifier_type = $2
		  AND created_at > $3`

	var count int
	var lastRequest time.Time
	if err := s.db.QueryRowxContext(ctx, query, identifier, identifierType, time.Now().Add(-window)).Scan(&count, &lastRequest); err != nil {
		return 0, time.Time{}, err
	}

	return count, lastRequest, nil
}

// RecordGuestAccess records one guest attempt against the booking id and IP
func (s *RateLimitService) RecordGuestAccess(ctx context.Context, bookingID int64, ip string) error {
	if bookingID > 0 {
		if err := s.recordRequest(ctx, strconv.FormatInt(bookingID, 10), "booking"); err != nil {
			return fmt.Errorf("failed to record booking attempt: %w", err)
		}
	}

	if ip != "" {
		if err := s.recordRequest(ctx, ip, "ip"); err != nil {
			return fmt.Errorf("failed to record IP attempt: %w", err)
		}
	}

	return nil
}

func (s *RateLimitService) recordRequest(ctx context.Context, identifier, identifierType string) error {
	query := `
		INSERT INTO guest_access_attempts (identifier, identifier_type, created_at)
		VALUES ($1, $2, NOW())`

	_, err := s.db.ExecContext(ctx, query, identifier, identifierType)
	return err
}

// CleanupExpired removes attempts older than the longest window
func (s *RateLimitService) CleanupExpired(ctx context.Context) (int64, error) {
	maxWindow := s.config.IPWindow
	if s.config.BookingWindow > maxWindow {
		maxWindow = s.config.BookingWindow
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM guest_access_attempts WHERE created_at < $1`, time.Now().Add(-maxWindow))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup rate limits: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
