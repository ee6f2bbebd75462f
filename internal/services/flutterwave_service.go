package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/config"
)

// Flutterwave transaction statuses returned by the verify endpoint
const (
	FlutterwaveStatusSuccessful = "successful"
	FlutterwaveStatusFailed     = "failed"
	FlutterwaveStatusCancelled  = "cancelled"
)

// GatewayVerifier asks the gateway for the authoritative status of a charge
type GatewayVerifier interface {
	VerifyTransaction(ctx context.Context, flutterwaveID string) (*FlutterwaveVerifyResponse, error)
	VerifyByReference(ctx context.Context, txRef string) (*FlutterwaveVerifyResponse, error)
}

// FlutterwaveService is the server-to-server client for the Flutterwave v3 API
type FlutterwaveService struct {
	config *config.PaymentConfig
	logger *logrus.Logger
	client *http.Client
}

// FlutterwaveVerifyResponse is the body of GET /v3/transactions/{id}/verify
type FlutterwaveVerifyResponse struct {
	Status  string                `json:"status"`  // "success" or "error", about the API call itself
	Message string                `json:"message"`
	Data    FlutterwaveChargeData `json:"data"`

	// Raw is the decoded body, kept verbatim for the transaction audit trail
	Raw map[string]interface{} `json:"-"`
}

// FlutterwaveChargeData describes the charge being verified
type FlutterwaveChargeData struct {
	ID       int64   `json:"id"`
	TxRef    string  `json:"tx_ref"`
	FlwRef   string  `json:"flw_ref"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Status   string  `json:"status"` // successful, failed, cancelled, pending
}

// NewFlutterwaveService creates a new Flutterwave client
func NewFlutterwaveService(cfg *config.PaymentConfig, logger *logrus.Logger) *FlutterwaveService {
	timeout := cfg.VerifyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FlutterwaveService{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// VerifyTransaction calls the verify endpoint. Network, status and decode failures wrap ErrUpstreamGateway;
// when the body decoded, it is returned alongside the error so callers can still record it.
func (s *FlutterwaveService) VerifyTransaction(ctx context.Context, flutterwaveID string) (*FlutterwaveVerifyResponse, error) {
	if flutterwaveID == "" {
		return nil, fmt.Errorf("missing flutterwave id: %w", ErrUpstreamGateway)
	}

	endpoint := fmt.Sprintf("%s/v3/transactions/%s/verify",
		strings.TrimRight(s.config.FlutterwaveBaseURL, "/"), url.PathEscape(flutterwaveID))

	result, statusCode, err := s.get(ctx, endpoint, logrus.Fields{"flutterwave_id": flutterwaveID})
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return result, fmt.Errorf("verify returned HTTP %d (%s): %w", statusCode, result.Message, ErrUpstreamGateway)
	}
	return result, nil
}

// VerifyByReference looks a charge up by our tx_ref, for transactions whose gateway id never reached us.
// A reference the gateway has not seen yet wraps ErrChargeNotFound; other failures wrap ErrUpstreamGateway.
func (s *FlutterwaveService) VerifyByReference(ctx context.Context, txRef string) (*FlutterwaveVerifyResponse, error) {
	if txRef == "" {
		return nil, fmt.Errorf("missing tx_ref: %w", ErrUpstreamGateway)
	}

	endpoint := fmt.Sprintf("%s/v3/transactions/verify_by_reference?%s",
		strings.TrimRight(s.config.FlutterwaveBaseURL, "/"), url.Values{"tx_ref": {txRef}}.Encode())

	result, statusCode, err := s.get(ctx, endpoint, logrus.Fields{"tx_ref": txRef})
	if err != nil {
		return nil, err
	}
	if statusCode == http.StatusNotFound ||
		(result.Status == "error" && strings.Contains(strings.ToLower(result.Message), "no transaction")) {
		return result, fmt.Errorf("%s: %w", txRef, ErrChargeNotFound)
	}
	if statusCode < 200 || statusCode >= 300 {
		return result, fmt.Errorf("verify by reference returned HTTP %d (%s): %w", statusCode, result.Message, ErrUpstreamGateway)
	}
	return result, nil
}

// get performs an authenticated GET and decodes a verify-shaped body
func (s *FlutterwaveService) get(ctx context.Context, endpoint string, fields logrus.Fields) (*FlutterwaveVerifyResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.FlutterwaveSecretKey)
	req.Header.Set("Content-Type", "application/json")

	s.logger.WithFields(fields).Info("Verifying Flutterwave transaction")

	startTime := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Error("Flutterwave verify request failed")
		return nil, 0, fmt.Errorf("verify request failed: %v: %w", err, ErrUpstreamGateway)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read verify response: %v: %w", err, ErrUpstreamGateway)
	}

	var result FlutterwaveVerifyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		s.logger.WithError(err).WithFields(fields).WithField("status_code", resp.StatusCode).
			Error("Failed to decode Flutterwave verify response")
		return nil, 0, fmt.Errorf("failed to decode verify response: %v: %w", err, ErrUpstreamGateway)
	}
	if err := json.Unmarshal(body, &result.Raw); err != nil {
		result.Raw = map[string]interface{}{}
	}

	s.logger.WithFields(fields).WithFields(logrus.Fields{
		"status_code":   resp.StatusCode,
		"charge_status": result.Data.Status,
		"duration_ms":   time.Since(startTime).Milliseconds(),
	}).Info("Flutterwave verify response received")

	return &result, resp.StatusCode, nil
}
