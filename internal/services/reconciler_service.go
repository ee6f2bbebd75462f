package services

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/models"
	"github.com/tourhub/booking-backend/internal/utils"
)

const chargeCompletedEvent = "charge.completed"

// Webhook acknowledgement texts
const (
	WebhookInvalidSignature  = "Invalid webhook signature"
	WebhookInvalidJSON       = "Invalid JSON"
	WebhookIgnored           = "Ignored"
	WebhookMissingTxRef      = "Missing tx_ref"
	WebhookUnknownTxn        = "Unknown transaction"
	WebhookAlreadyProcessed  = "Already processed"
	WebhookVerificationError = "Verification error"
	WebhookProcessed         = "Webhook processed"
)

// VerifyOutcome is the result of asking the gateway about a transaction
type VerifyOutcome string

const (
	VerifySuccess VerifyOutcome = "SUCCESS"
	VerifyFailed  VerifyOutcome = "FAILED"
	VerifyPending VerifyOutcome = "PENDING"
	VerifyIgnored VerifyOutcome = "IGNORED"
)

// VerifyResult reports a verification pass over one transaction
type VerifyResult struct {
	Reference     string        `json:"reference"`
	Outcome       VerifyOutcome `json:"result"`
	GatewayStatus string        `json:"gateway_status"`
}

// BookingRepairer heals a booking whose payment is recorded but not applied
type BookingRepairer interface {
	RepairPaid(ctx context.Context, bookingID int64) error
}

// BankTransferSummary is a pending bank transfer awaiting an admin
type BankTransferSummary struct {
	Reference  string  `json:"reference"`
	BookingID  int64   `json:"booking_id"`
	Amount     float64 `json:"amount"`
	HasReceipt bool    `json:"has_receipt"`
}

// SweepReport summarises one reconciliation pass
type SweepReport struct {
	StartedAt            time.Time                  `json:"started_at"`
	FinishedAt           time.Time                  `json:"finished_at"`
	Verified             int                        `json:"verified"`
	Succeeded            int                        `json:"succeeded"`
	Failed               int                        `json:"failed"`
	Pending              int                        `json:"pending"`
	Errors               int                        `json:"errors"`
	PendingBankTransfers []BankTransferSummary      `json:"pending_bank_transfers"`
	Repaired             int                        `json:"repaired"`
	Flagged              []models.PaymentDivergence `json:"flagged"`
}

// ReconcilerService keeps transactions, payments and bookings in agreement with the gateway
type ReconcilerService struct {
	txns          *TransactionService
	verifier      GatewayVerifier
	payments      PaymentStore
	bookings      BookingRepairer
	events        EventLogger
	webhookSecret string
	logger        *logrus.Logger
}

// NewReconcilerService creates a new ReconcilerService
func NewReconcilerService(
	txns *TransactionService,
	verifier GatewayVerifier,
	payments PaymentStore,
	bookings BookingRepairer,
	events EventLogger,
	webhookSecret string,
	logger *logrus.Logger,
) *ReconcilerService {
	return &ReconcilerService{
		txns:          txns,
		verifier:      verifier,
		payments:      payments,
		bookings:      bookings,
		events:        events,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// ============================================================================
// WEBHOOK
// ============================================================================

// ValidSignature compares the verif-hash header with the shared secret in constant time.
// A missing header or an unset secret never matches.
func (s *ReconcilerService) ValidSignature(header string) bool {
	if header == "" || s.webhookSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(s.webhookSecret)) == 1
}

// HandleWebhook processes a gateway callback and returns the acknowledgement text.
// The error, when set, classifies the response status.
func (s *ReconcilerService) HandleWebhook(ctx context.Context, signature string, body []byte, meta models.RequestMeta) (string, error) {
	startTime := time.Now()

	if !s.ValidSignature(signature) {
		s.logger.WithFields(logrus.Fields{
			"ip":         meta.IP,
			"has_header": signature != "",
		}).Warn("Rejected webhook with invalid signature")
		s.logEvent(ctx, models.NewPaymentEvent(models.PaymentEventWebhookRejected, models.PaymentSourceFlutterwaveWebhook).
			SetRequest(meta).
			SetHTTPStatus(403).
			SetError(WebhookInvalidSignature))
		return WebhookInvalidSignature, ErrForbidden
	}

	payload, err := decodeWebhook(body)
	if err != nil {
		s.logger.WithError(err).Warn("Webhook payload is not valid JSON")
		return WebhookInvalidJSON, NewValidationError(WebhookInvalidJSON)
	}

	event, _ := payload["event"].(string)
	if event != chargeCompletedEvent {
		s.logger.WithField("event", event).Info("Ignoring webhook event")
		return WebhookIgnored, nil
	}

	data, _ := payload["data"].(map[string]interface{})
	reference, _ := data["tx_ref"].(string)
	if reference == "" {
		s.logger.Warn("Webhook missing tx_ref")
		return WebhookMissingTxRef, NewValidationError(WebhookMissingTxRef)
	}

	txn, err := s.txns.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrUnknownTransaction) {
			s.logger.WithField("reference", reference).Error("Webhook for unknown transaction")
			return WebhookUnknownTxn, err
		}
		return WebhookVerificationError, err
	}

	device := utils.ParseUserAgent(meta.UserAgent)
	received := models.NewPaymentEvent(models.PaymentEventWebhookReceived, models.PaymentSourceFlutterwaveWebhook).
		ForTransaction(txn).
		SetPayload(payload).
		SetRequest(meta).
		SetDevice(device.DeviceType, device.Platform)

	if err := s.txns.MergeMeta(ctx, reference, map[string]interface{}{"flutterwave_webhook": payload}); err != nil {
		s.logger.WithError(err).WithField("reference", reference).Error("Failed to store webhook payload")
	}
	if flwID := stringID(data["id"]); flwID != "" && (txn.FlutterwaveID == nil || *txn.FlutterwaveID == "") {
		if err := s.txns.SetFlutterwaveID(ctx, reference, flwID); err != nil {
			s.logger.WithError(err).WithField("reference", reference).Error("Failed to store flutterwave id")
		}
	}

	if txn.Status == models.TransactionStatusSuccess {
		s.logger.WithField("reference", reference).Info("Webhook for already processed transaction")
		s.logEvent(ctx, received.MarkAsDuplicate().SetHTTPStatus(200).SetProcessingTime(startTime))
		return WebhookAlreadyProcessed, nil
	}

	result, err := s.Verify(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			s.logEvent(ctx, received.MarkAsDuplicate().SetHTTPStatus(200).SetProcessingTime(startTime))
			return WebhookAlreadyProcessed, nil
		}
		s.logger.WithError(err).WithField("reference", reference).Error("Webhook verification failed")
		s.logEvent(ctx, received.SetHTTPStatus(500).SetError(err.Error()).SetProcessingTime(startTime))
		return WebhookVerificationError, fmt.Errorf("verify %s: %w", reference, err)
	}

	s.logEvent(ctx, received.SetGateway(result.GatewayStatus, "").SetHTTPStatus(200).SetProcessingTime(startTime))
	return WebhookProcessed, nil
}

func decodeWebhook(body []byte) (map[string]interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var payload map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("payload is not an object")
	}
	return payload, nil
}

// stringID renders a gateway id that may arrive as a number or a string
func stringID(v interface{}) string {
	switch id := v.(type) {
	case json.Number:
		return id.String()
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	}
	return ""
}

// ============================================================================
// VERIFY
// ============================================================================

// Verify asks the gateway for the authoritative status and applies it.
// The HTTP call runs with no database transaction open.
func (s *ReconcilerService) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	txn, err := s.txns.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Reference: reference}
	if !txn.IsGateway() {
		result.Outcome = VerifyIgnored
		return result, nil
	}
	if txn.Status == models.TransactionStatusSuccess {
		result.Outcome = VerifySuccess
		return result, nil
	}

	startTime := time.Now()
	resp, fwID, verifyErr := s.lookup(ctx, txn)
	if errors.Is(verifyErr, ErrChargeNotFound) {
		s.logger.WithField("reference", reference).Info("Gateway has no charge for this reference yet")
		result.Outcome = VerifyPending
		return result, nil
	}
	if resp != nil {
		patch := map[string]interface{}{
			"last_fw_verify":   resp.Raw,
			"last_verify_time": time.Now().UTC().Format(time.RFC3339),
		}
		if err := s.txns.MergeMeta(ctx, reference, patch); err != nil {
			s.logger.WithError(err).WithField("reference", reference).Error("Failed to store verify response")
		}
		result.GatewayStatus = resp.Data.Status
	}
	if verifyErr != nil {
		s.logEvent(ctx, models.NewPaymentEvent(models.PaymentEventVerifyError, models.PaymentSourceFlutterwaveAPI).
			ForTransaction(txn).
			SetGateway(result.GatewayStatus, fwID).
			SetError(verifyErr.Error()).
			SetProcessingTime(startTime))
		result.Outcome = VerifyPending
		return result, verifyErr
	}

	event := models.NewPaymentEvent(models.PaymentEventVerifyResponse, models.PaymentSourceFlutterwaveAPI).
		ForTransaction(txn).
		SetGateway(resp.Data.Status, fwID).
		SetPayload(resp.Raw).
		SetProcessingTime(startTime)
	if resp.Data.Status == FlutterwaveStatusSuccessful && !event.SetAmounts(txn.Amount, resp.Data.Amount) {
		s.logger.WithFields(logrus.Fields{
			"reference": reference,
			"expected":  txn.Amount,
			"received":  resp.Data.Amount,
		}).Warn("Gateway amount differs from transaction amount")
	}
	s.logEvent(ctx, event)

	switch resp.Data.Status {
	case FlutterwaveStatusSuccessful:
		if _, err := s.txns.MarkSuccessful(ctx, reference); err != nil {
			return nil, err
		}
		result.Outcome = VerifySuccess
	case FlutterwaveStatusFailed, FlutterwaveStatusCancelled:
		if err := s.txns.MarkFailed(ctx, reference, "Gateway returned failed/cancelled"); err != nil {
			return nil, err
		}
		result.Outcome = VerifyFailed
	default:
		result.Outcome = VerifyPending
	}

	s.logger.WithFields(logrus.Fields{
		"reference":      reference,
		"gateway_status": result.GatewayStatus,
		"outcome":        result.Outcome,
	}).Info("Transaction verified")
	return result, nil
}

// lookup verifies by gateway id, or by reference when no redirect or webhook delivered the id.
// An id discovered by reference is stored on the transaction.
func (s *ReconcilerService) lookup(ctx context.Context, txn *models.Transaction) (*FlutterwaveVerifyResponse, string, error) {
	if txn.FlutterwaveID != nil && *txn.FlutterwaveID != "" {
		resp, err := s.verifier.VerifyTransaction(ctx, *txn.FlutterwaveID)
		return resp, *txn.FlutterwaveID, err
	}

	resp, err := s.verifier.VerifyByReference(ctx, txn.Reference)
	if err != nil || resp == nil || resp.Data.ID == 0 {
		return resp, "", err
	}
	fwID := strconv.FormatInt(resp.Data.ID, 10)
	if err := s.txns.SetFlutterwaveID(ctx, txn.Reference, fwID); err != nil {
		s.logger.WithError(err).WithField("reference", txn.Reference).Error("Failed to store flutterwave id")
	}
	return resp, fwID, nil
}

// ============================================================================
// SWEEP
// ============================================================================

// Sweep re-verifies open gateway transactions, lists pending bank transfers and
// repairs payments that were recorded but not applied to their booking.
func (s *ReconcilerService) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{
		StartedAt:            time.Now(),
		PendingBankTransfers: []BankTransferSummary{},
		Flagged:              []models.PaymentDivergence{},
	}

	open, err := s.txns.ListByStatus(ctx, models.ProviderFlutterwave,
		models.TransactionStatusInit, models.TransactionStatusPending)
	if err != nil {
		return nil, err
	}
	for _, txn := range open {
		report.Verified++
		result, err := s.Verify(ctx, txn.Reference)
		if err != nil {
			report.Errors++
			s.logger.WithError(err).WithField("reference", txn.Reference).Warn("Sweep could not verify transaction")
			continue
		}
		switch result.Outcome {
		case VerifySuccess:
			report.Succeeded++
		case VerifyFailed:
			report.Failed++
		case VerifyPending, VerifyIgnored:
			report.Pending++
		}
	}

	bank, err := s.txns.ListByStatus(ctx, models.ProviderBankTransfer, models.TransactionStatusPending)
	if err != nil {
		return nil, err
	}
	for _, txn := range bank {
		report.PendingBankTransfers = append(report.PendingBankTransfers, BankTransferSummary{
			Reference:  txn.Reference,
			BookingID:  txn.BookingID,
			Amount:     txn.Amount,
			HasReceipt: txn.HasReceipt(),
		})
	}

	divergences, err := s.payments.ListDivergences(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range divergences {
		fields := logrus.Fields{
			"booking_id":     d.BookingID,
			"reference":      d.Reference,
			"booking_status": d.BookingStatus,
		}
		if d.BookingStatus.IsTerminal() {
			report.Flagged = append(report.Flagged, d)
			s.logger.WithFields(fields).Error("Paid booking is closed, manual action required")
			continue
		}
		if err := s.bookings.RepairPaid(ctx, d.BookingID); err != nil {
			report.Errors++
			s.logger.WithError(err).WithFields(fields).Error("Failed to repair payment divergence")
			continue
		}
		report.Repaired++
		s.logger.WithFields(fields).Warn("Repaired booking that was paid but not marked")
	}

	report.FinishedAt = time.Now()
	s.logger.WithFields(logrus.Fields{
		"verified":     report.Verified,
		"succeeded":    report.Succeeded,
		"failed":       report.Failed,
		"pending":      report.Pending,
		"errors":       report.Errors,
		"bank_pending": len(report.PendingBankTransfers),
		"repaired":     report.Repaired,
		"flagged":      len(report.Flagged),
		"duration_ms":  report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	}).Info("Reconciliation sweep completed")
	return report, nil
}

// ============================================================================
// BANK TRANSFERS & ADMIN ACTIONS
// ============================================================================

// ApproveBankTransfer settles a pending bank transfer that has a receipt
func (s *ReconcilerService) ApproveBankTransfer(ctx context.Context, actor models.Actor, reference string, meta models.RequestMeta) error {
	txn, err := s.pendingBankTransfer(ctx, actor, reference)
	if err != nil {
		return err
	}
	if !txn.HasReceipt() {
		return NewValidationError("Receipt missing")
	}
	if _, err := s.txns.MarkSuccessful(ctx, reference); err != nil {
		return err
	}

	s.logAdminEvent(ctx, models.PaymentEventBankApproved, txn, actor, meta)
	s.logger.WithFields(logrus.Fields{
		"reference": reference,
		"admin":     actor.Label(),
	}).Info("Bank transfer approved")
	return nil
}

// RejectBankTransfer fails a pending bank transfer, with or without a receipt
func (s *ReconcilerService) RejectBankTransfer(ctx context.Context, actor models.Actor, reference string, meta models.RequestMeta) error {
	txn, err := s.pendingBankTransfer(ctx, actor, reference)
	if err != nil {
		return err
	}
	if err := s.txns.MarkFailed(ctx, reference, "Admin rejected transfer"); err != nil {
		return err
	}

	s.logAdminEvent(ctx, models.PaymentEventBankRejected, txn, actor, meta)
	s.logger.WithFields(logrus.Fields{
		"reference": reference,
		"admin":     actor.Label(),
	}).Info("Bank transfer rejected")
	return nil
}

func (s *ReconcilerService) pendingBankTransfer(ctx context.Context, actor models.Actor, reference string) (*models.Transaction, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	txn, err := s.txns.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.Provider != models.ProviderBankTransfer {
		return nil, NewValidationError("Not a bank transfer")
	}
	if txn.Status != models.TransactionStatusPending {
		return nil, fmt.Errorf("transaction %s is %s: %w", reference, txn.Status, ErrAlreadyProcessed)
	}
	return txn, nil
}

// RetryVerification is the admin "verify again" action
func (s *ReconcilerService) RetryVerification(ctx context.Context, actor models.Actor, reference string) (*VerifyResult, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	result, err := s.Verify(ctx, reference)
	if err != nil && errors.Is(err, ErrUpstreamGateway) && result != nil {
		// gateway trouble is reported as pending; the sweep will retry
		s.logger.WithError(err).WithField("reference", reference).Warn("Manual verification left transaction pending")
		return result, nil
	}
	return result, err
}

// ForceSuccess lets an admin settle a transaction by hand
func (s *ReconcilerService) ForceSuccess(ctx context.Context, actor models.Actor, reference string, meta models.RequestMeta) (bool, error) {
	if !actor.IsAdmin() {
		return false, ErrForbidden
	}
	txn, err := s.txns.GetByReference(ctx, reference)
	if err != nil {
		return false, err
	}
	changed, err := s.txns.MarkSuccessful(ctx, reference)
	if err != nil {
		return false, err
	}
	if changed {
		s.logAdminEvent(ctx, models.PaymentEventSuccess, txn, actor, meta)
	}
	return changed, nil
}

func (s *ReconcilerService) logAdminEvent(ctx context.Context, eventType models.PaymentEventType, txn *models.Transaction, actor models.Actor, meta models.RequestMeta) {
	device := utils.ParseUserAgent(meta.UserAgent)
	s.logEvent(ctx, models.NewPaymentEvent(eventType, models.PaymentSourceAdmin).
		ForTransaction(txn).
		SetActor(actor).
		SetRequest(meta).
		SetDevice(device.DeviceType, device.Platform))
}

func (s *ReconcilerService) logEvent(ctx context.Context, event *models.PaymentEvent) {
	if s.events == nil {
		return
	}
	_ = s.events.Log(context.WithoutCancel(ctx), event)
}
