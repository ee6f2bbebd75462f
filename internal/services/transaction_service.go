package services

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/config"
	"github.com/tourhub/booking-backend/internal/models"
	"github.com/tourhub/booking-backend/internal/utils"
	"golang.org/x/crypto/blake2b"
)

// TransactionStore is the payment attempt persistence
type TransactionStore interface {
	Create(ctx context.Context, txn *models.Transaction) error
	GetByReference(ctx context.Context, reference string) (*models.Transaction, error)
	LockByReference(ctx context.Context, tx *sqlx.Tx, reference string) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, id int64, status models.TransactionStatus) error
	MergeMeta(ctx context.Context, exec sqlx.ExecerContext, reference string, patch map[string]interface{}) error
	SetFlutterwaveID(ctx context.Context, reference, flutterwaveID string) error
	AttachReceipt(ctx context.Context, reference, path, digest string) (bool, error)
	ListByProviderAndStatus(ctx context.Context, provider models.TransactionProvider, statuses ...models.TransactionStatus) ([]models.Transaction, error)
}

// PaymentStore is the one-per-booking payment record persistence
type PaymentStore interface {
	Upsert(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error
	GetByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error)
	ListDivergences(ctx context.Context) ([]models.PaymentDivergence, error)
}

// EventLogger appends payment audit events
type EventLogger interface {
	Log(ctx context.Context, event *models.PaymentEvent) error
}

// BookingPayer settles a booking inside an open transaction and reads it on behalf of an actor
type BookingPayer interface {
	MarkPaid(ctx context.Context, tx *sqlx.Tx, bookingID int64) ([]models.Notification, error)
	Get(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error)
}

var receiptExtensions = map[string]bool{
	".pdf":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// TransactionService is the ledger of payment attempts
type TransactionService struct {
	db         *sqlx.DB
	txns       TransactionStore
	payments   PaymentStore
	bookings   BookingPayer
	events     EventLogger
	dispatcher Dispatcher
	receipts   config.ReceiptConfig
	logger     *logrus.Logger
}

// NewTransactionService creates a new TransactionService
func NewTransactionService(
	db *sqlx.DB,
	txns TransactionStore,
	payments PaymentStore,
	bookings BookingPayer,
	events EventLogger,
	dispatcher Dispatcher,
	receipts config.ReceiptConfig,
	logger *logrus.Logger,
) *TransactionService {
	return &TransactionService{
		db:         db,
		txns:       txns,
		payments:   payments,
		bookings:   bookings,
		events:     events,
		dispatcher: dispatcher,
		receipts:   receipts,
		logger:     logger,
	}
}

// Create opens a payment attempt with a fresh reference
func (s *TransactionService) Create(ctx context.Context, bookingID int64, amount float64, provider models.TransactionProvider) (*models.Transaction, error) {
	prefix, length, status := "TXN-", 12, models.TransactionStatusInit
	if provider == models.ProviderBankTransfer {
		prefix, length, status = "BANK-", 10, models.TransactionStatusPending
	}

	reference, err := utils.GenerateReference(prefix, length)
	if err != nil {
		return nil, fmt.Errorf("failed to generate reference: %w", err)
	}

	txn := &models.Transaction{
		BookingID: bookingID,
		Reference: reference,
		Amount:    amount,
		Provider:  provider,
		Status:    status,
		Meta:      models.JSONB{},
	}
	if err := s.txns.Create(ctx, txn); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"reference":  reference,
		"booking_id": bookingID,
		"provider":   provider,
		"amount":     amount,
	}).Info("Transaction created")
	return txn, nil
}

// GetByReference returns a transaction or ErrUnknownTransaction
func (s *TransactionService) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	txn, err := s.txns.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, fmt.Errorf("%s: %w", reference, ErrUnknownTransaction)
	}
	return txn, nil
}

// ListByStatus returns a provider's transactions in any of the given statuses
func (s *TransactionService) ListByStatus(ctx context.Context, provider models.TransactionProvider, statuses ...models.TransactionStatus) ([]models.Transaction, error) {
	return s.txns.ListByProviderAndStatus(ctx, provider, statuses...)
}

// MarkSuccessful settles a transaction: status, payment record and booking commit together.
// Returns false when the transaction was already successful.
func (s *TransactionService) MarkSuccessful(ctx context.Context, reference string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txn, err := s.txns.LockByReference(ctx, tx, reference)
	if err != nil {
		return false, err
	}
	if txn == nil {
		return false, fmt.Errorf("%s: %w", reference, ErrUnknownTransaction)
	}

	switch txn.Status {
	case models.TransactionStatusSuccess:
		return false, nil
	case models.TransactionStatusFailed:
		return false, fmt.Errorf("transaction %s already failed: %w", reference, ErrAlreadyProcessed)
	}

	if err := s.txns.UpdateStatus(ctx, tx, txn.ID, models.TransactionStatusSuccess); err != nil {
		return false, err
	}

	paidAt := time.Now()
	payment := &models.Payment{
		BookingID: txn.BookingID,
		Amount:    txn.Amount,
		Provider:  txn.Provider,
		Status:    models.PaymentRecordPaid,
		Reference: txn.Reference,
		PaidAt:    &paidAt,
	}
	if err := s.payments.Upsert(ctx, tx, payment); err != nil {
		return false, err
	}

	notices, err := s.bookings.MarkPaid(ctx, tx, txn.BookingID)
	mismatch := errors.Is(err, ErrInconsistent)
	if err != nil && !mismatch {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit payment: %w", err)
	}
	txn.Status = models.TransactionStatusSuccess

	fields := logrus.Fields{
		"reference":  reference,
		"booking_id": txn.BookingID,
		"provider":   txn.Provider,
		"amount":     txn.Amount,
	}
	if mismatch {
		s.logger.WithError(err).WithFields(fields).Error("Payment settled against a closed booking, manual action required")
		s.logEvent(ctx, models.NewPaymentEvent(models.PaymentEventReconciliationMismatch, models.PaymentSourceSystem).
			ForTransaction(txn).
			SetError(err.Error()))
	} else {
		s.logger.WithFields(fields).Info("Transaction marked successful")
	}
	s.logEvent(ctx, models.NewPaymentEvent(models.PaymentEventSuccess, models.PaymentSourceSystem).ForTransaction(txn))

	if len(notices) > 0 && s.dispatcher != nil {
		s.dispatcher.Dispatch(context.WithoutCancel(ctx), notices)
	}
	return true, nil
}

// MarkFailed records a failed attempt. A failed transaction is left as is.
func (s *TransactionService) MarkFailed(ctx context.Context, reference, reason string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txn, err := s.txns.LockByReference(ctx, tx, reference)
	if err != nil {
		return err
	}
	if txn == nil {
		return fmt.Errorf("%s: %w", reference, ErrUnknownTransaction)
	}

	switch txn.Status {
	case models.TransactionStatusFailed:
		return nil
	case models.TransactionStatusSuccess:
		return fmt.Errorf("transaction %s already successful: %w", reference, ErrAlreadyProcessed)
	}

	if err := s.txns.UpdateStatus(ctx, tx, txn.ID, models.TransactionStatusFailed); err != nil {
		return err
	}
	if err := s.txns.MergeMeta(ctx, tx, reference, map[string]interface{}{"failure_reason": reason}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction failure: %w", err)
	}
	txn.Status = models.TransactionStatusFailed

	s.logger.WithFields(logrus.Fields{
		"reference":  reference,
		"booking_id": txn.BookingID,
		"reason":     reason,
	}).Warn("Transaction marked failed")
	s.logEvent(ctx, models.NewPaymentEvent(models.PaymentEventFailed, models.PaymentSourceSystem).
		ForTransaction(txn).
		SetError(reason))
	return nil
}

// MergeMeta adds keys to a transaction's metadata without dropping existing ones
func (s *TransactionService) MergeMeta(ctx context.Context, reference string, patch map[string]interface{}) error {
	return s.txns.MergeMeta(ctx, s.db, reference, patch)
}

// SetFlutterwaveID stores the gateway id if the transaction has none yet
func (s *TransactionService) SetFlutterwaveID(ctx context.Context, reference, flutterwaveID string) error {
	if flutterwaveID == "" {
		return nil
	}
	return s.txns.SetFlutterwaveID(ctx, reference, flutterwaveID)
}

// AttachReceipt stores a bank transfer receipt and records its BLAKE2b digest
func (s *TransactionService) AttachReceipt(ctx context.Context, actor models.Actor, reference, filename string, content io.Reader, meta models.RequestMeta) (*models.Transaction, error) {
	if !actor.IsAuthenticated() {
		return nil, ErrForbidden
	}

	txn, err := s.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.Provider != models.ProviderBankTransfer {
		return nil, NewValidationError("Not a bank transfer")
	}
	if txn.Status != models.TransactionStatusPending {
		return nil, fmt.Errorf("transaction %s is %s: %w", reference, txn.Status, ErrAlreadyProcessed)
	}

	// only the customer who booked, or an admin, may supply the proof of payment
	booking, err := s.bookings.Get(ctx, actor, txn.BookingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.Is(booking.UserID) {
		return nil, ErrForbidden
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !receiptExtensions[ext] {
		return nil, NewFieldError("receipt", "Receipt must be a PDF, JPG or PNG file.")
	}

	data, err := io.ReadAll(io.LimitReader(content, s.receipts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt: %w", err)
	}
	if len(data) == 0 {
		return nil, NewFieldError("receipt", "Receipt file is empty.")
	}
	if int64(len(data)) > s.receipts.MaxBytes {
		return nil, NewFieldError("receipt", "Receipt file is too large.")
	}

	sum := blake2b.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	if err := os.MkdirAll(s.receipts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create receipt directory: %w", err)
	}
	path := filepath.Join(s.receipts.Dir, reference+ext)
	if err := writeFile(path, data); err != nil {
		return nil, err
	}

	ok, err := s.txns.AttachReceipt(ctx, reference, path, digest)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("transaction %s is no longer pending: %w", reference, ErrAlreadyProcessed)
	}
	txn.ReceiptPath = &path
	txn.ReceiptDigest = &digest

	s.logger.WithFields(logrus.Fields{
		"reference": reference,
		"digest":    digest,
		"bytes":     len(data),
	}).Info("Bank transfer receipt attached")

	device := utils.ParseUserAgent(meta.UserAgent)
	s.logEvent(ctx, models.NewPaymentEvent(models.PaymentEventReceiptUploaded, models.PaymentSourceUser).
		ForTransaction(txn).
		SetActor(actor).
		SetRequest(meta).
		SetDevice(device.DeviceType, device.Platform))
	return txn, nil
}

func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open receipt file: %w", err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write receipt file: %w", err)
	}
	return f.Close()
}

func (s *TransactionService) logEvent(ctx context.Context, event *models.PaymentEvent) {
	if s.events == nil {
		return
	}
	// the repository already logs failures
	_ = s.events.Log(context.WithoutCancel(ctx), event)
}
