package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/config"
	"github.com/tourhub/booking-backend/internal/models"
)

const referencePlaceholder = "{reference}"

// PayableBookings resolves the booking a caller is about to pay for
type PayableBookings interface {
	GetForPayment(ctx context.Context, actor models.Actor, bookingID int64, email string) (*models.Booking, error)
}

// BookingReader loads a booking by id
type BookingReader interface {
	GetByID(ctx context.Context, id int64) (*models.Booking, error)
}

// TransactionVerifier applies the gateway's view of a transaction
type TransactionVerifier interface {
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
}

// PaymentInit is returned when a card payment is started
type PaymentInit struct {
	PaymentURL string `json:"payment_url"`
	Reference  string `json:"reference"`
	Status     string `json:"status"`
}

// BankDetails is the account a customer transfers to
type BankDetails struct {
	Bank          string `json:"bank"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
}

// BankTransferInit is returned when a bank transfer is started
type BankTransferInit struct {
	Reference   string      `json:"reference"`
	Amount      float64     `json:"amount"`
	BankDetails BankDetails `json:"bank_details"`
}

// PaymentStatusView is the public status of a transaction and its booking
type PaymentStatusView struct {
	Reference     string                      `json:"reference"`
	Status        models.TransactionStatus    `json:"status"`
	Provider      models.TransactionProvider  `json:"provider"`
	Amount        float64                     `json:"amount"`
	BookingStatus models.BookingStatus        `json:"booking_status"`
	PaymentStatus models.BookingPaymentStatus `json:"payment_status"`
}

// PaymentService starts payments and serves their status
type PaymentService struct {
	config   *config.PaymentConfig
	payable  PayableBookings
	bookings BookingReader
	txns     *TransactionService
	verifier TransactionVerifier
	logger   *logrus.Logger
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	cfg *config.PaymentConfig,
	payable PayableBookings,
	bookings BookingReader,
	txns *TransactionService,
	verifier TransactionVerifier,
	logger *logrus.Logger,
) *PaymentService {
	return &PaymentService{
		config:   cfg,
		payable:  payable,
		bookings: bookings,
		txns:     txns,
		verifier: verifier,
		logger:   logger,
	}
}

// InitializePayment opens a gateway transaction for the booking total and returns the checkout URL
func (s *PaymentService) InitializePayment(ctx context.Context, actor models.Actor, bookingID int64, email string) (*PaymentInit, error) {
	booking, err := s.payableBooking(ctx, actor, bookingID, email)
	if err != nil {
		return nil, err
	}

	txn, err := s.txns.Create(ctx, booking.ID, booking.TotalPrice(), models.ProviderFlutterwave)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"reference":  txn.Reference,
		"booking_id": booking.ID,
	}).Info("Card payment initialised")

	return &PaymentInit{
		PaymentURL: substituteReference(s.config.RedirectURLTemplate, txn.Reference),
		Reference:  txn.Reference,
		Status:     "ok",
	}, nil
}

// InitBankTransfer opens a pending bank transfer for the booking total
func (s *PaymentService) InitBankTransfer(ctx context.Context, actor models.Actor, bookingID int64) (*BankTransferInit, error) {
	if !actor.IsAuthenticated() {
		return nil, ErrForbidden
	}
	booking, err := s.payableBooking(ctx, actor, bookingID, "")
	if err != nil {
		return nil, err
	}

	txn, err := s.txns.Create(ctx, booking.ID, booking.TotalPrice(), models.ProviderBankTransfer)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"reference":  txn.Reference,
		"booking_id": booking.ID,
	}).Info("Bank transfer initialised")

	return &BankTransferInit{
		Reference: txn.Reference,
		Amount:    txn.Amount,
		BankDetails: BankDetails{
			Bank:          s.config.BankName,
			AccountName:   s.config.BankAccountName,
			AccountNumber: s.config.BankAccountNumber,
		},
	}, nil
}

func (s *PaymentService) payableBooking(ctx context.Context, actor models.Actor, bookingID int64, email string) (*models.Booking, error) {
	booking, err := s.payable.GetForPayment(ctx, actor, bookingID, email)
	if err != nil {
		return nil, err
	}
	if booking.IsPaid() {
		return nil, NewValidationError("Booking already paid")
	}
	if booking.Status.IsTerminal() {
		return nil, NewValidationError(fmt.Sprintf("Booking is %s and cannot be paid.", booking.Status))
	}
	return booking, nil
}

// Status reports a transaction together with its booking's state
func (s *PaymentService) Status(ctx context.Context, reference string) (*PaymentStatusView, error) {
	txn, err := s.txns.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrUnknownTransaction) {
			return nil, fmt.Errorf("%s: %w", reference, ErrNotFound)
		}
		return nil, err
	}
	booking, err := s.bookings.GetByID(ctx, txn.BookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, fmt.Errorf("booking %d: %w", txn.BookingID, ErrNotFound)
	}

	return &PaymentStatusView{
		Reference:     txn.Reference,
		Status:        txn.Status,
		Provider:      txn.Provider,
		Amount:        txn.Amount,
		BookingStatus: booking.Status,
		PaymentStatus: booking.PaymentStatus,
	}, nil
}

// HandleSuccessRedirect records the gateway id from the checkout return, verifies
// and returns the frontend URL to send the customer to. Verification trouble is
// left for the webhook and the sweep.
func (s *PaymentService) HandleSuccessRedirect(ctx context.Context, reference, flutterwaveID string) (string, error) {
	if reference == "" {
		return "", NewValidationError("Missing tx_ref")
	}
	if _, err := s.txns.GetByReference(ctx, reference); err != nil {
		return "", err
	}

	if err := s.txns.SetFlutterwaveID(ctx, reference, flutterwaveID); err != nil {
		s.logger.WithError(err).WithField("reference", reference).Error("Failed to store flutterwave id from redirect")
	}
	if _, err := s.verifier.Verify(ctx, reference); err != nil {
		s.logger.WithError(err).WithField("reference", reference).Warn("Verification after redirect did not complete")
	}

	return substituteReference(s.config.FrontendSuccessURL, reference), nil
}

// CancelledRedirect returns the frontend URL for an abandoned checkout
func (s *PaymentService) CancelledRedirect(reference string) string {
	if reference == "" {
		reference = "(unknown)"
	}
	s.logger.WithField("reference", reference).Warn("Customer cancelled payment")
	return substituteReference(s.config.FrontendCancelledURL, reference)
}

func substituteReference(template, reference string) string {
	return strings.ReplaceAll(template, referencePlaceholder, url.PathEscape(reference))
}
