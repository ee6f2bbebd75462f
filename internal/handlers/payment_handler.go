package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/middleware"
	"github.com/tourhub/booking-backend/internal/models"
	"github.com/tourhub/booking-backend/internal/services"
	"github.com/tourhub/booking-backend/internal/utils"
)

// webhookSignatureHeader carries the shared secret the gateway signs callbacks with
const webhookSignatureHeader = "verif-hash"

// maxWebhookBody bounds the callback payload read into memory
const maxWebhookBody = 1 << 20

// PaymentStarter starts payments and reports their status
type PaymentStarter interface {
	InitializePayment(ctx context.Context, actor models.Actor, bookingID int64, email string) (*services.PaymentInit, error)
	InitBankTransfer(ctx context.Context, actor models.Actor, bookingID int64) (*services.BankTransferInit, error)
	Status(ctx context.Context, reference string) (*services.PaymentStatusView, error)
	HandleSuccessRedirect(ctx context.Context, reference, flutterwaveID string) (string, error)
	CancelledRedirect(reference string) string
}

// ReceiptAttacher stores bank transfer receipts
type ReceiptAttacher interface {
	AttachReceipt(ctx context.Context, actor models.Actor, reference, filename string, content io.Reader, meta models.RequestMeta) (*models.Transaction, error)
}

// PaymentReconciler settles transactions from webhooks and admin decisions
type PaymentReconciler interface {
	HandleWebhook(ctx context.Context, signature string, body []byte, meta models.RequestMeta) (string, error)
	ApproveBankTransfer(ctx context.Context, actor models.Actor, reference string, meta models.RequestMeta) error
	RejectBankTransfer(ctx context.Context, actor models.Actor, reference string, meta models.RequestMeta) error
	RetryVerification(ctx context.Context, actor models.Actor, reference string) (*services.VerifyResult, error)
	ForceSuccess(ctx context.Context, actor models.Actor, reference string, meta models.RequestMeta) (bool, error)
}

// PaymentHandler handles card payment, bank transfer and gateway callback requests
type PaymentHandler struct {
	payments   PaymentStarter
	receipts   ReceiptAttacher
	reconciler PaymentReconciler
	logger     *logrus.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments PaymentStarter, receipts ReceiptAttacher, reconciler PaymentReconciler, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments:   payments,
		receipts:   receipts,
		reconciler: reconciler,
		logger:     logger,
	}
}

// ============================================================================
// CARD PAYMENTS
// ============================================================================

// Initialize handles POST /api/v1/payments/initialize/:booking_id
func (h *PaymentHandler) Initialize(c *gin.Context) {
	bookingID, ok := paramID(c, "booking_id")
	if !ok {
		return
	}

	var req struct {
		Email string `json:"email"`
	}
	// guests send their email, authenticated customers may send nothing
	_ = c.ShouldBindJSON(&req)
	if req.Email == "" {
		req.Email = c.Query("email")
	}

	started, err := h.payments.InitializePayment(c.Request.Context(), middleware.GetActor(c), bookingID, req.Email)
	if err != nil {
		respondError(c, h.logger, err, "Booking not found")
		return
	}

	c.JSON(http.StatusOK, started)
}

// Success handles GET /api/v1/payments/success?tx_ref=&transaction_id=
func (h *PaymentHandler) Success(c *gin.Context) {
	target, err := h.payments.HandleSuccessRedirect(c.Request.Context(), c.Query("tx_ref"), c.Query("transaction_id"))
	if err != nil {
		respondError(c, h.logger, err, "Invalid reference")
		return
	}

	c.Redirect(http.StatusFound, target)
}

// Cancelled handles GET /api/v1/payments/cancelled?tx_ref=
func (h *PaymentHandler) Cancelled(c *gin.Context) {
	c.Redirect(http.StatusFound, h.payments.CancelledRedirect(c.Query("tx_ref")))
}

// Webhook handles POST /api/v1/payments/webhook
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.String(http.StatusBadRequest, services.WebhookInvalidJSON)
		return
	}

	message, err := h.reconciler.HandleWebhook(c.Request.Context(), c.GetHeader(webhookSignatureHeader), body, utils.RequestMeta(c))
	c.String(webhookStatus(err), message)
}

func webhookStatus(err error) int {
	var validation *services.ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.As(err, &validation), errors.Is(err, services.ErrUnknownTransaction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Status handles GET /api/v1/payments/status/:reference
func (h *PaymentHandler) Status(c *gin.Context) {
	view, err := h.payments.Status(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, h.logger, err, "Invalid reference")
		return
	}

	c.JSON(http.StatusOK, view)
}

// ============================================================================
// BANK TRANSFERS
// ============================================================================

// InitBankTransfer handles POST /api/v1/payments/bank/init/:booking_id
func (h *PaymentHandler) InitBankTransfer(c *gin.Context) {
	bookingID, ok := paramID(c, "booking_id")
	if !ok {
		return
	}

	started, err := h.payments.InitBankTransfer(c.Request.Context(), middleware.GetActor(c), bookingID)
	if err != nil {
		respondError(c, h.logger, err, "Booking not found")
		return
	}

	c.JSON(http.StatusCreated, started)
}

// UploadReceipt handles POST /api/v1/payments/bank/receipt/:reference (multipart field "receipt")
func (h *PaymentHandler) UploadReceipt(c *gin.Context) {
	header, err := c.FormFile("receipt")
	if err != nil {
		respondError(c, h.logger, services.NewFieldError("receipt", "No file was submitted."), "")
		return
	}
	file, err := header.Open()
	if err != nil {
		respondError(c, h.logger, err, "")
		return
	}
	defer file.Close()

	reference := c.Param("reference")
	txn, err := h.receipts.AttachReceipt(c.Request.Context(), middleware.GetActor(c), reference, header.Filename, file, utils.RequestMeta(c))
	if err != nil {
		respondError(c, h.logger, err, "Invalid reference")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Receipt uploaded",
		"transaction": txn,
	})
}

// ApproveBankTransfer handles POST /api/v1/payments/bank/approve/:reference
func (h *PaymentHandler) ApproveBankTransfer(c *gin.Context) {
	reference := c.Param("reference")
	if err := h.reconciler.ApproveBankTransfer(c.Request.Context(), middleware.GetActor(c), reference, utils.RequestMeta(c)); err != nil {
		respondError(c, h.logger, err, "Invalid reference")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Bank transfer approved", "reference": reference})
}

// RejectBankTransfer handles POST /api/v1/payments/bank/reject/:reference
func (h *PaymentHandler) RejectBankTransfer(c *gin.Context) {
	reference := c.Param("reference")
	if err := h.reconciler.RejectBankTransfer(c.Request.Context(), middleware.GetActor(c), reference, utils.RequestMeta(c)); err != nil {
		respondError(c, h.logger, err, "Invalid reference")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Bank transfer rejected", "reference": reference})
}
