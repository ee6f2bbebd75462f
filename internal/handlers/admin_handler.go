package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/middleware"
	"github.com/tourhub/booking-backend/internal/models"
	"github.com/tourhub/booking-backend/internal/services"
	"github.com/tourhub/booking-backend/internal/utils"
)

// TransactionLister lists transactions for the admin queue
type TransactionLister interface {
	ListByStatus(ctx context.Context, provider models.TransactionProvider, statuses ...models.TransactionStatus) ([]models.Transaction, error)
}

// SweepScheduler runs and reports the reconciliation job
type SweepScheduler interface {
	RunReconcileNow(ctx context.Context) (*services.SweepReport, error)
	GetJobStatus() map[string]interface{}
}

// EventReader reads the payment audit log
type EventReader interface {
	ListByReference(ctx context.Context, reference string) ([]models.PaymentEvent, error)
	ListByType(ctx context.Context, eventType models.PaymentEventType, limit int) ([]models.PaymentEvent, error)
}

// AdminHandler handles admin payment operations
type AdminHandler struct {
	reconciler PaymentReconciler
	txns       TransactionLister
	events     EventReader
	scheduler  SweepScheduler
	logger     *logrus.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	reconciler PaymentReconciler,
	txns TransactionLister,
	events EventReader,
	scheduler SweepScheduler,
	logger *logrus.Logger,
) *AdminHandler {
	return &AdminHandler{
		reconciler: reconciler,
		txns:       txns,
		events:     events,
		scheduler:  scheduler,
		logger:     logger,
	}
}

// ListTransactions handles GET /api/v1/admin/transactions?provider=&status=
// Defaults to the pending bank transfer queue.
func (h *AdminHandler) ListTransactions(c *gin.Context) {
	provider := models.TransactionProvider(c.DefaultQuery("provider", string(models.ProviderBankTransfer)))

	var statuses []models.TransactionStatus
	for _, s := range strings.Split(c.DefaultQuery("status", string(models.TransactionStatusPending)), ",") {
		if s = strings.TrimSpace(s); s != "" {
			statuses = append(statuses, models.TransactionStatus(s))
		}
	}

	txns, err := h.txns.ListByStatus(c.Request.Context(), provider, statuses...)
	if err != nil {
		respondError(c, h.logger, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txns, "total": len(txns)})
}

// TransactionEvents handles GET /api/v1/admin/transactions/:reference/events
func (h *AdminHandler) TransactionEvents(c *gin.Context) {
	reference := c.Param("reference")
	events, err := h.events.ListByReference(c.Request.Context(), reference)
	if err != nil {
		respondError(c, h.logger, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{"reference": reference, "events": events, "total": len(events)})
}

// EventsByType handles GET /api/v1/admin/payment-events?type=&limit=
func (h *AdminHandler) EventsByType(c *gin.Context) {
	eventType := c.Query("type")
	if eventType == "" {
		badRequest(c, "type is required")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}

	events, err := h.events.ListByType(c.Request.Context(), models.PaymentEventType(eventType), limit)
	if err != nil {
		respondError(c, h.logger, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "total": len(events)})
}

// VerifyTransaction handles POST /api/v1/admin/transactions/:reference/verify
func (h *AdminHandler) VerifyTransaction(c *gin.Context) {
	result, err := h.reconciler.RetryVerification(c.Request.Context(), middleware.GetActor(c), c.Param("reference"))
	if err != nil {
		respondError(c, h.logger, err, "Invalid reference")
		return
	}

	c.JSON(http.StatusOK, result)
}

// MarkSuccess handles POST /api/v1/admin/transactions/:reference/mark-success
func (h *AdminHandler) MarkSuccess(c *gin.Context) {
	reference := c.Param("reference")
	changed, err := h.reconciler.ForceSuccess(c.Request.Context(), middleware.GetActor(c), reference, utils.RequestMeta(c))
	if err != nil {
		respondError(c, h.logger, err, "Invalid reference")
		return
	}

	message := "Transaction marked as successful"
	if !changed {
		message = "Transaction was already successful"
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "reference": reference, "changed": changed})
}

// RunReconcile handles POST /api/v1/admin/reconcile/run
func (h *AdminHandler) RunReconcile(c *gin.Context) {
	h.logger.WithField("actor", middleware.GetActor(c).Label()).Info("Manual reconciliation sweep requested")

	report, err := h.scheduler.RunReconcileNow(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "")
		return
	}

	c.JSON(http.StatusOK, report)
}

// ReconcileStatus handles GET /api/v1/admin/reconcile/status
func (h *AdminHandler) ReconcileStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.GetJobStatus())
}
