package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/tourhub/booking-backend/internal/middleware"
	"github.com/tourhub/booking-backend/internal/models"
	"github.com/tourhub/booking-backend/internal/services"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// newRouter installs the given actor the way the auth middleware would
func newRouter(actor models.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ActorContextKey, actor)
		c.Next()
	})
	return router
}

func customer() models.Actor {
	return models.NewActor(uuid.New(), models.RoleCustomer, "Chidi")
}

func admin() models.Actor {
	return models.NewActor(uuid.New(), models.RoleAdmin, "Ada Admin")
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if field != "" {
		part, err := writer.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

// ============================================================================
// FAKES
// ============================================================================

type stubBookings struct {
	booking *models.Booking
	list    []models.Booking
	err     error

	created    services.CreateBookingInput
	lastID     int64
	lastStatus string
	lastNote   string
	lastEmail  string
	lastLimit  int
}

func (s *stubBookings) Create(_ context.Context, _ models.Actor, input services.CreateBookingInput) (*models.Booking, error) {
	s.created = input
	return s.booking, s.err
}

func (s *stubBookings) Get(_ context.Context, _ models.Actor, id int64) (*models.Booking, error) {
	s.lastID = id
	return s.booking, s.err
}

func (s *stubBookings) GuestLookup(_ context.Context, id int64, email string) (*models.Booking, error) {
	s.lastID, s.lastEmail = id, email
	return s.booking, s.err
}

func (s *stubBookings) Cancel(_ context.Context, _ models.Actor, id int64) error {
	s.lastID = id
	return s.err
}

func (s *stubBookings) UpdateStatus(_ context.Context, _ models.Actor, id int64, status string) error {
	s.lastID, s.lastStatus = id, status
	return s.err
}

func (s *stubBookings) Reject(_ context.Context, _ models.Actor, id int64, note string) error {
	s.lastID, s.lastNote = id, note
	return s.err
}

func (s *stubBookings) ListMine(context.Context, models.Actor) ([]models.Booking, error) {
	return s.list, s.err
}

func (s *stubBookings) ListForOperator(context.Context, models.Actor) ([]models.Booking, error) {
	return s.list, s.err
}

func (s *stubBookings) ListAll(_ context.Context, _ models.Actor, status string, limit, _ int) ([]models.Booking, error) {
	s.lastStatus, s.lastLimit = status, limit
	return s.list, s.err
}

type stubCalendar struct {
	calendar     *services.Calendar
	availability *models.ServiceAvailability
	slot         *models.ServiceTimeSlot
	err          error

	from, to   *time.Time
	availInput services.AvailabilityInput
	slotInput  services.SlotInput
}

func (s *stubCalendar) Expand(_ context.Context, _ string, from, to *time.Time) (*services.Calendar, error) {
	s.from, s.to = from, to
	return s.calendar, s.err
}

func (s *stubCalendar) CreateAvailability(_ context.Context, _ models.Actor, _ int64, input services.AvailabilityInput) (*models.ServiceAvailability, error) {
	s.availInput = input
	return s.availability, s.err
}

func (s *stubCalendar) CreateTimeSlot(_ context.Context, _ models.Actor, _ int64, input services.SlotInput) (*models.ServiceTimeSlot, error) {
	s.slotInput = input
	return s.slot, s.err
}

type stubPayments struct {
	init      *services.PaymentInit
	bank      *services.BankTransferInit
	status    *services.PaymentStatusView
	redirect  string
	err       error
	lastEmail string
	lastFlwID string
}

func (s *stubPayments) InitializePayment(_ context.Context, _ models.Actor, _ int64, email string) (*services.PaymentInit, error) {
	s.lastEmail = email
	return s.init, s.err
}

func (s *stubPayments) InitBankTransfer(context.Context, models.Actor, int64) (*services.BankTransferInit, error) {
	return s.bank, s.err
}

func (s *stubPayments) Status(context.Context, string) (*services.PaymentStatusView, error) {
	return s.status, s.err
}

func (s *stubPayments) HandleSuccessRedirect(_ context.Context, _ string, flwID string) (string, error) {
	s.lastFlwID = flwID
	return s.redirect, s.err
}

func (s *stubPayments) CancelledRedirect(reference string) string {
	return "https://app.example.com/cancelled/" + reference
}

type stubReceipts struct {
	txn      *models.Transaction
	err      error
	filename string
	content  []byte
}

func (s *stubReceipts) AttachReceipt(_ context.Context, _ models.Actor, _ string, filename string, content io.Reader, _ models.RequestMeta) (*models.Transaction, error) {
	s.filename = filename
	s.content, _ = io.ReadAll(content)
	return s.txn, s.err
}

type stubReconciler struct {
	webhookMessage string
	webhookErr     error
	signature      string
	meta           models.RequestMeta

	verify  *services.VerifyResult
	changed bool
	err     error
}

func (s *stubReconciler) HandleWebhook(_ context.Context, signature string, _ []byte, meta models.RequestMeta) (string, error) {
	s.signature, s.meta = signature, meta
	return s.webhookMessage, s.webhookErr
}

func (s *stubReconciler) ApproveBankTransfer(context.Context, models.Actor, string, models.RequestMeta) error {
	return s.err
}

func (s *stubReconciler) RejectBankTransfer(context.Context, models.Actor, string, models.RequestMeta) error {
	return s.err
}

func (s *stubReconciler) RetryVerification(context.Context, models.Actor, string) (*services.VerifyResult, error) {
	return s.verify, s.err
}

func (s *stubReconciler) ForceSuccess(context.Context, models.Actor, string, models.RequestMeta) (bool, error) {
	return s.changed, s.err
}
