package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/tourhub/booking-backend/internal/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// newMockDB returns a sqlx handle whose only expectations are transaction boundaries
func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

// ----------------------------------------------------------------------------
// catalog: services, packages, availabilities, slots
// ----------------------------------------------------------------------------

type fakeCatalog struct {
	mu             sync.Mutex
	services       map[int64]*models.Service
	packages       map[int64]*models.Package
	availabilities map[int64]*models.ServiceAvailability
	slots          map[int64]*models.ServiceTimeSlot
	nextID         int64
	txLocks        int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		services:       map[int64]*models.Service{},
		packages:       map[int64]*models.Package{},
		availabilities: map[int64]*models.ServiceAvailability{},
		slots:          map[int64]*models.ServiceTimeSlot{},
		nextID:         100,
	}
}

func (f *fakeCatalog) GetByID(_ context.Context, id int64) (*models.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.services[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeCatalog) GetBySlug(_ context.Context, slug string) (*models.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.services {
		if s.Slug == slug {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeCatalog) GetPackage(_ context.Context, id int64) (*models.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.packages[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeCatalog) ListActiveAvailabilities(_ context.Context, serviceID int64, from, to time.Time) ([]models.ServiceAvailability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ServiceAvailability
	for _, a := range f.availabilities {
		if a.ServiceID == serviceID && a.IsActive && a.Overlaps(from, to) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetAvailability(_ context.Context, id int64) (*models.ServiceAvailability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.availabilities[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeCatalog) LockServiceAvailabilities(_ context.Context, _ *sqlx.Tx, serviceID int64) ([]models.ServiceAvailability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ServiceAvailability
	for _, a := range f.availabilities {
		if a.ServiceID == serviceID && a.IsActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeCatalog) CreateAvailability(_ context.Context, _ *sqlx.Tx, a *models.ServiceAvailability) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	a.ID = f.nextID
	cp := *a
	f.availabilities[a.ID] = &cp
	return nil
}

func (f *fakeCatalog) ListActiveSlots(_ context.Context, availabilityIDs []int64) ([]models.ServiceTimeSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range availabilityIDs {
		want[id] = true
	}
	var out []models.ServiceTimeSlot
	for _, s := range f.slots {
		if want[s.AvailabilityID] && s.IsActive {
			out = append(out, *s)
		}
	}
	// deterministic order like the ORDER BY start_time in SQL
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && strings.Compare(out[j].StartTime, out[j-1].StartTime) < 0; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetSlot(_ context.Context, id int64) (*models.ServiceTimeSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.slots[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

// LockSlot reads the slot and counts locks taken inside a transaction.
// Serialisation itself comes from the transaction, see serialisedTx.
func (f *fakeCatalog) LockSlot(ctx context.Context, tx *sqlx.Tx, id int64) (*models.ServiceTimeSlot, error) {
	if tx != nil {
		f.mu.Lock()
		f.txLocks++
		f.mu.Unlock()
	}
	return f.GetSlot(ctx, id)
}

func (f *fakeCatalog) locksInTx() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txLocks
}

func (f *fakeCatalog) SetSeatsTaken(_ context.Context, _ *sqlx.Tx, id int64, seatsTaken int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[id].SeatsTaken = seatsTaken
	return nil
}

func (f *fakeCatalog) CreateSlot(_ context.Context, s *models.ServiceTimeSlot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = f.nextID
	cp := *s
	f.slots[s.ID] = &cp
	return nil
}

func (f *fakeCatalog) seatsTaken(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[id].SeatsTaken
}

// ----------------------------------------------------------------------------
// bookings
// ----------------------------------------------------------------------------

type fakeBookings struct {
	mu       sync.Mutex
	bookings map[int64]*models.Booking
	catalog  *fakeCatalog
	nextID   int64
}

func newFakeBookings(catalog *fakeCatalog) *fakeBookings {
	return &fakeBookings{bookings: map[int64]*models.Booking{}, catalog: catalog}
}

// join fills the read-only columns a SELECT would join in
func (f *fakeBookings) join(b *models.Booking) *models.Booking {
	cp := *b
	if s, ok := f.catalog.services[cp.ServiceID]; ok {
		cp.ServiceTitle = s.Title
		cp.OperatorID = s.OperatorID
		cp.ServicePrice = s.Price
	}
	if cp.PackageID != nil {
		if p, ok := f.catalog.packages[*cp.PackageID]; ok {
			price := p.Price
			cp.PackagePrice = &price
		}
	}
	return &cp
}

func (f *fakeBookings) Create(_ context.Context, _ *sqlx.Tx, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	b.ID = f.nextID
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	f.bookings[b.ID] = &cp
	return nil
}

func (f *fakeBookings) GetByID(_ context.Context, id int64) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.bookings[id]; ok {
		return f.join(b), nil
	}
	return nil, nil
}

func (f *fakeBookings) LockByID(ctx context.Context, _ *sqlx.Tx, id int64) (*models.Booking, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeBookings) UpdateState(_ context.Context, _ *sqlx.Tx, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.bookings[b.ID]
	stored.Status = b.Status
	stored.PaymentStatus = b.PaymentStatus
	stored.AdminNote = b.AdminNote
	return nil
}

func (f *fakeBookings) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.bookings {
		if b.UserID != nil && *b.UserID == userID {
			out = append(out, *f.join(b))
		}
	}
	return out, nil
}

func (f *fakeBookings) ListByOperator(_ context.Context, operatorID uuid.UUID) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.bookings {
		if j := f.join(b); j.OperatorID == operatorID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeBookings) ListAll(_ context.Context, status string, _, _ int) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.bookings {
		if status == "" || string(b.Status) == status {
			out = append(out, *f.join(b))
		}
	}
	return out, nil
}

func (f *fakeBookings) GetGuestBooking(_ context.Context, id int64, email string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok || b.UserID != nil || !strings.EqualFold(b.Email, email) {
		return nil, nil
	}
	return f.join(b), nil
}

func (f *fakeBookings) get(id int64) models.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.bookings[id]
}

// ----------------------------------------------------------------------------
// transactions, payments, events, notifications
// ----------------------------------------------------------------------------

type fakeTransactions struct {
	mu   sync.Mutex
	txns map[string]*models.Transaction
	next int64
}

func newFakeTransactions() *fakeTransactions {
	return &fakeTransactions{txns: map[string]*models.Transaction{}}
}

func (f *fakeTransactions) Create(_ context.Context, txn *models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	txn.ID = f.next
	cp := *txn
	cp.Meta = models.JSONB{}
	f.txns[txn.Reference] = &cp
	return nil
}

func (f *fakeTransactions) GetByReference(_ context.Context, reference string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.txns[reference]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeTransactions) LockByReference(ctx context.Context, _ *sqlx.Tx, reference string) (*models.Transaction, error) {
	return f.GetByReference(ctx, reference)
}

func (f *fakeTransactions) UpdateStatus(_ context.Context, _ *sqlx.Tx, id int64, status models.TransactionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.txns {
		if t.ID == id {
			t.Status = status
		}
	}
	return nil
}

func (f *fakeTransactions) MergeMeta(_ context.Context, _ sqlx.ExecerContext, reference string, patch map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.txns[reference]
	if t.Meta == nil {
		t.Meta = models.JSONB{}
	}
	for k, v := range patch {
		t.Meta[k] = v
	}
	return nil
}

func (f *fakeTransactions) SetFlutterwaveID(_ context.Context, reference, flutterwaveID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t := f.txns[reference]; t.FlutterwaveID == nil || *t.FlutterwaveID == "" {
		t.FlutterwaveID = &flutterwaveID
	}
	return nil
}

func (f *fakeTransactions) AttachReceipt(_ context.Context, reference, path, digest string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.txns[reference]
	if t.Provider != models.ProviderBankTransfer || t.Status != models.TransactionStatusPending {
		return false, nil
	}
	t.ReceiptPath = &path
	t.ReceiptDigest = &digest
	return true, nil
}

func (f *fakeTransactions) ListByProviderAndStatus(_ context.Context, provider models.TransactionProvider, statuses ...models.TransactionStatus) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, t := range f.txns {
		if t.Provider != provider {
			continue
		}
		for _, s := range statuses {
			if t.Status == s {
				out = append(out, *t)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeTransactions) put(txn models.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	txn.ID = f.next
	if txn.Meta == nil {
		txn.Meta = models.JSONB{}
	}
	f.txns[txn.Reference] = &txn
}

func (f *fakeTransactions) get(reference string) models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.txns[reference]
}

type fakePayments struct {
	mu          sync.Mutex
	payments    map[int64]*models.Payment
	upserts     int
	divergences []models.PaymentDivergence
}

func newFakePayments() *fakePayments {
	return &fakePayments{payments: map[int64]*models.Payment{}}
}

func (f *fakePayments) Upsert(_ context.Context, _ *sqlx.Tx, p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	cp := *p
	f.payments[p.BookingID] = &cp
	return nil
}

func (f *fakePayments) GetByBookingID(_ context.Context, bookingID int64) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[bookingID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakePayments) ListDivergences(context.Context) ([]models.PaymentDivergence, error) {
	return f.divergences, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []models.PaymentEvent
}

func (f *fakeEvents) Log(_ context.Context, e *models.PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeEvents) count(eventType models.PaymentEventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (d *recordingDispatcher) Dispatch(_ context.Context, notifications []models.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, notifications...)
}

func (d *recordingDispatcher) messages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.sent))
	for _, n := range d.sent {
		out = append(out, n.Message)
	}
	return out
}

func (d *recordingDispatcher) to(recipient *uuid.UUID) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, n := range d.sent {
		switch {
		case recipient == nil && n.RecipientID == nil:
			out = append(out, n.Message)
		case recipient != nil && n.RecipientID != nil && *recipient == *n.RecipientID:
			out = append(out, n.Message)
		}
	}
	return out
}

func (d *recordingDispatcher) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = nil
}
