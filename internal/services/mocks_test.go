package services

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/tourbooking/booking-flow/internal/config"
	"github.com/tourbooking/booking-flow/internal/database"
	"github.com/tourbooking/booking-flow/internal/models"
	"github.com/tourbooking/booking-flow/pkg/jwt"
	"github.com/tourbooking/booking-flow/pkg/validator"
)

// MockBackend is a mock implementation of BookingBackend
type MockBackend struct {
	mock.Mock
}

func bookingArg(args mock.Arguments) (*models.Booking, error) {
	if b, ok := args.Get(0).(*models.Booking); ok && b != nil {
		return b.Clone(), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) CreateBooking(ctx context.Context, req *models.CreateBookingRequest) (*models.Booking, error) {
	return bookingArg(m.Called(ctx, req))
}

func (m *MockBackend) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	return bookingArg(m.Called(ctx, id))
}

func (m *MockBackend) GetBookingWithStatusRefresh(ctx context.Context, id string) (*models.Booking, error) {
	return bookingArg(m.Called(ctx, id))
}

func (m *MockBackend) GetPaymentStatus(ctx context.Context, id string) (*models.PaymentStatusData, error) {
	args := m.Called(ctx, id)
	if data, ok := args.Get(0).(*models.PaymentStatusData); ok {
		return data, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) CheckPaymentStatus(ctx context.Context, id string) (*models.CheckPaymentStatusResponse, error) {
	args := m.Called(ctx, id)
	if resp, ok := args.Get(0).(*models.CheckPaymentStatusResponse); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) ProcessPayment(ctx context.Context, req *models.ProcessPaymentRequest) (*models.ProcessPaymentResponse, error) {
	args := m.Called(ctx, req)
	if resp, ok := args.Get(0).(*models.ProcessPaymentResponse); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) GenerateVoucher(ctx context.Context, id string) (*models.Voucher, error) {
	args := m.Called(ctx, id)
	if v, ok := args.Get(0).(*models.Voucher); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) IsVoucherAvailable(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockBackend) GetBookingVoucher(ctx context.Context, id string) (*models.Voucher, error) {
	args := m.Called(ctx, id)
	if v, ok := args.Get(0).(*models.Voucher); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) CancelBooking(ctx context.Context, id string) (*models.Booking, error) {
	return bookingArg(m.Called(ctx, id))
}

func (m *MockBackend) SimulatePaymentSuccess(ctx context.Context, id string) (*models.Booking, error) {
	return bookingArg(m.Called(ctx, id))
}

// fakeCheckout is a CheckoutScript whose readiness is set by the test
type fakeCheckout struct {
	ready  bool
	err    error
	tokens []string
	last   CheckoutCallbacks
}

func (f *fakeCheckout) Ready() bool { return f.ready }

func (f *fakeCheckout) Pay(ctx context.Context, token string, callbacks CheckoutCallbacks) error {
	if f.err != nil {
		return f.err
	}
	f.tokens = append(f.tokens, token)
	f.last = callbacks
	return nil
}

// memoryAudit records audit entries in memory
type memoryAudit struct {
	mu      sync.Mutex
	entries []*models.PaymentAudit
}

func (m *memoryAudit) Log(ctx context.Context, audit *models.PaymentAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, audit)
	return nil
}

func (m *memoryAudit) types() []models.PaymentEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]models.PaymentEventType, 0, len(m.entries))
	for _, e := range m.entries {
		types = append(types, e.EventType)
	}
	return types
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testPollingConfig() config.PollingConfig {
	return config.PollingConfig{
		Interval:           10 * time.Millisecond,
		EnhancedInterval:   10 * time.Millisecond,
		MaxBackoff:         40 * time.Millisecond,
		MaxFailures:        3,
		TrustWebhookMarker: false,
	}
}

// harness wires the booking flow services over a mock backend
type harness struct {
	backend    *MockBackend
	checkout   *fakeCheckout
	store      *database.FallbackStore
	sessions   *SessionRegistry
	feed       *NotificationFeed
	audit      *memoryAudit
	reconciler *StatusReconciler
	reader     *BookingReader
	submitter  *BookingSubmitter
	payments   *PaymentInitiator
	actions    *BookingActions
}

func newHarness(t *testing.T, polling config.PollingConfig, allowSimulation bool) *harness {
	t.Helper()
	logger := testLogger()

	h := &harness{
		backend:  new(MockBackend),
		checkout: &fakeCheckout{ready: true},
		store:    database.NewFallbackStore(database.NewFileSnapshotStorage(filepath.Join(t.TempDir(), "bookings.json")), database.DefaultSnapshotCapacity, logger),
		sessions: NewSessionRegistry(),
		feed:     NewNotificationFeed(DefaultFeedLimit),
		audit:    &memoryAudit{},
	}
	audit := NewAuditService(h.audit, logger)

	h.reconciler = NewStatusReconciler(h.backend, h.store, h.feed, audit, polling, logger)
	h.reader = NewBookingReader(h.backend, h.store, h.sessions, h.reconciler, logger)
	h.submitter = NewBookingSubmitter(h.backend, validator.NewBookingFormValidator(), h.store, h.sessions, h.feed, audit, logger)
	h.payments = NewPaymentInitiator(h.backend, h.checkout, h.store, h.feed, audit, allowSimulation, logger)
	h.actions = NewBookingActions(h.backend, h.reader, h.reconciler, h.store, h.feed, audit,
		jwt.NewService("test-share-secret-0123456789abcdef", time.Hour), "https://tours.example.com/", logger)

	t.Cleanup(h.reconciler.StopAll)
	return h
}

func validRequest() *models.CreateBookingRequest {
	return &models.CreateBookingRequest{
		CustomerInfo: models.CustomerInfo{
			Name:    "Budi Santoso",
			Email:   "budi@example.com",
			Phone:   "081234567890",
			Address: "Jl. Merdeka No. 1, Malang",
		},
		PackageID:    "pkg-1",
		Package:      &models.PackageInfo{ID: "pkg-1", Name: "Bromo Sunrise", Price: 750000},
		Schedule:     models.Schedule{StartDate: "2024-06-01", EndDate: "2024-06-03"},
		Participants: 2,
	}
}

func pendingBooking(id string) *models.Booking {
	return &models.Booking{
		ID:              "uuid-" + id,
		BookingID:       id,
		CustomerInfo:    validRequest().CustomerInfo,
		PackageInfo:     models.PackageInfo{ID: "pkg-1", Name: "Bromo Sunrise", Price: 750000},
		Schedule:        models.Schedule{StartDate: "2024-06-01", EndDate: "2024-06-03"},
		Participants:    2,
		TotalAmount:     1500000,
		Status:          models.BookingStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		CreatedAt:       time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC),
		PaymentDeadline: time.Date(2024, 5, 21, 9, 0, 0, 0, time.UTC),
	}
}

func statusData(status models.BookingStatus, payment models.PaymentStatus) *models.PaymentStatusData {
	return &models.PaymentStatusData{Status: status, PaymentStatus: payment}
}

// countMessages counts notifications for bookingID whose message equals text
func countMessages(feed *NotificationFeed, bookingID, text string) int {
	count := 0
	for _, n := range feed.List(bookingID, 0) {
		if n.Message == text {
			count++
		}
	}
	return count
}
