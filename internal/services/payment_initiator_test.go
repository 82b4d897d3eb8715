package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tourbooking/booking-flow/internal/models"
)

func TestInitiate_RedirectFlow(t *testing.T) {
	h := newHarness(t, testPollingConfig(), false)
	ctx := context.Background()
	session := h.sessions.Register(pendingBooking("TB-100"))

	h.backend.On("ProcessPayment", mock.Anything, mock.MatchedBy(func(req *models.ProcessPaymentRequest) bool {
		return req.BookingID == "TB-100" && req.TotalAmount == 1500000
	})).Return(&models.ProcessPaymentResponse{Success: true, RedirectURL: "https://pay.example.com/r/abc"}, nil).Once()

	result, err := h.payments.Initiate(ctx, session)
	require.NoError(t, err)

	assert.Equal(t, PaymentModeRedirect, result.Mode)
	assert.Equal(t, "https://pay.example.com/r/abc", result.RedirectURL)
	assert.Empty(t, h.checkout.tokens, "redirect flow must not open the checkout")

	view := session.View()
	assert.False(t, view.Processing)
	assert.Equal(t, NextViewRedirect, view.NextView)
	assert.Equal(t, models.BookingStatusPending, view.Booking.Status)
}

func TestInitiate_CheckoutFlow(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, id string) (*harness, *BookingSession) {
		h := newHarness(t, testPollingConfig(), false)
		session := h.sessions.Register(pendingBooking(id))
		h.backend.On("ProcessPayment", mock.Anything, mock.Anything).
			Return(&models.ProcessPaymentResponse{Success: true, SnapToken: "snap-" + id}, nil).Once()

		result, err := h.payments.Initiate(ctx, session)
		require.NoError(t, err)
		require.Equal(t, PaymentModeCheckout, result.Mode)
		require.Equal(t, []string{"snap-" + id}, h.checkout.tokens)
		return h, session
	}

	t.Run("opens checkout with provisional status", func(t *testing.T) {
		_, session := setup(t, "TB-110")

		view := session.View()
		assert.True(t, view.Processing)
		assert.True(t, view.Provisional)
		assert.Equal(t, models.BookingStatusPendingVerification, view.Booking.Status)
		require.NotNil(t, view.Booking.SnapToken)
		assert.Equal(t, "snap-TB-110", *view.Booking.SnapToken)
	})

	t.Run("second initiation while open is rejected", func(t *testing.T) {
		h, session := setup(t, "TB-111")

		_, err := h.payments.Initiate(ctx, session)
		assert.ErrorIs(t, err, ErrPaymentInProgress)
		h.backend.AssertNumberOfCalls(t, "ProcessPayment", 1)
	})

	t.Run("success callback moves to voucher view", func(t *testing.T) {
		h, session := setup(t, "TB-112")

		h.checkout.last.OnSuccess(ctx, CheckoutResult{OrderID: "TB-112", TransactionStatus: "settlement", PaymentType: "bank_transfer"})

		view := session.View()
		assert.False(t, view.Processing)
		assert.Equal(t, NextViewVoucher, view.NextView)
		assert.Equal(t, models.PaymentStatusSettlement, view.Booking.PaymentStatus)
		assert.Equal(t, models.BookingStatusPendingVerification, view.Booking.Status)
		require.NotNil(t, view.Booking.PaymentMethod)
		assert.Equal(t, "bank_transfer", *view.Booking.PaymentMethod)
		assert.Equal(t, 1, countMessages(h.feed, "TB-112", msgPaymentSuccess))

		snapshot, err := h.store.Find(ctx, "TB-112")
		require.NoError(t, err)
		require.NotNil(t, snapshot)
		assert.Equal(t, models.PaymentStatusSettlement, snapshot.PaymentStatus)
	})

	t.Run("paid booking survives a lagging backend", func(t *testing.T) {
		h, session := setup(t, "TB-116")
		h.checkout.last.OnSuccess(ctx, CheckoutResult{OrderID: "TB-116", TransactionStatus: "settlement"})

		h.backend.On("GetPaymentStatus", mock.Anything, "TB-116").
			Return(statusData(models.BookingStatusPending, models.PaymentStatusPending), nil).Once()
		h.backend.On("GetPaymentStatus", mock.Anything, "TB-116").
			Return(statusData(models.BookingStatusPendingVerification, models.PaymentStatusSettlement), nil).Once()

		result := h.reconciler.CheckPaymentStatus(ctx, session)
		assert.False(t, result.Applied)
		assert.Equal(t, models.BookingStatusPendingVerification, result.Current)
		assert.NotContains(t, h.audit.types(), models.PaymentEventProvisionalCleared)

		snapshot, err := h.store.Find(ctx, "TB-116")
		require.NoError(t, err)
		require.NotNil(t, snapshot)
		assert.Equal(t, models.BookingStatusPendingVerification, snapshot.Status)
		require.NotNil(t, snapshot.Provisional)
		assert.True(t, snapshot.Provisional.Confirmed)

		// backend catches up
		h.reconciler.CheckPaymentStatus(ctx, session)
		booking := session.Booking()
		assert.Equal(t, models.BookingStatusPendingVerification, booking.Status)
		assert.Nil(t, booking.Provisional)
		assert.Contains(t, h.audit.types(), models.PaymentEventProvisionalCleared)
	})

	t.Run("pending callback moves to booking detail", func(t *testing.T) {
		h, session := setup(t, "TB-113")

		h.checkout.last.OnPending(ctx, CheckoutResult{TransactionStatus: "pending"})

		view := session.View()
		assert.False(t, view.Processing)
		assert.Equal(t, NextViewBookingDetail, view.NextView)
		assert.Equal(t, models.BadgeYellow, view.PaymentBadge)
		assert.Equal(t, 1, countMessages(h.feed, "TB-113", msgPaymentPending))
	})

	t.Run("error callback leaves status alone", func(t *testing.T) {
		h, session := setup(t, "TB-114")

		h.checkout.last.OnError(ctx, CheckoutResult{StatusMessage: "card declined"})

		view := session.View()
		assert.False(t, view.Processing)
		assert.Equal(t, NextViewNone, view.NextView)
		assert.Equal(t, models.BookingStatusPendingVerification, view.Booking.Status)
		assert.Equal(t, 1, countMessages(h.feed, "TB-114", msgPaymentError))
		assert.Contains(t, h.audit.types(), models.PaymentEventCheckoutError)
	})

	t.Run("close callback clears processing", func(t *testing.T) {
		h, session := setup(t, "TB-115")

		h.checkout.last.OnClose(ctx)

		assert.False(t, session.IsProcessing())
		assert.Equal(t, 1, countMessages(h.feed, "TB-115", msgPaymentWindowClose))
	})
}

func TestInitiate_CheckoutNotReady(t *testing.T) {
	ctx := context.Background()

	t.Run("production fails hard", func(t *testing.T) {
		h := newHarness(t, testPollingConfig(), false)
		h.checkout.ready = false
		session := h.sessions.Register(pendingBooking("TB-120"))

		h.backend.On("ProcessPayment", mock.Anything, mock.Anything).
			Return(&models.ProcessPaymentResponse{Success: true, SnapToken: "snap-TB-120"}, nil).Once()

		_, err := h.payments.Initiate(ctx, session)
		assert.ErrorIs(t, err, ErrCheckoutUnavailable)

		view := session.View()
		assert.False(t, view.Processing)
		assert.False(t, view.Provisional)
		assert.Equal(t, models.BookingStatusPending, view.Booking.Status)
		assert.Equal(t, 1, countMessages(h.feed, "TB-120", msgCheckoutNotReady))
		h.backend.AssertNotCalled(t, "SimulatePaymentSuccess", mock.Anything, mock.Anything)
	})

	t.Run("development simulates success", func(t *testing.T) {
		h := newHarness(t, testPollingConfig(), true)
		h.checkout.ready = false
		session := h.sessions.Register(pendingBooking("TB-121"))

		h.backend.On("ProcessPayment", mock.Anything, mock.Anything).
			Return(&models.ProcessPaymentResponse{Success: true, SnapToken: "snap-TB-121"}, nil).Once()
		h.backend.On("SimulatePaymentSuccess", mock.Anything, "TB-121").
			Return(nil, nil).Once()

		result, err := h.payments.Initiate(ctx, session)
		require.NoError(t, err)
		assert.Equal(t, PaymentModeSimulated, result.Mode)
		assert.Equal(t, NextViewVoucher, result.NextView)

		view := session.View()
		assert.False(t, view.Processing)
		assert.Equal(t, NextViewVoucher, view.NextView)
		assert.Equal(t, models.PaymentStatusSettlement, view.Booking.PaymentStatus)
		assert.Contains(t, h.audit.types(), models.PaymentEventSimulatedSuccess)

		snapshot, err := h.store.Find(ctx, "TB-121")
		require.NoError(t, err)
		require.NotNil(t, snapshot)
		assert.Equal(t, models.BookingStatusPendingVerification, snapshot.Status)
	})
}

func TestInitiate_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("backend message is shown", func(t *testing.T) {
		h := newHarness(t, testPollingConfig(), false)
		session := h.sessions.Register(pendingBooking("TB-130"))

		h.backend.On("ProcessPayment", mock.Anything, mock.Anything).
			Return(nil, &APIError{Operation: "processPayment", StatusCode: 422, Message: "Payment deadline has passed"}).Once()

		_, err := h.payments.Initiate(ctx, session)
		require.Error(t, err)
		assert.False(t, session.IsProcessing())
		assert.Equal(t, 1, countMessages(h.feed, "TB-130", "Payment deadline has passed"))
	})

	t.Run("generic message without backend message", func(t *testing.T) {
		h := newHarness(t, testPollingConfig(), false)
		session := h.sessions.Register(pendingBooking("TB-131"))

		h.backend.On("ProcessPayment", mock.Anything, mock.Anything).
			Return(nil, errors.New("dial tcp: connection refused")).Once()

		_, err := h.payments.Initiate(ctx, session)
		require.Error(t, err)
		assert.Equal(t, 1, countMessages(h.feed, "TB-131", msgPaymentFailed))
	})

	t.Run("confirmed booking is not payable", func(t *testing.T) {
		h := newHarness(t, testPollingConfig(), false)
		confirmed := pendingBooking("TB-132")
		confirmed.Status = models.BookingStatusConfirmed
		session := h.sessions.Register(confirmed)

		_, err := h.payments.Initiate(ctx, session)
		assert.ErrorIs(t, err, ErrBookingNotPayable)
		h.backend.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything)
	})

	t.Run("empty response", func(t *testing.T) {
		h := newHarness(t, testPollingConfig(), false)
		session := h.sessions.Register(pendingBooking("TB-133"))

		h.backend.On("ProcessPayment", mock.Anything, mock.Anything).
			Return(&models.ProcessPaymentResponse{Success: true}, nil).Once()

		_, err := h.payments.Initiate(ctx, session)
		require.Error(t, err)
		assert.False(t, session.IsProcessing())
	})
}

func TestInitiate_RetryAfterClosedCheckout(t *testing.T) {
	h := newHarness(t, testPollingConfig(), false)
	ctx := context.Background()
	session := h.sessions.Register(pendingBooking("TB-140"))

	h.backend.On("ProcessPayment", mock.Anything, mock.Anything).
		Return(&models.ProcessPaymentResponse{Success: true, SnapToken: "snap-TB-140-a"}, nil).Once()
	h.backend.On("ProcessPayment", mock.Anything, mock.Anything).
		Return(&models.ProcessPaymentResponse{Success: true, SnapToken: "snap-TB-140-b"}, nil).Once()

	_, err := h.payments.Initiate(ctx, session)
	require.NoError(t, err)
	h.checkout.last.OnClose(ctx)

	// provisional status still rests on a pending server status, so paying again is allowed
	result, err := h.payments.Initiate(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, "snap-TB-140-b", result.SnapToken)

	booking := session.Booking()
	require.NotNil(t, booking.Provisional)
	assert.Equal(t, models.BookingStatusPending, booking.Provisional.PreviousStatus)
}
