package services

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tourbooking/booking-flow/internal/models"
)

func TestLoad_FromBackend(t *testing.T) {
	h := newHarness(t, testPollingConfig(), false)

	h.backend.On("GetBookingByID", mock.Anything, "TB-300").Return(pendingBooking("TB-300"), nil).Once()

	result, err := h.reader.Load(context.Background(), "TB-300", false)
	require.NoError(t, err)
	assert.False(t, result.FromFallback)
	assert.Equal(t, "TB-300", result.Session.Booking().BookingID)
}

func TestLoad_WithStatusRefreshReconcilesSession(t *testing.T) {
	h := newHarness(t, testPollingConfig(), false)
	session := h.sessions.Register(pendingBooking("TB-301"))

	refreshed := pendingBooking("TB-301")
	refreshed.Status = models.BookingStatusConfirmed
	refreshed.PaymentStatus = models.PaymentStatusSettlement
	h.backend.On("GetBookingWithStatusRefresh", mock.Anything, "TB-301").Return(refreshed, nil).Once()

	result, err := h.reader.Load(context.Background(), "TB-301", true)
	require.NoError(t, err)
	assert.Same(t, session, result.Session)
	assert.Equal(t, models.BookingStatusConfirmed, session.Booking().Status)
	assert.Equal(t, 1, countMessages(h.feed, "TB-301", msgBookingConfirmed))
}

func TestLoad_Fallback(t *testing.T) {
	ctx := context.Background()
	unreachable := errors.New("dial tcp: connection refused")

	t.Run("serves matching snapshot", func(t *testing.T) {
		h := newHarness(t, testPollingConfig(), false)
		require.NoError(t, h.store.Save(ctx, pendingBooking("TB-310")))

		h.backend.On("GetBookingByID", mock.Anything, "uuid-TB-310").Return(nil, unreachable).Once()

		result, err := h.reader.Load(ctx, "uuid-TB-310", false)
		require.NoError(t, err)
		assert.True(t, result.FromFallback)
		assert.Equal(t, "TB-310", result.Session.Booking().BookingID)
	})

	t.Run("snapshot of another booking is not served", func(t *testing.T) {
		h := newHarness(t, testPollingConfig(), false)
		require.NoError(t, h.store.Save(ctx, pendingBooking("TB-311")))

		h.backend.On("GetBookingByID", mock.Anything, "TB-999").Return(nil, unreachable).Once()

		_, err := h.reader.Load(ctx, "TB-999", false)
		assert.ErrorIs(t, err, unreachable)
	})

	t.Run("earlier booking survives later saves", func(t *testing.T) {
		h := newHarness(t, testPollingConfig(), false)
		require.NoError(t, h.store.Save(ctx, pendingBooking("TB-313")))
		confirmed := pendingBooking("TB-314")
		confirmed.Status = models.BookingStatusConfirmed
		require.NoError(t, h.store.Save(ctx, confirmed))

		h.backend.On("GetBookingByID", mock.Anything, "TB-313").Return(nil, unreachable).Once()

		result, err := h.reader.Load(ctx, "TB-313", false)
		require.NoError(t, err)
		assert.True(t, result.FromFallback)
		assert.Equal(t, models.BookingStatusPending, result.Session.Booking().Status)
	})

	t.Run("no snapshot", func(t *testing.T) {
		h := newHarness(t, testPollingConfig(), false)
		h.backend.On("GetBookingByID", mock.Anything, "TB-312").
			Return(nil, &APIError{Operation: "getBookingById", StatusCode: http.StatusNotFound, Message: "Booking not found"}).Once()

		_, err := h.reader.Session(ctx, "TB-312")
		assert.ErrorIs(t, err, ErrBookingNotFound)
	})
}

func TestSession_ReusesLiveSession(t *testing.T) {
	h := newHarness(t, testPollingConfig(), false)
	session := h.sessions.Register(pendingBooking("TB-320"))

	got, err := h.reader.Session(context.Background(), "uuid-TB-320")
	require.NoError(t, err)
	assert.Same(t, session, got)
	h.backend.AssertNotCalled(t, "GetBookingByID", mock.Anything, mock.Anything)
}
