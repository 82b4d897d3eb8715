package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/metrics"
	"github.com/tourbooking/booking-flow/internal/models"
)

// ReadResult is a loaded booking and where it came from
type ReadResult struct {
	Session      *BookingSession
	FromFallback bool
}

// BookingReader loads bookings into sessions, falling back to the booking snapshot
// when the backend cannot be reached
type BookingReader struct {
	backend    BookingBackend
	store      SnapshotStore
	sessions   *SessionRegistry
	reconciler *StatusReconciler
	logger     *logrus.Logger
}

// NewBookingReader creates a new booking reader
func NewBookingReader(
	backend BookingBackend,
	store SnapshotStore,
	sessions *SessionRegistry,
	reconciler *StatusReconciler,
	logger *logrus.Logger,
) *BookingReader {
	return &BookingReader{
		backend:    backend,
		store:      store,
		sessions:   sessions,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Load fetches booking id. With refresh the backend re-queries the gateway first.
// A booking already in a session is reconciled rather than replaced.
func (r *BookingReader) Load(ctx context.Context, id string, refresh bool) (*ReadResult, error) {
	var (
		booking *models.Booking
		err     error
	)
	if refresh {
		booking, err = r.backend.GetBookingWithStatusRefresh(ctx, id)
	} else {
		booking, err = r.backend.GetBookingByID(ctx, id)
	}

	if err != nil {
		return r.loadFallback(ctx, id, err)
	}

	if session, ok := r.sessions.Get(id); ok {
		if _, applyErr := r.reconciler.ApplyBooking(ctx, session, booking, models.PaymentSourceBackend); applyErr != nil {
			r.logger.WithError(applyErr).WithField("booking_id", id).Warn("Failed to reconcile loaded booking")
		}
		return &ReadResult{Session: session}, nil
	}

	return &ReadResult{Session: r.sessions.Register(booking)}, nil
}

// loadFallback serves the snapshot when it matches id; otherwise cause is returned
func (r *BookingReader) loadFallback(ctx context.Context, id string, cause error) (*ReadResult, error) {
	entry := r.logger.WithError(cause).WithField("booking_id", id)

	if r.store == nil {
		metrics.FallbackReads.WithLabelValues("miss").Inc()
		return nil, cause
	}

	snapshot, err := r.store.Find(ctx, id)
	if err != nil {
		entry.WithField("fallback_error", err.Error()).Warn("Backend and fallback snapshot both unavailable")
		metrics.FallbackReads.WithLabelValues("error").Inc()
		return nil, cause
	}
	if snapshot == nil {
		metrics.FallbackReads.WithLabelValues("miss").Inc()
		return nil, cause
	}

	metrics.FallbackReads.WithLabelValues("hit").Inc()
	entry.Warn("Backend unavailable, serving booking from fallback snapshot")

	if session, ok := r.sessions.Get(id); ok {
		return &ReadResult{Session: session, FromFallback: true}, nil
	}
	return &ReadResult{Session: r.sessions.Register(snapshot), FromFallback: true}, nil
}

// Session returns the live session for id, loading the booking when there is none
func (r *BookingReader) Session(ctx context.Context, id string) (*BookingSession, error) {
	if session, ok := r.sessions.Get(id); ok {
		return session, nil
	}

	result, err := r.Load(ctx, id, false)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load booking %s: %w", id, err)
	}
	return result.Session, nil
}
