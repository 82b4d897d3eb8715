package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/models"
	"github.com/tourbooking/booking-flow/pkg/jwt"
)

var (
	// ErrVoucherNotReady means the booking is not confirmed yet
	ErrVoucherNotReady = errors.New("voucher is only available for confirmed bookings")

	// ErrInvalidShareToken means a share link is forged or expired
	ErrInvalidShareToken = errors.New("invalid share token")
)

const (
	msgVoucherGenerated = "Voucher generated successfully."
	msgVoucherFailed    = "Failed to generate voucher. Please try again."
	msgCancelFailed     = "Failed to cancel booking. Please try again."
)

// ShareLink is a read-only link to a booking
type ShareLink struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Text      string    `json:"text"`
}

// BookingActions are the manual actions of the booking detail page
type BookingActions struct {
	backend       BookingBackend
	reader        *BookingReader
	reconciler    *StatusReconciler
	store         SnapshotStore
	notifier      Notifier
	audit         *AuditService
	shareTokens   *jwt.Service
	publicBaseURL string
	logger        *logrus.Logger
}

// NewBookingActions creates the booking detail actions
func NewBookingActions(
	backend BookingBackend,
	reader *BookingReader,
	reconciler *StatusReconciler,
	store SnapshotStore,
	notifier Notifier,
	audit *AuditService,
	shareTokens *jwt.Service,
	publicBaseURL string,
	logger *logrus.Logger,
) *BookingActions {
	return &BookingActions{
		backend:       backend,
		reader:        reader,
		reconciler:    reconciler,
		store:         store,
		notifier:      notifier,
		audit:         audit,
		shareTokens:   shareTokens,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
	}
}

// Cancel cancels a booking that is still pending
func (a *BookingActions) Cancel(ctx context.Context, session *BookingSession) (*CheckResult, error) {
	booking := session.Booking()
	bookingID := booking.Key()

	if err := booking.ServerStatus().ValidateTransition(models.BookingStatusCancelled); err != nil {
		return nil, err
	}
	if session.IsProcessing() {
		return nil, ErrPaymentInProgress
	}

	cancelled, err := a.backend.CancelBooking(ctx, bookingID)
	if err != nil {
		a.logger.WithError(err).WithField("booking_id", bookingID).Error("Failed to cancel booking")
		message := BackendMessage(err)
		if message == "" {
			message = msgCancelFailed
		}
		notify(ctx, a.notifier, bookingID, models.NotificationError, message)
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	if cancelled.Status == "" {
		cancelled.Status = models.BookingStatusCancelled
	}

	a.audit.Record(ctx, models.NewPaymentAudit(bookingID, models.PaymentEventBookingCancelled, models.PaymentSourceUser).
		SetTransition(booking.Status, cancelled.Status))

	return a.reconciler.ApplyBooking(ctx, session, cancelled, models.PaymentSourceUser)
}

// GenerateVoucher issues the voucher of a confirmed booking
func (a *BookingActions) GenerateVoucher(ctx context.Context, session *BookingSession) (*models.Voucher, error) {
	booking := session.Booking()
	bookingID := booking.Key()

	if booking.Provisional != nil || (booking.Status != models.BookingStatusConfirmed && booking.Status != models.BookingStatusCompleted) {
		return nil, ErrVoucherNotReady
	}

	voucher, err := a.backend.GenerateVoucher(ctx, bookingID)
	if err != nil {
		a.logger.WithError(err).WithField("booking_id", bookingID).Error("Failed to generate voucher")
		message := BackendMessage(err)
		if message == "" {
			message = msgVoucherFailed
		}
		notify(ctx, a.notifier, bookingID, models.NotificationError, message)
		return nil, fmt.Errorf("failed to generate voucher: %w", err)
	}

	session.mu.Lock()
	session.booking.HasVoucher = true
	code := voucher.Code
	session.booking.VoucherCode = &code
	session.touch()
	snapshot := session.booking.Clone()
	session.mu.Unlock()

	if a.store != nil {
		if err := a.store.Save(ctx, snapshot); err != nil {
			a.logger.WithError(err).WithField("booking_id", bookingID).Warn("Failed to save booking snapshot")
		}
	}

	a.logger.WithFields(logrus.Fields{
		"booking_id":   bookingID,
		"voucher_code": voucher.Code,
	}).Info("Voucher generated")
	notify(ctx, a.notifier, bookingID, models.NotificationSuccess, msgVoucherGenerated)

	return voucher, nil
}

// VoucherAvailable reports whether the voucher can be downloaded
func (a *BookingActions) VoucherAvailable(ctx context.Context, bookingID string) (bool, error) {
	available, err := a.backend.IsVoucherAvailable(ctx, bookingID)
	if err != nil {
		return false, fmt.Errorf("failed to check voucher availability: %w", err)
	}
	return available, nil
}

// Voucher returns the voucher download info
func (a *BookingActions) Voucher(ctx context.Context, bookingID string) (*models.Voucher, error) {
	voucher, err := a.backend.GetBookingVoucher(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}
	return voucher, nil
}

// ShareLink issues a read-only link to the session's booking
func (a *BookingActions) ShareLink(session *BookingSession) (*ShareLink, error) {
	booking := session.Booking()

	token, err := a.shareTokens.GenerateShareToken(booking.Key())
	if err != nil {
		return nil, err
	}
	expiresAt, err := a.shareTokens.GetTokenExpiry(token)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/booking/shared/%s", a.publicBaseURL, token)
	return &ShareLink{
		URL:       url,
		Token:     token,
		ExpiresAt: expiresAt,
		Text:      ShareText(booking, url),
	}, nil
}

// ShareText is the message copied or shared alongside the link
func ShareText(b *models.Booking, url string) string {
	name := b.PackageInfo.Name
	if name == "" {
		name = b.PackageInfo.ID
	}
	return fmt.Sprintf("Tour booking %s: %s, %s to %s, %d participant(s). Details: %s",
		b.Key(), name, b.Schedule.StartDate, b.Schedule.EndDate, b.Participants, url)
}

// Shared resolves a share token to a read-only booking view
func (a *BookingActions) Shared(ctx context.Context, token string) (*SessionView, error) {
	claims, err := a.shareTokens.ValidateShareToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShareToken, err)
	}

	result, err := a.reader.Load(ctx, claims.BookingID, false)
	if err != nil {
		return nil, err
	}

	view := result.Session.View()
	// a shared view never exposes the checkout token
	view.Booking.SnapToken = nil
	if view.Booking.Provisional != nil {
		view.Booking.Provisional.SnapToken = ""
	}
	return &view, nil
}
