package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/metrics"
	"github.com/tourbooking/booking-flow/internal/models"
	"github.com/tourbooking/booking-flow/pkg/validator"
)

// DefaultPaymentWindow is how long a new booking stays payable when the backend sets no deadline
const DefaultPaymentWindow = 24 * time.Hour

const msgSubmitFailed = "Failed to create booking. Please try again."

// SubmitError is a failed booking creation together with the message shown to the user
type SubmitError struct {
	Message string
	Err     error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("failed to create booking: %v", e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// BookingSubmitter validates the booking form and creates the booking
type BookingSubmitter struct {
	backend   BookingBackend
	validator *validator.BookingFormValidator
	store     SnapshotStore
	sessions  *SessionRegistry
	notifier  Notifier
	audit     *AuditService
	logger    *logrus.Logger
}

// NewBookingSubmitter creates a new booking submitter
func NewBookingSubmitter(
	backend BookingBackend,
	formValidator *validator.BookingFormValidator,
	store SnapshotStore,
	sessions *SessionRegistry,
	notifier Notifier,
	audit *AuditService,
	logger *logrus.Logger,
) *BookingSubmitter {
	return &BookingSubmitter{
		backend:   backend,
		validator: formValidator,
		store:     store,
		sessions:  sessions,
		notifier:  notifier,
		audit:     audit,
		logger:    logger,
	}
}

// formFor maps the request onto the validated form
func formFor(req *models.CreateBookingRequest) validator.BookingForm {
	return validator.BookingForm{
		Name:         req.CustomerInfo.Name,
		Email:        req.CustomerInfo.Email,
		Phone:        req.CustomerInfo.Phone,
		Address:      req.CustomerInfo.Address,
		PackageID:    req.PackageID,
		Participants: req.Participants,
		StartDate:    req.Schedule.StartDate,
		EndDate:      req.Schedule.EndDate,
	}
}

// trimRequest strips surrounding whitespace from the free-text fields
func trimRequest(req *models.CreateBookingRequest) *models.CreateBookingRequest {
	trimmed := *req
	trimmed.CustomerInfo.Name = strings.TrimSpace(req.CustomerInfo.Name)
	trimmed.CustomerInfo.Email = strings.TrimSpace(req.CustomerInfo.Email)
	trimmed.CustomerInfo.Phone = strings.TrimSpace(req.CustomerInfo.Phone)
	trimmed.CustomerInfo.Address = strings.TrimSpace(req.CustomerInfo.Address)
	trimmed.CustomerInfo.Notes = strings.TrimSpace(req.CustomerInfo.Notes)
	trimmed.PackageID = strings.TrimSpace(req.PackageID)
	return &trimmed
}

// Submit validates req and creates the booking. Validation errors are returned as
// validator.FormErrors without contacting the backend.
func (s *BookingSubmitter) Submit(ctx context.Context, req *models.CreateBookingRequest) (*BookingSession, error) {
	if req == nil {
		return nil, fmt.Errorf("booking request cannot be nil")
	}
	req = trimRequest(req)

	if err := s.validator.Validate(formFor(req)); err != nil {
		metrics.BookingsSubmitted.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if phone, err := s.validator.NormalizePhone(req.CustomerInfo.Phone); err == nil {
		req.CustomerInfo.Phone = phone
	}

	booking, err := s.backend.CreateBooking(ctx, req)
	if err != nil {
		metrics.BookingsSubmitted.WithLabelValues("failed").Inc()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"package_id":   req.PackageID,
			"participants": req.Participants,
		}).Error("Failed to create booking")

		message := BackendMessage(err)
		if message == "" {
			message = msgSubmitFailed
		}
		return nil, &SubmitError{Message: message, Err: err}
	}

	fillBookingDefaults(booking, req)

	if s.store != nil {
		if err := s.store.Save(ctx, booking); err != nil {
			s.logger.WithError(err).WithField("booking_id", booking.Key()).Warn("Failed to save booking snapshot")
		}
	}

	session := s.sessions.Register(booking)
	metrics.BookingsSubmitted.WithLabelValues("created").Inc()

	s.logger.WithFields(logrus.Fields{
		"booking_id":   booking.Key(),
		"package_id":   booking.PackageInfo.ID,
		"participants": booking.Participants,
		"total_amount": booking.TotalAmount,
	}).Info("Booking created")

	s.audit.Record(ctx, models.NewPaymentAudit(booking.Key(), models.PaymentEventInitiated, models.PaymentSourceUser).
		SetTransition("", booking.Status).
		SetAmount(booking.TotalAmount))

	notify(ctx, s.notifier, booking.Key(), models.NotificationSuccess,
		fmt.Sprintf("Booking created successfully! Your booking ID is %s.", booking.Key()))

	return session, nil
}

// fillBookingDefaults completes the fields a backend may leave empty on creation
func fillBookingDefaults(booking *models.Booking, req *models.CreateBookingRequest) {
	if booking.Status == "" {
		booking.Status = models.BookingStatusPending
	}
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = time.Now()
	}
	if booking.PaymentDeadline.IsZero() {
		booking.PaymentDeadline = booking.CreatedAt.Add(DefaultPaymentWindow)
	}
	if booking.CustomerInfo == (models.CustomerInfo{}) {
		booking.CustomerInfo = req.CustomerInfo
	}
	if booking.Schedule == (models.Schedule{}) {
		booking.Schedule = req.Schedule
	}
	if booking.Participants == 0 {
		booking.Participants = req.Participants
	}
	if booking.PackageInfo.ID == "" {
		if req.Package != nil {
			booking.PackageInfo = *req.Package
		}
		booking.PackageInfo.ID = req.PackageID
	}
	if booking.TotalAmount == 0 && booking.PackageInfo.Price > 0 {
		booking.TotalAmount = booking.PackageInfo.Price * int64(booking.Participants)
	}
}
