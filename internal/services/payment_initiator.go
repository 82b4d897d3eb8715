package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/metrics"
	"github.com/tourbooking/booking-flow/internal/models"
)

var (
	// ErrPaymentInProgress means a payment step is already running for the booking
	ErrPaymentInProgress = errors.New("payment is already being processed")

	// ErrBookingNotPayable means the booking is past the pending status
	ErrBookingNotPayable = errors.New("booking is not awaiting payment")
)

// Payment notification texts
const (
	msgPaymentFailed      = "Failed to process payment. Please try again."
	msgCheckoutNotReady   = "Payment system is not available. Please refresh the page and try again."
	msgPaymentSuccess     = "Payment successful! We are verifying your payment."
	msgPaymentPending     = "Payment is pending. Please complete it using the instructions provided."
	msgPaymentError       = "Payment failed. Please try again."
	msgPaymentWindowClose = "Payment window was closed before the payment was completed."
)

// PaymentMode says how a payment was started
type PaymentMode string

const (
	PaymentModeRedirect  PaymentMode = "redirect"
	PaymentModeCheckout  PaymentMode = "checkout"
	PaymentModeSimulated PaymentMode = "simulated"
)

// PaymentResult tells the page what to do after initiation
type PaymentResult struct {
	Mode        PaymentMode `json:"mode"`
	RedirectURL string      `json:"redirectUrl,omitempty"`
	SnapToken   string      `json:"snapToken,omitempty"`
	NextView    NextView    `json:"nextView,omitempty"`
}

// PaymentInitiator starts payment for a pending booking and handles the checkout outcome
type PaymentInitiator struct {
	backend         BookingBackend
	checkout        CheckoutScript
	store           SnapshotStore
	notifier        Notifier
	audit           *AuditService
	allowSimulation bool
	logger          *logrus.Logger
}

// NewPaymentInitiator creates a payment initiator. allowSimulation enables the
// development-only simulated success when the checkout script is missing.
func NewPaymentInitiator(
	backend BookingBackend,
	checkout CheckoutScript,
	store SnapshotStore,
	notifier Notifier,
	audit *AuditService,
	allowSimulation bool,
	logger *logrus.Logger,
) *PaymentInitiator {
	return &PaymentInitiator{
		backend:         backend,
		checkout:        checkout,
		store:           store,
		notifier:        notifier,
		audit:           audit,
		allowSimulation: allowSimulation,
		logger:          logger,
	}
}

// Initiate starts payment for the session's booking
func (p *PaymentInitiator) Initiate(ctx context.Context, session *BookingSession) (*PaymentResult, error) {
	session.mu.Lock()
	if session.processing {
		session.mu.Unlock()
		return nil, ErrPaymentInProgress
	}
	booking := session.booking
	if booking.ServerStatus() != models.BookingStatusPending {
		status := booking.Status
		session.mu.Unlock()
		return nil, fmt.Errorf("%w: status is %s", ErrBookingNotPayable, status)
	}
	session.processing = true
	session.nextView = NextViewNone
	session.redirectURL = ""
	session.touch()
	req := &models.ProcessPaymentRequest{
		BookingID:    booking.Key(),
		CustomerInfo: booking.CustomerInfo,
		PackageInfo:  booking.PackageInfo,
		Participants: booking.Participants,
		TotalAmount:  booking.TotalAmount,
	}
	session.mu.Unlock()

	bookingID := req.BookingID
	entry := p.logger.WithField("booking_id", bookingID)

	p.audit.Record(ctx, models.NewPaymentAudit(bookingID, models.PaymentEventInitiated, models.PaymentSourceUser).
		SetAmount(req.TotalAmount))

	resp, err := p.backend.ProcessPayment(ctx, req)
	if err != nil {
		entry.WithError(err).Error("Failed to process payment")
		message := BackendMessage(err)
		if message == "" {
			message = msgPaymentFailed
		}
		p.fail(ctx, session, bookingID, message, err)
		return nil, fmt.Errorf("failed to process payment: %w", err)
	}

	switch {
	case resp.RedirectURL != "":
		session.mu.Lock()
		session.processing = false
		session.nextView = NextViewRedirect
		session.redirectURL = resp.RedirectURL
		session.touch()
		session.mu.Unlock()

		metrics.PaymentsInitiated.WithLabelValues(string(PaymentModeRedirect)).Inc()
		entry.Info("Payment uses redirect flow")
		p.audit.Record(ctx, models.NewPaymentAudit(bookingID, models.PaymentEventRedirect, models.PaymentSourceBackend).
			SetPayload(map[string]interface{}{"redirect_url": resp.RedirectURL}))

		return &PaymentResult{
			Mode:        PaymentModeRedirect,
			RedirectURL: resp.RedirectURL,
			NextView:    NextViewRedirect,
		}, nil

	case resp.SnapToken != "":
		return p.openCheckout(ctx, session, bookingID, resp.SnapToken)

	default:
		err := &APIError{Operation: "processPayment", StatusCode: 200, Message: "response has neither snap token nor redirect url"}
		entry.WithError(err).Error("Unusable payment response")
		p.fail(ctx, session, bookingID, msgPaymentFailed, err)
		return nil, fmt.Errorf("failed to process payment: %w", err)
	}
}

// openCheckout marks the booking provisionally paid and opens the popup for token
func (p *PaymentInitiator) openCheckout(ctx context.Context, session *BookingSession, bookingID, token string) (*PaymentResult, error) {
	session.mu.Lock()
	b := session.booking
	if b.Status == models.BookingStatusPending {
		b.Provisional = &models.ProvisionalUpdate{
			PreviousStatus: b.Status,
			Status:         models.BookingStatusPendingVerification,
			SnapToken:      token,
			At:             time.Now(),
		}
		b.Status = models.BookingStatusPendingVerification
	} else if b.Provisional != nil {
		b.Provisional.SnapToken = token
	}
	snapToken := token
	b.SnapToken = &snapToken
	session.touch()
	session.mu.Unlock()

	if p.checkout != nil && p.checkout.Ready() {
		err := p.checkout.Pay(ctx, token, p.callbacks(session, bookingID, token))
		if err == nil {
			metrics.PaymentsInitiated.WithLabelValues(string(PaymentModeCheckout)).Inc()
			p.audit.Record(ctx, models.NewPaymentAudit(bookingID, models.PaymentEventCheckoutOpened, models.PaymentSourceCheckout).
				SetSnapToken(token))
			return &PaymentResult{Mode: PaymentModeCheckout, SnapToken: token}, nil
		}
		if !errors.Is(err, ErrCheckoutUnavailable) {
			p.rollbackProvisional(session)
			p.fail(ctx, session, bookingID, msgPaymentFailed, err)
			return nil, fmt.Errorf("failed to open checkout: %w", err)
		}
	}

	if p.allowSimulation {
		return p.simulate(ctx, session, bookingID, token)
	}

	p.logger.WithField("booking_id", bookingID).Error("Checkout script not loaded, cannot open payment")
	p.rollbackProvisional(session)
	p.fail(ctx, session, bookingID, msgCheckoutNotReady, ErrCheckoutUnavailable)
	return nil, ErrCheckoutUnavailable
}

// simulate marks the booking paid through the development endpoint
func (p *PaymentInitiator) simulate(ctx context.Context, session *BookingSession, bookingID, token string) (*PaymentResult, error) {
	p.logger.WithField("booking_id", bookingID).Warn("Checkout script not loaded, simulating payment success (development)")

	if _, err := p.backend.SimulatePaymentSuccess(ctx, bookingID); err != nil {
		p.rollbackProvisional(session)
		message := BackendMessage(err)
		if message == "" {
			message = msgPaymentFailed
		}
		p.fail(ctx, session, bookingID, message, err)
		return nil, fmt.Errorf("failed to simulate payment: %w", err)
	}

	metrics.PaymentsInitiated.WithLabelValues(string(PaymentModeSimulated)).Inc()
	p.audit.Record(ctx, models.NewPaymentAudit(bookingID, models.PaymentEventSimulatedSuccess, models.PaymentSourceBackend).
		SetSnapToken(token))

	p.onSuccess(ctx, session, bookingID, CheckoutResult{
		OrderID:           bookingID,
		TransactionStatus: string(models.PaymentStatusSettlement),
	})
	return &PaymentResult{Mode: PaymentModeSimulated, SnapToken: token, NextView: NextViewVoucher}, nil
}

// fail clears the processing flag and tells the user
func (p *PaymentInitiator) fail(ctx context.Context, session *BookingSession, bookingID, message string, cause error) {
	session.mu.Lock()
	session.processing = false
	session.touch()
	session.mu.Unlock()

	metrics.PaymentsInitiated.WithLabelValues("failed").Inc()
	p.audit.Record(ctx, models.NewPaymentAudit(bookingID, models.PaymentEventError, models.PaymentSourceUser).
		SetError(cause.Error()))
	notify(ctx, p.notifier, bookingID, models.NotificationError, message)
}

// rollbackProvisional drops an optimistic status for a checkout that never opened
func (p *PaymentInitiator) rollbackProvisional(session *BookingSession) {
	session.mu.Lock()
	defer session.mu.Unlock()

	b := session.booking
	if b.Provisional != nil {
		b.Status = b.Provisional.PreviousStatus
		b.Provisional = nil
		session.touch()
	}
}

// callbacks wires the popup outcome back into the session
func (p *PaymentInitiator) callbacks(session *BookingSession, bookingID, token string) CheckoutCallbacks {
	return CheckoutCallbacks{
		OnSuccess: func(ctx context.Context, result CheckoutResult) {
			p.onSuccess(ctx, session, bookingID, result)
		},
		OnPending: func(ctx context.Context, result CheckoutResult) {
			session.mu.Lock()
			session.processing = false
			session.nextView = NextViewBookingDetail
			session.booking.PaymentStatus = models.PaymentStatusPending
			session.touch()
			session.mu.Unlock()

			p.audit.Record(ctx, models.NewPaymentAudit(bookingID, models.PaymentEventCheckoutPending, models.PaymentSourceCheckout).
				SetSnapToken(token).
				SetPaymentStatus(models.PaymentStatus(result.TransactionStatus)).
				SetPayload(resultPayload(result)))
			notify(ctx, p.notifier, bookingID, models.NotificationInfo, msgPaymentPending)
		},
		OnError: func(ctx context.Context, result CheckoutResult) {
			p.clearProcessing(session)
			p.audit.Record(ctx, models.NewPaymentAudit(bookingID, models.PaymentEventCheckoutError, models.PaymentSourceCheckout).
				SetSnapToken(token).
				SetError(result.StatusMessage).
				SetPayload(resultPayload(result)))
			notify(ctx, p.notifier, bookingID, models.NotificationError, msgPaymentError)
		},
		OnClose: func(ctx context.Context) {
			p.clearProcessing(session)
			p.audit.Record(ctx, models.NewPaymentAudit(bookingID, models.PaymentEventCheckoutClosed, models.PaymentSourceCheckout).
				SetSnapToken(token))
			notify(ctx, p.notifier, bookingID, models.NotificationWarning, msgPaymentWindowClose)
		},
	}
}

func (p *PaymentInitiator) clearProcessing(session *BookingSession) {
	session.mu.Lock()
	session.processing = false
	session.touch()
	session.mu.Unlock()
}

// onSuccess records a paid checkout and moves the page to the voucher view
func (p *PaymentInitiator) onSuccess(ctx context.Context, session *BookingSession, bookingID string, result CheckoutResult) {
	paymentStatus := models.PaymentStatus(result.TransactionStatus)
	if !paymentStatus.IsPaid() {
		paymentStatus = models.PaymentStatusSettlement
	}

	session.mu.Lock()
	b := session.booking
	session.processing = false
	session.nextView = NextViewVoucher
	b.PaymentStatus = paymentStatus
	if b.Status == models.BookingStatusPending {
		b.Provisional = &models.ProvisionalUpdate{
			PreviousStatus: b.Status,
			Status:         models.BookingStatusPendingVerification,
			At:             time.Now(),
		}
		b.Status = models.BookingStatusPendingVerification
	}
	if b.Provisional != nil {
		b.Provisional.Confirmed = true
	}
	now := time.Now()
	b.PaymentDate = &now
	if result.PaymentType != "" {
		method := result.PaymentType
		b.PaymentMethod = &method
	}
	session.touch()
	snapshot := b.Clone()
	session.mu.Unlock()

	if p.store != nil {
		if err := p.store.Save(ctx, snapshot); err != nil {
			p.logger.WithError(err).WithField("booking_id", bookingID).Warn("Failed to save booking snapshot")
		}
	}

	p.logger.WithFields(logrus.Fields{
		"booking_id":     bookingID,
		"payment_status": paymentStatus,
		"transaction_id": result.TransactionID,
	}).Info("Payment completed")

	p.audit.Record(ctx, models.NewPaymentAudit(bookingID, models.PaymentEventCheckoutSuccess, models.PaymentSourceCheckout).
		SetTransition(models.BookingStatusPending, snapshot.Status).
		SetPaymentStatus(paymentStatus).
		SetPayload(resultPayload(result)))
	notify(ctx, p.notifier, bookingID, models.NotificationSuccess, msgPaymentSuccess)
}

func resultPayload(result CheckoutResult) map[string]interface{} {
	return map[string]interface{}{
		"order_id":           result.OrderID,
		"transaction_id":     result.TransactionID,
		"transaction_status": result.TransactionStatus,
		"status_code":        result.StatusCode,
		"payment_type":       result.PaymentType,
		"gross_amount":       result.GrossAmount,
	}
}
