package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/config"
	"github.com/tourbooking/booking-flow/internal/metrics"
	"github.com/tourbooking/booking-flow/internal/models"
)

// Notification texts shown on status changes
const (
	msgBookingConfirmed = "Payment confirmed! Your booking is now confirmed."
	msgBookingCancelled = "Your booking has been cancelled."
	msgPollingGaveUp    = "We could not refresh your payment status. Please refresh the page to try again."
)

// SnapshotStore is the booking fallback store
type SnapshotStore interface {
	Save(ctx context.Context, booking *models.Booking) error
	Find(ctx context.Context, id string) (*models.Booking, error)
	List(ctx context.Context) ([]*models.Booking, error)
}

// CheckResult describes what one reconciliation did
type CheckResult struct {
	BookingID      string               `json:"bookingId"`
	Previous       models.BookingStatus `json:"previousStatus"`
	Current        models.BookingStatus `json:"currentStatus"`
	PaymentStatus  models.PaymentStatus `json:"paymentStatus,omitempty"`
	Applied        bool                 `json:"applied"`
	Stale          bool                 `json:"stale,omitempty"`
	Rejected       bool                 `json:"rejected,omitempty"`
	WebhookUpdated bool                 `json:"webhookUpdated,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// statusUpdate is what the server reported for a booking
type statusUpdate struct {
	Status            models.BookingStatus
	PaymentStatus     models.PaymentStatus
	PaymentMethod     *string
	PaymentDate       *time.Time
	LastWebhookUpdate *time.Time
	Booking           *models.Booking // full booking when the endpoint returns one
}

// StatusReconciler brings session state in line with the backend
type StatusReconciler struct {
	backend  BookingBackend
	store    SnapshotStore
	notifier Notifier
	audit    *AuditService
	cfg      config.PollingConfig
	logger   *logrus.Logger

	mu      sync.Mutex
	pollers map[*BookingSession]*Poller
}

// NewStatusReconciler creates a new status reconciler
func NewStatusReconciler(
	backend BookingBackend,
	store SnapshotStore,
	notifier Notifier,
	audit *AuditService,
	cfg config.PollingConfig,
	logger *logrus.Logger,
) *StatusReconciler {
	return &StatusReconciler{
		backend:  backend,
		store:    store,
		notifier: notifier,
		audit:    audit,
		cfg:      cfg,
		logger:   logger,
		pollers:  make(map[*BookingSession]*Poller),
	}
}

func modeName(enhanced bool) string {
	if enhanced {
		return "enhanced"
	}
	return "basic"
}

// CheckPaymentStatus runs one reconciliation in the configured mode. Failures are
// logged and reported in the result, never returned.
func (r *StatusReconciler) CheckPaymentStatus(ctx context.Context, session *BookingSession) *CheckResult {
	return r.checkAndSettle(ctx, session, r.cfg.TrustWebhookMarker, models.PaymentSourceBackend)
}

// RecheckPayment is the manual "check again" action; it always uses the enhanced endpoint.
// With the webhook marker trusted, a terminal answer stops the poller only when it
// carries a newer marker; otherwise the poller settles on its next tick.
func (r *StatusReconciler) RecheckPayment(ctx context.Context, session *BookingSession) *CheckResult {
	return r.checkAndSettle(ctx, session, true, models.PaymentSourceUser)
}

func (r *StatusReconciler) checkAndSettle(ctx context.Context, session *BookingSession, enhanced bool, source models.PaymentEventSource) *CheckResult {
	result, err := r.check(ctx, session, enhanced, source)
	if err != nil {
		booking := session.Booking()
		r.logger.WithError(err).WithField("booking_id", booking.Key()).Warn("Payment status check failed")
		return &CheckResult{
			BookingID: booking.Key(),
			Previous:  booking.Status,
			Current:   booking.Status,
			Error:     err.Error(),
		}
	}
	if result.Current.IsTerminal() && (!r.cfg.TrustWebhookMarker || result.WebhookUpdated) {
		r.StopPolling(session)
	}
	return result
}

// ApplyBooking reconciles a full booking fetched outside the poll loop (reads, cancel)
func (r *StatusReconciler) ApplyBooking(ctx context.Context, session *BookingSession, booking *models.Booking, source models.PaymentEventSource) (*CheckResult, error) {
	if booking == nil {
		return nil, fmt.Errorf("booking cannot be nil")
	}
	seq := session.nextRequestSeq()
	result, err := r.apply(ctx, session, seq, updateFromBooking(booking), source)
	if err != nil {
		return nil, err
	}
	if result.Current.IsTerminal() {
		r.StopPolling(session)
	}
	return result, nil
}

// check queries the backend and applies the answer. Safe to call concurrently:
// a response older than the last applied one is discarded.
func (r *StatusReconciler) check(ctx context.Context, session *BookingSession, enhanced bool, source models.PaymentEventSource) (*CheckResult, error) {
	bookingID := session.Booking().Key()
	seq := session.nextRequestSeq()
	mode := modeName(enhanced)

	var update statusUpdate
	if enhanced {
		resp, err := r.backend.CheckPaymentStatus(ctx, bookingID)
		if err != nil {
			metrics.StatusChecks.WithLabelValues(mode, "error").Inc()
			return nil, err
		}
		if resp.Booking == nil {
			metrics.StatusChecks.WithLabelValues(mode, "error").Inc()
			return nil, &APIError{Operation: "checkPaymentStatus", StatusCode: 200, Message: "response has no booking"}
		}
		update = updateFromBooking(resp.Booking)
		if update.PaymentStatus == "" {
			update.PaymentStatus = resp.Status
		}
	} else {
		data, err := r.backend.GetPaymentStatus(ctx, bookingID)
		if err != nil {
			metrics.StatusChecks.WithLabelValues(mode, "error").Inc()
			return nil, err
		}
		update = statusUpdate{
			Status:        data.Status,
			PaymentStatus: data.PaymentStatus,
			PaymentMethod: data.PaymentMethod,
			PaymentDate:   data.PaymentDate,
		}
	}

	result, err := r.apply(ctx, session, seq, update, source)
	if err != nil {
		metrics.StatusChecks.WithLabelValues(mode, "error").Inc()
		return nil, err
	}

	switch {
	case result.Stale:
		metrics.StatusChecks.WithLabelValues(mode, "stale").Inc()
	case result.Rejected:
		metrics.StatusChecks.WithLabelValues(mode, "rejected").Inc()
	case result.Applied:
		metrics.StatusChecks.WithLabelValues(mode, "applied").Inc()
	default:
		metrics.StatusChecks.WithLabelValues(mode, "unchanged").Inc()
	}
	return result, nil
}

func updateFromBooking(b *models.Booking) statusUpdate {
	return statusUpdate{
		Status:            b.Status,
		PaymentStatus:     b.PaymentStatus,
		PaymentMethod:     b.PaymentMethod,
		PaymentDate:       b.PaymentDate,
		LastWebhookUpdate: b.LastWebhookUpdate,
		Booking:           b,
	}
}

// apply diffs update against the session and applies it when the status legally changes.
// A provisional status is replaced by server truth unless a checkout is still open or
// the gateway already reported the payment as successful.
func (r *StatusReconciler) apply(ctx context.Context, session *BookingSession, seq uint64, update statusUpdate, source models.PaymentEventSource) (*CheckResult, error) {
	if !update.Status.IsValid() {
		return nil, fmt.Errorf("backend reported unknown booking status %q", update.Status)
	}

	session.mu.Lock()

	b := session.booking
	result := &CheckResult{
		BookingID:     b.Key(),
		Previous:      b.Status,
		Current:       b.Status,
		PaymentStatus: b.PaymentStatus,
	}

	if seq <= session.appliedSeq {
		applied := session.appliedSeq
		session.mu.Unlock()
		result.Stale = true
		r.logger.WithFields(logrus.Fields{
			"booking_id":  result.BookingID,
			"seq":         seq,
			"applied_seq": applied,
		}).Debug("Discarding stale status response")
		return result, nil
	}
	session.appliedSeq = seq

	if update.LastWebhookUpdate != nil && (b.LastWebhookUpdate == nil || update.LastWebhookUpdate.After(*b.LastWebhookUpdate)) {
		result.WebhookUpdated = true
		marker := *update.LastWebhookUpdate
		b.LastWebhookUpdate = &marker
	}

	displayed := b.Status
	server := b.ServerStatus()
	provisional := b.Provisional != nil

	switch {
	case provisional && update.Status == server && (session.processing || b.Provisional.Confirmed):
		// checkout still open, or paid and the backend has not caught up yet
		session.mu.Unlock()
		return result, nil

	case !provisional && update.Status == displayed:
		session.mu.Unlock()
		return result, nil

	case provisional && update.Status == displayed:
		// server caught up with the optimistic status
		b.Provisional = nil
		r.copyFields(session, update)
		session.touch()
		session.mu.Unlock()
		result.PaymentStatus = update.PaymentStatus
		r.audit.Record(ctx, models.NewPaymentAudit(result.BookingID, models.PaymentEventProvisionalCleared, source).
			SetTransition(server, update.Status).
			SetPaymentStatus(update.PaymentStatus))
		return result, nil
	}

	if update.Status != server && !server.CanTransitionTo(update.Status) {
		session.mu.Unlock()
		result.Rejected = true
		r.logger.WithFields(logrus.Fields{
			"booking_id": result.BookingID,
			"from":       server,
			"to":         update.Status,
		}).Warn("Ignoring illegal status transition from backend")
		r.audit.Record(ctx, models.NewPaymentAudit(result.BookingID, models.PaymentEventStatusRejected, source).
			SetTransition(server, update.Status).
			SetError(server.ValidateTransition(update.Status).Error()))
		return result, nil
	}

	// update.Status differs from what is displayed: either a legal move from the
	// server status or a revert of an abandoned provisional status.
	reverted := provisional && update.Status == server
	b.Status = update.Status
	b.Provisional = nil
	r.copyFields(session, update)
	if update.Status.IsTerminal() {
		session.processing = false
	}
	session.touch()
	snapshot := session.booking.Clone()
	session.mu.Unlock()

	result.Current = update.Status
	result.PaymentStatus = update.PaymentStatus
	result.Applied = true

	eventType := models.PaymentEventStatusApplied
	if reverted {
		eventType = models.PaymentEventProvisionalCleared
	}
	metrics.StatusTransitions.WithLabelValues(string(displayed), string(update.Status)).Inc()
	r.logger.WithFields(logrus.Fields{
		"booking_id": result.BookingID,
		"from":       displayed,
		"to":         update.Status,
		"reverted":   reverted,
		"source":     source,
	}).Info("Booking status updated")
	r.audit.Record(ctx, models.NewPaymentAudit(result.BookingID, eventType, source).
		SetTransition(displayed, update.Status).
		SetPaymentStatus(update.PaymentStatus))

	switch {
	case update.Status == models.BookingStatusConfirmed && displayed != models.BookingStatusConfirmed:
		notify(ctx, r.notifier, result.BookingID, models.NotificationSuccess, msgBookingConfirmed)
	case update.Status == models.BookingStatusCancelled:
		notify(ctx, r.notifier, result.BookingID, models.NotificationWarning, msgBookingCancelled)
	}

	if r.store != nil {
		if err := r.store.Save(ctx, snapshot); err != nil {
			r.logger.WithError(err).WithField("booking_id", result.BookingID).Warn("Failed to save booking snapshot")
		}
	}

	return result, nil
}

// copyFields moves the non-status fields of update onto the session booking; caller holds mu
func (r *StatusReconciler) copyFields(session *BookingSession, update statusUpdate) {
	if update.Booking != nil {
		fresh := update.Booking.Clone()
		fresh.Status = session.booking.Status
		fresh.Provisional = session.booking.Provisional
		if fresh.LastWebhookUpdate == nil {
			fresh.LastWebhookUpdate = session.booking.LastWebhookUpdate
		}
		if fresh.SnapToken == nil {
			fresh.SnapToken = session.booking.SnapToken
		}
		session.booking = fresh
		return
	}

	b := session.booking
	if update.PaymentStatus != "" {
		b.PaymentStatus = update.PaymentStatus
	}
	if update.PaymentMethod != nil {
		method := *update.PaymentMethod
		b.PaymentMethod = &method
	}
	if update.PaymentDate != nil {
		date := *update.PaymentDate
		b.PaymentDate = &date
	}
}

// ============================================================================
// POLLING
// ============================================================================

// Poller is a running status poll loop. Stop is its disposer.
type Poller struct {
	bookingID string
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
}

// Stop cancels the loop and waits for it to exit. Safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(p.cancel)
	<-p.done
}

// Done is closed when the loop has exited
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// BookingID is the booking being polled
func (p *Poller) BookingID() string {
	return p.bookingID
}

// StartPolling polls the session's booking until it reaches a terminal status, Stop is
// called, or parent is cancelled. A poller already running for the booking is stopped first.
func (r *StatusReconciler) StartPolling(parent context.Context, session *BookingSession) *Poller {
	booking := session.Booking()
	ctx, cancel := context.WithCancel(parent)
	p := &Poller{
		bookingID: booking.Key(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	if booking.Status.IsTerminal() && booking.Provisional == nil {
		cancel()
		close(p.done)
		return p
	}

	r.mu.Lock()
	previous := r.pollers[session]
	r.pollers[session] = p
	r.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}

	session.setPollState(PollStatePolling)
	metrics.ActivePollers.Inc()
	go r.pollLoop(ctx, session, p)

	return p
}

// StopPolling stops the poller attached to session, if any
func (r *StatusReconciler) StopPolling(session *BookingSession) {
	r.mu.Lock()
	p := r.pollers[session]
	r.mu.Unlock()

	if p != nil {
		p.Stop()
	}
}

// StopAll stops every running poller
func (r *StatusReconciler) StopAll() {
	r.mu.Lock()
	running := make([]*Poller, 0, len(r.pollers))
	for _, p := range r.pollers {
		running = append(running, p)
	}
	r.mu.Unlock()

	for _, p := range running {
		p.Stop()
	}
}

// ActivePoller returns the poller attached to session
func (r *StatusReconciler) ActivePoller(session *BookingSession) (*Poller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pollers[session]
	return p, ok
}

func (r *StatusReconciler) pollInterval() time.Duration {
	if r.cfg.TrustWebhookMarker {
		return r.cfg.EnhancedInterval
	}
	return r.cfg.Interval
}

// backoff doubles interval per consecutive failure, capped at maxBackoff
func backoff(interval time.Duration, failures int, maxBackoff time.Duration) time.Duration {
	d := interval
	for i := 0; i < failures; i++ {
		if maxBackoff > 0 && d >= maxBackoff {
			return maxBackoff
		}
		d *= 2
	}
	if maxBackoff > 0 && d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (r *StatusReconciler) pollLoop(ctx context.Context, session *BookingSession, p *Poller) {
	exitState := PollStateStopped
	entry := r.logger.WithField("booking_id", p.bookingID)

	defer func() {
		r.mu.Lock()
		if r.pollers[session] == p {
			delete(r.pollers, session)
		}
		r.mu.Unlock()

		session.setPollState(exitState)
		metrics.ActivePollers.Dec()
		close(p.done)
		entry.WithField("state", exitState).Debug("Status poller exited")
	}()

	interval := r.pollInterval()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		result, err := r.check(ctx, session, r.cfg.TrustWebhookMarker, models.PaymentSourcePoller)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			entry.WithError(err).WithField("failures", failures).Warn("Status poll failed")

			if failures >= r.cfg.MaxFailures {
				exitState = PollStateGaveUp
				metrics.PollersGaveUp.Inc()
				entry.Error("Status poller gave up after repeated failures")
				notify(ctx, r.notifier, p.bookingID, models.NotificationWarning, msgPollingGaveUp)
				return
			}

			timer.Reset(backoff(interval, failures, r.cfg.MaxBackoff))
			continue
		}

		failures = 0
		if result.Current.IsTerminal() {
			return
		}
		timer.Reset(interval)
	}
}
