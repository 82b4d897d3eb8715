package models

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// BOOKING STATUSES
// ============================================================================

// BookingStatus is the lifecycle status of a tour booking
type BookingStatus string

const (
	BookingStatusPending             BookingStatus = "pending"              // Created, awaiting payment
	BookingStatusPendingVerification BookingStatus = "pending_verification" // Payment made, awaiting gateway confirmation
	BookingStatusConfirmed           BookingStatus = "confirmed"            // Payment verified
	BookingStatusCompleted           BookingStatus = "completed"            // Tour finished
	BookingStatusCancelled           BookingStatus = "cancelled"
)

// ErrIllegalTransition is returned when a status change leaves the lifecycle path
var ErrIllegalTransition = errors.New("illegal booking status transition")

// lifecycleRank orders the forward path pending -> pending_verification -> confirmed -> completed
var lifecycleRank = map[BookingStatus]int{
	BookingStatusPending:             0,
	BookingStatusPendingVerification: 1,
	BookingStatusConfirmed:           2,
	BookingStatusCompleted:           3,
}

// IsValid reports whether s is a known status
func (s BookingStatus) IsValid() bool {
	if s == BookingStatusCancelled {
		return true
	}
	_, ok := lifecycleRank[s]
	return ok
}

// IsTerminal reports whether polling should stop at this status
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusConfirmed || s == BookingStatusCompleted || s == BookingStatusCancelled
}

// CanTransitionTo reports whether moving from s to next stays on the lifecycle path.
// Forward skips are allowed; cancellation only from pending or pending_verification.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	if s == next || !s.IsValid() || !next.IsValid() {
		return false
	}
	if next == BookingStatusCancelled {
		return s == BookingStatusPending || s == BookingStatusPendingVerification
	}
	if s == BookingStatusCancelled {
		return false
	}
	return lifecycleRank[next] > lifecycleRank[s]
}

// ValidateTransition wraps CanTransitionTo with a descriptive error
func (s BookingStatus) ValidateTransition(next BookingStatus) error {
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
	}
	return nil
}

// PaymentStatus mirrors the gateway transaction status
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusSettlement PaymentStatus = "settlement"
	PaymentStatusCapture    PaymentStatus = "capture"
	PaymentStatusDeny       PaymentStatus = "deny"
	PaymentStatusCancel     PaymentStatus = "cancel"
	PaymentStatusExpire     PaymentStatus = "expire"
	PaymentStatusFailure    PaymentStatus = "failure"
)

// Badge colors for payment status display
const (
	BadgeGreen  = "green"
	BadgeYellow = "yellow"
	BadgeRed    = "red"
	BadgeGray   = "gray"
)

// IsPaid reports whether the gateway captured the money
func (p PaymentStatus) IsPaid() bool {
	return p == PaymentStatusSettlement || p == PaymentStatusCapture
}

// IsFailed reports whether the gateway rejected or dropped the payment
func (p PaymentStatus) IsFailed() bool {
	switch p {
	case PaymentStatusDeny, PaymentStatusCancel, PaymentStatusExpire, PaymentStatusFailure:
		return true
	}
	return false
}

// Badge returns the display color for the payment status
func (p PaymentStatus) Badge() string {
	switch {
	case p.IsPaid():
		return BadgeGreen
	case p == PaymentStatusPending:
		return BadgeYellow
	case p.IsFailed():
		return BadgeRed
	default:
		return BadgeGray
	}
}

// ============================================================================
// BOOKING
// ============================================================================

// CustomerInfo holds the booking contact details
type CustomerInfo struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Notes   string `json:"notes,omitempty"`
}

// PackageInfo is the denormalized tour package snapshot
type PackageInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Price       int64  `json:"price"`
	Destination string `json:"destination,omitempty"`
}

// Schedule is the tour date range (YYYY-MM-DD)
type Schedule struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// ProvisionalUpdate records a locally-assumed status the server has not confirmed yet
type ProvisionalUpdate struct {
	PreviousStatus BookingStatus `json:"previousStatus"`
	Status         BookingStatus `json:"status"`
	SnapToken      string        `json:"snapToken,omitempty"`
	At             time.Time     `json:"at"`
	// Confirmed is set once the gateway reported the payment as successful
	Confirmed bool `json:"confirmed,omitempty"`
}

// Booking is a tour booking as returned by the backend
type Booking struct {
	ID                string             `json:"id,omitempty"`
	BookingID         string             `json:"bookingId"`
	CustomerInfo      CustomerInfo       `json:"customerInfo"`
	PackageInfo       PackageInfo        `json:"packageInfo"`
	Schedule          Schedule           `json:"schedule"`
	Participants      int                `json:"jumlahPeserta"`
	TotalAmount       int64              `json:"totalAmount"`
	Status            BookingStatus      `json:"status"`
	PaymentStatus     PaymentStatus      `json:"paymentStatus,omitempty"`
	PaymentMethod     *string            `json:"paymentMethod,omitempty"`
	PaymentDate       *time.Time         `json:"paymentDate,omitempty"`
	PaymentDeadline   time.Time          `json:"paymentDeadline"`
	HasVoucher        bool               `json:"hasVoucher"`
	VoucherCode       *string            `json:"voucherCode,omitempty"`
	SnapToken         *string            `json:"snapToken,omitempty"`
	LastWebhookUpdate *time.Time         `json:"lastWebhookUpdate,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	Provisional       *ProvisionalUpdate `json:"provisional,omitempty"`
}

// Matches reports whether id refers to this booking by public or internal id
func (b *Booking) Matches(id string) bool {
	if b == nil || id == "" {
		return false
	}
	return b.BookingID == id || (b.ID != "" && b.ID == id)
}

// Key returns the id used to address the booking, preferring the public booking id
func (b *Booking) Key() string {
	if b.BookingID != "" {
		return b.BookingID
	}
	return b.ID
}

// ServerStatus returns the last status the server reported, ignoring provisional state
func (b *Booking) ServerStatus() BookingStatus {
	if b.Provisional != nil {
		return b.Provisional.PreviousStatus
	}
	return b.Status
}

// Clone returns a deep copy safe to hand out of a lock
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.PaymentMethod != nil {
		v := *b.PaymentMethod
		c.PaymentMethod = &v
	}
	if b.PaymentDate != nil {
		v := *b.PaymentDate
		c.PaymentDate = &v
	}
	if b.VoucherCode != nil {
		v := *b.VoucherCode
		c.VoucherCode = &v
	}
	if b.SnapToken != nil {
		v := *b.SnapToken
		c.SnapToken = &v
	}
	if b.LastWebhookUpdate != nil {
		v := *b.LastWebhookUpdate
		c.LastWebhookUpdate = &v
	}
	if b.Provisional != nil {
		v := *b.Provisional
		c.Provisional = &v
	}
	return &c
}

// ============================================================================
// REQUESTS & BACKEND RESPONSES
// ============================================================================

// CreateBookingRequest is the booking form payload
type CreateBookingRequest struct {
	CustomerInfo CustomerInfo `json:"customerInfo"`
	PackageID    string       `json:"packageId"`
	Package      *PackageInfo `json:"packageInfo,omitempty"`
	Schedule     Schedule     `json:"schedule"`
	Participants int          `json:"jumlahPeserta"`
}

// BookingResponse is the backend envelope for single-booking endpoints
type BookingResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Data    *Booking `json:"data,omitempty"`
}

// PaymentStatusData is the payload of getPaymentStatus
type PaymentStatusData struct {
	Status        BookingStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	PaymentMethod *string       `json:"paymentMethod,omitempty"`
	PaymentDate   *time.Time    `json:"paymentDate,omitempty"`
}

// PaymentStatusResponse is the envelope of getPaymentStatus
type PaymentStatusResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message,omitempty"`
	Data    *PaymentStatusData `json:"data,omitempty"`
}

// CheckPaymentStatusResponse is the envelope of the enhanced checkPaymentStatus
type CheckPaymentStatusResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Status  PaymentStatus `json:"status"`
	Booking *Booking      `json:"booking,omitempty"`
}

// ProcessPaymentRequest is sent to the backend to open a gateway transaction
type ProcessPaymentRequest struct {
	BookingID    string       `json:"bookingId"`
	CustomerInfo CustomerInfo `json:"customerInfo"`
	PackageInfo  PackageInfo  `json:"packageInfo"`
	Participants int          `json:"jumlahPeserta"`
	TotalAmount  int64        `json:"totalAmount"`
}

// ProcessPaymentResponse carries either a redirect URL or a checkout token
type ProcessPaymentResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	SnapToken   string `json:"snap_token,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// Voucher is the issued travel voucher
type Voucher struct {
	Code        string     `json:"voucherCode"`
	URL         string     `json:"voucherUrl,omitempty"`
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`
}

// VoucherResponse is the envelope of generateVoucher
type VoucherResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Voucher *Voucher `json:"voucher,omitempty"`
}

// VoucherAvailabilityResponse is the envelope of isVoucherAvailable
type VoucherAvailabilityResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Available bool   `json:"available"`
}

// SimulatePaymentResponse is the envelope of simulatePaymentSuccess
type SimulatePaymentResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Data    *Booking `json:"data,omitempty"`
}
