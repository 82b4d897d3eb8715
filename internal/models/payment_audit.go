package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONB is a custom type for handling JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
// Returns JSON as string for compatibility with pgx simple protocol mode
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// PaymentEventType represents the type of payment flow event
type PaymentEventType string

const (
	PaymentEventInitiated          PaymentEventType = "payment_initiated"
	PaymentEventRedirect           PaymentEventType = "payment_redirect"
	PaymentEventCheckoutOpened     PaymentEventType = "checkout_opened"
	PaymentEventCheckoutSuccess    PaymentEventType = "checkout_success"
	PaymentEventCheckoutPending    PaymentEventType = "checkout_pending"
	PaymentEventCheckoutError      PaymentEventType = "checkout_error"
	PaymentEventCheckoutClosed     PaymentEventType = "checkout_closed"
	PaymentEventSimulatedSuccess   PaymentEventType = "simulated_success"
	PaymentEventStatusApplied      PaymentEventType = "status_applied"
	PaymentEventStatusRejected     PaymentEventType = "status_rejected"
	PaymentEventProvisionalCleared PaymentEventType = "provisional_cleared"
	PaymentEventBookingCancelled   PaymentEventType = "booking_cancelled"
	PaymentEventError              PaymentEventType = "error"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceCheckout   PaymentEventSource = "checkout"
	PaymentSourceBackend    PaymentEventSource = "backend"
	PaymentSourcePoller     PaymentEventSource = "poller"
	PaymentSourceUser       PaymentEventSource = "user"
	PaymentSourceReconciler PaymentEventSource = "reconcile_job"
)

// PaymentAudit represents an immutable audit log entry for the booking payment flow
type PaymentAudit struct {
	ID          uuid.UUID          `json:"id" db:"id"`
	BookingID   string             `json:"booking_id" db:"booking_id"`
	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	FromStatus    *string `json:"from_status,omitempty" db:"from_status"`
	ToStatus      *string `json:"to_status,omitempty" db:"to_status"`
	PaymentStatus *string `json:"payment_status,omitempty" db:"payment_status"`
	SnapToken     *string `json:"snap_token,omitempty" db:"snap_token"`
	Amount        *int64  `json:"amount,omitempty" db:"amount"`

	Payload      JSONB   `json:"payload,omitempty" db:"payload"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new audit entry with required fields
func NewPaymentAudit(bookingID string, eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		BookingID:   bookingID,
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetTransition records the status change this event describes
func (pa *PaymentAudit) SetTransition(from, to BookingStatus) *PaymentAudit {
	f, t := string(from), string(to)
	pa.FromStatus = &f
	pa.ToStatus = &t
	return pa
}

// SetPaymentStatus sets the gateway status
func (pa *PaymentAudit) SetPaymentStatus(status PaymentStatus) *PaymentAudit {
	if status == "" {
		return pa
	}
	s := string(status)
	pa.PaymentStatus = &s
	return pa
}

// SetSnapToken sets the checkout token
func (pa *PaymentAudit) SetSnapToken(token string) *PaymentAudit {
	if token != "" {
		pa.SnapToken = &token
	}
	return pa
}

// SetAmount sets the charged amount
func (pa *PaymentAudit) SetAmount(amount int64) *PaymentAudit {
	pa.Amount = &amount
	return pa
}

// SetPayload stores a raw callback or response payload
func (pa *PaymentAudit) SetPayload(payload map[string]interface{}) *PaymentAudit {
	pa.Payload = JSONB(payload)
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string) *PaymentAudit {
	pa.ErrorMessage = &message
	return pa
}

// SetMetadata sets request metadata
func (pa *PaymentAudit) SetMetadata(ip, userAgent string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	return pa
}
