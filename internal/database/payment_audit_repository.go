package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/models"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the audit table if needed
func (r *PaymentAuditRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS booking_payment_audits (
			id             UUID PRIMARY KEY,
			booking_id     TEXT NOT NULL,
			event_type     TEXT NOT NULL,
			event_source   TEXT NOT NULL,
			from_status    TEXT,
			to_status      TEXT,
			payment_status TEXT,
			snap_token     TEXT,
			amount         BIGINT,
			payload        JSONB,
			error_message  TEXT,
			ip_address     TEXT,
			user_agent     TEXT,
			created_at     TIMESTAMPTZ NOT NULL
		)`

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create booking_payment_audits table: %w", err)
	}
	return nil
}

// Log creates a new payment audit entry
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	// Ensure ID and timestamp are set
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO booking_payment_audits (
			id, booking_id, event_type, event_source,
			from_status, to_status, payment_status, snap_token, amount,
			payload, error_message, ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.BookingID, audit.EventType, audit.EventSource,
		audit.FromStatus, audit.ToStatus, audit.PaymentStatus, audit.SnapToken, audit.Amount,
		audit.Payload, audit.ErrorMessage, audit.IPAddress, audit.UserAgent, audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"booking_id": audit.BookingID,
		}).Error("Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
		"booking_id": audit.BookingID,
	}).Debug("Payment audit logged")

	return nil
}

// GetByBookingID retrieves all audit entries for a booking, oldest first
func (r *PaymentAuditRepository) GetByBookingID(ctx context.Context, bookingID string) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `
		SELECT id, booking_id, event_type, event_source,
			from_status, to_status, payment_status, snap_token, amount,
			payload, error_message, ip_address, user_agent, created_at
		FROM booking_payment_audits
		WHERE booking_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to get audits by booking ID: %w", err)
	}

	return audits, nil
}
