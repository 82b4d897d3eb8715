package services

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/models"
	"github.com/tourbooking/booking-flow/internal/utils"
)

// AuditLog persists payment audit entries
type AuditLog interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// RequestMeta identifies the client behind an action
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type requestMetaKey struct{}

// WithRequestMeta attaches client metadata to ctx for audit entries
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the client metadata attached to ctx
func RequestMetaFrom(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta, ok
}

// AuditService records booking flow events. A nil log disables persistence.
type AuditService struct {
	log    AuditLog
	logger *logrus.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(log AuditLog, logger *logrus.Logger) *AuditService {
	return &AuditService{
		log:    log,
		logger: logger,
	}
}

// Record stores audit, enriching it with request metadata. Failures are logged, never returned.
func (s *AuditService) Record(ctx context.Context, audit *models.PaymentAudit) {
	if s == nil || s.log == nil || audit == nil {
		return
	}

	if meta, ok := RequestMetaFrom(ctx); ok {
		audit.SetMetadata(meta.IPAddress, meta.UserAgent)
		if meta.UserAgent != "" {
			if audit.Payload == nil {
				audit.Payload = models.JSONB{}
			}
			audit.Payload["device_info"] = utils.ParseUserAgent(meta.UserAgent)
		}
	}

	// Audit writes outlive the request that triggered them
	if err := s.log.Log(context.WithoutCancel(ctx), audit); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": audit.BookingID,
			"event_type": audit.EventType,
		}).Error("AUDIT ERROR")
	}
}
