package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/models"
)

// Notifier delivers user-facing notifications
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

// notify builds and sends a notification
func notify(ctx context.Context, n Notifier, bookingID string, level models.NotificationLevel, message string) {
	if n == nil {
		return
	}
	n.Notify(ctx, models.Notification{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		Level:     level,
		Message:   message,
		CreatedAt: time.Now(),
	})
}

// NotificationFeed keeps the most recent notifications per booking in memory
type NotificationFeed struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	entries map[string][]models.Notification
}

// DefaultFeedLimit is how many notifications are kept per booking
const DefaultFeedLimit = 50

// NewNotificationFeed creates a feed keeping at most limit entries per booking
func NewNotificationFeed(limit int) *NotificationFeed {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	return &NotificationFeed{
		limit:   limit,
		entries: make(map[string][]models.Notification),
	}
}

// Notify appends n to its booking's feed. Notifications without a booking have no
// feed to be read from and are dropped.
func (f *NotificationFeed) Notify(ctx context.Context, n models.Notification) {
	if n.BookingID == "" {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	n.Seq = f.seq
	list := append(f.entries[n.BookingID], n)
	if len(list) > f.limit {
		list = list[len(list)-f.limit:]
	}
	f.entries[n.BookingID] = list
}

// List returns the notifications for bookingID with Seq greater than after
func (f *NotificationFeed) List(bookingID string, after uint64) []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]models.Notification, 0)
	for _, n := range f.entries[bookingID] {
		if n.Seq > after {
			result = append(result, n)
		}
	}
	return result
}

// Forget drops the notifications of the given bookings
func (f *NotificationFeed) Forget(bookingIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range bookingIDs {
		delete(f.entries, id)
	}
}

// LogNotifier writes notifications to the application log
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a notifier backed by logrus
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs n
func (l *LogNotifier) Notify(ctx context.Context, n models.Notification) {
	entry := l.logger.WithFields(logrus.Fields{
		"booking_id": n.BookingID,
		"level":      n.Level,
	})
	if n.Level == models.NotificationError {
		entry.Warn(n.Message)
		return
	}
	entry.Info(n.Message)
}

// MultiNotifier fans a notification out to several notifiers
type MultiNotifier []Notifier

// Notify sends n to every notifier
func (m MultiNotifier) Notify(ctx context.Context, n models.Notification) {
	for _, notifier := range m {
		notifier.Notify(ctx, n)
	}
}
