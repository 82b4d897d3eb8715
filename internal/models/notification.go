package models

import "time"

// NotificationLevel is the severity of a user-facing notification
type NotificationLevel string

const (
	NotificationSuccess NotificationLevel = "success"
	NotificationInfo    NotificationLevel = "info"
	NotificationWarning NotificationLevel = "warning"
	NotificationError   NotificationLevel = "error"
)

// Notification is a transient message shown to the customer
type Notification struct {
	ID        string            `json:"id"`
	Seq       uint64            `json:"seq"`
	BookingID string            `json:"bookingId,omitempty"`
	Level     NotificationLevel `json:"level"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"createdAt"`
}
