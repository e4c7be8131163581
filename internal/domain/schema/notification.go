package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationType classifies a user-visible notification.
type NotificationType string

const (
	NotifyCreated       NotificationType = "created"
	NotifyFilled        NotificationType = "filled"
	NotifyPartialFilled NotificationType = "partial_filled"
	NotifyCanceled      NotificationType = "canceled"
	NotifyExpired       NotificationType = "expired"
	NotifyRejected      NotificationType = "rejected"
	NotifyWarning       NotificationType = "warning"
	NotifyError         NotificationType = "error"
)

// Severity levels.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// StatusNotificationType maps an order status onto the notification it produces.
func StatusNotificationType(status OrderStatus) NotificationType {
	switch status {
	case OrderClosed:
		return NotifyFilled
	case OrderPartial:
		return NotifyPartialFilled
	case OrderCanceled:
		return NotifyCanceled
	case OrderExpired:
		return NotifyExpired
	case OrderRejected:
		return NotifyRejected
	default:
		return NotifyCreated
	}
}

// Notification is one entry forwarded to the notification log.
type Notification struct {
	ID          string           `json:"id"`
	Scope       string           `json:"scope"`
	OrderID     string           `json:"orderId,omitempty"`
	Provider    string           `json:"provider,omitempty"`
	Instrument  string           `json:"instrument,omitempty"`
	Side        string           `json:"side,omitempty"`
	Type        NotificationType `json:"type"`
	Description string           `json:"description"`
	FilledDelta decimal.Decimal  `json:"filledDelta"`
	Price       decimal.Decimal  `json:"price"`
	Severity    string           `json:"severity"`
	At          time.Time        `json:"at"`
}
