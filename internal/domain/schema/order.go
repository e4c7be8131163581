package schema

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the provider-reported lifecycle status of an order.
type OrderStatus string

const (
	OrderOpen     OrderStatus = "open"
	OrderPartial  OrderStatus = "partial"
	OrderClosed   OrderStatus = "closed"
	OrderCanceled OrderStatus = "canceled"
	OrderExpired  OrderStatus = "expired"
	OrderRejected OrderStatus = "rejected"
)

// NormalizeOrderStatus maps provider status spellings onto OrderStatus.
func NormalizeOrderStatus(raw string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "new", "pending", "live", "untriggered":
		return OrderOpen
	case "partial", "partially_filled", "partiallyfilled", "partially-filled":
		return OrderPartial
	case "closed", "filled", "done":
		return OrderClosed
	case "canceled", "cancelled", "canceling":
		return OrderCanceled
	case "expired":
		return OrderExpired
	case "rejected", "failed":
		return OrderRejected
	default:
		return OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	}
}

// Terminal reports whether the status ends an order's lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderClosed, OrderCanceled, OrderExpired, OrderRejected:
		return true
	default:
		return false
	}
}

// Order is one record returned by the order-query collaborator.
type Order struct {
	OrderID    string          `json:"orderId"`
	Exchange   string          `json:"exchange"`
	Symbol     string          `json:"symbol"`
	Status     string          `json:"status"`
	Side       string          `json:"side"`
	Amount     decimal.Decimal `json:"amount"`
	Filled     decimal.Decimal `json:"filled"`
	Price      decimal.Decimal `json:"price"`
	OrderType  string          `json:"order_type,omitempty"`
	MarketType string          `json:"marketType,omitempty"`
	OrderTime  int64           `json:"orderTime"`
	FillTime   *int64          `json:"fillTime,omitempty"`
}

// NormalizedStatus returns the order status as an OrderStatus.
func (o Order) NormalizedStatus() OrderStatus {
	return NormalizeOrderStatus(o.Status)
}

// Segment resolves the market segment from marketType, order_type or the
// symbol's settlement suffix, in that order.
func (o Order) Segment() string {
	if seg := NormalizeSegment(o.MarketType); seg == SegmentSpot || seg == SegmentFutures {
		return seg
	}
	if seg := NormalizeSegment(o.OrderType); seg == SegmentSpot || seg == SegmentFutures {
		return seg
	}
	if HasSettlement(o.Symbol) {
		return SegmentFutures
	}
	return SegmentSpot
}

// PlacedAt converts OrderTime (milliseconds) to a time.
func (o Order) PlacedAt() time.Time {
	if o.OrderTime <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(o.OrderTime).UTC()
}

// MonitoredOrder is the locally retained state of a tracked order.
type MonitoredOrder struct {
	OrderID    string          `json:"orderId"`
	Provider   string          `json:"provider"`
	Instrument string          `json:"instrument"`
	Segment    string          `json:"segment"`
	Side       string          `json:"side"`
	Status     OrderStatus     `json:"status"`
	Filled     decimal.Decimal `json:"filled"`
	Requested  decimal.Decimal `json:"requested"`
	Price      decimal.Decimal `json:"price"`
	FirstSeen  time.Time       `json:"firstSeen"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// MonitorOrder builds the tracked state of an order first observed at now.
func MonitorOrder(o Order, now time.Time) MonitoredOrder {
	return MonitoredOrder{
		OrderID:    o.OrderID,
		Provider:   NormalizeProvider(o.Exchange),
		Instrument: NormalizeSymbol(o.Symbol),
		Segment:    o.Segment(),
		Side:       strings.ToLower(strings.TrimSpace(o.Side)),
		Status:     o.NormalizedStatus(),
		Filled:     o.Filled,
		Requested:  o.Amount,
		Price:      o.Price,
		FirstSeen:  now,
		UpdatedAt:  now,
	}
}
