package schema

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction used for P&L.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// PositionRecord is one raw record returned by the position-query collaborator.
type PositionRecord struct {
	Exchange      string              `json:"exchange"`
	Symbol        string              `json:"symbol"`
	Type          string              `json:"type"`
	Side          string              `json:"side,omitempty"`
	Amount        decimal.Decimal     `json:"amount"`
	UnrealizedPnl decimal.NullDecimal `json:"unrealizedPnl"`
	Notional      decimal.NullDecimal `json:"notional"`
	Leverage      decimal.NullDecimal `json:"leverage"`
	EntryPrice    decimal.NullDecimal `json:"entryPrice"`
}

// Derivative reports whether the record is a futures/swap holding.
func (r PositionRecord) Derivative() bool {
	return NormalizeSegment(r.Type) == SegmentFutures
}

// RecordSide resolves long/short, treating negative amounts as short.
func (r PositionRecord) RecordSide() PositionSide {
	switch strings.ToLower(strings.TrimSpace(r.Side)) {
	case "short", "sell":
		return SideShort
	case "long", "buy":
		return SideLong
	}
	if r.Amount.IsNegative() {
		return SideShort
	}
	return SideLong
}

// Position is the aggregated holding of one instrument on one provider.
type Position struct {
	Provider      string              `json:"provider"`
	Instrument    string              `json:"instrument"`
	Segment       string              `json:"segment"`
	RawSymbol     string              `json:"rawSymbol"`
	SpotQuantity  decimal.Decimal     `json:"spotQuantity"`
	LongQuantity  decimal.Decimal     `json:"longQuantity"`
	ShortQuantity decimal.Decimal     `json:"shortQuantity"`
	NetQuantity   decimal.Decimal     `json:"netQuantity"`
	Side          PositionSide        `json:"side"`
	Quantity      decimal.Decimal     `json:"quantity"`
	EntryPrice    decimal.NullDecimal `json:"entryPrice"`
	CurrentPrice  decimal.Decimal     `json:"currentPrice"`
	UnrealizedPnl decimal.Decimal     `json:"unrealizedPnl"`
	PnlPercent    decimal.Decimal     `json:"pnlPercent"`
	Leverage      decimal.Decimal     `json:"leverage"`
	PolledAt      time.Time           `json:"polledAt"`
	OverlaidAt    time.Time           `json:"overlaidAt"`
}

// Key returns the aggregation key provider|instrument.
func (p Position) Key() string {
	return p.Provider + "|" + p.Instrument
}
