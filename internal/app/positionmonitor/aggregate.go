// Package positionmonitor aggregates polled position records and keeps their
// derived price fields current from live ticks.
package positionmonitor

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/arbwatch/internal/domain/schema"
)

type aggKey struct {
	provider   string
	instrument string
}

type accumulator struct {
	pos        schema.Position
	entryNotal decimal.Decimal
	entryQty   decimal.Decimal
	explicit   bool
	markNotal  decimal.Decimal
	markQty    decimal.Decimal
}

// Aggregate groups raw records by provider and normalised instrument. Bare
// spot asset codes are paired with quote; balances of quote itself are skipped.
// Result is sorted by provider, then instrument.
func Aggregate(records []schema.PositionRecord, quote string, polledAt time.Time) []schema.Position {
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		quote = schema.DefaultQuote
	}

	accs := make(map[aggKey]*accumulator)
	var order []aggKey
	for _, r := range records {
		provider := schema.NormalizeProvider(r.Exchange)
		symbol := schema.NormalizeSymbol(r.Symbol)
		if provider == "" || symbol == "" {
			continue
		}
		derivative := r.Derivative()
		if !derivative && schema.IsBareAsset(symbol) {
			if symbol == quote {
				continue
			}
			symbol = symbol + "/" + quote
		}
		key := aggKey{provider, symbol}
		acc, ok := accs[key]
		if !ok {
			acc = &accumulator{pos: schema.Position{
				Provider:   provider,
				Instrument: symbol,
				Segment:    schema.SegmentSpot,
				RawSymbol:  strings.ToUpper(strings.TrimSpace(r.Symbol)),
				PolledAt:   polledAt,
			}}
			accs[key] = acc
			order = append(order, key)
		}
		acc.add(r, derivative)
	}

	out := make([]schema.Position, 0, len(order))
	for _, key := range order {
		out = append(out, accs[key].finish())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Instrument < out[j].Instrument
	})
	return out
}

func (a *accumulator) add(r schema.PositionRecord, derivative bool) {
	qty := r.Amount.Abs()
	side := r.RecordSide()
	if derivative {
		if a.pos.Segment != schema.SegmentFutures {
			a.pos.Segment = schema.SegmentFutures
			a.pos.RawSymbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
		}
		if side == schema.SideShort {
			a.pos.ShortQuantity = a.pos.ShortQuantity.Add(qty)
		} else {
			a.pos.LongQuantity = a.pos.LongQuantity.Add(qty)
		}
	} else {
		a.pos.SpotQuantity = a.pos.SpotQuantity.Add(r.Amount)
	}
	if r.UnrealizedPnl.Valid {
		a.pos.UnrealizedPnl = a.pos.UnrealizedPnl.Add(r.UnrealizedPnl.Decimal)
	}
	if r.Leverage.Valid && r.Leverage.Decimal.GreaterThan(a.pos.Leverage) {
		a.pos.Leverage = r.Leverage.Decimal
	}
	if r.Notional.Valid && qty.IsPositive() {
		a.markNotal = a.markNotal.Add(r.Notional.Decimal.Abs())
		a.markQty = a.markQty.Add(qty)
	}
	if entry, ok := entryPrice(r, qty, side); ok {
		a.entryNotal = a.entryNotal.Add(entry.Mul(qty))
		a.entryQty = a.entryQty.Add(qty)
	}
}

func (a *accumulator) finish() schema.Position {
	p := a.pos
	p.NetQuantity = p.LongQuantity.Sub(p.ShortQuantity)
	switch {
	case !p.NetQuantity.IsZero():
		p.Side = schema.SideLong
		if p.NetQuantity.IsNegative() {
			p.Side = schema.SideShort
		}
		p.Quantity = p.NetQuantity.Abs()
	default:
		p.Side = schema.SideLong
		p.Quantity = p.SpotQuantity.Abs()
	}
	if a.entryQty.IsPositive() {
		p.EntryPrice = decimal.NewNullDecimal(a.entryNotal.Div(a.entryQty))
	}
	if a.markQty.IsPositive() {
		p.CurrentPrice = a.markNotal.Div(a.markQty)
	}
	p.PnlPercent = pnlPercent(p.UnrealizedPnl, p.EntryPrice, p.Quantity)
	return p
}

// entryPrice prefers an explicit entry and otherwise derives one from
// notional and unrealized P&L.
func entryPrice(r schema.PositionRecord, qty decimal.Decimal, side schema.PositionSide) (decimal.Decimal, bool) {
	if r.EntryPrice.Valid && r.EntryPrice.Decimal.IsPositive() {
		return r.EntryPrice.Decimal, true
	}
	if !r.Notional.Valid || !r.UnrealizedPnl.Valid || !qty.IsPositive() {
		return decimal.Zero, false
	}
	notional := r.Notional.Decimal.Abs()
	var cost decimal.Decimal
	if side == schema.SideShort {
		cost = notional.Add(r.UnrealizedPnl.Decimal)
	} else {
		cost = notional.Sub(r.UnrealizedPnl.Decimal)
	}
	entry := cost.Div(qty)
	if !entry.IsPositive() {
		return decimal.Zero, false
	}
	return entry, true
}
