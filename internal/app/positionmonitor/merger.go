package positionmonitor

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/arbwatch/internal/domain/schema"
)

// Update is one published change to a scope's position list.
type Update struct {
	Positions []schema.Position
	// PriceOnly is true when only derived price fields changed.
	PriceOnly bool
	Err       error
	At        time.Time
}

// PriceLookup resolves a live price for a position.
type PriceLookup interface {
	Lookup(p schema.Position) (decimal.Decimal, bool)
}

// Merger owns the displayed position list and the base copy of the last full
// poll. Overlays always start from base, so an overlay computed before a poll
// can never replace that poll's membership. Not safe for concurrent use.
type Merger struct {
	base    []schema.Position
	display []schema.Position
	now     func() time.Time
}

// NewMerger returns an empty merger.
func NewMerger(now func() time.Time) *Merger {
	if now == nil {
		now = time.Now
	}
	return &Merger{now: now}
}

// Replace installs a fresh poll result, priced from prices where available.
func (m *Merger) Replace(positions []schema.Position, prices PriceLookup) Update {
	base := clonePositions(positions)
	if prices != nil {
		for i := range base {
			if price, ok := prices.Lookup(base[i]); ok {
				applyPrice(&base[i], price)
			}
		}
	}
	m.base = base
	m.display = clonePositions(base)
	return Update{Positions: clonePositions(m.display), At: m.now()}
}

// Overlay reprices the base copy. It reports false, leaving the display
// untouched, when no derived field moved beyond RelativeEpsilon.
func (m *Merger) Overlay(prices PriceLookup) (Update, bool) {
	if len(m.base) == 0 || prices == nil {
		return Update{}, false
	}
	now := m.now()
	next := make([]schema.Position, len(m.base))
	changed := false
	for i := range m.base {
		p := m.display[i]
		if price, ok := prices.Lookup(m.base[i]); ok {
			candidate := m.base[i]
			applyPrice(&candidate, price)
			if moved(candidate.CurrentPrice, p.CurrentPrice) ||
				moved(candidate.UnrealizedPnl, p.UnrealizedPnl) ||
				moved(candidate.PnlPercent, p.PnlPercent) {
				p.CurrentPrice = candidate.CurrentPrice
				p.UnrealizedPnl = candidate.UnrealizedPnl
				p.PnlPercent = candidate.PnlPercent
				p.OverlaidAt = now
				changed = true
			}
		}
		next[i] = p
	}
	if !changed {
		return Update{}, false
	}
	m.display = next
	return Update{Positions: clonePositions(next), PriceOnly: true, At: now}, true
}

// Clear drops every position, publishing err.
func (m *Merger) Clear(err error) Update {
	m.base = nil
	m.display = nil
	return Update{Err: err, At: m.now()}
}

// Positions returns a copy of the displayed list.
func (m *Merger) Positions() []schema.Position {
	return clonePositions(m.display)
}

// Unpriced returns base positions with no price available in prices.
func (m *Merger) Unpriced(prices PriceLookup) []schema.Position {
	var out []schema.Position
	for _, p := range m.base {
		if prices != nil {
			if _, ok := prices.Lookup(p); ok {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func clonePositions(in []schema.Position) []schema.Position {
	if in == nil {
		return nil
	}
	out := make([]schema.Position, len(in))
	copy(out, in)
	return out
}
