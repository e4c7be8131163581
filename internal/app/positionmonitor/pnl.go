package positionmonitor

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/arbwatch/internal/domain/schema"
)

var hundred = decimal.NewFromInt(100)

// RelativeEpsilon is the fractional change below which an overlay is skipped.
var RelativeEpsilon = decimal.New(1, -6)

// applyPrice sets current price and, when the entry is known, recomputes P&L.
func applyPrice(p *schema.Position, price decimal.Decimal) {
	p.CurrentPrice = price
	if !hasEntry(*p) {
		return
	}
	entry := p.EntryPrice.Decimal
	diff := price.Sub(entry)
	if p.Side == schema.SideShort {
		diff = entry.Sub(price)
	}
	p.UnrealizedPnl = diff.Mul(p.Quantity)
	p.PnlPercent = pnlPercent(p.UnrealizedPnl, p.EntryPrice, p.Quantity)
}

func hasEntry(p schema.Position) bool {
	return p.EntryPrice.Valid && p.EntryPrice.Decimal.IsPositive() && p.Quantity.IsPositive()
}

func pnlPercent(pnl decimal.Decimal, entry decimal.NullDecimal, qty decimal.Decimal) decimal.Decimal {
	if !entry.Valid || !entry.Decimal.IsPositive() || !qty.IsPositive() {
		return decimal.Zero
	}
	return pnl.Div(entry.Decimal.Mul(qty)).Mul(hundred)
}

// moved reports whether a and b differ by more than RelativeEpsilon of the
// larger magnitude.
func moved(a, b decimal.Decimal) bool {
	scale := decimal.Max(a.Abs(), b.Abs())
	if scale.IsZero() {
		return false
	}
	return a.Sub(b).Abs().GreaterThan(scale.Mul(RelativeEpsilon))
}
