package positionmonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/arbwatch/internal/domain/schema"
)

func samplePositions() []schema.Position {
	return []schema.Position{
		{Provider: "binance", Instrument: "BTC/USDT", Segment: "spot", RawSymbol: "BTC", Side: schema.SideLong,
			Quantity: dec("2"), SpotQuantity: dec("2"), EntryPrice: nd("60000"), PolledAt: polled},
		{Provider: "bybit", Instrument: "ETH/USDT", Segment: "futures", RawSymbol: "ETH/USDT:USDT", Side: schema.SideShort,
			Quantity: dec("10"), ShortQuantity: dec("10"), NetQuantity: dec("-10"), EntryPrice: nd("3000"), PolledAt: polled},
		{Provider: "okx", Instrument: "SOL/USDT", Segment: "spot", RawSymbol: "SOL", Side: schema.SideLong,
			Quantity: dec("5"), SpotQuantity: dec("5"), PolledAt: polled},
	}
}

func TestReplacePricesFromCache(t *testing.T) {
	cache := NewPriceCache("USDT")
	cache.Set("binance", "spot", "BTC/USDT", dec("63000"), polled)

	m := NewMerger(func() time.Time { return polled })
	up := m.Replace(samplePositions(), cache)
	require.False(t, up.PriceOnly)
	require.Len(t, up.Positions, 3)
	require.True(t, up.Positions[0].CurrentPrice.Equal(dec("63000")))
	require.True(t, up.Positions[0].UnrealizedPnl.Equal(dec("6000")))
	require.True(t, up.Positions[0].PnlPercent.Equal(dec("5")))

	unpriced := m.Unpriced(cache)
	require.Len(t, unpriced, 2)
	require.Equal(t, "bybit", unpriced[0].Provider)
}

func TestOverlayPatchesOnlyDerivedFields(t *testing.T) {
	cache := NewPriceCache("USDT")
	m := NewMerger(func() time.Time { return polled.Add(time.Second) })
	before := m.Replace(samplePositions(), cache).Positions

	cache.Set("bybit", "futures", "ETH/USDT:USDT", dec("2900"), polled)
	up, ok := m.Overlay(cache)
	require.True(t, ok)
	require.True(t, up.PriceOnly)
	require.Len(t, up.Positions, len(before))

	for i := range before {
		a, b := before[i], up.Positions[i]
		require.Equal(t, a.Provider, b.Provider)
		require.Equal(t, a.Instrument, b.Instrument)
		require.True(t, a.Quantity.Equal(b.Quantity))
		require.Equal(t, a.EntryPrice, b.EntryPrice)
		require.Equal(t, a.PolledAt, b.PolledAt)
	}
	eth := up.Positions[1]
	require.True(t, eth.CurrentPrice.Equal(dec("2900")))
	require.True(t, eth.UnrealizedPnl.Equal(dec("1000")))
	require.InDelta(t, 3.3333333, eth.PnlPercent.InexactFloat64(), 1e-6)
	require.False(t, eth.OverlaidAt.IsZero())
	require.True(t, up.Positions[0].OverlaidAt.IsZero())
}

func TestOverlaySkipsWhenNothingMoved(t *testing.T) {
	cache := NewPriceCache("USDT")
	cache.Set("binance", "spot", "BTC/USDT", dec("63000"), polled)
	m := NewMerger(nil)
	m.Replace(samplePositions(), cache)

	_, ok := m.Overlay(cache)
	require.False(t, ok)

	cache.Set("binance", "spot", "BTC/USDT", dec("63000.00001"), polled)
	_, ok = m.Overlay(cache)
	require.False(t, ok)

	cache.Set("binance", "spot", "BTC/USDT", dec("63100"), polled)
	up, ok := m.Overlay(cache)
	require.True(t, ok)
	require.True(t, up.Positions[0].UnrealizedPnl.Equal(dec("6200")))
}

func TestOverlayNeverChangesMembership(t *testing.T) {
	cache := NewPriceCache("USDT")
	m := NewMerger(nil)
	m.Replace(samplePositions()[:1], cache)

	cache.Set("bybit", "futures", "ETH/USDT", dec("2000"), polled)
	cache.Set("binance", "spot", "BTC/USDT", dec("61000"), polled)
	up, ok := m.Overlay(cache)
	require.True(t, ok)
	require.Len(t, up.Positions, 1)
	require.Equal(t, "binance", up.Positions[0].Provider)
}

func TestOverlayWithoutEntryOnlyMovesPrice(t *testing.T) {
	cache := NewPriceCache("USDT")
	m := NewMerger(nil)
	m.Replace(samplePositions()[2:], cache)
	cache.Set("okx", "spot", "SOL/USDT", dec("150"), polled)
	up, ok := m.Overlay(cache)
	require.True(t, ok)
	require.True(t, up.Positions[0].CurrentPrice.Equal(dec("150")))
	require.True(t, up.Positions[0].UnrealizedPnl.IsZero())
	require.True(t, up.Positions[0].PnlPercent.IsZero())
}

func TestClearEmptiesDisplay(t *testing.T) {
	m := NewMerger(nil)
	m.Replace(samplePositions(), nil)
	up := m.Clear(assertErr{})
	require.Error(t, up.Err)
	require.Empty(t, up.Positions)
	require.Empty(t, m.Positions())
	_, ok := m.Overlay(NewPriceCache(""))
	require.False(t, ok)
}

type assertErr struct{}

func (assertErr) Error() string { return "collaborator down" }
