package positionmonitor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/arbwatch/internal/domain/schema"
)

var polled = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func TestAggregateGroupsSpotAndDerivatives(t *testing.T) {
	records := []schema.PositionRecord{
		{Exchange: "Binance", Symbol: "BTC", Type: "spot", Amount: dec("0.5")},
		{Exchange: "binance", Symbol: "BTC/USDT:USDT", Type: "swap", Side: "long", Amount: dec("2"),
			EntryPrice: nd("60000"), UnrealizedPnl: nd("8000"), Notional: nd("128000"), Leverage: nd("5")},
		{Exchange: "binance", Symbol: "BTCUSDT", Type: "futures", Side: "short", Amount: dec("-0.5"),
			Notional: nd("32000"), UnrealizedPnl: nd("-1000"), Leverage: nd("10")},
		{Exchange: "binance", Symbol: "USDT", Type: "spot", Amount: dec("1000")},
		{Exchange: "bybit", Symbol: "ETH/USDT", Type: "spot", Amount: dec("3")},
	}

	got := Aggregate(records, "", polled)
	require.Len(t, got, 2)

	btc := got[0]
	require.Equal(t, "binance", btc.Provider)
	require.Equal(t, "BTC/USDT", btc.Instrument)
	require.Equal(t, schema.SegmentFutures, btc.Segment)
	require.Equal(t, "BTC/USDT:USDT", btc.RawSymbol)
	require.True(t, btc.SpotQuantity.Equal(dec("0.5")))
	require.True(t, btc.LongQuantity.Equal(dec("2")))
	require.True(t, btc.ShortQuantity.Equal(dec("0.5")))
	require.True(t, btc.NetQuantity.Equal(dec("1.5")))
	require.Equal(t, schema.SideLong, btc.Side)
	require.True(t, btc.Quantity.Equal(dec("1.5")))
	require.True(t, btc.UnrealizedPnl.Equal(dec("7000")))
	require.True(t, btc.Leverage.Equal(dec("10")))
	require.True(t, btc.EntryPrice.Valid)
	// short entry derived as (32000 + -1000) / 0.5 = 62000; weighted with 2@60000.
	require.True(t, btc.EntryPrice.Decimal.Equal(dec("60400")), btc.EntryPrice.Decimal.String())
	require.True(t, btc.CurrentPrice.Equal(dec("64000")))
	require.Equal(t, polled, btc.PolledAt)

	eth := got[1]
	require.Equal(t, "bybit", eth.Provider)
	require.Equal(t, schema.SegmentSpot, eth.Segment)
	require.False(t, eth.EntryPrice.Valid)
	require.True(t, eth.Quantity.Equal(dec("3")))
	require.True(t, eth.PnlPercent.IsZero())
}

func TestAggregateShortNetPosition(t *testing.T) {
	got := Aggregate([]schema.PositionRecord{
		{Exchange: "okx", Symbol: "SOL-USDT-SWAP", Type: "swap", Side: "sell", Amount: dec("10"), EntryPrice: nd("150")},
	}, "USDT", polled)
	require.Len(t, got, 1)
	require.Equal(t, "SOL/USDT", got[0].Instrument)
	require.Equal(t, schema.SideShort, got[0].Side)
	require.True(t, got[0].Quantity.Equal(dec("10")))
}

func TestPriceKeysStayInSegment(t *testing.T) {
	spot := schema.Position{Provider: "binance", Instrument: "BTC/USDT", Segment: "spot", RawSymbol: "BTC"}
	require.Equal(t, []PriceKey{{"binance", "spot", "BTC/USDT"}}, PriceKeys(spot, "USDT"))

	settled := schema.Position{Provider: "bybit", Instrument: "BTC/USDT", Segment: "futures", RawSymbol: "BTC/USDT:USDT"}
	require.Equal(t, []PriceKey{{"bybit", "futures", "BTC/USDT:USDT"}}, PriceKeys(settled, "USDT"))

	bare := schema.Position{Provider: "bybit", Instrument: "ETH/USDC", Segment: "futures", RawSymbol: "ETHUSDC"}
	require.Equal(t, []PriceKey{{"bybit", "futures", "ETH/USDC:USDC"}}, PriceKeys(bare, "USDT"))

	inverse := schema.Position{Provider: "bybit", Instrument: "BTC/USD", Segment: "futures", RawSymbol: "BTC/USD:BTC"}
	require.Equal(t, []PriceKey{{"bybit", "futures", "BTC/USD:BTC"}, {"bybit", "futures", "BTC/USD:USD"}}, PriceKeys(inverse, "USDT"))

	for _, key := range append(PriceKeys(settled, "USDT"), PriceKeys(inverse, "USDT")...) {
		require.Equal(t, schema.SegmentFutures, key.Segment)
	}
}

func TestPriceCacheLookupMatchesSettledPair(t *testing.T) {
	cache := NewPriceCache("USDT")
	require.True(t, cache.Set("BYBIT", "swap", "btc/usdt", dec("65000"), polled))
	require.False(t, cache.Set("bybit", "futures", "BTC/USDT:USDT", dec("65000"), polled))
	require.False(t, cache.Set("bybit", "futures", "BTC/USDT", decimal.Zero, polled))
	require.Equal(t, uint64(1), cache.Version())

	pos := schema.Position{Provider: "bybit", Instrument: "BTC/USDT", Segment: "futures", RawSymbol: "BTC/USDT:USDT"}
	price, ok := cache.Lookup(pos)
	require.True(t, ok)
	require.True(t, price.Equal(dec("65000")))

	_, ok = cache.Lookup(schema.Position{Provider: "okx", Instrument: "BTC/USDT", RawSymbol: "BTC"})
	require.False(t, ok)
}

func TestPriceCacheKeepsSpotAndFuturesApart(t *testing.T) {
	cache := NewPriceCache("USDT")
	require.True(t, cache.Set("binance", "futures", "BTC/USDT", dec("100"), polled))
	require.True(t, cache.Set("binance", "spot", "BTC/USDT", dec("90"), polled))
	require.Equal(t, 2, cache.Len())

	perp := schema.Position{Provider: "binance", Instrument: "BTC/USDT", Segment: "futures", RawSymbol: "BTC/USDT:USDT"}
	price, ok := cache.Lookup(perp)
	require.True(t, ok)
	require.True(t, price.Equal(dec("100")), price.String())

	spot := schema.Position{Provider: "binance", Instrument: "BTC/USDT", Segment: "spot", RawSymbol: "BTC"}
	price, ok = cache.Lookup(spot)
	require.True(t, ok)
	require.True(t, price.Equal(dec("90")), price.String())

	onlySpot := NewPriceCache("USDT")
	onlySpot.Set("okx", "spot", "ETH/USDT", dec("3000"), polled)
	_, ok = onlySpot.Lookup(schema.Position{Provider: "okx", Instrument: "ETH/USDT", Segment: "futures", RawSymbol: "ETH/USDT:USDT"})
	require.False(t, ok)
}

func TestPriceCacheLookupForScopeQuote(t *testing.T) {
	cache := NewPriceCache("")
	cache.Set("binance", "spot", "BTC/USDT", dec("100"), polled)

	got := Aggregate([]schema.PositionRecord{{Exchange: "binance", Symbol: "BTC", Type: "spot", Amount: dec("1")}}, "USDC", polled)
	require.Len(t, got, 1)
	require.Equal(t, "BTC/USDC", got[0].Instrument)

	_, ok := cache.LookupFor(got[0], "USDC")
	require.False(t, ok)
	_, ok = cache.For("USDC").Lookup(got[0])
	require.False(t, ok)

	cache.Set("binance", "spot", "BTC/USDC", dec("99.5"), polled)
	price, ok := cache.For("USDC").Lookup(got[0])
	require.True(t, ok)
	require.True(t, price.Equal(dec("99.5")))

	price, ok = cache.LookupFor(got[0], "")
	require.True(t, ok)
	require.True(t, price.Equal(dec("100")))
}

func TestTickPrice(t *testing.T) {
	price, err := TickPrice([]byte(`{"last":"101.25","close":100}`))
	require.NoError(t, err)
	require.True(t, price.Equal(dec("101.25")))

	price, err = TickPrice([]byte(`{"price":64000.5}`))
	require.NoError(t, err)
	require.True(t, price.Equal(dec("64000.5")))

	_, err = TickPrice([]byte(`{"volume":"3"}`))
	require.Error(t, err)
	_, err = TickPrice([]byte(`[`))
	require.Error(t, err)
}
