package positionmonitor

import (
	"strings"

	"github.com/coachpo/arbwatch/internal/domain/schema"
)

// PriceKey addresses one entry in the live price cache. Spot and futures
// prices for the same pair live under different keys.
type PriceKey struct {
	Provider string
	Segment  string
	Pair     string
}

func (k PriceKey) String() string { return k.Provider + "|" + k.Segment + "|" + k.Pair }

// NewPriceKey normalises provider, segment and pair. Futures pairs always carry
// a settlement suffix, defaulting to the pair's quote, so BTC/USDT and
// BTC/USDT:USDT on the futures segment share a slot.
func NewPriceKey(provider, segment, pair string) PriceKey {
	segment = schema.NormalizeSegment(segment)
	if segment == "" {
		segment = schema.SegmentSpot
	}
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if segment == schema.SegmentFutures {
		pair = settledPair(pair)
	} else {
		pair = schema.StripSettlement(pair)
	}
	return PriceKey{
		Provider: schema.NormalizeProvider(provider),
		Segment:  segment,
		Pair:     pair,
	}
}

func settledPair(pair string) string {
	if pair == "" || schema.HasSettlement(pair) {
		return pair
	}
	if _, q, ok := strings.Cut(pair, "/"); ok && q != "" {
		return pair + ":" + q
	}
	return pair
}

// PriceKeys lists the cache keys to try for p, primary first. Candidates never
// leave p's segment.
//
//	spot BTC              -> spot BTC/USDT
//	spot BTCUSDT          -> spot BTC/USDT
//	futures BTC/USDT      -> futures BTC/USDT:USDT
//	futures BTC/USD:BTC   -> futures BTC/USD:BTC, futures BTC/USD:USD
func PriceKeys(p schema.Position, quote string) []PriceKey {
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		quote = schema.DefaultQuote
	}
	pair := schema.NormalizeSymbol(p.RawSymbol)
	if pair == "" {
		pair = p.Instrument
	}
	if schema.IsBareAsset(pair) {
		pair = pair + "/" + quote
	}

	if schema.NormalizeSegment(p.Segment) != schema.SegmentFutures {
		return []PriceKey{NewPriceKey(p.Provider, schema.SegmentSpot, pair)}
	}
	primary := NewPriceKey(p.Provider, schema.SegmentFutures, pair)
	if schema.HasSettlement(p.RawSymbol) {
		primary = NewPriceKey(p.Provider, schema.SegmentFutures,
			pair+strings.ToUpper(p.RawSymbol[strings.IndexByte(p.RawSymbol, ':'):]))
	}
	keys := []PriceKey{primary}
	if fallback := NewPriceKey(p.Provider, schema.SegmentFutures, pair); fallback != primary {
		keys = append(keys, fallback)
	}
	return keys
}
