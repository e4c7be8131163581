package positionmonitor

import (
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/arbwatch/errs"
	"github.com/coachpo/arbwatch/internal/domain/schema"
)

// Quote is one cached price.
type Quote struct {
	Price decimal.Decimal
	At    time.Time
}

// PriceCache holds the latest known price per provider, segment and pair. Safe for
// concurrent use: ticks write from stream goroutines while scopes read.
type PriceCache struct {
	mu      sync.RWMutex
	prices  map[PriceKey]Quote
	quote   string
	version uint64
}

// NewPriceCache creates an empty cache. Lookup pairs bare assets with quote;
// scopes quoting in another currency use LookupFor or For.
func NewPriceCache(quote string) *PriceCache {
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		quote = schema.DefaultQuote
	}
	return &PriceCache{prices: make(map[PriceKey]Quote), quote: quote}
}

// Set stores a price and reports whether it differs from the cached one.
func (c *PriceCache) Set(provider, segment, pair string, price decimal.Decimal, at time.Time) bool {
	if !price.IsPositive() {
		return false
	}
	key := NewPriceKey(provider, segment, pair)
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.prices[key]; ok && prev.Price.Equal(price) {
		return false
	}
	c.prices[key] = Quote{Price: price, At: at}
	c.version++
	return true
}

// Get returns the cached quote for provider, segment and pair.
func (c *PriceCache) Get(provider, segment, pair string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.prices[NewPriceKey(provider, segment, pair)]
	return q, ok
}

// Lookup resolves a position's price through PriceKeys using the cache quote.
func (c *PriceCache) Lookup(p schema.Position) (decimal.Decimal, bool) {
	return c.LookupFor(p, c.quote)
}

// LookupFor resolves a position's price, pairing bare assets with quote.
func (c *PriceCache) LookupFor(p schema.Position, quote string) (decimal.Decimal, bool) {
	if strings.TrimSpace(quote) == "" {
		quote = c.quote
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, key := range PriceKeys(p, quote) {
		if q, ok := c.prices[key]; ok {
			return q.Price, true
		}
	}
	return decimal.Zero, false
}

// For returns a PriceLookup bound to quote.
func (c *PriceCache) For(quote string) PriceLookup {
	return quotedLookup{cache: c, quote: quote}
}

type quotedLookup struct {
	cache *PriceCache
	quote string
}

func (q quotedLookup) Lookup(p schema.Position) (decimal.Decimal, bool) {
	return q.cache.LookupFor(p, q.quote)
}

// Version increases on every stored change.
func (c *PriceCache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Len returns the number of cached entries.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}

// Quote returns the quote currency bare assets are paired with.
func (c *PriceCache) Quote() string { return c.quote }

type tickPayload struct {
	Price     decimal.NullDecimal `json:"price"`
	Last      decimal.NullDecimal `json:"last"`
	LastPrice decimal.NullDecimal `json:"lastPrice"`
	Close     decimal.NullDecimal `json:"close"`
	Mark      decimal.NullDecimal `json:"markPrice"`
}

// TickPrice extracts the last traded price from a tick payload. Accepted
// fields, in order: price, last, lastPrice, close, markPrice.
func TickPrice(payload []byte) (decimal.Decimal, error) {
	var tick tickPayload
	if err := json.Unmarshal(payload, &tick); err != nil {
		return decimal.Zero, errs.New("positionmonitor/tick", errs.CodeTransport, errs.WithMessage("decode tick payload"), errs.WithCause(err))
	}
	for _, candidate := range []decimal.NullDecimal{tick.Price, tick.Last, tick.LastPrice, tick.Close, tick.Mark} {
		if candidate.Valid && candidate.Decimal.IsPositive() {
			return candidate.Decimal, nil
		}
	}
	return decimal.Zero, errs.New("positionmonitor/tick", errs.CodeTransport, errs.WithMessage("tick payload carries no price"))
}
