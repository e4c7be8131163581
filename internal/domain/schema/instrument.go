package schema

import "strings"

// DefaultQuote is assumed when a provider reports a bare asset code.
const DefaultQuote = "USDT"

// KnownQuotes is the quote list used to split concatenated symbols such as BTCUSDT.
var KnownQuotes = []string{"USDT", "USDC", "FDUSD", "BUSD", "USD", "BTC", "ETH"}

// Instrument is one configured instrument of interest.
type Instrument struct {
	Provider string `yaml:"provider" json:"provider"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Segment  string `yaml:"segment" json:"segment"`
}

// Normalized returns the instrument with canonical provider, symbol and segment.
func (i Instrument) Normalized() Instrument {
	segment := NormalizeSegment(i.Segment)
	if segment == "" {
		segment = SegmentSpot
	}
	return Instrument{
		Provider: NormalizeProvider(i.Provider),
		Symbol:   NormalizeSymbol(i.Symbol),
		Segment:  segment,
	}
}

// Market segments.
const (
	SegmentSpot    = "spot"
	SegmentFutures = "futures"
)

// NormalizeProvider lower-cases and trims a provider name.
func NormalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// NormalizeSegment maps provider segment spellings onto spot or futures.
func NormalizeSegment(segment string) string {
	switch strings.ToLower(strings.TrimSpace(segment)) {
	case "":
		return ""
	case "spot", "cash", "margin":
		return SegmentSpot
	case "futures", "future", "swap", "perp", "perpetual", "linear", "inverse", "contract":
		return SegmentFutures
	default:
		return strings.ToLower(strings.TrimSpace(segment))
	}
}

// StripSettlement removes a trailing settlement annotation such as ":USDT".
func StripSettlement(symbol string) string {
	if idx := strings.IndexByte(symbol, ':'); idx >= 0 {
		return symbol[:idx]
	}
	return symbol
}

// HasSettlement reports whether the symbol carries a settlement annotation.
func HasSettlement(symbol string) bool {
	return strings.IndexByte(symbol, ':') >= 0
}

// NormalizeSymbol converts provider symbol spellings to BASE/QUOTE with the
// settlement suffix removed. BTCUSDT, BTC-USDT, btc_usdt and BTC/USDT:USDT all
// become BTC/USDT. Symbols that cannot be split are returned upper-cased.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(StripSettlement(symbol)))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "/") {
		return s
	}
	for _, sep := range []string{"-", "_"} {
		if base, quote, ok := strings.Cut(s, sep); ok && base != "" && quote != "" {
			// Dated or perpetual suffixes like BTC-USDT-SWAP keep only the pair.
			if q, _, found := strings.Cut(quote, sep); found {
				quote = q
			}
			return base + "/" + quote
		}
	}
	for _, quote := range KnownQuotes {
		if len(s) > len(quote) && strings.HasSuffix(s, quote) {
			return s[:len(s)-len(quote)] + "/" + quote
		}
	}
	return s
}

// BaseAsset returns the base asset of a normalized symbol.
func BaseAsset(symbol string) string {
	base, _, _ := strings.Cut(NormalizeSymbol(symbol), "/")
	return base
}

// IsBareAsset reports whether symbol names a single asset (BTC) rather than a pair.
func IsBareAsset(symbol string) bool {
	s := NormalizeSymbol(symbol)
	return s != "" && !strings.Contains(s, "/")
}
