package ordermonitor

import (
	"github.com/coachpo/arbwatch/internal/domain/schema"
)

// MatchKind reports how an order was associated with a scope instrument.
type MatchKind int

const (
	NoMatch MatchKind = iota
	StrictMatch
	LooseMatch
)

type strictKey struct {
	provider   string
	instrument string
	segment    string
}

type looseKey struct {
	provider   string
	instrument string
}

// Matcher associates orders with the instruments a scope monitors.
type Matcher struct {
	strict map[strictKey]schema.Instrument
	loose  map[looseKey]schema.Instrument
}

// NewMatcher indexes instruments by their normalised identity.
func NewMatcher(instruments []schema.Instrument) Matcher {
	m := Matcher{
		strict: make(map[strictKey]schema.Instrument, len(instruments)),
		loose:  make(map[looseKey]schema.Instrument, len(instruments)),
	}
	for _, inst := range instruments {
		n := inst.Normalized()
		m.strict[strictKey{n.Provider, n.Symbol, n.Segment}] = n
		if _, ok := m.loose[looseKey{n.Provider, n.Symbol}]; !ok {
			m.loose[looseKey{n.Provider, n.Symbol}] = n
		}
	}
	return m
}

// Match tries (provider, instrument, segment) first and falls back to
// (provider, instrument), since some venues report a derivative symbol for an
// account configured with the spot pair.
func (m Matcher) Match(o schema.Order) (schema.Instrument, MatchKind) {
	provider := schema.NormalizeProvider(o.Exchange)
	symbol := schema.NormalizeSymbol(o.Symbol)
	if provider == "" || symbol == "" {
		return schema.Instrument{}, NoMatch
	}
	if inst, ok := m.strict[strictKey{provider, symbol, o.Segment()}]; ok {
		return inst, StrictMatch
	}
	if inst, ok := m.loose[looseKey{provider, symbol}]; ok {
		return inst, LooseMatch
	}
	return schema.Instrument{}, NoMatch
}

// Empty reports whether no instruments are indexed.
func (m Matcher) Empty() bool { return len(m.strict) == 0 }
