package schema

import "github.com/shopspring/decimal"

// SymbolRef names one pair on one exchange for a price query.
type SymbolRef struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

// PriceTable maps exchange -> pair -> last price.
type PriceTable map[string]map[string]decimal.Decimal
