package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ExchangeRate converts one USD into the fiat currency.
type ExchangeRate struct {
	Currency string          `json:"currency"`
	Rate     decimal.Decimal `json:"rate"`
}

// Rates is a snapshot of exchange rates keyed by fiat code.
type Rates []ExchangeRate

// Find returns the rate for fiat, or zero when the table has no such entry.
func (r Rates) Find(fiat string) decimal.Decimal {
	for _, rate := range r {
		if strings.EqualFold(rate.Currency, fiat) {
			return rate.Rate
		}
	}
	return decimal.Zero
}

// Clone copies the table so callers cannot mutate a stored snapshot.
func (r Rates) Clone() Rates {
	if r == nil {
		return nil
	}
	out := make(Rates, len(r))
	copy(out, r)
	return out
}
