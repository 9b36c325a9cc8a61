// Package money holds the pure conversion and formatting rules used to
// display wallet amounts. Every function degrades to zero instead of failing
// on missing rates or zero prices.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/azebets/walletsync/internal/domain"
)

const (
	// amounts at or above this magnitude are shown without decimals
	wholeOnlyThreshold = 10_000_000

	positiveBudget = 10
	signedBudget   = 11
)

var wholeOnly = decimal.NewFromInt(wholeOnlyThreshold)

// AmountToFiat converts a token amount into the fiat currency using the
// token's USD price and the USD->fiat rate from rates.
func AmountToFiat(amount, usdPrice decimal.Decimal, rates domain.Rates, fiat string) decimal.Decimal {
	if len(rates) == 0 {
		return decimal.Zero
	}
	return amount.Mul(usdPrice).Mul(rates.Find(fiat))
}

// FiatToAmount is the inverse of AmountToFiat.
func FiatToAmount(amount, usdPrice decimal.Decimal, rates domain.Rates, fiat string) decimal.Decimal {
	if len(rates) == 0 {
		return decimal.Zero
	}
	rate := rates.Find(fiat)
	if usdPrice.IsZero() || rate.IsZero() {
		return decimal.Zero
	}
	return amount.Div(usdPrice).Div(rate)
}

// AmountToLocale converts a token amount into its USD-equivalent.
func AmountToLocale(amount, usdPrice decimal.Decimal) decimal.Decimal {
	return amount.Mul(usdPrice)
}

// LocaleToAmount converts a USD-equivalent value back into token units.
func LocaleToAmount(locale, usdPrice decimal.Decimal) decimal.Decimal {
	if usdPrice.IsZero() {
		return decimal.Zero
	}
	return locale.Div(usdPrice)
}

// UnitsToAmount converts minor units into whole currency amounts.
func UnitsToAmount(units, unitAmount decimal.Decimal) decimal.Decimal {
	if unitAmount.IsZero() {
		return decimal.Zero
	}
	return units.Div(unitAmount)
}

// PrecisionAmount floors amount to the given number of decimal places.
func PrecisionAmount(amount decimal.Decimal, precision int) decimal.Decimal {
	return amount.RoundFloor(int32(precision))
}

// ValidAmount renders an amount for narrow UI slots.
//
// Amounts whose magnitude reaches ten million are printed without decimals.
// Everything else is printed at the currency precision with trailing zeros
// stripped, then cut to 10 characters (11 for non-positive values). The cut
// truncates digits, it does not round them, and zeros it exposes are stripped
// again.
func ValidAmount(amount decimal.Decimal, precision int) string {
	if amount.Abs().GreaterThanOrEqual(wholeOnly) {
		return amount.StringFixed(0)
	}
	if precision < 0 {
		precision = 0
	}

	s := trimFraction(amount.StringFixed(int32(precision)))

	budget := signedBudget
	if amount.IsPositive() {
		budget = positiveBudget
	}
	if len(s) > budget {
		s = trimFraction(s[:budget])
	}
	return strings.TrimSuffix(s, ".")
}

// FiatString renders "<amount> <fiat>" with a fixed number of decimals.
func FiatString(amount decimal.Decimal, fiat string, precision int) string {
	return amount.StringFixed(int32(precision)) + " " + fiat
}

// FormatFiat renders amount with locale-aware digit grouping, e.g. "1,234.50 USD".
func FormatFiat(tag language.Tag, amount decimal.Decimal, fiat string, precision int) string {
	p := message.NewPrinter(tag)
	return p.Sprintf("%v %s", number.Decimal(amount.InexactFloat64(), number.Scale(precision)), fiat)
}

func trimFraction(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
