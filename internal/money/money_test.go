package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"

	"github.com/azebets/walletsync/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		name      string
		amount    decimal.Decimal
		precision int
		expected  string
	}{
		{name: "large amount has no decimals", amount: dec("12345678"), precision: 4, expected: "12345678"},
		{name: "large amount rounds to integer", amount: dec("12345678.6"), precision: 4, expected: "12345679"},
		{name: "large negative amount", amount: dec("-10000000.2"), precision: 4, expected: "-10000000"},
		{name: "trailing zeros stripped", amount: dec("1.50000"), precision: 4, expected: "1.5"},
		{name: "whole number", amount: dec("2"), precision: 4, expected: "2"},
		{name: "zero", amount: decimal.Zero, precision: 4, expected: "0"},
		{name: "below precision", amount: dec("0.00001"), precision: 4, expected: "0"},
		{name: "positive budget truncates", amount: dec("99999.999999"), precision: 6, expected: "99999.9999"},
		{name: "negative budget truncates", amount: dec("-99999.999999"), precision: 6, expected: "-99999.9999"},
		{name: "long fraction cut", amount: dec("123456789.5").Div(dec("100")), precision: 8, expected: "1234567.89"},
		{name: "fits budget", amount: dec("1234.5678"), precision: 4, expected: "1234.5678"},
		{name: "cut exposes trailing zeros", amount: dec("123456.000001"), precision: 6, expected: "123456"},
		{name: "negative cut exposes trailing zeros", amount: dec("-12345.0000001"), precision: 7, expected: "-12345"},
		{name: "cut keeps significant fraction", amount: dec("123456.100001"), precision: 6, expected: "123456.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidAmount(tt.amount, tt.precision))
		})
	}
}

func TestValidAmount_TruncatesInsteadOfRounding(t *testing.T) {
	// 99999.99999 rounded to 10 characters would carry into 100000
	got := ValidAmount(dec("99999.999999"), 6)
	assert.Equal(t, "99999.9999", got)
	assert.LessOrEqual(t, len(got), positiveBudget)
}

func TestAmountToFiat(t *testing.T) {
	rates := domain.Rates{
		{Currency: "USD", Rate: decimal.NewFromInt(1)},
		{Currency: "EUR", Rate: dec("0.9")},
	}

	t.Run("empty rate table", func(t *testing.T) {
		assert.True(t, AmountToFiat(decimal.Zero, decimal.NewFromInt(1), nil, "USD").IsZero())
		assert.True(t, AmountToFiat(decimal.NewFromInt(5), decimal.NewFromInt(1), domain.Rates{}, "USD").IsZero())
	})

	t.Run("converts through usd price", func(t *testing.T) {
		got := AmountToFiat(decimal.NewFromInt(10), dec("2"), rates, "EUR")
		assert.True(t, got.Equal(dec("18")), got.String())
	})

	t.Run("unknown fiat", func(t *testing.T) {
		assert.True(t, AmountToFiat(decimal.NewFromInt(10), dec("2"), rates, "JPY").IsZero())
	})

	t.Run("case insensitive fiat", func(t *testing.T) {
		got := AmountToFiat(decimal.NewFromInt(10), decimal.NewFromInt(1), rates, "eur")
		assert.True(t, got.Equal(dec("9")), got.String())
	})
}

func TestFiatToAmount(t *testing.T) {
	rates := domain.Rates{{Currency: "EUR", Rate: dec("0.9")}}

	got := FiatToAmount(dec("9"), decimal.NewFromInt(1), rates, "EUR")
	assert.True(t, got.Equal(decimal.NewFromInt(10)), got.String())

	assert.True(t, FiatToAmount(dec("9"), decimal.Zero, rates, "EUR").IsZero(), "zero price")
	assert.True(t, FiatToAmount(dec("9"), decimal.NewFromInt(1), rates, "GBP").IsZero(), "missing rate")
	assert.True(t, FiatToAmount(dec("9"), decimal.NewFromInt(1), nil, "EUR").IsZero(), "empty table")
}

func TestLocaleConversions(t *testing.T) {
	assert.True(t, AmountToLocale(dec("3"), dec("0.5")).Equal(dec("1.5")))
	assert.True(t, LocaleToAmount(dec("1.5"), dec("0.5")).Equal(dec("3")))
	assert.True(t, LocaleToAmount(dec("1.5"), decimal.Zero).IsZero())
}

func TestUnitsToAmount(t *testing.T) {
	assert.True(t, UnitsToAmount(dec("150000000"), dec("100000000")).Equal(dec("1.5")))
	assert.True(t, UnitsToAmount(dec("15"), decimal.Zero).IsZero())
}

func TestPrecisionAmount(t *testing.T) {
	assert.Equal(t, "1.23", PrecisionAmount(dec("1.23456"), 2).String())
	assert.Equal(t, "-1.24", PrecisionAmount(dec("-1.235"), 2).String())
	assert.Equal(t, "5", PrecisionAmount(dec("5"), 4).String())
}

func TestFiatFormatting(t *testing.T) {
	assert.Equal(t, "12.3400 USD", FiatString(dec("12.34"), "USD", 4))
	assert.Equal(t, "1,234.50 USD", FormatFiat(language.English, dec("1234.5"), "USD", 2))
}
