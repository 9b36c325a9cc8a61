package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/azebets/walletsync/internal/domain"
)

func TestAmountToFiat_EmptyRatesIsZero(t *testing.T) {
	m := New(DefaultConfig())

	assertDec(t, "0", m.AmountToFiat(dec("0"), "USDT", "EUR"))
	assertDec(t, "0", m.AmountToFiat(dec("15"), "", ""))
	assertDec(t, "0", m.FiatToAmount(dec("15"), "", ""))
}

func TestConversions(t *testing.T) {
	m := New(DefaultConfig())
	m.OnWalletPush(domain.WalletBalance{CoinName: "Fun", Balance: dec("1")})
	m.AddCurrency(domain.CurrencyConfig{Name: "GEM", USDPrice: dec("0.25"), Precision: 2})
	m.SetRates(domain.Rates{
		{Currency: "USD", Rate: dec("1")},
		{Currency: "EUR", Rate: dec("0.9")},
	})
	m.SetPreferredFiat("EUR")

	assertDec(t, "9", m.AmountToFiat(dec("10"), "", ""))
	assertDec(t, "2.25", m.AmountToFiat(dec("10"), "GEM", ""))
	assertDec(t, "10", m.AmountToFiat(dec("10"), "DOGE", "usd"))
	assertDec(t, "0", m.AmountToFiat(dec("10"), "GEM", "JPY"))

	assertDec(t, "10", m.FiatToAmount(dec("2.25"), "GEM", "EUR"))
	// a zero price short-circuits instead of dividing
	assertDec(t, "0", m.FiatToAmount(dec("2"), "Fun", "EUR"))

	assert.Equal(t, "9.00 EUR", m.AmountToFiatString(dec("10"), "USDT", "", 2))
	assert.Equal(t, "9,000.00 EUR", m.FormatFiat(language.English, dec("10000"), "USDT", "", 2))

	assertDec(t, "2.5", m.AmountToLocale(dec("10"), "GEM"))
	assertDec(t, "10", m.AmountToLocale(dec("10"), "DOGE"))
	assertDec(t, "10", m.LocaleToAmount(dec("2.5"), "GEM"))
	assertDec(t, "0", m.LocaleToAmount(dec("2.5"), "Fun"))
	assertDec(t, "3", m.LocaleToAmount(dec("3"), "DOGE"))

	assert.Equal(t, "USD", m.LocaleName("GEM"))
	assertDec(t, "2.5", m.ToLocaleAmount(dec("10"), "GEM"))
}

func TestQueries_UnknownCurrencyDefaults(t *testing.T) {
	m := New(DefaultConfig())

	assertDec(t, "1", m.USDPrice("DOGE"))
	assert.Equal(t, 8, m.Precision("DOGE"))
	assert.Equal(t, "DOGE", m.Alias("DOGE"))
	assert.Equal(t, "DOGE", m.FullName("DOGE"))
	assert.False(t, m.IsValuable("DOGE"))
	assertDec(t, "0", m.Available("DOGE"))
	assertDec(t, "7", m.UnitsToAmount(dec("7"), "DOGE"))

	assert.True(t, m.IsValuable("USDT"))
	assert.Equal(t, "Tether USD", m.FullName("USDT"))
}

func TestValidAmountAndLocaleCurrency(t *testing.T) {
	m := New(DefaultConfig())
	m.AddCurrency(domain.CurrencyConfig{Name: "GEM", Alias: "Gem", Precision: 2})

	assert.Equal(t, "12345678", m.ValidAmount(dec("12345678"), "USDT"))
	assert.Equal(t, "1.5", m.ValidAmount(dec("1.50000"), "USDT"))
	assert.Equal(t, "123456.123", m.ValidAmount(dec("123456.12345"), "DOGE"))
	assert.Equal(t, "3.14 Gem", m.ToLocaleCurrency(dec("3.14159"), "GEM"))
	assert.Equal(t, "2 USDT", m.ToLocaleCurrency(dec("2"), "USDT"))

	assertDec(t, "3.14", m.PrecisionAmount(dec("3.14159"), "GEM", 0))
	assertDec(t, "3.141", m.PrecisionAmount(dec("3.14159"), "GEM", 1))
}

func TestBetLimits(t *testing.T) {
	m := New(DefaultConfig())

	minAmount, maxAmount, err := m.BetLimits("USDT")
	require.NoError(t, err)
	assertDec(t, "0.01", minAmount)
	assertDec(t, "5000", maxAmount)

	require.NoError(t, m.ConfirmBalance("USDT", dec("120")))
	_, maxAmount, err = m.BetLimits("USDT")
	require.NoError(t, err)
	assertDec(t, "120", maxAmount)

	_, _, err = m.BetLimits("DOGE")
	require.ErrorIs(t, err, ErrUnknownCurrency)
}
