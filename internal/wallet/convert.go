package wallet

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"github.com/azebets/walletsync/internal/money"
)

var unknownUSDPrice = decimal.NewFromInt(1)

// USDPrice returns the unit price of name, 1 when unknown.
func (m *Manager) USDPrice(name string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usdPriceLocked(name)
}

// FullName returns the full name of name, the name itself when unknown.
func (m *Manager) FullName(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.dict[name]; ok {
		return c.fullName
	}
	return name
}

// Alias returns the display alias of name, the name itself when unknown.
func (m *Manager) Alias(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aliasLocked(name)
}

// Precision returns the display precision of name, 8 when unknown.
func (m *Manager) Precision(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.precisionLocked(name)
}

// IsValuable reports whether name is known and priced above zero.
func (m *Manager) IsValuable(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.dict[name]
	return ok && c.usdPrice.IsPositive()
}

// PrecisionAmount floors amount to the precision of name plus extra places.
func (m *Manager) PrecisionAmount(amount decimal.Decimal, name string, extra int) decimal.Decimal {
	return money.PrecisionAmount(amount, m.Precision(name)+extra)
}

// ValidAmount renders amount for narrow UI slots at the precision of name.
func (m *Manager) ValidAmount(amount decimal.Decimal, name string) string {
	return money.ValidAmount(amount, m.Precision(name))
}

// ToLocaleCurrency renders "<valid amount> <alias>".
func (m *Manager) ToLocaleCurrency(amount decimal.Decimal, name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return money.ValidAmount(amount, m.precisionLocked(name)) + " " + m.aliasLocked(name)
}

// AmountToFiat converts amount of token into fiat using the stored rates.
// Empty token and fiat fall back to the current currency and the preferred fiat.
func (m *Manager) AmountToFiat(amount decimal.Decimal, token, fiat string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, fiat = m.defaultsLocked(token, fiat)
	return money.AmountToFiat(amount, m.usdPriceLocked(token), m.rates, fiat)
}

// AmountToFiatString renders AmountToFiat followed by the fiat code.
func (m *Manager) AmountToFiatString(amount decimal.Decimal, token, fiat string, precision int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, fiat = m.defaultsLocked(token, fiat)
	return money.FiatString(money.AmountToFiat(amount, m.usdPriceLocked(token), m.rates, fiat), fiat, precision)
}

// FormatFiat renders the fiat value of amount with the digit grouping of tag.
func (m *Manager) FormatFiat(tag language.Tag, amount decimal.Decimal, token, fiat string, precision int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, fiat = m.defaultsLocked(token, fiat)
	return money.FormatFiat(tag, money.AmountToFiat(amount, m.usdPriceLocked(token), m.rates, fiat), fiat, precision)
}

// FiatToAmount converts a fiat value into token units.
func (m *Manager) FiatToAmount(amount decimal.Decimal, token, fiat string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, fiat = m.defaultsLocked(token, fiat)
	return money.FiatToAmount(amount, m.usdPriceLocked(token), m.rates, fiat)
}

// AmountToLocale converts amount of name into its USD-equivalent. Unknown
// currencies are returned unchanged.
func (m *Manager) AmountToLocale(amount decimal.Decimal, name string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.dict[name]
	if !ok {
		return amount
	}
	return money.AmountToLocale(amount, c.usdPrice)
}

// LocaleToAmount converts a USD-equivalent into units of name.
func (m *Manager) LocaleToAmount(locale decimal.Decimal, name string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.dict[name]
	if !ok {
		return locale
	}
	return money.LocaleToAmount(locale, c.usdPrice)
}

// BetLimits returns the bet bounds of name. The upper bound is capped at the
// available balance while that still covers the minimum.
func (m *Manager) BetLimits(name string) (decimal.Decimal, decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.dict[name]
	if !ok {
		return decimal.Zero, decimal.Zero, errors.Wrapf(ErrUnknownCurrency, "bet limits %s", name)
	}
	maxAmount := c.maxAmount
	if avail := c.Available(); avail.GreaterThanOrEqual(c.minAmount) && avail.LessThan(maxAmount) {
		maxAmount = avail
	}
	return c.minAmount, maxAmount, nil
}

// LocaleName is the name amounts of name are displayed in.
func (m *Manager) LocaleName(name string) string {
	if m.conf.EnableLocaleCurrency {
		return m.conf.LocaleCurrency
	}
	return name
}

// ToLocaleAmount converts amount into the locale currency when enabled.
func (m *Manager) ToLocaleAmount(amount decimal.Decimal, name string) decimal.Decimal {
	if !m.conf.EnableLocaleCurrency {
		return amount
	}
	return m.AmountToLocale(amount, name)
}

// UnitsToAmount converts minor units of name into whole amounts.
func (m *Manager) UnitsToAmount(units decimal.Decimal, name string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.dict[name]
	if !ok {
		return units
	}
	return unitsToAmount(units, c.unitAmount)
}

func unitsToAmount(units, unitAmount decimal.Decimal) decimal.Decimal {
	return money.UnitsToAmount(units, unitAmount)
}

func (m *Manager) defaultsLocked(token, fiat string) (string, string) {
	if token == "" {
		token = m.current.CurrencyName
	}
	if fiat == "" {
		fiat = m.preferredFiat
	}
	return token, fiat
}

func (m *Manager) usdPriceLocked(name string) decimal.Decimal {
	if c, ok := m.dict[name]; ok {
		return c.usdPrice
	}
	return unknownUSDPrice
}

func (m *Manager) aliasLocked(name string) string {
	if c, ok := m.dict[name]; ok {
		return c.alias
	}
	return name
}

func (m *Manager) precisionLocked(name string) int {
	if c, ok := m.dict[name]; ok {
		return c.precision
	}
	return unknownPrecision
}
