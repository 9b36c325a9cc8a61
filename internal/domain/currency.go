// Package domain defines core data structures shared by the wallet engine,
// its transports and its storage.
package domain

import (
	"github.com/shopspring/decimal"
)

const (
	// DisplayStatusNew currency was never surfaced to the user.
	DisplayStatusNew = 0
	// DisplayStatusShown currency has been surfaced to the user.
	DisplayStatusShown = 1

	defaultPrecision = 4
)

var (
	defaultMinAmount = decimal.NewFromInt(1)
	defaultMaxAmount = decimal.NewFromInt(30000)
	defaultUSDPrice  = decimal.NewFromFloat(0.1)
)

// CurrencyConfig enumerates every recognized currency field.
// Zero values are replaced by the defaults from WithDefaults.
type CurrencyConfig struct {
	Name       string          `yaml:"name" json:"currencyName"`
	Image      string          `yaml:"image,omitempty" json:"currencyImage,omitempty"`
	Alias      string          `yaml:"alias,omitempty" json:"aliasCurrencyName,omitempty"`
	FullName   string          `yaml:"full_name,omitempty" json:"fullName,omitempty"`
	Amount     decimal.Decimal `yaml:"-" json:"amount"`
	USDPrice   decimal.Decimal `yaml:"-" json:"usdPrice"`
	UnitAmount decimal.Decimal `yaml:"-" json:"unitAmount"`
	Precision  int             `yaml:"precision,omitempty" json:"precision"`
	MinAmount  decimal.Decimal `yaml:"-" json:"minAmount"`
	MaxAmount  decimal.Decimal `yaml:"-" json:"maxAmount"`
	// DisplayStatus is DisplayStatusNew or DisplayStatusShown.
	DisplayStatus int `yaml:"-" json:"displayStatus"`
	// Disabled marks a currency switched off upstream.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	// PriceSet distinguishes an explicit zero USD price from an unset one.
	PriceSet bool `yaml:"-" json:"-"`
}

// WithDefaults returns a copy of the config with unset fields defaulted.
func (c CurrencyConfig) WithDefaults() CurrencyConfig {
	if c.Alias == "" {
		c.Alias = c.Name
	}
	if c.FullName == "" {
		c.FullName = c.Name
	}
	if c.UnitAmount.LessThanOrEqual(decimal.Zero) {
		c.UnitAmount = decimal.NewFromInt(1)
	}
	if c.Precision <= 0 {
		c.Precision = defaultPrecision
	}
	if c.MinAmount.IsZero() {
		c.MinAmount = defaultMinAmount
	}
	if c.MaxAmount.IsZero() {
		c.MaxAmount = defaultMaxAmount
	}
	if !c.PriceSet && c.USDPrice.IsZero() {
		c.USDPrice = defaultUSDPrice
	}
	if c.USDPrice.IsNegative() {
		c.USDPrice = decimal.Zero
	}
	return c
}

// DefaultCurrencies returns the presets for the platform currencies.
func DefaultCurrencies() []CurrencyConfig {
	return []CurrencyConfig{
		{
			Name:      "USDT",
			Image:     "/assets/USDT.webp",
			Alias:     "USDT",
			FullName:  "Tether USD",
			USDPrice:  decimal.NewFromInt(1),
			PriceSet:  true,
			Precision: 4,
			MinAmount: decimal.NewFromFloat(0.01),
			MaxAmount: decimal.NewFromInt(5000),
		},
		{
			Name:      "Fun",
			Image:     "/assets/Fun.webp",
			Alias:     "Fun",
			FullName:  "Fun Coupon",
			USDPrice:  decimal.Zero,
			PriceSet:  true,
			Precision: 4,
			MinAmount: decimal.NewFromFloat(0.01),
			MaxAmount: decimal.NewFromInt(100000),
		},
	}
}

// CurrencyView is a read-only snapshot of a currency record.
type CurrencyView struct {
	Name          string          `json:"currencyName"`
	Image         string          `json:"currencyImage,omitempty"`
	Alias         string          `json:"aliasCurrencyName"`
	FullName      string          `json:"fullName"`
	Amount        decimal.Decimal `json:"amount"`
	Deducting     decimal.Decimal `json:"deducting"`
	Available     decimal.Decimal `json:"available"`
	USDPrice      decimal.Decimal `json:"usdPrice"`
	UnitAmount    decimal.Decimal `json:"unitAmount"`
	Precision     int             `json:"precision"`
	MinAmount     decimal.Decimal `json:"minAmount"`
	MaxAmount     decimal.Decimal `json:"maxAmount"`
	DisplayStatus int             `json:"displayStatus"`
	Useable       bool            `json:"useable"`
}

// USDValue amount expressed in USD.
func (v CurrencyView) USDValue() decimal.Decimal {
	return v.Amount.Mul(v.USDPrice)
}

// Selection is the active currency chosen for play.
type Selection struct {
	CurrencyName  string `json:"currencyName"`
	CurrencyImage string `json:"currencyImage"`
}

// DisplayStatusEntry reports whether a currency has been surfaced to the user.
type DisplayStatusEntry struct {
	CurrencyName string `json:"currencyName"`
	Status       int    `json:"status"`
}

// WalletSnapshot is the persisted shape of a wallet used for warm starts.
type WalletSnapshot struct {
	Currencies []CurrencyView `json:"currencies"`
	Current    Selection      `json:"current"`
	HideAmount bool           `json:"hide_amount,omitempty"`
}
