package wallet

import (
	"github.com/shopspring/decimal"

	"github.com/azebets/walletsync/internal/domain"
)

// Currency is one currency record: confirmed amount, outstanding optimistic
// debits and display metadata. Records are owned by a Manager, which
// serializes every access; a Currency is not safe for concurrent use.
type Currency struct {
	name          string
	image         string
	alias         string
	fullName      string
	amount        decimal.Decimal
	deducting     decimal.Decimal
	usdPrice      decimal.Decimal
	unitAmount    decimal.Decimal
	precision     int
	minAmount     decimal.Decimal
	maxAmount     decimal.Decimal
	displayStatus int
	useable       bool

	// onChange is called after the available balance may have moved.
	onChange func(*Currency)
}

func newCurrency(cfg domain.CurrencyConfig, onChange func(*Currency)) *Currency {
	cfg = cfg.WithDefaults()
	return &Currency{
		name:          cfg.Name,
		image:         cfg.Image,
		alias:         cfg.Alias,
		fullName:      cfg.FullName,
		amount:        cfg.Amount,
		deducting:     decimal.Zero,
		usdPrice:      cfg.USDPrice,
		unitAmount:    cfg.UnitAmount,
		precision:     cfg.Precision,
		minAmount:     cfg.MinAmount,
		maxAmount:     cfg.MaxAmount,
		displayStatus: cfg.DisplayStatus,
		useable:       !cfg.Disabled,
		onChange:      onChange,
	}
}

// Name returns the unique currency name.
func (c *Currency) Name() string {
	return c.name
}

// SetAmount replaces the amount with a server-confirmed value and drops all
// outstanding optimistic debits.
func (c *Currency) SetAmount(confirmed decimal.Decimal) {
	c.amount = confirmed
	c.deducting = decimal.Zero
	c.changed()
}

// AddDeduction adds delta to the outstanding debits. Negative deltas credit.
func (c *Currency) AddDeduction(delta decimal.Decimal) {
	c.deducting = c.deducting.Add(delta)
	c.changed()
}

// Available is amount minus outstanding debits. A negative result means
// insufficient funds.
func (c *Currency) Available() decimal.Decimal {
	return c.amount.Sub(c.deducting)
}

// View returns a snapshot of the record.
func (c *Currency) View() domain.CurrencyView {
	return domain.CurrencyView{
		Name:          c.name,
		Image:         c.image,
		Alias:         c.alias,
		FullName:      c.fullName,
		Amount:        c.amount,
		Deducting:     c.deducting,
		Available:     c.Available(),
		USDPrice:      c.usdPrice,
		UnitAmount:    c.unitAmount,
		Precision:     c.precision,
		MinAmount:     c.minAmount,
		MaxAmount:     c.maxAmount,
		DisplayStatus: c.displayStatus,
		Useable:       c.useable,
	}
}

// overwriteAmount sets the confirmed amount without touching outstanding debits.
func (c *Currency) overwriteAmount(amount decimal.Decimal) {
	c.amount = amount
	c.changed()
}

// applyLimits refreshes the bet bounds from a preset. Prices are left to
// SetUSDPrices once the record exists.
func (c *Currency) applyLimits(cfg domain.CurrencyConfig) {
	cfg = cfg.WithDefaults()
	c.minAmount = cfg.MinAmount
	c.maxAmount = cfg.MaxAmount
	c.useable = !cfg.Disabled
}

func (c *Currency) usdValue() decimal.Decimal {
	return c.amount.Mul(c.usdPrice)
}

func (c *Currency) changed() {
	if c.onChange != nil {
		c.onChange(c)
	}
}
