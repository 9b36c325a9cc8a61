package domain

import "github.com/shopspring/decimal"

// DeductionID identifies an optimistic debit. Locally issued ids are below
// DeductionIDWindow; ids at or above it originate on the server.
type DeductionID int64

// DeductionIDWindow bounds the locally issued id space.
const DeductionIDWindow DeductionID = 2_073_600_000

// IsServerOriginated reports whether the id belongs to the server id space.
func (id DeductionID) IsServerOriginated() bool {
	return id >= DeductionIDWindow
}

// DeductionType tags a class of deductions so they can be cancelled together.
type DeductionType string

const (
	DeductionNormal DeductionType = "normal"
	DeductionShow   DeductionType = "show"
)

// UnknownBalance is the post-deduction balance before the server reports one.
var UnknownBalance = decimal.NewFromInt(-1)

// Deduction is a snapshot of a ledger entry handed to observers.
type Deduction struct {
	ID        DeductionID     `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Type      DeductionType   `json:"type"`
	Confirmed bool            `json:"confirmed"`
	Balance   decimal.Decimal `json:"balance"`
	// Synthetic is set for entries created from a server push the client never issued.
	Synthetic bool `json:"synthetic,omitempty"`
}

// HasBalance reports whether the server already reported a balance.
func (d Deduction) HasBalance() bool {
	return !d.Balance.Equal(UnknownBalance)
}

// DeductionUpdate is a server acknowledgement for a deduction.
type DeductionUpdate struct {
	ID       DeductionID
	Amount   decimal.Decimal
	Currency string
	Balance  decimal.Decimal
}
