package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletBalance is a confirmed balance for one coin, as returned by the wallet
// endpoint or pushed by a game socket.
type WalletBalance struct {
	CoinName  string          `json:"coin_name"`
	CoinImage string          `json:"coin_image,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
}

// BalanceChange is a low-level balance push expressed in the currency's minor unit.
type BalanceChange struct {
	Amount       decimal.Decimal `json:"amount"`
	CurrencyName string          `json:"currencyName"`
	Change       decimal.Decimal `json:"change"`
	ReferenceID  DeductionID     `json:"frontgroundId"`
}

// AuthState is the currently authenticated user. Zero value means logged out.
type AuthState struct {
	UserID string
	Token  string
}

// LoggedIn reports whether the state carries a user.
func (a AuthState) LoggedIn() bool {
	return a.UserID != ""
}

// WalletEventKind classifies wallet notifications.
type WalletEventKind string

const (
	// EventDeduction a deduction was observed (deleted or synthesized).
	EventDeduction WalletEventKind = "deduction"
	// EventBalance the available balance of a display currency changed.
	EventBalance WalletEventKind = "balance"
	// EventCurrent the active currency selection changed.
	EventCurrent WalletEventKind = "current"
	// EventSync a sync replaced or merged the currency set.
	EventSync WalletEventKind = "sync"
)

// WalletEvent is published to wallet subscribers.
// Amounts are strings so UI consumers never see float drift.
type WalletEvent struct {
	Kind      WalletEventKind `json:"kind"`
	Time      time.Time       `json:"ts"`
	Currency  string          `json:"currency,omitempty"`
	Available string          `json:"available,omitempty"`
	Amount    string          `json:"amount,omitempty"`
	Deduction *Deduction      `json:"deduction,omitempty"`
	Current   *Selection      `json:"current,omitempty"`
}

// NewBalanceEvent creates an EventBalance notification.
func NewBalanceEvent(ts time.Time, currency string, amount, available decimal.Decimal) WalletEvent {
	return WalletEvent{
		Kind:      EventBalance,
		Time:      ts,
		Currency:  currency,
		Amount:    amount.String(),
		Available: available.String(),
	}
}

// NewDeductionEvent creates an EventDeduction notification.
func NewDeductionEvent(ts time.Time, d Deduction) WalletEvent {
	return WalletEvent{
		Kind:      EventDeduction,
		Time:      ts,
		Currency:  d.Currency,
		Amount:    d.Amount.String(),
		Deduction: &d,
	}
}

// WalletEventRecord bundles an event with its journal index.
type WalletEventRecord struct {
	Index uint64
	Event WalletEvent
}
