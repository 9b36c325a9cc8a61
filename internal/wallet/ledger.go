package wallet

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/azebets/walletsync/internal/domain"
	"github.com/azebets/walletsync/internal/metrics"
)

// entry is a live ledger record. applied is the part of the amount currently
// counted in the currency's deducting total; a confirmed balance absorbs it.
type entry struct {
	deduction domain.Deduction
	applied   decimal.Decimal
	timer     *time.Timer
}

// StaticDeductionID returns an id from the server-originated space.
func StaticDeductionID(offset int64) domain.DeductionID {
	return domain.DeductionIDWindow + domain.DeductionID(offset)
}

// Deduct registers a normal deduction against the current currency with the
// configured expiry.
func (m *Manager) Deduct(amount decimal.Decimal) (domain.DeductionID, error) {
	return m.CreateDeduction(amount, "", domain.DeductionNormal, m.conf.DeductionTimeout)
}

// CreateDeduction registers an optimistic debit and applies it to the
// currency immediately. An empty currency means the current one. A positive
// timeout removes the entry once it elapses without confirmation.
func (m *Manager) CreateDeduction(amount decimal.Decimal, currency string, typ domain.DeductionType, timeout time.Duration) (domain.DeductionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if currency == "" {
		currency = m.current.CurrencyName
	}
	if typ == "" {
		typ = domain.DeductionNormal
	}
	c, ok := m.dict[currency]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownCurrency, "create deduction in %s", currency)
	}

	id := m.nextIDLocked()
	e := &entry{
		deduction: domain.Deduction{
			ID:       id,
			Amount:   amount,
			Currency: currency,
			Type:     typ,
			Balance:  domain.UnknownBalance,
		},
		applied: amount,
	}
	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, func() { m.expire(id, e) })
	}
	m.ledger[id] = e

	c.AddDeduction(amount)

	metrics.DeductionsCreated.WithLabelValues(string(typ)).Inc()
	metrics.LiveDeductions.Set(float64(len(m.ledger)))
	m.logger.Debug("deduction created",
		zap.Int64("id", int64(id)),
		zap.String("currency", currency),
		zap.String("amount", amount.String()),
		zap.String("type", string(typ)),
	)
	return id, nil
}

// UpdateDeduction applies a server acknowledgement. A known entry accumulates
// the amount and records the balance; a confirmed entry is then removed. An
// unknown id in the server space is reported as a synthetic deduction. A known
// balance always becomes the currency amount.
func (m *Manager) UpdateDeduction(u domain.DeductionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(u)
}

func (m *Manager) updateLocked(u domain.DeductionUpdate) error {
	c, ok := m.dict[u.Currency]
	if !ok {
		return errors.Wrapf(ErrUnknownCurrency, "update deduction %d", u.ID)
	}

	if e, found := m.ledger[u.ID]; found {
		if delta := appliedDelta(e.applied, u.Amount); !delta.IsZero() {
			c.AddDeduction(delta)
			e.applied = e.applied.Add(delta)
		}
		e.deduction.Amount = e.deduction.Amount.Add(u.Amount)
		e.deduction.Balance = u.Balance
		if e.deduction.Confirmed {
			m.deleteLocked(u.ID, true, metrics.ReasonConfirmed)
		}
	} else if u.ID.IsServerOriginated() {
		d := domain.Deduction{
			ID:        u.ID,
			Amount:    u.Amount,
			Currency:  u.Currency,
			Type:      domain.DeductionShow,
			Confirmed: true,
			Balance:   u.Balance,
			Synthetic: true,
		}
		metrics.SyntheticDeductions.Inc()
		m.events.Publish(domain.NewDeductionEvent(m.now(), d))
	}

	if !u.Balance.Equal(domain.UnknownBalance) {
		c.overwriteAmount(u.Balance)
	}
	return nil
}

// appliedDelta clamps an update so the applied portion of an entry never
// crosses zero. Whatever a confirmed balance already absorbed is not counted
// against the currency a second time.
func appliedDelta(applied, delta decimal.Decimal) decimal.Decimal {
	next := applied.Add(delta)
	if (applied.Sign() >= 0 && next.IsNegative()) || (applied.IsNegative() && next.IsPositive()) {
		return applied.Neg()
	}
	return delta
}

// ResolveDeduction records that the outcome of a deduction is known. With
// notify set and no balance reported yet the entry is marked confirmed and
// waits for the balance push; otherwise it is deleted.
func (m *Manager) ResolveDeduction(id domain.DeductionID, notify bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ledger[id]
	if !ok {
		return
	}
	if notify && !e.deduction.HasBalance() {
		e.deduction.Confirmed = true
		return
	}
	m.deleteLocked(id, notify, metrics.ReasonConfirmed)
}

// CancelDeductionsByType removes every entry of typ without notifying and
// returns how many were removed.
func (m *Manager) CancelDeductionsByType(typ domain.DeductionType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []domain.DeductionID
	for id, e := range m.ledger {
		if e.deduction.Type == typ {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		m.deleteLocked(id, false, metrics.ReasonCancelled)
	}
	return len(ids)
}

// DeleteDeduction removes an entry and stops its timer. Deleting an absent id
// does nothing and reports false.
func (m *Manager) DeleteDeduction(id domain.DeductionID, notify bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id, notify, metrics.ReasonDeleted)
}

// Deductions returns the live entries ordered by id.
func (m *Manager) Deductions() []domain.Deduction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Deduction, 0, len(m.ledger))
	for _, e := range m.ledger {
		out = append(out, e.deduction)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Deduction returns the live entry for id.
func (m *Manager) Deduction(id domain.DeductionID) (domain.Deduction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.ledger[id]
	if !ok {
		return domain.Deduction{}, false
	}
	return e.deduction, true
}

// expire runs on the timer goroutine. The entry pointer guards against a
// newer entry that reused the id after the original was deleted.
func (m *Manager) expire(id domain.DeductionID, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ledger[id] != e {
		return
	}
	m.logger.Debug("deduction expired", zap.Int64("id", int64(id)))
	m.deleteLocked(id, true, metrics.ReasonExpired)
}

func (m *Manager) deleteLocked(id domain.DeductionID, notify bool, reason string) bool {
	e, ok := m.ledger[id]
	if !ok {
		return false
	}
	delete(m.ledger, id)
	if e.timer != nil {
		e.timer.Stop()
	}
	if !e.applied.IsZero() {
		if c, ok := m.dict[e.deduction.Currency]; ok {
			c.AddDeduction(e.applied.Neg())
		}
	}

	metrics.DeductionsRemoved.WithLabelValues(reason).Inc()
	metrics.LiveDeductions.Set(float64(len(m.ledger)))
	if notify {
		m.events.Publish(domain.NewDeductionEvent(m.now(), e.deduction))
	}
	return true
}

// nextIDLocked derives an id from the clock, bumped past the last issued id
// and any id still live in the ledger.
func (m *Manager) nextIDLocked() domain.DeductionID {
	id := domain.DeductionID(m.now().UnixMilli()) % domain.DeductionIDWindow
	if id == m.lastID {
		id++
	}
	for {
		if id >= domain.DeductionIDWindow {
			id = 0
		}
		if _, taken := m.ledger[id]; !taken {
			break
		}
		id++
	}
	m.lastID = id
	return id
}
