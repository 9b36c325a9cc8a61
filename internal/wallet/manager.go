// Package wallet keeps client-side multi-currency balances reconciled with
// server-pushed events. Optimistic debits for in-flight bets are tracked in a
// deduction ledger and superseded whenever the server confirms a balance.
package wallet

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/azebets/walletsync/internal/domain"
	"github.com/azebets/walletsync/internal/events"
)

var (
	// ErrUnknownCurrency is returned by operations naming a currency the wallet never observed.
	ErrUnknownCurrency = errors.New("unknown currency")
	// ErrSyncInProgress is returned when a sync is requested while another one runs.
	ErrSyncInProgress = errors.New("wallet sync already in progress")
	// ErrNoFetcher is returned by SyncData when the manager has no balance source.
	ErrNoFetcher = errors.New("wallet has no balance fetcher")
)

const (
	defaultDeductionTimeout = 20 * time.Second
	defaultRequestTimeout   = 10 * time.Second
	defaultResyncInterval   = 16 * time.Minute
	// precision reported for currencies the wallet does not know
	unknownPrecision = 8
)

// BalanceFetcher fetches the confirmed balance of one coin.
type BalanceFetcher interface {
	FetchWallet(ctx context.Context, coin string) (domain.WalletBalance, error)
}

// FavoriteUpdater stores which currencies the user has seen.
type FavoriteUpdater interface {
	UpdateDisplayStatus(ctx context.Context, statuses []domain.DisplayStatusEntry) error
}

// PriceFetcher returns USD prices keyed by currency name.
type PriceFetcher interface {
	FetchUSDPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// Config holds the wallet behaviour settings.
type Config struct {
	// Primary is the selection used until something else is chosen.
	Primary domain.Selection
	// Currencies are presets applied whenever a currency is first observed.
	Currencies []domain.CurrencyConfig
	// Tracked currencies are fetched on every sync.
	Tracked []string
	// DisplayCurrencies have their available balance pushed to subscribers.
	DisplayCurrencies []string
	DeductionTimeout  time.Duration
	RequestTimeout    time.Duration
	ResyncInterval    time.Duration

	LocaleCurrency       string
	EnableLocaleCurrency bool
	PreferredFiat        string
}

// DefaultConfig returns the platform defaults: USDT primary, USDT and Fun tracked.
func DefaultConfig() Config {
	return Config{
		Primary:              domain.Selection{CurrencyName: "USDT", CurrencyImage: "/assets/USDT.webp"},
		Currencies:           domain.DefaultCurrencies(),
		Tracked:              []string{"Fun", "USDT"},
		DisplayCurrencies:    []string{"USDT", "Fun"},
		DeductionTimeout:     defaultDeductionTimeout,
		RequestTimeout:       defaultRequestTimeout,
		ResyncInterval:       defaultResyncInterval,
		LocaleCurrency:       "USD",
		EnableLocaleCurrency: true,
		PreferredFiat:        "USD",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Primary.CurrencyName == "" {
		c.Primary = def.Primary
	}
	if c.DeductionTimeout < 0 {
		c.DeductionTimeout = 0
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = def.ResyncInterval
	}
	if c.LocaleCurrency == "" {
		c.LocaleCurrency = def.LocaleCurrency
	}
	if c.PreferredFiat == "" {
		c.PreferredFiat = def.PreferredFiat
	}
	return c
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithFetcher sets the balance source used by SyncData.
func WithFetcher(f BalanceFetcher) Option {
	return func(m *Manager) {
		m.fetcher = f
	}
}

// WithFavoriteUpdater sets the collaborator notified when a currency is first seen.
func WithFavoriteUpdater(f FavoriteUpdater) Option {
	return func(m *Manager) {
		m.favorites = f
	}
}

// WithPriceFetcher sets the USD price source used by the periodic resync.
func WithPriceFetcher(f PriceFetcher) Option {
	return func(m *Manager) {
		m.prices = f
	}
}

// WithBroadcaster shares an existing broadcaster instead of creating one.
func WithBroadcaster(b *events.Broadcaster) Option {
	return func(m *Manager) {
		if b != nil {
			m.events = b
		}
	}
}

// WithClock overrides the time source used for deduction ids and event stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager owns the currency records and the deduction ledger of one session.
// All methods are safe for concurrent use.
type Manager struct {
	mu sync.RWMutex

	conf    Config
	presets map[string]domain.CurrencyConfig
	display map[string]struct{}

	list []*Currency
	dict map[string]*Currency

	ledger map[domain.DeductionID]*entry
	lastID domain.DeductionID

	current       domain.Selection
	isFirstSync   bool
	hideAmount    bool
	rates         domain.Rates
	preferredFiat string

	syncing atomic.Bool

	events    *events.Broadcaster
	fetcher   BalanceFetcher
	favorites FavoriteUpdater
	prices    PriceFetcher
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a manager holding only the primary currency.
func New(conf Config, opts ...Option) *Manager {
	conf = conf.withDefaults()

	m := &Manager{
		conf:          conf,
		presets:       make(map[string]domain.CurrencyConfig, len(conf.Currencies)),
		display:       make(map[string]struct{}, len(conf.DisplayCurrencies)),
		dict:          make(map[string]*Currency),
		ledger:        make(map[domain.DeductionID]*entry),
		lastID:        -1,
		current:       conf.Primary,
		isFirstSync:   true,
		preferredFiat: conf.PreferredFiat,
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, c := range conf.Currencies {
		m.presets[c.Name] = c
	}
	for _, name := range conf.DisplayCurrencies {
		m.display[name] = struct{}{}
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.events == nil {
		m.events = events.NewBroadcaster(0)
	}

	primary := m.presetFor(conf.Primary.CurrencyName)
	if primary.Image == "" {
		primary.Image = conf.Primary.CurrencyImage
	}
	m.addLocked(primary)

	return m
}

// Subscribe registers an observer of wallet events. The returned function
// ends the subscription.
func (m *Manager) Subscribe() (<-chan domain.WalletEvent, func()) {
	return m.events.Subscribe()
}

// AddCurrency registers a currency record. Names are unique: adding a name
// that already exists leaves the existing record untouched and returns false.
func (m *Manager) AddCurrency(cfg domain.CurrencyConfig) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.Name == "" {
		return false
	}
	if _, ok := m.dict[cfg.Name]; ok {
		return false
	}
	m.addLocked(cfg)
	return true
}

// Currencies returns the records in display order.
func (m *Manager) Currencies() []domain.CurrencyView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.CurrencyView, 0, len(m.list))
	for _, c := range m.list {
		out = append(out, c.View())
	}
	return out
}

// Currency returns the record for name.
func (m *Manager) Currency(name string) (domain.CurrencyView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.dict[name]
	if !ok {
		return domain.CurrencyView{}, false
	}
	return c.View(), true
}

// Available returns the available balance of name, zero when unknown.
func (m *Manager) Available(name string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.dict[name]; ok {
		return c.Available()
	}
	return decimal.Zero
}

// ConfirmBalance sets a server-confirmed amount for name. Outstanding
// deductions of name stop counting against the balance.
func (m *Manager) ConfirmBalance(name string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.dict[name]
	if !ok {
		return errors.Wrapf(ErrUnknownCurrency, "confirm balance %s", name)
	}
	m.confirmLocked(c, amount)
	m.sortLocked()
	return nil
}

// SetUseable marks a currency enabled or disabled upstream.
func (m *Manager) SetUseable(name string, useable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.dict[name]
	if !ok {
		return errors.Wrapf(ErrUnknownCurrency, "set useable %s", name)
	}
	c.useable = useable
	return nil
}

// Current returns the active currency selection.
func (m *Manager) Current() domain.Selection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// SetCurrent replaces the active selection.
func (m *Manager) SetCurrent(sel domain.Selection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCurrentLocked(sel)
}

// SetUnsafeCurrency selects name when known, otherwise the first listed currency.
func (m *Manager) SetUnsafeCurrency(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.dict[name]; ok {
		m.setCurrentLocked(domain.Selection{CurrencyName: c.name, CurrencyImage: c.image})
		return
	}
	if len(m.list) > 0 {
		first := m.list[0]
		m.setCurrentLocked(domain.Selection{CurrencyName: first.name, CurrencyImage: first.image})
	}
}

// SelectFundedCurrency switches away from an empty current currency to the
// first listed currency holding a positive amount.
func (m *Manager) SelectFundedCurrency() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.dict[m.current.CurrencyName]; ok && c.amount.IsPositive() {
		return
	}
	for _, c := range m.list {
		if c.amount.IsPositive() {
			m.setCurrentLocked(domain.Selection{CurrencyName: c.name, CurrencyImage: c.image})
			return
		}
	}
}

// SetRates stores a snapshot of fiat exchange rates.
func (m *Manager) SetRates(rates domain.Rates) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates = rates.Clone()
}

// Rates returns the current exchange rate snapshot.
func (m *Manager) Rates() domain.Rates {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rates.Clone()
}

// SetPreferredFiat sets the default fiat used by conversions.
func (m *Manager) SetPreferredFiat(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code != "" {
		m.preferredFiat = code
	}
}

// PreferredFiat returns the default fiat code.
func (m *Manager) PreferredFiat() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.preferredFiat
}

// SetHideAmount toggles whether the UI masks balances.
func (m *Manager) SetHideAmount(hide bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hideAmount = hide
}

// HideAmount reports whether balances are masked.
func (m *Manager) HideAmount() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hideAmount
}

// SetUSDPrices refreshes unit prices of known currencies and re-sorts the list.
func (m *Manager) SetUSDPrices(prices map[string]decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, price := range prices {
		c, ok := m.dict[name]
		if !ok || price.IsNegative() {
			continue
		}
		c.usdPrice = price
	}
	m.sortLocked()
}

// OnWalletPush applies a confirmed balance pushed by a game socket or a
// wallet store: known currencies get their amount confirmed and their
// limits refreshed, unknown ones are registered.
func (m *Manager) OnWalletPush(b domain.WalletBalance) {
	if b.CoinName == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyBalanceLocked(b)
	m.sortLocked()
}

// OnActiveWallet applies a push from the user's active wallet: the balance is
// confirmed like OnWalletPush and the pushed coin becomes the current one.
func (m *Manager) OnActiveWallet(b domain.WalletBalance) {
	if b.CoinName == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyBalanceLocked(b)
	m.sortLocked()
	c := m.dict[b.CoinName]
	m.setCurrentLocked(domain.Selection{CurrencyName: c.name, CurrencyImage: c.image})
}

// OnBalanceChange bridges a minor-unit balance push into the deduction ledger.
// The first change ever observed for a currency marks it as shown and
// refreshes the user's favorite coins in the background.
func (m *Manager) OnBalanceChange(ch domain.BalanceChange) error {
	m.mu.Lock()
	c, ok := m.dict[ch.CurrencyName]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("balance change for unknown currency", zap.String("currency", ch.CurrencyName))
		return errors.Wrapf(ErrUnknownCurrency, "balance change %s", ch.CurrencyName)
	}

	m.updateLocked(domain.DeductionUpdate{
		ID:       ch.ReferenceID,
		Amount:   unitsToAmount(ch.Change, c.unitAmount),
		Currency: ch.CurrencyName,
		Balance:  unitsToAmount(ch.Amount, c.unitAmount),
	})

	var statuses []domain.DisplayStatusEntry
	if c.displayStatus == domain.DisplayStatusNew {
		c.displayStatus = domain.DisplayStatusShown
		statuses = m.displayStatusesLocked()
	}
	m.mu.Unlock()

	if statuses != nil {
		go m.updateFavoriteCoin(statuses)
	}
	return nil
}

// Export returns a snapshot suitable for persisting.
func (m *Manager) Export() domain.WalletSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	views := make([]domain.CurrencyView, 0, len(m.list))
	for _, c := range m.list {
		views = append(views, c.View())
	}
	return domain.WalletSnapshot{Currencies: views, Current: m.current, HideAmount: m.hideAmount}
}

// Restore seeds the wallet from a persisted snapshot. The first sync still
// replaces the whole currency set.
func (m *Manager) Restore(s domain.WalletSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range s.Currencies {
		if v.Name == "" {
			continue
		}
		c, ok := m.dict[v.Name]
		if !ok {
			cfg := m.presetFor(v.Name)
			cfg.Image = firstNonEmpty(v.Image, cfg.Image)
			cfg.DisplayStatus = v.DisplayStatus
			c = m.addLocked(cfg)
		}
		m.confirmLocked(c, v.Amount)
		c.displayStatus = v.DisplayStatus
	}
	m.hideAmount = s.HideAmount
	if _, ok := m.dict[s.Current.CurrencyName]; ok {
		m.current = s.Current
	}
	m.sortLocked()
}

func (m *Manager) updateFavoriteCoin(statuses []domain.DisplayStatusEntry) {
	if m.favorites == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.conf.RequestTimeout)
	defer cancel()
	if err := m.favorites.UpdateDisplayStatus(ctx, statuses); err != nil {
		m.logger.Warn("failed to update favorite coins", zap.Error(err))
	}
}

func (m *Manager) displayStatusesLocked() []domain.DisplayStatusEntry {
	out := make([]domain.DisplayStatusEntry, 0, len(m.list))
	for _, c := range m.list {
		out = append(out, domain.DisplayStatusEntry{CurrencyName: c.name, Status: c.displayStatus})
	}
	return out
}

func (m *Manager) setCurrentLocked(sel domain.Selection) {
	m.current = sel
	m.events.Publish(domain.WalletEvent{Kind: domain.EventCurrent, Time: m.now(), Currency: sel.CurrencyName, Current: &sel})
	if c, ok := m.dict[sel.CurrencyName]; ok {
		m.events.Publish(domain.NewBalanceEvent(m.now(), c.name, c.amount, c.Available()))
	}
}

// presetFor returns the configured preset for name, or a default config.
func (m *Manager) presetFor(name string) domain.CurrencyConfig {
	if p, ok := m.presets[name]; ok {
		return p
	}
	return domain.CurrencyConfig{Name: name}
}

func (m *Manager) addLocked(cfg domain.CurrencyConfig) *Currency {
	c := newCurrency(cfg, m.currencyChanged)
	m.list = append(m.list, c)
	m.dict[c.name] = c
	return c
}

// applyBalanceLocked confirms a fetched balance into the matching record,
// registering the currency when it was never seen.
func (m *Manager) applyBalanceLocked(b domain.WalletBalance) {
	preset := m.presetFor(b.CoinName)
	if c, ok := m.dict[b.CoinName]; ok {
		c.applyLimits(preset)
		if b.CoinImage != "" {
			c.image = b.CoinImage
		}
		m.confirmLocked(c, b.Balance)
		return
	}
	preset.Amount = b.Balance
	preset.Image = firstNonEmpty(b.CoinImage, preset.Image)
	m.addLocked(preset)
}

// confirmLocked sets a server-confirmed amount. Live deductions of the
// currency stay in the ledger but no longer count against the balance.
func (m *Manager) confirmLocked(c *Currency, amount decimal.Decimal) {
	for _, e := range m.ledger {
		if e.deduction.Currency == c.name {
			e.applied = decimal.Zero
		}
	}
	c.SetAmount(amount)
}

// currencyChanged publishes the available balance of display currencies.
func (m *Manager) currencyChanged(c *Currency) {
	_, display := m.display[c.name]
	if !display && c.name != m.current.CurrencyName {
		return
	}
	m.events.Publish(domain.NewBalanceEvent(m.now(), c.name, c.amount, c.Available()))
}

// sortLocked orders the list by USD value, then by raw amount, descending.
func (m *Manager) sortLocked() {
	sort.SliceStable(m.list, func(i, j int) bool {
		vi, vj := m.list[i].usdValue(), m.list[j].usdValue()
		if !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return m.list[i].amount.GreaterThan(m.list[j].amount)
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
