package wallet

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/azebets/walletsync/internal/domain"
	"github.com/azebets/walletsync/internal/metrics"
)

// SyncData fetches the confirmed balance of every tracked currency and merges
// the result. The first successful sync replaces the whole currency set,
// later ones update matching records and append unseen ones. A failed fetch
// leaves the wallet untouched. Concurrent calls return ErrSyncInProgress.
func (m *Manager) SyncData(ctx context.Context) error {
	if m.fetcher == nil {
		return ErrNoFetcher
	}
	if !m.syncing.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer m.syncing.Store(false)

	start := time.Now()
	balances, err := m.fetchBalances(ctx)
	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Syncs.WithLabelValues("failed").Inc()
		m.logger.Warn("wallet sync failed", zap.Error(err))
		return err
	}

	m.mu.Lock()
	first := m.isFirstSync
	if first {
		m.replaceLocked(balances)
		m.isFirstSync = false
	} else {
		for _, b := range balances {
			m.applyBalanceLocked(b)
		}
	}
	m.sortLocked()
	m.events.Publish(domain.WalletEvent{Kind: domain.EventSync, Time: m.now()})
	m.mu.Unlock()

	metrics.Syncs.WithLabelValues("ok").Inc()
	m.logger.Debug("wallet synced", zap.Int("currencies", len(balances)), zap.Bool("replaced", first))
	return nil
}

// RunResync syncs immediately and then on every interval until ctx is done.
// A non-positive interval uses the configured one.
func (m *Manager) RunResync(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = m.conf.ResyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.resyncOnce(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// WatchAuth syncs on every login transition. Logging out re-arms the
// replace-on-first-sync behaviour for the next user.
func (m *Manager) WatchAuth(ctx context.Context, states <-chan domain.AuthState) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-states:
			if !ok {
				return nil
			}
			if !st.LoggedIn() {
				m.mu.Lock()
				m.isFirstSync = true
				m.mu.Unlock()
				m.logger.Debug("logged out, next sync replaces the wallet")
				continue
			}
			if err := m.SyncData(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
				m.logger.Warn("sync after login failed", zap.String("user", st.UserID), zap.Error(err))
			}
		}
	}
}

func (m *Manager) resyncOnce(ctx context.Context) {
	if m.prices != nil {
		pctx, cancel := context.WithTimeout(ctx, m.conf.RequestTimeout)
		prices, err := m.prices.FetchUSDPrices(pctx, m.trackedNames())
		cancel()
		if err != nil {
			m.logger.Warn("failed to refresh usd prices", zap.Error(err))
		} else {
			m.SetUSDPrices(prices)
		}
	}
	if m.fetcher == nil {
		return
	}
	if err := m.SyncData(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
		m.logger.Warn("periodic resync failed", zap.Error(err))
	}
}

func (m *Manager) fetchBalances(ctx context.Context) ([]domain.WalletBalance, error) {
	names := m.trackedNames()

	ctx, cancel := context.WithTimeout(ctx, m.conf.RequestTimeout)
	defer cancel()

	out := make([]domain.WalletBalance, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			b, err := m.fetcher.FetchWallet(gctx, name)
			if err != nil {
				return errors.Wrapf(err, "fetch wallet %s", name)
			}
			if b.CoinName == "" {
				b.CoinName = name
			}
			out[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) trackedNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.conf.Tracked) > 0 {
		return append([]string(nil), m.conf.Tracked...)
	}
	names := make([]string, 0, len(m.list))
	for _, c := range m.list {
		names = append(names, c.name)
	}
	return names
}

// replaceLocked swaps the currency set for the fetched balances. Display
// statuses already known survive the swap.
func (m *Manager) replaceLocked(balances []domain.WalletBalance) {
	prev := m.dict
	m.list = make([]*Currency, 0, len(balances))
	m.dict = make(map[string]*Currency, len(balances))
	for _, e := range m.ledger {
		e.applied = decimal.Zero
	}
	for _, b := range balances {
		if _, dup := m.dict[b.CoinName]; dup {
			m.applyBalanceLocked(b)
			continue
		}
		cfg := m.presetFor(b.CoinName)
		cfg.Amount = b.Balance
		cfg.Image = firstNonEmpty(b.CoinImage, cfg.Image)
		if old, ok := prev[b.CoinName]; ok {
			cfg.DisplayStatus = old.displayStatus
			cfg.Image = firstNonEmpty(cfg.Image, old.image)
		}
		c := m.addLocked(cfg)
		c.changed()
	}
}
