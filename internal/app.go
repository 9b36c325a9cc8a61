package internal

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/azebets/walletsync/config"
	"github.com/azebets/walletsync/internal/clients"
	"github.com/azebets/walletsync/internal/domain"
	"github.com/azebets/walletsync/internal/events"
	"github.com/azebets/walletsync/internal/services/gamesession"
	"github.com/azebets/walletsync/internal/storage/walletjournal"
	"github.com/azebets/walletsync/internal/storage/walletstate"
	"github.com/azebets/walletsync/internal/wallet"
	"github.com/azebets/walletsync/internal/web"
	"github.com/azebets/walletsync/pkg/retrier"
)

const eventBuffer = 64

// App owns the wallet and everything feeding it.
type App struct {
	conf   config.Config
	logger *zap.Logger

	api     *clients.APIClient
	wallet  *wallet.Manager
	journal *walletjournal.WALStore
	state   *walletstate.Store
	web     *web.Server

	auth chan domain.AuthState

	mu       sync.RWMutex
	sessions map[string]*gamesession.Session
}

// WalletConfig maps the process config onto the wallet manager config.
func WalletConfig(conf config.Config) wallet.Config {
	wc := wallet.DefaultConfig()
	wc.Currencies = conf.Currencies
	wc.Primary = domain.Selection{CurrencyName: conf.PrimaryCurrency}
	for _, c := range conf.Currencies {
		if c.Name == conf.PrimaryCurrency {
			wc.Primary.CurrencyImage = c.Image
		}
	}
	wc.Tracked = conf.TrackedCurrencies
	wc.DisplayCurrencies = conf.DisplayCurrencies
	wc.DeductionTimeout = conf.DeductionTimeout
	wc.RequestTimeout = conf.RequestTimeout
	wc.ResyncInterval = conf.ResyncInterval
	wc.LocaleCurrency = conf.LocaleCurrency
	wc.EnableLocaleCurrency = conf.EnableLocaleCurrency
	wc.PreferredFiat = conf.PreferredFiat
	return wc
}

// NewApp builds the wallet and its collaborators from conf.
func NewApp(conf config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	api := clients.NewAPIClient(conf.ServerURL, conf.Token, conf.RequestTimeout)
	w := wallet.New(WalletConfig(conf),
		wallet.WithLogger(logger.Named("wallet")),
		wallet.WithFetcher(api),
		wallet.WithFavoriteUpdater(api),
		wallet.WithPriceFetcher(api),
		wallet.WithBroadcaster(events.NewBroadcaster(eventBuffer)),
	)

	journal, err := walletjournal.NewWALStore(conf.JournalDir)
	if err != nil {
		return nil, err
	}
	state, err := walletstate.NewStore(conf.StateDir, conf.UserID)
	if err != nil {
		_ = journal.Close()
		return nil, err
	}

	return &App{
		conf:     conf,
		logger:   logger,
		api:      api,
		wallet:   w,
		journal:  journal,
		state:    state,
		web:      web.NewServer(conf.WebAddr, w, journal, logger.Named("web")),
		auth:     make(chan domain.AuthState, 1),
		sessions: make(map[string]*gamesession.Session),
	}, nil
}

// Wallet returns the wallet manager.
func (a *App) Wallet() *wallet.Manager {
	return a.wallet
}

// Session returns the live session of game, if connected.
func (a *App) Session(game string) (*gamesession.Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[game]
	return s, ok
}

// SetAuth reports a login or logout. Only the latest pending state is kept.
func (a *App) SetAuth(st domain.AuthState) {
	a.api.SetToken(st.Token)
	for {
		select {
		case a.auth <- st:
			return
		default:
		}
		select {
		case <-a.auth:
		default:
		}
	}
}

// Run restores warm state and runs every loop until ctx is cancelled or one
// of them fails. The wallet snapshot is saved on the way out.
func (a *App) Run(ctx context.Context) error {
	a.restore()
	defer a.shutdown()

	g, gctx := errgroup.WithContext(ctx)

	walletEvents, unsubscribe := a.wallet.Subscribe()
	defer unsubscribe()
	g.Go(func() error { return a.journalEvents(gctx, walletEvents) })

	g.Go(func() error {
		if a.conf.TLSDomain != "" {
			return a.web.StartWithAutoTLS(gctx, strings.Split(a.conf.TLSDomain, ","), "")
		}
		return a.web.Start(gctx)
	})
	g.Go(func() error { return a.wallet.WatchAuth(gctx, a.auth) })
	g.Go(func() error { return a.wallet.RunResync(gctx, a.conf.ResyncInterval) })
	g.Go(func() error { return a.refreshRates(gctx) })

	if a.conf.SocketURL != "" {
		g.Go(func() error { return a.runRealtime(gctx) })
	}

	a.logger.Info("walletsync started",
		zap.String("server", a.conf.ServerURL),
		zap.String("primary", a.conf.PrimaryCurrency),
		zap.Strings("games", a.conf.Games),
	)
	return g.Wait()
}

func (a *App) restore() {
	st, err := a.state.Load()
	if err != nil {
		a.logger.Warn("failed to load wallet state", zap.Error(err))
		return
	}
	if st == nil {
		return
	}
	a.wallet.Restore(st.Wallet)
	a.logger.Info("wallet state restored", zap.Time("saved_at", st.SavedAt), zap.Int("currencies", len(st.Wallet.Currencies)))
}

func (a *App) shutdown() {
	if err := a.state.Save(walletstate.State{SavedAt: time.Now(), Wallet: a.wallet.Export()}); err != nil {
		a.logger.Error("failed to save wallet state", zap.Error(err))
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Error("failed to close wallet journal", zap.Error(err))
	}
}

func (a *App) journalEvents(ctx context.Context, in <-chan domain.WalletEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := a.journal.Save(e); err != nil {
				a.logger.Warn("failed to journal wallet event", zap.String("kind", string(e.Kind)), zap.Error(err))
			}
		}
	}
}

func (a *App) refreshRates(ctx context.Context) error {
	ticker := time.NewTicker(a.conf.ResyncInterval)
	defer ticker.Stop()
	for {
		rates, err := a.api.FetchRates(ctx)
		if err != nil {
			a.logger.Warn("failed to fetch exchange rates", zap.Error(err))
		} else {
			a.wallet.SetRates(rates)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// runRealtime keeps a realtime channel open, redialing with backoff when the
// connection drops. Sessions are rebuilt for every connection.
func (a *App) runRealtime(ctx context.Context) error {
	header := http.Header{}
	if a.conf.Token != "" {
		header.Set("Authorization", "Bearer "+a.conf.Token)
	}
	logger := a.logger.Named("realtime")
	dialer := retrier.New(
		retrier.WithMaxRetries(a.conf.CommandRetries),
		retrier.WithInitialInterval(a.conf.CommandRetryInterval),
		retrier.WithOnRetry(func(attempt int, err error) {
			logger.Warn("realtime dial failed", zap.Int("attempt", attempt), zap.Error(err))
		}),
	)

	for {
		ch, err := retrier.DoWithData(dialer, ctx, func(ctx context.Context) (*clients.RealtimeChannel, error) {
			return clients.DialRealtime(ctx, a.conf.SocketURL, header, a.conf.AckTimeout, logger)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "connect realtime channel")
		}

		a.bindSessions(ch)
		logger.Info("realtime channel connected", zap.String("url", a.conf.SocketURL))

		err = ch.Listen(ctx)
		a.releaseSessions()
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("realtime channel dropped, reconnecting", zap.Error(err))
	}
}

func (a *App) bindSessions(ch *clients.RealtimeChannel) {
	gamesession.BindBalanceChanges(ch, a.wallet, a.conf.UserID, a.logger)

	sessions := make(map[string]*gamesession.Session, len(a.conf.Games))
	for _, game := range a.conf.Games {
		sessions[game] = gamesession.New(game, a.conf.UserID, ch, a.wallet,
			gamesession.WithLogger(a.logger.Named("game")),
			gamesession.WithHistory(a.api),
			gamesession.WithDeductionTimeout(a.conf.DeductionTimeout),
			gamesession.WithRetryPolicy(
				retrier.WithMaxRetries(a.conf.CommandRetries),
				retrier.WithInitialInterval(a.conf.CommandRetryInterval),
			),
		)
	}

	a.mu.Lock()
	a.sessions = sessions
	a.mu.Unlock()
}

// releaseSessions drops the sessions of a closed channel and returns the
// funds held by their unanswered bets.
func (a *App) releaseSessions() {
	a.mu.Lock()
	old := a.sessions
	a.sessions = make(map[string]*gamesession.Session)
	a.mu.Unlock()

	for game, s := range old {
		if n := s.CancelPending(); n > 0 {
			a.logger.Info("released pending bets", zap.String("game", game), zap.Int("count", n))
		}
	}
}
