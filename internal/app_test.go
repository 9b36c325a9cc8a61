package internal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/azebets/walletsync/config"
	"github.com/azebets/walletsync/internal/clients"
	"github.com/azebets/walletsync/internal/domain"
	"github.com/azebets/walletsync/internal/storage/walletstate"
)

func fakePlatform(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/user/wallet", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("coin") {
		case "USDT":
			_, _ = io.WriteString(w, `{"coin_name":"USDT","balance":"12.5"}`)
		default:
			_, _ = io.WriteString(w, `{"coin_name":"Fun","balance":"300"}`)
		}
	})
	mux.HandleFunc("/api/user/amount/display", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/currency/rates", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"currency":"EUR","rate":"0.5"}]`)
	})
	mux.HandleFunc("/api/currency/usd-prices", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"USDT":"1","Fun":"0"}`)
	})

	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env clients.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			_ = conn.WriteJSON(clients.Envelope{Event: "ack", ID: env.ID})
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, srv *httptest.Server) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		ServerURL:            srv.URL,
		SocketURL:            "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		UserID:               "42",
		PrimaryCurrency:      "USDT",
		DisplayCurrencies:    []string{"USDT", "Fun"},
		TrackedCurrencies:    []string{"Fun", "USDT"},
		Currencies:           domain.DefaultCurrencies(),
		DeductionTimeout:     time.Second,
		ResyncInterval:       time.Hour,
		RequestTimeout:       time.Second,
		AckTimeout:           time.Second,
		CommandRetries:       1,
		CommandRetryInterval: time.Millisecond,
		LocaleCurrency:       "USD",
		EnableLocaleCurrency: true,
		PreferredFiat:        "USD",
		WebAddr:              "127.0.0.1:0",
		JournalDir:           dir + "/journal",
		StateDir:             dir + "/state",
		Games:                []string{"hilo"},
	}
}

func TestApp_RunSyncsAndPersists(t *testing.T) {
	srv := fakePlatform(t)
	conf := testConfig(t, srv)

	app, err := NewApp(conf, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return app.Wallet().Available("USDT").Equal(decimal.RequireFromString("12.5"))
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return app.Wallet().Rates().Find("EUR").Equal(decimal.RequireFromString("0.5"))
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := app.Session("hilo")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	s, _ := app.Session("hilo")
	id, err := s.PlaceBet(ctx, decimal.NewFromInt(2), "USDT", nil)
	require.NoError(t, err)
	assert.True(t, app.Wallet().Available("USDT").Equal(decimal.RequireFromString("10.5")))
	s.ResolveBet(id)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}

	store, err := walletstate.NewStore(conf.StateDir, conf.UserID)
	require.NoError(t, err)
	_, err = os.Stat(store.Path())
	require.NoError(t, err)

	st, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "USDT", st.Wallet.Current.CurrencyName)

	var names []string
	for _, c := range st.Wallet.Currencies {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"USDT", "Fun"}, names)
}

func TestApp_RestoresWarmState(t *testing.T) {
	srv := fakePlatform(t)
	conf := testConfig(t, srv)
	conf.SocketURL = ""

	store, err := walletstate.NewStore(conf.StateDir, conf.UserID)
	require.NoError(t, err)
	require.NoError(t, store.Save(walletstate.State{
		SavedAt: time.Now(),
		Wallet: domain.WalletSnapshot{
			Currencies: []domain.CurrencyView{{Name: "USDT", Amount: decimal.NewFromInt(99)}},
			Current:    domain.Selection{CurrencyName: "USDT"},
			HideAmount: true,
		},
	}))

	app, err := NewApp(conf, nil)
	require.NoError(t, err)
	app.restore()
	assert.True(t, app.Wallet().HideAmount())
	assert.True(t, app.Wallet().Available("USDT").Equal(decimal.NewFromInt(99)))
	require.NoError(t, app.journal.Close())
}

func TestWalletConfig(t *testing.T) {
	conf := config.Config{
		PrimaryCurrency:   "Fun",
		Currencies:        domain.DefaultCurrencies(),
		TrackedCurrencies: []string{"Fun"},
		DisplayCurrencies: []string{"Fun"},
		DeductionTimeout:  3 * time.Second,
		PreferredFiat:     "EUR",
	}
	wc := WalletConfig(conf)
	assert.Equal(t, "Fun", wc.Primary.CurrencyName)
	assert.Equal(t, "/assets/Fun.webp", wc.Primary.CurrencyImage)
	assert.Equal(t, []string{"Fun"}, wc.Tracked)
	assert.Equal(t, 3*time.Second, wc.DeductionTimeout)
	assert.Equal(t, "EUR", wc.PreferredFiat)
}
