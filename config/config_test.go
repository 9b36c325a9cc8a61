package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func parse(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	return Parse(flag.NewFlagSet("test", flag.ContinueOnError), args)
}

func TestParse_YamlDefaults(t *testing.T) {
	t.Setenv(TokenEnv, "secret")
	path := writeConfig(t, "server_url: https://api.example.com/\nuser_id: \"42\"\n")

	conf, err := parse(t, "--config", path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", conf.ServerURL)
	assert.Equal(t, "42", conf.UserID)
	assert.Equal(t, "secret", conf.Token)
	assert.Equal(t, "USDT", conf.PrimaryCurrency)
	assert.Equal(t, []string{"USDT", "Fun"}, conf.DisplayCurrencies)
	assert.Equal(t, []string{"Fun", "USDT"}, conf.TrackedCurrencies)
	assert.Equal(t, 20*time.Second, conf.DeductionTimeout)
	assert.Equal(t, 16*time.Minute, conf.ResyncInterval)
	assert.Equal(t, 10*time.Second, conf.RequestTimeout)
	assert.Equal(t, 5, conf.CommandRetries)
	assert.Equal(t, 500*time.Millisecond, conf.CommandRetryInterval)
	assert.Equal(t, "USD", conf.LocaleCurrency)
	assert.True(t, conf.EnableLocaleCurrency)
	assert.Equal(t, "USD", conf.PreferredFiat)
	assert.Equal(t, ":8080", conf.WebAddr)
	assert.Equal(t, "info", conf.LogLevel)
	assert.Len(t, conf.Currencies, 2)
}

func TestParse_YamlOverrides(t *testing.T) {
	path := writeConfig(t, `
server_url: https://api.example.com
primary_currency: BTC
display_currencies: [BTC]
tracked_currencies: [BTC, USDT]
deduction_timeout: 5s
resync_interval: 1m
command_retries: 0
enable_locale_currency: false
preferred_fiat: eur
games: [hilo, mines]
currencies:
  - name: BTC
    usd_price: "65000.5"
    precision: 8
    min_amount: "0.0001"
    max_amount: "1"
  - name: USDT
    usd_price: "1"
    unit_amount: "1000000"
`)

	conf, err := parse(t, "--config", path)
	require.NoError(t, err)

	assert.Equal(t, "BTC", conf.PrimaryCurrency)
	assert.Equal(t, 5*time.Second, conf.DeductionTimeout)
	assert.Equal(t, time.Minute, conf.ResyncInterval)
	assert.Equal(t, 0, conf.CommandRetries)
	assert.False(t, conf.EnableLocaleCurrency)
	assert.Equal(t, "EUR", conf.PreferredFiat)
	assert.Equal(t, []string{"hilo", "mines"}, conf.Games)

	byName := map[string]int{}
	for i, c := range conf.Currencies {
		byName[c.Name] = i
	}
	require.Len(t, conf.Currencies, 3)

	btc := conf.Currencies[byName["BTC"]]
	assert.True(t, btc.USDPrice.Equal(decimal.RequireFromString("65000.5")))
	assert.True(t, btc.PriceSet)
	assert.Equal(t, 8, btc.Precision)
	assert.True(t, btc.MaxAmount.Equal(decimal.NewFromInt(1)))

	usdt := conf.Currencies[byName["USDT"]]
	assert.True(t, usdt.UnitAmount.Equal(decimal.NewFromInt(1000000)))
	assert.Empty(t, usdt.Image)
}

func TestParse_YamlErrors(t *testing.T) {
	cases := map[string]string{
		"missing server":   "user_id: x\n",
		"bad price":        "server_url: http://x\ncurrencies:\n  - name: BTC\n    usd_price: abc\n",
		"nameless preset":  "server_url: http://x\ncurrencies:\n  - usd_price: \"1\"\n",
		"min above max":    "server_url: http://x\ncurrencies:\n  - name: BTC\n    min_amount: \"5\"\n    max_amount: \"1\"\n",
		"negative retries": "server_url: http://x\ncommand_retries: -1\n",
		"three displays":   "server_url: http://x\ndisplay_currencies: [A, B, C]\n",
		"bad duration":     "server_url: http://x\nresync_interval: often\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parse(t, "--config", writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := parse(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParse_Flags(t *testing.T) {
	conf, err := parse(t,
		"--server", "http://localhost:3000",
		"--user", "7",
		"--games", "hilo, mines,,",
		"--resyncinterval", "2m",
		"--loglevel", "debug",
	)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", conf.ServerURL)
	assert.Equal(t, "7", conf.UserID)
	assert.Equal(t, []string{"hilo", "mines"}, conf.Games)
	assert.Equal(t, 2*time.Minute, conf.ResyncInterval)
	assert.Equal(t, "debug", conf.LogLevel)
	assert.Equal(t, 20*time.Second, conf.DeductionTimeout)

	_, err = parse(t)
	assert.Error(t, err)
}
