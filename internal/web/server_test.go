package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/azebets/walletsync/internal/domain"
	"github.com/azebets/walletsync/internal/wallet"
)

type fakeJournal struct {
	mu      sync.Mutex
	records []domain.WalletEventRecord
}

func (f *fakeJournal) add(e domain.WalletEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, domain.WalletEventRecord{Index: uint64(len(f.records) + 1), Event: e})
}

func (f *fakeJournal) EventsAfter(index uint64) ([]domain.WalletEventRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.WalletEventRecord
	for _, r := range f.records {
		if r.Index > index {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T, journal journalReader) (*httptest.Server, *wallet.Manager) {
	t.Helper()
	w := wallet.New(wallet.DefaultConfig())
	require.NoError(t, w.ConfirmBalance("USDT", decimal.NewFromInt(50)))
	require.True(t, w.AddCurrency(domain.CurrencyConfig{Name: "Fun"}))
	s := NewServer(":0", w, journal, zap.NewNop())
	s.pollInterval = 10 * time.Millisecond
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return srv, w
}

func TestServer_Wallet(t *testing.T) {
	srv, w := newTestServer(t, &fakeJournal{})
	_, err := w.Deduct(decimal.NewFromInt(20))
	require.NoError(t, err)

	res, err := http.Get(srv.URL + "/wallet")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var view WalletView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&view))
	require.NotEmpty(t, view.Currencies)
	assert.Equal(t, "USDT", view.Current.CurrencyName)
	assert.Equal(t, "USD", view.PreferredFiat)
	assert.Len(t, view.Deductions, 1)

	var usdt domain.CurrencyView
	for _, c := range view.Currencies {
		if c.Name == "USDT" {
			usdt = c
		}
	}
	assert.True(t, usdt.Available.Equal(decimal.NewFromInt(30)))
}

func TestServer_SelectAndHide(t *testing.T) {
	srv, w := newTestServer(t, &fakeJournal{})

	res, err := http.Post(srv.URL+"/wallet/current", "application/json", strings.NewReader(`{"currencyName":"Fun"}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Fun", w.Current().CurrencyName)

	res, err = http.Post(srv.URL+"/wallet/current", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, err = http.Post(srv.URL+"/wallet/hide", "application/json", strings.NewReader(`{"hide":true}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.True(t, w.HideAmount())
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, &fakeJournal{})
	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestServer_StreamReplaysAndFollows(t *testing.T) {
	journal := &fakeJournal{}
	journal.add(domain.NewBalanceEvent(time.Now(), "USDT", decimal.NewFromInt(1), decimal.NewFromInt(1)))
	journal.add(domain.NewBalanceEvent(time.Now(), "USDT", decimal.NewFromInt(2), decimal.NewFromInt(2)))
	srv, _ := newTestServer(t, journal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/wallet/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(res.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	nextID := func() string {
		for {
			select {
			case l, ok := <-lines:
				if !ok {
					return ""
				}
				if strings.HasPrefix(l, "id: ") {
					return strings.TrimPrefix(l, "id: ")
				}
			case <-time.After(2 * time.Second):
				return ""
			}
		}
	}

	assert.Equal(t, "2", nextID())

	journal.add(domain.NewBalanceEvent(time.Now(), "Fun", decimal.NewFromInt(3), decimal.NewFromInt(3)))
	assert.Equal(t, "3", nextID())
}

func TestServer_StreamRejectsBadResumeIndex(t *testing.T) {
	srv, _ := newTestServer(t, &fakeJournal{})
	res, err := http.Get(srv.URL + "/wallet/stream?after=abc")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestServer_StreamWithoutJournal(t *testing.T) {
	w := wallet.New(wallet.DefaultConfig())
	s := NewServer(":0", w, nil, nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wallet/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
